// Package actionproxy is an action runtime proxy: it accepts one unit of
// code over HTTP, loads it, and invokes its entry point on request.
//
// # Protocol
//
//	GET  /      liveness, answers "Hello World!"
//	POST /init  {"value":{"code":"..."}}  ->  {"OK":true}
//	POST /run   {"value":{"args":...}}    ->  {"OK":true,"result":...}
//
// Every response carries status 200; failures answer {"OK":false}.
//
// # Layout
//
// The [executor] package implements the init/run state machine, [hostfunc]
// the capabilities loaded code may call, and the language packages the
// engines (gpython for python, Starlark, QuickJS for javascript, yaegi for
// go and wazero for wat). The HTTP surface lives in internal/proxy and the CLI in
// cmd/actionproxy.
package actionproxy
