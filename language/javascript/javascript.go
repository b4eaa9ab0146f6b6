// Package javascript provides the JavaScript language adapter, backed by
// the QuickJS engine.
package javascript

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"modernc.org/quickjs"

	"github.com/caffeineduck/actionproxy/executor"
)

// console collects output into a hidden global that the host drains after
// every evaluation.
const prelude = `
Object.defineProperty(globalThis, "__stdout", {value: [], enumerable: false});
(function () {
  var fmt = function (v) {
    if (typeof v === "string") return v;
    try { var s = JSON.stringify(v); return s === undefined ? String(v) : s; } catch (e) { return String(v); }
  };
  var write = function () { globalThis.__stdout.push(Array.prototype.map.call(arguments, fmt).join(" ")); };
  globalThis.console = {log: write, info: write, warn: write, error: write, debug: write};
})();
`

const drain = `(function () {
  var lines = globalThis.__stdout.splice(0);
  return lines.length ? lines.join("\n") + "\n" : "";
})()`

// missingEntry is returned by the call wrapper when the entry point is not
// a function.
const missingEntry = "\x00missing-entry"

// JavaScript implements executor.Language for JavaScript.
type JavaScript struct{}

// New returns a JavaScript language adapter.
func New() *JavaScript {
	return &JavaScript{}
}

// Name returns "javascript".
func (j *JavaScript) Name() string {
	return "javascript"
}

// EntryPoint returns "main".
func (j *JavaScript) EntryPoint() string {
	return "main"
}

// Compile checks the syntax of source in a throwaway VM without running it.
func (j *JavaScript) Compile(ctx context.Context, filename, source string) (executor.Program, error) {
	vm, err := quickjs.NewVM()
	if err != nil {
		return nil, fmt.Errorf("create vm: %w", err)
	}
	defer vm.Close()

	if _, err := vm.Eval("void new Function("+quote(source)+");", quickjs.EvalGlobal); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return &program{source: source}, nil
}

type program struct {
	source string
}

// Exec evaluates the source as a global script in a fresh VM.
func (p *program) Exec(ctx context.Context, env executor.Env) (executor.Unit, error) {
	vm, err := quickjs.NewVM()
	if err != nil {
		return nil, fmt.Errorf("create vm: %w", err)
	}

	u := &unit{vm: vm, stdout: env.Stdout}
	if _, err := vm.Eval(prelude, quickjs.EvalGlobal); err != nil {
		vm.Close()
		return nil, fmt.Errorf("install console: %w", err)
	}

	err = u.eval(ctx, p.source)
	u.flush()
	if err != nil {
		vm.Close()
		return nil, err
	}
	return u, nil
}

type unit struct {
	vm     *quickjs.VM
	stdout io.Writer
}

func (u *unit) eval(ctx context.Context, src string) error {
	_, err := u.evalValue(ctx, src)
	return err
}

func (u *unit) evalValue(ctx context.Context, src string) (any, error) {
	stop := context.AfterFunc(ctx, u.vm.Interrupt)
	defer stop()
	return u.vm.Eval(src, quickjs.EvalGlobal)
}

// flush copies console output collected so far to stdout.
func (u *unit) flush() {
	out, err := u.vm.Eval(drain, quickjs.EvalGlobal)
	if err != nil || u.stdout == nil {
		return
	}
	if s, ok := out.(string); ok && s != "" {
		io.WriteString(u.stdout, s)
	}
}

// Call binds arg to the global param and returns entry(param) as JSON.
func (u *unit) Call(ctx context.Context, entry string, arg any) (any, error) {
	encoded, err := json.Marshal(arg)
	if err != nil {
		return nil, executor.ArgumentError(err.Error())
	}

	bind := fmt.Sprintf(`Object.defineProperty(globalThis, "param", {value: JSON.parse(%s), writable: true, configurable: true, enumerable: false});`, quote(string(encoded)))
	if err := u.eval(ctx, bind); err != nil {
		return nil, executor.ArgumentError(err.Error())
	}

	call := fmt.Sprintf(`(function () {
  if (typeof %[1]s !== "function") return %[2]s;
  var r = %[1]s(globalThis.param);
  return JSON.stringify(r === undefined ? null : r);
})()`, entry, quote(missingEntry))

	out, err := u.evalValue(ctx, call)
	u.flush()
	if err != nil {
		return nil, err
	}

	s, ok := out.(string)
	if !ok {
		return nil, executor.ResultError(fmt.Sprintf("%s returned a value with no JSON form", entry))
	}
	if s == missingEntry {
		return nil, executor.EntryPointError(entry, "not a function")
	}

	var value any
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	if err := dec.Decode(&value); err != nil {
		return nil, executor.ResultError(err.Error())
	}
	return value, nil
}

// Names lists enumerable globals, which covers var and function
// declarations.
func (u *unit) Names() []string {
	out, err := u.vm.Eval(`JSON.stringify(Object.keys(globalThis))`, quickjs.EvalGlobal)
	if err != nil {
		return nil
	}
	s, _ := out.(string)
	var names []string
	if err := json.Unmarshal([]byte(s), &names); err != nil {
		return nil
	}
	return names
}

func (u *unit) Close(ctx context.Context) error {
	return u.vm.Close()
}

// quote renders s as a JavaScript string literal.
func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
