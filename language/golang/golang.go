// Package golang provides the Go language adapter, backed by the yaegi
// interpreter.
//
// Loaded code defines a Main function. Because Go reserves main in package
// main, the entry point is the exported name. Source without a package
// clause is treated as package main.
package golang

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"reflect"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/caffeineduck/actionproxy/executor"
	"github.com/caffeineduck/actionproxy/hostfunc"
)

// HostImportPath is the import path of the package giving loaded code
// access to host functions:
//
//	import "actionproxy/host"
//
//	v, err := host.Call("kv_get", map[string]any{"key": "a"})
const HostImportPath = "actionproxy/host"

var errAbandoned = errors.New("a previous call is still running")

// Go implements executor.Language for Go source.
type Go struct{}

// New returns a Go language adapter.
func New() *Go {
	return &Go{}
}

// Name returns "go".
func (g *Go) Name() string {
	return "go"
}

// EntryPoint returns "Main".
func (g *Go) EntryPoint() string {
	return "Main"
}

// Compile parses source. Type errors surface at Exec.
func (g *Go) Compile(ctx context.Context, filename, source string) (executor.Program, error) {
	fset := token.NewFileSet()

	if _, err := parser.ParseFile(fset, filename, source, parser.PackageClauseOnly); err != nil {
		source = "package main\n\n" + source
	}

	file, err := parser.ParseFile(fset, filename, source, parser.AllErrors)
	if err != nil {
		return nil, err
	}

	return &program{
		source: source,
		pkg:    file.Name.Name,
		names:  declaredNames(file),
	}, nil
}

func declaredNames(file *ast.File) []string {
	var names []string
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			if d.Recv == nil {
				names = append(names, d.Name.Name)
			}
		case *ast.GenDecl:
			for _, spec := range d.Specs {
				switch s := spec.(type) {
				case *ast.ValueSpec:
					for _, n := range s.Names {
						if n.Name != "_" {
							names = append(names, n.Name)
						}
					}
				case *ast.TypeSpec:
					names = append(names, s.Name.Name)
				}
			}
		}
	}
	sort.Strings(names)
	return names
}

type program struct {
	source string
	pkg    string
	names  []string
}

// Exec evaluates the source in a fresh interpreter.
func (p *program) Exec(ctx context.Context, env executor.Env) (executor.Unit, error) {
	u := &unit{pkg: p.pkg, names: p.names}
	u.setContext(ctx)

	i := interp.New(interp.Options{
		Stdout: env.Stdout,
		Stderr: env.Stdout,
	})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("load stdlib symbols: %w", err)
	}
	if err := i.Use(hostExports(env.Registry, u.context)); err != nil {
		return nil, fmt.Errorf("load host symbols: %w", err)
	}

	if _, err := i.EvalWithContext(ctx, p.source); err != nil {
		return nil, err
	}

	u.interp = i
	return u, nil
}

// hostExports builds the host package. Calls run under the context of the
// phase in progress.
func hostExports(registry *hostfunc.Registry, phase func() context.Context) interp.Exports {
	call := func(name string, args map[string]any) (any, error) {
		if registry == nil {
			return nil, fmt.Errorf("%s: not enabled", name)
		}
		return registry.Call(phase(), name, args)
	}
	return interp.Exports{
		HostImportPath + "/host": {
			"Call": reflect.ValueOf(call),
		},
	}
}

type ctxBox struct {
	ctx context.Context
}

type unit struct {
	interp *interp.Interpreter
	pkg    string
	names  []string

	callCtx atomic.Pointer[ctxBox]

	mu        sync.Mutex
	abandoned bool
}

func (u *unit) setContext(ctx context.Context) {
	u.callCtx.Store(&ctxBox{ctx: ctx})
}

func (u *unit) context() context.Context {
	if box := u.callCtx.Load(); box != nil {
		return box.ctx
	}
	return context.Background()
}

type callResult struct {
	out []reflect.Value
	err error
}

// Call invokes the entry point. A call still running when ctx ends is
// abandoned; its goroutine is left to finish and the unit refuses further
// calls.
func (u *unit) Call(ctx context.Context, entry string, arg any) (any, error) {
	u.mu.Lock()
	abandoned := u.abandoned
	u.mu.Unlock()
	if abandoned {
		return nil, errAbandoned
	}

	ref := entry
	if u.pkg != "main" {
		ref = u.pkg + "." + entry
	}
	fn, err := u.interp.EvalWithContext(ctx, ref)
	if err != nil {
		return nil, executor.EntryPointError(entry, "not defined")
	}
	if fn.Kind() != reflect.Func {
		return nil, executor.EntryPointError(entry, "not a function")
	}

	in, err := bindArgs(fn.Type(), arg)
	if err != nil {
		return nil, executor.ArgumentError(entry + ": " + err.Error())
	}
	u.setContext(ctx)

	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callResult{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		done <- callResult{out: fn.Call(in)}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		return results(fn.Type(), r.out)
	case <-ctx.Done():
		u.mu.Lock()
		u.abandoned = true
		u.mu.Unlock()
		return nil, ctx.Err()
	}
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// bindArgs maps the JSON argument onto the function's parameters. A single
// parameter receives the whole value; several parameters take a JSON array
// of matching length.
func bindArgs(t reflect.Type, arg any) ([]reflect.Value, error) {
	if t.IsVariadic() {
		return nil, errors.New("variadic entry points are not supported")
	}

	switch t.NumIn() {
	case 0:
		return nil, errors.New("takes no parameters")
	case 1:
		v, err := convert(arg, t.In(0))
		if err != nil {
			return nil, err
		}
		return []reflect.Value{v}, nil
	default:
		list, ok := arg.([]any)
		if !ok || len(list) != t.NumIn() {
			return nil, fmt.Errorf("entry point takes %d parameters; pass a JSON array of that length", t.NumIn())
		}
		in := make([]reflect.Value, len(list))
		for i, a := range list {
			v, err := convert(a, t.In(i))
			if err != nil {
				return nil, fmt.Errorf("parameter %d: %w", i, err)
			}
			in[i] = v
		}
		return in, nil
	}
}

func convert(arg any, t reflect.Type) (reflect.Value, error) {
	if arg == nil {
		return reflect.Zero(t), nil
	}

	data, err := json.Marshal(arg)
	if err != nil {
		return reflect.Value{}, err
	}
	ptr := reflect.New(t)
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return reflect.Value{}, fmt.Errorf("cannot bind %s to %s", data, t)
	}
	return ptr.Elem(), nil
}

// results turns return values into a JSON-shaped value. A trailing error
// result that is non-nil fails the call.
func results(t reflect.Type, out []reflect.Value) (any, error) {
	if n := len(out); n > 0 && t.Out(n-1).Implements(errorType) {
		if errv := out[n-1]; !errv.IsNil() {
			return nil, errv.Interface().(error)
		}
		out = out[:n-1]
	}

	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return normalize(out[0])
	default:
		values := make([]any, len(out))
		for i, v := range out {
			nv, err := normalize(v)
			if err != nil {
				return nil, err
			}
			values[i] = nv
		}
		return values, nil
	}
}

func normalize(v reflect.Value) (any, error) {
	if !v.IsValid() || !v.CanInterface() {
		return nil, nil
	}
	data, err := json.Marshal(v.Interface())
	if err != nil {
		return nil, executor.ResultError(err.Error())
	}
	var out any
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, executor.ResultError(err.Error())
	}
	return out, nil
}

func (u *unit) Names() []string {
	return u.names
}

func (u *unit) Close(ctx context.Context) error {
	return nil
}
