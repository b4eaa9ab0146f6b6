// Package starlark provides the Starlark language adapter, a deterministic
// Python dialect. Host functions are exposed to it as builtins.
package starlark

import (
	"context"
	"fmt"
	"io"

	starjson "go.starlark.net/lib/json"
	starmath "go.starlark.net/lib/math"
	startime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/caffeineduck/actionproxy/executor"
	"github.com/caffeineduck/actionproxy/hostfunc"
)

const ctxKey = "actionproxy.ctx"

var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

var modules = starlark.StringDict{
	"json": starjson.Module,
	"math": starmath.Module,
	"time": startime.Module,
}

// Starlark implements executor.Language for Starlark.
type Starlark struct{}

// New returns a Starlark language adapter.
func New() *Starlark {
	return &Starlark{}
}

// Name returns "starlark".
func (s *Starlark) Name() string {
	return "starlark"
}

// EntryPoint returns "main".
func (s *Starlark) EntryPoint() string {
	return "main"
}

// Compile parses and resolves source. Nothing runs until Exec.
func (s *Starlark) Compile(ctx context.Context, filename, source string) (executor.Program, error) {
	_, prog, err := starlark.SourceProgramOptions(fileOptions, filename, source, isPredeclared)
	if err != nil {
		return nil, err
	}
	return &program{prog: prog}, nil
}

// hostCallName reaches host functions registered under names that are not
// predeclared, such as application-specific ones.
const hostCallName = "host_call"

// paramName is bound to the run's argument before every call.
const paramName = "param"

func isPredeclared(name string) bool {
	if _, ok := modules[name]; ok || name == hostCallName || name == paramName {
		return true
	}
	for _, b := range hostfunc.Builtins {
		if b == name {
			return true
		}
	}
	return false
}

type program struct {
	prog *starlark.Program
}

// Exec runs the top-level statements into a fresh set of globals.
func (p *program) Exec(ctx context.Context, env executor.Env) (executor.Unit, error) {
	predeclared := make(starlark.StringDict, len(modules)+len(hostfunc.Builtins)+2)
	predeclared[paramName] = starlark.None
	for name, mod := range modules {
		predeclared[name] = mod
	}
	for _, name := range hostfunc.Builtins {
		predeclared[name] = builtin(name, env.Registry)
	}
	predeclared[hostCallName] = starlark.NewBuiltin(hostCallName, func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		if err := starlark.UnpackPositionalArgs(b.Name(), args, nil, 1, &name); err != nil {
			return nil, err
		}
		return starlark.Call(thread, builtin(name, env.Registry), nil, kwargs)
	})

	u := &unit{predeclared: predeclared, stdout: env.Stdout}

	thread := u.thread(ctx, "init")
	stop := context.AfterFunc(ctx, func() { thread.Cancel(ctx.Err().Error()) })
	defer stop()

	globals, err := p.prog.Init(thread, predeclared)
	if err != nil {
		return nil, err
	}
	u.globals = globals
	return u, nil
}

type unit struct {
	predeclared starlark.StringDict
	globals     starlark.StringDict
	stdout      io.Writer
}

func (u *unit) thread(ctx context.Context, name string) *starlark.Thread {
	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			if u.stdout != nil {
				fmt.Fprintln(u.stdout, msg)
			}
		},
	}
	thread.SetLocal(ctxKey, ctx)
	return thread
}

// Call binds the argument to param and invokes entry(param).
func (u *unit) Call(ctx context.Context, entry string, arg any) (any, error) {
	v, ok := u.globals[entry]
	if !ok {
		return nil, executor.EntryPointError(entry, "not defined")
	}
	fn, ok := v.(starlark.Callable)
	if !ok {
		return nil, executor.EntryPointError(entry, "not callable: "+v.Type())
	}
	if f, ok := fn.(*starlark.Function); ok && f.NumParams() == 0 && !f.HasVarargs() {
		return nil, executor.ArgumentError(entry + " takes no parameters")
	}

	param, err := ToValue(arg)
	if err != nil {
		return nil, executor.ArgumentError(err.Error())
	}
	u.predeclared[paramName] = param

	thread := u.thread(ctx, "run")
	stop := context.AfterFunc(ctx, func() { thread.Cancel(ctx.Err().Error()) })
	defer stop()

	result, err := starlark.Call(thread, fn, starlark.Tuple{param}, nil)
	if err != nil {
		return nil, err
	}

	out, err := FromValue(result)
	if err != nil {
		return nil, executor.ResultError(err.Error())
	}
	return out, nil
}

// Names returns the sorted global names.
func (u *unit) Names() []string {
	return u.globals.Keys()
}

func (u *unit) Close(ctx context.Context) error {
	u.globals = nil
	u.predeclared = nil
	return nil
}

// builtin exposes a host function. Arguments are keyword-only; a function
// absent from the registry fails when called.
func builtin(name string, registry *hostfunc.Registry) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(args) > 0 {
			return nil, fmt.Errorf("%s: only keyword arguments are accepted", b.Name())
		}

		var fn hostfunc.Func
		if registry != nil {
			fn, _ = registry.Get(name)
		}
		if fn == nil {
			return nil, fmt.Errorf("%s: not enabled", b.Name())
		}

		callArgs := make(map[string]any, len(kwargs))
		for _, kv := range kwargs {
			key := string(kv[0].(starlark.String))
			v, err := FromValue(kv[1])
			if err != nil {
				return nil, fmt.Errorf("%s: %s: %w", b.Name(), key, err)
			}
			callArgs[key] = v
		}

		ctx, _ := thread.Local(ctxKey).(context.Context)
		if ctx == nil {
			ctx = context.Background()
		}

		result, err := fn(ctx, callArgs)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		return ToValue(result)
	})
}
