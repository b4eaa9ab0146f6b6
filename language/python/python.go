// Package python provides the Python language adapter, backed by the
// gpython interpreter.
//
// Code runs as Python 3: exceptions, try, classes and imports of the
// interpreter's bundled modules behave as usual. Each loaded unit gets its
// own interpreter context, so units never share module state.
//
// The interpreter cannot be interrupted. When a phase deadline passes the
// caller gets a timeout right away, the running code keeps its goroutine
// until it returns, and the unit refuses further calls.
package python

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-python/gpython/py"
	_ "github.com/go-python/gpython/stdlib"

	"github.com/caffeineduck/actionproxy/executor"
	"github.com/caffeineduck/actionproxy/hostfunc"
)

const (
	// paramName is bound to the run's argument before every call.
	paramName = "param"

	// hostCallName reaches host functions registered under names that are
	// not builtins, such as application-specific ones.
	hostCallName = "host_call"
)

var errAbandoned = errors.New("a previous call is still running")

// Python implements executor.Language for Python 3 source.
type Python struct{}

// New returns a Python language adapter.
func New() *Python {
	return &Python{}
}

// Name returns "python".
func (p *Python) Name() string {
	return "python"
}

// EntryPoint returns "main".
func (p *Python) EntryPoint() string {
	return "main"
}

// Compile compiles source to a code object. Nothing runs until Exec, so
// names that are never defined only fail when they are used.
func (p *Python) Compile(ctx context.Context, filename, source string) (executor.Program, error) {
	if !strings.HasSuffix(source, "\n") {
		source += "\n"
	}
	code, err := py.Compile(source, filename, py.ExecMode, 0, true)
	if err != nil {
		return nil, err
	}
	return &program{code: code}, nil
}

type program struct {
	code *py.Code
}

// Exec runs the module body in a fresh interpreter context.
func (p *program) Exec(ctx context.Context, env executor.Env) (executor.Unit, error) {
	u := &unit{
		pyctx:  py.NewContext(py.DefaultContextOpts()),
		stdout: env.Stdout,
	}
	u.setContext(ctx)
	u.globals = u.predeclared(env.Registry)

	_, err := u.guard(ctx, func() (py.Object, error) {
		return u.pyctx.RunCode(p.code, u.globals, u.globals, nil)
	})
	if err != nil {
		u.Close(ctx)
		return nil, err
	}
	return u, nil
}

type ctxBox struct {
	ctx context.Context
}

type unit struct {
	pyctx   py.Context
	globals py.StringDict
	stdout  io.Writer

	// builtin names, hidden from Names
	builtins map[string]bool

	// callCtx is the context of the phase in progress, read by host
	// functions.
	callCtx atomic.Pointer[ctxBox]

	mu        sync.Mutex
	abandoned bool
}

func (u *unit) setContext(ctx context.Context) {
	u.callCtx.Store(&ctxBox{ctx: ctx})
}

func (u *unit) context() context.Context {
	if box := u.callCtx.Load(); box != nil && box.ctx != nil {
		return box.ctx
	}
	return context.Background()
}

// predeclared builds the module globals: print writing to the phase
// output, host functions, and param.
func (u *unit) predeclared(registry *hostfunc.Registry) py.StringDict {
	globals := py.StringDict{}
	globals["__name__"] = py.String("__main__")
	globals[paramName] = py.None
	globals["print"] = py.MustNewMethod("print", u.print, 0, "print(*values, sep=' ', end='\\n')")

	for _, name := range hostfunc.Builtins {
		globals[name] = u.builtin(name, name, registry)
	}
	globals[hostCallName] = py.MustNewMethod(hostCallName, func(self py.Object, args py.Tuple, kwargs py.StringDict) (py.Object, error) {
		if len(args) != 1 {
			return nil, py.ExceptionNewf(py.TypeError, "%s() takes exactly one positional argument", hostCallName)
		}
		name, ok := args[0].(py.String)
		if !ok {
			return nil, py.ExceptionNewf(py.TypeError, "%s() name must be a str", hostCallName)
		}
		fn := u.builtin(string(name), string(name), registry)
		return py.Call(fn, nil, kwargs)
	}, 0, "host_call(name, **kwargs)")

	u.builtins = make(map[string]bool, len(globals))
	for name := range globals {
		u.builtins[name] = true
	}
	return globals
}

func (u *unit) print(self py.Object, args py.Tuple, kwargs py.StringDict) (py.Object, error) {
	sep, end := " ", "\n"
	for key, v := range kwargs {
		s, isStr := v.(py.String)
		switch {
		case key == "sep" && isStr:
			sep = string(s)
		case key == "end" && isStr:
			end = string(s)
		case key == "sep" || key == "end":
			if v != py.None {
				return nil, py.ExceptionNewf(py.TypeError, "%s must be None or a string", key)
			}
		case key == "file" || key == "flush":
		default:
			return nil, py.ExceptionNewf(py.TypeError, "'%s' is an invalid keyword argument for print()", key)
		}
	}

	parts := make([]string, len(args))
	for i, arg := range args {
		s, err := py.Str(arg)
		if err != nil {
			return nil, err
		}
		parts[i] = string(s.(py.String))
	}
	if u.stdout != nil {
		io.WriteString(u.stdout, strings.Join(parts, sep)+end)
	}
	return py.None, nil
}

// builtin exposes a host function. Arguments are keyword-only; a function
// absent from the registry fails when called.
func (u *unit) builtin(pyName, name string, registry *hostfunc.Registry) *py.Method {
	return py.MustNewMethod(pyName, func(self py.Object, args py.Tuple, kwargs py.StringDict) (py.Object, error) {
		if len(args) > 0 {
			return nil, py.ExceptionNewf(py.TypeError, "%s: only keyword arguments are accepted", name)
		}

		var fn hostfunc.Func
		if registry != nil {
			fn, _ = registry.Get(name)
		}
		if fn == nil {
			return nil, py.ExceptionNewf(py.RuntimeError, "%s: not enabled", name)
		}

		callArgs := make(map[string]any, len(kwargs))
		for key, v := range kwargs {
			gv, err := FromValue(v)
			if err != nil {
				return nil, py.ExceptionNewf(py.TypeError, "%s: %s: %v", name, key, err)
			}
			callArgs[key] = gv
		}

		result, err := fn(u.context(), callArgs)
		if err != nil {
			return nil, py.ExceptionNewf(py.RuntimeError, "%s: %v", name, err)
		}
		return ToValue(result)
	}, 0, "")
}

type callResult struct {
	out py.Object
	err error
}

// guard runs fn on its own goroutine so that a deadline can end the wait.
func (u *unit) guard(ctx context.Context, fn func() (py.Object, error)) (py.Object, error) {
	u.mu.Lock()
	abandoned := u.abandoned
	u.mu.Unlock()
	if abandoned {
		return nil, errAbandoned
	}

	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callResult{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		out, err := fn()
		done <- callResult{out: out, err: err}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-ctx.Done():
		u.mu.Lock()
		u.abandoned = true
		u.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Call binds the argument to param and invokes entry(param).
func (u *unit) Call(ctx context.Context, entry string, arg any) (any, error) {
	v, ok := u.globals[entry]
	if !ok {
		return nil, executor.EntryPointError(entry, "not defined")
	}
	switch fn := v.(type) {
	case *py.Function:
		if fn.Code.Argcount == 0 && fn.Code.Flags&py.CO_VARARGS == 0 {
			return nil, executor.ArgumentError(entry + " takes no parameters")
		}
	case py.NoneType, py.Bool, py.Int, *py.BigInt, py.Float, py.String, *py.List, py.Tuple, py.StringDict:
		return nil, executor.EntryPointError(entry, "not callable: "+v.Type().Name)
	}

	param, err := ToValue(arg)
	if err != nil {
		return nil, executor.ArgumentError(err.Error())
	}
	u.globals[paramName] = param
	u.setContext(ctx)

	result, err := u.guard(ctx, func() (py.Object, error) {
		return py.Call(v, py.Tuple{param}, nil)
	})
	if err != nil {
		return nil, err
	}

	out, err := FromValue(result)
	if err != nil {
		return nil, executor.ResultError(err.Error())
	}
	return out, nil
}

// Names returns the sorted names the loaded code defined.
func (u *unit) Names() []string {
	names := make([]string, 0, len(u.globals))
	for name := range u.globals {
		if u.builtins[name] || strings.HasPrefix(name, "__") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases the interpreter context unless a call still runs in it.
func (u *unit) Close(ctx context.Context) error {
	u.mu.Lock()
	abandoned := u.abandoned
	u.mu.Unlock()
	if abandoned {
		return nil
	}
	return u.pyctx.Close()
}
