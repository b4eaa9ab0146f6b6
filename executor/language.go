package executor

import (
	"context"
	"io"

	"github.com/caffeineduck/actionproxy/hostfunc"
)

// Language turns source text into a Program.
// Implement this interface to add support for new languages (Python, JavaScript, etc.)
type Language interface {
	// Name returns a unique identifier for this language (e.g., "python", "javascript").
	// Used as part of the compile cache key.
	Name() string

	// EntryPoint returns the fixed name of the callable that Run invokes.
	EntryPoint() string

	// Compile parses and checks source without running any of it.
	// Errors are reported as compile-phase failures.
	Compile(ctx context.Context, filename, source string) (Program, error)
}

// Program is a compiled, not yet executed, unit of code. A Program may be
// executed any number of times; each Exec yields an independent Unit.
type Program interface {
	// Exec runs the top-level statements of the program in a fresh
	// namespace and returns that namespace.
	Exec(ctx context.Context, env Env) (Unit, error)
}

// Unit is an executed program together with its namespace. It is the
// session's live state between init and run.
type Unit interface {
	// Call binds arg and invokes the named callable from the namespace.
	Call(ctx context.Context, entry string, arg any) (any, error)

	// Names lists the symbols currently bound in the namespace.
	Names() []string

	Close(ctx context.Context) error
}

// Env is what a Program sees of the host while it runs.
type Env struct {
	Registry *hostfunc.Registry
	Stdout   io.Writer
}

// Stub is implemented by languages that accept every init and answer every
// run without loading or calling anything.
type Stub interface {
	Stub() bool
}

// closer is implemented by languages and programs holding engine resources.
type closer interface {
	Close(ctx context.Context) error
}

type void struct{}

func (void) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// Void is the value of a run that produced no result at all, as opposed to
// an entry point that returned null. Stub sessions return it.
var Void any = void{}
