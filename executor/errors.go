package executor

import (
	"context"
	"errors"
	"strings"
)

// Phase identifies which half of the init/run protocol produced an error.
type Phase string

const (
	PhaseCompile Phase = "compile" // source to loaded unit (init)
	PhaseInvoke  Phase = "invoke"  // entry point call (run)
)

// Kind categorizes an error within its phase.
type Kind string

const (
	KindSyntax         Kind = "syntax"
	KindExec           Kind = "exec"
	KindNotInitialized Kind = "not_initialized"
	KindEntryPoint     Kind = "entry_point"
	KindArguments      Kind = "arguments"
	KindRaised         Kind = "raised"
	KindResult         Kind = "result"
	KindTimeout        Kind = "timeout"
	KindClosed         Kind = "closed"
)

// Error is the typed failure returned by Session.Init and Session.Run.
// Callers on the wire only ever see a boolean; the phase and kind are kept
// for logs, metrics and the optional diagnostics field.
type Error struct {
	Phase  Phase
	Kind   Kind
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on phase, and on kind when the target names one.
// errors.Is(err, ErrCompile) is true for every compile-phase error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Phase != t.Phase {
		return false
	}
	return t.Kind == "" || e.Kind == t.Kind
}

var (
	// ErrCompile matches any error from the init phase.
	ErrCompile = &Error{Phase: PhaseCompile}
	// ErrInvoke matches any error from the run phase.
	ErrInvoke = &Error{Phase: PhaseInvoke}

	ErrNotInitialized = &Error{Phase: PhaseInvoke, Kind: KindNotInitialized, Detail: "no code loaded"}
	ErrSessionClosed  = &Error{Phase: PhaseInvoke, Kind: KindClosed, Detail: "session closed"}
)

// CompileError wraps err as an init-phase failure of the given kind.
// An err that is already an *Error is returned unchanged.
func CompileError(kind Kind, err error) error {
	return wrap(PhaseCompile, kind, err)
}

// InvokeError wraps err as a run-phase failure of the given kind.
func InvokeError(kind Kind, err error) error {
	return wrap(PhaseInvoke, kind, err)
}

// EntryPointError reports a missing or unusable entry point.
func EntryPointError(name, detail string) error {
	return &Error{Phase: PhaseInvoke, Kind: KindEntryPoint, Detail: name + ": " + detail}
}

// ArgumentError reports arguments that cannot be bound to the entry point.
func ArgumentError(detail string) error {
	return &Error{Phase: PhaseInvoke, Kind: KindArguments, Detail: detail}
}

// ResultError reports a return value that has no JSON representation.
func ResultError(detail string) error {
	return &Error{Phase: PhaseInvoke, Kind: KindResult, Detail: detail}
}

func wrap(phase Phase, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		kind = KindTimeout
	}
	return &Error{Phase: phase, Kind: kind, Cause: err}
}

// KindOf returns the kind of a typed error, or "" for anything else.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return ""
}
