// Package noop provides the stub language: every init succeeds without
// loading anything and every run answers OK without calling anything.
package noop

import (
	"context"

	"github.com/caffeineduck/actionproxy/executor"
)

type Noop struct{}

func New() *Noop {
	return &Noop{}
}

func (n *Noop) Name() string {
	return "noop"
}

func (n *Noop) EntryPoint() string {
	return "main"
}

// Stub marks the language for sessions, which then skip compile and call.
func (n *Noop) Stub() bool {
	return true
}

// Compile accepts any source.
func (n *Noop) Compile(ctx context.Context, filename, source string) (executor.Program, error) {
	return program{}, nil
}

type program struct{}

func (program) Exec(ctx context.Context, env executor.Env) (executor.Unit, error) {
	return unit{}, nil
}

type unit struct{}

func (unit) Call(ctx context.Context, entry string, arg any) (any, error) {
	return executor.Void, nil
}

func (unit) Names() []string { return nil }

func (unit) Close(ctx context.Context) error { return nil }
