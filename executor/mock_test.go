package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
)

// mockLanguage implements Language for testing session logic without the
// overhead of a real interpreter. Source is one directive per line:
//
//	syntax        compile fails
//	fail          exec fails
//	panic         exec panics
//	block         exec waits for the context
//	print <text>  exec writes text to stdout
//	main <mode>   binds main; mode is echo, double, raise, panic, block or print
type mockLanguage struct {
	compiles atomic.Int64
	closed   atomic.Int64
}

func newMockLanguage() *mockLanguage {
	return &mockLanguage{}
}

func (m *mockLanguage) Name() string       { return "mock" }
func (m *mockLanguage) EntryPoint() string { return "main" }

func (m *mockLanguage) Compile(ctx context.Context, filename, source string) (Program, error) {
	m.compiles.Add(1)
	var lines []string
	for _, line := range strings.Split(source, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "syntax" {
			return nil, fmt.Errorf("%s:1: unexpected token", filename)
		}
		lines = append(lines, line)
	}
	return &mockProgram{lang: m, lines: lines}, nil
}

type mockProgram struct {
	lang  *mockLanguage
	lines []string
}

func (p *mockProgram) Exec(ctx context.Context, env Env) (Unit, error) {
	u := &mockUnit{lang: p.lang, env: env}
	for _, line := range p.lines {
		directive, rest, _ := strings.Cut(line, " ")
		switch directive {
		case "fail":
			return nil, errors.New("name 'x' is not defined")
		case "panic":
			panic("exec blew up")
		case "block":
			<-ctx.Done()
			return nil, ctx.Err()
		case "print":
			fmt.Fprintln(env.Stdout, rest)
		case "main":
			u.main = rest
		}
	}
	return u, nil
}

func (p *mockProgram) Close(ctx context.Context) error {
	p.lang.closed.Add(1)
	return nil
}

type mockUnit struct {
	lang  *mockLanguage
	env   Env
	main  string
	calls int
}

func (u *mockUnit) Call(ctx context.Context, entry string, arg any) (any, error) {
	if u.main == "" {
		return nil, EntryPointError(entry, "not defined")
	}
	u.calls++
	switch u.main {
	case "double":
		n, ok := arg.(int)
		if !ok {
			return nil, ArgumentError(fmt.Sprintf("expected int, got %T", arg))
		}
		return n * 2, nil
	case "raise":
		return nil, errors.New("boom")
	case "panic":
		panic("call blew up")
	case "block":
		<-ctx.Done()
		return nil, ctx.Err()
	case "print":
		fmt.Fprintf(u.env.Stdout, "call %d\n", u.calls)
		return u.calls, nil
	case "counter":
		return u.calls, nil
	default:
		return arg, nil
	}
}

func (u *mockUnit) Names() []string {
	if u.main == "" {
		return nil
	}
	return []string{"main"}
}

func (u *mockUnit) Close(ctx context.Context) error { return nil }

type stubLanguage struct{ mockLanguage }

func (s *stubLanguage) Stub() bool { return true }
