package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/caffeineduck/actionproxy/hostfunc"
)

func newTestSession(t *testing.T, lang Language, opts ...SessionOption) *Session {
	t.Helper()
	exec, err := New(hostfunc.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { exec.Close() })

	session, err := exec.NewSession(lang, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return session
}

func TestRunBeforeInit(t *testing.T) {
	session := newTestSession(t, newMockLanguage())

	result := session.Run(context.Background(), 1)
	require.ErrorIs(t, result.Error, ErrNotInitialized)
	require.ErrorIs(t, result.Error, ErrInvoke)
	require.False(t, result.OK())
	require.Equal(t, StateUninitialized, session.State())
}

func TestInitThenRun(t *testing.T) {
	session := newTestSession(t, newMockLanguage())
	ctx := context.Background()

	result := session.Init(ctx, "main double")
	require.True(t, result.OK())
	require.Equal(t, StateLoaded, session.State())

	result = session.Run(ctx, 21)
	require.NoError(t, result.Error)
	require.Equal(t, 42, result.Value)

	st := session.Status()
	require.Equal(t, "mock", st.Lang)
	require.Equal(t, "main", st.EntryPoint)
	require.Equal(t, InitExec, st.InitMode)
	require.Equal(t, []string{"main"}, st.Names)
	require.False(t, st.LoadedAt.IsZero())
	require.Equal(t, int64(1), st.Inits)
	require.Equal(t, int64(1), st.Runs)
}

func TestInitSyntaxError(t *testing.T) {
	session := newTestSession(t, newMockLanguage())

	result := session.Init(context.Background(), "syntax")
	require.ErrorIs(t, result.Error, ErrCompile)
	require.Equal(t, KindSyntax, KindOf(result.Error))
	require.Equal(t, StateUninitialized, session.State())
	require.True(t, session.Status().CompileFailed)
}

func TestFailedInitKeepsPreviousUnit(t *testing.T) {
	session := newTestSession(t, newMockLanguage())
	ctx := context.Background()

	require.True(t, session.Init(ctx, "main double").OK())

	result := session.Init(ctx, "fail")
	require.Equal(t, KindExec, KindOf(result.Error))
	require.True(t, session.Status().CompileFailed)

	result = session.Run(ctx, 2)
	require.NoError(t, result.Error)
	require.Equal(t, 4, result.Value)

	require.True(t, session.Init(ctx, "main echo").OK())
	require.False(t, session.Status().CompileFailed)
	require.Equal(t, "x", session.Run(ctx, "x").Value)
}

func TestPanicsBecomeErrors(t *testing.T) {
	session := newTestSession(t, newMockLanguage())
	ctx := context.Background()

	result := session.Init(ctx, "panic")
	require.Equal(t, KindExec, KindOf(result.Error))
	require.ErrorContains(t, result.Error, "exec blew up")

	require.True(t, session.Init(ctx, "main panic").OK())
	result = session.Run(ctx, nil)
	require.Equal(t, KindRaised, KindOf(result.Error))
	require.ErrorContains(t, result.Error, "call blew up")
}

func TestRunErrors(t *testing.T) {
	session := newTestSession(t, newMockLanguage())
	ctx := context.Background()

	require.True(t, session.Init(ctx, "print nothing to call").OK())
	result := session.Run(ctx, nil)
	require.Equal(t, KindEntryPoint, KindOf(result.Error))

	require.True(t, session.Init(ctx, "main raise").OK())
	result = session.Run(ctx, nil)
	require.Equal(t, KindRaised, KindOf(result.Error))
	require.Nil(t, result.Value)

	require.True(t, session.Init(ctx, "main double").OK())
	result = session.Run(ctx, "two")
	require.Equal(t, KindArguments, KindOf(result.Error))
}

func TestOutputIsPerPhase(t *testing.T) {
	session := newTestSession(t, newMockLanguage())
	ctx := context.Background()

	result := session.Init(ctx, "print hello\nmain print")
	require.NoError(t, result.Error)
	require.Equal(t, "hello\n", result.Output)

	require.Equal(t, "call 1\n", session.Run(ctx, nil).Output)
	require.Equal(t, "call 2\n", session.Run(ctx, nil).Output)
}

func TestTimeout(t *testing.T) {
	session := newTestSession(t, newMockLanguage(), WithSessionTimeout(50*time.Millisecond))
	ctx := context.Background()

	result := session.Init(ctx, "block")
	require.ErrorIs(t, result.Error, ErrCompile)
	require.Equal(t, KindTimeout, KindOf(result.Error))

	require.True(t, session.Init(ctx, "main block").OK())
	result = session.Run(ctx, nil)
	require.ErrorIs(t, result.Error, ErrInvoke)
	require.Equal(t, KindTimeout, KindOf(result.Error))
}

func TestCompileMode(t *testing.T) {
	lang := newMockLanguage()
	session := newTestSession(t, lang, WithInitMode(InitCompile))
	ctx := context.Background()

	require.True(t, session.Init(ctx, "main counter").OK())
	require.Equal(t, StateLoaded, session.State())
	require.Empty(t, session.Status().Names)

	for i := 0; i < 3; i++ {
		result := session.Run(ctx, nil)
		require.NoError(t, result.Error)
		require.Equal(t, 1, result.Value)
	}

	// exec errors surface on run
	require.True(t, session.Init(ctx, "fail").OK())
	require.Equal(t, int64(1), lang.closed.Load())

	result := session.Run(ctx, nil)
	require.ErrorIs(t, result.Error, ErrInvoke)
	require.Equal(t, KindExec, KindOf(result.Error))

	require.NoError(t, session.Close())
	require.Equal(t, int64(2), lang.closed.Load())
}

func TestClosedSession(t *testing.T) {
	session := newTestSession(t, newMockLanguage())
	ctx := context.Background()

	require.True(t, session.Init(ctx, "main echo").OK())
	require.NoError(t, session.Close())
	require.NoError(t, session.Close())

	result := session.Run(ctx, 1)
	require.ErrorIs(t, result.Error, ErrSessionClosed)

	result = session.Init(ctx, "main echo")
	require.ErrorIs(t, result.Error, ErrCompile)
	require.Equal(t, KindClosed, KindOf(result.Error))
	require.Equal(t, StateUninitialized, session.State())
}

func TestStubSession(t *testing.T) {
	session := newTestSession(t, &stubLanguage{})
	ctx := context.Background()

	result := session.Run(ctx, 1)
	require.NoError(t, result.Error)
	require.Equal(t, Void, result.Value)

	require.True(t, session.Init(ctx, "syntax").OK())
	require.Equal(t, StateUninitialized, session.State())
	require.False(t, session.Status().CompileFailed)
}

func TestSessionHostFunctions(t *testing.T) {
	base := hostfunc.NewRegistry()
	base.Register("greet", func(ctx context.Context, args map[string]any) (any, error) {
		return "hi", nil
	})
	exec, err := New(base)
	require.NoError(t, err)
	defer exec.Close()

	plain, err := exec.NewSession(newMockLanguage())
	require.NoError(t, err)
	require.Equal(t, []string{"greet", "time_now"}, plain.registry.List())

	full, err := exec.NewSession(newMockLanguage(),
		WithSessionKV(hostfunc.WithMaxEntries(2)),
		WithSessionAllowedHosts([]string{"example.com"}),
		WithSessionMount("/data", t.TempDir(), MountReadOnly),
	)
	require.NoError(t, err)

	names := full.registry.List()
	for _, name := range hostfunc.Builtins {
		require.Contains(t, names, name)
	}
	require.Contains(t, names, "greet")

	// sessions never register into the executor's registry
	require.Equal(t, []string{"greet"}, base.List())
}

func TestSessionSerialisesCalls(t *testing.T) {
	session := newTestSession(t, newMockLanguage())
	ctx := context.Background()
	require.True(t, session.Init(ctx, "main counter").OK())

	const n = 50
	var wg sync.WaitGroup
	seen := make(chan any, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- session.Run(ctx, nil).Value
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[any]bool)
	for v := range seen {
		unique[v] = true
	}
	require.Len(t, unique, n)
	require.Equal(t, int64(n), session.Status().Runs)
}

func TestParseInitMode(t *testing.T) {
	mode, err := ParseInitMode("")
	require.NoError(t, err)
	require.Equal(t, InitExec, mode)

	mode, err = ParseInitMode("compile")
	require.NoError(t, err)
	require.Equal(t, InitCompile, mode)

	_, err = ParseInitMode("eval")
	require.Error(t, err)
}
