package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/caffeineduck/actionproxy/hostfunc"
)

func TestCompileCacheSharesPrograms(t *testing.T) {
	lang := newMockLanguage()
	exec, err := New(hostfunc.NewRegistry())
	require.NoError(t, err)
	defer exec.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		session, err := exec.NewSession(lang)
		require.NoError(t, err)
		require.True(t, session.Init(ctx, "main echo").OK())
		require.NoError(t, session.Close())
	}
	require.Equal(t, int64(1), lang.compiles.Load())
	require.Zero(t, lang.closed.Load())

	// different source misses
	session, err := exec.NewSession(lang)
	require.NoError(t, err)
	require.True(t, session.Init(ctx, "main double").OK())
	require.Equal(t, int64(2), lang.compiles.Load())

	require.NoError(t, exec.Close())
	require.Equal(t, int64(2), lang.closed.Load())
}

func TestCompileCacheDisabled(t *testing.T) {
	lang := newMockLanguage()
	exec, err := New(nil, WithCompileCache(0))
	require.NoError(t, err)
	defer exec.Close()

	session, err := exec.NewSession(lang)
	require.NoError(t, err)
	defer session.Close()

	ctx := context.Background()
	require.True(t, session.Init(ctx, "main echo").OK())
	require.True(t, session.Init(ctx, "main echo").OK())

	require.Equal(t, int64(2), lang.compiles.Load())
	require.Equal(t, int64(2), lang.closed.Load())
	require.Equal(t, 7, session.Run(ctx, 7).Value)
}

func TestCompileCacheEviction(t *testing.T) {
	lang := newMockLanguage()
	exec, err := New(nil, WithCompileCache(1))
	require.NoError(t, err)
	defer exec.Close()
	ctx := context.Background()

	_, err = exec.Compile(ctx, lang, "action", "main echo")
	require.NoError(t, err)
	_, err = exec.Compile(ctx, lang, "action", "main double")
	require.NoError(t, err)

	require.Equal(t, int64(1), lang.closed.Load())
}

func TestCompileSyntaxError(t *testing.T) {
	exec, err := New(nil)
	require.NoError(t, err)
	defer exec.Close()

	_, err = exec.Compile(context.Background(), newMockLanguage(), "action", "syntax")
	require.ErrorIs(t, err, ErrCompile)
	require.Equal(t, KindSyntax, KindOf(err))
	require.ErrorContains(t, err, "action:1")
}

func TestExecutorRun(t *testing.T) {
	exec, err := GetTestExecutor()
	require.NoError(t, err)
	ctx := context.Background()

	result := exec.Run(ctx, newMockLanguage(), "print loaded\nmain print", nil)
	require.NoError(t, result.Error)
	require.Equal(t, 1, result.Value)
	require.Equal(t, "loaded\ncall 1\n", result.Output)
	require.Positive(t, result.Duration)

	result = exec.Run(ctx, newMockLanguage(), "syntax", nil)
	require.ErrorIs(t, result.Error, ErrCompile)

	_, err = exec.NewSession(nil)
	require.Error(t, err)
}
