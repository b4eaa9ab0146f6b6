package noop

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/caffeineduck/actionproxy/executor"
)

func TestNoopAcceptsEverything(t *testing.T) {
	exec, err := executor.GetTestExecutor()
	require.NoError(t, err)

	session, err := exec.NewSession(New())
	require.NoError(t, err)
	defer session.Close()
	ctx := context.Background()

	// run before init still answers OK
	result := session.Run(ctx, 1)
	require.NoError(t, result.Error)
	require.Equal(t, executor.Void, result.Value)

	require.NoError(t, session.Init(ctx, "this is not code in any language").Error)
	require.Equal(t, executor.StateUninitialized, session.State())

	result = session.Run(ctx, map[string]any{"a": 1})
	require.NoError(t, result.Error)
	require.Equal(t, executor.Void, result.Value)
	require.Equal(t, int64(2), session.Status().Runs)
}
