package hostfunc

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKVSetGet(t *testing.T) {
	kv := NewKV()
	ctx := context.Background()

	_, err := kv.Set(ctx, map[string]any{"key": "foo", "value": "bar"})
	require.NoError(t, err)

	val, err := kv.Get(ctx, map[string]any{"key": "foo"})
	require.NoError(t, err)
	require.Equal(t, "bar", val)
}

func TestKVGetDefault(t *testing.T) {
	kv := NewKV()

	val, err := kv.Get(context.Background(), map[string]any{"key": "missing", "default": "fallback"})
	require.NoError(t, err)
	require.Equal(t, "fallback", val)

	val, err = kv.Get(context.Background(), map[string]any{"key": "missing"})
	require.NoError(t, err)
	require.Nil(t, val)
}

func TestKVDeleteAndKeys(t *testing.T) {
	kv := NewKV()
	ctx := context.Background()

	for _, k := range []string{"c", "a", "b"} {
		_, err := kv.Set(ctx, map[string]any{"key": k, "value": 1})
		require.NoError(t, err)
	}

	_, err := kv.Delete(ctx, map[string]any{"key": "b"})
	require.NoError(t, err)

	keys, err := kv.Keys(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "c"}, keys)
}

func TestKVStructuredValues(t *testing.T) {
	kv := NewKV()
	ctx := context.Background()

	value := map[string]any{"nested": []any{1, "two", true}}
	_, err := kv.Set(ctx, map[string]any{"key": "doc", "value": value})
	require.NoError(t, err)

	got, err := kv.Get(ctx, map[string]any{"key": "doc"})
	require.NoError(t, err)
	require.Equal(t, value, got)
}

func TestKVLimits(t *testing.T) {
	ctx := context.Background()

	t.Run("key", func(t *testing.T) {
		kv := NewKV(WithMaxKeySize(4))
		_, err := kv.Set(ctx, map[string]any{"key": "too-long", "value": "x"})
		require.ErrorIs(t, err, ErrLimit)
	})

	t.Run("value", func(t *testing.T) {
		kv := NewKV(WithMaxValueSize(8))
		_, err := kv.Set(ctx, map[string]any{"key": "k", "value": "this is too large"})
		require.ErrorIs(t, err, ErrLimit)
	})

	t.Run("entries", func(t *testing.T) {
		kv := NewKV(WithMaxEntries(2))
		_, err := kv.Set(ctx, map[string]any{"key": "a", "value": 1})
		require.NoError(t, err)
		_, err = kv.Set(ctx, map[string]any{"key": "b", "value": 2})
		require.NoError(t, err)

		_, err = kv.Set(ctx, map[string]any{"key": "c", "value": 3})
		require.ErrorIs(t, err, ErrLimit)

		// overwriting an existing key does not grow the store
		_, err = kv.Set(ctx, map[string]any{"key": "a", "value": 4})
		require.NoError(t, err)
	})
}

func TestKVArguments(t *testing.T) {
	kv := NewKV()
	ctx := context.Background()

	_, err := kv.Get(ctx, map[string]any{})
	require.ErrorIs(t, err, ErrArgument)

	_, err = kv.Set(ctx, map[string]any{"key": "k"})
	require.ErrorIs(t, err, ErrArgument)

	_, err = kv.Set(ctx, map[string]any{"key": "k", "value": func() {}})
	require.ErrorIs(t, err, ErrArgument)
}

func TestKVConcurrent(t *testing.T) {
	kv := NewKV()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := string(rune('a' + (n % 26)))
			kv.Set(ctx, map[string]any{"key": key, "value": n})
			kv.Get(ctx, map[string]any{"key": key})
		}(i)
	}
	wg.Wait()

	keys, err := kv.Keys(ctx, nil)
	require.NoError(t, err)
	require.Len(t, keys, 26)
}
