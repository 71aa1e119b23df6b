package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gifton/pipelinekit/core/idempotency"
	"github.com/gifton/pipelinekit/store/memory"
)

func TestCacheStore_SetGetRemoveClear(t *testing.T) {
	s := memory.NewCacheStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Time{}))
	data, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), data)

	require.NoError(t, s.Remove(ctx, "k"))
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "k2", []byte("v2"), time.Time{}))
	require.NoError(t, s.Clear(ctx))
	_, ok, err = s.Get(ctx, "k2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheStore_ExpiredEntryIsAbsent(t *testing.T) {
	s := memory.NewCacheStore()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Now().Add(-time.Second)))

	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIdempotencyStore_GetSetRemoveCleanup(t *testing.T) {
	s := memory.NewIdempotencyStore()
	ctx := context.Background()

	rec := idempotency.Record{Key: "a", Status: idempotency.Completed, Value: "result"}
	require.NoError(t, s.Set(ctx, "a", rec))

	got, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "result", got.Value)

	expired := idempotency.Record{Key: "b", ExpiresAt: time.Now().Add(-time.Minute)}
	require.NoError(t, s.Set(ctx, "b", expired))
	_, ok, err = s.Get(ctx, "b")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.CleanupExpired(ctx))
	require.NoError(t, s.Remove(ctx, "a"))
	_, ok, err = s.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDedupStore_SetGetRemoveSweep(t *testing.T) {
	s := memory.NewDedupStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Set(ctx, "fp1", []byte("result"), now))
	value, completedAt, ok, err := s.Get(ctx, "fp1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("result"), value)
	assert.True(t, completedAt.Equal(now))

	require.NoError(t, s.Set(ctx, "fp2", []byte("stale"), now.Add(-time.Hour)))
	removed, err := s.Sweep(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, _, ok, err = s.Get(ctx, "fp2")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Remove(ctx, "fp1"))
	_, _, ok, err = s.Get(ctx, "fp1")
	require.NoError(t, err)
	assert.False(t, ok)
}
