package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasdf/tessera/codec"
	"github.com/nasdf/tessera/object"
	"github.com/nasdf/tessera/storage"
)

func TestStorePersistenceLease(t *testing.T) {
	ctx := context.Background()
	adapter := storage.NewMemory()
	t.Cleanup(func() { adapter.Close() })

	clock := newManualClock()
	persist := NewStorePersistence(adapter)
	persist.now = clock.Now

	key := taskKey("snap")
	require.NoError(t, persist.Begin(ctx, key))

	// Running entries are never served as results.
	value, err := persist.Load(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, value)

	data, err := adapter.Get(ctx, storage.Tasks, key)
	require.NoError(t, err)
	entry, err := codec.DecodeTaskEntry(data)
	require.NoError(t, err)
	assert.Equal(t, object.TaskRunning, entry.State)
	assert.Equal(t, DefaultLeaseWindow, entry.Lease.Sub(entry.StartedAt))

	// An unexpired lease blocks a takeover.
	clock.Advance(time.Minute)
	require.NoError(t, persist.Begin(ctx, key))
	unchanged, err := adapter.Get(ctx, storage.Tasks, key)
	require.NoError(t, err)
	assert.Equal(t, data, unchanged)

	// An expired lease may be claimed again.
	clock.Advance(DefaultLeaseWindow)
	require.NoError(t, persist.Begin(ctx, key))
	claimed, err := adapter.Get(ctx, storage.Tasks, key)
	require.NoError(t, err)
	reclaimed, err := codec.DecodeTaskEntry(claimed)
	require.NoError(t, err)
	assert.Equal(t, object.TaskRunning, reclaimed.State)
	assert.True(t, reclaimed.StartedAt.After(entry.StartedAt))
}

func TestStorePersistenceStoreReplacesRunning(t *testing.T) {
	ctx := context.Background()
	adapter := storage.NewMemory()
	t.Cleanup(func() { adapter.Close() })

	clock := newManualClock()
	persist := NewStorePersistence(adapter)
	persist.now = clock.Now

	key := taskKey("snap")
	require.NoError(t, persist.Begin(ctx, key))
	started := clock.Now().UTC().Truncate(time.Microsecond)

	clock.Advance(time.Minute)
	require.NoError(t, persist.Store(ctx, key, []byte("value")))

	value, err := persist.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), value)

	// The success entry keeps the start time the lease was taken at.
	data, err := adapter.Get(ctx, storage.Tasks, key)
	require.NoError(t, err)
	entry, err := codec.DecodeTaskEntry(data)
	require.NoError(t, err)
	assert.Equal(t, object.TaskSuccess, entry.State)
	assert.True(t, entry.StartedAt.Equal(started))

	// A second writer storing after completion changes nothing.
	require.NoError(t, persist.Store(ctx, key, []byte("other")))
	value, err = persist.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), value)
}
