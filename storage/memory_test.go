package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasdf/tessera/object"
)

func TestMemoryPutGet(t *testing.T) {
	ctx := context.Background()
	adapter := NewMemory()
	defer adapter.Close()

	id := object.Sum("Commit", []byte("a"))
	require.NoError(t, adapter.Put(ctx, Commits, id, []byte("value")))

	data, err := adapter.Get(ctx, Commits, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), data)

	// Buckets are disjoint namespaces.
	_, err = adapter.Get(ctx, Segments, id)
	assert.True(t, ErrNotFound.Has(err))
}

func TestMemoryPutIdempotent(t *testing.T) {
	ctx := context.Background()
	adapter := NewMemory()
	defer adapter.Close()

	id := object.Sum("Commit", []byte("a"))
	require.NoError(t, adapter.Put(ctx, Commits, id, []byte("value")))
	require.NoError(t, adapter.Put(ctx, Commits, id, []byte("value")))

	err := adapter.Put(ctx, Commits, id, []byte("different"))
	assert.True(t, ErrAlreadyExists.Has(err))
}

func TestMemoryGetMany(t *testing.T) {
	ctx := context.Background()
	adapter := NewMemory()
	defer adapter.Close()

	a := object.Sum("Commit", []byte("a"))
	b := object.Sum("Commit", []byte("b"))
	missing := object.Sum("Commit", []byte("missing"))
	require.NoError(t, adapter.Put(ctx, Commits, a, []byte("1")))
	require.NoError(t, adapter.Put(ctx, Commits, b, []byte("2")))

	values, err := adapter.GetMany(ctx, Commits, []object.ID{b, missing, a})
	require.NoError(t, err)
	require.Len(t, values, 3)
	assert.Equal(t, []byte("2"), values[0])
	assert.Nil(t, values[1])
	assert.Equal(t, []byte("1"), values[2])
}

func TestMemoryCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	adapter := NewMemory()
	defer adapter.Close()

	id := object.RefID("main")

	// Create with nil expected.
	require.NoError(t, adapter.CompareAndSwap(ctx, Refs, id, nil, []byte("v1")))
	err := adapter.CompareAndSwap(ctx, Refs, id, nil, []byte("v2"))
	assert.True(t, ErrCasMismatch.Has(err))

	// Swap with correct expected.
	require.NoError(t, adapter.CompareAndSwap(ctx, Refs, id, []byte("v1"), []byte("v2")))
	err = adapter.CompareAndSwap(ctx, Refs, id, []byte("v1"), []byte("v3"))
	assert.True(t, ErrCasMismatch.Has(err))

	// Delete with nil next.
	require.NoError(t, adapter.CompareAndSwap(ctx, Refs, id, []byte("v2"), nil))
	_, err = adapter.Get(ctx, Refs, id)
	assert.True(t, ErrNotFound.Has(err))
}

func TestMemoryDelete(t *testing.T) {
	ctx := context.Background()
	adapter := NewMemory()
	defer adapter.Close()

	id := object.Sum("Commit", []byte("a"))
	require.NoError(t, adapter.Put(ctx, Commits, id, []byte("value")))
	require.NoError(t, adapter.Delete(ctx, Commits, id))

	_, err := adapter.Get(ctx, Commits, id)
	assert.True(t, ErrNotFound.Has(err))
}

func TestMemoryScan(t *testing.T) {
	ctx := context.Background()
	adapter := NewMemory()
	defer adapter.Close()

	for _, s := range []string{"a", "b", "c", "d"} {
		id := object.Sum("Commit", []byte(s))
		require.NoError(t, adapter.Put(ctx, Commits, id, []byte(s)))
	}

	entries, err := adapter.Scan(ctx, Commits, nil, object.ZeroID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	for i := 1; i < len(entries); i++ {
		assert.True(t, entries[i-1].ID.Compare(entries[i].ID) < 0)
	}

	// Cursor resumes after the given id.
	rest, err := adapter.Scan(ctx, Commits, nil, entries[1].ID, 0)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, entries[2].ID, rest[0].ID)

	limited, err := adapter.Scan(ctx, Commits, nil, object.ZeroID, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}
