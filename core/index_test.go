package core

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasdf/tessera/object"
)

// smallSegmentStore forces the key index to split across many segments.
func smallSegmentStore(t *testing.T) *Store {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SegmentSize = 256
	return newTestStore(t, WithConfig(cfg))
}

func fillKeys(t *testing.T, store *Store, n int) []object.Key {
	t.Helper()
	ops := make([]CommitOperation, n)
	keys := make([]object.Key, n)
	for i := 0; i < n; i++ {
		key := object.NewKey("db", fmt.Sprintf("t%03d", i))
		keys[i] = key
		ops[i] = putOp(key, tableContent(fmt.Sprintf("memory://wh/db/t%03d/v0.json", i), 1))
	}
	mustCommit(t, store, "main", ops...)
	return keys
}

func TestIndexSplitsAndScans(t *testing.T) {
	ctx := context.Background()
	store := smallSegmentStore(t)
	keys := fillKeys(t, store, 50)

	// Every key resolves after splitting.
	for _, key := range []object.Key{keys[0], keys[25], keys[49]} {
		content, err := store.GetContent(ctx, "main", key)
		require.NoError(t, err)
		assert.NotNil(t, content.Table)
	}

	page, err := store.Entries(ctx, "main", nil, "", 0)
	require.NoError(t, err)
	require.Len(t, page.Entries, 50)
	for i := 1; i < len(page.Entries); i++ {
		assert.True(t, page.Entries[i-1].Key.Compare(page.Entries[i].Key) < 0)
	}
}

func TestScanPagination(t *testing.T) {
	ctx := context.Background()
	store := smallSegmentStore(t)
	fillKeys(t, store, 30)

	var all []object.IndexEntry
	cursor := ""
	pages := 0
	for {
		page, err := store.Entries(ctx, "main", nil, cursor, 7)
		require.NoError(t, err)
		all = append(all, page.Entries...)
		pages++
		if page.Cursor == "" {
			break
		}
		cursor = page.Cursor
	}
	assert.Len(t, all, 30)
	assert.GreaterOrEqual(t, pages, 5)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].Key.Compare(all[i].Key) < 0)
	}
}

func TestScanPrefix(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	mustCommit(t, store, "main",
		putOp(object.NewKey("db1", "a"), tableContent("memory://wh/db1/a/v0.json", 1)),
		putOp(object.NewKey("db1", "b"), tableContent("memory://wh/db1/b/v0.json", 1)),
		putOp(object.NewKey("db2", "c"), tableContent("memory://wh/db2/c/v0.json", 1)))

	page, err := store.Entries(ctx, "main", object.NewKey("db1"), "", 0)
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	for _, entry := range page.Entries {
		assert.True(t, entry.Key.HasPrefix(object.NewKey("db1")))
	}
}

func TestScanStaleCursor(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	fillKeys(t, store, 3)

	_, err := store.Entries(ctx, "main", nil, "not-a-cursor", 5)
	assert.Equal(t, CodeInvalidArgument, CodeOf(err))
}

func TestStructuralSharing(t *testing.T) {
	ctx := context.Background()
	store := smallSegmentStore(t)
	keys := fillKeys(t, store, 50)

	before, err := store.GetRef(ctx, "main")
	require.NoError(t, err)
	beforeCommit, err := store.FetchCommit(ctx, before.Head)
	require.NoError(t, err)
	beforeChildren, err := store.loadIndexChildren(ctx, beforeCommit.KeyIndexRoot)
	require.NoError(t, err)
	require.Greater(t, len(beforeChildren), 2)

	// Touch one key and count surviving segment ids.
	mustCommit(t, store, "main", putOp(keys[0], tableContent("memory://wh/db/t000/v1.json", 2)))

	after, err := store.GetRef(ctx, "main")
	require.NoError(t, err)
	afterCommit, err := store.FetchCommit(ctx, after.Head)
	require.NoError(t, err)
	afterChildren, err := store.loadIndexChildren(ctx, afterCommit.KeyIndexRoot)
	require.NoError(t, err)

	beforeSet := make(map[object.ID]struct{})
	for _, child := range beforeChildren {
		beforeSet[child.Child] = struct{}{}
	}
	shared := 0
	for _, child := range afterChildren {
		if _, ok := beforeSet[child.Child]; ok {
			shared++
		}
	}
	assert.Equal(t, len(beforeChildren)-1, shared)
}

func TestDiff(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	base, err := store.GetRef(ctx, "main")
	require.NoError(t, err)
	_, err = store.CreateRef(ctx, "dev", object.KindBranch, base.Head)
	require.NoError(t, err)

	mustCommit(t, store, "main", putOp(object.NewKey("a"), tableContent("memory://wh/a/v0.json", 1)))
	mustCommit(t, store, "dev", putOp(object.NewKey("b"), tableContent("memory://wh/b/v0.json", 1)))

	// diff(A, A) is empty.
	same, err := store.Diff(ctx, "main", "main")
	require.NoError(t, err)
	assert.Empty(t, same)

	forward, err := store.Diff(ctx, "main", "dev")
	require.NoError(t, err)
	require.Len(t, forward, 2)

	backward, err := store.Diff(ctx, "dev", "main")
	require.NoError(t, err)
	require.Len(t, backward, 2)

	// The two directions mirror each other.
	for i := range forward {
		assert.True(t, forward[i].Key.Equal(backward[i].Key))
		assert.Equal(t, forward[i].FromRef, backward[i].ToRef)
		assert.Equal(t, forward[i].ToRef, backward[i].FromRef)
	}
}

func TestDiffSkipsSharedSegments(t *testing.T) {
	ctx := context.Background()
	store := smallSegmentStore(t)
	keys := fillKeys(t, store, 50)

	before, err := store.GetRef(ctx, "main")
	require.NoError(t, err)

	mustCommit(t, store, "main", putOp(keys[10], tableContent("memory://wh/db/t010/v1.json", 2)))

	entries, err := store.Diff(ctx, "main@"+before.Head.String(), "main")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Key.Equal(keys[10]))
}
