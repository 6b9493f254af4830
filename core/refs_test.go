package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasdf/tessera/object"
)

func TestCreateRef(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	main, err := store.GetRef(ctx, "main")
	require.NoError(t, err)

	ref, err := store.CreateRef(ctx, "dev", object.KindBranch, main.Head)
	require.NoError(t, err)
	assert.Equal(t, main.Head, ref.Head)

	got, err := store.GetRef(ctx, "dev")
	require.NoError(t, err)
	assert.Equal(t, main.Head, got.Head)

	_, err = store.CreateRef(ctx, "dev", object.KindBranch, main.Head)
	assert.Equal(t, CodeAlreadyExists, CodeOf(err))
}

func TestCreateRefUnknownHead(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.CreateRef(ctx, "dev", object.KindBranch, object.Sum("Commit", []byte("bogus")))
	assert.Equal(t, CodeNotFound, CodeOf(err))
}

func TestGetRefNotFound(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.GetRef(ctx, "nope")
	assert.Equal(t, CodeNotFound, CodeOf(err))
}

func TestTagImmutable(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	main, err := store.GetRef(ctx, "main")
	require.NoError(t, err)

	_, err = store.CreateRef(ctx, "v1", object.KindTag, main.Head)
	require.NoError(t, err)

	result := mustCommit(t, store, "main", putOp(object.NewKey("a"), tableContent("memory://wh/a/v0.json", 1)))

	err = store.UpdateRef(ctx, "v1", main.Head, result.CommitID)
	assert.Equal(t, CodeInvalidArgument, CodeOf(err))
}

func TestTagReassignAllowed(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.AllowTagReassign = true
	store := newTestStore(t, WithConfig(cfg))

	main, err := store.GetRef(ctx, "main")
	require.NoError(t, err)

	_, err = store.CreateRef(ctx, "v1", object.KindTag, main.Head)
	require.NoError(t, err)

	result := mustCommit(t, store, "main", putOp(object.NewKey("a"), tableContent("memory://wh/a/v0.json", 1)))

	require.NoError(t, store.UpdateRef(ctx, "v1", main.Head, result.CommitID))

	got, err := store.GetRef(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, result.CommitID, got.Head)
}

func TestDeleteRef(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	main, err := store.GetRef(ctx, "main")
	require.NoError(t, err)

	_, err = store.CreateRef(ctx, "dev", object.KindBranch, main.Head)
	require.NoError(t, err)

	err = store.DeleteRef(ctx, "dev", object.Sum("Commit", []byte("wrong")))
	assert.Equal(t, CodeReferenceConflict, CodeOf(err))

	require.NoError(t, store.DeleteRef(ctx, "dev", main.Head))

	_, err = store.GetRef(ctx, "dev")
	assert.Equal(t, CodeNotFound, CodeOf(err))
}

func TestListRefs(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	main, err := store.GetRef(ctx, "main")
	require.NoError(t, err)

	for _, name := range []string{"feature/a", "feature/b", "release/1"} {
		_, err := store.CreateRef(ctx, name, object.KindBranch, main.Head)
		require.NoError(t, err)
	}

	page, err := store.ListRefs(ctx, "", "", 0)
	require.NoError(t, err)
	names := make([]string, len(page.Refs))
	for i, ref := range page.Refs {
		names[i] = ref.Name
	}
	assert.Equal(t, []string{"feature/a", "feature/b", "main", "release/1"}, names)

	filtered, err := store.ListRefs(ctx, "feature/", "", 0)
	require.NoError(t, err)
	assert.Len(t, filtered.Refs, 2)

	first, err := store.ListRefs(ctx, "", "", 2)
	require.NoError(t, err)
	require.Len(t, first.Refs, 2)
	require.NotEmpty(t, first.Cursor)

	rest, err := store.ListRefs(ctx, "", first.Cursor, 2)
	require.NoError(t, err)
	require.Len(t, rest.Refs, 2)
	assert.Equal(t, "main", rest.Refs[0].Name)
}

func TestResolveRefSpecs(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	key := object.NewKey("db", "t1")
	first := mustCommit(t, store, "main", putOp(key, tableContent("memory://wh/db/t1/v0.json", 1)))
	mustCommit(t, store, "main", CommitOperation{Key: key, Kind: object.OpDelete})

	// The key is gone at the head but visible at the pinned commit.
	_, err := store.GetContent(ctx, "main", key)
	assert.Equal(t, CodeNotFound, CodeOf(err))

	content, err := store.GetContent(ctx, "main@"+first.CommitID.String(), key)
	require.NoError(t, err)
	assert.Equal(t, "memory://wh/db/t1/v0.json", content.Table.MetadataLocation)

	content, err = store.GetContent(ctx, "@"+first.CommitID.String(), key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), content.Table.SnapshotID)

	_, err = store.GetContent(ctx, "main@zzzz", key)
	assert.Equal(t, CodeInvalidArgument, CodeOf(err))
}
