package catalog

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasdf/tessera/core"
	"github.com/nasdf/tessera/iceberg"
	"github.com/nasdf/tessera/object"
	"github.com/nasdf/tessera/storage"
)

func newTestService(t *testing.T, opts ...ServiceOption) (*Service, *MemoryObjectIO, *core.Store) {
	t.Helper()
	adapter := storage.NewMemory()
	t.Cleanup(func() { adapter.Close() })
	store := core.NewStore(adapter)
	_, err := store.InitRepository(context.Background())
	require.NoError(t, err)
	io := NewMemoryObjectIO()
	service := NewService(store, io, opts...)
	t.Cleanup(service.Close)
	return service, io, store
}

func createTableOp(key object.Key) Operation {
	return Operation{
		Key:  key,
		Type: object.ContentIcebergTable,
		Requirements: []iceberg.Requirement{
			iceberg.AssertCreate{},
		},
		Updates: []iceberg.Update{
			iceberg.AddSchema{Schema: iceberg.Schema{
				SchemaID: 0,
				Type:     "struct",
				Fields:   []iceberg.Field{{ID: 1, Name: "id", Required: true, Type: "long"}},
			}},
			iceberg.SetCurrentSchema{SchemaID: -1},
		},
	}
}

func TestCatalogCreateAndUpdateTable(t *testing.T) {
	ctx := context.Background()
	service, io, store := newTestService(t)
	key := object.NewKey("db", "t1")

	first, err := service.Commit(ctx, CommitParams{
		Branch:     "main",
		Operations: []Operation{createTableOp(key)},
		Committer:  "test",
		Message:    "create t1",
	})
	require.NoError(t, err)
	require.False(t, first.NoOp)

	content := first.Contents[key.MapKey()]
	require.NotNil(t, content)
	assert.NotEmpty(t, content.ContentID)
	assert.True(t, strings.HasPrefix(content.Table.MetadataLocation, "memory://warehouse/db/t1/metadata/00000-"))
	assert.True(t, strings.HasSuffix(content.Table.MetadataLocation, ".metadata.json"))

	firstSnap, err := SnapshotID(content)
	require.NoError(t, err)

	second, err := service.Commit(ctx, CommitParams{
		Branch: "main",
		Operations: []Operation{{
			Key: key,
			Updates: []iceberg.Update{
				iceberg.AddSchema{Schema: iceberg.Schema{
					SchemaID: 1,
					Type:     "struct",
					Fields: []iceberg.Field{
						{ID: 1, Name: "id", Required: true, Type: "long"},
						{ID: 2, Name: "data", Type: "string"},
					},
				}},
				iceberg.SetCurrentSchema{SchemaID: 1},
			},
		}},
		Committer: "test",
		Message:   "evolve schema",
	})
	require.NoError(t, err)
	require.False(t, second.NoOp)
	assert.NotEqual(t, first.CommitID, second.CommitID)

	updated := second.Contents[key.MapKey()]
	require.NotNil(t, updated)
	assert.Equal(t, content.ContentID, updated.ContentID)
	assert.True(t, strings.Contains(updated.Table.MetadataLocation, "/metadata/00001-"))
	assert.NotEqual(t, content.Table.MetadataLocation, updated.Table.MetadataLocation)

	secondSnap, err := SnapshotID(updated)
	require.NoError(t, err)
	assert.NotEqual(t, firstSnap, secondSnap)

	// The metadata documents were both emitted.
	for _, loc := range []string{content.Table.MetadataLocation, updated.Table.MetadataLocation} {
		_, err := io.ReadObject(ctx, loc)
		require.NoError(t, err)
	}

	ref, err := store.GetRef(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, second.CommitID, ref.Head)
}

func TestCatalogRequirementViolated(t *testing.T) {
	ctx := context.Background()
	service, _, store := newTestService(t)
	key := object.NewKey("db", "t1")

	_, err := service.Commit(ctx, CommitParams{
		Branch:     "main",
		Operations: []Operation{createTableOp(key)},
		Committer:  "test",
	})
	require.NoError(t, err)

	before, err := store.GetRef(ctx, "main")
	require.NoError(t, err)

	// AssertCreate against an existing table fails before anything runs.
	_, err = service.Commit(ctx, CommitParams{
		Branch:     "main",
		Operations: []Operation{createTableOp(key)},
		Committer:  "test",
	})
	require.Equal(t, core.CodeReferenceConflict, core.CodeOf(err))
	var coreErr *core.Error
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, "RequirementViolated", coreErr.Reason)

	after, err := store.GetRef(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, before.Head, after.Head)
}

func TestCatalogLocationOutsideWarehouse(t *testing.T) {
	ctx := context.Background()
	service, _, store := newTestService(t, WithConfig(Config{Warehouse: "s3://wh/"}))
	key := object.NewKey("db", "t1")

	before, err := store.GetRef(ctx, "main")
	require.NoError(t, err)

	op := createTableOp(key)
	op.Updates = append(op.Updates, iceberg.SetLocation{Location: "s3://other-bucket/x"})
	_, err = service.Commit(ctx, CommitParams{
		Branch:     "main",
		Operations: []Operation{op},
		Committer:  "test",
	})
	require.Equal(t, core.CodeInvalidArgument, core.CodeOf(err))

	// Nothing was committed.
	after, err := store.GetRef(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, before.Head, after.Head)

	_, err = service.RetrieveSnapshot(ctx, "main", key, FormatIceberg)
	assert.Equal(t, core.CodeNotFound, core.CodeOf(err))
}

func TestCatalogNoOpUpdateSkipsCommit(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(t)
	key := object.NewKey("db", "t1")

	op := createTableOp(key)
	op.Updates = append(op.Updates, iceberg.SetProperties{Updates: map[string]string{"owner": "eng"}})
	first, err := service.Commit(ctx, CommitParams{
		Branch:     "main",
		Operations: []Operation{op},
		Committer:  "test",
	})
	require.NoError(t, err)

	// Re-applying the same property leaves the draft unchanged, so no
	// commit happens and the head stays put.
	again, err := service.Commit(ctx, CommitParams{
		Branch: "main",
		Operations: []Operation{{
			Key:     key,
			Updates: []iceberg.Update{iceberg.SetProperties{Updates: map[string]string{"owner": "eng"}}},
		}},
		Committer: "test",
	})
	require.NoError(t, err)
	assert.True(t, again.NoOp)
	assert.Equal(t, first.CommitID, again.CommitID)
}

func TestCatalogMultiTableCommit(t *testing.T) {
	ctx := context.Background()
	service, _, store := newTestService(t)
	k1 := object.NewKey("db", "t1")
	k2 := object.NewKey("db", "t2")

	outcome, err := service.Commit(ctx, CommitParams{
		Branch:     "main",
		Operations: []Operation{createTableOp(k1), createTableOp(k2)},
		Committer:  "test",
		Message:    "create both",
	})
	require.NoError(t, err)
	require.Len(t, outcome.Contents, 2)

	// Both tables landed in one commit.
	commit, err := store.FetchCommit(ctx, outcome.CommitID)
	require.NoError(t, err)
	assert.Len(t, commit.Operations, 2)

	results, err := service.RetrieveSnapshots(ctx, "main", []object.Key{k1, k2}, FormatNative)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestCatalogRetrieveFormats(t *testing.T) {
	ctx := context.Background()
	service, io, _ := newTestService(t)
	key := object.NewKey("db", "t1")

	outcome, err := service.Commit(ctx, CommitParams{
		Branch:     "main",
		Operations: []Operation{createTableOp(key)},
		Committer:  "test",
	})
	require.NoError(t, err)
	content := outcome.Contents[key.MapKey()]

	result, err := service.RetrieveSnapshot(ctx, "main", key, FormatIceberg)
	require.NoError(t, err)
	assert.Equal(t, content.ContentID, result.ContentID)
	assert.Equal(t, outcome.CommitID.String(), result.CommitID)
	assert.Equal(t, content.Table.MetadataLocation, result.MetadataLocation)

	meta, err := iceberg.JSONCodec{}.DecodeTable(result.Metadata)
	require.NoError(t, err)
	assert.Equal(t, content.ContentID, meta.Properties[PropContentID])
	assert.Equal(t, result.SnapshotID, meta.Properties[PropSnapshotID])
	assert.Equal(t, outcome.CommitID.String(), meta.Properties[PropCommitID])
	assert.Equal(t, "main", meta.Properties[PropCommitRef])

	// The commit seeded the snapshot cache, so no object store read
	// happened.
	assert.Equal(t, 0, io.Reads())

	native, err := service.RetrieveSnapshot(ctx, "main", key, FormatNative)
	require.NoError(t, err)
	assert.Nil(t, native.Metadata)
	assert.Equal(t, result.SnapshotID, native.SnapshotID)
}

func TestCatalogRetrievePinnedRef(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(t)
	key := object.NewKey("db", "t1")

	first, err := service.Commit(ctx, CommitParams{
		Branch:     "main",
		Operations: []Operation{createTableOp(key)},
		Committer:  "test",
	})
	require.NoError(t, err)

	_, err = service.Commit(ctx, CommitParams{
		Branch: "main",
		Operations: []Operation{{
			Key:     key,
			Updates: []iceberg.Update{iceberg.SetProperties{Updates: map[string]string{"owner": "eng"}}},
		}},
		Committer: "test",
	})
	require.NoError(t, err)

	// A pinned read sees the old metadata location.
	pinned, err := service.RetrieveSnapshot(ctx, "main@"+first.CommitID.String(), key, FormatNative)
	require.NoError(t, err)
	assert.Equal(t, first.Contents[key.MapKey()].Table.MetadataLocation, pinned.MetadataLocation)

	head, err := service.RetrieveSnapshot(ctx, "main", key, FormatNative)
	require.NoError(t, err)
	assert.NotEqual(t, pinned.MetadataLocation, head.MetadataLocation)
}

func TestCatalogCreateView(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(t)
	key := object.NewKey("db", "v1")

	outcome, err := service.Commit(ctx, CommitParams{
		Branch: "main",
		Operations: []Operation{{
			Key:  key,
			Type: object.ContentIcebergView,
			Updates: []iceberg.Update{
				iceberg.AddSchema{Schema: iceberg.Schema{SchemaID: 0, Type: "struct"}},
				iceberg.AddViewVersion{Version: iceberg.ViewVersion{
					VersionID:       1,
					SchemaID:        0,
					Representations: []iceberg.ViewRep{{Type: "sql", SQL: "select 1", Dialect: "spark"}},
				}},
				iceberg.SetCurrentViewVersion{VersionID: 1},
			},
		}},
		Committer: "test",
	})
	require.NoError(t, err)

	content := outcome.Contents[key.MapKey()]
	require.NotNil(t, content)
	require.NotNil(t, content.View)
	assert.Equal(t, int64(1), content.View.VersionID)
	assert.Equal(t, int64(0), content.View.SchemaID)

	result, err := service.RetrieveSnapshot(ctx, "main", key, FormatIceberg)
	require.NoError(t, err)
	meta, err := iceberg.JSONCodec{}.DecodeView(result.Metadata)
	require.NoError(t, err)
	assert.Equal(t, content.ContentID, meta.Properties[PropContentID])
}

func TestWithinWarehouse(t *testing.T) {
	cases := []struct {
		warehouse string
		location  string
		want      bool
	}{
		{"s3://wh", "s3://wh/db/t1", true},
		{"s3://wh/", "s3://wh/db/t1", true},
		{"s3://wh", "s3://wh", true},
		{"s3://wh", "s3://other/db", false},
		{"s3://wh", "gs://wh/db", false},
		{"s3://wh", "s3://wh/../other", false},
		{"s3://wh/root", "s3://wh/rootmore/db", false},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s->%s", tc.warehouse, tc.location), func(t *testing.T) {
			assert.Equal(t, tc.want, withinWarehouse(tc.warehouse, tc.location))
		})
	}
}

func TestParseMetadataVersion(t *testing.T) {
	assert.Equal(t, 42, parseMetadataVersion("s3://wh/db/t1/metadata/00042-abc.metadata.json"))
	assert.Equal(t, 0, parseMetadataVersion("00000-abc.metadata.json"))
	assert.Equal(t, -1, parseMetadataVersion("metadata.json"))
	assert.Equal(t, -1, parseMetadataVersion("s3://wh/db/t1/metadata/vX-abc.metadata.json"))
}
