package tessera_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasdf/tessera"
	"github.com/nasdf/tessera/catalog"
	"github.com/nasdf/tessera/core"
	"github.com/nasdf/tessera/iceberg"
	"github.com/nasdf/tessera/object"
)

func createTableOp(key object.Key) catalog.Operation {
	return catalog.Operation{
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

func TestRepositoryInMemory(t *testing.T) {
	ctx := context.Background()

	repo, err := tessera.Open(ctx, tessera.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	key := object.NewKey("db", "t1")
	outcome, err := repo.Catalog.Commit(ctx, catalog.CommitParams{
		Branch:     "main",
		Operations: []catalog.Operation{createTableOp(key)},
		Committer:  "test",
		Message:    "create t1",
	})
	require.NoError(t, err)

	result, err := repo.Catalog.RetrieveSnapshot(ctx, "main", key, catalog.FormatIceberg)
	require.NoError(t, err)
	assert.Equal(t, outcome.CommitID.String(), result.CommitID)
	assert.NotEmpty(t, result.Metadata)

	ref, err := repo.Store.GetRef(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, outcome.CommitID, ref.Head)
}

func TestRepositoryBranchAndMerge(t *testing.T) {
	ctx := context.Background()

	repo, err := tessera.Open(ctx, tessera.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	main, err := repo.Store.GetRef(ctx, "main")
	require.NoError(t, err)
	_, err = repo.Store.CreateRef(ctx, "etl", object.KindBranch, main.Head)
	require.NoError(t, err)

	key := object.NewKey("db", "t1")
	_, err = repo.Catalog.Commit(ctx, catalog.CommitParams{
		Branch:     "etl",
		Operations: []catalog.Operation{createTableOp(key)},
		Committer:  "test",
	})
	require.NoError(t, err)

	// The table is invisible on main until the merge lands.
	_, err = repo.Catalog.RetrieveSnapshot(ctx, "main", key, catalog.FormatNative)
	require.Equal(t, core.CodeNotFound, core.CodeOf(err))

	_, err = repo.Store.Merge(ctx, core.MergeRequest{SourceRef: "etl", TargetBranch: "main", Committer: "test"})
	require.NoError(t, err)

	_, err = repo.Catalog.RetrieveSnapshot(ctx, "main", key, catalog.FormatNative)
	require.NoError(t, err)
}

func TestRepositoryBadgerReopen(t *testing.T) {
	ctx := context.Background()
	cfg := tessera.DefaultConfig()
	cfg.Storage = tessera.StorageConfig{Path: filepath.Join(t.TempDir(), "db")}

	io := catalog.NewMemoryObjectIO()
	repo, err := tessera.Open(ctx, cfg, tessera.WithObjectIO(io))
	require.NoError(t, err)

	key := object.NewKey("db", "t1")
	outcome, err := repo.Catalog.Commit(ctx, catalog.CommitParams{
		Branch:     "main",
		Operations: []catalog.Operation{createTableOp(key)},
		Committer:  "test",
	})
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	// Everything survives a process restart.
	reopened, err := tessera.Open(ctx, cfg, tessera.WithObjectIO(io))
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })

	ref, err := reopened.Store.GetRef(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, outcome.CommitID, ref.Head)

	result, err := reopened.Catalog.RetrieveSnapshot(ctx, "main", key, catalog.FormatIceberg)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Metadata)
}
