package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasdf/tessera/object"
)

func branchFrom(t *testing.T, store *Store, name, from string) {
	t.Helper()
	ref, err := store.GetRef(context.Background(), from)
	require.NoError(t, err)
	_, err = store.CreateRef(context.Background(), name, object.KindBranch, ref.Head)
	require.NoError(t, err)
}

func TestMergeNonOverlapping(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	branchFrom(t, store, "feat", "main")

	featHead := mustCommit(t, store, "feat", putOp(object.NewKey("a"), tableContent("memory://wh/a/v0.json", 1)))
	mainHead := mustCommit(t, store, "main", putOp(object.NewKey("b"), tableContent("memory://wh/b/v0.json", 1)))

	result, err := store.Merge(ctx, MergeRequest{SourceRef: "feat", TargetBranch: "main", Committer: "test"})
	require.NoError(t, err)
	require.False(t, result.NoOp)

	merge, err := store.FetchCommit(ctx, result.CommitID)
	require.NoError(t, err)
	require.Len(t, merge.Parents, 2)
	assert.Equal(t, mainHead.CommitID, merge.Parents[0])
	assert.Equal(t, featHead.CommitID, merge.Parents[1])

	// Both keys are visible on the target.
	contents, err := store.GetContents(ctx, "main", []object.Key{object.NewKey("a"), object.NewKey("b")})
	require.NoError(t, err)
	assert.Len(t, contents.Contents, 2)
}

func TestMergeConflictDefaultStrategy(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	branchFrom(t, store, "feat", "main")

	mustCommit(t, store, "feat", putOp(object.NewKey("a"), tableContent("memory://wh/a/feat.json", 1)))
	mainHead := mustCommit(t, store, "main", putOp(object.NewKey("a"), tableContent("memory://wh/a/main.json", 2)))

	_, err := store.Merge(ctx, MergeRequest{SourceRef: "feat", TargetBranch: "main", Committer: "test"})
	require.Equal(t, CodeContentConflict, CodeOf(err))

	var coreErr *Error
	require.ErrorAs(t, err, &coreErr)
	require.Len(t, coreErr.Conflicts, 1)
	assert.True(t, coreErr.Conflicts[0].Key.Equal(object.NewKey("a")))
	assert.Equal(t, ConflictPayloadDiffers, coreErr.Conflicts[0].Kind)

	// Target head is unchanged.
	ref, err := store.GetRef(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, mainHead.CommitID, ref.Head)
}

func TestMergeConflictStrategies(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name     string
		strategy MergeStrategy
		wantURI  string
	}{
		{"prefer source", StrategyPreferSource, "memory://wh/a/feat.json"},
		{"prefer target", StrategyPreferTarget, "memory://wh/a/main.json"},
		{"force", StrategyForce, "memory://wh/a/feat.json"},
		{"drop", StrategyDrop, "memory://wh/a/main.json"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newTestStore(t)
			branchFrom(t, store, "feat", "main")

			mustCommit(t, store, "feat", putOp(object.NewKey("a"), tableContent("memory://wh/a/feat.json", 1)))
			mustCommit(t, store, "main", putOp(object.NewKey("a"), tableContent("memory://wh/a/main.json", 2)))

			_, err := store.Merge(ctx, MergeRequest{
				SourceRef:       "feat",
				TargetBranch:    "main",
				DefaultStrategy: tc.strategy,
				Committer:       "test",
			})
			require.NoError(t, err)

			content, err := store.GetContent(ctx, "main", object.NewKey("a"))
			require.NoError(t, err)
			assert.Equal(t, tc.wantURI, content.Table.MetadataLocation)
		})
	}
}

func TestMergeKeyStrategyOverride(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	branchFrom(t, store, "feat", "main")

	mustCommit(t, store, "feat",
		putOp(object.NewKey("a"), tableContent("memory://wh/a/feat.json", 1)),
		putOp(object.NewKey("b"), tableContent("memory://wh/b/feat.json", 1)))
	mustCommit(t, store, "main",
		putOp(object.NewKey("a"), tableContent("memory://wh/a/main.json", 2)),
		putOp(object.NewKey("b"), tableContent("memory://wh/b/main.json", 2)))

	_, err := store.Merge(ctx, MergeRequest{
		SourceRef:       "feat",
		TargetBranch:    "main",
		DefaultStrategy: StrategyPreferTarget,
		KeyStrategies:   map[string]MergeStrategy{object.NewKey("a").MapKey(): StrategyPreferSource},
		Committer:       "test",
	})
	require.NoError(t, err)

	a, err := store.GetContent(ctx, "main", object.NewKey("a"))
	require.NoError(t, err)
	assert.Equal(t, "memory://wh/a/feat.json", a.Table.MetadataLocation)

	b, err := store.GetContent(ctx, "main", object.NewKey("b"))
	require.NoError(t, err)
	assert.Equal(t, "memory://wh/b/main.json", b.Table.MetadataLocation)
}

func TestMergeAncestorNoOp(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	mustCommit(t, store, "main", putOp(object.NewKey("a"), tableContent("memory://wh/a/v0.json", 1)))
	branchFrom(t, store, "feat", "main")
	mainHead := mustCommit(t, store, "main", putOp(object.NewKey("b"), tableContent("memory://wh/b/v0.json", 1)))

	// feat's head is already an ancestor of main.
	result, err := store.Merge(ctx, MergeRequest{SourceRef: "feat", TargetBranch: "main", Committer: "test"})
	require.NoError(t, err)
	assert.True(t, result.NoOp)
	assert.Equal(t, mainHead.CommitID, result.CommitID)
}

func TestMergeBothSidesSameChange(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	branchFrom(t, store, "feat", "main")

	// Both branches converge on an identical payload, fixed content id
	// included.
	left := tableContent("memory://wh/a/v0.json", 1)
	left.ContentID = "shared-id"
	right := tableContent("memory://wh/a/v0.json", 1)
	right.ContentID = "shared-id"
	mustCommit(t, store, "feat", putOp(object.NewKey("a"), left))
	mustCommit(t, store, "main", putOp(object.NewKey("a"), right))

	result, err := store.Merge(ctx, MergeRequest{SourceRef: "feat", TargetBranch: "main", Committer: "test"})
	require.NoError(t, err)
	assert.True(t, result.NoOp)
}

func TestMergeDeleteVsUntouched(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	mustCommit(t, store, "main", putOp(object.NewKey("a"), tableContent("memory://wh/a/v0.json", 1)))
	branchFrom(t, store, "feat", "main")
	mustCommit(t, store, "feat", CommitOperation{Key: object.NewKey("a"), Kind: object.OpDelete})

	_, err := store.Merge(ctx, MergeRequest{SourceRef: "feat", TargetBranch: "main", Committer: "test"})
	require.NoError(t, err)

	_, err = store.GetContent(ctx, "main", object.NewKey("a"))
	assert.Equal(t, CodeNotFound, CodeOf(err))
}
