package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasdf/tessera/object"
)

func TestTransplantReplaysCommits(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	branchFrom(t, store, "feat", "main")

	first := mustCommit(t, store, "feat", putOp(object.NewKey("a"), tableContent("memory://wh/a/v0.json", 1)))
	second := mustCommit(t, store, "feat", putOp(object.NewKey("b"), tableContent("memory://wh/b/v0.json", 1)))

	result, err := store.Transplant(ctx, TransplantRequest{
		TargetBranch: "main",
		Commits:      []object.ID{first.CommitID, second.CommitID},
		Committer:    "test",
	})
	require.NoError(t, err)
	require.False(t, result.NoOp)

	// Two synthesized commits on top of the old main head.
	page, err := store.CommitLog(ctx, "main", "", 2)
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.NotEqual(t, first.CommitID, page.Entries[1].ID)
	assert.Equal(t, first.Commit.Message, page.Entries[1].Commit.Message)

	contents, err := store.GetContents(ctx, "main", []object.Key{object.NewKey("a"), object.NewKey("b")})
	require.NoError(t, err)
	assert.Len(t, contents.Contents, 2)
}

func TestTransplantSquash(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	branchFrom(t, store, "feat", "main")

	before, err := store.GetRef(ctx, "main")
	require.NoError(t, err)

	first := mustCommit(t, store, "feat", putOp(object.NewKey("a"), tableContent("memory://wh/a/v0.json", 1)))
	second := mustCommit(t, store, "feat", putOp(object.NewKey("a"), tableContent("memory://wh/a/v1.json", 2)))

	result, err := store.Transplant(ctx, TransplantRequest{
		TargetBranch: "main",
		Commits:      []object.ID{first.CommitID, second.CommitID},
		Squash:       true,
		Committer:    "test",
		Message:      "squashed",
	})
	require.NoError(t, err)

	commit, err := store.FetchCommit(ctx, result.CommitID)
	require.NoError(t, err)
	require.Len(t, commit.Parents, 1)
	assert.Equal(t, before.Head, commit.Parents[0])
	assert.Equal(t, "squashed", commit.Message)

	content, err := store.GetContent(ctx, "main", object.NewKey("a"))
	require.NoError(t, err)
	assert.Equal(t, "memory://wh/a/v1.json", content.Table.MetadataLocation)
}

func TestTransplantConflict(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	branchFrom(t, store, "feat", "main")

	featCommit := mustCommit(t, store, "feat", putOp(object.NewKey("a"), tableContent("memory://wh/a/feat.json", 1)))
	mainHead := mustCommit(t, store, "main", putOp(object.NewKey("a"), tableContent("memory://wh/a/main.json", 2)))

	_, err := store.Transplant(ctx, TransplantRequest{
		TargetBranch: "main",
		Commits:      []object.ID{featCommit.CommitID},
		Committer:    "test",
	})
	require.Equal(t, CodeContentConflict, CodeOf(err))

	ref, err := store.GetRef(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, mainHead.CommitID, ref.Head)
}

func TestTransplantConflictPreferSource(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	branchFrom(t, store, "feat", "main")

	featCommit := mustCommit(t, store, "feat", putOp(object.NewKey("a"), tableContent("memory://wh/a/feat.json", 1)))
	mustCommit(t, store, "main", putOp(object.NewKey("a"), tableContent("memory://wh/a/main.json", 2)))

	_, err := store.Transplant(ctx, TransplantRequest{
		TargetBranch:    "main",
		Commits:         []object.ID{featCommit.CommitID},
		DefaultStrategy: StrategyPreferSource,
		Committer:       "test",
	})
	require.NoError(t, err)

	content, err := store.GetContent(ctx, "main", object.NewKey("a"))
	require.NoError(t, err)
	assert.Equal(t, "memory://wh/a/feat.json", content.Table.MetadataLocation)
}

func TestTransplantEmptyRequest(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Transplant(ctx, TransplantRequest{TargetBranch: "main"})
	assert.Equal(t, CodeInvalidArgument, CodeOf(err))
}
