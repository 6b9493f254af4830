package core

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nasdf/tessera/object"
)

// MergeStrategy selects how a conflicting key is resolved.
type MergeStrategy uint8

const (
	// StrategyNormal fails the merge on conflicting keys.
	StrategyNormal MergeStrategy = iota
	// StrategyForce takes the source value for every changed key.
	StrategyForce
	// StrategyDrop leaves conflicting keys at the target value.
	StrategyDrop
	// StrategyPreferSource takes the source value on conflict.
	StrategyPreferSource
	// StrategyPreferTarget keeps the target value on conflict.
	StrategyPreferTarget
)

// String returns the name of the strategy.
func (m MergeStrategy) String() string {
	switch m {
	case StrategyNormal:
		return "Normal"
	case StrategyForce:
		return "Force"
	case StrategyDrop:
		return "Drop"
	case StrategyPreferSource:
		return "PreferSource"
	case StrategyPreferTarget:
		return "PreferTarget"
	default:
		return "Unknown"
	}
}

// MergeRequest describes merging a source reference into a target branch.
type MergeRequest struct {
	// SourceRef is the reference spec whose changes are merged.
	SourceRef string
	// TargetBranch is the branch receiving the merge commit.
	TargetBranch string
	// DefaultStrategy applies to keys without an override.
	DefaultStrategy MergeStrategy
	// KeyStrategies overrides the strategy per key, keyed by Key.MapKey().
	KeyStrategies map[string]MergeStrategy

	Committer string
	Message   string
}

// MergeResult is the outcome of a merge or transplant.
type MergeResult struct {
	// CommitID is the resulting target head.
	CommitID object.ID
	// NoOp reports that the target already contained the source changes.
	NoOp bool
}

// Merge performs a three way merge of the source reference into the target
// branch. The merge base is the nearest common ancestor; both sides are
// diffed against it and resolved key by key. The merge commit records the
// previous target head first and the source commit second.
func (s *Store) Merge(ctx context.Context, req MergeRequest) (*MergeResult, error) {
	targetRef, err := s.GetRef(ctx, req.TargetBranch)
	if err != nil {
		return nil, err
	}
	if targetRef.Kind != object.KindBranch {
		return nil, Errorf(CodeInvalidArgument, "merge target %q is a %s", req.TargetBranch, targetRef.Kind)
	}
	_, sourceHead, err := s.resolveRef(ctx, req.SourceRef)
	if err != nil {
		return nil, err
	}
	if sourceHead.IsZero() {
		return nil, Errorf(CodeInvalidArgument, "merge source %q has no commits", req.SourceRef)
	}

	targetHead := targetRef.Head
	for attempt := 0; attempt < s.cfg.CommitRetries; attempt++ {
		result, err := s.tryMerge(ctx, req, sourceHead, targetHead)
		if err == nil {
			return result, nil
		}
		if CodeOf(err) != CodeReferenceConflict {
			return nil, err
		}
		ref, err := s.GetRef(ctx, req.TargetBranch)
		if err != nil {
			return nil, err
		}
		targetHead = ref.Head
		s.log.Debug("retrying merge after head race",
			zap.String("target", req.TargetBranch),
			zap.Int("attempt", attempt+1))
	}
	return nil, Errorf(CodeReferenceConflict, "branch %q kept moving, giving up", req.TargetBranch)
}

func (s *Store) tryMerge(ctx context.Context, req MergeRequest, sourceHead, targetHead object.ID) (*MergeResult, error) {
	ancestor, err := s.isAncestor(ctx, sourceHead, targetHead)
	if err != nil {
		return nil, err
	}
	if ancestor {
		// Everything from the source is already on the target.
		return &MergeResult{CommitID: targetHead, NoOp: true}, nil
	}

	base, err := s.mergeBase(ctx, sourceHead, targetHead)
	if err != nil {
		return nil, err
	}
	ops, conflicts, err := s.resolveMerge(ctx, base, sourceHead, targetHead, req.DefaultStrategy, req.KeyStrategies)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		return nil, ConflictError(CodeContentConflict, "MergeConflict", conflicts)
	}
	if len(ops) == 0 {
		return &MergeResult{CommitID: targetHead, NoOp: true}, nil
	}

	message := req.Message
	if message == "" {
		message = fmt.Sprintf("merge %s into %s", req.SourceRef, req.TargetBranch)
	}
	meta := CommitMeta{Committer: req.Committer, Message: message}
	commitID, _, err := s.writeCommit(ctx, []object.ID{targetHead, sourceHead}, ops, meta)
	if err != nil {
		return nil, err
	}
	if err := s.UpdateRef(ctx, req.TargetBranch, targetHead, commitID); err != nil {
		return nil, err
	}
	s.log.Info("merged",
		zap.String("source", req.SourceRef),
		zap.String("target", req.TargetBranch),
		zap.Stringer("commit", commitID))
	return &MergeResult{CommitID: commitID}, nil
}

// resolveMerge diffs both sides against the base and produces the target
// operations per the strategies, collecting unresolved conflicts.
func (s *Store) resolveMerge(ctx context.Context, base, source, target object.ID, def MergeStrategy, overrides map[string]MergeStrategy) ([]object.Operation, []Conflict, error) {
	baseRoot, err := s.indexRootAt(ctx, base)
	if err != nil {
		return nil, nil, err
	}
	sourceRoot, err := s.indexRootAt(ctx, source)
	if err != nil {
		return nil, nil, err
	}
	targetRoot, err := s.indexRootAt(ctx, target)
	if err != nil {
		return nil, nil, err
	}
	sourceDiff, err := s.diffRoots(ctx, baseRoot, sourceRoot)
	if err != nil {
		return nil, nil, err
	}
	targetDiff, err := s.diffRoots(ctx, baseRoot, targetRoot)
	if err != nil {
		return nil, nil, err
	}
	targetChanges := make(map[string]DiffEntry, len(targetDiff))
	for _, d := range targetDiff {
		targetChanges[d.Key.MapKey()] = d
	}

	var ops []object.Operation
	var conflicts []Conflict
	for _, sd := range sourceDiff {
		strategy := def
		if override, ok := overrides[sd.Key.MapKey()]; ok {
			strategy = override
		}
		td, targetChanged := targetChanges[sd.Key.MapKey()]
		takeSource := true
		switch {
		case strategy == StrategyForce:
			// Source always wins, even against target-side changes.
		case !targetChanged:
			// Only the source touched this key.
		case td.ToRef == sd.ToRef:
			// Both sides converged on the same value.
			takeSource = false
		default:
			switch strategy {
			case StrategyNormal:
				conflicts = append(conflicts, Conflict{
					Key:     sd.Key,
					Kind:    ConflictPayloadDiffers,
					Message: "key changed on both sides",
				})
				continue
			case StrategyDrop, StrategyPreferTarget:
				takeSource = false
			case StrategyPreferSource:
			}
		}
		if !takeSource {
			continue
		}
		ops = append(ops, diffToOperation(sd))
	}
	return ops, conflicts, nil
}

// diffToOperation converts a base-to-source diff entry into the operation
// that replays it on the target.
func diffToOperation(d DiffEntry) object.Operation {
	if d.ToRef.IsZero() {
		return object.Operation{
			Key:         d.Key,
			Kind:        object.OpDelete,
			ContentID:   d.FromContentID,
			ContentType: d.FromType,
		}
	}
	return object.Operation{
		Key:         d.Key,
		Kind:        object.OpPut,
		PayloadRef:  d.ToRef,
		ContentID:   d.ToContentID,
		ContentType: d.ToType,
	}
}

// mergeBase returns the nearest common ancestor of the two commits, or the
// zero ID when their histories are unrelated.
func (s *Store) mergeBase(ctx context.Context, a, b object.ID) (object.ID, error) {
	if a == b {
		return a, nil
	}
	ancestors := make(map[object.ID]struct{})
	queue := []object.ID{a}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, ok := ancestors[id]; ok || id.IsZero() {
			continue
		}
		ancestors[id] = struct{}{}
		commit, err := s.FetchCommit(ctx, id)
		if err != nil {
			return object.ZeroID, err
		}
		queue = append(queue, commit.Parents...)
	}

	// Breadth first from b, the first commit also reachable from a is the
	// nearest common ancestor.
	visited := make(map[object.ID]struct{})
	queue = []object.ID{b}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, ok := visited[id]; ok || id.IsZero() {
			continue
		}
		visited[id] = struct{}{}
		if _, ok := ancestors[id]; ok {
			return id, nil
		}
		commit, err := s.FetchCommit(ctx, id)
		if err != nil {
			return object.ZeroID, err
		}
		queue = append(queue, commit.Parents...)
	}
	return object.ZeroID, nil
}

// isAncestor reports whether ancestor is reachable from descendant.
func (s *Store) isAncestor(ctx context.Context, ancestor, descendant object.ID) (bool, error) {
	if ancestor.IsZero() {
		return true, nil
	}
	visited := make(map[object.ID]struct{})
	queue := []object.ID{descendant}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id == ancestor {
			return true, nil
		}
		if _, ok := visited[id]; ok || id.IsZero() {
			continue
		}
		visited[id] = struct{}{}
		commit, err := s.FetchCommit(ctx, id)
		if err != nil {
			return false, err
		}
		queue = append(queue, commit.Parents...)
	}
	return false, nil
}
