package core

import (
	"context"

	"go.uber.org/zap"

	"github.com/nasdf/tessera/object"
)

// TransplantRequest describes replaying commits onto a target branch.
type TransplantRequest struct {
	// TargetBranch is the branch the commits are replayed onto.
	TargetBranch string
	// Commits are the source commits to replay, oldest first. Each is
	// replayed relative to its own first parent.
	Commits []object.ID
	// Squash collapses the replayed commits into a single commit.
	Squash bool
	// DefaultStrategy applies to keys without an override.
	DefaultStrategy MergeStrategy
	// KeyStrategies overrides the strategy per key, keyed by Key.MapKey().
	KeyStrategies map[string]MergeStrategy

	Committer string
	Message   string
}

// Transplant cherry picks the given commits onto the target branch. Each
// commit is rebased with a three way resolution against the state it lands
// on, the whole chain is built first, and the branch advances with a
// single swap from the observed head to the final commit.
func (s *Store) Transplant(ctx context.Context, req TransplantRequest) (*MergeResult, error) {
	if len(req.Commits) == 0 {
		return nil, Errorf(CodeInvalidArgument, "transplant request has no commits")
	}
	targetRef, err := s.GetRef(ctx, req.TargetBranch)
	if err != nil {
		return nil, err
	}
	if targetRef.Kind != object.KindBranch {
		return nil, Errorf(CodeInvalidArgument, "transplant target %q is a %s", req.TargetBranch, targetRef.Kind)
	}

	targetHead := targetRef.Head
	for attempt := 0; attempt < s.cfg.CommitRetries; attempt++ {
		result, err := s.tryTransplant(ctx, req, targetHead)
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
		s.log.Debug("retrying transplant after head race",
			zap.String("target", req.TargetBranch),
			zap.Int("attempt", attempt+1))
	}
	return nil, Errorf(CodeReferenceConflict, "branch %q kept moving, giving up", req.TargetBranch)
}

func (s *Store) tryTransplant(ctx context.Context, req TransplantRequest, targetHead object.ID) (*MergeResult, error) {
	newHead := targetHead
	var squashed []object.Operation
	var lastSource *object.Commit
	// pending tracks squashed changes not yet visible on any commit, so a
	// later step sees the effect of an earlier one.
	var pending map[string]object.ID
	if req.Squash {
		pending = make(map[string]object.ID)
	}

	for _, sourceID := range req.Commits {
		source, err := s.FetchCommit(ctx, sourceID)
		if err != nil {
			return nil, err
		}
		lastSource = source
		parentRoot := object.ZeroID
		if len(source.Parents) > 0 && !source.Parents[0].IsZero() {
			parentRoot, err = s.indexRootAt(ctx, source.Parents[0])
			if err != nil {
				return nil, err
			}
		}
		stepDiff, err := s.diffRoots(ctx, parentRoot, source.KeyIndexRoot)
		if err != nil {
			return nil, err
		}
		ops, conflicts, err := s.rebaseStep(ctx, stepDiff, newHead, pending, req.DefaultStrategy, req.KeyStrategies)
		if err != nil {
			return nil, err
		}
		if len(conflicts) > 0 {
			return nil, ConflictError(CodeContentConflict, "TransplantConflict", conflicts)
		}
		if req.Squash {
			squashed = append(squashed, ops...)
			for _, op := range ops {
				pending[op.Key.MapKey()] = op.PayloadRef
			}
			continue
		}
		if len(ops) == 0 {
			continue
		}
		var parents []object.ID
		if !newHead.IsZero() {
			parents = []object.ID{newHead}
		}
		meta := CommitMeta{
			Author:    source.Author,
			Committer: req.Committer,
			Message:   source.Message,
			Metadata:  source.Metadata,
		}
		newHead, _, err = s.writeCommit(ctx, parents, ops, meta)
		if err != nil {
			return nil, err
		}
	}

	if req.Squash {
		ops := dedupeOperations(squashed)
		if len(ops) > 0 {
			message := req.Message
			if message == "" && lastSource != nil {
				message = lastSource.Message
			}
			var parents []object.ID
			if !newHead.IsZero() {
				parents = []object.ID{newHead}
			}
			var err error
			newHead, _, err = s.writeCommit(ctx, parents, ops, CommitMeta{
				Committer: req.Committer,
				Message:   message,
			})
			if err != nil {
				return nil, err
			}
		}
	}

	if newHead == targetHead {
		return &MergeResult{CommitID: targetHead, NoOp: true}, nil
	}
	if err := s.UpdateRef(ctx, req.TargetBranch, targetHead, newHead); err != nil {
		return nil, err
	}
	s.log.Info("transplanted",
		zap.String("target", req.TargetBranch),
		zap.Int("commits", len(req.Commits)),
		zap.Stringer("head", newHead))
	return &MergeResult{CommitID: newHead}, nil
}

// rebaseStep resolves one source commit's changes against the state they
// land on. A key whose landing value matches neither the source commit's
// base nor its result changed independently and conflicts.
func (s *Store) rebaseStep(ctx context.Context, diff []DiffEntry, onto object.ID, pending map[string]object.ID, def MergeStrategy, overrides map[string]MergeStrategy) ([]object.Operation, []Conflict, error) {
	var ops []object.Operation
	var conflicts []Conflict
	for _, d := range diff {
		strategy := def
		if override, ok := overrides[d.Key.MapKey()]; ok {
			strategy = override
		}
		currentRef, ok := pending[d.Key.MapKey()]
		if !ok {
			current, err := s.valueAt(ctx, onto, d.Key)
			if err != nil {
				return nil, nil, err
			}
			if current != nil {
				currentRef = current.PayloadRef
			}
		}
		takeSource := true
		switch {
		case strategy == StrategyForce:
		case currentRef == d.ToRef:
			takeSource = false
		case currentRef == d.FromRef:
		default:
			switch strategy {
			case StrategyNormal:
				conflicts = append(conflicts, Conflict{
					Key:     d.Key,
					Kind:    ConflictPayloadDiffers,
					Message: "key changed independently on the target",
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
		if d.ToRef.IsZero() && currentRef.IsZero() {
			// Deleting a key that is already absent.
			continue
		}
		ops = append(ops, diffToOperation(d))
	}
	return ops, conflicts, nil
}

// dedupeOperations keeps the last operation per key, preserving key order
// of last occurrence as applied order does not matter within one commit.
func dedupeOperations(ops []object.Operation) []object.Operation {
	last := make(map[string]int, len(ops))
	for i, op := range ops {
		last[op.Key.MapKey()] = i
	}
	result := make([]object.Operation, 0, len(last))
	for i, op := range ops {
		if last[op.Key.MapKey()] == i {
			result = append(result, op)
		}
	}
	return result
}
