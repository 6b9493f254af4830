package core

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nasdf/tessera/codec"
	"github.com/nasdf/tessera/object"
	"github.com/nasdf/tessera/storage"
)

// Requirement is a per-operation precondition checked against the branch
// state the commit lands on.
type Requirement uint8

const (
	// ReqNone performs no precondition check.
	ReqNone Requirement = iota
	// ReqMustNotExist fails the commit when the key is already present.
	ReqMustNotExist
	// ReqMustExist fails the commit when the key is absent.
	ReqMustExist
)

// CommitOperation is one keyed change in a commit request.
type CommitOperation struct {
	// Key is the key to change.
	Key object.Key
	// Kind is OpPut or OpDelete.
	Kind object.OpKind
	// Content is the payload for puts.
	Content *object.Content
	// Requirement is the precondition for this key.
	Requirement Requirement
	// ExpectedRef, when non-zero, requires the key's current payload to
	// still be this blob.
	ExpectedRef object.ID
}

// CommitRequest describes a commit against a branch.
type CommitRequest struct {
	// Branch is the branch to advance.
	Branch string
	// ExpectedHead, when non-nil, requires the branch head to match before
	// committing. A mismatch fails without retrying.
	ExpectedHead *object.ID
	// Operations are the keyed changes.
	Operations []CommitOperation

	Author    string
	Committer string
	Message   string
	Metadata  map[string]string
}

// CommitResult is the outcome of a commit request.
type CommitResult struct {
	// CommitID is the new branch head. When NoOp is set it is the unchanged
	// previous head.
	CommitID object.ID
	// Commit is the written commit, nil when NoOp is set.
	Commit *object.Commit
	// NoOp reports that every operation matched the existing state and no
	// commit was written.
	NoOp bool
}

// Commit applies the request's operations to the branch, checking each
// operation's precondition against the head the commit lands on. Lost
// head races are retried with preconditions re-evaluated, up to the
// configured bound.
func (s *Store) Commit(ctx context.Context, req CommitRequest) (*CommitResult, error) {
	if len(req.Operations) == 0 {
		return nil, Errorf(CodeInvalidArgument, "commit request has no operations")
	}
	ref, err := s.GetRef(ctx, req.Branch)
	if err != nil {
		return nil, err
	}
	if ref.Kind != object.KindBranch {
		return nil, Errorf(CodeInvalidArgument, "reference %q is a %s, commits need a branch", req.Branch, ref.Kind)
	}
	if req.ExpectedHead != nil && ref.Head != *req.ExpectedHead {
		return nil, Errorf(CodeReferenceConflict, "branch %q is at %s, expected %s", req.Branch, ref.Head, *req.ExpectedHead)
	}

	head := ref.Head
	for attempt := 0; attempt < s.cfg.CommitRetries; attempt++ {
		result, err := s.tryCommit(ctx, req, head)
		if err == nil {
			return result, nil
		}
		if CodeOf(err) != CodeReferenceConflict || req.ExpectedHead != nil {
			return nil, err
		}
		ref, err = s.GetRef(ctx, req.Branch)
		if err != nil {
			return nil, err
		}
		head = ref.Head
		s.log.Debug("retrying commit after head race",
			zap.String("branch", req.Branch),
			zap.Int("attempt", attempt+1))
	}
	return nil, Errorf(CodeReferenceConflict, "branch %q kept moving, giving up", req.Branch)
}

// tryCommit evaluates preconditions against head, writes the commit, and
// advances the branch with a single CAS.
func (s *Store) tryCommit(ctx context.Context, req CommitRequest, head object.ID) (*CommitResult, error) {
	root, err := s.indexRootAt(ctx, head)
	if err != nil {
		return nil, err
	}

	var conflicts []Conflict
	ops := make([]object.Operation, 0, len(req.Operations))
	changed := false
	for _, cop := range req.Operations {
		existing, err := s.lookupIndex(ctx, root, cop.Key)
		if err != nil {
			return nil, err
		}
		if c := checkRequirement(cop, existing); c != nil {
			conflicts = append(conflicts, *c)
			continue
		}
		switch cop.Kind {
		case object.OpPut:
			op, putChanged, err := s.preparePut(ctx, cop, existing)
			if err != nil {
				return nil, err
			}
			ops = append(ops, op)
			changed = changed || putChanged
		case object.OpDelete:
			if existing == nil {
				conflicts = append(conflicts, Conflict{
					Key:     cop.Key,
					Kind:    ConflictKeyDoesNotExist,
					Message: "key does not exist",
				})
				continue
			}
			ops = append(ops, object.Operation{
				Key:         cop.Key,
				Kind:        object.OpDelete,
				ContentID:   existing.ContentID,
				ContentType: existing.ContentType,
			})
			changed = true
		default:
			return nil, Errorf(CodeInvalidArgument, "unsupported operation kind %s", cop.Kind)
		}
	}
	if len(conflicts) > 0 {
		return nil, ConflictError(CodeContentConflict, "CommitConflict", conflicts)
	}
	if !changed {
		return &CommitResult{CommitID: head, NoOp: true}, nil
	}

	meta := CommitMeta{
		Author:    req.Author,
		Committer: req.Committer,
		Message:   req.Message,
		Metadata:  req.Metadata,
	}
	var parents []object.ID
	if !head.IsZero() {
		parents = []object.ID{head}
	}
	commitID, commit, err := s.writeCommit(ctx, parents, ops, meta)
	if err != nil {
		return nil, err
	}
	if err := s.UpdateRef(ctx, req.Branch, head, commitID); err != nil {
		return nil, err
	}
	s.log.Debug("committed",
		zap.String("branch", req.Branch),
		zap.Stringer("commit", commitID),
		zap.Int("operations", len(ops)))
	return &CommitResult{CommitID: commitID, Commit: commit}, nil
}

func checkRequirement(cop CommitOperation, existing *object.IndexEntry) *Conflict {
	switch cop.Requirement {
	case ReqMustNotExist:
		if existing != nil {
			return &Conflict{Key: cop.Key, Kind: ConflictKeyExists, Message: "key already exists"}
		}
	case ReqMustExist:
		if existing == nil {
			return &Conflict{Key: cop.Key, Kind: ConflictKeyDoesNotExist, Message: "key does not exist"}
		}
	}
	if !cop.ExpectedRef.IsZero() {
		if existing == nil || existing.PayloadRef != cop.ExpectedRef {
			return &Conflict{Key: cop.Key, Kind: ConflictPayloadDiffers, Message: "payload changed since it was read"}
		}
	}
	return nil
}

// preparePut assigns the content id, stores the payload blob, and detects
// puts that leave the key's value unchanged.
func (s *Store) preparePut(ctx context.Context, cop CommitOperation, existing *object.IndexEntry) (object.Operation, bool, error) {
	if cop.Content == nil {
		return object.Operation{}, false, Errorf(CodeInvalidArgument, "put for key %s has no content", cop.Key)
	}
	content := *cop.Content
	switch {
	case existing != nil:
		// The logical id sticks to the key for the lifetime of the entity.
		content.ContentID = existing.ContentID
	case content.ContentID == "":
		content.ContentID = uuid.NewString()
	}
	payloadRef, err := s.putObject(ctx, storage.Attachments, &content)
	if err != nil {
		return object.Operation{}, false, err
	}
	op := object.Operation{
		Key:         cop.Key,
		Kind:        object.OpPut,
		PayloadRef:  payloadRef,
		ContentID:   content.ContentID,
		ContentType: content.Type,
	}
	if existing != nil && existing.PayloadRef == payloadRef {
		op.Kind = object.OpUnchanged
		return op, false, nil
	}
	return op, true, nil
}

// ContentsResult holds the payloads read at a single resolved commit.
type ContentsResult struct {
	// EffectiveHead is the commit all contents were read at.
	EffectiveHead object.ID
	// Contents maps Key.MapKey renderings to payloads. Absent keys are
	// omitted.
	Contents map[string]*object.Content
}

// GetContents reads multiple keys at the commit the reference spec resolves
// to. All lookups observe the same commit.
func (s *Store) GetContents(ctx context.Context, refSpec string, keys []object.Key) (*ContentsResult, error) {
	_, head, err := s.resolveRef(ctx, refSpec)
	if err != nil {
		return nil, err
	}
	root, err := s.indexRootAt(ctx, head)
	if err != nil {
		return nil, err
	}
	result := &ContentsResult{
		EffectiveHead: head,
		Contents:      make(map[string]*object.Content, len(keys)),
	}
	for _, key := range keys {
		entry, err := s.lookupIndex(ctx, root, key)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			continue
		}
		content, err := s.loadContent(ctx, entry.PayloadRef)
		if err != nil {
			return nil, err
		}
		result.Contents[key.MapKey()] = content
	}
	return result, nil
}

// GetContent reads a single key at the commit the reference spec resolves
// to, failing with NotFound when the key is absent.
func (s *Store) GetContent(ctx context.Context, refSpec string, key object.Key) (*object.Content, error) {
	result, err := s.GetContents(ctx, refSpec, []object.Key{key})
	if err != nil {
		return nil, err
	}
	content, ok := result.Contents[key.MapKey()]
	if !ok {
		return nil, Errorf(CodeNotFound, "key %s not found on %s", key, refSpec)
	}
	return content, nil
}

// Entries pages through the keys visible at the commit the reference spec
// resolves to, in key order, optionally filtered by key prefix.
func (s *Store) Entries(ctx context.Context, refSpec string, prefix object.Key, cursor string, limit int) (*ScanPage, error) {
	_, head, err := s.resolveRef(ctx, refSpec)
	if err != nil {
		return nil, err
	}
	root, err := s.indexRootAt(ctx, head)
	if err != nil {
		return nil, err
	}
	return s.scanIndex(ctx, root, prefix, cursor, limit)
}

// loadContent fetches and decodes a content payload blob.
func (s *Store) loadContent(ctx context.Context, payloadRef object.ID) (*object.Content, error) {
	var data []byte
	err := s.retry(ctx, func() error {
		var err error
		data, err = s.adapter.Get(ctx, storage.Attachments, payloadRef)
		return err
	})
	if err != nil {
		return nil, mapStorageErr(err)
	}
	content, err := codec.DecodeContent(data)
	if err != nil {
		return nil, Errorf(CodeInternal, "decode content %s: %v", payloadRef, err)
	}
	return content, nil
}
