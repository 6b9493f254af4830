package core

import (
	"context"
	"time"

	"github.com/nasdf/tessera/codec"
	"github.com/nasdf/tessera/object"
	"github.com/nasdf/tessera/storage"
)

// CommitMeta carries the descriptive fields of a new commit.
type CommitMeta struct {
	Author    string
	Committer string
	Message   string
	Metadata  map[string]string
}

// writeCommit builds and stores a commit on top of the first parent,
// applying the operations to the parent's key index. A nil parent list
// creates a root commit over the empty index.
func (s *Store) writeCommit(ctx context.Context, parents []object.ID, ops []object.Operation, meta CommitMeta) (object.ID, *object.Commit, error) {
	for _, op := range ops {
		if err := op.Key.Validate(); err != nil {
			return object.ZeroID, nil, Errorf(CodeInvalidArgument, "invalid key: %v", err)
		}
	}
	parentRoot := object.ZeroID
	if len(parents) > 0 && !parents[0].IsZero() {
		parent, err := s.FetchCommit(ctx, parents[0])
		if err != nil {
			return object.ZeroID, nil, err
		}
		parentRoot = parent.KeyIndexRoot
	}
	newRoot, err := s.applyOperations(ctx, parentRoot, ops)
	if err != nil {
		return object.ZeroID, nil, err
	}
	commit := &object.Commit{
		Parents:      parents,
		Author:       meta.Author,
		Committer:    meta.Committer,
		CommitTime:   s.clock.Now().UTC().Truncate(time.Microsecond),
		Message:      meta.Message,
		Operations:   ops,
		KeyIndexRoot: newRoot,
		Metadata:     meta.Metadata,
	}
	id, err := s.putObject(ctx, storage.Commits, commit)
	if err != nil {
		return object.ZeroID, nil, err
	}
	return id, commit, nil
}

// FetchCommit returns the commit with the given ID.
func (s *Store) FetchCommit(ctx context.Context, id object.ID) (*object.Commit, error) {
	var data []byte
	err := s.retry(ctx, func() error {
		var err error
		data, err = s.adapter.Get(ctx, storage.Commits, id)
		return err
	})
	if err != nil {
		return nil, mapStorageErr(err)
	}
	commit, err := codec.DecodeCommit(data)
	if err != nil {
		return nil, Errorf(CodeInternal, "decode commit %s: %v", id, err)
	}
	return commit, nil
}

// FetchMany returns the commits with the given IDs in order, with nil
// entries for misses.
func (s *Store) FetchMany(ctx context.Context, ids []object.ID) ([]*object.Commit, error) {
	var values [][]byte
	err := s.retry(ctx, func() error {
		var err error
		values, err = s.adapter.GetMany(ctx, storage.Commits, ids)
		return err
	})
	if err != nil {
		return nil, mapStorageErr(err)
	}
	commits := make([]*object.Commit, len(ids))
	for i, data := range values {
		if data == nil {
			continue
		}
		commit, err := codec.DecodeCommit(data)
		if err != nil {
			return nil, Errorf(CodeInternal, "decode commit %s: %v", ids[i], err)
		}
		commits[i] = commit
	}
	return commits, nil
}

// LogEntry is one commit in a log page.
type LogEntry struct {
	ID     object.ID
	Commit *object.Commit
}

// LogPage is one page of the commit log.
type LogPage struct {
	Entries []LogEntry
	// Cursor resumes the log when non-empty.
	Cursor string
}

// CommitLog walks the first-parent chain of the given reference backwards.
func (s *Store) CommitLog(ctx context.Context, refSpec string, cursor string, limit int) (*LogPage, error) {
	_, head, err := s.resolveRef(ctx, refSpec)
	if err != nil {
		return nil, err
	}
	current := head
	if cursor != "" {
		current, err = object.ParseID(cursor)
		if err != nil {
			return nil, Errorf(CodeInvalidArgument, "malformed log cursor: %v", err)
		}
	}
	page := &LogPage{}
	for !current.IsZero() {
		if limit > 0 && len(page.Entries) >= limit {
			page.Cursor = current.String()
			return page, nil
		}
		commit, err := s.FetchCommit(ctx, current)
		if err != nil {
			return nil, err
		}
		page.Entries = append(page.Entries, LogEntry{ID: current, Commit: commit})
		if len(commit.Parents) == 0 {
			break
		}
		current = commit.Parents[0]
	}
	return page, nil
}

// valueAt returns the index entry for the key as of the given commit, or
// nil if the key is absent. A zero commit is the empty state.
func (s *Store) valueAt(ctx context.Context, commitID object.ID, key object.Key) (*object.IndexEntry, error) {
	if commitID.IsZero() {
		return nil, nil
	}
	commit, err := s.FetchCommit(ctx, commitID)
	if err != nil {
		return nil, err
	}
	return s.lookupIndex(ctx, commit.KeyIndexRoot, key)
}

// indexRootAt returns the key index root as of the given commit.
func (s *Store) indexRootAt(ctx context.Context, commitID object.ID) (object.ID, error) {
	if commitID.IsZero() {
		return object.ZeroID, nil
	}
	commit, err := s.FetchCommit(ctx, commitID)
	if err != nil {
		return object.ZeroID, err
	}
	return commit.KeyIndexRoot, nil
}
