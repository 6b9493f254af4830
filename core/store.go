// Package core implements the versioned storage engine: the commit log and
// key index, the reference machinery, and the conflict-checked commit,
// merge, and transplant operations. All mutation serialization goes through
// the storage adapter's compare-and-swap; the engine holds no per-reference
// locks.
package core

import (
	"context"

	"go.uber.org/zap"

	"github.com/nasdf/tessera/codec"
	"github.com/nasdf/tessera/object"
	"github.com/nasdf/tessera/storage"
)

// Store is the versioned storage engine over a storage adapter. It is safe
// for concurrent use.
type Store struct {
	adapter storage.Adapter
	cfg     Config
	clock   Clock
	log     *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithConfig sets the store configuration.
func WithConfig(cfg Config) Option {
	return func(s *Store) { s.cfg = cfg }
}

// WithClock sets the clock used for commit and reference timestamps.
func WithClock(clock Clock) Option {
	return func(s *Store) { s.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Store) { s.log = log }
}

// NewStore returns a store using the given adapter.
func NewStore(adapter storage.Adapter, opts ...Option) *Store {
	s := &Store{
		adapter: adapter,
		cfg:     DefaultConfig(),
		clock:   SystemClock(),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cfg = s.cfg.withDefaults()
	return s
}

// Adapter returns the underlying storage adapter.
func (s *Store) Adapter() storage.Adapter {
	return s.adapter
}

// Clock returns the store clock.
func (s *Store) Clock() Clock {
	return s.clock
}

// InitRepository creates the repository descriptor and the default branch
// pointing at an empty root commit. Initializing an already initialized
// repository returns the existing descriptor.
func (s *Store) InitRepository(ctx context.Context) (*object.RepoDescriptor, error) {
	existing, err := s.Describe(ctx)
	if err == nil {
		return existing, nil
	}
	if CodeOf(err) != CodeNotFound {
		return nil, err
	}

	rootID, _, err := s.writeCommit(ctx, nil, nil, CommitMeta{Message: "repository root"})
	if err != nil {
		return nil, err
	}
	if _, err := s.CreateRef(ctx, s.cfg.DefaultBranch, object.KindBranch, rootID); err != nil {
		return nil, err
	}

	desc := &object.RepoDescriptor{
		DefaultBranch: s.cfg.DefaultBranch,
		CreatedAt:     s.clock.Now().UTC(),
	}
	data, err := codec.Encode(desc)
	if err != nil {
		return nil, Errorf(CodeInternal, "encode repo descriptor: %v", err)
	}
	err = s.retry(ctx, func() error {
		return s.adapter.CompareAndSwap(ctx, storage.RepoDesc, object.RepoDescriptorID(), nil, data)
	})
	if err != nil {
		if storage.ErrCasMismatch.Has(err) {
			// Lost the init race, the descriptor is there now.
			return s.Describe(ctx)
		}
		return nil, mapStorageErr(err)
	}
	s.log.Info("initialized repository", zap.String("default_branch", desc.DefaultBranch))
	return desc, nil
}

// Describe returns the repository descriptor.
func (s *Store) Describe(ctx context.Context) (*object.RepoDescriptor, error) {
	var data []byte
	err := s.retry(ctx, func() error {
		var err error
		data, err = s.adapter.Get(ctx, storage.RepoDesc, object.RepoDescriptorID())
		return err
	})
	if err != nil {
		return nil, mapStorageErr(err)
	}
	desc, err := codec.DecodeRepoDescriptor(data)
	if err != nil {
		return nil, Errorf(CodeInternal, "decode repo descriptor: %v", err)
	}
	return desc, nil
}

// retry wraps an adapter call with the configured backoff on transient
// backend failures.
func (s *Store) retry(ctx context.Context, fn func() error) error {
	return storage.WithRetry(ctx, s.cfg.Retry, fn)
}

// putObject encodes the value and stores it content addressed in the given
// bucket, returning its ID.
func (s *Store) putObject(ctx context.Context, bucket storage.Bucket, value any) (object.ID, error) {
	id, data, err := codec.EncodeWithID(value)
	if err != nil {
		return object.ZeroID, Errorf(CodeInternal, "encode object: %v", err)
	}
	err = s.retry(ctx, func() error {
		return s.adapter.Put(ctx, bucket, id, data)
	})
	if err != nil {
		// Content addressed writes are idempotent: an existing id always
		// holds the identical bytes, so AlreadyExists can not happen here
		// unless the hash is broken.
		return object.ZeroID, mapStorageErr(err)
	}
	return id, nil
}
