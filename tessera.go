// Package tessera is a transactional, versioned catalog for Iceberg
// tables and views. State lives in content addressed objects behind a
// pluggable storage adapter; named references move between immutable
// commits with compare-and-swap, giving Git-like branches, tags, merges,
// and diffs over catalog metadata.
package tessera

import (
	"context"

	"go.uber.org/zap"

	"github.com/nasdf/tessera/catalog"
	"github.com/nasdf/tessera/core"
	"github.com/nasdf/tessera/iceberg"
	"github.com/nasdf/tessera/storage"
	"github.com/nasdf/tessera/storage/badgerstore"
	"github.com/nasdf/tessera/task"
)

// Repository bundles the versioned store and the catalog service over one
// storage backend.
type Repository struct {
	// Store is the versioned storage engine.
	Store *core.Store
	// Catalog is the Iceberg catalog service.
	Catalog *catalog.Service

	adapter storage.Adapter
	cache   *task.Cache
	log     *zap.Logger
}

// Option configures a Repository.
type Option func(*repoOptions)

type repoOptions struct {
	adapter storage.Adapter
	io      catalog.ObjectIO
	codec   iceberg.Codec
	clock   core.Clock
	log     *zap.Logger
}

// WithAdapter overrides the storage backend selected by the config.
func WithAdapter(adapter storage.Adapter) Option {
	return func(o *repoOptions) { o.adapter = adapter }
}

// WithObjectIO sets the object store for metadata files.
func WithObjectIO(io catalog.ObjectIO) Option {
	return func(o *repoOptions) { o.io = io }
}

// WithMetadataCodec sets the metadata file codec.
func WithMetadataCodec(codec iceberg.Codec) Option {
	return func(o *repoOptions) { o.codec = codec }
}

// WithClock sets the clock, for tests.
func WithClock(clock core.Clock) Option {
	return func(o *repoOptions) { o.clock = clock }
}

// WithLogger sets the logger for all components.
func WithLogger(log *zap.Logger) Option {
	return func(o *repoOptions) { o.log = log }
}

// Open initializes a repository from the config, creating the default
// branch on first use.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Repository, error) {
	options := &repoOptions{
		io:    catalog.NewMemoryObjectIO(),
		codec: iceberg.JSONCodec{},
		clock: core.SystemClock(),
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(options)
	}

	adapter := options.adapter
	if adapter == nil {
		if cfg.Storage.InMemory {
			adapter = storage.NewMemory()
		} else {
			var err error
			adapter, err = badgerstore.New(badgerstore.Options{
				Path:   cfg.Storage.Path,
				Logger: options.log,
			})
			if err != nil {
				return nil, err
			}
		}
	}

	store := core.NewStore(adapter,
		core.WithConfig(cfg.Store),
		core.WithClock(options.clock),
		core.WithLogger(options.log.Named("core")))
	if _, err := store.InitRepository(ctx); err != nil {
		_ = adapter.Close()
		return nil, err
	}

	cache := task.NewCache(cfg.Tasks,
		task.WithPersistence(task.NewStorePersistence(adapter)),
		task.WithCacheLogger(options.log.Named("tasks")))

	service := catalog.NewService(store, options.io,
		catalog.WithConfig(cfg.Catalog),
		catalog.WithCodec(options.codec),
		catalog.WithCache(cache),
		catalog.WithLogger(options.log.Named("catalog")))

	return &Repository{
		Store:   store,
		Catalog: service,
		adapter: adapter,
		cache:   cache,
		log:     options.log,
	}, nil
}

// Close releases the snapshot cache and the storage backend.
func (r *Repository) Close() error {
	r.cache.Close()
	return r.adapter.Close()
}
