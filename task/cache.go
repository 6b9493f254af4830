package task

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nasdf/tessera/object"
)

// ComputeFn materializes the value for a task key.
type ComputeFn func(ctx context.Context) ([]byte, error)

// Persistence stores successful results so later processes skip the
// computation. Implementations are best effort, errors are logged and
// never reach the caller's future.
type Persistence interface {
	// Load returns the persisted value, or nil when absent.
	Load(ctx context.Context, key object.ID) ([]byte, error)
	// Begin records that a computation for the key is in flight.
	Begin(ctx context.Context, key object.ID) error
	// Store persists the value.
	Store(ctx context.Context, key object.ID, value []byte) error
}

// Config holds the cache tunables.
type Config struct {
	// TTL is how long successful results are served from memory.
	TTL time.Duration `yaml:"ttl"`
	// FailureBackoff is how long a failed result is served before the
	// computation may run again.
	FailureBackoff time.Duration `yaml:"failure_backoff"`
	// Workers is the pool size for computations.
	Workers int `yaml:"workers"`
	// QueueSize bounds queued computations before Get fails with ErrBusy.
	QueueSize int `yaml:"queue_size"`
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		TTL:            time.Hour,
		FailureBackoff: 30 * time.Second,
		Workers:        4,
		QueueSize:      64,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.TTL <= 0 {
		c.TTL = def.TTL
	}
	if c.FailureBackoff <= 0 {
		c.FailureBackoff = def.FailureBackoff
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	return c
}

type entry struct {
	future      *Future[[]byte]
	state       object.TaskState
	completedAt time.Time
}

// Cache deduplicates computations per task key. At most one ComputeFn runs
// per key at a time; concurrent callers share the same future.
type Cache struct {
	cfg     Config
	pool    *Pool
	persist Persistence
	now     func() time.Time
	log     *zap.Logger

	mu      sync.Mutex
	entries map[object.ID]*entry
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithPersistence sets the best effort result store.
func WithPersistence(p Persistence) CacheOption {
	return func(c *Cache) { c.persist = p }
}

// WithNow sets the time source, for tests.
func WithNow(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// WithCacheLogger sets the logger.
func WithCacheLogger(log *zap.Logger) CacheOption {
	return func(c *Cache) { c.log = log }
}

// NewCache returns a cache running computations on its own pool.
func NewCache(cfg Config, opts ...CacheOption) *Cache {
	cfg = cfg.withDefaults()
	c := &Cache{
		cfg:     cfg,
		pool:    NewPool(cfg.Workers, cfg.QueueSize),
		now:     time.Now,
		log:     zap.NewNop(),
		entries: make(map[object.ID]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close stops the worker pool.
func (c *Cache) Close() {
	c.pool.Close()
}

// Get returns a future for the value at the task key, starting the
// computation when no usable entry exists. The computation outlives any
// individual caller detaching via context.
func (c *Cache) Get(ctx context.Context, key object.ID, compute ComputeFn) (*Future[[]byte], error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.usable(e) {
		c.mu.Unlock()
		return e.future, nil
	}
	c.mu.Unlock()

	// The backend read runs without the lock so one key's load never
	// stalls another key's Get.
	var loaded []byte
	if c.persist != nil {
		value, err := c.persist.Load(ctx, key)
		if err != nil {
			c.log.Warn("task cache load failed", zap.Stringer("key", key), zap.Error(err))
		} else {
			loaded = value
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another caller may have filled the entry during the load.
	if e, ok := c.entries[key]; ok && c.usable(e) {
		return e.future, nil
	}
	if loaded != nil {
		e := &entry{
			future:      Completed(loaded, nil),
			state:       object.TaskSuccess,
			completedAt: c.now(),
		}
		c.entries[key] = e
		return e.future, nil
	}

	e := &entry{
		future: NewFuture[[]byte](),
		state:  object.TaskRunning,
	}
	err := c.pool.Submit(func() {
		c.run(key, e, compute)
	})
	if err != nil {
		return nil, err
	}
	c.entries[key] = e
	return e.future, nil
}

// Put inserts an already computed value, replacing any existing entry.
// Persistence happens on the pool and never blocks the caller.
func (c *Cache) Put(key object.ID, value []byte) {
	c.mu.Lock()
	c.entries[key] = &entry{
		future:      Completed(value, nil),
		state:       object.TaskSuccess,
		completedAt: c.now(),
	}
	c.mu.Unlock()

	if c.persist == nil {
		return
	}
	err := c.pool.Submit(func() {
		if perr := c.persist.Store(context.Background(), key, value); perr != nil {
			c.log.Warn("task cache store failed", zap.Stringer("key", key), zap.Error(perr))
		}
	})
	if err != nil {
		c.log.Warn("task cache store skipped", zap.Stringer("key", key), zap.Error(err))
	}
}

// usable reports whether the entry may still serve callers.
func (c *Cache) usable(e *entry) bool {
	switch e.state {
	case object.TaskRunning:
		return true
	case object.TaskSuccess:
		return c.now().Before(e.completedAt.Add(c.cfg.TTL))
	case object.TaskFailure:
		return c.now().Before(e.completedAt.Add(c.cfg.FailureBackoff))
	default:
		return false
	}
}

// run executes the computation on a worker and completes the shared
// future. The computation is detached from caller contexts.
func (c *Cache) run(key object.ID, e *entry, compute ComputeFn) {
	if c.persist != nil {
		if perr := c.persist.Begin(context.Background(), key); perr != nil {
			c.log.Warn("task cache begin failed", zap.Stringer("key", key), zap.Error(perr))
		}
	}
	value, err := compute(context.Background())

	c.mu.Lock()
	if err != nil {
		e.state = object.TaskFailure
	} else {
		e.state = object.TaskSuccess
	}
	e.completedAt = c.now()
	c.mu.Unlock()

	e.future.complete(value, err)

	if err == nil && c.persist != nil {
		if perr := c.persist.Store(context.Background(), key, value); perr != nil {
			c.log.Warn("task cache store failed", zap.Stringer("key", key), zap.Error(perr))
		}
	}
}
