package task

import (
	"context"
	"time"

	"github.com/nasdf/tessera/codec"
	"github.com/nasdf/tessera/object"
	"github.com/nasdf/tessera/storage"
)

// DefaultLeaseWindow bounds how long a Running entry blocks a takeover by
// another process.
const DefaultLeaseWindow = 5 * time.Minute

// StorePersistence persists task entries in the tasks bucket of a storage
// adapter. A computation first records a Running entry holding a lease,
// then replaces it with the Success entry; entries whose lease expired may
// be taken over.
type StorePersistence struct {
	adapter storage.Adapter
	lease   time.Duration
	now     func() time.Time
}

// NewStorePersistence returns a Persistence over the adapter.
func NewStorePersistence(adapter storage.Adapter) *StorePersistence {
	return &StorePersistence{
		adapter: adapter,
		lease:   DefaultLeaseWindow,
		now:     time.Now,
	}
}

// Load returns the persisted value for the key, or nil when absent or not
// a successful entry.
func (p *StorePersistence) Load(ctx context.Context, key object.ID) ([]byte, error) {
	data, err := p.adapter.Get(ctx, storage.Tasks, key)
	if err != nil {
		if storage.ErrNotFound.Has(err) {
			return nil, nil
		}
		return nil, err
	}
	entry, err := codec.DecodeTaskEntry(data)
	if err != nil {
		return nil, err
	}
	if entry.State != object.TaskSuccess {
		return nil, nil
	}
	return entry.Value, nil
}

// Begin records a Running entry holding a lease. A Success entry or a
// Running entry with an unexpired lease is left alone; losing the swap
// means a concurrent writer claimed the slot first, which is harmless.
func (p *StorePersistence) Begin(ctx context.Context, key object.ID) error {
	current, err := p.currentEntry(ctx, key)
	if err != nil {
		return err
	}
	if current != nil {
		prev, err := codec.DecodeTaskEntry(current)
		if err != nil {
			return err
		}
		if prev.State == object.TaskSuccess {
			return nil
		}
		if prev.State == object.TaskRunning && p.now().Before(prev.Lease) {
			return nil
		}
	}
	started := p.now().UTC().Truncate(time.Microsecond)
	data, err := codec.Encode(&object.TaskEntry{
		State:     object.TaskRunning,
		StartedAt: started,
		Lease:     started.Add(p.lease),
	})
	if err != nil {
		return err
	}
	err = p.adapter.CompareAndSwap(ctx, storage.Tasks, key, current, data)
	if err != nil && storage.ErrCasMismatch.Has(err) {
		return nil
	}
	return err
}

// Store replaces the current entry with a successful result. Task results
// are derived data, so a concurrent writer storing the same key is
// harmless and not an error.
func (p *StorePersistence) Store(ctx context.Context, key object.ID, value []byte) error {
	current, err := p.currentEntry(ctx, key)
	if err != nil {
		return err
	}
	started := p.now().UTC().Truncate(time.Microsecond)
	if current != nil {
		prev, err := codec.DecodeTaskEntry(current)
		if err == nil {
			if prev.State == object.TaskSuccess {
				return nil
			}
			if !prev.StartedAt.IsZero() {
				started = prev.StartedAt
			}
		}
	}
	data, err := codec.Encode(&object.TaskEntry{
		State:     object.TaskSuccess,
		Value:     value,
		StartedAt: started,
	})
	if err != nil {
		return err
	}
	err = p.adapter.CompareAndSwap(ctx, storage.Tasks, key, current, data)
	if err != nil && storage.ErrCasMismatch.Has(err) {
		return nil
	}
	return err
}

func (p *StorePersistence) currentEntry(ctx context.Context, key object.ID) ([]byte, error) {
	data, err := p.adapter.Get(ctx, storage.Tasks, key)
	if err != nil {
		if storage.ErrNotFound.Has(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}
