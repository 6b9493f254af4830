package storage

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/nasdf/tessera/object"
)

type memory struct {
	mu      sync.RWMutex
	buckets map[Bucket]map[object.ID][]byte
}

// NewMemory returns the reference in-memory adapter. It is safe for
// concurrent use and implements the full contract including CAS on every
// bucket.
func NewMemory() Adapter {
	return &memory{
		buckets: make(map[Bucket]map[object.ID][]byte),
	}
}

func (m *memory) bucket(b Bucket) map[object.ID][]byte {
	values, ok := m.buckets[b]
	if !ok {
		values = make(map[object.ID][]byte)
		m.buckets[b] = values
	}
	return values
}

func (m *memory) Get(ctx context.Context, b Bucket, id object.ID) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.buckets[b][id]
	if !ok {
		return nil, ErrNotFound.New("%s/%s", b, id)
	}
	return bytes.Clone(value), nil
}

func (m *memory) GetMany(ctx context.Context, b Bucket, ids []object.ID) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([][]byte, len(ids))
	for i, id := range ids {
		if value, ok := m.buckets[b][id]; ok {
			result[i] = bytes.Clone(value)
		}
	}
	return result, nil
}

func (m *memory) Put(ctx context.Context, b Bucket, id object.ID, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	values := m.bucket(b)
	if existing, ok := values[id]; ok {
		if bytes.Equal(existing, value) {
			return nil
		}
		return ErrAlreadyExists.New("%s/%s", b, id)
	}
	values[id] = bytes.Clone(value)
	return nil
}

func (m *memory) Delete(ctx context.Context, b Bucket, id object.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	values := m.bucket(b)
	if _, ok := values[id]; !ok {
		return ErrNotFound.New("%s/%s", b, id)
	}
	delete(values, id)
	return nil
}

func (m *memory) CompareAndSwap(ctx context.Context, b Bucket, id object.ID, expected, next []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	values := m.bucket(b)
	existing, ok := values[id]
	switch {
	case expected == nil && ok:
		return ErrCasMismatch.New("%s/%s exists", b, id)
	case expected != nil && !ok:
		return ErrCasMismatch.New("%s/%s missing", b, id)
	case expected != nil && !bytes.Equal(existing, expected):
		return ErrCasMismatch.New("%s/%s changed", b, id)
	}
	if next == nil {
		delete(values, id)
		return nil
	}
	values[id] = bytes.Clone(next)
	return nil
}

func (m *memory) Scan(ctx context.Context, b Bucket, prefix []byte, cursor object.ID, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]object.ID, 0, len(m.buckets[b]))
	for id := range m.buckets[b] {
		if !bytes.HasPrefix(id[:], prefix) {
			continue
		}
		if !cursor.IsZero() && id.Compare(cursor) <= 0 {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].Compare(ids[j]) < 0
	})
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	result := make([]Entry, len(ids))
	for i, id := range ids {
		result[i] = Entry{ID: id, Value: bytes.Clone(m.buckets[b][id])}
	}
	return result, nil
}

func (m *memory) Close() error {
	return nil
}
