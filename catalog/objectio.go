// Package catalog layers Iceberg-aware commits over the versioned store:
// it runs the snapshot update state machine, emits metadata files through
// ObjectIO, and serves derived snapshots via the task cache.
package catalog

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/zeebo/errs"
)

// ErrIO classifies object storage failures.
var ErrIO = errs.Class("object io")

// ObjectIO reads and writes metadata files by URI.
type ObjectIO interface {
	WriteObject(ctx context.Context, uri string, data []byte) error
	ReadObject(ctx context.Context, uri string) ([]byte, error)
	IsValidURI(uri string) bool
}

// MemoryObjectIO keeps objects in memory. It backs tests and embedded
// setups without a real object store.
type MemoryObjectIO struct {
	mu      sync.Mutex
	objects map[string][]byte
	reads   int
}

// NewMemoryObjectIO returns an empty in-memory object store.
func NewMemoryObjectIO() *MemoryObjectIO {
	return &MemoryObjectIO{objects: make(map[string][]byte)}
}

// WriteObject stores the data at the URI.
func (m *MemoryObjectIO) WriteObject(ctx context.Context, uri string, data []byte) error {
	if !m.IsValidURI(uri) {
		return ErrIO.New("invalid uri %q", uri)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[uri] = append([]byte(nil), data...)
	return nil
}

// ReadObject returns the data at the URI.
func (m *MemoryObjectIO) ReadObject(ctx context.Context, uri string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	data, ok := m.objects[uri]
	if !ok {
		return nil, ErrIO.New("object %q not found", uri)
	}
	return append([]byte(nil), data...), nil
}

// IsValidURI reports whether the URI has a scheme and a path.
func (m *MemoryObjectIO) IsValidURI(uri string) bool {
	parsed, err := url.Parse(uri)
	return err == nil && parsed.Scheme != "" && !strings.Contains(uri, "..")
}

// Reads returns the number of ReadObject calls, for tests.
func (m *MemoryObjectIO) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}
