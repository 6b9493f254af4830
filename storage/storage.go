// Package storage defines the adapter contract between the versioned store
// and its backing key-value database. Adapters expose typed buckets of
// immutable objects plus compare-and-swap on the mutable buckets; the CAS
// is the sole serializer for reference updates.
package storage

import (
	"context"

	"github.com/zeebo/errs"

	"github.com/nasdf/tessera/object"
)

// Bucket names a typed object namespace within an adapter.
type Bucket string

const (
	// Commits holds commit objects.
	Commits Bucket = "commits"
	// Segments holds key index segments and segment index nodes.
	Segments Bucket = "segments"
	// Refs holds reference objects, updated via CompareAndSwap.
	Refs Bucket = "refs"
	// RefNames holds the paginated reference name registry.
	RefNames Bucket = "refnames"
	// RepoDesc holds the repository descriptor singleton.
	RepoDesc Bucket = "repodesc"
	// Attachments holds content blobs and persisted derived snapshots.
	Attachments Bucket = "attachments"
	// Tasks holds persisted async task entries.
	Tasks Bucket = "tasks"
)

var (
	// ErrNotFound means the requested object does not exist.
	ErrNotFound = errs.Class("not found")
	// ErrAlreadyExists means a put found the id bound to different bytes.
	ErrAlreadyExists = errs.Class("already exists")
	// ErrCasMismatch means a compare-and-swap lost the race.
	ErrCasMismatch = errs.Class("cas mismatch")
	// ErrUnavailable means the backend failed transiently and the call may
	// be retried.
	ErrUnavailable = errs.Class("backend unavailable")
	// ErrFatal means the backend failed permanently.
	ErrFatal = errs.Class("backend fatal")
)

// Entry is a single scanned object.
type Entry struct {
	ID    object.ID
	Value []byte
}

// Adapter is the narrow contract every backend implements. All objects are
// addressed by (bucket, id); the adapter chooses the physical encoding.
type Adapter interface {
	// Get returns the bytes stored at the given id.
	Get(ctx context.Context, bucket Bucket, id object.ID) ([]byte, error)

	// GetMany returns the bytes for the given ids in order, with nil
	// entries for misses.
	GetMany(ctx context.Context, bucket Bucket, ids []object.ID) ([][]byte, error)

	// Put stores the bytes at the given id. Storing identical bytes twice
	// succeeds; storing different bytes at an existing id fails with
	// ErrAlreadyExists.
	Put(ctx context.Context, bucket Bucket, id object.ID, value []byte) error

	// Delete removes the object at the given id.
	Delete(ctx context.Context, bucket Bucket, id object.ID) error

	// CompareAndSwap atomically replaces the bytes at the given id.
	// A nil expected value requires the id to be absent; a nil next value
	// deletes the id. Fails with ErrCasMismatch when the current bytes do
	// not match expected.
	CompareAndSwap(ctx context.Context, bucket Bucket, id object.ID, expected, next []byte) error

	// Scan streams objects in id order starting after the cursor, limited
	// to ids beginning with prefix. A zero cursor starts from the
	// beginning. Adapters are only required to support scanning the
	// commits bucket.
	Scan(ctx context.Context, bucket Bucket, prefix []byte, cursor object.ID, limit int) ([]Entry, error)

	// Close releases backend resources.
	Close() error
}
