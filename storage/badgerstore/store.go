// Package badgerstore implements the storage adapter on an embedded
// BadgerDB instance. It is the persistence backend for single process
// deployments and tests that need durability; remote backends implement the
// same contract elsewhere.
package badgerstore

import (
	"bytes"
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/nasdf/tessera/object"
	"github.com/nasdf/tessera/storage"
)

// Store is a storage.Adapter backed by BadgerDB.
type Store struct {
	db  *badger.DB
	log *zap.Logger
}

// Options configure the badger backed adapter.
type Options struct {
	// Path is the directory badger stores its data in.
	Path string `yaml:"path"`
	// InMemory keeps all data in memory, for tests.
	InMemory bool `yaml:"in_memory"`
	// Logger receives adapter logs. Defaults to a no-op logger.
	Logger *zap.Logger
}

// New opens a badger backed adapter at the given path.
func New(opts Options) (*Store, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	badgerOpts := badger.DefaultOptions(opts.Path).WithLogger(nil)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, storage.ErrFatal.Wrap(err)
	}
	log.Debug("opened badger store", zap.String("path", opts.Path), zap.Bool("in_memory", opts.InMemory))
	return &Store{db: db, log: log}, nil
}

// physicalKey builds the compound key `<bucket>/<id>`.
func physicalKey(b storage.Bucket, id object.ID) []byte {
	key := make([]byte, 0, len(b)+1+object.IDLen)
	key = append(key, b...)
	key = append(key, '/')
	return append(key, id[:]...)
}

func (s *Store) Get(ctx context.Context, b storage.Bucket, id object.ID) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(physicalKey(b, id))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, storage.ErrNotFound.New("%s/%s", b, id)
	}
	if err != nil {
		return nil, storage.ErrUnavailable.Wrap(err)
	}
	return value, nil
}

func (s *Store) GetMany(ctx context.Context, b storage.Bucket, ids []object.ID) ([][]byte, error) {
	result := make([][]byte, len(ids))
	err := s.db.View(func(txn *badger.Txn) error {
		for i, id := range ids {
			item, err := txn.Get(physicalKey(b, id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if result[i], err = item.ValueCopy(nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, storage.ErrUnavailable.Wrap(err)
	}
	return result, nil
}

func (s *Store) Put(ctx context.Context, b storage.Bucket, id object.ID, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		key := physicalKey(b, id)
		item, err := txn.Get(key)
		if err == nil {
			existing, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if bytes.Equal(existing, value) {
				return nil
			}
			return storage.ErrAlreadyExists.New("%s/%s", b, id)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, value)
	})
	return wrapUpdateErr(err)
}

func (s *Store) Delete(ctx context.Context, b storage.Bucket, id object.ID) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		key := physicalKey(b, id)
		if _, err := txn.Get(key); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return storage.ErrNotFound.New("%s/%s", b, id)
	}
	return wrapUpdateErr(err)
}

func (s *Store) CompareAndSwap(ctx context.Context, b storage.Bucket, id object.ID, expected, next []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		key := physicalKey(b, id)
		var existing []byte
		item, err := txn.Get(key)
		switch {
		case err == nil:
			if existing, err = item.ValueCopy(nil); err != nil {
				return err
			}
		case errors.Is(err, badger.ErrKeyNotFound):
			existing = nil
		default:
			return err
		}
		switch {
		case expected == nil && existing != nil:
			return storage.ErrCasMismatch.New("%s/%s exists", b, id)
		case expected != nil && existing == nil:
			return storage.ErrCasMismatch.New("%s/%s missing", b, id)
		case expected != nil && !bytes.Equal(existing, expected):
			return storage.ErrCasMismatch.New("%s/%s changed", b, id)
		}
		if next == nil {
			return txn.Delete(key)
		}
		return txn.Set(key, next)
	})
	if errors.Is(err, badger.ErrConflict) {
		// A concurrent transaction touched the key; the caller observes it
		// as a lost CAS race.
		return storage.ErrCasMismatch.Wrap(err)
	}
	return wrapUpdateErr(err)
}

func (s *Store) Scan(ctx context.Context, b storage.Bucket, prefix []byte, cursor object.ID, limit int) ([]storage.Entry, error) {
	bucketPrefix := append([]byte(b), '/')
	scanPrefix := append(bytes.Clone(bucketPrefix), prefix...)

	var result []storage.Entry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = scanPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		start := scanPrefix
		if !cursor.IsZero() {
			start = physicalKey(b, cursor)
		}
		for it.Seek(start); it.ValidForPrefix(scanPrefix); it.Next() {
			key := it.Item().Key()
			if len(key) != len(bucketPrefix)+object.IDLen {
				continue
			}
			var id object.ID
			copy(id[:], key[len(bucketPrefix):])
			if !cursor.IsZero() && id.Compare(cursor) <= 0 {
				continue
			}
			value, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			result = append(result, storage.Entry{ID: id, Value: value})
			if limit > 0 && len(result) >= limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, storage.ErrUnavailable.Wrap(err)
	}
	return result, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// wrapUpdateErr passes adapter errors through and classifies everything
// else as retryable.
func wrapUpdateErr(err error) error {
	switch {
	case err == nil:
		return nil
	case storage.ErrAlreadyExists.Has(err),
		storage.ErrCasMismatch.Has(err),
		storage.ErrNotFound.Has(err):
		return err
	default:
		return storage.ErrUnavailable.Wrap(err)
	}
}
