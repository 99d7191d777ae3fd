// Package bbolt provides a BBolt-backed storage repository.
package bbolt

import (
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/pdfchat/rolebroker/storage"
)

// Store implements storage.Repository backed by a BBolt database. Each
// repository bucket maps to a top-level BBolt bucket.
type Store struct {
	db *bbolt.DB
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given BBolt database.
func NewRepository(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// NewRepositoryFromFile opens a BBolt database at the given path and returns a new Repository.
func NewRepositoryFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewRepository(db), nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Put(bucket, id string, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		return b.Put([]byte(id), value)
	})
}

func (s *Store) Get(bucket, id string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("%s/%s: %w", bucket, id, storage.ErrNotFound)
		}
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%s/%s: %w", bucket, id, storage.ErrNotFound)
		}
		// data is only valid for the life of the transaction.
		value = append([]byte(nil), data...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *Store) Delete(bucket, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("%s/%s: %w", bucket, id, storage.ErrNotFound)
		}
		return deleteInBucket(b, bucket, id)
	})
}

func deleteInBucket(b *bbolt.Bucket, bucket, id string) error {
	if b.Get([]byte(id)) == nil {
		return fmt.Errorf("%s/%s: %w", bucket, id, storage.ErrNotFound)
	}
	return b.Delete([]byte(id))
}

func (s *Store) List(bucket string) ([]string, error) {
	ids := []string{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}

type boltBatchTx struct {
	name   string
	bucket *bbolt.Bucket
}

func (tx *boltBatchTx) Put(id string, value []byte) error {
	return tx.bucket.Put([]byte(id), value)
}

func (tx *boltBatchTx) Delete(id string) error {
	return deleteInBucket(tx.bucket, tx.name, id)
}

// Batch runs fn in a single read-write transaction. Returning an error
// from fn rolls back every write.
func (s *Store) Batch(bucket string, fn func(tx storage.BatchTx) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		return fn(&boltBatchTx{name: bucket, bucket: b})
	})
}
