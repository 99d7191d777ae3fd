// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pdfchat/rolebroker/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for tests and for servers started without a data directory.
type Repository struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]map[string][]byte)}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func (r *Repository) Put(bucket, id string, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.putLocked(bucket, id, value)
	return nil
}

func (r *Repository) putLocked(bucket, id string, value []byte) {
	if _, ok := r.data[bucket]; !ok {
		r.data[bucket] = make(map[string][]byte)
	}
	r.data[bucket][id] = clone(value)
}

func (r *Repository) Get(bucket, id string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	value, ok := r.data[bucket][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", bucket, id, storage.ErrNotFound)
	}
	return clone(value), nil
}

func (r *Repository) List(bucket string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.data[bucket]))
	for id := range r.data[bucket] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *Repository) Delete(bucket, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteLocked(bucket, id)
}

func (r *Repository) deleteLocked(bucket, id string) error {
	if _, ok := r.data[bucket][id]; !ok {
		return fmt.Errorf("%s/%s: %w", bucket, id, storage.ErrNotFound)
	}
	delete(r.data[bucket], id)
	return nil
}

// Batch executes fn within a batch transaction. On error, all writes are rolled back.
func (r *Repository) Batch(bucket string, fn func(tx storage.BatchTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.snapshotBucket(bucket)

	tx := &memoryBatchTx{repo: r, bucket: bucket}
	if err := fn(tx); err != nil {
		r.restoreBucket(bucket, snapshot)
		return err
	}
	return nil
}

func (r *Repository) snapshotBucket(bucket string) map[string][]byte {
	original, ok := r.data[bucket]
	if !ok {
		return nil
	}
	cp := make(map[string][]byte, len(original))
	for k, v := range original {
		cp[k] = clone(v)
	}
	return cp
}

func (r *Repository) restoreBucket(bucket string, snapshot map[string][]byte) {
	if snapshot == nil {
		delete(r.data, bucket)
		return
	}
	r.data[bucket] = snapshot
}

// memoryBatchTx runs with the repository lock already held.
type memoryBatchTx struct {
	repo   *Repository
	bucket string
}

func (tx *memoryBatchTx) Put(id string, value []byte) error {
	tx.repo.putLocked(tx.bucket, id, value)
	return nil
}

func (tx *memoryBatchTx) Delete(id string) error {
	return tx.repo.deleteLocked(tx.bucket, id)
}
