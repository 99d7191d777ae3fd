// Package storage provides the key/value repository the broker persists its
// audit trail in. Sessions are never written here.
package storage

import "errors"

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// BatchTx provides Put and Delete within an atomic transaction.
// The bucket is scoped to the batch, so methods don't require it.
type BatchTx interface {
	Put(id string, value []byte) error
	Delete(id string) error
}

// Repository stores opaque values under (bucket, id). List returns ids in
// ascending byte order.
type Repository interface {
	Put(bucket, id string, value []byte) error
	Get(bucket, id string) ([]byte, error)
	List(bucket string) ([]string, error)
	Delete(bucket, id string) error
	Batch(bucket string, fn func(tx BatchTx) error) error
}
