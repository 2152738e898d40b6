// Package storage defines the document-store interface the save store, the
// user store, and chat persist through, plus three backends: an in-process
// map (the reference), JSON files with atomic replacement, and SQLite.
//
// Per-key operations are linearizable in every backend.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no document exists under (collection, key).
var ErrNotFound = errors.New("document not found")

// DocStore is a key-value document store grouped into collections.
type DocStore interface {
	Put(ctx context.Context, collection, key string, doc []byte) error
	Get(ctx context.Context, collection, key string) ([]byte, error)
	Delete(ctx context.Context, collection, key string) error
	Keys(ctx context.Context, collection string) ([]string, error)
	Close() error
}

// Collections used across the system.
const (
	CollectionUsers = "users"
	CollectionSaves = "saves"
	CollectionChat  = "chat"
)
