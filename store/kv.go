// Package store defines the persistence contract the engine uses for
// durable queue jobs, bandit arm statistics, and outcome deduplication.
// Implementations provide key-value get/put with compare-and-swap.
package store

import (
	"context"
	"errors"
)

// Common store errors.
var (
	// ErrKeyNotFound is returned when a key does not exist.
	ErrKeyNotFound = errors.New("key not found")

	// ErrKeyExists is returned by Create when the key already exists.
	ErrKeyExists = errors.New("key already exists")

	// ErrRevisionMismatch is returned by Update when the expected revision
	// does not match the stored revision.
	ErrRevisionMismatch = errors.New("revision mismatch")
)

// Entry is a stored value with its revision.
type Entry struct {
	Value    []byte
	Revision uint64
}

// KV is the minimal durable key-value contract: get/put plus
// compare-and-swap via Create and Update.
type KV interface {
	// Get returns the entry for a key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) (Entry, error)

	// Put stores a value unconditionally and returns the new revision.
	Put(ctx context.Context, key string, value []byte) (uint64, error)

	// Create stores a value only if the key does not exist yet.
	// Returns ErrKeyExists otherwise.
	Create(ctx context.Context, key string, value []byte) (uint64, error)

	// Update stores a value only if the stored revision matches rev.
	// Returns ErrRevisionMismatch otherwise.
	Update(ctx context.Context, key string, value []byte, rev uint64) (uint64, error)

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys returns all keys with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
