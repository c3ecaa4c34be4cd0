// Package natskv implements the store.KV contract on a NATS JetStream
// key-value bucket, giving queue jobs and bandit statistics durability
// across restarts.
package natskv

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/conductor/store"
)

// Store is a store.KV backed by a JetStream KV bucket.
type Store struct {
	kv jetstream.KeyValue
}

// New binds a Store to the named bucket, creating the bucket if needed.
func New(ctx context.Context, js jetstream.JetStream, bucket string) (*Store, error) {
	kv, err := js.KeyValue(ctx, bucket)
	if err != nil {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      bucket,
			Description: fmt.Sprintf("Conductor %s storage", strings.ToLower(bucket)),
		})
		if err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}
	return &Store{kv: kv}, nil
}

// Get returns the entry for a key.
func (s *Store) Get(ctx context.Context, key string) (store.Entry, error) {
	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return store.Entry{}, store.ErrKeyNotFound
		}
		return store.Entry{}, fmt.Errorf("get %s: %w", key, err)
	}
	return store.Entry{Value: entry.Value(), Revision: entry.Revision()}, nil
}

// Put stores a value unconditionally.
func (s *Store) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	rev, err := s.kv.Put(ctx, key, value)
	if err != nil {
		return 0, fmt.Errorf("put %s: %w", key, err)
	}
	return rev, nil
}

// Create stores a value only if the key does not exist.
func (s *Store) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	rev, err := s.kv.Create(ctx, key, value)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return 0, store.ErrKeyExists
		}
		return 0, fmt.Errorf("create %s: %w", key, err)
	}
	return rev, nil
}

// Update stores a value only if the stored revision matches rev.
func (s *Store) Update(ctx context.Context, key string, value []byte, rev uint64) (uint64, error) {
	newRev, err := s.kv.Update(ctx, key, value, rev)
	if err != nil {
		if isNotFound(err) {
			return 0, store.ErrKeyNotFound
		}
		// JetStream reports a CAS conflict as a wrong-last-sequence API error.
		return 0, store.ErrRevisionMismatch
	}
	return newRev, nil
}

// Delete removes a key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.kv.Delete(ctx, key); err != nil && !isNotFound(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Keys returns all keys with the given prefix.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list keys: %w", err)
	}

	matched := keys[:0]
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			matched = append(matched, k)
		}
	}
	return matched, nil
}

// isNotFound checks if an error indicates a key was not found.
func isNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted)
}
