package store

import (
	"context"
	"strings"
	"sync"
)

// Memory is an in-process KV implementation. It backs tests and
// single-process deployments that don't need durability.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
	nextRev uint64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

// Get returns the entry for a key, or ErrKeyNotFound.
func (m *Memory) Get(_ context.Context, key string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok {
		return Entry{}, ErrKeyNotFound
	}
	return e, nil
}

// Put stores a value unconditionally.
func (m *Memory) Put(_ context.Context, key string, value []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.store(key, value), nil
}

// Create stores a value only if the key does not exist.
func (m *Memory) Create(_ context.Context, key string, value []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[key]; ok {
		return 0, ErrKeyExists
	}
	return m.store(key, value), nil
}

// Update stores a value only if the stored revision matches rev.
func (m *Memory) Update(_ context.Context, key string, value []byte, rev uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return 0, ErrKeyNotFound
	}
	if e.Revision != rev {
		return 0, ErrRevisionMismatch
	}
	return m.store(key, value), nil
}

// Delete removes a key.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

// Keys returns all keys with the given prefix.
func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// store writes an entry under the lock and returns its revision.
func (m *Memory) store(key string, value []byte) uint64 {
	m.nextRev++
	cp := make([]byte, len(value))
	copy(cp, value)
	m.entries[key] = Entry{Value: cp, Revision: m.nextRev}
	return m.nextRev
}
