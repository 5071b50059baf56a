// Package store is the durable key-value medium shared by every context. The
// background process is its only writer for job state; UI contexts read it.
package store

import (
	"context"
	"errors"
	"sync"
)

// ErrKeyNotFound is returned by Tx.Get for missing keys.
var ErrKeyNotFound = errors.New("store: key not found")

// Tx is the key-value surface visible inside View and Update.
type Tx interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Backend is a durable key-value map with atomic multi-key updates. Writes
// made inside Update are applied all together or not at all.
type Backend interface {
	View(ctx context.Context, fn func(Tx) error) error
	Update(ctx context.Context, fn func(Tx) error) error
	Close() error
}

// MemoryBackend keeps state in process memory. It backs tests and the
// memory store driver.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

func (m *MemoryBackend) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memTx{base: m.data, readOnly: true})
}

func (m *MemoryBackend) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memTx{base: m.data, writes: map[string][]byte{}, deletes: map[string]struct{}{}}
	if err := fn(tx); err != nil {
		return err
	}
	for k := range tx.deletes {
		delete(m.data, k)
	}
	for k, v := range tx.writes {
		m.data[k] = v
	}
	return nil
}

func (m *MemoryBackend) Close() error { return nil }

type memTx struct {
	base     map[string][]byte
	writes   map[string][]byte
	deletes  map[string]struct{}
	readOnly bool
}

func (t *memTx) Get(ctx context.Context, key string) ([]byte, error) {
	if v, ok := t.writes[key]; ok {
		return append([]byte(nil), v...), nil
	}
	if _, ok := t.deletes[key]; ok {
		return nil, ErrKeyNotFound
	}
	v, ok := t.base[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), v...), nil
}

func (t *memTx) Put(ctx context.Context, key string, value []byte) error {
	if t.readOnly {
		return errReadOnly
	}
	delete(t.deletes, key)
	t.writes[key] = append([]byte(nil), value...)
	return nil
}

func (t *memTx) Delete(ctx context.Context, key string) error {
	if t.readOnly {
		return errReadOnly
	}
	delete(t.writes, key)
	t.deletes[key] = struct{}{}
	return nil
}

var errReadOnly = errors.New("store: write in read-only transaction")
