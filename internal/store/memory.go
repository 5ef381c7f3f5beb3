package store

import (
	"context"
	"sync"

	"github.com/avolkov/huddle/internal/core"
)

// Memory is a threadsafe in-memory core.KV. It backs tests and the
// `store.backend: memory` development mode.
type Memory struct {
	mu     sync.RWMutex
	hashes map[string]map[string]string
	logs   map[string][]string

	// FailWrites makes every mutating call return this error, letting
	// tests simulate a store outage.
	failErr error
}

func NewMemory() *Memory {
	return &Memory{
		hashes: make(map[string]map[string]string),
		logs:   make(map[string][]string),
	}
}

// FailWith forces all subsequent writes (including Atomic) to fail with
// err. Pass nil to restore normal operation.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.hashes[key]; ok {
		return true, nil
	}
	_, ok := m.logs[key]
	return ok, nil
}

func (m *Memory) GetField(_ context.Context, key, field string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	val, ok := m.hashes[key][field]
	return val, ok, nil
}

func (m *Memory) SetField(_ context.Context, key, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.setFieldLocked(key, field, value)
	return nil
}

func (m *Memory) setFieldLocked(key, field, value string) {
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	h[field] = value
}

func (m *Memory) DeleteField(_ context.Context, key, field string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.deleteFieldLocked(key, field)
	return nil
}

func (m *Memory) deleteFieldLocked(key, field string) {
	if h, ok := m.hashes[key]; ok {
		delete(h, field)
		if len(h) == 0 {
			delete(m.hashes, key)
		}
	}
}

func (m *Memory) ListFields(_ context.Context, key string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.hashes[key]))
	for f, v := range m.hashes[key] {
		out[f] = v
	}
	return out, nil
}

func (m *Memory) FieldCount(_ context.Context, key string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.hashes[key])), nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	delete(m.hashes, key)
	delete(m.logs, key)
	return nil
}

func (m *Memory) AppendLog(_ context.Context, key, entry string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.logs[key] = append(m.logs[key], entry)
	return nil
}

func (m *Memory) LogRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.logs[key]
	n := int64(len(entries))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, entries[start:stop+1])
	return out, nil
}

// Atomic applies the queued operations under one lock acquisition; either
// the whole batch is applied or, when a failure is simulated, none of it.
func (m *Memory) Atomic(_ context.Context, fn func(tx core.Tx)) error {
	tx := &memoryTx{}
	fn(tx)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	for _, op := range tx.ops {
		op(m)
	}
	return nil
}

type memoryTx struct {
	ops []func(*Memory)
}

func (t *memoryTx) SetField(key, field, value string) {
	t.ops = append(t.ops, func(m *Memory) { m.setFieldLocked(key, field, value) })
}

func (t *memoryTx) DeleteField(key, field string) {
	t.ops = append(t.ops, func(m *Memory) { m.deleteFieldLocked(key, field) })
}

func (t *memoryTx) Delete(key string) {
	t.ops = append(t.ops, func(m *Memory) {
		delete(m.hashes, key)
		delete(m.logs, key)
	})
}
