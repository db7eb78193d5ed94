package kv

import (
	"context"
	"sync"
)

// Memory is an in-memory Store. It backs the ephemeral scope and doubles
// as the test stand-in for the durable scope.
//
// The zero value is not usable, create instances with NewMemory.
type Memory struct {
	mu   sync.RWMutex
	maps map[string]map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		maps: make(map[string]map[string][]byte),
	}
}

func (m *Memory) Get(_ context.Context, name, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.maps[name][key]
	if !ok {
		return nil, false, nil
	}

	return clone(v), true, nil
}

func (m *Memory) Set(_ context.Context, name, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kvs, ok := m.maps[name]
	if !ok {
		kvs = make(map[string][]byte)
		m.maps[name] = kvs
	}

	kvs[key] = clone(value)

	return nil
}

func (m *Memory) Delete(_ context.Context, name, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.maps[name], key)

	return nil
}

func (m *Memory) All(_ context.Context, name string) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]byte, len(m.maps[name]))
	for k, v := range m.maps[name] {
		out[k] = clone(v)
	}

	return out, nil
}

// clone copies byte slices crossing the store boundary so callers can't
// mutate stored values through aliases.
func clone(v []byte) []byte {
	if v == nil {
		return nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out
}
