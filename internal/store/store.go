package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrNotJSON is returned when a value can't be encoded for storage
var ErrNotJSON = errors.New("value is not JSON serializable")

// Store is a durable key-value store holding JSON-serializable values
type Store interface {
	// Get returns the value stored at key, or def when the key is absent
	Get(key string, def any) (any, error)
	// Set stores value at key, replacing any previous value
	Set(key string, value any) error
}

// MemoryStore keeps values in memory. Values are round-tripped through JSON
// so callers never share references with the store.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]json.RawMessage
}

// NewMemory creates an empty in-memory store
func NewMemory() *MemoryStore {
	return &MemoryStore{values: make(map[string]json.RawMessage)}
}

// Get implements Store
func (m *MemoryStore) Get(key string, def any) (any, error) {
	m.mu.RLock()
	raw, ok := m.values[key]
	m.mu.RUnlock()

	if !ok {
		return def, nil
	}
	return decode(raw)
}

// Set implements Store
func (m *MemoryStore) Set(key string, value any) error {
	raw, err := encode(value)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.values[key] = raw
	m.mu.Unlock()
	return nil
}

// SetRaw stores raw bytes at key without validating them
func (m *MemoryStore) SetRaw(key string, raw []byte) {
	m.mu.Lock()
	m.values[key] = append(json.RawMessage(nil), raw...)
	m.mu.Unlock()
}

func encode(value any) (json.RawMessage, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJSON, err)
	}
	return raw, nil
}

func decode(raw json.RawMessage) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode stored value: %w", err)
	}
	return v, nil
}
