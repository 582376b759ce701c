package storage

import (
	"sort"
	"sync"
)

// Memory is a process-local Backend. It backs "session" storage and tests;
// nothing survives the process.
type Memory struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{records: map[string][]byte{}}
}

func (m *Memory) Get(key string) ([]byte, bool, error) {
	m.mu.RLock()
	raw, ok := m.records[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return cloneBytes(raw), true, nil
}

func (m *Memory) Set(key string, raw []byte) error {
	m.mu.Lock()
	m.records[key] = cloneBytes(raw)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Remove(key string) error {
	m.mu.Lock()
	delete(m.records, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Clear() error {
	m.mu.Lock()
	m.records = map[string][]byte{}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Len() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

// Key enumerates keys in lexical order.
func (m *Memory) Key(index int) (string, bool, error) {
	m.mu.RLock()
	keys := make([]string, 0, len(m.records))
	for key := range m.records {
		keys = append(keys, key)
	}
	m.mu.RUnlock()
	if index < 0 || index >= len(keys) {
		return "", false, nil
	}
	sort.Strings(keys)
	return keys[index], true, nil
}

func cloneBytes(raw []byte) []byte {
	if raw == nil {
		return nil
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out
}
