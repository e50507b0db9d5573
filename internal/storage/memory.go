package storage

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStorage keeps objects in process memory. Records are lost on exit.
type MemoryStorage struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// Ensure MemoryStorage implements StorageInterface
var _ StorageInterface = (*MemoryStorage)(nil)

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		data: make(map[string][]byte),
	}
}

func (m *MemoryStorage) Store(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryStorage) Retrieve(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if data, exists := m.data[key]; exists {
		return append([]byte(nil), data...), nil
	}
	return nil, fmt.Errorf("key %s: %w", key, ErrNotFound)
}

// Close is a no-op
func (m *MemoryStorage) Close() error {
	return nil
}
