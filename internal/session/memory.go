package session

import (
	"context"
	"sync"
)

// MemoryMedium keeps the document in process memory
type MemoryMedium struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryMedium creates an empty in-memory medium
func NewMemoryMedium() *MemoryMedium {
	return &MemoryMedium{values: map[string]string{}}
}

func (m *MemoryMedium) Read(_ context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyValues(m.values), nil
}

func (m *MemoryMedium) Write(_ context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = copyValues(values)
	return nil
}

func (m *MemoryMedium) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = map[string]string{}
	return nil
}

func copyValues(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
