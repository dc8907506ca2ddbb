package alert

import (
	"sync"
	"time"
)

// Store is the key-value store holding dismissals, keyed by occurrence
// identity (model.OccurrenceKey). Values are opaque to the generator; Dismiss
// writes the dismissal time in RFC 3339.
type Store interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	List() (map[string]string, error)
}

// Dismiss records key as dismissed at the given time.
func Dismiss(s Store, key string, at time.Time) error {
	return s.Set(key, at.UTC().Format(time.RFC3339))
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (m *MemoryStore) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MemoryStore) List() (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out, nil
}
