// Package settings persists small per-user preferences across sessions.
package settings

import (
	"strconv"
	"sync"
)

// Fixed keys shared with the browser client.
const (
	KeyMusicVolume = "backgroundMusicVolume"
	KeyVideoAPIKey = "tavus_api_key"
)

// Store is a string key/value store scoped to one user.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
}

// Float reads key as a float64, returning def when it is missing or malformed.
func Float(s Store, key string, def float64) float64 {
	raw, ok := s.Get(key)
	if !ok {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

// SetFloat stores v under key.
func SetFloat(s Store, key string, v float64) error {
	return s.Set(key, strconv.FormatFloat(v, 'f', -1, 64))
}

// MemoryStore keeps settings in memory only.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()
	return nil
}
