// Package store provides the persisted local key/value state shared by the
// cooldown tracker, preloader and analytics queue.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/waytour/waytour/pkg/logx"
)

// Well-known keys in the local state store.
const (
	KeyCooldownTracker = "cooldown-tracker"
	KeyPreloadStatus   = "preload-status"
	KeyAnalyticsQueue  = "analytics-queue"
	KeyLastSync        = "last-sync"
)

// ErrNotFound is returned when a key has never been written.
var ErrNotFound = errors.New("key not found")

// KV is the persisted key/value contract. Values are JSON-encoded; each key
// has a single writer component.
type KV interface {
	Get(key string, out interface{}) error
	Put(key string, value interface{}) error
	Delete(key string) error
	Close() error
}

// MemoryKV is the in-memory implementation used by tests and as the
// degraded mode when the database cannot be opened.
type MemoryKV struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemoryKV creates an empty in-memory store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{values: make(map[string][]byte)}
}

func (m *MemoryKV) Get(key string, out interface{}) error {
	m.mu.RLock()
	data, ok := m.values[key]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode value for %s: %w", key, err)
	}
	return nil
}

func (m *MemoryKV) Put(key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for %s: %w", key, err)
	}
	m.mu.Lock()
	m.values[key] = data
	m.mu.Unlock()
	return nil
}

func (m *MemoryKV) Delete(key string) error {
	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryKV) Close() error { return nil }

// Open returns a sqlite-backed store, or the in-memory implementation when
// the database cannot be opened. Storage failures degrade to session-only
// behavior rather than halting the pipeline.
func Open(path string, logger *logx.Logger) KV {
	kv, err := OpenSQLite(path)
	if err != nil {
		if logger != nil {
			logger.Warn("state store unavailable, falling back to memory",
				"path", path,
				"error", err.Error(),
			)
		}
		return NewMemoryKV()
	}
	return kv
}
