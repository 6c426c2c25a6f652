// Package preload fetches and caches narration assets ahead of need so a
// tour keeps playing through dead zones.
package preload

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	gocache "github.com/patrickmn/go-cache"
)

// AssetStore is the cache boundary for fetched asset bytes, keyed by URL.
type AssetStore interface {
	Has(key string) bool
	Get(key string) ([]byte, bool)
	Put(key string, data []byte) error
}

// MemoryStore keeps assets in process memory. Used by tests and as the
// degraded mode when the cache directory is unusable.
type MemoryStore struct {
	cache *gocache.Cache
}

// NewMemoryStore creates an empty in-memory asset store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cache: gocache.New(gocache.NoExpiration, 0)}
}

func (m *MemoryStore) Has(key string) bool {
	_, ok := m.cache.Get(key)
	return ok
}

func (m *MemoryStore) Get(key string) ([]byte, bool) {
	v, ok := m.cache.Get(key)
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

func (m *MemoryStore) Put(key string, data []byte) error {
	m.cache.Set(key, data, gocache.NoExpiration)
	return nil
}

// FileStore persists assets under a directory, one file per key.
type FileStore struct {
	dir string
}

// NewFileStore creates the cache directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create asset cache dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) path(key string) string {
	// Keys are URLs; hash them so they are safe as filenames.
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(f.dir, hex.EncodeToString(sum[:]))
}

func (f *FileStore) Has(key string) bool {
	_, err := os.Stat(f.path(key))
	return err == nil
}

func (f *FileStore) Get(key string) ([]byte, bool) {
	data, err := os.ReadFile(f.path(key))
	if err != nil {
		return nil, false
	}
	return data, true
}

func (f *FileStore) Put(key string, data []byte) error {
	path := f.path(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write asset: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit asset: %w", err)
	}
	return nil
}
