package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/originbridge/internal/domain"
	bolt "go.etcd.io/bbolt"
)

var bucketPersistent = []byte("persistent_cache")

// Cache implements domain.PersistentCache using BoltDB.
// Set stages values in memory; Flush commits every staged key in one transaction.
type Cache struct {
	db *bolt.DB
	mu sync.RWMutex

	// In-memory cache for hot-path reads (promoted on access)
	cache map[string][]byte
	dirty map[string]struct{}
}

var _ domain.PersistentCache = (*Cache)(nil)

// NewCache opens the cache database under baseCacheDir, one database per backend.
// An empty baseCacheDir keeps everything in memory.
func NewCache(baseCacheDir, backendURL string) (*Cache, error) {
	c := &Cache{
		cache: make(map[string][]byte),
		dirty: make(map[string]struct{}),
	}
	if baseCacheDir == "" {
		// Memory-only mode (no persistence)
		return c, nil
	}

	dir := baseCacheDir
	if backendURL != "" {
		dir = filepath.Join(baseCacheDir, hashBackendURL(backendURL))
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dir, "originbridge.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPersistent)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	c.db = db
	return c, nil
}

func hashBackendURL(backendURL string) string {
	normalized := strings.TrimRight(strings.ToLower(backendURL), "/")
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:6])
}

// Get returns a copy of the stored value for key
func (s *Cache) Get(key string) ([]byte, bool) {
	// Check memory cache first
	s.mu.RLock()
	if data, ok := s.cache[key]; ok {
		s.mu.RUnlock()
		return clone(data), true
	}
	s.mu.RUnlock()

	if s.db == nil {
		return nil, false
	}

	var data []byte
	s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPersistent)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			data = clone(v)
		}
		return nil
	})

	if data == nil {
		return nil, false
	}

	// Promote to memory cache unless a newer value was staged meanwhile
	s.mu.Lock()
	if _, ok := s.cache[key]; !ok {
		s.cache[key] = data
	}
	s.mu.Unlock()

	return clone(data), true
}

// Set stages value for key until the next Flush
func (s *Cache) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache[key] = clone(value)
	s.dirty[key] = struct{}{}
	return nil
}

// Flush writes staged values to disk. Memory-only caches just forget the dirty set.
func (s *Cache) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.dirty) == 0 {
		return nil
	}
	if s.db == nil {
		s.dirty = make(map[string]struct{})
		return nil
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPersistent)
		for key := range s.dirty {
			if err := b.Put([]byte(key), s.cache[key]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to flush cache: %w", err)
	}

	s.dirty = make(map[string]struct{})
	return nil
}

// Close flushes pending writes and closes the database
func (s *Cache) Close() error {
	if s.db == nil {
		return nil
	}
	flushErr := s.Flush()
	if err := s.db.Close(); err != nil {
		return err
	}
	return flushErr
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
