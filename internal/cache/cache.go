package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/unburden/solvency/internal/model"
)

// Cache defines the interface for caching idempotency records
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// CacheKey generates a cache key from its parts (kind, request id, ...)
func CacheKey(parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return "solvency:v1:" + hex.EncodeToString(hash[:])
}

// GetJSON decodes a cached JSON value into v. A value that no longer
// decodes is treated as a miss.
func GetJSON(c Cache, key string, v any) bool {
	data, ok := c.Get(key)
	if !ok {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

// SetJSON stores v as JSON
func SetJSON(c Cache, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	return c.Set(key, data, ttl)
}

// New builds the idempotency cache: always an in-memory layer, backed by
// <stateDir>/cache on disk when persistence is enabled
func New(cfg model.CacheConfig, stateDir string) Cache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	memory := NewMemoryCache(ttl, 10*time.Minute)
	if !cfg.Enabled || stateDir == "" {
		return memory
	}
	return NewLayeredCache(memory, NewDiskCache(filepath.Join(stateDir, "cache"), ttl))
}
