package kvstore

import (
	"context"
	"fmt"

	"github.com/c2h5oh/datasize"
)

// Backend is the raw key-value layer underneath a Store. Implementations
// must be safe for concurrent use.
type Backend interface {
	// GetRaw returns the value under key and whether it was present.
	GetRaw(ctx context.Context, key string) ([]byte, bool, error)
	SetRaw(ctx context.Context, key string, value []byte) error

	// SetRawIfAbsent stores value only when key is missing and reports
	// whether it did.
	SetRawIfAbsent(ctx context.Context, key string, value []byte) (bool, error)

	// DeleteRaw removes keys. Missing keys are not an error.
	DeleteRaw(ctx context.Context, keys ...string) error

	// FindKeys lists every key starting with prefix.
	FindKeys(ctx context.Context, prefix string) ([]string, error)

	Close() error
}

// SetBackend is implemented by backends with atomic set operations.
// Stores keep their thumbnail indexes in such sets, so processes
// sharing the backend never lose each other's updates.
type SetBackend interface {
	// AddToSet adds members to the set under key, creating it if needed.
	AddToSet(ctx context.Context, key string, members ...string) error

	// RemoveFromSet removes members. An emptied set disappears.
	RemoveFromSet(ctx context.Context, key string, members ...string) error

	// SetMembers returns the sorted members, none when key is missing.
	SetMembers(ctx context.Context, key string) ([]string, error)
}

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendDiskv  = "diskv"
)

// BackendConfig selects and configures a Backend.
type BackendConfig struct {
	Kind string

	RedisURL string

	DiskvDir       string
	DiskvCacheSize datasize.ByteSize
}

// OpenBackend builds the backend named by cfg.Kind. An empty kind
// selects the in-process memory backend.
func OpenBackend(cfg BackendConfig) (Backend, error) {
	switch cfg.Kind {
	case "", BackendMemory:
		return NewMemoryBackend(), nil
	case BackendRedis:
		return NewRedisBackendWithURL(cfg.RedisURL)
	case BackendDiskv:
		return NewDiskvBackend(cfg.DiskvDir, cfg.DiskvCacheSize)
	default:
		return nil, fmt.Errorf("unknown kvstore backend %q", cfg.Kind)
	}
}
