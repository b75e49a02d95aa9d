package cache

import (
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/complylens/complylens/internal/metrics"
)

// Cache is a best-effort key/value store with per-entry TTL. A miss is never
// an error; callers re-fetch and re-put, and writes are idempotent.
type Cache interface {
	Get(key string) ([]byte, bool)
	Put(key string, value []byte, ttl time.Duration)
}

const defaultCleanupInterval = 10 * time.Minute

// Memory is an in-process Cache backed by an expiring store. Safe for
// concurrent use.
type Memory struct {
	store *gocache.Cache
}

func NewMemory() *Memory {
	return &Memory{
		store: gocache.New(gocache.NoExpiration, defaultCleanupInterval),
	}
}

func (m *Memory) Get(key string) ([]byte, bool) {
	v, ok := m.store.Get(key)
	kind := keyKind(key)
	if !ok {
		metrics.CacheMissesTotal.WithLabelValues(kind).Inc()
		return nil, false
	}
	b, ok := v.([]byte)
	if !ok {
		metrics.CacheMissesTotal.WithLabelValues(kind).Inc()
		return nil, false
	}
	metrics.CacheHitsTotal.WithLabelValues(kind).Inc()
	return b, true
}

func (m *Memory) Put(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	m.store.Set(key, value, ttl)
}

// Nop is a Cache that stores nothing. Every Get is a miss.
type Nop struct{}

func (Nop) Get(string) ([]byte, bool)         { return nil, false }
func (Nop) Put(string, []byte, time.Duration) {}

// Key joins key segments with the cache key separator. Empty segments are
// kept so distinct shapes never collide.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

func keyKind(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return "other"
}
