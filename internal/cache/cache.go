// Package cache memoizes derived views. Entries are keyed by store version and
// selection fingerprint, so a store write makes every older entry unreachable.
package cache

import (
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// Cache defines a generic cache interface
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, data T)
	Delete(key string)
	Size() int
}

// Observer is told about memo lookups, typically to feed metrics.
type Observer interface {
	CacheHit(name string)
	CacheMiss(name string)
}

// Memo computes views on demand and keeps the recent ones.
type Memo[T any] struct {
	name     string
	lru      *LRUCache[T]
	observer Observer
}

func NewMemo[T any](name string, maxSize int, ttl time.Duration, observer Observer) *Memo[T] {
	return &Memo[T]{name: name, lru: NewLRUCache[T](maxSize, ttl), observer: observer}
}

// Key joins a store version and a selection fingerprint.
func Key(version uint64, fingerprint string) string {
	return strconv.FormatUint(version, 10) + ":" + fingerprint
}

// GetOrCompute returns the cached value for key or stores compute's result.
// compute runs outside the cache lock.
func (m *Memo[T]) GetOrCompute(key string, compute func() T) T {
	if v, ok := m.lru.Get(key); ok {
		if m.observer != nil {
			m.observer.CacheHit(m.name)
		}
		return v
	}
	if m.observer != nil {
		m.observer.CacheMiss(m.name)
	}
	v := compute()
	m.lru.Set(key, v)
	return v
}

func (m *Memo[T]) Purge() { m.lru.Purge() }

func (m *Memo[T]) Size() int { return m.lru.Size() }

func (m *Memo[T]) CleanExpired() int { return m.lru.CleanExpired() }

// Manager handles cache lifecycle and cleanup
type Manager struct {
	mu          sync.Mutex
	caches      []Cleaner
	stopCleanup chan struct{}
	cleanupDone chan struct{}
	running     bool
	logger      *slog.Logger
}

// Cleaner interface for caches that support cleanup
type Cleaner interface {
	CleanExpired() int
}

func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
		logger:      logger,
	}
}

func (m *Manager) Register(cache Cleaner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caches = append(m.caches, cache)
}

// StartCleanup begins periodic cleanup of all registered caches
func (m *Manager) StartCleanup(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	go m.cleanup(interval)
}

// CleanNow sweeps every registered cache once.
func (m *Manager) CleanNow() int {
	m.mu.Lock()
	caches := append([]Cleaner(nil), m.caches...)
	m.mu.Unlock()

	total := 0
	for _, c := range caches {
		total += c.CleanExpired()
	}
	return total
}

func (m *Manager) cleanup(interval time.Duration) {
	defer close(m.cleanupDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := m.CleanNow(); n > 0 {
				m.logger.Debug("Expired cache entries removed", "count", n)
			}
		case <-m.stopCleanup:
			return
		}
	}
}

// Stop ends the cleanup routine; it is a no-op if it never started.
func (m *Manager) Stop() {
	m.mu.Lock()
	running := m.running
	m.running = false
	m.mu.Unlock()
	if running {
		close(m.stopCleanup)
		<-m.cleanupDone
	}
}
