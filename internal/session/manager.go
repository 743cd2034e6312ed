// Package session keeps per-session conversational memory behind a
// short-lived read cache.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kalambet/shopbot/internal/intent"
)

// Store defines the storage operations the Manager needs.
// Implemented by storage.Store and RedisStore.
type Store interface {
	GetMemory(ctx context.Context, id string) (intent.Memory, error)
	SaveMemory(ctx context.Context, id string, mem intent.Memory) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// DefaultCacheTTL is how long a loaded memory is served from cache.
const DefaultCacheTTL = 60 * time.Second

type entry struct {
	mem      intent.Memory
	loadedAt time.Time
}

// Manager provides cached access to session memory.
type Manager struct {
	store Store
	clock Clock
	ttl   time.Duration

	mu      sync.RWMutex
	entries map[string]entry
}

// NewManager creates a Manager with DefaultCacheTTL.
func NewManager(store Store) *Manager {
	return NewManagerWithClock(store, realClock{}, DefaultCacheTTL)
}

// NewManagerWithTTL creates a Manager that caches memories for ttl.
func NewManagerWithTTL(store Store, ttl time.Duration) *Manager {
	return NewManagerWithClock(store, realClock{}, ttl)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
// A non-positive ttl disables caching.
func NewManagerWithClock(store Store, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store:   store,
		clock:   clock,
		ttl:     ttl,
		entries: make(map[string]entry),
	}
}

func (m *Manager) fresh(e entry, ok bool) bool {
	return ok && m.clock.Now().Before(e.loadedAt.Add(m.ttl))
}

// Get returns the memory of session id. Unknown sessions have empty memory.
func (m *Manager) Get(ctx context.Context, id string) (intent.Memory, error) {
	// Fast path: read lock for cache hit.
	m.mu.RLock()
	e, ok := m.entries[id]
	if m.fresh(e, ok) {
		m.mu.RUnlock()
		return e.mem, nil
	}
	m.mu.RUnlock()

	// Slow path: write lock for cache miss.
	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock.
	if e, ok := m.entries[id]; m.fresh(e, ok) {
		return e.mem, nil
	}

	mem, err := m.store.GetMemory(ctx, id)
	if err != nil {
		return intent.Memory{}, fmt.Errorf("loading session %s: %w", id, err)
	}
	m.entries[id] = entry{mem: mem, loadedAt: m.clock.Now()}
	return mem, nil
}

// Save writes mem through to the store and refreshes the cache entry.
func (m *Manager) Save(ctx context.Context, id string, mem intent.Memory) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.SaveMemory(ctx, id, mem); err != nil {
		delete(m.entries, id)
		return fmt.Errorf("saving session %s: %w", id, err)
	}
	m.entries[id] = entry{mem: mem, loadedAt: m.clock.Now()}
	return nil
}

// Forget drops the cached memory of a session.
func (m *Manager) Forget(id string) {
	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()
}

// Prune removes expired cache entries and returns how many were dropped.
func (m *Manager) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, e := range m.entries {
		if !m.fresh(e, true) {
			delete(m.entries, id)
			n++
		}
	}
	return n
}
