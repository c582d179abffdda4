// Package limits enforces request-rate ceilings and daily cost budgets with
// reservation semantics: reserve before the call, release on failure, commit
// with real usage on success.
package limits

import (
	"context"
	"sync"
	"time"
)

// CounterStore backs the guard's window counters and cost ledger.
// Implementations must be safe for concurrent use and must apply increments
// atomically per key. The memory store is the default; the Redis store lets
// multiple router replicas share one quota pool.
type CounterStore interface {
	// IncrBy atomically adds delta to an integer counter and returns the new
	// value. A fresh key expires after ttl.
	IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)

	// Get returns the current counter value, zero when absent.
	Get(ctx context.Context, key string) (int64, error)

	// IncrCost atomically adds usd to a float ledger entry and returns the
	// new total. A fresh key expires after ttl.
	IncrCost(ctx context.Context, key string, usd float64, ttl time.Duration) (float64, error)

	// GetCost returns the current ledger total, zero when absent.
	GetCost(ctx context.Context, key string) (float64, error)

	// Close releases any resources held by the store.
	Close() error
}

type memoryEntry struct {
	count     int64
	cost      float64
	expiresAt time.Time
}

// MemoryStore is the in-process CounterStore. Entries expire lazily on
// access and via a periodic sweep.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// NewMemoryStore creates a memory-backed counter store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go s.sweep()
	return s
}

func (s *MemoryStore) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			now := s.now()
			for k, e := range s.entries {
				if now.After(e.expiresAt) {
					delete(s.entries, k)
				}
			}
			s.mu.Unlock()
		case <-s.stop:
			return
		}
	}
}

func (s *MemoryStore) entry(key string, ttl time.Duration) *memoryEntry {
	e, ok := s.entries[key]
	if !ok || s.now().After(e.expiresAt) {
		e = &memoryEntry{expiresAt: s.now().Add(ttl)}
		s.entries[key] = e
	}
	return e
}

// IncrBy implements CounterStore.
func (s *MemoryStore) IncrBy(_ context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(key, ttl)
	e.count += delta
	return e.count, nil
}

// Get implements CounterStore.
func (s *MemoryStore) Get(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || s.now().After(e.expiresAt) {
		return 0, nil
	}
	return e.count, nil
}

// IncrCost implements CounterStore.
func (s *MemoryStore) IncrCost(_ context.Context, key string, usd float64, ttl time.Duration) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(key, ttl)
	e.cost += usd
	return e.cost, nil
}

// GetCost implements CounterStore.
func (s *MemoryStore) GetCost(_ context.Context, key string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || s.now().After(e.expiresAt) {
		return 0, nil
	}
	return e.cost, nil
}

// Close implements CounterStore.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}
