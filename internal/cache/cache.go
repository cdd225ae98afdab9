// Package cache provides a bounded in-memory store for synthesis results.
// Eviction is frequency-primary: when full the entry with the smallest access
// count goes first, ties broken by the oldest last access. Entries also expire
// after a fixed TTL regardless of how often they are read.
package cache

import (
	"sort"
	"sync"
	"time"
)

// DefaultTTL is the expiry age applied when no TTL is configured.
const DefaultTTL = time.Hour

// Store is safe for concurrent use; every operation holds an internal mutex
// for the duration of the map work only, never across I/O.
type Store[V any] struct {
	mu       sync.Mutex
	entries  map[string]*entry[V]
	capacity int
	ttl      time.Duration
	sizeOf   func(V) int
	clock    func() time.Time
}

type entry[V any] struct {
	value        V
	createdAt    time.Time
	accessCount  uint64
	lastAccessed time.Time
}

// Stats is a point-in-time snapshot of the store. HitRate is diagnostic only.
type Stats struct {
	Entries        int           `json:"entries"`
	Capacity       int           `json:"capacity"`
	TotalAccesses  uint64        `json:"total_accesses"`
	HitRate        float64       `json:"hit_rate"`
	TotalSizeBytes int           `json:"total_size_bytes"`
	AverageAge     time.Duration `json:"average_age"`
}

// KeyCount pairs a key with its access count.
type KeyCount struct {
	Key         string `json:"key"`
	AccessCount uint64 `json:"access_count"`
}

// New returns a store holding at most capacity values for at most ttl.
// sizeOf reports the byte size of a value for Stats; a zero ttl selects
// DefaultTTL.
func New[V any](capacity int, ttl time.Duration, sizeOf func(V) int) *Store[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store[V]{
		entries:  make(map[string]*entry[V]),
		capacity: capacity,
		ttl:      ttl,
		sizeOf:   sizeOf,
		clock:    time.Now,
	}
}

// Get returns the value under key if present and not expired. A hit bumps the
// entry's access count and refreshes its last access time.
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepExpired()

	e, ok := s.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	e.accessCount++
	e.lastAccessed = s.clock()
	return e.value, true
}

// Insert stores value under key, evicting entries first if the store is at
// capacity. Re-inserting an existing key replaces the entry outright. A store
// with capacity zero or below drops every insert.
func (s *Store[V]) Insert(key string, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capacity <= 0 {
		return
	}
	if _, exists := s.entries[key]; !exists {
		for len(s.entries) >= s.capacity {
			s.evictOne()
		}
	}

	now := s.clock()
	s.entries[key] = &entry[V]{
		value:        value,
		createdAt:    now,
		accessCount:  1,
		lastAccessed: now,
	}
}

// Remove drops the entry under key, reporting whether it existed.
func (s *Store[V]) Remove(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	delete(s.entries, key)
	return ok
}

// Clear drops every entry.
func (s *Store[V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*entry[V])
}

// Len reports the live entry count.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Capacity reports the configured maximum entry count.
func (s *Store[V]) Capacity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity
}

// SetCapacity changes the bound, evicting entries until the store fits.
func (s *Store[V]) SetCapacity(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capacity = n
	for len(s.entries) > s.capacity {
		s.evictOne()
	}
}

// Stats snapshots the store.
func (s *Store[V]) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	var totalAccesses uint64
	var totalSize int
	var totalAge time.Duration
	for _, e := range s.entries {
		totalAccesses += e.accessCount
		totalSize += s.sizeOf(e.value)
		totalAge += now.Sub(e.createdAt)
	}

	stats := Stats{
		Entries:        len(s.entries),
		Capacity:       s.capacity,
		TotalAccesses:  totalAccesses,
		TotalSizeBytes: totalSize,
	}
	if n := len(s.entries); n > 0 {
		stats.AverageAge = totalAge / time.Duration(n)
		if totalAccesses > 0 {
			stats.HitRate = float64(totalAccesses-uint64(n)) / float64(totalAccesses)
		}
	}
	return stats
}

// Hottest lists up to limit keys ordered by descending access count.
func (s *Store[V]) Hottest(limit int) []KeyCount {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]KeyCount, 0, len(s.entries))
	for key, e := range s.entries {
		out = append(out, KeyCount{Key: key, AccessCount: e.accessCount})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AccessCount != out[j].AccessCount {
			return out[i].AccessCount > out[j].AccessCount
		}
		return out[i].Key < out[j].Key
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Recent lists up to limit keys ordered by most recent access.
func (s *Store[V]) Recent(limit int) []KeyCount {
	s.mu.Lock()
	defer s.mu.Unlock()

	type keyed struct {
		kc   KeyCount
		last time.Time
	}
	all := make([]keyed, 0, len(s.entries))
	for key, e := range s.entries {
		all = append(all, keyed{
			kc:   KeyCount{Key: key, AccessCount: e.accessCount},
			last: e.lastAccessed,
		})
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].last.Equal(all[j].last) {
			return all[i].last.After(all[j].last)
		}
		return all[i].kc.Key < all[j].kc.Key
	})
	if limit >= 0 && len(all) > limit {
		all = all[:limit]
	}
	out := make([]KeyCount, len(all))
	for i, k := range all {
		out[i] = k.kc
	}
	return out
}

// sweepExpired removes every entry older than the TTL. Caller holds the lock.
func (s *Store[V]) sweepExpired() {
	now := s.clock()
	for key, e := range s.entries {
		if now.Sub(e.createdAt) >= s.ttl {
			delete(s.entries, key)
		}
	}
}

// evictOne removes the entry with the smallest access count, ties broken by
// the oldest last access. Caller holds the lock.
func (s *Store[V]) evictOne() {
	var victim string
	var victimEntry *entry[V]
	for key, e := range s.entries {
		if victimEntry == nil ||
			e.accessCount < victimEntry.accessCount ||
			(e.accessCount == victimEntry.accessCount && e.lastAccessed.Before(victimEntry.lastAccessed)) {
			victim = key
			victimEntry = e
		}
	}
	if victimEntry != nil {
		delete(s.entries, victim)
	}
}
