package cache

import (
	"fmt"
	"testing"
	"time"
)

func newTestStore(capacity int, ttl time.Duration) (*Store[[]byte], *time.Time) {
	s := New[[]byte](capacity, ttl, func(v []byte) int { return len(v) })
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.clock = func() time.Time { return now }
	return s, &now
}

func TestGetAndInsert(t *testing.T) {
	s, _ := newTestStore(4, 0)

	if _, ok := s.Get("missing"); ok {
		t.Fatal("expected miss on empty store")
	}

	s.Insert("a", []byte{1, 2, 3})
	got, ok := s.Get("a")
	if !ok {
		t.Fatal("expected hit")
	}
	if len(got) != 3 {
		t.Fatalf("unexpected value %v", got)
	}
}

func TestCapacityInvariant(t *testing.T) {
	s, _ := newTestStore(3, 0)
	for i := 0; i < 20; i++ {
		s.Insert(fmt.Sprintf("key-%d", i), []byte{byte(i)})
		if n := s.Len(); n > 3 {
			t.Fatalf("after insert %d: %d entries exceeds capacity", i, n)
		}
	}
}

// The least-read entry goes first; recency only breaks ties.
func TestEvictionPrefersLowAccessCount(t *testing.T) {
	s, now := newTestStore(2, 0)

	s.Insert("a", []byte("a"))
	*now = now.Add(time.Second)
	s.Insert("b", []byte("b"))
	*now = now.Add(time.Second)
	if _, ok := s.Get("a"); !ok {
		t.Fatal("expected hit on a")
	}

	*now = now.Add(time.Second)
	s.Insert("c", []byte("c"))

	if _, ok := s.Get("b"); ok {
		t.Fatal("expected b to be evicted")
	}
	if _, ok := s.Get("a"); !ok {
		t.Fatal("expected a to survive")
	}
	if _, ok := s.Get("c"); !ok {
		t.Fatal("expected c to survive")
	}
}

func TestEvictionTieBreaksOnLastAccess(t *testing.T) {
	s, now := newTestStore(2, 0)

	s.Insert("old", []byte("old"))
	*now = now.Add(time.Minute)
	s.Insert("new", []byte("new"))
	*now = now.Add(time.Minute)

	// Equal access counts; "old" has the older last access.
	s.Insert("third", []byte("third"))

	if _, ok := s.Get("old"); ok {
		t.Fatal("expected old to be evicted on tie")
	}
	if _, ok := s.Get("new"); !ok {
		t.Fatal("expected new to survive")
	}
}

func TestTTLExpiry(t *testing.T) {
	s, now := newTestStore(10, time.Hour)

	s.Insert("a", []byte("a"))
	*now = now.Add(59 * time.Minute)
	if _, ok := s.Get("a"); !ok {
		t.Fatal("expected entry to still be live before the TTL")
	}

	*now = now.Add(2 * time.Minute)
	if _, ok := s.Get("a"); ok {
		t.Fatal("expected entry to expire after the TTL")
	}
	if n := s.Len(); n != 0 {
		t.Fatalf("expected sweep to drop the entry, got %d live", n)
	}
}

func TestRemoveAndClear(t *testing.T) {
	s, _ := newTestStore(10, 0)
	s.Insert("a", []byte("a"))
	s.Insert("b", []byte("b"))

	if !s.Remove("a") {
		t.Fatal("expected remove to report the entry existed")
	}
	if s.Remove("a") {
		t.Fatal("expected second remove to report a miss")
	}

	s.Clear()
	if s.Len() != 0 {
		t.Fatal("expected empty store after clear")
	}
}

func TestInsertAtZeroCapacity(t *testing.T) {
	s, _ := newTestStore(0, 0)
	s.Insert("a", []byte("a"))
	if n := s.Len(); n != 0 {
		t.Fatalf("expected zero-capacity store to drop inserts, got %d entries", n)
	}

	s, _ = newTestStore(2, 0)
	s.Insert("a", []byte("a"))
	s.Insert("b", []byte("b"))
	s.SetCapacity(0)
	if n := s.Len(); n != 0 {
		t.Fatalf("expected shrink to zero to evict everything, got %d entries", n)
	}
	s.Insert("c", []byte("c"))
	if n := s.Len(); n != 0 {
		t.Fatalf("expected insert after shrink to zero to be dropped, got %d entries", n)
	}
}

func TestSetCapacityShrinks(t *testing.T) {
	s, now := newTestStore(5, 0)
	for i := 0; i < 5; i++ {
		s.Insert(fmt.Sprintf("key-%d", i), []byte{byte(i)})
		*now = now.Add(time.Second)
	}
	// Make key-4 the clear survivor.
	s.Get("key-4")
	s.Get("key-4")

	s.SetCapacity(1)
	if s.Len() != 1 {
		t.Fatalf("expected 1 entry after shrink, got %d", s.Len())
	}
	if _, ok := s.Get("key-4"); !ok {
		t.Fatal("expected the most-read entry to survive the shrink")
	}
}

func TestStats(t *testing.T) {
	s, now := newTestStore(10, 0)

	stats := s.Stats()
	if stats.Entries != 0 || stats.HitRate != 0 || stats.TotalAccesses != 0 {
		t.Fatalf("unexpected stats for empty store: %+v", stats)
	}

	s.Insert("a", []byte("aaaa"))
	s.Insert("b", []byte("bb"))
	*now = now.Add(10 * time.Second)
	s.Get("a")
	s.Get("a")

	stats = s.Stats()
	if stats.Entries != 2 {
		t.Fatalf("entries = %d, want 2", stats.Entries)
	}
	if stats.Capacity != 10 {
		t.Fatalf("capacity = %d, want 10", stats.Capacity)
	}
	if stats.TotalAccesses != 4 {
		t.Fatalf("total accesses = %d, want 4", stats.TotalAccesses)
	}
	if want := 0.5; stats.HitRate != want {
		t.Fatalf("hit rate = %v, want %v", stats.HitRate, want)
	}
	if stats.TotalSizeBytes != 6 {
		t.Fatalf("total size = %d, want 6", stats.TotalSizeBytes)
	}
	if stats.AverageAge != 10*time.Second {
		t.Fatalf("average age = %v, want 10s", stats.AverageAge)
	}
}

func TestHottest(t *testing.T) {
	s, _ := newTestStore(10, 0)
	s.Insert("cold", []byte("c"))
	s.Insert("warm", []byte("w"))
	s.Insert("hot", []byte("h"))
	s.Get("warm")
	for i := 0; i < 3; i++ {
		s.Get("hot")
	}

	got := s.Hottest(2)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Key != "hot" || got[0].AccessCount != 4 {
		t.Fatalf("unexpected hottest entry %+v", got[0])
	}
	if got[1].Key != "warm" || got[1].AccessCount != 2 {
		t.Fatalf("unexpected second entry %+v", got[1])
	}
}

func TestRecent(t *testing.T) {
	s, now := newTestStore(10, 0)
	s.Insert("first", []byte("f"))
	*now = now.Add(time.Second)
	s.Insert("second", []byte("s"))
	*now = now.Add(time.Second)
	s.Get("first")

	got := s.Recent(2)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Key != "first" {
		t.Fatalf("expected the just-read entry first, got %+v", got[0])
	}
	if got[1].Key != "second" {
		t.Fatalf("unexpected second entry %+v", got[1])
	}
}
