package execution

import (
	"sort"
	"sync"
	"time"

	"arbees/pkg/types"
)

// idempotencyEntry is what the tracker keeps per key: the original result
// plus when it was recorded, for both TTL expiry and LRU eviction.
type idempotencyEntry struct {
	result    types.ExecutionResult
	recordAt  time.Time
}

// IdempotencyTracker is an in-memory map with a TTL and a hard capacity.
// Grounded on original_source's idempotency.rs: when a cleanup pass still
// leaves the tracker at capacity, it evicts the oldest 10% (sorted by
// record time), not just one entry.
type IdempotencyTracker struct {
	ttl         time.Duration
	maxEntries  int

	mu      sync.Mutex
	entries map[string]idempotencyEntry
}

// NewIdempotencyTracker constructs a tracker with the given TTL and cap.
func NewIdempotencyTracker(ttl time.Duration, maxEntries int) *IdempotencyTracker {
	return &IdempotencyTracker{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]idempotencyEntry),
	}
}

// Check looks up key. If found and not expired, returns (result, true) so
// the caller can short-circuit with a Duplicate status. Otherwise it
// cleans expired entries, evicts if still at or over capacity, and returns
// (zero, false).
func (t *IdempotencyTracker) Check(key string) (types.ExecutionResult, bool) {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[key]; ok {
		if now.Sub(e.recordAt) <= t.ttl {
			return e.result, true
		}
		delete(t.entries, key)
	}

	t.cleanupLocked(now)
	return types.ExecutionResult{}, false
}

// Record stores result under key, evicting if the tracker is now at or
// over capacity.
func (t *IdempotencyTracker) Record(key string, result types.ExecutionResult) {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries[key] = idempotencyEntry{result: result, recordAt: now}
	t.cleanupLocked(now)
}

// cleanupLocked removes expired entries, then — if still at or over
// maxEntries — sorts the remainder by recordAt and drops the oldest 10%
// (at least one entry), mirroring the original's exact eviction slice.
// Callers must hold t.mu.
func (t *IdempotencyTracker) cleanupLocked(now time.Time) {
	for k, e := range t.entries {
		if now.Sub(e.recordAt) > t.ttl {
			delete(t.entries, k)
		}
	}

	if len(t.entries) < t.maxEntries {
		return
	}

	type kv struct {
		key string
		at  time.Time
	}
	ordered := make([]kv, 0, len(t.entries))
	for k, e := range t.entries {
		ordered = append(ordered, kv{k, e.recordAt})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].at.Before(ordered[j].at) })

	evictCount := len(ordered) / 10
	if evictCount < 1 {
		evictCount = 1
	}
	for i := 0; i < evictCount && i < len(ordered); i++ {
		delete(t.entries, ordered[i].key)
	}
}

// Len reports the current entry count (for tests and metrics).
func (t *IdempotencyTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
