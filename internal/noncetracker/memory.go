package noncetracker

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type memEntry struct {
	nonce     uuid.UUID
	firstSeen time.Time
}

// MemoryBackend is the single-process default: a map plus an insertion
// order slice for oldest-first eviction, guarded by one mutex.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[uuid.UUID]time.Time
	order   []uuid.UUID
}

// NewMemoryBackend creates an empty in-process nonce backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[uuid.UUID]time.Time)}
}

// CheckAndInsert implements Backend.
func (m *MemoryBackend) CheckAndInsert(nonce uuid.UUID, firstSeen time.Time, ttl time.Duration, capacity int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if seen, ok := m.entries[nonce]; ok {
		if firstSeen.Sub(seen) < ttl {
			return false
		}
		// Expired entry with the same nonce value is indistinguishable
		// from fresh; refresh it in place.
		m.entries[nonce] = firstSeen
		return true
	}

	if len(m.entries) >= capacity {
		m.evictOldestLocked()
	}

	m.entries[nonce] = firstSeen
	m.order = append(m.order, nonce)
	return true
}

func (m *MemoryBackend) evictOldestLocked() {
	for len(m.order) > 0 {
		oldest := m.order[0]
		m.order = m.order[1:]
		if _, ok := m.entries[oldest]; ok {
			delete(m.entries, oldest)
			return
		}
	}
}

// Sweep implements Backend.
func (m *MemoryBackend) Sweep(cutoff time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.order[:0]
	for _, n := range m.order {
		seen, ok := m.entries[n]
		if !ok {
			continue
		}
		if seen.Before(cutoff) {
			delete(m.entries, n)
			continue
		}
		kept = append(kept, n)
	}
	m.order = kept
}

// Len implements Backend.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Clear implements Backend.
func (m *MemoryBackend) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[uuid.UUID]time.Time)
	m.order = nil
}
