// Package noncetracker implements the handshake nonce replay cache: a
// TTL+LRU map from a 16-byte handshake nonce to its first-seen time, with
// capacity-bounded eviction and a periodic sweep.
package noncetracker

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is the replay window: 5 minutes.
const DefaultTTL = 5 * time.Minute

// DefaultCapacity is the max number of tracked nonces before the oldest is
// evicted on insert.
const DefaultCapacity = 100_000

// DefaultSweepInterval is how often the background sweep removes expired
// entries.
const DefaultSweepInterval = 60 * time.Second

// Backend is the pluggable storage for nonce records. The default is an
// in-process map; a Redis-backed implementation lets a fleet of relay
// instances share one replay window.
type Backend interface {
	// CheckAndInsert atomically checks nonce for a non-expired entry and,
	// if absent, inserts it with firstSeen. It reports whether the nonce
	// was freshly accepted.
	CheckAndInsert(nonce uuid.UUID, firstSeen time.Time, ttl time.Duration, capacity int) (accepted bool)
	// Sweep removes entries older than cutoff.
	Sweep(cutoff time.Time)
	// Len reports the current number of tracked nonces.
	Len() int
	// Clear removes all entries.
	Clear()
}

// Tracker is the handshake nonce replay cache.
type Tracker struct {
	backend  Backend
	ttl      time.Duration
	capacity int

	sweepInterval time.Duration
	stop          chan struct{}
	stopped       sync.Once
}

// New creates a Tracker over backend with the given TTL/capacity/sweep
// interval. Passing zero values selects the package defaults.
func New(backend Backend, ttl time.Duration, capacity int, sweepInterval time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	return &Tracker{
		backend:       backend,
		ttl:           ttl,
		capacity:      capacity,
		sweepInterval: sweepInterval,
		stop:          make(chan struct{}),
	}
}

// Check reports whether nonce is fresh (accepted) or a replay, inserting it
// on acceptance.
func (t *Tracker) Check(nonce uuid.UUID) (accepted bool) {
	return t.backend.CheckAndInsert(nonce, time.Now(), t.ttl, t.capacity)
}

// Len reports the number of currently tracked nonces.
func (t *Tracker) Len() int { return t.backend.Len() }

// StartSweep launches the periodic background sweep. Call Destroy to stop
// it.
func (t *Tracker) StartSweep() {
	go func() {
		ticker := time.NewTicker(t.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.backend.Sweep(time.Now().Add(-t.ttl))
			case <-t.stop:
				return
			}
		}
	}()
}

// Destroy stops the sweep and clears the backend.
func (t *Tracker) Destroy() {
	t.stopped.Do(func() { close(t.stop) })
	t.backend.Clear()
}
