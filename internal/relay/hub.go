// Package relay implements the Relay Server side of the protocol: a Hub
// admits duplex channels up to a session cap, runs each through the
// Accept → Handshake → Active → Closed state machine, enforces handshake
// and message rate limits, buffers ciphertexts handed to Store for offline
// recipients and delivers them when the recipient reaches Active, and
// never holds a ratchet of its own — it checks and acknowledges each
// Active frame by outer sequence number alone. Active frames are not
// routed to any other session. The register/unregister bookkeeping follows
// the same shape as a typical hub/broadcast loop, adapted to
// single-recipient delivery instead of fan-out broadcast.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/jaydenbeard/secure-relay/internal/audit"
	"github.com/jaydenbeard/secure-relay/internal/metrics"
	"github.com/jaydenbeard/secure-relay/internal/noncetracker"
	"github.com/jaydenbeard/secure-relay/internal/store"
)

// Default admission and rate-limit policy when a Config field is left zero.
const (
	DefaultMaxSessions         = 10_000
	DefaultMaxMessageSize      = 1_048_576
	DefaultHandshakeRatePerMin = 10
	DefaultMessageRatePerMin   = 100
)

// Config configures a Hub's admission and rate-limit policy.
type Config struct {
	MaxSessions         int
	MaxMessageSize      int
	HandshakeRatePerMin int
	MessageRatePerMin   int
}

// Hub is the relay-process-wide shared state: the session table, the two
// rate limiters, the nonce tracker and message store (both shared across
// every connected session), and the audit/metrics sinks.
type Hub struct {
	ctx context.Context

	mu       sync.RWMutex
	active   map[*ServerSession]struct{}
	byClient map[string]*ServerSession

	maxSessions    int
	maxMessageSize int

	handshakeLimiter *slidingWindowLimiter
	messageLimiter   *slidingWindowLimiter

	nonceTracker *noncetracker.Tracker
	messageStore store.MessageStore
	auditLogger  *audit.Logger

	stop chan struct{}
}

// New creates a Hub. Zero-valued Config fields fall back to the package
// defaults above.
func New(cfg Config, nonceTracker *noncetracker.Tracker, messageStore store.MessageStore, auditLogger *audit.Logger) *Hub {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	if cfg.HandshakeRatePerMin <= 0 {
		cfg.HandshakeRatePerMin = DefaultHandshakeRatePerMin
	}
	if cfg.MessageRatePerMin <= 0 {
		cfg.MessageRatePerMin = DefaultMessageRatePerMin
	}

	return &Hub{
		ctx:              context.Background(),
		active:           make(map[*ServerSession]struct{}),
		byClient:         make(map[string]*ServerSession),
		maxSessions:      cfg.MaxSessions,
		maxMessageSize:   cfg.MaxMessageSize,
		handshakeLimiter: newSlidingWindowLimiter(cfg.HandshakeRatePerMin, time.Minute),
		messageLimiter:   newSlidingWindowLimiter(cfg.MessageRatePerMin, time.Minute),
		nonceTracker:     nonceTracker,
		messageStore:     messageStore,
		auditLogger:      auditLogger,
		stop:             make(chan struct{}),
	}
}

// Accept admits channel as a new connection, identified by remoteAddr for
// handshake-rate-limit purposes, and runs its session loop. Returns false
// (and closes the channel with 1008) if the session cap is already
// reached.
func (h *Hub) Accept(channel Channel, remoteAddr string) bool {
	h.mu.Lock()
	if len(h.active) >= h.maxSessions {
		h.mu.Unlock()
		_ = channel.Close(ClosePolicy, "Capacity exceeded")
		return false
	}
	h.mu.Unlock()

	sess := newServerSession(h, channel, remoteAddr)
	go sess.Run()
	return true
}

func (h *Hub) registerActive(s *ServerSession) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.active[s] = struct{}{}
	h.byClient[s.clientID] = s
	metrics.ActiveSessions.Set(float64(len(h.active)))
}

func (h *Hub) unregister(s *ServerSession) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.active, s)
	if h.byClient[s.clientID] == s {
		delete(h.byClient, s.clientID)
	}
	metrics.ActiveSessions.Set(float64(len(h.active)))
}

// SessionCount reports the number of sessions currently in the Active
// state, for the admin stats surface.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active)
}

// Store buffers raw under recipientID's offline queue for delivery the
// next time that client reaches Active.
func (h *Hub) Store(recipientID string, raw []byte, sequence uint32) error {
	return h.messageStore.Enqueue(h.ctx, store.StoredMessage{
		RecipientID: recipientID,
		Sequence:    sequence,
		Frame:       raw,
		StoredAt:    time.Now(),
	})
}

func (h *Hub) recordHandshake(outcome string) {
	metrics.RecordHandshake(outcome)
	event := audit.Event{Type: audit.EventHandshakeAccepted, Detail: outcome}
	if outcome != "accepted" {
		event.Type = audit.EventHandshakeRejected
	}
	h.auditLogger.Log(event)
}

func (h *Hub) recordMessage(outcome string) {
	metrics.RecordMessage(outcome, 0)
}

func (h *Hub) recordRateLimit(kind string) {
	metrics.RecordRateLimitRejection(kind)
	h.auditLogger.Log(audit.Event{Type: audit.EventRateLimited, Detail: kind})
}

func auditClosedEvent(clientID string) audit.Event {
	return audit.Event{Type: audit.EventSessionClosed, PartyID: clientID}
}

// RunCleanup runs a 60 s periodic task that prunes expired stored
// messages and idle rate-limit records. It blocks until Shutdown is
// called.
func (h *Hub) RunCleanup(expiry time.Duration) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = h.messageStore.Purge(h.ctx, time.Now().Add(-expiry))
			h.handshakeLimiter.Sweep()
			h.messageLimiter.Sweep()
		case <-h.stop:
			return
		}
	}
}

// Shutdown stops the cleanup task and nonce sweep; each active channel is
// closed by the transport layer.
func (h *Hub) Shutdown() {
	close(h.stop)
	h.nonceTracker.Destroy()
}
