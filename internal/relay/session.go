package relay

import (
	"encoding/hex"
	"time"

	"github.com/jaydenbeard/secure-relay/internal/frame"
	"github.com/jaydenbeard/secure-relay/internal/handshake"
	"github.com/jaydenbeard/secure-relay/internal/primitives"
)

type sessionState int

const (
	stateAccept sessionState = iota
	stateHandshake
	stateActive
	stateClosed
)

// ServerSession is the relay's per-channel state machine: Accept →
// Handshake → Active → Closed.
type ServerSession struct {
	hub      *Hub
	channel  Channel
	remoteID string // transport-layer remote address, used during Handshake

	state sessionState

	clientID         string // hex(client_identity_pub), known only after Handshake
	expectedSequence uint32

	serverEphemeral *primitives.X25519KeyPair
}

func newServerSession(hub *Hub, channel Channel, remoteID string) *ServerSession {
	return &ServerSession{hub: hub, channel: channel, remoteID: remoteID, state: stateAccept}
}

// Run drives the session's frame loop until the channel closes.
func (s *ServerSession) Run() {
	defer s.cleanup()

	s.state = stateHandshake
	for {
		raw, err := s.channel.ReadMessage()
		if err != nil {
			return
		}

		switch s.state {
		case stateHandshake:
			if !s.handleHandshakeFrame(raw) {
				return
			}
		case stateActive:
			if !s.handleActiveFrame(raw) {
				return
			}
		}
	}
}

// handleHandshakeFrame processes the single permitted InitiatorInit frame.
func (s *ServerSession) handleHandshakeFrame(raw []byte) bool {
	if !s.hub.handshakeLimiter.Allow(s.remoteID) {
		s.hub.recordHandshake("rate_limited")
		s.closeFatal(ClosePolicy, "Rate limit exceeded")
		return false
	}

	init, err := handshake.VerifyInitiatorInit(raw, s.hub.nonceTracker, time.Now())
	if err != nil {
		s.hub.recordHandshake(handshakeOutcome(err))
		s.closeFatal(ClosePolicy, "Handshake failed")
		return false
	}

	ephemeral, err := primitives.GenerateX25519KeyPair()
	if err != nil {
		s.closeFatal(CloseInternal, "Internal error")
		return false
	}

	_, raw2, rootKey, err := handshake.BuildResponderReply(ephemeral, init.ClientEphemeralPub, time.Now())
	if err != nil {
		s.closeFatal(CloseInternal, "Internal error")
		return false
	}
	// The relay never keeps a RatchetState of its own: the root key only
	// exists to prove possession of the shared secret inside the reply's
	// sealed prekey, then is discarded. Message plaintext stays opaque to
	// the relay from here on; it checks frames by outer sequence number alone.
	primitives.ZeroizeArray32(&rootKey)

	if err := s.channel.Send(raw2); err != nil {
		return false
	}

	s.serverEphemeral = ephemeral
	s.clientID = hex.EncodeToString(init.ClientIdentityPub[:])
	s.expectedSequence = 0
	s.state = stateActive

	s.hub.recordHandshake("accepted")
	s.hub.registerActive(s)
	s.deliverStoredMessages()
	return true
}

func handshakeOutcome(err error) string {
	switch err {
	case handshake.ErrSignatureInvalid:
		return "signature_invalid"
	case handshake.ErrTimestampOutOfRange:
		return "timestamp_out_of_range"
	case handshake.ErrReplayDetected:
		return "replay_detected"
	default:
		return "malformed"
	}
}

// handleActiveFrame enforces the length, rate-limit and sequence rules of
// the Active state, then acks.
func (s *ServerSession) handleActiveFrame(raw []byte) bool {
	if len(raw) < 16 {
		s.closeFatal(CloseInvalidFrame, "Invalid frame")
		return false
	}
	if len(raw) > s.hub.maxMessageSize {
		s.closeFatal(CloseTooBig, "Frame too large")
		return false
	}

	if !s.hub.messageLimiter.Allow(s.clientID) {
		s.hub.recordRateLimit("message")
		s.closeFatal(ClosePolicy, "Rate limit exceeded")
		return false
	}

	m, err := frame.Parse(raw)
	if err != nil {
		s.hub.recordMessage("sequence_error")
		s.closeFatal(CloseInvalidFrame, "Invalid frame")
		return false
	}
	if m.Sequence != s.expectedSequence {
		s.hub.recordMessage("sequence_error")
		s.closeFatal(CloseInvalidFrame, "Sequence error")
		return false
	}
	s.expectedSequence++

	s.hub.recordMessage("forwarded")

	ack := frame.EncodeAck(frame.Ack{MessageID: m.MessageID, ReceivedAtMS: uint64(time.Now().UnixMilli()), Success: true})
	if err := s.channel.Send(ack); err != nil {
		return false
	}
	return true
}

// deliverStoredMessages flushes any buffered offline messages for this
// session's client-id in stored order, then drops the queue.
func (s *ServerSession) deliverStoredMessages() {
	messages, err := s.hub.messageStore.Drain(s.hub.ctx, s.clientID)
	if err != nil || len(messages) == 0 {
		return
	}
	for _, msg := range messages {
		_ = s.channel.Send(msg.Frame)
	}
}

func (s *ServerSession) closeFatal(code int, reason string) {
	s.state = stateClosed
	_ = s.channel.Close(code, reason)
}

func (s *ServerSession) cleanup() {
	s.state = stateClosed
	s.hub.unregister(s)
	s.hub.auditLogger.Log(auditClosedEvent(s.clientID))
}
