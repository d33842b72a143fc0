// Package session implements the Client Session: a handshake-driven
// WebSocket connection that owns one RatchetState per peer, queues
// outbound frames with ack-timeout and exponential-backoff retry, and
// reconnects after a non-fatal close, following the same read-pump/
// write-pump split as a typical WebSocket client.
package session

import (
	"encoding/hex"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jaydenbeard/secure-relay/internal/frame"
	"github.com/jaydenbeard/secure-relay/internal/handshake"
	"github.com/jaydenbeard/secure-relay/internal/primitives"
	"github.com/jaydenbeard/secure-relay/internal/ratchet"
)

const (
	peerServer = "server"

	ackTimeout      = 5 * time.Second
	maxRetries      = 10
	baseBackoff     = 1 * time.Second
	maxBackoff      = 60 * time.Second
	handshakeDeadline = 10 * time.Second
)

// fatalCloseCodes never trigger a reconnect.
var fatalCloseCodes = map[int]bool{
	websocket.CloseNormalClosure:           true,
	websocket.CloseProtocolError:           true,
	websocket.CloseUnsupportedData:         true,
	websocket.CloseInvalidFramePayloadData: true,
	websocket.ClosePolicyViolation:         true,
	websocket.CloseMessageTooBig:           true,
	websocket.CloseInternalServerErr:       true,
}

// MessageHandler is invoked with the plaintext of every decrypted inbound
// message.
type MessageHandler func(peerID string, plaintext []byte)

// pendingAck is an outbound frame awaiting acknowledgment.
type pendingAck struct {
	raw        []byte
	retryCount int
	nextRetry  time.Time
}

// ClientSession drives one end of the duplex channel: handshake as
// initiator, per-peer ratchets, outbound retry queue, reconnect on
// non-fatal close.
type ClientSession struct {
	url      string
	identity *primitives.Ed25519KeyPair

	mu              sync.Mutex
	conn            *websocket.Conn
	ratchets        map[string]*ratchet.State
	remoteEphemeral map[string][32]byte
	pending         map[string]*pendingAck // hex(message_id) -> waiter
	backoff   time.Duration
	closed    bool
	reconnect bool

	onMessage MessageHandler

	dialer  func(url string) (*websocket.Conn, error)
	stop    chan struct{}
	stopped sync.Once
}

// New creates a ClientSession for identity that will dial url on Connect.
func New(url string, identity *primitives.Ed25519KeyPair, onMessage MessageHandler) *ClientSession {
	return &ClientSession{
		url:             url,
		identity:        identity,
		ratchets:        make(map[string]*ratchet.State),
		remoteEphemeral: make(map[string][32]byte),
		pending:         make(map[string]*pendingAck),
		backoff:         baseBackoff,
		onMessage:       onMessage,
		stop:            make(chan struct{}),
		dialer: func(url string) (*websocket.Conn, error) {
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			return conn, err
		},
	}
}

// Connect opens the duplex channel and runs the initiator handshake,
// installing the server-tagged ratchet on success.
func (s *ClientSession) Connect() error {
	conn, err := s.dialer(s.url)
	if err != nil {
		return err
	}

	ephemeral, err := primitives.GenerateX25519KeyPair()
	if err != nil {
		conn.Close()
		return err
	}

	if err := conn.SetWriteDeadline(time.Now().Add(handshakeDeadline)); err != nil {
		conn.Close()
		return err
	}

	_, raw, err := handshake.BuildInitiatorInit(s.identity, ephemeral, time.Now())
	if err != nil {
		conn.Close()
		return err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, raw); err != nil {
		conn.Close()
		return err
	}

	if err := conn.SetReadDeadline(time.Now().Add(handshakeDeadline)); err != nil {
		conn.Close()
		return err
	}
	_, reply, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return err
	}

	replyMsg, rootKey, err := handshake.ProcessResponderReply(reply, ephemeral, time.Now())
	if err != nil {
		conn.Close()
		return err
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		conn.Close()
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.ratchets[peerServer] = ratchet.Initialize(rootKey, ephemeral, &replyMsg.ServerEphemeralPub)
	s.remoteEphemeral[peerServer] = replyMsg.ServerEphemeralPub
	s.backoff = baseBackoff
	s.closed = false
	s.mu.Unlock()

	go s.readLoop()
	go s.retryLoop()
	return nil
}

// Send encrypts plaintext under the named peer's ratchet and transmits it,
// registering an ack waiter with a 5 s timeout.
func (s *ClientSession) Send(peerID string, plaintext []byte) (uuid.UUID, error) {
	s.mu.Lock()
	rs, ok := s.ratchets[peerID]
	if !ok {
		return uuid.UUID{}, errors.New("session: unknown peer, no ratchet installed")
	}

	mk, err := rs.Send()
	if err != nil {
		s.mu.Unlock()
		return uuid.UUID{}, err
	}

	hdr := frame.Header{
		Sequence:      mk.Index,
		DHPub:         rs.SendingEphemeralPublic(),
		MessageNumber: mk.Index,
		PrevChainLen:  0,
	}
	messageID := uuid.New()
	raw, err := frame.Encode(mk, hdr, plaintext, messageID, uint64(time.Now().UnixMilli()))
	if err != nil {
		s.mu.Unlock()
		return uuid.UUID{}, err
	}

	key := hex.EncodeToString(messageID[:])
	conn := s.conn
	nextRetry := time.Now()
	if conn != nil {
		nextRetry = nextRetry.Add(ackTimeout)
	}
	s.pending[key] = &pendingAck{raw: raw, nextRetry: nextRetry}
	s.mu.Unlock()

	if conn != nil {
		_ = conn.WriteMessage(websocket.BinaryMessage, raw)
	}
	return messageID, nil
}

func (s *ClientSession) readLoop() {
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			code := websocket.CloseNoStatusReceived
			if ce, ok := err.(*websocket.CloseError); ok {
				code = ce.Code
			}
			s.handleClose(code)
			return
		}
		s.handleFrame(raw)
	}
}

func (s *ClientSession) handleFrame(raw []byte) {
	if len(raw) == frame.AckSize {
		ack, err := frame.DecodeAck(raw)
		if err != nil {
			return
		}
		key := hex.EncodeToString(ack.MessageID[:])

		s.mu.Lock()
		if ack.Success {
			delete(s.pending, key)
		} else if pa, ok := s.pending[key]; ok {
			if pa.retryCount >= maxRetries {
				delete(s.pending, key)
			} else {
				pa.retryCount++
				pa.nextRetry = time.Now().Add(backoffDuration(pa.retryCount))
			}
		}
		s.mu.Unlock()
		return
	}

	if len(raw) <= 20 {
		return
	}

	m, err := frame.Parse(raw)
	if err != nil {
		log.Printf("session: malformed inbound frame: %v", err)
		return
	}

	s.mu.Lock()
	rs, ok := s.ratchets[peerServer]
	remotePub := s.remoteEphemeral[peerServer]
	s.mu.Unlock()
	if !ok {
		return
	}

	plaintext, err := decryptFrame(rs, remotePub, m)
	if err != nil {
		log.Printf("session: receive step failed: %v", err)
		return
	}
	if s.onMessage != nil {
		s.onMessage(peerServer, plaintext)
	}
}

// decryptFrame runs the ratchet receive step against the peer's known
// ephemeral public key (this protocol never re-keys after the handshake,
// so remotePub stays the value learned during Connect) and decrypts the
// body, letting frame.Decrypt's own cross-check reject any disagreement
// with the inner header's sequence or message-key index.
func decryptFrame(rs *ratchet.State, remotePub [32]byte, m frame.Message) ([]byte, error) {
	mk, err := rs.Receive(remotePub, m.Sequence, 0)
	if err != nil {
		return nil, err
	}
	_, plaintext, err := frame.Decrypt(m, mk)
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

func (s *ClientSession) retryLoop() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runRetries()
		case <-s.stop:
			return
		}
	}
}

// backoffDuration computes the exponential retry delay for a given
// retry count, capped at maxBackoff.
func backoffDuration(retryCount int) time.Duration {
	backoff := baseBackoff * time.Duration(1<<uint(retryCount))
	if backoff <= 0 || backoff > maxBackoff {
		return maxBackoff
	}
	return backoff
}

func (s *ClientSession) runRetries() {
	now := time.Now()

	s.mu.Lock()
	conn := s.conn
	var toSend [][]byte
	for key, pa := range s.pending {
		if now.Before(pa.nextRetry) {
			continue
		}
		if pa.retryCount >= maxRetries {
			delete(s.pending, key)
			continue
		}
		pa.retryCount++
		pa.nextRetry = now.Add(backoffDuration(pa.retryCount))
		toSend = append(toSend, pa.raw)
	}
	s.mu.Unlock()

	if conn == nil {
		return
	}
	for _, raw := range toSend {
		_ = conn.WriteMessage(websocket.BinaryMessage, raw)
	}
}

func (s *ClientSession) handleClose(code int) {
	s.mu.Lock()
	s.conn = nil
	fatal := fatalCloseCodes[code]
	s.mu.Unlock()

	if fatal {
		log.Printf("session: fatal close code %d, not reconnecting", code)
		return
	}

	go s.reconnectWithBackoff()
}

func (s *ClientSession) reconnectWithBackoff() {
	s.mu.Lock()
	wait := s.backoff
	s.mu.Unlock()

	time.Sleep(wait)

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	if err := s.Connect(); err != nil {
		s.mu.Lock()
		s.backoff = min(s.backoff*2, maxBackoff)
		s.mu.Unlock()
		go s.reconnectWithBackoff()
	}
}

// Close shuts down the session and its background loops without
// reconnecting.
func (s *ClientSession) Close() {
	s.stopped.Do(func() { close(s.stop) })

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, rs := range s.ratchets {
		rs.Destroy()
	}
	if s.conn != nil {
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.conn.Close()
		s.conn = nil
	}
}

func min(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
