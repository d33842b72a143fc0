package session

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/jaydenbeard/secure-relay/internal/frame"
	"github.com/jaydenbeard/secure-relay/internal/primitives"
	"github.com/jaydenbeard/secure-relay/internal/ratchet"
)

func TestFatalCloseCodesMatchPolicy(t *testing.T) {
	want := []int{1000, 1002, 1003, 1007, 1008, 1009, 1011}
	for _, code := range want {
		require.True(t, fatalCloseCodes[code], "expected %d to be fatal", code)
	}
	require.False(t, fatalCloseCodes[websocket.CloseAbnormalClosure])
}

func pairedStates(t *testing.T) (*ratchet.State, *ratchet.State) {
	t.Helper()
	var rootKey [32]byte
	copy(rootKey[:], []byte("0123456789abcdef0123456789abcdef"))

	aEph, err := primitives.GenerateX25519KeyPair()
	require.NoError(t, err)
	bEph, err := primitives.GenerateX25519KeyPair()
	require.NoError(t, err)

	a := ratchet.Initialize(rootKey, aEph, &bEph.Public)
	b := ratchet.Initialize(rootKey, bEph, &aEph.Public)
	return a, b
}

func TestDecryptFrameRoundTrip(t *testing.T) {
	sender, receiver := pairedStates(t)

	mk, err := sender.Send()
	require.NoError(t, err)

	hdr := frame.Header{Sequence: mk.Index, DHPub: sender.SendingEphemeralPublic(), MessageNumber: mk.Index}
	raw, err := frame.Encode(mk, hdr, []byte("hello relay"), uuid.New(), uint64(time.Now().UnixMilli()))
	require.NoError(t, err)

	m, err := frame.Parse(raw)
	require.NoError(t, err)

	plaintext, err := decryptFrame(receiver, sender.SendingEphemeralPublic(), m)
	require.NoError(t, err)
	require.Equal(t, "hello relay", string(plaintext))
}

func newTestSession() *ClientSession {
	return &ClientSession{
		ratchets:        make(map[string]*ratchet.State),
		remoteEphemeral: make(map[string][32]byte),
		pending:         make(map[string]*pendingAck),
		backoff:         baseBackoff,
		stop:            make(chan struct{}),
	}
}

func TestSendRegistersPendingAck(t *testing.T) {
	sender, _ := pairedStates(t)
	s := newTestSession()
	s.ratchets[peerServer] = sender

	messageID, err := s.Send(peerServer, []byte("ping"))
	require.NoError(t, err)

	s.mu.Lock()
	_, ok := s.pending[hex.EncodeToString(messageID[:])]
	s.mu.Unlock()
	require.True(t, ok)
}

func TestHandleFrameResolvesAck(t *testing.T) {
	s := newTestSession()
	messageID := uuid.New()
	key := hex.EncodeToString(messageID[:])

	s.mu.Lock()
	s.pending[key] = &pendingAck{raw: []byte("x")}
	s.mu.Unlock()

	raw := frame.EncodeAck(frame.Ack{MessageID: messageID, ReceivedAtMS: 1, Success: true})
	s.handleFrame(raw)

	s.mu.Lock()
	_, stillPending := s.pending[key]
	s.mu.Unlock()
	require.False(t, stillPending)
}

func TestHandleFrameFailedAckSchedulesRetry(t *testing.T) {
	s := newTestSession()
	messageID := uuid.New()
	key := hex.EncodeToString(messageID[:])

	s.mu.Lock()
	s.pending[key] = &pendingAck{raw: []byte("x"), nextRetry: time.Now().Add(time.Hour)}
	s.mu.Unlock()

	before := time.Now()
	raw := frame.EncodeAck(frame.Ack{MessageID: messageID, ReceivedAtMS: 1, Success: false})
	s.handleFrame(raw)

	s.mu.Lock()
	pa, stillPending := s.pending[key]
	s.mu.Unlock()
	require.True(t, stillPending, "a failed ack must not remove the pending entry")
	require.Equal(t, 1, pa.retryCount)
	require.False(t, pa.nextRetry.After(before.Add(baseBackoff*2+time.Second)))
	require.True(t, pa.nextRetry.Before(before.Add(time.Hour)), "nextRetry must be rescheduled sooner than its stale value")
}

func TestSendUnknownPeerErrors(t *testing.T) {
	s := newTestSession()
	_, err := s.Send("nobody", []byte("x"))
	require.Error(t, err)
}
