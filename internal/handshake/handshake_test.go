package handshake

import (
	"testing"
	"time"

	"github.com/jaydenbeard/secure-relay/internal/noncetracker"
	"github.com/jaydenbeard/secure-relay/internal/primitives"
	"github.com/stretchr/testify/require"
)

func TestHandshakeRoundTrip(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)

	clientIdentity, err := primitives.GenerateEd25519KeyPair()
	require.NoError(t, err)
	clientEph, err := primitives.GenerateX25519KeyPair()
	require.NoError(t, err)

	_, initRaw, err := BuildInitiatorInit(clientIdentity, clientEph, now)
	require.NoError(t, err)
	require.Len(t, initRaw, InitiatorInitSize)

	tracker := noncetracker.New(noncetracker.NewMemoryBackend(), 0, 0, 0)
	parsedInit, err := VerifyInitiatorInit(initRaw, tracker, now)
	require.NoError(t, err)

	serverEph, err := primitives.GenerateX25519KeyPair()
	require.NoError(t, err)
	_, replyRaw, serverRootKey, err := BuildResponderReply(serverEph, parsedInit.ClientEphemeralPub, now)
	require.NoError(t, err)
	require.Len(t, replyRaw, ResponderReplySize)

	_, clientRootKey, err := ProcessResponderReply(replyRaw, clientEph, now)
	require.NoError(t, err)

	require.Equal(t, serverRootKey, clientRootKey)
}

func TestVerifyInitiatorInitRejectsBadSignature(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	clientIdentity, err := primitives.GenerateEd25519KeyPair()
	require.NoError(t, err)
	clientEph, err := primitives.GenerateX25519KeyPair()
	require.NoError(t, err)

	_, raw, err := BuildInitiatorInit(clientIdentity, clientEph, now)
	require.NoError(t, err)
	raw[0] ^= 0xFF // corrupt the ephemeral pub covered by the signature

	tracker := noncetracker.New(noncetracker.NewMemoryBackend(), 0, 0, 0)
	_, err = VerifyInitiatorInit(raw, tracker, now)
	require.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerifyInitiatorInitRejectsReplay(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	clientIdentity, err := primitives.GenerateEd25519KeyPair()
	require.NoError(t, err)
	clientEph, err := primitives.GenerateX25519KeyPair()
	require.NoError(t, err)

	_, raw, err := BuildInitiatorInit(clientIdentity, clientEph, now)
	require.NoError(t, err)

	tracker := noncetracker.New(noncetracker.NewMemoryBackend(), 0, 0, 0)
	_, err = VerifyInitiatorInit(raw, tracker, now)
	require.NoError(t, err)

	_, err = VerifyInitiatorInit(raw, tracker, now)
	require.ErrorIs(t, err, ErrReplayDetected)
}

func TestVerifyInitiatorInitRejectsStaleTimestamp(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	clientIdentity, err := primitives.GenerateEd25519KeyPair()
	require.NoError(t, err)
	clientEph, err := primitives.GenerateX25519KeyPair()
	require.NoError(t, err)

	_, raw, err := BuildInitiatorInit(clientIdentity, clientEph, now)
	require.NoError(t, err)

	tracker := noncetracker.New(noncetracker.NewMemoryBackend(), 0, 0, 0)
	later := now.Add(10 * time.Minute)
	_, err = VerifyInitiatorInit(raw, tracker, later)
	require.ErrorIs(t, err, ErrTimestampOutOfRange)
}

func TestProcessResponderReplyRejectsTamperedPrekey(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	clientEph, err := primitives.GenerateX25519KeyPair()
	require.NoError(t, err)
	serverEph, err := primitives.GenerateX25519KeyPair()
	require.NoError(t, err)

	_, raw, _, err := BuildResponderReply(serverEph, clientEph.Public, now)
	require.NoError(t, err)
	raw[32] ^= 0xFF // corrupt the encrypted prekey

	_, _, err = ProcessResponderReply(raw, clientEph, now)
	require.ErrorIs(t, err, primitives.ErrAuthFailure)
}
