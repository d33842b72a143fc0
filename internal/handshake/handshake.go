// Package handshake implements the three-exchange, byte-exact authenticated
// X25519 bootstrap that produces the initial root key for a Client
// Session's ratchet: InitiatorInit, ResponderReply, and an implicit third
// confirmation carried by the first encrypted message.
package handshake

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jaydenbeard/secure-relay/internal/kdf"
	"github.com/jaydenbeard/secure-relay/internal/noncetracker"
	"github.com/jaydenbeard/secure-relay/internal/primitives"
)

// Wire sizes for the two exchanged messages.
const (
	InitiatorInitSize  = 32 + 32 + 64 + 8 + 16
	ResponderReplySize = 32 + 32 + 16 + 12 + 8 + 16
)

// MaxClockSkew is the maximum tolerated difference between a handshake
// timestamp and the verifier's local clock.
const MaxClockSkew = 5 * time.Minute

const prekeyAAD = "handshake-prekey"

var (
	ErrBadLength          = errors.New("handshake: wrong message length")
	ErrSignatureInvalid   = errors.New("handshake: signature verification failed")
	ErrTimestampOutOfRange = errors.New("handshake: timestamp outside allowed skew")
	ErrReplayDetected     = errors.New("handshake: nonce already seen")
)

// InitiatorInit is Message 1.
type InitiatorInit struct {
	ClientEphemeralPub [32]byte
	ClientIdentityPub  [32]byte
	Signature          [64]byte
	TimestampMS        uint64
	Nonce              [16]byte
}

func signedTranscript(ephemeralPub, identityPub [32]byte, timestampMS uint64, nonce [16]byte) []byte {
	buf := make([]byte, 0, 32+32+8+16)
	buf = append(buf, ephemeralPub[:]...)
	buf = append(buf, identityPub[:]...)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], timestampMS)
	buf = append(buf, ts[:]...)
	buf = append(buf, nonce[:]...)
	return buf
}

// BuildInitiatorInit signs and assembles Message 1 on behalf of identity,
// using the given ephemeral keypair and clock.
func BuildInitiatorInit(identity *primitives.Ed25519KeyPair, ephemeral *primitives.X25519KeyPair, now time.Time) (InitiatorInit, []byte, error) {
	nonceBytes, err := primitives.RandomBytes(16)
	if err != nil {
		return InitiatorInit{}, nil, err
	}
	var m InitiatorInit
	m.ClientEphemeralPub = ephemeral.Public
	copy(m.ClientIdentityPub[:], identity.Public)
	m.TimestampMS = uint64(now.UnixMilli())
	copy(m.Nonce[:], nonceBytes)

	sig := primitives.Sign(identity.Private, signedTranscript(m.ClientEphemeralPub, m.ClientIdentityPub, m.TimestampMS, m.Nonce))
	copy(m.Signature[:], sig)

	return m, m.marshal(), nil
}

func (m InitiatorInit) marshal() []byte {
	out := make([]byte, 0, InitiatorInitSize)
	out = append(out, m.ClientEphemeralPub[:]...)
	out = append(out, m.ClientIdentityPub[:]...)
	out = append(out, m.Signature[:]...)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], m.TimestampMS)
	out = append(out, ts[:]...)
	out = append(out, m.Nonce[:]...)
	return out
}

func unmarshalInitiatorInit(raw []byte) (InitiatorInit, error) {
	if len(raw) != InitiatorInitSize {
		return InitiatorInit{}, ErrBadLength
	}
	var m InitiatorInit
	off := 0
	copy(m.ClientEphemeralPub[:], raw[off:off+32])
	off += 32
	copy(m.ClientIdentityPub[:], raw[off:off+32])
	off += 32
	copy(m.Signature[:], raw[off:off+64])
	off += 64
	m.TimestampMS = binary.BigEndian.Uint64(raw[off : off+8])
	off += 8
	copy(m.Nonce[:], raw[off:off+16])
	return m, nil
}

// VerifyInitiatorInit parses and validates a raw Message 1: exact length,
// Ed25519 signature, timestamp skew, and nonce freshness. Any failure
// collapses the handshake; the caller MUST close the channel.
func VerifyInitiatorInit(raw []byte, tracker *noncetracker.Tracker, now time.Time) (InitiatorInit, error) {
	m, err := unmarshalInitiatorInit(raw)
	if err != nil {
		return InitiatorInit{}, err
	}

	if !primitives.Verify(m.ClientIdentityPub[:], signedTranscript(m.ClientEphemeralPub, m.ClientIdentityPub, m.TimestampMS, m.Nonce), m.Signature[:]) {
		return InitiatorInit{}, ErrSignatureInvalid
	}

	if skew := now.Sub(time.UnixMilli(int64(m.TimestampMS))); skew > MaxClockSkew || skew < -MaxClockSkew {
		return InitiatorInit{}, ErrTimestampOutOfRange
	}

	if !tracker.Check(toUUID(m.Nonce)) {
		return InitiatorInit{}, ErrReplayDetected
	}

	return m, nil
}

func toUUID(nonce [16]byte) uuid.UUID {
	var u uuid.UUID
	copy(u[:], nonce[:])
	return u
}

// ResponderReply is Message 2.
type ResponderReply struct {
	ServerEphemeralPub [32]byte
	EncryptedPrekey    [32]byte
	GCMTag             [16]byte
	GCMIV              [12]byte
	TimestampMS        uint64
	Nonce              [16]byte
}

// BuildResponderReply computes the shared secret against clientEphemeralPub,
// derives the root key, and encrypts a random prekey under it. It returns
// the message, its wire encoding, and the derived root key. The plaintext
// prekey is not returned or otherwise consumed by this protocol; it exists
// so both ends perform and verify an AEAD operation as part of confirming
// the shared secret.
func BuildResponderReply(serverEphemeral *primitives.X25519KeyPair, clientEphemeralPub [32]byte, now time.Time) (ResponderReply, []byte, [32]byte, error) {
	ss, err := primitives.X25519SharedSecret(serverEphemeral.Private, clientEphemeralPub)
	if err != nil {
		return ResponderReply{}, nil, [32]byte{}, err
	}
	rootKey, err := kdf.DeriveRootKey(ss[:])
	primitives.ZeroizeArray32(&ss)
	if err != nil {
		return ResponderReply{}, nil, [32]byte{}, err
	}

	prekey, err := primitives.RandomBytes(32)
	if err != nil {
		return ResponderReply{}, nil, [32]byte{}, err
	}
	ivBytes, err := primitives.RandomBytes(12)
	if err != nil {
		return ResponderReply{}, nil, [32]byte{}, err
	}

	sealed, err := primitives.EncryptAESGCM(rootKey[:], ivBytes, prekey, []byte(prekeyAAD))
	if err != nil {
		return ResponderReply{}, nil, [32]byte{}, err
	}

	nonceBytes, err := primitives.RandomBytes(16)
	if err != nil {
		return ResponderReply{}, nil, [32]byte{}, err
	}

	var m ResponderReply
	m.ServerEphemeralPub = serverEphemeral.Public
	copy(m.EncryptedPrekey[:], sealed[:32])
	copy(m.GCMTag[:], sealed[32:48])
	copy(m.GCMIV[:], ivBytes)
	m.TimestampMS = uint64(now.UnixMilli())
	copy(m.Nonce[:], nonceBytes)

	return m, m.marshal(), rootKey, nil
}

func (m ResponderReply) marshal() []byte {
	out := make([]byte, 0, ResponderReplySize)
	out = append(out, m.ServerEphemeralPub[:]...)
	out = append(out, m.EncryptedPrekey[:]...)
	out = append(out, m.GCMTag[:]...)
	out = append(out, m.GCMIV[:]...)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], m.TimestampMS)
	out = append(out, ts[:]...)
	out = append(out, m.Nonce[:]...)
	return out
}

func unmarshalResponderReply(raw []byte) (ResponderReply, error) {
	if len(raw) != ResponderReplySize {
		return ResponderReply{}, ErrBadLength
	}
	var m ResponderReply
	off := 0
	copy(m.ServerEphemeralPub[:], raw[off:off+32])
	off += 32
	copy(m.EncryptedPrekey[:], raw[off:off+32])
	off += 32
	copy(m.GCMTag[:], raw[off:off+16])
	off += 16
	copy(m.GCMIV[:], raw[off:off+12])
	off += 12
	m.TimestampMS = binary.BigEndian.Uint64(raw[off : off+8])
	off += 8
	copy(m.Nonce[:], raw[off:off+16])
	return m, nil
}

// ProcessResponderReply parses Message 2, recomputes the shared secret
// against clientEphemeral, derives the root key, and verifies it by
// decrypting the embedded prekey. Any AEAD failure or timestamp skew
// collapses the handshake.
func ProcessResponderReply(raw []byte, clientEphemeral *primitives.X25519KeyPair, now time.Time) (ResponderReply, [32]byte, error) {
	m, err := unmarshalResponderReply(raw)
	if err != nil {
		return ResponderReply{}, [32]byte{}, err
	}

	ss, err := primitives.X25519SharedSecret(clientEphemeral.Private, m.ServerEphemeralPub)
	if err != nil {
		return ResponderReply{}, [32]byte{}, err
	}
	rootKey, err := kdf.DeriveRootKey(ss[:])
	primitives.ZeroizeArray32(&ss)
	if err != nil {
		return ResponderReply{}, [32]byte{}, err
	}

	sealed := make([]byte, 0, 48)
	sealed = append(sealed, m.EncryptedPrekey[:]...)
	sealed = append(sealed, m.GCMTag[:]...)
	if _, err := primitives.DecryptAESGCM(rootKey[:], m.GCMIV[:], sealed, []byte(prekeyAAD)); err != nil {
		return ResponderReply{}, [32]byte{}, err
	}

	if skew := now.Sub(time.UnixMilli(int64(m.TimestampMS))); skew > MaxClockSkew || skew < -MaxClockSkew {
		return ResponderReply{}, [32]byte{}, ErrTimestampOutOfRange
	}

	return m, rootKey, nil
}
