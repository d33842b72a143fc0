// Package primitives wraps the raw cryptographic building blocks the rest
// of the session engine composes: Ed25519 signing, X25519 key agreement,
// AES-256-GCM AEAD, HMAC-SHA-256, CSPRNG, constant-time comparisons, and
// best-effort key zeroization.
package primitives

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"io"

	"golang.org/x/crypto/curve25519"
)

const (
	// PublicKeySize is the width of an X25519 or Ed25519 public key.
	PublicKeySize = 32
	// GCMTagSize is the AES-GCM authentication tag width.
	GCMTagSize = 16
	// GCMNonceSize is the AES-GCM IV width used throughout the wire format.
	GCMNonceSize = 12
)

// ErrAuthFailure is returned whenever an AEAD tag or HMAC fails to verify.
var ErrAuthFailure = errors.New("primitives: authentication failed")

// Nonce domain separators for DeterministicNonce: the body and header of a
// single frame are encrypted under the same message key, so they must use
// distinct nonces.
const (
	NonceDomainBody   byte = 0x00
	NonceDomainHeader byte = 0x01
)

// X25519KeyPair is a short-lived Diffie-Hellman keypair (an EphemeralKey).
type X25519KeyPair struct {
	Private [32]byte
	Public  [32]byte
}

// GenerateX25519KeyPair creates a new clamped X25519 keypair.
func GenerateX25519KeyPair() (*X25519KeyPair, error) {
	var priv [32]byte
	if _, err := io.ReadFull(rand.Reader, priv[:]); err != nil {
		return nil, err
	}
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64

	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}

	kp := &X25519KeyPair{Private: priv}
	copy(kp.Public[:], pub)
	return kp, nil
}

// X25519SharedSecret performs the Diffie-Hellman computation.
func X25519SharedSecret(private, public [32]byte) ([32]byte, error) {
	var out [32]byte
	shared, err := curve25519.X25519(private[:], public[:])
	if err != nil {
		return out, err
	}
	copy(out[:], shared)
	return out, nil
}

// Ed25519KeyPair is the long-lived IdentityKey.
type Ed25519KeyPair struct {
	Private ed25519.PrivateKey // 64 bytes: seed || public
	Public  ed25519.PublicKey  // 32 bytes
}

// GenerateEd25519KeyPair creates a new identity keypair.
func GenerateEd25519KeyPair() (*Ed25519KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Ed25519KeyPair{Private: priv, Public: pub}, nil
}

// Sign signs data with an Ed25519 identity private key.
func Sign(priv ed25519.PrivateKey, data []byte) []byte {
	return ed25519.Sign(priv, data)
}

// Verify checks an Ed25519 signature. It never panics on malformed input.
func Verify(pub ed25519.PublicKey, data, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, data, sig)
}

// EncryptAESGCM seals plaintext under key/iv with the given AAD, returning
// ciphertext with the 16-byte tag appended (matching the wire layout used
// throughout the message frame).
func EncryptAESGCM(key []byte, iv []byte, plaintext, aad []byte) ([]byte, error) {
	if len(key) != 32 {
		return nil, errors.New("primitives: key must be 32 bytes")
	}
	if len(iv) != GCMNonceSize {
		return nil, errors.New("primitives: iv must be 12 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCMWithTagSize(block, GCMTagSize)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, iv, plaintext, aad), nil
}

// DecryptAESGCM opens a ciphertext produced by EncryptAESGCM. Any
// authentication failure is reported as ErrAuthFailure, never a more
// specific error, so callers cannot leak oracle information.
func DecryptAESGCM(key []byte, iv []byte, ciphertext, aad []byte) ([]byte, error) {
	if len(key) != 32 {
		return nil, errors.New("primitives: key must be 32 bytes")
	}
	if len(iv) != GCMNonceSize {
		return nil, errors.New("primitives: iv must be 12 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCMWithTagSize(block, GCMTagSize)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, iv, ciphertext, aad)
	if err != nil {
		return nil, ErrAuthFailure
	}
	return plaintext, nil
}

// HMACSHA256 computes a MAC subkey-keyed digest.
func HMACSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// ConstantTimeEqual reports whether a and b are identical without leaking
// timing information.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// DeterministicNonce builds the 12-byte AEAD nonce used for a given
// message index: a one-byte domain separator (so the header and body
// AEAD operations under the same single-use message key never reuse a
// nonce) followed by seven zero bytes and the big-endian index. Because
// a MessageKey is never reused across two different (chainKey, index)
// pairs, this is a safe counter nonce that both endpoints can compute
// independently without transmitting it on the wire.
func DeterministicNonce(domain byte, index uint32) [GCMNonceSize]byte {
	var nonce [GCMNonceSize]byte
	nonce[0] = domain
	nonce[8] = byte(index >> 24)
	nonce[9] = byte(index >> 16)
	nonce[10] = byte(index >> 8)
	nonce[11] = byte(index)
	return nonce
}

// RandomBytes returns n cryptographically secure random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Zeroize overwrites buf with random bytes and then zeroes, a best-effort
// defense against the data lingering in freed memory or a core dump.
func Zeroize(buf []byte) {
	if len(buf) == 0 {
		return
	}
	_, _ = io.ReadFull(rand.Reader, buf)
	for i := range buf {
		buf[i] = 0
	}
}

// ZeroizeArray32 is the fixed-size convenience form used for key arrays.
func ZeroizeArray32(buf *[32]byte) {
	if buf == nil {
		return
	}
	Zeroize(buf[:])
}
