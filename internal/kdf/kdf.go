// Package kdf implements the named HKDF-SHA-256 derivations shared by the
// handshake and the ratchet. The info strings are part of the wire-visible
// agreement between implementations and must never change independently of
// the other endpoint.
package kdf

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	rootInfo    = "SecureMessenger-RootKey"
	chainInfo   = "SecureMessenger-ChainKey"
	messageInfo = "SecureMessenger-MessageKey"
	macInfo     = "mac-key"
)

var zeroSalt = make([]byte, 32)

func derive(ikm, salt, info []byte, n int) ([]byte, error) {
	if salt == nil {
		salt = zeroSalt
	}
	r := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeriveRootKey derives the 32-byte root key from a DH shared secret (or a
// root-key || shared-secret concatenation on a later DH ratchet step).
func DeriveRootKey(ikm []byte) ([32]byte, error) {
	var out [32]byte
	b, err := derive(ikm, nil, []byte(rootInfo), 32)
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

// ChainInfo returns the deterministic, transcript-bound info string for a
// chain-key transition: a fixed ASCII tag plus the big-endian step counter,
// so two peers stepping at different wall-clock times still agree on the
// same derivation.
func ChainInfo(step uint32) []byte {
	info := make([]byte, len(chainInfo)+4)
	copy(info, chainInfo)
	info[len(chainInfo)+0] = byte(step >> 24)
	info[len(chainInfo)+1] = byte(step >> 16)
	info[len(chainInfo)+2] = byte(step >> 8)
	info[len(chainInfo)+3] = byte(step)
	return info
}

// DeriveChainKey derives a fresh 32-byte chain key from a root key and a
// deterministic transition info (see ChainInfo).
func DeriveChainKey(rootKey [32]byte, info []byte) ([32]byte, error) {
	var out [32]byte
	b, err := derive(rootKey[:], nil, info, 32)
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

// MessageKeyMaterial is the 64-byte HKDF expansion of a chain key, split
// into the next chain key and the message encryption key.
type MessageKeyMaterial struct {
	EncKey       [32]byte
	NextChainKey [32]byte
}

// DeriveMessageKeyMaterial derives (enc_key || next_chain_key) from the
// current chain key.
func DeriveMessageKeyMaterial(chainKey [32]byte) (MessageKeyMaterial, error) {
	var out MessageKeyMaterial
	b, err := derive(chainKey[:], nil, []byte(messageInfo), 64)
	if err != nil {
		return out, err
	}
	copy(out.EncKey[:], b[:32])
	copy(out.NextChainKey[:], b[32:])
	return out, nil
}

// DeriveMACSubkey derives the 32-byte MAC subkey from a message encryption
// key, for the outer HMAC-SHA-256 frame integrity check.
func DeriveMACSubkey(encKey [32]byte) ([32]byte, error) {
	var out [32]byte
	b, err := derive(encKey[:], nil, []byte(macInfo), 32)
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}
