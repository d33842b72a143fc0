package ratchet

import (
	"github.com/jaydenbeard/secure-relay/internal/primitives"
)

// MaxSkippedKeys bounds the skipped-key cache across the whole session.
const MaxSkippedKeys = 1000

// MaxChainIndex is the point at which a chain must be retired in favor of a
// fresh handshake.
const MaxChainIndex = 1<<32 - 1

// ChainKey is 32 bytes of symmetric key material plus the index of the next
// message to be emitted or consumed from it.
type ChainKey struct {
	Key   [32]byte
	Index uint32
	// step counts DH-ratchet generations, used for ChainInfo's transcript
	// counter so both peers derive the same deterministic info string.
	step uint32
}

// MessageKey is single-use key material derived from a chain key. Callers
// MUST zeroize it after one encrypt/decrypt.
type MessageKey struct {
	EncKey    [32]byte
	MACSubkey [32]byte
	IV        [12]byte
	Index     uint32
}

// Zeroize destroys every byte of the message key.
func (mk *MessageKey) Zeroize() {
	primitives.ZeroizeArray32(&mk.EncKey)
	primitives.ZeroizeArray32(&mk.MACSubkey)
	for i := range mk.IV {
		mk.IV[i] = 0
	}
}

// skippedEntry is one bucket of the skipped-key cache, ordered by insertion
// so the oldest can be evicted under the 1000-entry cap.
type skippedEntry struct {
	index uint32
	key   MessageKey
}
