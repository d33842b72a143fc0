// Package ratchet implements the symmetric Double-Ratchet-style keying
// state: a root key that evolves only on a DH
// step, one sending and one receiving chain key, and a bounded skipped-key
// cache that tolerates out-of-order delivery within a chain.
package ratchet

import (
	"errors"

	"github.com/jaydenbeard/secure-relay/internal/kdf"
	"github.com/jaydenbeard/secure-relay/internal/primitives"
)

// Sentinel errors mirror the error-kind catalogue for this
// component.
var (
	ErrChainExhausted    = errors.New("ratchet: chain exhausted")
	ErrTooManySkipped    = errors.New("ratchet: too many skipped messages")
	ErrOldChainKeyMissing = errors.New("ratchet: old chain key missing")
)

// State is a RatchetState. It is owned by exactly one Client Session and
// must be destroyed (zeroized) when that session ends.
type State struct {
	rootKey [32]byte

	sendingChainKey   *ChainKey
	receivingChainKey *ChainKey

	sendingEphemeral        *primitives.X25519KeyPair
	receivingEphemeralPublic *[32]byte

	sendCounter    uint32
	receiveCounter uint32

	previousChainLength uint32

	skipped []skippedEntry
}

// Initialize sets up a freshly created ratchet from a root key produced by
// the handshake, along with the local sending ephemeral keypair and (for
// the initiator) the peer's ephemeral public key observed during the
// handshake.
func Initialize(rootKey [32]byte, localEphemeral *primitives.X25519KeyPair, remoteEphemeralPublic *[32]byte) *State {
	s := &State{
		rootKey:          rootKey,
		sendingEphemeral: localEphemeral,
	}
	if remoteEphemeralPublic != nil {
		pub := *remoteEphemeralPublic
		s.receivingEphemeralPublic = &pub
	}
	return s
}

// SendCounter exposes the next outgoing sequence, equal to the invariant
// sendCounter == sendingChainKey.index.
func (s *State) SendCounter() uint32 { return s.sendCounter }

// ReceiveCounter exposes the next expected incoming message index.
func (s *State) ReceiveCounter() uint32 { return s.receiveCounter }

// SkippedCount reports the current size of the skipped-key cache, used by
// tests asserting it peaks then drains as out-of-order messages arrive.
func (s *State) SkippedCount() int { return len(s.skipped) }

// SendingEphemeralPublic exposes the local DH public key carried in the
// plaintext frame header.
func (s *State) SendingEphemeralPublic() [32]byte {
	if s.sendingEphemeral == nil {
		return [32]byte{}
	}
	return s.sendingEphemeral.Public
}

// Send performs a ratchet send step: derive (or reuse) the sending chain,
// advance it, and return a single-use MessageKey.
func (s *State) Send() (MessageKey, error) {
	if s.sendingChainKey == nil {
		ck, err := kdf.DeriveChainKey(s.rootKey, kdf.ChainInfo(0))
		if err != nil {
			return MessageKey{}, err
		}
		s.sendingChainKey = &ChainKey{Key: ck}
	}

	if s.sendingChainKey.Index >= MaxChainIndex {
		return MessageKey{}, ErrChainExhausted
	}

	mat, err := kdf.DeriveMessageKeyMaterial(s.sendingChainKey.Key)
	if err != nil {
		return MessageKey{}, err
	}
	mac, err := kdf.DeriveMACSubkey(mat.EncKey)
	if err != nil {
		return MessageKey{}, err
	}

	index := s.sendingChainKey.Index
	s.sendingChainKey.Key = mat.NextChainKey
	s.sendingChainKey.Index++
	s.sendCounter = s.sendingChainKey.Index

	mk := MessageKey{EncKey: mat.EncKey, MACSubkey: mac, Index: index}
	mk.IV = primitives.DeterministicNonce(primitives.NonceDomainBody, index)
	return mk, nil
}

// Receive performs a ratchet receive step for an inbound frame carrying
// remoteDHPub, msgIndex and prevChainLen in its (decrypted) header.
//
// prevChainLen is the header's own previous-chain-length field. This
// symmetric ratchet derives previousChainLength from local state
// (receivingChainKey's current index) instead, so the parameter is
// accepted for wire symmetry but not consulted here.
func (s *State) Receive(remoteDHPub [32]byte, msgIndex, prevChainLen uint32) (MessageKey, error) {
	_ = prevChainLen
	switch {
	case s.receivingEphemeralPublic == nil, !primitives.ConstantTimeEqual(s.receivingEphemeralPublic[:], remoteDHPub[:]):
		// Remote ephemeral is new: the peer has started a chain we have
		// not yet bonded to, so the root key is re-derived from a fresh
		// DH computation.
		if err := s.dhStep(remoteDHPub); err != nil {
			return MessageKey{}, err
		}
	case s.receivingChainKey == nil:
		// Remote ephemeral was already known at Initialize (the ordinary
		// case right after a handshake, where both peers already learned
		// each other's ephemeral public key): the root key already
		// reflects that shared secret, so the receiving chain derives
		// directly from it, mirroring the sending chain's own lazy init.
		ck, err := kdf.DeriveChainKey(s.rootKey, kdf.ChainInfo(0))
		if err != nil {
			return MessageKey{}, err
		}
		s.receivingChainKey = &ChainKey{Key: ck}
	}

	if msgIndex < s.previousChainLength {
		return s.takeSkipped(msgIndex)
	}

	if msgIndex < s.receivingChainKey.Index {
		// Already passed on this chain: only a key cached by skipForward
		// can decrypt it.
		return s.takeSkipped(msgIndex)
	}

	if msgIndex > s.receivingChainKey.Index {
		if err := s.skipForward(msgIndex); err != nil {
			return MessageKey{}, err
		}
	}

	mat, err := kdf.DeriveMessageKeyMaterial(s.receivingChainKey.Key)
	if err != nil {
		return MessageKey{}, err
	}
	mac, err := kdf.DeriveMACSubkey(mat.EncKey)
	if err != nil {
		return MessageKey{}, err
	}

	index := s.receivingChainKey.Index
	s.receivingChainKey.Key = mat.NextChainKey
	s.receivingChainKey.Index++
	s.receiveCounter = s.receivingChainKey.Index

	mk := MessageKey{EncKey: mat.EncKey, MACSubkey: mac, Index: index}
	mk.IV = primitives.DeterministicNonce(primitives.NonceDomainBody, index)
	return mk, nil
}

// dhStep performs the DH-ratchet rekey: a new remote ephemeral public key
// means the peer has started a new chain, so the root key and receiving
// chain are re-derived from the fresh shared secret.
func (s *State) dhStep(remoteDHPub [32]byte) error {
	if s.receivingChainKey != nil {
		s.previousChainLength = s.receivingChainKey.Index
	} else {
		s.previousChainLength = 0
	}

	if s.sendingEphemeral == nil {
		return errors.New("ratchet: no local ephemeral to perform DH step")
	}

	ss, err := primitives.X25519SharedSecret(s.sendingEphemeral.Private, remoteDHPub)
	if err != nil {
		return err
	}
	defer primitives.ZeroizeArray32(&ss)

	ikm := make([]byte, 0, 64)
	ikm = append(ikm, s.rootKey[:]...)
	ikm = append(ikm, ss[:]...)

	newRoot, err := kdf.DeriveRootKey(ikm)
	if err != nil {
		return err
	}
	s.rootKey = newRoot

	step := uint32(1)
	if s.receivingChainKey != nil {
		step = s.receivingChainKey.step + 1
	}
	newChainKey, err := kdf.DeriveChainKey(s.rootKey, kdf.ChainInfo(step))
	if err != nil {
		return err
	}
	s.receivingChainKey = &ChainKey{Key: newChainKey, step: step}

	pub := remoteDHPub
	s.receivingEphemeralPublic = &pub
	return nil
}

// skipForward derives and caches a MessageKey for every index strictly
// between the receiving chain's current index and msgIndex.
func (s *State) skipForward(msgIndex uint32) error {
	toSkip := int(msgIndex - s.receivingChainKey.Index)
	if len(s.skipped)+toSkip > MaxSkippedKeys {
		return ErrTooManySkipped
	}

	for s.receivingChainKey.Index < msgIndex {
		mat, err := kdf.DeriveMessageKeyMaterial(s.receivingChainKey.Key)
		if err != nil {
			return err
		}
		mac, err := kdf.DeriveMACSubkey(mat.EncKey)
		if err != nil {
			return err
		}
		index := s.receivingChainKey.Index
		s.receivingChainKey.Key = mat.NextChainKey
		s.receivingChainKey.Index++

		skippedKey := MessageKey{EncKey: mat.EncKey, MACSubkey: mac, Index: index}
		skippedKey.IV = primitives.DeterministicNonce(primitives.NonceDomainBody, index)
		s.cacheSkipped(skippedEntry{index: index, key: skippedKey})
	}
	return nil
}

// cacheSkipped inserts a skipped key, evicting the oldest entry if the
// 1000-entry cap would otherwise be exceeded.
func (s *State) cacheSkipped(e skippedEntry) {
	if len(s.skipped) >= MaxSkippedKeys {
		oldest := s.skipped[0]
		oldest.key.Zeroize()
		s.skipped = s.skipped[1:]
	}
	s.skipped = append(s.skipped, e)
}

// takeSkipped removes and returns a cached skipped key for an old-chain
// message, or ErrOldChainKeyMissing if it was never cached (or already
// consumed).
func (s *State) takeSkipped(index uint32) (MessageKey, error) {
	for i, e := range s.skipped {
		if e.index == index {
			s.skipped = append(s.skipped[:i], s.skipped[i+1:]...)
			return e.key, nil
		}
	}
	return MessageKey{}, ErrOldChainKeyMissing
}

// Destroy zeroizes every key byte reachable from the state.
func (s *State) Destroy() {
	primitives.ZeroizeArray32(&s.rootKey)
	if s.sendingChainKey != nil {
		primitives.ZeroizeArray32(&s.sendingChainKey.Key)
	}
	if s.receivingChainKey != nil {
		primitives.ZeroizeArray32(&s.receivingChainKey.Key)
	}
	if s.sendingEphemeral != nil {
		primitives.ZeroizeArray32(&s.sendingEphemeral.Private)
	}
	for i := range s.skipped {
		s.skipped[i].key.Zeroize()
	}
	s.skipped = nil
}
