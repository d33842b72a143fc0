// Package frame implements the on-the-wire encoding and decoding of
// encrypted messages and acknowledgments: deterministic, byte-exact framing
// that both a Client Session and the Relay Server must agree on regardless
// of which language implements either end.
package frame

import (
	"encoding/binary"
	"errors"

	"github.com/google/uuid"
	"github.com/jaydenbeard/secure-relay/internal/primitives"
	"github.com/jaydenbeard/secure-relay/internal/ratchet"
)

// PlaintextHeaderSize is the width of the header before encryption.
const PlaintextHeaderSize = 4 + 32 + 4 + 4

// EncryptedHeaderSize is PlaintextHeaderSize plus the appended GCM tag.
const EncryptedHeaderSize = PlaintextHeaderSize + primitives.GCMTagSize

// AckSize is the fixed width of an acknowledgment frame.
const AckSize = 16 + 8 + 1

var (
	ErrTruncated      = errors.New("frame: truncated wire frame")
	ErrSequenceMismatch = errors.New("frame: outer and inner sequence disagree")
	ErrBadLength      = errors.New("frame: inconsistent length field")
)

// Header is the 44-byte plaintext header, authenticated-encrypted inside
// the frame with the ciphertext as additional data.
type Header struct {
	Sequence      uint32
	DHPub         [32]byte
	MessageNumber uint32
	PrevChainLen  uint32
}

func (h Header) marshal() []byte {
	buf := make([]byte, PlaintextHeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Sequence)
	copy(buf[4:36], h.DHPub[:])
	binary.BigEndian.PutUint32(buf[36:40], h.MessageNumber)
	binary.BigEndian.PutUint32(buf[40:44], h.PrevChainLen)
	return buf
}

func unmarshalHeader(buf []byte) (Header, error) {
	if len(buf) != PlaintextHeaderSize {
		return Header{}, ErrBadLength
	}
	var h Header
	h.Sequence = binary.BigEndian.Uint32(buf[0:4])
	copy(h.DHPub[:], buf[4:36])
	h.MessageNumber = binary.BigEndian.Uint32(buf[36:40])
	h.PrevChainLen = binary.BigEndian.Uint32(buf[40:44])
	return h, nil
}

// Message is a decoded encrypted wire frame, prior to ratchet decryption of
// its payload.
type Message struct {
	MessageID      uuid.UUID
	Sequence       uint32
	EncryptedHeader []byte
	Ciphertext     []byte
	MAC            []byte
	TimestampMS    uint64
	Version        uint32
}

// Encode builds the on-the-wire frame for plaintext sent under mk, with
// header fields hdr. The outer plaintext sequence lets the relay enforce
// strict ordering without ever holding the message key; the receiver
// independently decrypts the header and MUST reject any disagreement
// between the two (see Decrypt).
func Encode(mk ratchet.MessageKey, hdr Header, plaintext []byte, messageID uuid.UUID, timestampMS uint64) ([]byte, error) {
	bodyIV := mk.IV
	ciphertext, err := primitives.EncryptAESGCM(mk.EncKey[:], bodyIV[:], plaintext, nil)
	if err != nil {
		return nil, err
	}

	headerIV := primitives.DeterministicNonce(primitives.NonceDomainHeader, mk.Index)
	encryptedHeader, err := primitives.EncryptAESGCM(mk.EncKey[:], headerIV[:], hdr.marshal(), ciphertext)
	if err != nil {
		return nil, err
	}

	mac := outerMAC(mk.MACSubkey, hdr.Sequence, encryptedHeader, ciphertext)

	out := make([]byte, 0, 16+4+4+len(encryptedHeader)+4+len(ciphertext)+4+len(mac)+8+4)
	out = append(out, messageID[:]...)
	out = appendU32(out, hdr.Sequence)
	out = appendU32(out, uint32(len(encryptedHeader)))
	out = append(out, encryptedHeader...)
	out = appendU32(out, uint32(len(ciphertext)))
	out = append(out, ciphertext...)
	out = appendU32(out, uint32(len(mac)))
	out = append(out, mac...)
	out = appendU64(out, timestampMS)
	out = appendU32(out, 1) // version
	return out, nil
}

// Parse splits a raw wire frame into its fields without touching any key
// material, so the relay can do this even though it cannot decrypt.
func Parse(raw []byte) (Message, error) {
	var m Message
	if len(raw) < 16+4+4 {
		return m, ErrTruncated
	}
	copy(m.MessageID[:], raw[0:16])
	off := 16
	m.Sequence = binary.BigEndian.Uint32(raw[off : off+4])
	off += 4

	hdrLen := binary.BigEndian.Uint32(raw[off : off+4])
	off += 4
	if uint64(off)+uint64(hdrLen) > uint64(len(raw)) {
		return m, ErrTruncated
	}
	m.EncryptedHeader = raw[off : off+int(hdrLen)]
	off += int(hdrLen)

	if off+4 > len(raw) {
		return m, ErrTruncated
	}
	ctLen := binary.BigEndian.Uint32(raw[off : off+4])
	off += 4
	if uint64(off)+uint64(ctLen) > uint64(len(raw)) {
		return m, ErrTruncated
	}
	m.Ciphertext = raw[off : off+int(ctLen)]
	off += int(ctLen)

	if off+4 > len(raw) {
		return m, ErrTruncated
	}
	macLen := binary.BigEndian.Uint32(raw[off : off+4])
	off += 4
	if uint64(off)+uint64(macLen) > uint64(len(raw)) {
		return m, ErrTruncated
	}
	m.MAC = raw[off : off+int(macLen)]
	off += int(macLen)

	if off+8+4 > len(raw) {
		return m, ErrTruncated
	}
	m.TimestampMS = binary.BigEndian.Uint64(raw[off : off+8])
	off += 8
	m.Version = binary.BigEndian.Uint32(raw[off : off+4])
	return m, nil
}

// Decrypt verifies the outer MAC, decrypts the header, checks the
// sequence-equality invariant and the message-key-index invariant, then
// decrypts the body.
func Decrypt(m Message, mk ratchet.MessageKey) (Header, []byte, error) {
	expectedMAC := outerMAC(mk.MACSubkey, m.Sequence, m.EncryptedHeader, m.Ciphertext)
	if !primitives.ConstantTimeEqual(expectedMAC, m.MAC) {
		return Header{}, nil, primitives.ErrAuthFailure
	}

	headerIV := primitives.DeterministicNonce(primitives.NonceDomainHeader, mk.Index)
	plainHeader, err := primitives.DecryptAESGCM(mk.EncKey[:], headerIV[:], m.EncryptedHeader, m.Ciphertext)
	if err != nil {
		return Header{}, nil, err
	}
	hdr, err := unmarshalHeader(plainHeader)
	if err != nil {
		return Header{}, nil, err
	}
	if hdr.Sequence != m.Sequence {
		return Header{}, nil, ErrSequenceMismatch
	}
	if hdr.MessageNumber != mk.Index {
		return Header{}, nil, ErrSequenceMismatch
	}

	bodyIV := mk.IV
	plaintext, err := primitives.DecryptAESGCM(mk.EncKey[:], bodyIV[:], m.Ciphertext, nil)
	if err != nil {
		return Header{}, nil, err
	}
	return hdr, plaintext, nil
}

// outerMAC computes the structural-integrity HMAC over the sequence number,
// the (tag-appended) encrypted header, and the (tag-appended) ciphertext,
// with the body's GCM tag bound in once more explicitly.
func outerMAC(macSubkey [32]byte, sequence uint32, encryptedHeader, ciphertext []byte) []byte {
	bodyTag := ciphertext[len(ciphertext)-primitives.GCMTagSize:]
	data := make([]byte, 0, 4+len(encryptedHeader)+len(ciphertext)+len(bodyTag))
	data = appendU32(data, sequence)
	data = append(data, encryptedHeader...)
	data = append(data, ciphertext...)
	data = append(data, bodyTag...)
	return primitives.HMACSHA256(macSubkey[:], data)
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

// Ack is the 25-byte acknowledgment frame.
type Ack struct {
	MessageID    uuid.UUID
	ReceivedAtMS uint64
	Success      bool
}

// EncodeAck serializes an Ack to its fixed 25-byte wire form.
func EncodeAck(a Ack) []byte {
	out := make([]byte, 0, AckSize)
	out = append(out, a.MessageID[:]...)
	out = appendU64(out, a.ReceivedAtMS)
	if a.Success {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	return out
}

// DecodeAck parses a 25-byte acknowledgment frame.
func DecodeAck(raw []byte) (Ack, error) {
	if len(raw) != AckSize {
		return Ack{}, ErrBadLength
	}
	var a Ack
	copy(a.MessageID[:], raw[0:16])
	a.ReceivedAtMS = binary.BigEndian.Uint64(raw[16:24])
	a.Success = raw[24] != 0
	return a, nil
}
