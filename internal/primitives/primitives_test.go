package primitives

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestX25519RoundTrip(t *testing.T) {
	a, err := GenerateX25519KeyPair()
	require.NoError(t, err)
	b, err := GenerateX25519KeyPair()
	require.NoError(t, err)

	ss1, err := X25519SharedSecret(a.Private, b.Public)
	require.NoError(t, err)
	ss2, err := X25519SharedSecret(b.Private, a.Public)
	require.NoError(t, err)

	require.Equal(t, ss1, ss2)
}

func TestEd25519SignVerify(t *testing.T) {
	kp, err := GenerateEd25519KeyPair()
	require.NoError(t, err)

	msg := []byte("handshake transcript")
	sig := Sign(kp.Private, msg)
	require.True(t, Verify(kp.Public, msg, sig))
	require.False(t, Verify(kp.Public, []byte("tampered"), sig))
}

func TestAESGCMRoundTrip(t *testing.T) {
	key, err := RandomBytes(32)
	require.NoError(t, err)
	iv, err := RandomBytes(GCMNonceSize)
	require.NoError(t, err)

	ct, err := EncryptAESGCM(key, iv, []byte("hello"), []byte("aad"))
	require.NoError(t, err)

	pt, err := DecryptAESGCM(key, iv, ct, []byte("aad"))
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), pt)

	_, err = DecryptAESGCM(key, iv, ct, []byte("wrong-aad"))
	require.ErrorIs(t, err, ErrAuthFailure)
}

func TestConstantTimeEqual(t *testing.T) {
	require.True(t, ConstantTimeEqual([]byte("abc"), []byte("abc")))
	require.False(t, ConstantTimeEqual([]byte("abc"), []byte("abd")))
	require.False(t, ConstantTimeEqual([]byte("abc"), []byte("ab")))
}

func TestZeroize(t *testing.T) {
	buf := []byte{1, 2, 3, 4}
	Zeroize(buf)
	require.Equal(t, []byte{0, 0, 0, 0}, buf)
}
