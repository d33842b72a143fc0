package identity

import (
	"path/filepath"
	"testing"

	"github.com/hashicorp/vault/api"
	"github.com/jaydenbeard/secure-relay/internal/primitives"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.key")
	store := NewFileStore(path)

	kp, err := primitives.GenerateEd25519KeyPair()
	require.NoError(t, err)
	require.NoError(t, store.Save(kp))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, kp.Public, loaded.Public)
	require.Equal(t, kp.Private, loaded.Private)
}

func TestFileStoreLoadMissingReturnsNotFound(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "missing.key"))
	_, err := store.Load()
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLoadOrCreateGeneratesOnce(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "identity.key"))

	first, err := LoadOrCreate(store)
	require.NoError(t, err)

	second, err := LoadOrCreate(store)
	require.NoError(t, err)
	require.Equal(t, first.Public, second.Public)
}

func TestNewVaultStoreDefaultsMountPath(t *testing.T) {
	client, err := api.NewClient(&api.Config{Address: "http://127.0.0.1:8200"})
	require.NoError(t, err)

	store := NewVaultStore(client, "", "secure-relay/identity")
	require.Equal(t, "secret", store.MountPath)
	require.Equal(t, "secure-relay/identity", store.SecretPath)

	store = NewVaultStore(client, "custom-mount", "secure-relay/identity")
	require.Equal(t, "custom-mount", store.MountPath)
}

func TestPartyIDIsStableHex(t *testing.T) {
	kp, err := primitives.GenerateEd25519KeyPair()
	require.NoError(t, err)
	require.Len(t, PartyID(kp), 64)
	require.Equal(t, PartyID(kp), PartyID(kp))
}
