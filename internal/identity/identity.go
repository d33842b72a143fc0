// Package identity persists the long-lived Ed25519 IdentityKey a relay or
// client uses across restarts: a JSON file by default, with an optional
// Vault-backed store for deployments that centralize secrets there.
package identity

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/jaydenbeard/secure-relay/internal/primitives"
)

// record is the on-disk/on-Vault JSON layout.
type record struct {
	PublicKey  [32]byte `json:"publicKey"`
	PrivateKey [64]byte `json:"privateKey"`
	CreatedAt  string   `json:"createdAt,omitempty"`
}

// Store persists and loads an IdentityKeyPair.
type Store interface {
	Load() (*primitives.Ed25519KeyPair, error)
	Save(kp *primitives.Ed25519KeyPair) error
}

// ErrNotFound is returned by Load when no identity has been persisted yet.
var ErrNotFound = errors.New("identity: no identity key found")

// FileStore persists the identity as 0600 UTF-8 JSON at Path.
type FileStore struct {
	Path string
}

// NewFileStore creates a FileStore rooted at path, defaulting to the
// conventional ./data/server-identity.key location.
func NewFileStore(path string) *FileStore {
	if path == "" {
		path = "./data/server-identity.key"
	}
	return &FileStore{Path: path}
}

// Load reads and parses the identity file, or ErrNotFound if absent.
func (f *FileStore) Load() (*primitives.Ed25519KeyPair, error) {
	raw, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("identity: parse %s: %w", f.Path, err)
	}

	priv := make(ed25519.PrivateKey, ed25519.PrivateKeySize)
	copy(priv, rec.PrivateKey[:])
	pub := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(pub, rec.PublicKey[:])

	return &primitives.Ed25519KeyPair{Private: priv, Public: pub}, nil
}

// Save writes kp to the identity file with 0600 permissions, creating the
// parent directory if needed.
func (f *FileStore) Save(kp *primitives.Ed25519KeyPair) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0700); err != nil {
		return err
	}

	var rec record
	copy(rec.PublicKey[:], kp.Public)
	copy(rec.PrivateKey[:], kp.Private)
	rec.CreatedAt = time.Now().UTC().Format(time.RFC3339)

	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return os.WriteFile(f.Path, raw, 0600)
}

// VaultStore persists the identity as a KV-v2 secret at SecretPath under
// MountPath, for deployments that centralize secrets in Vault rather than
// on local disk.
type VaultStore struct {
	Client     *api.Client
	MountPath  string
	SecretPath string
}

// NewVaultStore builds a VaultStore against an already-authenticated
// Vault client, defaulting MountPath to "secret" if empty.
func NewVaultStore(client *api.Client, mountPath, secretPath string) *VaultStore {
	if mountPath == "" {
		mountPath = "secret"
	}
	return &VaultStore{Client: client, MountPath: mountPath, SecretPath: secretPath}
}

// Load reads the identity secret from Vault, or ErrNotFound if it has
// never been written.
func (v *VaultStore) Load() (*primitives.Ed25519KeyPair, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	secret, err := v.Client.KVv2(v.MountPath).Get(ctx, v.SecretPath)
	if err != nil {
		return nil, ErrNotFound
	}
	if secret == nil || secret.Data == nil {
		return nil, ErrNotFound
	}

	pubHex, ok := secret.Data["publicKey"].(string)
	if !ok {
		return nil, ErrNotFound
	}
	privHex, ok := secret.Data["privateKey"].(string)
	if !ok {
		return nil, ErrNotFound
	}

	pub, err := hex.DecodeString(pubHex)
	if err != nil {
		return nil, fmt.Errorf("identity: decode vault public key: %w", err)
	}
	priv, err := hex.DecodeString(privHex)
	if err != nil {
		return nil, fmt.Errorf("identity: decode vault private key: %w", err)
	}

	return &primitives.Ed25519KeyPair{Private: ed25519.PrivateKey(priv), Public: ed25519.PublicKey(pub)}, nil
}

// Save writes kp to Vault as a new KV-v2 version.
func (v *VaultStore) Save(kp *primitives.Ed25519KeyPair) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	data := map[string]any{
		"publicKey":  hex.EncodeToString(kp.Public),
		"privateKey": hex.EncodeToString(kp.Private),
		"createdAt":  time.Now().UTC().Format(time.RFC3339),
	}
	_, err := v.Client.KVv2(v.MountPath).Put(ctx, v.SecretPath, data)
	return err
}

// LoadOrCreate loads the identity from store, generating and persisting a
// fresh one if none exists yet.
func LoadOrCreate(store Store) (*primitives.Ed25519KeyPair, error) {
	kp, err := store.Load()
	if err == nil {
		return kp, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	kp, err = primitives.GenerateEd25519KeyPair()
	if err != nil {
		return nil, err
	}
	if err := store.Save(kp); err != nil {
		return nil, err
	}
	return kp, nil
}

// PartyID is the stable hex-encoded public key identifying a party.
func PartyID(kp *primitives.Ed25519KeyPair) string {
	return hex.EncodeToString(kp.Public)
}
