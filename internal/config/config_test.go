package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "HOST", "MAX_MESSAGE_SIZE", "MESSAGE_EXPIRY_MS",
		"MESSAGE_RATE_WINDOW_MS", "MESSAGE_RATE_MAX", "HANDSHAKE_RATE_PER_MIN",
		"MAX_SESSIONS", "MAX_STORED_MESSAGES", "NONCE_TTL_MS", "NONCE_CAPACITY",
		"VAULT_ADDR", "VAULT_TOKEN",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, uint16(8080), cfg.Port)
	require.Equal(t, "0.0.0.0", cfg.Host)
	require.Equal(t, 1_048_576, cfg.MaxMessageSize)
	require.Equal(t, int64(7*24*60*60*1000), cfg.MessageExpiryMS)
	require.Equal(t, 100_000, cfg.NonceCapacity)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("MAX_SESSIONS", "42")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, uint16(9090), cfg.Port)
	require.Equal(t, 42, cfg.MaxSessions)
}
