// Package config loads relay configuration from environment variables,
// layered .env files, and (optionally) HashiCorp Vault.
package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/joho/godotenv"
)

// Config holds every enumerated relay setting.
type Config struct {
	Port    uint16
	Host    string

	MaxMessageSize int

	MessageExpiryMS     int64
	MessageRateWindowMS int64
	MessageRateMax      int

	HandshakeRatePerMin int

	MaxSessions       int
	MaxStoredMessages int

	NonceTTLMS    int64
	NonceCapacity int

	ServerIdentityKeyPath string

	VaultAddr             string
	VaultToken            string
	VaultMountPath        string
	IdentitySecretPath    string

	RedisURL    string
	PostgresURL string
	SQLitePath  string
	ConsulURL   string
	MinioURL    string
	MinioKey    string
	MinioSecret string
	MinioBucket string

	AdminJWTSecret string
}

// vaultClient is the optional secret-management backend: present only
// when VAULT_ADDR/VAULT_TOKEN are set, with every secret lookup falling
// back to the environment.
type vaultClient struct {
	client     *api.Client
	mountPath  string
	secretPath string
}

var activeVault *vaultClient

func initVault() {
	addr := os.Getenv("VAULT_ADDR")
	token := os.Getenv("VAULT_TOKEN")
	if addr == "" || token == "" {
		return
	}

	c, err := api.NewClient(&api.Config{Address: addr})
	if err != nil {
		log.Printf("config: vault client init failed: %v", err)
		return
	}
	c.SetToken(token)

	activeVault = &vaultClient{
		client:     c,
		mountPath:  getEnv("VAULT_MOUNT_PATH", "secret"),
		secretPath: getEnv("VAULT_SECRET_PATH", "secure-relay"),
	}
}

// secretFromVault looks up key in the configured Vault KV-v2 mount,
// returning ("", false) if Vault is unconfigured or the key is absent.
func secretFromVault(key string) (string, bool) {
	if activeVault == nil {
		return "", false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	secret, err := activeVault.client.KVv2(activeVault.mountPath).Get(ctx, activeVault.secretPath)
	if err != nil || secret == nil || secret.Data == nil {
		return "", false
	}
	value, ok := secret.Data[key].(string)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

func getSecret(envKey, vaultKey, defaultValue string) string {
	if v, ok := secretFromVault(vaultKey); ok {
		return v
	}
	return getEnv(envKey, defaultValue)
}

func loadEnvFiles() {
	_ = godotenv.Load()
	if env := os.Getenv("NODE_ENV"); env != "" {
		_ = godotenv.Load(".env." + env)
	}
	_ = godotenv.Load(".env.local")
}

// Load reads configuration from layered .env files, the environment, and
// Vault where configured.
func Load() (*Config, error) {
	loadEnvFiles()
	initVault()

	cfg := &Config{
		Port: uint16(getEnvInt("PORT", 8080)),
		Host: getEnv("HOST", "0.0.0.0"),

		MaxMessageSize: getEnvInt("MAX_MESSAGE_SIZE", 1_048_576),

		MessageExpiryMS:     getEnvInt64("MESSAGE_EXPIRY_MS", 7*24*60*60*1000),
		MessageRateWindowMS: getEnvInt64("MESSAGE_RATE_WINDOW_MS", 60_000),
		MessageRateMax:      getEnvInt("MESSAGE_RATE_MAX", 100),

		HandshakeRatePerMin: getEnvInt("HANDSHAKE_RATE_PER_MIN", 10),

		MaxSessions:       getEnvInt("MAX_SESSIONS", 10_000),
		MaxStoredMessages: getEnvInt("MAX_STORED_MESSAGES", 10_000),

		NonceTTLMS:    getEnvInt64("NONCE_TTL_MS", 300_000),
		NonceCapacity: getEnvInt("NONCE_CAPACITY", 100_000),

		ServerIdentityKeyPath: getEnv("SERVER_IDENTITY_KEY_PATH", "./data/server-identity.key"),

		VaultAddr:          getEnv("VAULT_ADDR", ""),
		VaultToken:         getEnv("VAULT_TOKEN", ""),
		VaultMountPath:     getEnv("VAULT_MOUNT_PATH", "secret"),
		IdentitySecretPath: getEnv("IDENTITY_SECRET_PATH", "secure-relay/identity"),

		RedisURL:    getEnv("REDIS_URL", ""),
		PostgresURL: getEnv("POSTGRES_URL", ""),
		SQLitePath:  getEnv("SQLITE_PATH", "./data/audit.db"),
		ConsulURL:   getEnv("CONSUL_URL", ""),
		MinioURL:    getEnv("MINIO_URL", ""),
		MinioKey:    getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinioSecret: getSecret("MINIO_SECRET_KEY", "minio_secret_key", "minioadmin123"),
		MinioBucket: getEnv("MINIO_BUCKET", "secure-relay-store"),

		AdminJWTSecret: getSecret("ADMIN_JWT_SECRET", "admin_jwt_secret", ""),
	}

	if cfg.Port == 0 {
		return nil, fmt.Errorf("config: PORT must be non-zero")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}
