// Command relay runs the Relay Server: it loads configuration, persists or
// loads its long-lived identity, wires the offline message store, audit
// log, nonce tracker, metrics, and optional Consul self-registration, and
// serves the WebSocket relay until a termination signal arrives, then
// shuts down gracefully in dependency order.
package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	vaultapi "github.com/hashicorp/vault/api"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"

	"github.com/jaydenbeard/secure-relay/internal/adminauth"
	"github.com/jaydenbeard/secure-relay/internal/audit"
	"github.com/jaydenbeard/secure-relay/internal/config"
	"github.com/jaydenbeard/secure-relay/internal/identity"
	"github.com/jaydenbeard/secure-relay/internal/noncetracker"
	"github.com/jaydenbeard/secure-relay/internal/registry"
	"github.com/jaydenbeard/secure-relay/internal/relay"
	"github.com/jaydenbeard/secure-relay/internal/store"
	"github.com/jaydenbeard/secure-relay/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("relay: config: %v", err)
	}

	identityStore, err := buildIdentityStore(cfg)
	if err != nil {
		log.Fatalf("relay: identity store: %v", err)
	}
	serverIdentity, err := identity.LoadOrCreate(identityStore)
	if err != nil {
		log.Fatalf("relay: identity: %v", err)
	}
	log.Printf("relay: identity %s", identity.PartyID(serverIdentity))

	auditLogger, err := buildAuditLogger(cfg)
	if err != nil {
		log.Fatalf("relay: audit: %v", err)
	}

	nonceBackend := noncetracker.Backend(noncetracker.NewMemoryBackend())
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("relay: redis url: %v", err)
		}
		redisClient = redis.NewClient(opts)
		nonceBackend = noncetracker.NewRedisBackend(redisClient, "")
	}
	tracker := noncetracker.New(nonceBackend, time.Duration(cfg.NonceTTLMS)*time.Millisecond, cfg.NonceCapacity, 0)
	tracker.StartSweep()
	defer tracker.Destroy()

	messageStore, err := buildMessageStore(cfg)
	if err != nil {
		log.Fatalf("relay: message store: %v", err)
	}

	hub := relay.New(relay.Config{
		MaxSessions:         cfg.MaxSessions,
		MaxMessageSize:      cfg.MaxMessageSize,
		HandshakeRatePerMin: cfg.HandshakeRatePerMin,
		MessageRatePerMin:   cfg.MessageRateMax,
	}, tracker, messageStore, auditLogger)
	go hub.RunCleanup(time.Duration(cfg.MessageExpiryMS) * time.Millisecond)

	var svcRegistry *registry.ConsulRegistry
	if cfg.ConsulURL != "" {
		svcRegistry, err = registry.New(cfg.ConsulURL, identity.PartyID(serverIdentity)[:16], int(cfg.Port))
		if err != nil {
			log.Fatalf("relay: consul: %v", err)
		}
		if err := svcRegistry.Register(); err != nil {
			log.Fatalf("relay: consul register: %v", err)
		}
	}

	var adminIssuer *adminauth.Issuer
	if cfg.AdminJWTSecret != "" {
		adminIssuer, err = adminauth.New([]byte(cfg.AdminJWTSecret), time.Hour)
		if err != nil {
			log.Fatalf("relay: admin auth: %v", err)
		}
	}

	server := transport.NewServer(transport.ServerConfig{
		Addr:      cfg.Host + ":" + strconv.Itoa(int(cfg.Port)),
		AdminAuth: adminIssuer,
	}, hub)

	go func() {
		log.Printf("relay: listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("relay: server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("relay: received signal %v, shutting down", sig)

	if svcRegistry != nil {
		if err := svcRegistry.Deregister(); err != nil {
			log.Printf("relay: consul deregister: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("relay: server shutdown: %v", err)
	}

	hub.Shutdown()

	if redisClient != nil {
		_ = redisClient.Close()
	}
	if err := auditLogger.Shutdown(5 * time.Second); err != nil {
		log.Printf("relay: audit shutdown: %v", err)
	}

	log.Println("relay: stopped")
}

func buildIdentityStore(cfg *config.Config) (identity.Store, error) {
	if cfg.VaultAddr == "" || cfg.VaultToken == "" {
		return identity.NewFileStore(cfg.ServerIdentityKeyPath), nil
	}
	client, err := vaultapi.NewClient(&vaultapi.Config{Address: cfg.VaultAddr})
	if err != nil {
		return nil, err
	}
	client.SetToken(cfg.VaultToken)
	return identity.NewVaultStore(client, cfg.VaultMountPath, cfg.IdentitySecretPath), nil
}

func buildAuditLogger(cfg *config.Config) (*audit.Logger, error) {
	if cfg.PostgresURL != "" {
		db, err := sql.Open("postgres", cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		return audit.New(db, audit.DriverPostgres)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	return audit.New(db, audit.DriverSQLite)
}

func buildMessageStore(cfg *config.Config) (store.MessageStore, error) {
	if cfg.MinioURL == "" {
		return store.NewMemStore(cfg.MaxStoredMessages), nil
	}
	return store.NewObjectStore(context.Background(), cfg.MinioURL, cfg.MinioKey, cfg.MinioSecret, cfg.MinioBucket, false)
}

