package transport

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/jaydenbeard/secure-relay/internal/audit"
	"github.com/jaydenbeard/secure-relay/internal/noncetracker"
	"github.com/jaydenbeard/secure-relay/internal/relay"
	"github.com/jaydenbeard/secure-relay/internal/store"
)

func newTestHub(t *testing.T) *relay.Hub {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	logger, err := audit.New(db, audit.DriverSQLite)
	require.NoError(t, err)
	t.Cleanup(func() { logger.Shutdown(time.Second) })

	tracker := noncetracker.New(noncetracker.NewMemoryBackend(), 0, 0, 0)
	t.Cleanup(tracker.Destroy)

	return relay.New(relay.Config{}, tracker, store.NewMemStore(0), logger)
}

func TestHealthCheckReturnsHealthy(t *testing.T) {
	server := NewServer(ServerConfig{Addr: ":0"}, newTestHub(t))
	ts := httptest.NewServer(server.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "healthy", body["status"])
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	server := NewServer(ServerConfig{Addr: ":0"}, newTestHub(t))
	ts := httptest.NewServer(server.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebSocketUpgradeAcceptsConnection(t *testing.T) {
	server := NewServer(ServerConfig{Addr: ":0"}, newTestHub(t))
	ts := httptest.NewServer(server.Handler)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
}

func TestAdminStatsNotRegisteredWithoutAdminAuth(t *testing.T) {
	server := NewServer(ServerConfig{Addr: ":0"}, newTestHub(t))
	ts := httptest.NewServer(server.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/admin/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	// AdminAuth is nil in this config, so the route is never registered.
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
