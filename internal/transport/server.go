package transport

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/jaydenbeard/secure-relay/internal/adminauth"
	"github.com/jaydenbeard/secure-relay/internal/metrics"
	"github.com/jaydenbeard/secure-relay/internal/relay"
)

// ServerConfig configures the HTTP listener wrapping a relay.Hub.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
	AdminAuth      *adminauth.Issuer // nil disables /admin/stats
}

// NewServer builds the *http.Server exposing health, metrics, the
// WebSocket upgrade endpoint, and (if AdminAuth is set) /admin/stats.
func NewServer(cfg ServerConfig, hub *relay.Hub) *http.Server {
	router := mux.NewRouter()
	router.HandleFunc("/health", healthCheck).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/ws", websocketHandler(hub)).Methods(http.MethodGet)

	if cfg.AdminAuth != nil {
		router.Handle("/admin/stats", cfg.AdminAuth.Middleware(http.HandlerFunc(adminStats(hub)))).Methods(http.MethodGet)
	}

	allowedOrigins := cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:3000"}
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           metrics.Middleware(corsHandler.Handler(router)),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func adminStats(hub *relay.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"active_sessions": hub.SessionCount(),
		})
	}
}

func websocketHandler(hub *relay.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("transport: upgrade failed: %v", err)
			return
		}
		hub.Accept(newWSChannel(conn), r.RemoteAddr)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("transport: failed to write JSON response: %v", err)
	}
}
