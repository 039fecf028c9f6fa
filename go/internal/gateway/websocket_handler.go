package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests from countdown widgets
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	source            CountdownSource
	clock             clockwork.Clock
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager, source CountdownSource, clock clockwork.Clock) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		source:            source,
		clock:             clock,
	}
}

// HandleCountdownConnection upgrades the request and sends the current state first
func (h *WebSocketHandler) HandleCountdownConnection(w http.ResponseWriter, r *http.Request) {
	initial, err := NewCountdownEvent(h.source.Snapshot(), h.clock.Now())
	if err != nil {
		log.Error().Err(err).Msg("failed to build initial countdown event")
		http.Error(w, "failed to build countdown state", http.StatusInternalServerError)
		return
	}

	// On failure the upgrader has already replied to the client
	if err := h.connectionManager.UpgradeConnection(w, r, initial); err != nil {
		log.Error().
			Err(err).
			Str("remote_addr", r.RemoteAddr).
			Msg("failed to upgrade WebSocket connection")
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]int{
		"total_connections": h.connectionManager.ConnectionCount(),
	}); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/countdown", h.HandleCountdownConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
