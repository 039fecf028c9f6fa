package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/querycountdown/go/clients/placeholder"
	"github.com/mcdev12/querycountdown/go/internal/countdown"
	"github.com/mcdev12/querycountdown/go/internal/query"
)

// UsersResponse is the body of GET /api/users
type UsersResponse struct {
	Users     []placeholder.User `json:"users"`
	UpdatedAt time.Time          `json:"updated_at"`
	Fetched   bool               `json:"fetched"`
	Stale     bool               `json:"stale"`
	Fetching  bool               `json:"fetching"` // a background refetch is in flight
	Countdown countdown.State    `json:"countdown"`
}

// StateHandler handles HTTP requests for the countdown and the cached users
type StateHandler struct {
	source CountdownSource
	users  UsersQuery
}

// NewStateHandler creates a new state handler
func NewStateHandler(source CountdownSource, users UsersQuery) *StateHandler {
	return &StateHandler{
		source: source,
		users:  users,
	}
}

// HandleGetCountdown handles GET /api/countdown
func (h *StateHandler) HandleGetCountdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, h.source.Snapshot())
}

// HandleGetUsers handles GET /api/users
func (h *StateHandler) HandleGetUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	result, err := h.users.Get(r.Context())
	h.respondUsers(w, result, err)
}

// HandleRefetchUsers handles POST /api/users/refetch
func (h *StateHandler) HandleRefetchUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	result, err := h.users.Refetch(r.Context())
	h.respondUsers(w, result, err)
}

func (h *StateHandler) respondUsers(w http.ResponseWriter, result query.Result[[]placeholder.User], err error) {
	stale := false
	if err != nil {
		if result.UpdatedAt.IsZero() {
			log.Error().Err(err).Msg("failed to load users")
			http.Error(w, "Failed to load users", http.StatusBadGateway)
			return
		}
		log.Warn().Err(err).Time("updated_at", result.UpdatedAt).Msg("serving stale users after failed refetch")
		stale = true
	}

	users := result.Data
	if users == nil {
		users = []placeholder.User{}
	}

	writeJSON(w, http.StatusOK, UsersResponse{
		Users:     users,
		UpdatedAt: result.UpdatedAt,
		Fetched:   result.Fetched,
		Stale:     stale,
		Fetching:  h.users.IsFetching(),
		Countdown: h.source.Snapshot(),
	})
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/countdown", h.HandleGetCountdown)
	mux.HandleFunc("/api/users", h.HandleGetUsers)
	mux.HandleFunc("/api/users/refetch", h.HandleRefetchUsers)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
