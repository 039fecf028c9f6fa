package gateway

import (
	"context"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/querycountdown/go/clients/placeholder"
	"github.com/mcdev12/querycountdown/go/internal/countdown"
	"github.com/mcdev12/querycountdown/go/internal/query"
)

// CountdownSource is the read side of the countdown store
type CountdownSource interface {
	Snapshot() countdown.State
	Subscribe() (<-chan countdown.State, func())
}

// UsersQuery is the cached users query served by the API
type UsersQuery interface {
	Get(ctx context.Context) (query.Result[[]placeholder.User], error)
	Refetch(ctx context.Context) (query.Result[[]placeholder.User], error)
	IsFetching() bool
}

// Service pushes countdown changes to WebSocket clients and serves the HTTP API
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler
	countdown         CountdownSource
	clock             clockwork.Clock
}

// Config holds configuration for the gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

// NewService creates a new gateway service. A nil clock means the real clock.
func NewService(config Config, source CountdownSource, users UsersQuery, clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	connectionManager := NewConnectionManager(config.ConnectionConfig)

	return &Service{
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager, source, clock),
		stateHandler:      NewStateHandler(source, users),
		countdown:         source,
		clock:             clock,
	}
}

// Start forwards every countdown change to connected clients until ctx is cancelled
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting countdown gateway service")

	go s.connectionManager.Start(ctx)

	updates, unsubscribe := s.countdown.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("countdown gateway service shutting down")
			return nil
		case state, ok := <-updates:
			if !ok {
				log.Info().Msg("countdown closed; gateway stops broadcasting")
				return nil
			}
			event, err := NewCountdownEvent(state, s.clock.Now())
			if err != nil {
				log.Error().Err(err).Msg("failed to build countdown event")
				continue
			}
			s.connectionManager.Broadcast(event)
		}
	}
}

// RegisterRoutes registers the WebSocket and REST routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
	log.Info().Msg("gateway routes registered")
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() map[string]interface{} {
	state := s.countdown.Snapshot()
	return map[string]interface{}{
		"service":           "countdown_gateway",
		"total_connections": s.connectionManager.ConnectionCount(),
		"seconds_left":      state.SecondsLeft,
	}
}
