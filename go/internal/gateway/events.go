package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/querycountdown/go/internal/countdown"
)

// Event is the envelope pushed to WebSocket clients
type Event struct {
	ID        string          `json:"id"`        // Event UUID
	Type      EventType       `json:"type"`      // Event type
	Timestamp time.Time       `json:"timestamp"` // Event creation time
	Data      json.RawMessage `json:"data"`      // Event-specific payload
}

// EventType represents the type of countdown event
type EventType string

const (
	// EventTypeCountdownTick carries the countdown state while the data is fresh
	EventTypeCountdownTick EventType = "CountdownTick"
	// EventTypeCountdownStale is sent once the countdown has reached zero
	EventTypeCountdownStale EventType = "CountdownStale"
)

// NewCountdownEvent wraps a countdown state into an event
func NewCountdownEvent(state countdown.State, now time.Time) (*Event, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal countdown state: %w", err)
	}

	eventType := EventTypeCountdownTick
	if state.IsStale() {
		eventType = EventTypeCountdownStale
	}

	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: now,
		Data:      data,
	}, nil
}

// ParseCountdownState extracts the countdown state from an event
func ParseCountdownState(event *Event) (countdown.State, error) {
	var state countdown.State
	switch event.Type {
	case EventTypeCountdownTick, EventTypeCountdownStale:
		if err := json.Unmarshal(event.Data, &state); err != nil {
			return state, err
		}
		return state, nil
	default:
		return state, fmt.Errorf("unknown event type: %s", event.Type)
	}
}
