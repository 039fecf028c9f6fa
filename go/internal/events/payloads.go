package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownEventType is returned when an envelope carries an event type we do not handle
var ErrUnknownEventType = errors.New("unknown event type")

const (
	// EventTypeQueryRefreshed is emitted whenever a query completes a fetch
	EventTypeQueryRefreshed = "QueryRefreshed"

	// SubjectPrefix is the subject space refresh events are published under
	SubjectPrefix = "query.events"
)

// Envelope is the wire format of every message on the query event stream
type Envelope struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	QueryKey  string          `json:"queryKey"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// QueryRefreshedPayload is the payload for a QueryRefreshed event
type QueryRefreshedPayload struct {
	QueryKey    string    `json:"query_key"`
	UpdatedAt   time.Time `json:"updated_at"`
	StaleTimeMs int64     `json:"stale_time_ms"`
}

// StaleTime returns the payload's freshness window as a duration
func (p QueryRefreshedPayload) StaleTime() time.Duration {
	return time.Duration(p.StaleTimeMs) * time.Millisecond
}

// NewQueryRefreshedEnvelope builds the envelope announcing a refresh of key
func NewQueryRefreshedEnvelope(key string, updatedAt time.Time, staleTime time.Duration, now time.Time) (*Envelope, error) {
	payload, err := json.Marshal(QueryRefreshedPayload{
		QueryKey:    key,
		UpdatedAt:   updatedAt,
		StaleTimeMs: staleTime.Milliseconds(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal QueryRefreshed payload: %w", err)
	}

	return &Envelope{
		EventID:   uuid.New().String(),
		EventType: EventTypeQueryRefreshed,
		QueryKey:  key,
		Timestamp: now,
		Payload:   payload,
	}, nil
}

// Subject returns the subject an event for key is published on
func Subject(key string) string {
	return SubjectPrefix + "." + subjectToken(key)
}

// subjectToken makes a query key safe to use as a single subject token
func subjectToken(key string) string {
	if key == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, key)
}
