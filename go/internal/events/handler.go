package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Syncer receives refresh notifications decoded from the stream
type Syncer interface {
	SyncFromQuery(updatedAt time.Time, staleTime time.Duration)
}

// HandleMessage decodes one stream message and forwards it to syncer.
// Events for keys other than queryKey are skipped; an empty queryKey accepts all.
// It returns ErrUnknownEventType for event types it does not handle.
func HandleMessage(data []byte, queryKey string, syncer Syncer) error {
	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("unmarshal event envelope: %w", err)
	}

	switch envelope.EventType {
	case EventTypeQueryRefreshed:
		var payload QueryRefreshedPayload
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal QueryRefreshed payload: %w", err)
		}
		if queryKey != "" && payload.QueryKey != queryKey {
			return nil
		}
		syncer.SyncFromQuery(payload.UpdatedAt, payload.StaleTime())
		return nil

	default:
		return fmt.Errorf("%w: %s", ErrUnknownEventType, envelope.EventType)
	}
}
