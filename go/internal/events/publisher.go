package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// StreamPublisher is the part of jetstream.JetStream the Publisher uses
type StreamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Publisher announces query refreshes on the event stream. It is registered
// as a refresh listener on the queries it should announce.
type Publisher struct {
	js    StreamPublisher
	clock clockwork.Clock
}

func NewPublisher(js StreamPublisher, clock clockwork.Clock) *Publisher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Publisher{js: js, clock: clock}
}

// OnRefresh publishes a QueryRefreshed event. Failures are logged, never returned:
// the local countdown has already been synced by the time this runs.
func (p *Publisher) OnRefresh(ctx context.Context, key string, updatedAt time.Time, staleTime time.Duration) {
	envelope, err := NewQueryRefreshedEnvelope(key, updatedAt, staleTime, p.clock.Now())
	if err != nil {
		log.Error().Err(err).Str("query_key", key).Msg("failed to build refresh event")
		return
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		log.Error().Err(err).Str("query_key", key).Msg("failed to marshal refresh event")
		return
	}

	subject := Subject(key)
	ack, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(envelope.EventID))
	if err != nil {
		log.Error().Err(err).Str("subject", subject).Str("query_key", key).Msg("failed to publish refresh event")
		return
	}

	log.Debug().
		Str("event_id", envelope.EventID).
		Str("subject", subject).
		Uint64("sequence", ack.Sequence).
		Msg("refresh event published")
}
