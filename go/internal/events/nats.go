package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// JetStreamConfig holds configuration for the query event stream
type JetStreamConfig struct {
	URL               string
	StreamName        string
	ConsumerName      string
	QueryKey          string        // only events for this key are applied; empty means all
	MaxAge            time.Duration // how long refresh events are retained
	MaxDeliver        int           // Max delivery attempts
	AckWait           time.Duration // How long to wait for ack
	MaxAckPending     int           // Max messages pending ack
	InactiveThreshold time.Duration // when an idle per-instance consumer is removed
	MaxReconnects     int
	ReconnectWait     time.Duration
}

// DefaultJetStreamConfig returns default JetStream configuration
func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:               nats.DefaultURL,
		StreamName:        "QUERY_EVENTS",
		ConsumerName:      "countdown",
		MaxAge:            time.Hour,
		MaxDeliver:        5,
		AckWait:           30 * time.Second,
		MaxAckPending:     100,
		InactiveThreshold: 5 * time.Minute,
		MaxReconnects:     -1, // Infinite
		ReconnectWait:     2 * time.Second,
	}
}

// Connect dials NATS and opens a JetStream context
func Connect(config JetStreamConfig) (*nats.Conn, jetstream.JetStream, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create JetStream context: %w", err)
	}

	return nc, js, nil
}

// EnsureStream creates the query event stream if it does not exist yet.
// Only the latest event per subject is kept, which is all a late joiner needs.
func EnsureStream(ctx context.Context, js jetstream.JetStream, config JetStreamConfig) (jetstream.Stream, error) {
	stream, err := js.Stream(ctx, config.StreamName)
	if err == nil {
		log.Info().Str("stream", config.StreamName).Msg("using existing JetStream stream")
		return stream, nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return nil, fmt.Errorf("get stream: %w", err)
	}

	stream, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:              config.StreamName,
		Description:       "Query refresh notifications",
		Subjects:          []string{SubjectPrefix + ".>"},
		MaxAge:            config.MaxAge,
		MaxMsgsPerSubject: 1,
		Storage:           jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("create stream: %w", err)
	}

	log.Info().Str("stream", config.StreamName).Msg("created JetStream stream")
	return stream, nil
}
