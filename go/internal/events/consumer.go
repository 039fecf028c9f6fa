package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// Consumer applies refresh events from other processes to the local countdown
type Consumer struct {
	nc       *nats.Conn
	js       jetstream.JetStream
	consumer jetstream.Consumer
	syncer   Syncer
	config   JetStreamConfig
}

// NewConsumer connects to NATS, makes sure the stream exists and creates a
// consumer for this instance.
func NewConsumer(ctx context.Context, syncer Syncer, config JetStreamConfig) (*Consumer, error) {
	nc, js, err := Connect(config)
	if err != nil {
		return nil, err
	}

	c := &Consumer{
		nc:     nc,
		js:     js,
		syncer: syncer,
		config: config,
	}

	if err := c.ensureConsumer(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure consumer: %w", err)
	}

	return c, nil
}

// JetStream exposes the stream context so a publisher can share the connection
func (c *Consumer) JetStream() jetstream.JetStream {
	return c.js
}

// Connected reports whether the NATS connection is up
func (c *Consumer) Connected() bool {
	return c.nc != nil && c.nc.IsConnected()
}

// ensureConsumer creates this instance's consumer. Every instance needs every
// event, so consumers are per instance and expire once idle.
func (c *Consumer) ensureConsumer(ctx context.Context) error {
	stream, err := EnsureStream(ctx, c.js, c.config)
	if err != nil {
		return err
	}

	name := c.config.ConsumerName + "-" + uuid.New().String()[:8]
	filter := SubjectPrefix + ".>"
	if c.config.QueryKey != "" {
		filter = Subject(c.config.QueryKey)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:              name,
		Description:       "Countdown refresh consumer",
		FilterSubject:     filter,
		DeliverPolicy:     jetstream.DeliverLastPerSubjectPolicy, // Start with latest per subject
		AckPolicy:         jetstream.AckExplicitPolicy,
		MaxDeliver:        c.config.MaxDeliver,
		AckWait:           c.config.AckWait,
		MaxAckPending:     c.config.MaxAckPending,
		ReplayPolicy:      jetstream.ReplayInstantPolicy,
		InactiveThreshold: c.config.InactiveThreshold,
	})
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}

	log.Info().
		Str("consumer", name).
		Str("stream", c.config.StreamName).
		Str("filter", filter).
		Msg("created JetStream consumer")

	c.consumer = consumer
	return nil
}

// Start consumes events until ctx is cancelled
func (c *Consumer) Start(ctx context.Context) error {
	log.Info().Str("stream", c.config.StreamName).Msg("starting refresh event consumer")

	messageCh := make(chan jetstream.Msg, 100)

	consumeCtx, err := c.consumer.Consume(func(msg jetstream.Msg) {
		select {
		case messageCh <- msg:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("refresh event consumer shutting down")
			return nil
		case msg := <-messageCh:
			c.processMessage(msg)
		}
	}
}

func (c *Consumer) processMessage(msg jetstream.Msg) {
	err := HandleMessage(msg.Data(), c.config.QueryKey, c.syncer)
	switch {
	case err == nil:
		if ackErr := msg.Ack(); ackErr != nil {
			log.Error().Err(ackErr).Msg("failed to ACK message")
		}
	case errors.Is(err, ErrUnknownEventType):
		// Redelivery will not help; drop it
		log.Warn().Err(err).Str("subject", msg.Subject()).Msg("ignoring event")
		if ackErr := msg.Ack(); ackErr != nil {
			log.Error().Err(ackErr).Msg("failed to ACK message")
		}
	default:
		log.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to process message")
		if nakErr := msg.Nak(); nakErr != nil {
			log.Error().Err(nakErr).Msg("failed to NAK message")
		}
	}
}

// Stop closes the NATS connection
func (c *Consumer) Stop() error {
	log.Info().Msg("stopping refresh event consumer")

	if c.nc != nil {
		c.nc.Close()
	}

	return nil
}
