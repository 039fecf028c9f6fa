package main

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/querycountdown/go/clients/placeholder"
	"github.com/mcdev12/querycountdown/go/internal/countdown"
	"github.com/mcdev12/querycountdown/go/internal/events"
	"github.com/mcdev12/querycountdown/go/internal/gateway"
	"github.com/mcdev12/querycountdown/go/internal/query"
)

const usersQueryKey = "users"

type Services struct {
	Countdown *countdown.Store
	Users     *query.Query[[]placeholder.User]
	Gateway   *gateway.Service
	Refresher *query.Refresher // nil unless background refetch is enabled
	Consumer  *events.Consumer // nil unless NATS is enabled
}

func setupServices(ctx context.Context, config *Config) (*Services, error) {
	// Wire up dependency injection chain
	// Client → Query → Countdown ← Events; Countdown → Gateway
	clock := clockwork.NewRealClock()

	store := countdown.NewStore(clock, config.Countdown.DefaultStaleTime)

	client := placeholder.NewClient(config.Query.UsersAPIURL)
	client.SetTimeout(config.Query.RequestTimeout)

	users, err := query.New(usersQueryKey, client.ListUsers, query.Config{
		StaleTime:    config.Query.StaleTime,
		Clock:        clock,
		Listeners:    []query.RefreshListener{query.CountdownListener(store)},
		FetchTimeout: config.Query.RequestTimeout,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create users query: %w", err)
	}

	services := &Services{
		Countdown: store,
		Users:     users,
		Gateway:   gateway.NewService(config.gatewayConfig(), store, users, clock),
	}

	if config.Query.BackgroundRefetch {
		services.Refresher = query.NewRefresher(users, clock, config.Query.RetryDelay)
	}

	if config.NATS.Enabled {
		consumer, err := events.NewConsumer(ctx, store, config.jetStreamConfig(usersQueryKey))
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to create refresh event consumer: %w", err)
		}
		users.AddListener(events.NewPublisher(consumer.JetStream(), clock))
		services.Consumer = consumer
		log.Info().Str("nats_url", config.NATS.URL).Msg("refresh events enabled")
	}

	return services, nil
}

func (s *Services) Close() {
	if s.Consumer != nil {
		if err := s.Consumer.Stop(); err != nil {
			log.Error().Err(err).Msg("failed to stop refresh event consumer")
		}
	}
	s.Countdown.Close()
}
