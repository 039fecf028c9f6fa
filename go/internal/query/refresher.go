package query

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Refreshable is a query the Refresher can keep warm
type Refreshable interface {
	Key() string
	StaleIn() time.Duration
	Refresh(ctx context.Context) error
}

// Refresher refetches a query as soon as its data goes stale
type Refresher struct {
	target     Refreshable
	clock      Clock
	retryDelay time.Duration
}

// NewRefresher creates a refresher; failed refreshes are retried after retryDelay.
func NewRefresher(target Refreshable, clock Clock, retryDelay time.Duration) *Refresher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if retryDelay <= 0 {
		retryDelay = 5 * time.Second
	}
	return &Refresher{
		target:     target,
		clock:      clock,
		retryDelay: retryDelay,
	}
}

// Run loops until ctx is cancelled, sleeping until the target goes stale and refreshing it.
func (r *Refresher) Run(ctx context.Context) error {
	log.Info().Str("query_key", r.target.Key()).Msg("refresher started")

	for {
		wait := r.target.StaleIn()
		if wait <= 0 {
			wait = r.refresh(ctx)
		}

		timer := r.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Str("query_key", r.target.Key()).Msg("refresher shutting down")
			return nil
		case <-timer.Chan():
		}
	}
}

// refresh runs one refresh and returns how long to wait before checking again
func (r *Refresher) refresh(ctx context.Context) time.Duration {
	if err := r.target.Refresh(ctx); err != nil {
		if ctx.Err() != nil {
			return r.retryDelay
		}
		log.Warn().
			Err(err).
			Str("query_key", r.target.Key()).
			Dur("retry_in", r.retryDelay).
			Msg("background refresh failed")
		return r.retryDelay
	}

	if next := r.target.StaleIn(); next > 0 {
		return next
	}
	return r.retryDelay
}
