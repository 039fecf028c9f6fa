package query

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// DefaultStaleTime is how long fetched data stays fresh unless configured otherwise
const DefaultStaleTime = 60 * time.Second

// ErrNoFetcher is returned by New when no fetch function is supplied
var ErrNoFetcher = errors.New("query: fetch function is required")

// Clock is the interface we use for time operations.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) clockwork.Timer
}

// Fetcher loads the data behind a query
type Fetcher[T any] func(ctx context.Context) (T, error)

// Config holds configuration for a query
type Config struct {
	StaleTime time.Duration
	Clock     Clock
	Listeners []RefreshListener
	// FetchTimeout bounds a single fetch; zero means no bound beyond the fetcher's own
	FetchTimeout time.Duration
}

// Result is what Get and Refetch hand back to callers
type Result[T any] struct {
	Data      T
	UpdatedAt time.Time
	StaleTime time.Duration
	// Fetched is true when this call went to the fetcher (or joined an in-flight fetch)
	Fetched bool
}

// Query caches the result of a fetch for a freshness window and collapses
// concurrent fetches of the same key into one.
type Query[T any] struct {
	key          string
	fetch        Fetcher[T]
	staleTime    time.Duration
	fetchTimeout time.Duration
	clock        Clock
	group        singleflight.Group
	fetching     atomic.Int32

	mu        sync.RWMutex
	data      T
	updatedAt time.Time
	listeners []RefreshListener
}

// New creates a query for key
func New[T any](key string, fetch Fetcher[T], config Config) (*Query[T], error) {
	if fetch == nil {
		return nil, ErrNoFetcher
	}
	if config.StaleTime <= 0 {
		config.StaleTime = DefaultStaleTime
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}

	return &Query[T]{
		key:          key,
		fetch:        fetch,
		staleTime:    config.StaleTime,
		fetchTimeout: config.FetchTimeout,
		clock:        config.Clock,
		listeners:    append([]RefreshListener(nil), config.Listeners...),
	}, nil
}

func (q *Query[T]) Key() string {
	return q.key
}

func (q *Query[T]) StaleTime() time.Duration {
	return q.staleTime
}

// UpdatedAt returns when the cached data was fetched; zero when nothing is cached.
func (q *Query[T]) UpdatedAt() time.Time {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.updatedAt
}

// AddListener registers a listener for subsequent refreshes
func (q *Query[T]) AddListener(l RefreshListener) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listeners = append(q.listeners, l)
}

// IsFetching reports whether a fetch is in flight
func (q *Query[T]) IsFetching() bool {
	return q.fetching.Load() > 0
}

// IsStale reports whether the next Get will go to the fetcher
func (q *Query[T]) IsStale() bool {
	return q.StaleIn() == 0
}

// StaleIn returns how long until the cached data goes stale, or 0 if it already is.
func (q *Query[T]) StaleIn() time.Duration {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.updatedAt.IsZero() {
		return 0
	}
	remaining := q.updatedAt.Add(q.staleTime).Sub(q.clock.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Get returns cached data while it is fresh and fetches otherwise. If the
// fetch fails, the previously cached data (if any) is returned along with the error.
func (q *Query[T]) Get(ctx context.Context) (Result[T], error) {
	q.mu.RLock()
	if !q.updatedAt.IsZero() && q.clock.Now().Before(q.updatedAt.Add(q.staleTime)) {
		result := Result[T]{Data: q.data, UpdatedAt: q.updatedAt, StaleTime: q.staleTime}
		q.mu.RUnlock()
		log.Debug().Str("query_key", q.key).Msg("serving fresh cached data")
		return result, nil
	}
	q.mu.RUnlock()

	return q.Refetch(ctx)
}

// Refetch goes to the fetcher regardless of freshness.
//
// The fetch is shared by every caller that arrives while it is in flight, so
// it does not stop when one of them goes away. A caller whose ctx ends first
// gets the previous data and ctx's error; the fetch carries on for the rest.
func (q *Query[T]) Refetch(ctx context.Context) (Result[T], error) {
	fetchCtx := context.WithoutCancel(ctx)
	ch := q.group.DoChan(q.key, func() (interface{}, error) {
		return q.doFetch(fetchCtx)
	})

	select {
	case <-ctx.Done():
		return q.previous(), ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return q.previous(), res.Err
		}
		if res.Shared {
			log.Debug().Str("query_key", q.key).Msg("joined in-flight fetch")
		}
		return res.Val.(Result[T]), nil
	}
}

func (q *Query[T]) previous() Result[T] {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return Result[T]{Data: q.data, UpdatedAt: q.updatedAt, StaleTime: q.staleTime}
}

// Refresh refetches and discards the result; it is what the Refresher calls.
func (q *Query[T]) Refresh(ctx context.Context) error {
	_, err := q.Refetch(ctx)
	return err
}

func (q *Query[T]) doFetch(ctx context.Context) (Result[T], error) {
	q.fetching.Add(1)
	defer q.fetching.Add(-1)

	if q.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.fetchTimeout)
		defer cancel()
	}

	start := q.clock.Now()
	data, err := q.fetch(ctx)
	if err != nil {
		log.Error().Err(err).Str("query_key", q.key).Msg("query fetch failed")
		return Result[T]{}, fmt.Errorf("fetch %s: %w", q.key, err)
	}

	updatedAt := q.clock.Now()

	q.mu.Lock()
	q.data = data
	q.updatedAt = updatedAt
	listeners := append([]RefreshListener(nil), q.listeners...)
	q.mu.Unlock()

	log.Info().
		Str("query_key", q.key).
		Time("updated_at", updatedAt).
		Dur("took", updatedAt.Sub(start)).
		Dur("stale_time", q.staleTime).
		Msg("query refreshed")

	for _, l := range listeners {
		l.OnRefresh(ctx, q.key, updatedAt, q.staleTime)
	}

	return Result[T]{Data: data, UpdatedAt: updatedAt, StaleTime: q.staleTime, Fetched: true}, nil
}
