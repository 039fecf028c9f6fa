package query_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/querycountdown/go/internal/query"
)

func startRefresher(t *testing.T, r *query.Refresher) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx)
	}()
	return cancel, done
}

func blockUntilTimer(t *testing.T, clock *clockwork.FakeClock) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
}

func TestRefresher_RefreshesWhenStale(t *testing.T) {
	clock := clockwork.NewFakeClockAt(base)
	var calls atomic.Int32

	q, err := query.New("users", countingFetcher(&calls), query.Config{
		StaleTime: 10 * time.Second,
		Clock:     clock,
	})
	require.NoError(t, err)

	cancel, done := startRefresher(t, query.NewRefresher(q, clock, time.Second))

	// Nothing cached yet, so the first refresh is immediate.
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, time.Millisecond)

	blockUntilTimer(t, clock)
	clock.Advance(9 * time.Second)
	assert.Equal(t, int32(1), calls.Load())

	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return calls.Load() == 2 }, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return q.UpdatedAt().Equal(base.Add(10 * time.Second)) }, 2*time.Second, time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestRefresher_WaitsForFreshData(t *testing.T) {
	clock := clockwork.NewFakeClockAt(base)
	var calls atomic.Int32

	q, err := query.New("users", countingFetcher(&calls), query.Config{
		StaleTime: 10 * time.Second,
		Clock:     clock,
	})
	require.NoError(t, err)
	_, err = q.Get(context.Background())
	require.NoError(t, err)

	cancel, done := startRefresher(t, query.NewRefresher(q, clock, time.Second))

	blockUntilTimer(t, clock)
	assert.Equal(t, int32(1), calls.Load())

	clock.Advance(10 * time.Second)
	require.Eventually(t, func() bool { return calls.Load() == 2 }, 2*time.Second, time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestRefresher_RetriesAfterFailure(t *testing.T) {
	clock := clockwork.NewFakeClockAt(base)
	var calls atomic.Int32

	q, err := query.New("users", func(ctx context.Context) (int, error) {
		if calls.Add(1) == 1 {
			return 0, errors.New("temporarily unavailable")
		}
		return 42, nil
	}, query.Config{StaleTime: time.Minute, Clock: clock})
	require.NoError(t, err)

	cancel, done := startRefresher(t, query.NewRefresher(q, clock, 3*time.Second))

	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, time.Millisecond)
	blockUntilTimer(t, clock)
	assert.True(t, q.IsStale())

	clock.Advance(3 * time.Second)
	require.Eventually(t, func() bool { return calls.Load() == 2 }, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return !q.IsStale() }, 2*time.Second, time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
