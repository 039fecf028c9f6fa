package query_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mcdev12/querycountdown/go/internal/countdown"
	"github.com/mcdev12/querycountdown/go/internal/query"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type refresh struct {
	key       string
	updatedAt time.Time
	staleTime time.Duration
}

type recorder struct {
	mu    sync.Mutex
	calls []refresh
}

func (r *recorder) OnRefresh(_ context.Context, key string, updatedAt time.Time, staleTime time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, refresh{key: key, updatedAt: updatedAt, staleTime: staleTime})
}

func (r *recorder) snapshot() []refresh {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]refresh(nil), r.calls...)
}

func countingFetcher(calls *atomic.Int32) query.Fetcher[[]string] {
	return func(ctx context.Context) ([]string, error) {
		n := calls.Add(1)
		if n == 1 {
			return []string{"first"}, nil
		}
		return []string{"again"}, nil
	}
}

func TestNew_RequiresFetcher(t *testing.T) {
	_, err := query.New[int]("users", nil, query.Config{})
	assert.ErrorIs(t, err, query.ErrNoFetcher)
}

func TestNew_Defaults(t *testing.T) {
	q, err := query.New("users", func(ctx context.Context) (int, error) { return 1, nil }, query.Config{})
	require.NoError(t, err)
	assert.Equal(t, query.DefaultStaleTime, q.StaleTime())
	assert.Equal(t, "users", q.Key())
	assert.True(t, q.IsStale())
	assert.True(t, q.UpdatedAt().IsZero())
}

func TestQuery_ServesFreshDataFromCache(t *testing.T) {
	clock := clockwork.NewFakeClockAt(base)
	var calls atomic.Int32
	rec := &recorder{}

	q, err := query.New("users", countingFetcher(&calls), query.Config{
		StaleTime: time.Minute,
		Clock:     clock,
		Listeners: []query.RefreshListener{rec},
	})
	require.NoError(t, err)

	first, err := q.Get(context.Background())
	require.NoError(t, err)
	assert.True(t, first.Fetched)
	assert.Equal(t, []string{"first"}, first.Data)
	assert.Equal(t, base, first.UpdatedAt)

	clock.Advance(30 * time.Second)

	second, err := q.Get(context.Background())
	require.NoError(t, err)
	assert.False(t, second.Fetched)
	assert.Equal(t, []string{"first"}, second.Data)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 30*time.Second, q.StaleIn())

	require.Len(t, rec.snapshot(), 1)
	assert.Equal(t, refresh{key: "users", updatedAt: base, staleTime: time.Minute}, rec.snapshot()[0])
}

func TestQuery_RefetchesWhenStale(t *testing.T) {
	clock := clockwork.NewFakeClockAt(base)
	var calls atomic.Int32
	rec := &recorder{}

	q, err := query.New("users", countingFetcher(&calls), query.Config{
		StaleTime: time.Minute,
		Clock:     clock,
	})
	require.NoError(t, err)
	q.AddListener(rec)

	_, err = q.Get(context.Background())
	require.NoError(t, err)

	clock.Advance(time.Minute)
	assert.True(t, q.IsStale())

	result, err := q.Get(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Fetched)
	assert.Equal(t, []string{"again"}, result.Data)
	assert.Equal(t, base.Add(time.Minute), result.UpdatedAt)

	calls2 := rec.snapshot()
	require.Len(t, calls2, 2)
	assert.Equal(t, base.Add(time.Minute), calls2[1].updatedAt)
}

func TestQuery_RefetchIgnoresFreshness(t *testing.T) {
	clock := clockwork.NewFakeClockAt(base)
	var calls atomic.Int32

	q, err := query.New("users", countingFetcher(&calls), query.Config{Clock: clock})
	require.NoError(t, err)

	_, err = q.Get(context.Background())
	require.NoError(t, err)
	require.NoError(t, q.Refresh(context.Background()))

	assert.Equal(t, int32(2), calls.Load())
}

func TestQuery_ConcurrentGetsFetchOnce(t *testing.T) {
	clock := clockwork.NewFakeClockAt(base)
	var calls atomic.Int32
	release := make(chan struct{})

	q, err := query.New("users", func(ctx context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "done", nil
	}, query.Config{Clock: clock})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]query.Result[string], 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := q.Get(context.Background())
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, "done", r.Data)
		assert.Equal(t, base, r.UpdatedAt)
	}
}

func TestQuery_CallerCancelDoesNotCancelSharedFetch(t *testing.T) {
	clock := clockwork.NewFakeClockAt(base)
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	var fetchCancelled atomic.Bool

	q, err := query.New("users", func(ctx context.Context) (string, error) {
		started <- struct{}{}
		select {
		case <-release:
			return "done", nil
		case <-ctx.Done():
			fetchCancelled.Store(true)
			return "", ctx.Err()
		}
	}, query.Config{Clock: clock})
	require.NoError(t, err)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := q.Get(ctxA)
		errA <- err
	}()
	<-started
	assert.True(t, q.IsFetching())

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)
	assert.Never(t, fetchCancelled.Load, 50*time.Millisecond, 5*time.Millisecond)
	assert.True(t, q.IsFetching())

	type outcome struct {
		result query.Result[string]
		err    error
	}
	doneB := make(chan outcome, 1)
	go func() {
		r, err := q.Get(context.Background())
		doneB <- outcome{r, err}
	}()
	close(release)

	b := <-doneB
	require.NoError(t, b.err)
	assert.Equal(t, "done", b.result.Data)
	assert.False(t, fetchCancelled.Load())
	require.Eventually(t, func() bool { return !q.IsFetching() }, time.Second, time.Millisecond)
}

func TestQuery_FetchTimeout(t *testing.T) {
	q, err := query.New("users", func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}, query.Config{FetchTimeout: 10 * time.Millisecond})
	require.NoError(t, err)

	_, err = q.Get(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, q.IsFetching())
}

func TestQuery_FetchErrorKeepsPreviousData(t *testing.T) {
	clock := clockwork.NewFakeClockAt(base)
	boom := errors.New("upstream down")
	fail := false
	rec := &recorder{}

	q, err := query.New("users", func(ctx context.Context) (string, error) {
		if fail {
			return "", boom
		}
		return "cached", nil
	}, query.Config{StaleTime: time.Second, Clock: clock, Listeners: []query.RefreshListener{rec}})
	require.NoError(t, err)

	_, err = q.Get(context.Background())
	require.NoError(t, err)

	fail = true
	clock.Advance(2 * time.Second)

	result, err := q.Get(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "cached", result.Data)
	assert.Equal(t, base, result.UpdatedAt)
	assert.False(t, result.Fetched)
	assert.Len(t, rec.snapshot(), 1)
	assert.True(t, q.IsStale())
}

func TestCountdownListener_SyncsStore(t *testing.T) {
	clock := clockwork.NewFakeClockAt(base)
	store := countdown.NewStore(clock, 0)
	defer store.Close()

	q, err := query.New("users", func(ctx context.Context) (int, error) { return 1, nil }, query.Config{
		StaleTime: 30 * time.Second,
		Clock:     clock,
		Listeners: []query.RefreshListener{query.CountdownListener(store)},
	})
	require.NoError(t, err)

	result, err := q.Get(context.Background())
	require.NoError(t, err)

	state := store.Snapshot()
	require.NotNil(t, state.LastUpdatedAt)
	assert.Equal(t, result.UpdatedAt, *state.LastUpdatedAt)
	assert.Equal(t, int64(30000), state.StaleTimeMs)
	assert.Equal(t, 30, state.SecondsLeft)

	// A cache hit does not notify, so the countdown keeps its deadline.
	clock.Advance(10 * time.Second)
	_, err = q.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, result.UpdatedAt.Add(30*time.Second), *store.Snapshot().NextRefetchAt)
}
