package countdown

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingClock records how many tickers the store asks for.
type countingClock struct {
	*clockwork.FakeClock
	tickers atomic.Int32
}

func (c *countingClock) NewTicker(d time.Duration) clockwork.Ticker {
	c.tickers.Add(1)
	return c.FakeClock.NewTicker(d)
}

func TestStore_SingleTickerUnderConcurrentSyncs(t *testing.T) {
	clock := &countingClock{FakeClock: clockwork.NewFakeClock()}
	store := NewStore(clock, time.Minute)
	defer store.Close()

	start := clock.Now()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			store.SyncFromQuery(start.Add(time.Duration(i%4)*time.Millisecond), time.Minute)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), clock.tickers.Load())
	assert.True(t, store.TimerActive())
}

func TestStore_NoTicksAfterZeroUntilNextSync(t *testing.T) {
	clock := &countingClock{FakeClock: clockwork.NewFakeClock()}
	store := NewStore(clock, 0)
	defer store.Close()

	store.SyncFromQuery(clock.Now(), 3*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(4 * time.Second)
	require.Eventually(t, func() bool {
		return !store.TimerActive()
	}, 2*time.Second, 5*time.Millisecond)

	clock.Advance(time.Minute)
	assert.Equal(t, int32(1), clock.tickers.Load())
	assert.Equal(t, 0, store.SecondsLeft())

	store.SyncFromQuery(clock.Now(), 3*time.Second)
	assert.Equal(t, int32(2), clock.tickers.Load())
	assert.Equal(t, 3, store.SecondsLeft())
}

func TestStore_StaleTickIsDiscarded(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewStore(clock, 0)
	defer store.Close()

	store.SyncFromQuery(clock.Now(), time.Minute)

	store.mu.RLock()
	current := store.ticker
	store.mu.RUnlock()

	stale := clock.NewTicker(time.Second)
	defer stale.Stop()

	assert.False(t, store.tick(stale))
	assert.True(t, store.tick(current))
}
