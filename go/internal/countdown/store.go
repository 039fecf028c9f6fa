package countdown

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const tickInterval = time.Second

// Clock is the interface we use for time operations.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) clockwork.Ticker
}

// Store tracks when a cached resource was last refreshed and how many seconds
// remain until it goes stale. One Store is built by the composition root and
// shared by every producer and display widget.
type Store struct {
	clock            Clock
	defaultStaleTime time.Duration

	mu            sync.RWMutex
	lastUpdatedAt time.Time
	nextRefetchAt time.Time
	staleTime     time.Duration
	secondsLeft   int
	closed        bool

	// ticker is nil whenever no countdown is running
	ticker clockwork.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup

	subscribers map[uint64]chan State
	nextSubID   uint64
}

// NewStore creates a countdown store. A nil clock means the real clock and a
// non-positive defaultStaleTime means DefaultStaleTime.
func NewStore(clock Clock, defaultStaleTime time.Duration) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if defaultStaleTime <= 0 {
		defaultStaleTime = DefaultStaleTime
	}

	return &Store{
		clock:            clock,
		defaultStaleTime: defaultStaleTime,
		staleTime:        defaultStaleTime,
		secondsLeft:      ceilSeconds(defaultStaleTime),
		subscribers:      make(map[uint64]chan State),
	}
}

// SyncFromQuery records a completed refresh of the watched resource.
//
// A zero updatedAt is ignored and a non-positive staleTime falls back to the
// store default. A refresh that is not newer than the one already recorded
// does not move the deadline; it only refreshes SecondsLeft. The deadline
// only ever moves forward. Either way the
// shared ticker is (re)started if it is not already running.
func (s *Store) SyncFromQuery(updatedAt time.Time, staleTime time.Duration) {
	if updatedAt.IsZero() {
		return
	}
	if staleTime <= 0 {
		staleTime = s.defaultStaleTime
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	now := s.clock.Now()

	if !s.lastUpdatedAt.IsZero() && !updatedAt.After(s.lastUpdatedAt) {
		log.Debug().
			Time("updated_at", updatedAt).
			Time("last_updated_at", s.lastUpdatedAt).
			Msg("refresh already observed; keeping deadline")
		s.setSecondsLeftLocked(SecondsRemaining(s.nextRefetchAt, now))
		s.ensureTickerLocked()
		return
	}

	next := updatedAt.Add(staleTime)
	// The deadline never moves backwards, even when a newer refresh
	// carries a shorter stale time.
	if next.Before(s.nextRefetchAt) {
		next = s.nextRefetchAt
	}

	s.lastUpdatedAt = updatedAt
	s.nextRefetchAt = next
	s.staleTime = staleTime
	s.secondsLeft = SecondsRemaining(s.nextRefetchAt, now)
	s.publishLocked()

	log.Debug().
		Time("updated_at", updatedAt).
		Time("next_refetch_at", s.nextRefetchAt).
		Dur("stale_time", staleTime).
		Int("seconds_left", s.secondsLeft).
		Msg("countdown synced")

	s.ensureTickerLocked()
}

// Snapshot returns the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// SecondsLeft returns the displayed number of seconds until the resource is stale.
func (s *Store) SecondsLeft() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.secondsLeft
}

// TimerActive reports whether the shared ticker is currently running.
func (s *Store) TimerActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ticker != nil
}

// Subscribe returns a channel that receives the state every time it changes,
// starting with the current state. Slow readers only ever see the latest value.
// The returned func unsubscribes and closes the channel.
func (s *Store) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch
	ch <- s.snapshotLocked()
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if sub, ok := s.subscribers[id]; ok {
				delete(s.subscribers, id)
				close(sub)
			}
		})
	}
}

// Close stops the ticker and closes every subscription. Further syncs are ignored.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopTickerLocked()
	for id, sub := range s.subscribers {
		delete(s.subscribers, id)
		close(sub)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Store) ensureTickerLocked() {
	if s.ticker != nil || s.closed {
		return
	}

	t := s.clock.NewTicker(tickInterval)
	stop := make(chan struct{})
	s.ticker = t
	s.stopCh = stop

	s.wg.Add(1)
	go s.run(t, stop)

	log.Debug().Int("seconds_left", s.secondsLeft).Msg("countdown ticker started")
}

func (s *Store) run(t clockwork.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	for {
		select {
		case <-stop:
			return
		case <-t.Chan():
			if !s.tick(t) {
				return
			}
		}
	}
}

// tick recomputes SecondsLeft and reports whether the ticker should keep running.
func (s *Store) tick(t clockwork.Ticker) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Stopped or replaced while this tick was waiting for the lock
	if s.ticker != t {
		return false
	}
	if s.nextRefetchAt.IsZero() {
		return true
	}

	s.setSecondsLeftLocked(SecondsRemaining(s.nextRefetchAt, s.clock.Now()))
	if s.secondsLeft > 0 {
		return true
	}

	s.stopTickerLocked()
	log.Debug().Time("next_refetch_at", s.nextRefetchAt).Msg("countdown reached zero; ticker stopped")
	return false
}

func (s *Store) stopTickerLocked() {
	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stopCh)
	s.ticker = nil
	s.stopCh = nil
}

func (s *Store) setSecondsLeftLocked(v int) {
	if v == s.secondsLeft {
		return
	}
	s.secondsLeft = v
	s.publishLocked()
}

func (s *Store) publishLocked() {
	if len(s.subscribers) == 0 {
		return
	}

	snap := s.snapshotLocked()
	for _, ch := range s.subscribers {
		select {
		case ch <- snap:
		default:
			// Replace the unread value so the reader sees the latest state
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func (s *Store) snapshotLocked() State {
	state := State{
		StaleTimeMs: s.staleTime.Milliseconds(),
		SecondsLeft: s.secondsLeft,
	}
	if !s.lastUpdatedAt.IsZero() {
		last := s.lastUpdatedAt
		state.LastUpdatedAt = &last
	}
	if !s.nextRefetchAt.IsZero() {
		next := s.nextRefetchAt
		state.NextRefetchAt = &next
	}
	return state
}
