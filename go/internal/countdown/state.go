package countdown

import "time"

// DefaultStaleTime is the freshness window used when a caller does not provide one.
const DefaultStaleTime = 60 * time.Second

// State is a point-in-time view of the countdown, suitable for JSON responses
type State struct {
	LastUpdatedAt *time.Time `json:"last_updated_at,omitempty"`
	NextRefetchAt *time.Time `json:"next_refetch_at,omitempty"`
	StaleTimeMs   int64      `json:"stale_time_ms"`
	SecondsLeft   int        `json:"seconds_left"`
}

// IsStale reports whether the countdown has bottomed out after at least one sync.
func (s State) IsStale() bool {
	return s.NextRefetchAt != nil && s.SecondsLeft == 0
}

// SecondsRemaining returns the whole seconds left until target, rounded up and
// clamped at zero. The displayed value only drops once a full second has elapsed.
func SecondsRemaining(target, now time.Time) int {
	return ceilSeconds(target.Sub(now))
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
