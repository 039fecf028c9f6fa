package query

import (
	"context"
	"time"
)

// RefreshListener is told about every successful fetch of a query
type RefreshListener interface {
	OnRefresh(ctx context.Context, key string, updatedAt time.Time, staleTime time.Duration)
}

// ListenerFunc adapts a plain function to RefreshListener
type ListenerFunc func(ctx context.Context, key string, updatedAt time.Time, staleTime time.Duration)

func (f ListenerFunc) OnRefresh(ctx context.Context, key string, updatedAt time.Time, staleTime time.Duration) {
	f(ctx, key, updatedAt, staleTime)
}

// Syncer is the part of the countdown store a query feeds
type Syncer interface {
	SyncFromQuery(updatedAt time.Time, staleTime time.Duration)
}

// CountdownListener forwards refreshes to a countdown store
func CountdownListener(s Syncer) RefreshListener {
	return ListenerFunc(func(_ context.Context, _ string, updatedAt time.Time, staleTime time.Duration) {
		s.SyncFromQuery(updatedAt, staleTime)
	})
}
