package worker

import (
	"context"
	"log/slog"
	"time"
)

const defaultEvictInterval = time.Minute

// StaleEvicter drops per-client state that has not been used recently.
type StaleEvicter interface {
	EvictStale(cutoff time.Time) int
}

// LimiterEvictor periodically removes idle write limiters.
type LimiterEvictor struct {
	limiters StaleEvicter
	idle     time.Duration
	interval time.Duration
	now      func() time.Time
}

// NewLimiterEvictor creates an evictor that removes limiters idle for
// longer than idle.
func NewLimiterEvictor(limiters StaleEvicter, idle time.Duration) *LimiterEvictor {
	return &LimiterEvictor{limiters: limiters, idle: idle, interval: defaultEvictInterval, now: time.Now}
}

// Name returns the worker identifier.
func (e *LimiterEvictor) Name() string { return "limiter_evictor" }

// Run evicts on every tick until ctx is cancelled.
func (e *LimiterEvictor) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.evict(ctx)
		}
	}
}

func (e *LimiterEvictor) evict(ctx context.Context) {
	if n := e.limiters.EvictStale(e.now().Add(-e.idle)); n > 0 {
		slog.LogAttrs(ctx, slog.LevelDebug, "evicted idle write limiters",
			slog.Int("count", n),
		)
	}
}
