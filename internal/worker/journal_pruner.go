package worker

import (
	"context"
	"log/slog"
	"time"
)

const defaultPruneInterval = 10 * time.Minute

// PruneStore is the persistence interface consumed by JournalPruner.
type PruneStore interface {
	PruneEvents(ctx context.Context, before time.Time) (int64, error)
}

// JournalPruner periodically deletes journal entries older than the
// retention window.
type JournalPruner struct {
	store     PruneStore
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
}

// NewJournalPruner creates a pruner. A zero interval uses the default.
func NewJournalPruner(store PruneStore, retention, interval time.Duration) *JournalPruner {
	if interval <= 0 {
		interval = defaultPruneInterval
	}
	return &JournalPruner{store: store, retention: retention, interval: interval, now: time.Now}
}

// Name returns the worker identifier.
func (p *JournalPruner) Name() string { return "journal_pruner" }

// Run prunes once at startup and then on every tick.
func (p *JournalPruner) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.prune(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *JournalPruner) prune(ctx context.Context) {
	cutoff := p.now().Add(-p.retention)
	n, err := p.store.PruneEvents(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			slog.LogAttrs(ctx, slog.LevelError, "journal prune failed",
				slog.String("error", err.Error()),
			)
		}
		return
	}
	if n > 0 {
		slog.Info("journal pruned", "deleted", n, "before", cutoff.UTC().Format(time.RFC3339))
	}
}
