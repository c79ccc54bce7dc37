package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	flightvars "github.com/eugener/flightvars/internal"
	"github.com/eugener/flightvars/internal/telemetry"
)

const (
	defaultJournalChanSize   = 1000
	defaultJournalBatchSize  = 100
	defaultJournalFlushEvery = 5 * time.Second
	journalDrainTime         = 30 * time.Second
)

// EventStore is the persistence interface consumed by EventRecorder.
type EventStore interface {
	InsertEvents(ctx context.Context, events []flightvars.Event) error
}

// RecorderConfig tunes an EventRecorder. Zero fields take defaults.
type RecorderConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	Metrics       *telemetry.Metrics
}

// EventRecorder buffers change events and batch-flushes them to the journal.
// Events are dropped if the channel is full, so the bridge worker never
// waits on the database.
type EventRecorder struct {
	ch        chan flightvars.Event
	store     EventStore
	batchSize int
	flush     time.Duration
	metrics   *telemetry.Metrics
}

// NewEventRecorder creates an EventRecorder backed by store.
func NewEventRecorder(store EventStore, cfg RecorderConfig) *EventRecorder {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultJournalChanSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultJournalBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultJournalFlushEvery
	}
	return &EventRecorder{
		ch:        make(chan flightvars.Event, cfg.BufferSize),
		store:     store,
		batchSize: cfg.BatchSize,
		flush:     cfg.FlushInterval,
		metrics:   cfg.Metrics,
	}
}

// Name returns the worker identifier.
func (r *EventRecorder) Name() string { return "event_recorder" }

// Record enqueues an event. It never blocks; drops on full channel.
func (r *EventRecorder) Record(e flightvars.Event) {
	select {
	case r.ch <- e:
		r.gauge()
	default:
		if r.metrics != nil {
			r.metrics.JournalDropped.Inc()
		}
		slog.LogAttrs(context.Background(), slog.LevelWarn, "journal event dropped, channel full",
			slog.String("var", e.Var.Key()),
		)
	}
}

// Run processes events until ctx is cancelled, then drains remaining events.
func (r *EventRecorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.flush)
	defer ticker.Stop()

	buf := make([]flightvars.Event, 0, r.batchSize)

	for {
		select {
		case e := <-r.ch:
			r.gauge()
			buf = append(buf, e)
			if len(buf) >= r.batchSize {
				r.write(ctx, buf)
				buf = buf[:0]
			}

		case <-ticker.C:
			if len(buf) > 0 {
				r.write(ctx, buf)
				buf = buf[:0]
			}

		case <-ctx.Done():
			// Drain remaining events with a timeout.
			r.drain(buf)
			return nil
		}
	}
}

func (r *EventRecorder) drain(buf []flightvars.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), journalDrainTime)
	defer cancel()

	for {
		select {
		case e := <-r.ch:
			buf = append(buf, e)
			if len(buf) >= r.batchSize {
				r.write(ctx, buf)
				buf = buf[:0]
			}
		default:
			if len(buf) > 0 {
				r.write(ctx, buf)
			}
			r.gauge()
			return
		}
	}
}

func (r *EventRecorder) write(ctx context.Context, buf []flightvars.Event) {
	// Copy to avoid aliasing the caller's slice.
	batch := make([]flightvars.Event, len(buf))
	copy(batch, buf)

	for i := range batch {
		if batch[i].ID == "" {
			batch[i].ID = uuid.Must(uuid.NewV7()).String()
		}
	}

	if err := r.store.InsertEvents(ctx, batch); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "journal flush failed",
			slog.Int("count", len(batch)),
			slog.String("error", err.Error()),
		)
	}
}

func (r *EventRecorder) gauge() {
	if r.metrics != nil {
		r.metrics.JournalQueueLength.Set(float64(len(r.ch)))
	}
}
