package actor

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/eugener/flightvars/internal/notify"
)

// Worker owns the receiving end of a command channel and drives the
// dispatch loop. A Worker is not safe for concurrent use; only the senders
// obtained from Sender may be shared.
type Worker[C any] struct {
	tx   *notify.Sender[Envelope[C]]
	rx   *notify.Receiver[Envelope[C]]
	run  bool
	opts options
}

// NewWorker creates a Worker with a fresh channel.
func NewWorker[C any](opts ...Option) *Worker[C] {
	tx, rx := notify.New[Envelope[C]]()
	return &Worker[C]{
		tx:   tx,
		rx:   rx,
		run:  true,
		opts: newOptions(opts),
	}
}

// Sender returns a new sender on the worker's channel. Take senders before
// calling Run: Run releases the worker's own sender so that the channel can
// report closure once every outside sender is closed.
func (w *Worker[C]) Sender() *notify.Sender[Envelope[C]] {
	return w.tx.Clone()
}

// Run dispatches envelopes to h until a shutdown envelope arrives or every
// sender has been closed. It blocks the calling goroutine.
func (w *Worker[C]) Run(h Handle[C]) {
	w.run = true
	w.tx.Close()

	for w.run {
		env, status := w.rx.RecvTimeout(w.opts.pollInterval)
		switch status {
		case notify.Received:
			if env.IsShutdown() {
				if n := w.Pending(); n > 0 {
					w.opts.logger.LogAttrs(context.Background(), slog.LevelDebug,
						"shutdown leaves queued commands undispatched",
						slog.Int("pending", n),
					)
				}
				w.stop()
				continue
			}
			cmd, _ := env.Command()
			w.dispatch(h, cmd)

		case notify.TimedOut:
			h.Poll()
			if m := w.opts.metrics; m != nil {
				m.PollsTotal.WithLabelValues(w.opts.name).Inc()
			}

		case notify.Closed:
			// No producer is left to send a shutdown; treat closure as one.
			w.opts.logger.LogAttrs(context.Background(), slog.LevelWarn,
				"all senders closed without shutdown, stopping worker")
			w.stop()
		}
	}
}

// Close disconnects the receiver. Sends made after Close fail with
// notify.ErrDisconnected.
func (w *Worker[C]) Close() {
	w.rx.Close()
}

// Pending returns the number of queued envelopes.
func (w *Worker[C]) Pending() int {
	return w.rx.Len()
}

func (w *Worker[C]) stop() {
	w.run = false
}

func (w *Worker[C]) dispatch(h Handle[C], cmd C) {
	start := time.Now()
	_, span := w.opts.tracer.Start(context.Background(), "actor.command",
		trace.WithAttributes(attribute.String("actor.worker", w.opts.name)),
	)
	defer span.End()

	h.Command(cmd)

	if m := w.opts.metrics; m != nil {
		m.CommandsTotal.WithLabelValues(w.opts.name).Inc()
		m.CommandDuration.WithLabelValues(w.opts.name).Observe(time.Since(start).Seconds())
	}
}
