// Package actor runs a stateful handler on one dedicated goroutine, locked to
// its OS thread, that services a command stream and an idle polling tick.
//
// Producers on any goroutine push commands through a Consumer. The handler
// sees commands in channel order and gets Poll whenever no command arrives
// within the polling interval. The owner stops the worker with Stub.Shutdown,
// which blocks until the worker goroutine has returned.
package actor

import (
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/eugener/flightvars/internal/telemetry"
)

// DefaultPollInterval is how long the loop waits for a command before
// polling the handler.
const DefaultPollInterval = 20 * time.Millisecond

var (
	// ErrAlreadyShutdown is returned by a second call to Stub.Shutdown.
	ErrAlreadyShutdown = errors.New("actor: worker already shut down")
	// ErrShutdownSignal wraps a failure to deliver the shutdown envelope.
	ErrShutdownSignal = errors.New("actor: shutdown signal not delivered")
	// ErrWorkerPanicked marks a worker goroutine that ended in a panic.
	ErrWorkerPanicked = errors.New("actor: worker panicked")
)

// Handle is the domain logic driven by a Worker. All calls happen on the
// worker goroutine, so implementations need no synchronization.
type Handle[C any] interface {
	// Command reacts to a single command.
	Command(cmd C)
	// Poll runs housekeeping when the queue has been idle for a polling interval.
	Poll()
}

type envelopeKind uint8

const (
	kindCmd envelopeKind = iota
	kindShutdown
)

// Envelope is the only payload carried by a worker's channel: either a
// command or the shutdown signal.
type Envelope[C any] struct {
	kind envelopeKind
	cmd  C
}

// Cmd wraps a command.
func Cmd[C any](cmd C) Envelope[C] {
	return Envelope[C]{kind: kindCmd, cmd: cmd}
}

// Shutdown returns the shutdown signal.
func Shutdown[C any]() Envelope[C] {
	return Envelope[C]{kind: kindShutdown}
}

// IsShutdown reports whether e is the shutdown signal.
func (e Envelope[C]) IsShutdown() bool { return e.kind == kindShutdown }

// Command returns the wrapped command; ok is false for the shutdown signal.
func (e Envelope[C]) Command() (cmd C, ok bool) {
	return e.cmd, e.kind == kindCmd
}

type options struct {
	name         string
	pollInterval time.Duration
	logger       *slog.Logger
	metrics      *telemetry.Metrics
	tracer       trace.Tracer
}

// Option configures a Worker.
type Option func(*options)

// WithName labels the worker in logs and metrics.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithPollInterval overrides DefaultPollInterval. Non-positive values are ignored.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithLogger sets the diagnostics sink. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records dispatch and lifecycle metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracer sets the tracer used for command spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

func newOptions(opts []Option) options {
	o := options{
		name:         "worker",
		pollInterval: DefaultPollInterval,
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With(slog.String("worker", o.name))
	if o.tracer == nil {
		o.tracer = telemetry.Tracer("github.com/eugener/flightvars/internal/actor")
	}
	return o
}
