package actor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync/atomic"

	"github.com/eugener/flightvars/internal/notify"
	"github.com/eugener/flightvars/internal/telemetry"
)

// PanicError reports a worker goroutine that ended in a panic, either in the
// handle factory or in a handler call.
type PanicError struct {
	Value any
	Stack []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("actor: worker panicked: %v", e.Value)
}

// Unwrap lets errors.Is match ErrWorkerPanicked.
func (e *PanicError) Unwrap() error { return ErrWorkerPanicked }

// Stub is the owner's control surface for a spawned worker.
type Stub[C any] struct {
	name    string
	sender  *notify.Sender[Envelope[C]]
	done    chan struct{}
	err     error // written before done is closed
	shut    atomic.Bool
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// Spawn starts a worker goroutine, locks it to its OS thread, builds the
// handle there with newHandle, and runs the dispatch loop. It returns
// without waiting for the handle to be built.
//
// If the handle implements io.Closer, it is closed after the loop ends.
func Spawn[C any, H Handle[C]](newHandle func() H, opts ...Option) *Stub[C] {
	w := NewWorker[C](opts...)
	s := &Stub[C]{
		name:    w.opts.name,
		sender:  w.Sender(),
		done:    make(chan struct{}),
		logger:  w.opts.logger,
		metrics: w.opts.metrics,
	}

	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		defer close(s.done)
		defer w.Close()
		defer func() {
			if r := recover(); r != nil {
				s.err = &PanicError{Value: r, Stack: debug.Stack()}
			}
		}()

		if m := s.metrics; m != nil {
			m.WorkersRunning.WithLabelValues(s.name).Inc()
			defer m.WorkersRunning.WithLabelValues(s.name).Dec()
		}

		h := newHandle()
		if c, ok := any(h).(io.Closer); ok {
			defer func() {
				if err := c.Close(); err != nil {
					s.logger.LogAttrs(context.Background(), slog.LevelWarn, "handle close failed",
						slog.String("error", err.Error()),
					)
				}
			}()
		}
		w.Run(h)
	}()

	return s
}

// Name returns the worker name.
func (s *Stub[C]) Name() string { return s.name }

// Consumer returns a new producer handle. Consumers are independent: closing
// or discarding one never affects the worker or other consumers.
func (s *Stub[C]) Consumer() *Consumer[C] {
	return &Consumer[C]{
		worker:  s.name,
		sender:  s.sender.Clone(),
		metrics: s.metrics,
	}
}

// Done is closed once the worker goroutine has returned.
func (s *Stub[C]) Done() <-chan struct{} { return s.done }

// Err returns the panic that ended the worker, if any. It is only
// meaningful after Done is closed.
func (s *Stub[C]) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Shutdown signals the worker to stop and waits for its goroutine to return.
// It always waits, even if the signal cannot be delivered. Failures are
// logged and returned joined; callers tearing down may ignore them.
// Only the first call has any effect; later calls return ErrAlreadyShutdown.
func (s *Stub[C]) Shutdown() error {
	if !s.shut.CompareAndSwap(false, true) {
		return ErrAlreadyShutdown
	}
	ctx := context.Background()

	var errs []error
	if err := s.sender.Send(Shutdown[C]()); err != nil {
		s.logger.LogAttrs(ctx, slog.LevelError, "unexpected error while signalling worker shutdown",
			slog.String("error", err.Error()),
		)
		s.countFailure("signal")
		errs = append(errs, fmt.Errorf("%w: %w", ErrShutdownSignal, err))
	}
	s.sender.Close()

	<-s.done

	if s.err != nil {
		attrs := []slog.Attr{slog.String("error", s.err.Error())}
		var pe *PanicError
		if errors.As(s.err, &pe) {
			attrs = append(attrs, slog.String("stack", string(pe.Stack)))
		}
		s.logger.LogAttrs(ctx, slog.LevelError, "worker goroutine terminated abnormally", attrs...)
		s.countFailure("join")
		errs = append(errs, s.err)
	}
	return errors.Join(errs...)
}

func (s *Stub[C]) countFailure(stage string) {
	if s.metrics != nil {
		s.metrics.ShutdownFailures.WithLabelValues(s.name, stage).Inc()
	}
}

// Consumer pushes commands into a worker's queue.
type Consumer[C any] struct {
	worker  string
	sender  *notify.Sender[Envelope[C]]
	metrics *telemetry.Metrics
}

// Consume enqueues cmd. A nil error means the command was queued, not that
// it was handled. Once the worker is gone the channel error is returned
// unchanged (notify.ErrDisconnected).
func (c *Consumer[C]) Consume(cmd C) error {
	err := c.sender.Send(Cmd(cmd))
	if err != nil && c.metrics != nil {
		c.metrics.DeliveryFailures.WithLabelValues(c.worker).Inc()
	}
	return err
}

// Clone returns an independent Consumer for the same worker.
func (c *Consumer[C]) Clone() *Consumer[C] {
	return &Consumer[C]{worker: c.worker, sender: c.sender.Clone(), metrics: c.metrics}
}

// Close releases the consumer's sender. Further Consume calls fail with
// notify.ErrSenderClosed.
func (c *Consumer[C]) Close() {
	c.sender.Close()
}
