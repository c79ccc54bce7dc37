// Package notify implements an unbounded multi-producer, single-consumer
// notification channel with a timed receive.
//
// Go channels are bounded and cannot report "all senders gone" without an
// owner closing them, so the queue is a mutex-guarded slice plus a one-slot
// wake channel. Senders are reference counted: the receiver observes Closed
// once every Sender has been closed and the queue is drained.
package notify

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrDisconnected is returned by Send after the receiver has been closed.
	ErrDisconnected = errors.New("notify: receiver disconnected")
	// ErrSenderClosed is returned by Send on a Sender that was closed.
	ErrSenderClosed = errors.New("notify: sender closed")
)

// Status is the outcome of a timed receive.
type Status int

const (
	// Received means a message was dequeued.
	Received Status = iota
	// TimedOut means no message arrived before the timeout.
	TimedOut
	// Closed means every sender is closed and the queue is empty.
	Closed
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case Received:
		return "received"
	case TimedOut:
		return "timed_out"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

type channel[T any] struct {
	mu       sync.Mutex
	queue    []T
	senders  int
	rxClosed bool
	wake     chan struct{} // 1-slot; a pending token means "re-check the queue"
}

func (c *channel[T]) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Sender is the producing half. Clone it to share with other goroutines;
// each clone must be closed independently.
type Sender[T any] struct {
	ch     *channel[T]
	closed atomic.Bool
}

// Receiver is the single consuming half. It must not be used concurrently.
type Receiver[T any] struct {
	ch *channel[T]
}

// New returns a connected sender/receiver pair.
func New[T any]() (*Sender[T], *Receiver[T]) {
	c := &channel[T]{senders: 1, wake: make(chan struct{}, 1)}
	return &Sender[T]{ch: c}, &Receiver[T]{ch: c}
}

// Send enqueues v. It never blocks on queue capacity.
func (s *Sender[T]) Send(v T) error {
	if s.closed.Load() {
		return ErrSenderClosed
	}
	c := s.ch
	c.mu.Lock()
	if c.rxClosed {
		c.mu.Unlock()
		return ErrDisconnected
	}
	c.queue = append(c.queue, v)
	c.mu.Unlock()
	c.signal()
	return nil
}

// Clone returns a new Sender on the same channel.
func (s *Sender[T]) Clone() *Sender[T] {
	c := s.ch
	c.mu.Lock()
	c.senders++
	c.mu.Unlock()
	return &Sender[T]{ch: c}
}

// Close releases this sender. Closing the last sender wakes the receiver so
// it can report Closed. Close is idempotent.
func (s *Sender[T]) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	c := s.ch
	c.mu.Lock()
	c.senders--
	last := c.senders == 0
	c.mu.Unlock()
	if last {
		c.signal()
	}
}

// RecvTimeout dequeues the next message, waiting up to d for one to arrive.
// A message already queued when the timeout fires is still returned.
func (r *Receiver[T]) RecvTimeout(d time.Duration) (T, Status) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		if v, st, ok := r.poll(); ok {
			return v, st
		}
		select {
		case <-r.ch.wake:
		case <-timer.C:
			if v, st, ok := r.poll(); ok {
				return v, st
			}
			var zero T
			return zero, TimedOut
		}
	}
}

// poll checks the queue without blocking.
func (r *Receiver[T]) poll() (T, Status, bool) {
	c := r.ch
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	if len(c.queue) > 0 {
		v := c.queue[0]
		c.queue[0] = zero
		c.queue = c.queue[1:]
		if len(c.queue) == 0 {
			c.queue = nil
		}
		return v, Received, true
	}
	if c.senders == 0 {
		return zero, Closed, true
	}
	return zero, 0, false
}

// Len returns the number of queued messages.
func (r *Receiver[T]) Len() int {
	r.ch.mu.Lock()
	defer r.ch.mu.Unlock()
	return len(r.ch.queue)
}

// Close disconnects the receiver. Pending messages are discarded and every
// later Send fails with ErrDisconnected.
func (r *Receiver[T]) Close() {
	c := r.ch
	c.mu.Lock()
	c.rxClosed = true
	c.queue = nil
	c.mu.Unlock()
}
