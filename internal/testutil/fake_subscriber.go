package testutil

import (
	"sync"

	flightvars "github.com/eugener/flightvars/internal"
)

// Subscriber records delivered events.
type Subscriber struct {
	mu     sync.Mutex
	events []flightvars.Event
	err    error
}

// SetErr makes every later Consume return err after recording the event.
func (s *Subscriber) SetErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Consume implements flightvars.Subscriber.
func (s *Subscriber) Consume(e flightvars.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

// Events returns a copy of the recorded events.
func (s *Subscriber) Events() []flightvars.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]flightvars.Event(nil), s.events...)
}

// Len returns the number of recorded events.
func (s *Subscriber) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}
