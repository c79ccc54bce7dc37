package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	flightvars "github.com/eugener/flightvars/internal"
	"github.com/eugener/flightvars/internal/storage"
)

// FakeStore is an in-memory implementation of storage.Store for testing.
// Setting one of the *Err fields makes the matching method fail.
type FakeStore struct {
	mu     sync.RWMutex
	vars   map[string]storage.VarRecord
	events []flightvars.Event

	PingErr   error
	InsertErr error
	QueryErr  error
}

// NewFakeStore returns a FakeStore with empty collections.
func NewFakeStore() *FakeStore {
	return &FakeStore{vars: make(map[string]storage.VarRecord)}
}

// --- VarStore ---

// GetVar returns the stored value or ErrNotFound.
func (s *FakeStore) GetVar(_ context.Context, v flightvars.Var) (flightvars.Value, error) {
	s.mu.RLock()
	r, ok := s.vars[v.Key()]
	s.mu.RUnlock()
	if !ok {
		return flightvars.Value{}, flightvars.ErrNotFound
	}
	return r.Value, nil
}

// PutVar stores a value.
func (s *FakeStore) PutVar(_ context.Context, v flightvars.Var, val flightvars.Value) error {
	s.mu.Lock()
	s.vars[v.Key()] = storage.VarRecord{Var: v, Value: val, UpdatedAt: time.Now()}
	s.mu.Unlock()
	return nil
}

// ListVars returns all stored variables ordered by key.
func (s *FakeStore) ListVars(context.Context) ([]storage.VarRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.VarRecord, 0, len(s.vars))
	for _, r := range s.vars {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Var.Key() < out[j].Var.Key() })
	return out, nil
}

// --- EventStore ---

// InsertEvents appends events to the journal.
func (s *FakeStore) InsertEvents(_ context.Context, events []flightvars.Event) error {
	if s.InsertErr != nil {
		return s.InsertErr
	}
	s.mu.Lock()
	s.events = append(s.events, events...)
	s.mu.Unlock()
	return nil
}

// QueryEvents filters the journal newest first. Offset and Limit are honored.
func (s *FakeStore) QueryEvents(_ context.Context, f flightvars.EventFilter) ([]flightvars.Event, error) {
	if s.QueryErr != nil {
		return nil, s.QueryErr
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []flightvars.Event
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if f.VarKey != "" && e.Var.Key() != f.VarKey {
			continue
		}
		if !f.Since.IsZero() && e.At.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && !e.At.Before(f.Until) {
			continue
		}
		out = append(out, e)
	}
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

// PruneEvents drops events created before the cutoff.
func (s *FakeStore) PruneEvents(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[:0]
	for _, e := range s.events {
		if !e.At.Before(before) {
			kept = append(kept, e)
		}
	}
	n := int64(len(s.events) - len(kept))
	s.events = kept
	return n, nil
}

// Events returns a copy of the journal in insertion order.
func (s *FakeStore) Events() []flightvars.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]flightvars.Event(nil), s.events...)
}

// Ping returns PingErr.
func (s *FakeStore) Ping(context.Context) error { return s.PingErr }

// Close is a no-op.
func (s *FakeStore) Close() error { return nil }
