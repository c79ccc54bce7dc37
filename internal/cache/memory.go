package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/maypok86/otter/v2"

	flightvars "github.com/eugener/flightvars/internal"
)

// entry wraps a cached event with its expiration time. A zero expiresAt never expires.
type entry struct {
	event     flightvars.Event
	expiresAt time.Time
}

// Memory is an in-memory W-TinyLFU cache backed by otter.
type Memory struct {
	cache *otter.Cache[string, entry]
	ttl   time.Duration
}

// NewMemory creates an in-memory cache with the given max entry count. A
// positive ttl bounds how long a value is served after its last update.
func NewMemory(maxSize int, ttl time.Duration) (*Memory, error) {
	opts := &otter.Options[string, entry]{MaximumSize: maxSize}
	if ttl > 0 {
		opts.ExpiryCalculator = otter.ExpiryWriting[string, entry](ttl)
	}
	c, err := otter.New[string, entry](opts)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &Memory{cache: c, ttl: ttl}, nil
}

// Get retrieves the latest event for key if present and not expired.
func (m *Memory) Get(_ context.Context, key string) (flightvars.Event, bool) {
	e, ok := m.cache.GetIfPresent(key)
	if !ok {
		return flightvars.Event{}, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		m.cache.Invalidate(key)
		return flightvars.Event{}, false
	}
	return e.event, true
}

// Set stores ev under its variable key.
func (m *Memory) Set(_ context.Context, ev flightvars.Event) {
	e := entry{event: ev}
	if m.ttl > 0 {
		e.expiresAt = time.Now().Add(m.ttl)
	}
	m.cache.Set(ev.Var.Key(), e)
}

// Delete removes a value from the cache.
func (m *Memory) Delete(_ context.Context, key string) {
	m.cache.Invalidate(key)
}

// Purge removes all values from the cache.
func (m *Memory) Purge(_ context.Context) {
	m.cache.InvalidateAll()
}
