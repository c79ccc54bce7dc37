package device

import (
	"fmt"
	"sync"

	flightvars "github.com/eugener/flightvars/internal"
)

// Memory is an in-process simulator. Unlike other devices it is safe for
// concurrent use, so tests and demos can move values underneath the bridge
// with Set.
type Memory struct {
	mu     sync.Mutex
	vals   map[string]flightvars.Value
	closed bool
}

// NewMemory returns an empty in-memory device.
func NewMemory() *Memory {
	return &Memory{vals: make(map[string]flightvars.Value)}
}

// Read implements Device.
func (m *Memory) Read(v flightvars.Var) (flightvars.Value, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return flightvars.Value{}, flightvars.ErrClosed
	}
	val, ok := m.vals[v.Key()]
	if !ok {
		return flightvars.Value{}, fmt.Errorf("%s: %w", v, flightvars.ErrNotFound)
	}
	return val, nil
}

// Write implements Device.
func (m *Memory) Write(v flightvars.Var, val flightvars.Value) error {
	if err := validate(v, val); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return flightvars.ErrClosed
	}
	m.vals[v.Key()] = val
	return nil
}

// Set stores val without validation, as the simulator itself would.
func (m *Memory) Set(v flightvars.Var, val flightvars.Value) {
	m.mu.Lock()
	m.vals[v.Key()] = val
	m.mu.Unlock()
}

// Close implements Device. Later reads and writes fail with ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Closed reports whether Close has been called.
func (m *Memory) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
