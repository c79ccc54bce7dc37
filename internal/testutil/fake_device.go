// Package testutil provides configurable test fakes for flightvars interfaces.
package testutil

import (
	"sync"

	flightvars "github.com/eugener/flightvars/internal"
)

// FakeDevice is a configurable device.Device for testing. Unset funcs fall
// back to ErrNotFound for reads and success for writes.
type FakeDevice struct {
	ReadFn  func(v flightvars.Var) (flightvars.Value, error)
	WriteFn func(v flightvars.Var, val flightvars.Value) error

	mu     sync.Mutex
	reads  int
	writes []flightvars.Command
	closed bool
}

// Read delegates to ReadFn.
func (f *FakeDevice) Read(v flightvars.Var) (flightvars.Value, error) {
	f.mu.Lock()
	f.reads++
	f.mu.Unlock()
	if f.ReadFn != nil {
		return f.ReadFn(v)
	}
	return flightvars.Value{}, flightvars.ErrNotFound
}

// Write records the write and delegates to WriteFn.
func (f *FakeDevice) Write(v flightvars.Var, val flightvars.Value) error {
	f.mu.Lock()
	f.writes = append(f.writes, flightvars.Write(v, val))
	f.mu.Unlock()
	if f.WriteFn != nil {
		return f.WriteFn(v, val)
	}
	return nil
}

// Close marks the device closed.
func (f *FakeDevice) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Reads returns how many reads were issued.
func (f *FakeDevice) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// Writes returns the recorded writes as Write commands.
func (f *FakeDevice) Writes() []flightvars.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]flightvars.Command(nil), f.writes...)
}

// Closed reports whether Close was called.
func (f *FakeDevice) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
