package device

import (
	"context"
	"time"

	flightvars "github.com/eugener/flightvars/internal"
	"github.com/eugener/flightvars/internal/storage"
)

const storeTimeout = 2 * time.Second

// Store is a device whose variables live in a VarStore, so values written
// through the bridge survive restarts.
type Store struct {
	vars storage.VarStore
}

// NewStore returns a device backed by vars.
func NewStore(vars storage.VarStore) *Store {
	return &Store{vars: vars}
}

// Read implements Device.
func (s *Store) Read(v flightvars.Var) (flightvars.Value, error) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	return s.vars.GetVar(ctx, v)
}

// Write implements Device.
func (s *Store) Write(v flightvars.Var, val flightvars.Value) error {
	if err := validate(v, val); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	return s.vars.PutVar(ctx, v, val)
}

// Close implements Device. The underlying store is owned by the caller.
func (s *Store) Close() error { return nil }
