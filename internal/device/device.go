// Package device models the simulator session the bridge worker owns.
//
// A Device is not safe for concurrent use unless an implementation says
// otherwise; the bridge only touches it from its worker goroutine.
package device

import (
	"context"
	"fmt"
	"math"

	flightvars "github.com/eugener/flightvars/internal"
	"github.com/eugener/flightvars/internal/storage"
)

// Kinds accepted by Open.
const (
	KindMemory = "memory"
	KindStore  = "store"
)

// Device reads and writes simulator variables.
type Device interface {
	// Read returns the current value of v, or ErrNotFound.
	Read(v flightvars.Var) (flightvars.Value, error)
	// Write stores val into v.
	Write(v flightvars.Var, val flightvars.Value) error
	// Close ends the session.
	Close() error
}

// Open builds the device named by kind. The memory device starts from the
// values currently in store; the store device reads and writes through it.
func Open(ctx context.Context, kind string, store storage.VarStore) (Device, error) {
	switch kind {
	case "", KindMemory:
		m := NewMemory()
		if store == nil {
			return m, nil
		}
		recs, err := store.ListVars(ctx)
		if err != nil {
			return nil, fmt.Errorf("seed memory device: %w", err)
		}
		for _, r := range recs {
			m.Set(r.Var, r.Value)
		}
		return m, nil
	case KindStore:
		if store == nil {
			return nil, fmt.Errorf("store device: no store configured")
		}
		return NewStore(store), nil
	default:
		return nil, fmt.Errorf("unknown device %q", kind)
	}
}

// validate checks that val can be held by v. Offsets hold integers that fit
// their width, either signed or unsigned; 8-byte offsets also hold doubles.
func validate(v flightvars.Var, val flightvars.Value) error {
	if val.IsZero() {
		return fmt.Errorf("%w: empty value for %s", flightvars.ErrBadRequest, v)
	}
	if v.Kind != flightvars.KindOffset {
		return nil
	}
	if val.Type != flightvars.TypeNumber {
		return fmt.Errorf("%w: offset %s holds numbers, got %s", flightvars.ErrBadRequest, v, val.Type)
	}
	if v.Size == 8 {
		return nil
	}
	if val.Num != math.Trunc(val.Num) {
		return fmt.Errorf("%w: offset %s holds integers, got %v", flightvars.ErrBadRequest, v, val.Num)
	}
	bits := float64(8 * v.Size)
	lo, hi := -math.Exp2(bits-1), math.Exp2(bits)-1
	if val.Num < lo || val.Num > hi {
		return fmt.Errorf("%w: %v overflows %d-byte offset %s", flightvars.ErrBadRequest, val.Num, v.Size, v)
	}
	return nil
}
