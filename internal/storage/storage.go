// Package storage defines persistence interfaces for the bridge.
package storage

import (
	"context"
	"time"

	flightvars "github.com/eugener/flightvars/internal"
)

// VarRecord is the persisted state of one variable.
type VarRecord struct {
	Var       flightvars.Var
	Value     flightvars.Value
	UpdatedAt time.Time
}

// VarStore persists variable values. It backs the store device.
type VarStore interface {
	GetVar(ctx context.Context, v flightvars.Var) (flightvars.Value, error)
	PutVar(ctx context.Context, v flightvars.Var, val flightvars.Value) error
	ListVars(ctx context.Context) ([]VarRecord, error)
}

// EventStore persists the change journal.
type EventStore interface {
	InsertEvents(ctx context.Context, events []flightvars.Event) error
	QueryEvents(ctx context.Context, filter flightvars.EventFilter) ([]flightvars.Event, error)
	PruneEvents(ctx context.Context, before time.Time) (int64, error)
}

// Store combines all storage interfaces.
type Store interface {
	VarStore
	EventStore
	Ping(ctx context.Context) error
	Close() error
}
