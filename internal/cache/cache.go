// Package cache holds the last observed value of each variable so HTTP
// readers never have to round-trip through the bridge worker.
package cache

import (
	"context"

	flightvars "github.com/eugener/flightvars/internal"
)

// Cache is the interface for last-value caching, keyed by Var.Key().
type Cache interface {
	// Get returns the most recent event for the variable key.
	Get(ctx context.Context, key string) (flightvars.Event, bool)
	// Set records e as the latest value of its variable.
	Set(ctx context.Context, e flightvars.Event)
	// Delete removes a cached variable.
	Delete(ctx context.Context, key string)
	// Purge removes all cached values.
	Purge(ctx context.Context)
}
