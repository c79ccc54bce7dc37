package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	flightvars "github.com/eugener/flightvars/internal"
	"github.com/eugener/flightvars/internal/storage"
)

// Bootstrap seeds variables from the config file into the store. Variables
// that already have a stored value are left alone.
func Bootstrap(ctx context.Context, cfg *Config, store storage.VarStore) error {
	for i, e := range cfg.Vars {
		v, val, err := e.Resolve()
		if err != nil {
			return fmt.Errorf("vars[%d]: %w", i, err)
		}

		_, err = store.GetVar(ctx, v)
		switch {
		case err == nil:
			continue // already seeded
		case !errors.Is(err, flightvars.ErrNotFound):
			return fmt.Errorf("get %s: %w", v, err)
		}

		if err := store.PutVar(ctx, v, val); err != nil {
			return fmt.Errorf("seed %s: %w", v, err)
		}
		slog.Info("bootstrapped var", "var", v.Key(), "value", val.String())
	}
	return nil
}
