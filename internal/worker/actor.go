package worker

import (
	"context"
	"fmt"
	"log/slog"
)

// Stopper is the part of an actor stub that ActorWorker drives.
type Stopper interface {
	Name() string
	Shutdown() error
	Done() <-chan struct{}
	Err() error
}

// ActorWorker ties a spawned actor to the Runner's lifetime: cancelling the
// context shuts the actor down, and an actor that stops on its own fails
// the Runner so the process can exit.
type ActorWorker struct {
	stub Stopper
}

// NewActorWorker wraps stub.
func NewActorWorker(stub Stopper) *ActorWorker {
	return &ActorWorker{stub: stub}
}

// Name returns the worker identifier.
func (a *ActorWorker) Name() string { return "actor:" + a.stub.Name() }

// Run blocks until ctx is cancelled or the actor stops.
func (a *ActorWorker) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		if err := a.stub.Shutdown(); err != nil {
			// Shutdown already logged the details.
			slog.LogAttrs(context.Background(), slog.LevelWarn, "actor shutdown reported errors",
				slog.String("worker", a.stub.Name()),
			)
		}
		return nil
	case <-a.stub.Done():
		err := a.stub.Err()
		// Release the stub's sender; the goroutine is already gone.
		a.stub.Shutdown()
		if err != nil {
			return fmt.Errorf("actor %s: %w", a.stub.Name(), err)
		}
		return fmt.Errorf("actor %s stopped unexpectedly", a.stub.Name())
	}
}
