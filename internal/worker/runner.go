package worker

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Runner manages a set of workers, cancelling all on first error.
type Runner struct {
	workers []Worker
}

// NewRunner creates a Runner with the given workers.
func NewRunner(workers ...Worker) *Runner {
	return &Runner{workers: workers}
}

// Run starts all workers in parallel. It blocks until all workers finish.
// If any worker returns a non-nil error, the context is cancelled and
// the first error is returned.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range r.workers {
		name := workerName(w)
		slog.Info("worker started", "type", name)
		g.Go(func() error {
			err := w.Run(ctx)
			slog.Info("worker stopped", "type", name)
			return err
		})
	}
	return g.Wait()
}

func workerName(w Worker) string {
	if n, ok := w.(Named); ok {
		return n.Name()
	}
	return "unknown"
}

// Group is a Runner started on its own context, so that it outlives request
// and signal contexts and stops only when told to.
type Group struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Start runs r in the background until Stop is called or a worker fails.
// A Runner without workers stays up until Stop.
func (r *Runner) Start() *Group {
	ctx, cancel := context.WithCancel(context.Background())
	g := &Group{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(g.done)
		if len(r.workers) == 0 {
			<-ctx.Done()
			return
		}
		g.err = r.Run(ctx)
	}()
	return g
}

// Done is closed once every worker has returned.
func (g *Group) Done() <-chan struct{} { return g.done }

// Stop cancels the group, waits for its workers and returns the first error.
// It is safe to call more than once.
func (g *Group) Stop() error {
	g.cancel()
	<-g.done
	return g.err
}
