// Package bridge implements the actor handle that owns the simulator device.
//
// A Bridge runs on a single locked worker goroutine (see package actor). It
// applies Write commands to the device, keeps the set of observed variables,
// and on every poll reads them back, publishing changes to the cache, the
// journal, and subscribers.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	flightvars "github.com/eugener/flightvars/internal"
	"github.com/eugener/flightvars/internal/actor"
	"github.com/eugener/flightvars/internal/cache"
	"github.com/eugener/flightvars/internal/device"
	"github.com/eugener/flightvars/internal/storage"
	"github.com/eugener/flightvars/internal/telemetry"
)

var _ actor.Handle[flightvars.Command] = (*Bridge)(nil)

// Recorder accepts events for the change journal. Record must not block.
type Recorder interface {
	Record(flightvars.Event)
}

// Config holds the collaborators of a Bridge. Only Device is required.
type Config struct {
	Device   device.Device
	Cache    cache.Cache
	Recorder Recorder
	Logger   *slog.Logger
	Metrics  *telemetry.Metrics
	// Watch lists variables polled for the lifetime of the bridge, even
	// with no subscribers, so the cache and journal always track them.
	Watch []flightvars.Var
	// Now overrides the event clock in tests.
	Now func() time.Time
}

type subscription struct {
	sub    flightvars.Subscriber
	primed bool
}

type watch struct {
	v      flightvars.Var
	last   flightvars.Value
	seen   bool
	pinned bool
	subs   map[string]*subscription
}

// Bridge is the flightvars actor handle. It is not safe for concurrent use.
type Bridge struct {
	dev      device.Device
	cache    cache.Cache
	recorder Recorder
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	now      func() time.Time

	watches map[string]*watch // by Var.Key()
	order   []string          // poll order, sorted by key
	subVar  map[string]string // subscription ID -> Var.Key()
}

// New returns a Bridge over cfg.Device.
func New(cfg Config) *Bridge {
	b := &Bridge{
		dev:      cfg.Device,
		cache:    cfg.Cache,
		recorder: cfg.Recorder,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		now:      cfg.Now,
		watches:  make(map[string]*watch),
		subVar:   make(map[string]string),
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	if b.now == nil {
		b.now = time.Now
	}
	for _, v := range cfg.Watch {
		b.ensureWatch(v).pinned = true
	}
	return b
}

// Factory returns a handle constructor for actor.Spawn. The device is opened
// inside the constructor so that it is created on the worker's own thread.
// Failing to open the device panics, which surfaces through the stub as a
// worker failure.
func Factory(ctx context.Context, kind string, vars storage.VarStore, cfg Config) func() *Bridge {
	return func() *Bridge {
		dev, err := device.Open(ctx, kind, vars)
		if err != nil {
			panic(fmt.Errorf("open device: %w", err))
		}
		cfg.Device = dev
		return New(cfg)
	}
}

// Command implements actor.Handle.
func (b *Bridge) Command(cmd flightvars.Command) {
	switch cmd.Kind {
	case flightvars.CmdWrite:
		b.write(cmd.Var, cmd.Value)
	case flightvars.CmdObserve:
		b.observe(cmd.Subscription, cmd.Var, cmd.Subscriber)
	case flightvars.CmdUnobserve:
		b.unobserve(cmd.Subscription)
	default:
		b.logger.LogAttrs(context.Background(), slog.LevelWarn, "unknown command",
			slog.Int("kind", int(cmd.Kind)),
		)
	}
}

// Poll implements actor.Handle. Every watched variable is read once.
func (b *Bridge) Poll() {
	for _, key := range b.order {
		w := b.watches[key]
		val, err := b.dev.Read(w.v)
		if err != nil {
			level := slog.LevelWarn
			if errors.Is(err, flightvars.ErrNotFound) {
				level = slog.LevelDebug
			}
			b.logger.LogAttrs(context.Background(), level, "read failed",
				slog.String("var", key),
				slog.String("error", err.Error()),
			)
			continue
		}
		b.update(w, val)
	}
	b.sweep()
}

// Close releases the device. It runs on the worker goroutine after the
// dispatch loop ends.
func (b *Bridge) Close() error {
	return b.dev.Close()
}

// Watching returns the number of polled variables and live subscriptions.
func (b *Bridge) Watching() (vars, subs int) {
	return len(b.watches), len(b.subVar)
}

func (b *Bridge) write(v flightvars.Var, val flightvars.Value) {
	ctx := context.Background()
	if err := b.dev.Write(v, val); err != nil {
		b.logger.LogAttrs(ctx, slog.LevelWarn, "write failed",
			slog.String("var", v.Key()),
			slog.String("error", err.Error()),
		)
		return
	}
	if w, ok := b.watches[v.Key()]; ok {
		b.update(w, val)
		b.sweep()
		return
	}
	b.publish(b.newEvent(v, val))
}

func (b *Bridge) observe(id string, v flightvars.Var, s flightvars.Subscriber) {
	if id == "" || s == nil {
		b.logger.LogAttrs(context.Background(), slog.LevelWarn, "observe ignored: missing subscription or subscriber",
			slog.String("var", v.Key()),
		)
		return
	}
	// A reused id replaces its subscription. The sweep runs only after the
	// new one is in place so a watch on the same variable keeps its value.
	replaced := b.detach(id)
	w := b.ensureWatch(v)
	w.subs[id] = &subscription{sub: s}
	b.subVar[id] = v.Key()
	if replaced {
		b.sweep()
	}
	b.logger.LogAttrs(context.Background(), slog.LevelDebug, "observe",
		slog.String("subscription", id),
		slog.String("var", v.Key()),
	)
}

func (b *Bridge) unobserve(id string) {
	if b.detach(id) {
		b.sweep()
	}
}

// detach removes subscription id without touching the watch set.
func (b *Bridge) detach(id string) bool {
	key, ok := b.subVar[id]
	if !ok {
		return false
	}
	delete(b.subVar, id)
	if w, ok := b.watches[key]; ok {
		delete(w.subs, id)
	}
	return true
}

// update records val as the latest reading of w. Changes are published;
// unprimed subscribers receive the current value either way.
func (b *Bridge) update(w *watch, val flightvars.Value) {
	changed := !w.seen || !val.Equal(w.last)
	var ev flightvars.Event
	if changed {
		w.last, w.seen = val, true
		ev = b.newEvent(w.v, val)
		b.publish(ev)
	}
	for id, s := range w.subs {
		if !changed && s.primed {
			continue
		}
		if !changed {
			ev = b.newEvent(w.v, val)
		}
		s.primed = true
		if err := s.sub.Consume(ev); err != nil {
			b.logger.LogAttrs(context.Background(), slog.LevelInfo, "subscriber dropped",
				slog.String("subscription", id),
				slog.String("var", w.v.Key()),
				slog.String("error", err.Error()),
			)
			delete(w.subs, id)
			delete(b.subVar, id)
		}
	}
}

// publish feeds a change into the cache and the journal.
func (b *Bridge) publish(ev flightvars.Event) {
	if b.cache != nil {
		b.cache.Set(context.Background(), ev)
	}
	if b.recorder != nil {
		b.recorder.Record(ev)
	}
	if b.metrics != nil {
		b.metrics.VarChanges.WithLabelValues(string(ev.Var.Kind)).Inc()
	}
}

func (b *Bridge) newEvent(v flightvars.Var, val flightvars.Value) flightvars.Event {
	return flightvars.Event{
		ID:    uuid.Must(uuid.NewV7()).String(),
		Var:   v,
		Value: val,
		At:    b.now(),
	}
}

func (b *Bridge) ensureWatch(v flightvars.Var) *watch {
	key := v.Key()
	if w, ok := b.watches[key]; ok {
		return w
	}
	w := &watch{v: v, subs: make(map[string]*subscription)}
	b.watches[key] = w
	b.reorder()
	return w
}

// sweep stops polling variables nobody needs any more.
func (b *Bridge) sweep() {
	removed := false
	for key, w := range b.watches {
		if !w.pinned && len(w.subs) == 0 {
			delete(b.watches, key)
			removed = true
		}
	}
	if removed {
		b.reorder()
	}
}

func (b *Bridge) reorder() {
	b.order = b.order[:0]
	for key := range b.watches {
		b.order = append(b.order, key)
	}
	sort.Strings(b.order)
}
