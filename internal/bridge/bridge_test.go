package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	flightvars "github.com/eugener/flightvars/internal"
	"github.com/eugener/flightvars/internal/actor"
	"github.com/eugener/flightvars/internal/cache"
	"github.com/eugener/flightvars/internal/device"
	"github.com/eugener/flightvars/internal/telemetry"
	"github.com/eugener/flightvars/internal/testutil"
)

type recorder struct {
	mu     sync.Mutex
	events []flightvars.Event
}

func (r *recorder) Record(e flightvars.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newTestBridge(t *testing.T, watch ...flightvars.Var) (*Bridge, *device.Memory, *recorder, *cache.Memory) {
	t.Helper()
	dev := device.NewMemory()
	rec := &recorder{}
	c, err := cache.NewMemory(100, 0)
	if err != nil {
		t.Fatal(err)
	}
	b := New(Config{Device: dev, Cache: c, Recorder: rec, Watch: watch})
	return b, dev, rec, c
}

func TestBridge_FirstPollAfterObserveEmits(t *testing.T) {
	t.Parallel()
	b, dev, rec, _ := newTestBridge(t)
	v := flightvars.LVar("GEAR")
	dev.Set(v, flightvars.Bool(true))

	sub := &testutil.Subscriber{}
	b.Command(flightvars.Observe("s1", v, sub))
	b.Poll()

	if sub.Len() != 1 {
		t.Fatalf("events = %d, want 1", sub.Len())
	}
	ev := sub.Events()[0]
	if ev.Var != v || !ev.Value.Equal(flightvars.Bool(true)) || ev.ID == "" || ev.At.IsZero() {
		t.Errorf("event = %+v", ev)
	}
	if rec.len() != 1 {
		t.Errorf("journal = %d, want 1", rec.len())
	}

	// Unchanged value: nothing new.
	b.Poll()
	if sub.Len() != 1 {
		t.Errorf("events after idle poll = %d, want 1", sub.Len())
	}

	dev.Set(v, flightvars.Bool(false))
	b.Poll()
	if sub.Len() != 2 {
		t.Fatalf("events after change = %d, want 2", sub.Len())
	}
	if !sub.Events()[1].Value.Equal(flightvars.Bool(false)) {
		t.Errorf("second value = %v", sub.Events()[1].Value)
	}
}

func TestBridge_LateSubscriberPrimed(t *testing.T) {
	t.Parallel()
	b, dev, rec, _ := newTestBridge(t)
	v := flightvars.Offset(0x0BC8, 2)
	dev.Set(v, flightvars.Number(100))

	first := &testutil.Subscriber{}
	b.Command(flightvars.Observe("a", v, first))
	b.Poll()

	late := &testutil.Subscriber{}
	b.Command(flightvars.Observe("b", v, late))
	b.Poll()

	if late.Len() != 1 {
		t.Errorf("late subscriber events = %d, want 1", late.Len())
	}
	if first.Len() != 1 {
		t.Errorf("first subscriber events = %d, want 1", first.Len())
	}
	// Priming is not a change, so it is not journaled.
	if rec.len() != 1 {
		t.Errorf("journal = %d, want 1", rec.len())
	}
}

func TestBridge_Unobserve(t *testing.T) {
	t.Parallel()
	b, dev, _, _ := newTestBridge(t)
	v := flightvars.LVar("BEACON")
	dev.Set(v, flightvars.Number(0))

	sub := &testutil.Subscriber{}
	b.Command(flightvars.Observe("s", v, sub))
	b.Poll()
	b.Command(flightvars.Unobserve("s"))

	if vars, subs := b.Watching(); vars != 0 || subs != 0 {
		t.Errorf("watching = %d vars, %d subs, want 0, 0", vars, subs)
	}
	dev.Set(v, flightvars.Number(1))
	b.Poll()
	if sub.Len() != 1 {
		t.Errorf("events after unobserve = %d, want 1", sub.Len())
	}

	// Unknown IDs are ignored.
	b.Command(flightvars.Unobserve("nope"))
}

func TestBridge_FailingSubscriberDropped(t *testing.T) {
	t.Parallel()
	b, dev, _, _ := newTestBridge(t)
	v := flightvars.LVar("STROBE")
	dev.Set(v, flightvars.Number(1))

	bad := &testutil.Subscriber{}
	bad.SetErr(errors.New("gone"))
	good := &testutil.Subscriber{}
	b.Command(flightvars.Observe("bad", v, bad))
	b.Command(flightvars.Observe("good", v, good))
	b.Poll()

	if _, subs := b.Watching(); subs != 1 {
		t.Errorf("subs = %d, want 1", subs)
	}
	dev.Set(v, flightvars.Number(2))
	b.Poll()
	if bad.Len() != 1 {
		t.Errorf("dropped subscriber got %d events, want 1", bad.Len())
	}
	if good.Len() != 2 {
		t.Errorf("good subscriber got %d events, want 2", good.Len())
	}
}

func TestBridge_ObserveReplacesSameID(t *testing.T) {
	t.Parallel()
	b, dev, _, _ := newTestBridge(t)
	a, c := flightvars.LVar("A"), flightvars.LVar("C")
	dev.Set(a, flightvars.Number(1))
	dev.Set(c, flightvars.Number(2))

	sub := &testutil.Subscriber{}
	b.Command(flightvars.Observe("s", a, sub))
	b.Command(flightvars.Observe("s", c, sub))
	b.Poll()

	if vars, subs := b.Watching(); vars != 1 || subs != 1 {
		t.Errorf("watching = %d vars, %d subs, want 1, 1", vars, subs)
	}
	if sub.Len() != 1 || sub.Events()[0].Var != c {
		t.Errorf("events = %+v", sub.Events())
	}
}

func TestBridge_ObserveSameVarAgainKeepsWatch(t *testing.T) {
	t.Parallel()
	b, dev, rec, _ := newTestBridge(t)
	v := flightvars.LVar("NAV_LIGHTS")
	dev.Set(v, flightvars.Bool(true))

	first := &testutil.Subscriber{}
	b.Command(flightvars.Observe("s", v, first))
	b.Poll()
	if rec.len() != 1 {
		t.Fatalf("journaled = %d, want 1", rec.len())
	}

	second := &testutil.Subscriber{}
	b.Command(flightvars.Observe("s", v, second))
	b.Poll()

	if rec.len() != 1 {
		t.Errorf("journaled after re-observe = %d, want 1 (value unchanged)", rec.len())
	}
	if second.Len() != 1 || !second.Events()[0].Value.Equal(flightvars.Bool(true)) {
		t.Errorf("replacement events = %+v, want current value", second.Events())
	}
	if first.Len() != 1 {
		t.Errorf("replaced subscriber events = %d, want 1", first.Len())
	}
	if vars, subs := b.Watching(); vars != 1 || subs != 1 {
		t.Errorf("watching = %d vars, %d subs, want 1, 1", vars, subs)
	}
}

func TestBridge_ObserveIgnoresIncomplete(t *testing.T) {
	t.Parallel()
	b, _, _, _ := newTestBridge(t)
	b.Command(flightvars.Observe("", flightvars.LVar("X"), &testutil.Subscriber{}))
	b.Command(flightvars.Observe("s", flightvars.LVar("X"), nil))
	if vars, subs := b.Watching(); vars != 0 || subs != 0 {
		t.Errorf("watching = %d vars, %d subs, want 0, 0", vars, subs)
	}
}

func TestBridge_WriteUpdatesDeviceCacheAndJournal(t *testing.T) {
	t.Parallel()
	b, dev, rec, c := newTestBridge(t)
	v := flightvars.LVar("A32NX_FCU_ALT")

	b.Command(flightvars.Write(v, flightvars.Number(12000)))

	got, err := dev.Read(v)
	if err != nil || !got.Equal(flightvars.Number(12000)) {
		t.Fatalf("device = %v, %v", got, err)
	}
	if rec.len() != 1 {
		t.Errorf("journal = %d, want 1", rec.len())
	}
	waitCached(t, c, v, flightvars.Number(12000))
}

func TestBridge_WriteToWatchedVarIsNotRepublishedByPoll(t *testing.T) {
	t.Parallel()
	v := flightvars.LVar("PARK_BRAKE")
	b, dev, rec, _ := newTestBridge(t, v)
	dev.Set(v, flightvars.Bool(false))
	b.Poll()

	sub := &testutil.Subscriber{}
	b.Command(flightvars.Observe("s", v, sub))
	b.Command(flightvars.Write(v, flightvars.Bool(true)))
	b.Poll()

	if rec.len() != 2 {
		t.Errorf("journal = %d, want 2", rec.len())
	}
	if sub.Len() != 1 || !sub.Events()[0].Value.Equal(flightvars.Bool(true)) {
		t.Errorf("events = %+v", sub.Events())
	}
}

func TestBridge_WriteRejected(t *testing.T) {
	t.Parallel()
	b, dev, rec, _ := newTestBridge(t)
	v := flightvars.Offset(0x0D0C, 1)

	b.Command(flightvars.Write(v, flightvars.Number(1000)))

	if _, err := dev.Read(v); !errors.Is(err, flightvars.ErrNotFound) {
		t.Errorf("device read err = %v, want ErrNotFound", err)
	}
	if rec.len() != 0 {
		t.Errorf("journal = %d, want 0", rec.len())
	}
}

func TestBridge_PinnedWatchFeedsCache(t *testing.T) {
	t.Parallel()
	v := flightvars.Offset(0x0570, 8)
	b, dev, rec, c := newTestBridge(t, v)
	dev.Set(v, flightvars.Number(35000))

	b.Poll()
	b.Poll()

	if rec.len() != 1 {
		t.Errorf("journal = %d, want 1", rec.len())
	}
	if vars, _ := b.Watching(); vars != 1 {
		t.Errorf("vars = %d, want 1", vars)
	}
	waitCached(t, c, v, flightvars.Number(35000))
}

func TestBridge_ReadErrorsSkipVar(t *testing.T) {
	t.Parallel()
	ok, broken := flightvars.LVar("OK"), flightvars.LVar("BROKEN")
	dev := &testutil.FakeDevice{
		ReadFn: func(v flightvars.Var) (flightvars.Value, error) {
			if v == broken {
				return flightvars.Value{}, errors.New("pipe closed")
			}
			return flightvars.Number(1), nil
		},
	}
	rec := &recorder{}
	b := New(Config{Device: dev, Recorder: rec, Watch: []flightvars.Var{ok, broken}})

	b.Poll()

	if dev.Reads() != 2 {
		t.Errorf("reads = %d, want 2", dev.Reads())
	}
	if rec.len() != 1 {
		t.Errorf("journal = %d, want 1", rec.len())
	}
}

func TestBridge_MetricsCountChanges(t *testing.T) {
	t.Parallel()
	m := telemetry.NewMetrics(prometheus.NewPedanticRegistry())
	v := flightvars.LVar("NAV_LIGHTS")
	dev := device.NewMemory()
	dev.Set(v, flightvars.Number(0))
	b := New(Config{Device: dev, Metrics: m, Watch: []flightvars.Var{v}})

	b.Poll()
	dev.Set(v, flightvars.Number(1))
	b.Poll()

	if got := promtest.ToFloat64(m.VarChanges.WithLabelValues("lvar")); got != 2 {
		t.Errorf("var changes = %v, want 2", got)
	}
}

func TestBridge_CloseClosesDevice(t *testing.T) {
	t.Parallel()
	dev := &testutil.FakeDevice{}
	b := New(Config{Device: dev})
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if !dev.Closed() {
		t.Error("device not closed")
	}
}

func TestFactory_RunsUnderActor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := testutil.NewFakeStore()
	v := flightvars.LVar("SEEDED")
	store.PutVar(ctx, v, flightvars.Number(3))

	rec := &recorder{}
	stub := actor.Spawn[flightvars.Command](
		Factory(ctx, device.KindMemory, store, Config{Recorder: rec}),
		actor.WithName("bridge"),
		actor.WithPollInterval(5*time.Millisecond),
	)
	sub := &testutil.Subscriber{}
	c := stub.Consumer()
	if err := c.Consume(flightvars.Observe("s", v, sub)); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for sub.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if sub.Len() == 0 {
		t.Fatal("no event from seeded var")
	}
	if !sub.Events()[0].Value.Equal(flightvars.Number(3)) {
		t.Errorf("value = %v, want 3", sub.Events()[0].Value)
	}
	if err := stub.Shutdown(); err != nil {
		t.Fatal(err)
	}
}

func TestFactory_OpenFailureSurfacesOnShutdown(t *testing.T) {
	t.Parallel()
	stub := actor.Spawn[flightvars.Command](
		Factory(context.Background(), "bogus", nil, Config{}),
		actor.WithName("bridge"),
	)
	<-stub.Done()
	err := stub.Shutdown()
	if !errors.Is(err, actor.ErrWorkerPanicked) {
		t.Errorf("err = %v, want ErrWorkerPanicked", err)
	}
}

func waitCached(t *testing.T, c *cache.Memory, v flightvars.Var, want flightvars.Value) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if ev, ok := c.Get(context.Background(), v.Key()); ok && ev.Value.Equal(want) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("cache never held %v for %s", want, v)
}
