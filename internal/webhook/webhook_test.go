package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	flightvars "github.com/eugener/flightvars/internal"
	"github.com/eugener/flightvars/internal/telemetry"
)

type receiver struct {
	mu       sync.Mutex
	bodies   [][]byte
	headers  []http.Header
	status   int
	response string
}

func (r *receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	r.bodies = append(r.bodies, body)
	r.headers = append(r.headers, req.Header.Clone())
	status, resp := r.status, r.response
	r.mu.Unlock()
	if status == 0 {
		status = http.StatusNoContent
	}
	w.WriteHeader(status)
	io.WriteString(w, resp)
}

func (r *receiver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bodies)
}

func (r *receiver) last() ([]byte, http.Header) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bodies[len(r.bodies)-1], r.headers[len(r.headers)-1]
}

func startNotifier(t *testing.T, n *Notifier) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitCount(t *testing.T, what string, want int, got func() int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for got() < want {
		select {
		case <-deadline:
			t.Fatalf("%s = %d, want %d", what, got(), want)
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestNotifier_DeliversSignedEvent(t *testing.T) {
	t.Parallel()
	rcv := &receiver{}
	srv := httptest.NewServer(rcv)
	defer srv.Close()

	gear := flightvars.LVar("GEAR")
	n := New([]Endpoint{{Name: "ops", URL: srv.URL, Secret: "k", Vars: []flightvars.Var{gear}}}, Options{})
	startNotifier(t, n)

	ev := flightvars.Event{ID: "evt-1", Var: gear, Value: flightvars.Bool(true), At: time.Now().UTC()}
	if err := n.Consume(ev); err != nil {
		t.Fatal(err)
	}
	waitCount(t, "deliveries", 1, rcv.count)

	body, hdr := rcv.last()
	if err := Verify(body, hdr.Get(SignatureHeader), "k"); err != nil {
		t.Errorf("signature: %v", err)
	}
	if hdr.Get(EventHeader) != "evt-1" {
		t.Errorf("event header = %q", hdr.Get(EventHeader))
	}
	var got flightvars.Event
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if got.ID != "evt-1" || got.Var != gear || !got.Value.Equal(flightvars.Bool(true)) {
		t.Errorf("delivered = %+v", got)
	}
}

func TestNotifier_RoutesByVar(t *testing.T) {
	t.Parallel()
	a, b := &receiver{}, &receiver{}
	srvA, srvB := httptest.NewServer(a), httptest.NewServer(b)
	defer srvA.Close()
	defer srvB.Close()

	gear, flaps := flightvars.LVar("GEAR"), flightvars.LVar("FLAPS")
	n := New([]Endpoint{
		{Name: "a", URL: srvA.URL, Vars: []flightvars.Var{gear, flaps}},
		{Name: "b", URL: srvB.URL, Vars: []flightvars.Var{flaps}},
	}, Options{})
	startNotifier(t, n)

	n.Consume(flightvars.Event{ID: "1", Var: gear, Value: flightvars.Number(1)})
	n.Consume(flightvars.Event{ID: "2", Var: flaps, Value: flightvars.Number(2)})
	n.Consume(flightvars.Event{ID: "3", Var: flightvars.LVar("OTHER"), Value: flightvars.Number(3)})

	waitCount(t, "a deliveries", 2, a.count)
	waitCount(t, "b deliveries", 1, b.count)
	time.Sleep(20 * time.Millisecond)
	if a.count() != 2 || b.count() != 1 {
		t.Errorf("deliveries = %d, %d, want 2, 1", a.count(), b.count())
	}
	if _, hdr := b.last(); hdr.Get(SignatureHeader) != "" {
		t.Error("unsigned endpoint received a signature")
	}
}

func TestNotifier_Subscriptions(t *testing.T) {
	t.Parallel()
	gear, flaps := flightvars.LVar("GEAR"), flightvars.LVar("FLAPS")
	n := New([]Endpoint{
		{Name: "a", URL: "http://a", Vars: []flightvars.Var{gear, flaps}},
		{Name: "b", URL: "http://b", Vars: []flightvars.Var{flaps}},
	}, Options{})

	cmds := n.Subscriptions()
	if len(cmds) != 2 {
		t.Fatalf("subscriptions = %d, want 2", len(cmds))
	}
	for _, c := range cmds {
		if c.Kind != flightvars.CmdObserve || c.Subscriber != n || c.Subscription != "webhook:"+c.Var.Key() {
			t.Errorf("command = %+v", c)
		}
	}
}

func TestNotifier_BreakerOpensOnFailures(t *testing.T) {
	t.Parallel()
	rcv := &receiver{status: http.StatusBadGateway, response: `{"error":{"message":"upstream down"}}`}
	srv := httptest.NewServer(rcv)
	defer srv.Close()

	m := telemetry.NewMetrics(prometheus.NewPedanticRegistry())
	v := flightvars.LVar("V")
	n := New([]Endpoint{{Name: "flaky", URL: srv.URL, Vars: []flightvars.Var{v}}}, Options{
		Breaker: BreakerConfig{Failures: 2, OpenTimeout: time.Hour},
		Metrics: m,
	})
	startNotifier(t, n)

	for i := range 4 {
		n.Consume(flightvars.Event{ID: string(rune('a' + i)), Var: v, Value: flightvars.Number(float64(i))})
	}
	waitCount(t, "rejected", 2, func() int {
		return int(promtest.ToFloat64(m.WebhookDeliveries.WithLabelValues(outcomeRejected)))
	})

	if rcv.count() != 2 {
		t.Errorf("requests = %d, want 2", rcv.count())
	}
	if got := promtest.ToFloat64(m.WebhookDeliveries.WithLabelValues(outcomeFailed)); got != 2 {
		t.Errorf("failed = %v, want 2", got)
	}
	if st, ok := n.State("flaky"); !ok || st != StateOpen {
		t.Errorf("state = %v, %v, want open", st, ok)
	}
	if _, ok := n.State("missing"); ok {
		t.Error("State found a missing endpoint")
	}
}

func TestNotifier_DropsWhenQueueFull(t *testing.T) {
	t.Parallel()
	m := telemetry.NewMetrics(prometheus.NewPedanticRegistry())
	n := New(nil, Options{QueueSize: 1, Metrics: m})
	v := flightvars.LVar("V")

	for range 3 {
		if err := n.Consume(flightvars.Event{Var: v}); err != nil {
			t.Fatalf("Consume() = %v, want nil", err)
		}
	}
	if got := promtest.ToFloat64(m.WebhookDeliveries.WithLabelValues(outcomeDropped)); got != 2 {
		t.Errorf("dropped = %v, want 2", got)
	}
}

func TestNotifier_ClosedAfterRun(t *testing.T) {
	t.Parallel()
	n := New(nil, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := n.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if err := n.Consume(flightvars.Event{}); !errors.Is(err, flightvars.ErrClosed) {
		t.Errorf("Consume() = %v, want ErrClosed", err)
	}
}

func TestNotifier_DeliversQueuedOnShutdown(t *testing.T) {
	t.Parallel()
	rcv := &receiver{}
	srv := httptest.NewServer(rcv)
	defer srv.Close()

	v := flightvars.LVar("BEACON")
	n := New([]Endpoint{{Name: "ops", URL: srv.URL, Vars: []flightvars.Var{v}}}, Options{})
	const queued = 5
	for i := range queued {
		if err := n.Consume(flightvars.Event{ID: string(rune('a' + i)), Var: v, Value: flightvars.Number(float64(i))}); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := n.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if got := rcv.count(); got != queued {
		t.Errorf("deliveries = %d, want %d", got, queued)
	}
	if len(n.ch) != 0 {
		t.Errorf("left in queue = %d, want 0", len(n.ch))
	}
}

func TestReplyMessage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		body string
		want string
	}{
		{`{"error":{"message":"quota exceeded"}}`, "quota exceeded"},
		{`{"error":"bad token"}`, "bad token"},
		{`{"message":"nope"}`, "nope"},
		{`{"error":{"code":42}}`, ""},
		{`<html>502</html>`, ""},
		{``, ""},
	}
	for _, tt := range tests {
		if got := replyMessage([]byte(tt.body)); got != tt.want {
			t.Errorf("replyMessage(%q) = %q, want %q", tt.body, got, tt.want)
		}
	}
}

func TestStatusError(t *testing.T) {
	t.Parallel()
	if got := (&statusError{code: 500}).Error(); got != "status 500" {
		t.Errorf("Error() = %q", got)
	}
	if got := (&statusError{code: 429, msg: "slow down"}).Error(); got != "status 429: slow down" {
		t.Errorf("Error() = %q", got)
	}
}
