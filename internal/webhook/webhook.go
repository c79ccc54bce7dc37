// Package webhook delivers variable change events to HTTP endpoints.
//
// A Notifier is registered with the bridge as a subscriber for every variable
// any endpoint cares about. Consume only enqueues; Run performs the POSTs,
// so a slow receiver never stalls the bridge worker.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/dnscache"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	flightvars "github.com/eugener/flightvars/internal"
	"github.com/eugener/flightvars/internal/telemetry"
)

const (
	defaultQueueSize = 256
	defaultTimeout   = 5 * time.Second
	maxReplyBytes    = 4 << 10
	drainTime        = 10 * time.Second

	// EventHeader carries the event ID so receivers can deduplicate.
	EventHeader = "X-Flightvars-Event"
)

// Delivery outcomes, used as the metrics label.
const (
	outcomeDelivered = "delivered"
	outcomeFailed    = "failed"
	outcomeRejected  = "breaker_open"
	outcomeDropped   = "dropped"
)

// Endpoint is a configured webhook receiver.
type Endpoint struct {
	Name    string
	URL     string
	Secret  string // HMAC key; empty disables signing
	Vars    []flightvars.Var
	Timeout time.Duration
}

// Options configures a Notifier. Zero fields take defaults.
type Options struct {
	QueueSize int
	Breaker   BreakerConfig
	Resolver  *dnscache.Resolver
	Client    *http.Client
	Logger    *slog.Logger
	Metrics   *telemetry.Metrics
}

type target struct {
	Endpoint
	breaker *breaker
}

var _ flightvars.Subscriber = (*Notifier)(nil)

// Notifier fans change events out to webhook endpoints.
type Notifier struct {
	targets []*target
	byVar   map[string][]*target
	vars    []flightvars.Var
	ch      chan flightvars.Event
	client  *http.Client
	logger  *slog.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer
	stopped atomic.Bool
}

// New creates a Notifier for endpoints.
func New(endpoints []Endpoint, opts Options) *Notifier {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Transport: NewTransport(opts.Resolver)}
	}
	n := &Notifier{
		byVar:   make(map[string][]*target),
		ch:      make(chan flightvars.Event, opts.QueueSize),
		client:  opts.Client,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		tracer:  telemetry.Tracer("github.com/eugener/flightvars/internal/webhook"),
	}
	for _, ep := range endpoints {
		if ep.Timeout <= 0 {
			ep.Timeout = defaultTimeout
		}
		t := &target{Endpoint: ep, breaker: newBreaker(opts.Breaker)}
		n.targets = append(n.targets, t)
		for _, v := range ep.Vars {
			key := v.Key()
			if _, ok := n.byVar[key]; !ok {
				n.vars = append(n.vars, v)
			}
			n.byVar[key] = append(n.byVar[key], t)
		}
	}
	return n
}

// NewTransport returns a tuned *http.Transport with optional DNS caching.
func NewTransport(resolver *dnscache.Resolver) *http.Transport {
	t := &http.Transport{
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	if resolver != nil {
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		}
	}
	return t
}

// Name returns the worker identifier.
func (n *Notifier) Name() string { return "webhook_notifier" }

// Subscriptions returns one Observe command per variable any endpoint
// watches, all delivering to n.
func (n *Notifier) Subscriptions() []flightvars.Command {
	cmds := make([]flightvars.Command, 0, len(n.vars))
	for _, v := range n.vars {
		cmds = append(cmds, flightvars.Observe("webhook:"+v.Key(), v, n))
	}
	return cmds
}

// Consume implements flightvars.Subscriber. It never blocks: events are
// dropped when the queue is full. Once Run has returned it fails with
// ErrClosed so the bridge drops the subscription.
func (n *Notifier) Consume(e flightvars.Event) error {
	if n.stopped.Load() {
		return flightvars.ErrClosed
	}
	select {
	case n.ch <- e:
	default:
		n.count(outcomeDropped)
		n.logger.LogAttrs(context.Background(), slog.LevelWarn, "webhook event dropped, queue full",
			slog.String("var", e.Var.Key()),
		)
	}
	return nil
}

// Run delivers queued events until ctx is cancelled, then delivers what is
// still queued within a bounded drain period.
func (n *Notifier) Run(ctx context.Context) error {
	// A POST in flight when ctx ends still runs to its endpoint timeout.
	deliverCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			n.stopped.Store(true)
			n.drain()
			return nil
		case e := <-n.ch:
			n.dispatch(deliverCtx, e)
		}
	}
}

func (n *Notifier) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTime)
	defer cancel()

	for {
		select {
		case e := <-n.ch:
			if ctx.Err() != nil {
				n.count(outcomeDropped)
				continue
			}
			n.dispatch(ctx, e)
		default:
			return
		}
	}
}

func (n *Notifier) dispatch(ctx context.Context, e flightvars.Event) {
	for _, t := range n.byVar[e.Var.Key()] {
		n.deliver(ctx, t, e)
	}
}

// State returns the breaker state of the named endpoint.
func (n *Notifier) State(name string) (State, bool) {
	for _, t := range n.targets {
		if t.Name == name {
			return t.breaker.State(), true
		}
	}
	return 0, false
}

func (n *Notifier) deliver(ctx context.Context, t *target, e flightvars.Event) {
	if !t.breaker.Allow() {
		n.count(outcomeRejected)
		return
	}

	ctx, span := n.tracer.Start(ctx, "webhook.deliver", trace.WithAttributes(
		attribute.String("webhook.endpoint", t.Name),
		attribute.String("flightvars.var", e.Var.Key()),
	))
	defer span.End()

	err := n.post(ctx, t, e)
	if err != nil {
		if ctx.Err() != nil {
			// Shutting down; not the receiver's fault.
			return
		}
		t.breaker.Failure()
		n.count(outcomeFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		n.logger.LogAttrs(ctx, slog.LevelWarn, "webhook delivery failed",
			slog.String("endpoint", t.Name),
			slog.String("event", e.ID),
			slog.String("error", err.Error()),
			slog.String("breaker", t.breaker.State().String()),
		)
		return
	}
	t.breaker.Success()
	n.count(outcomeDelivered)
}

// statusError is returned for non-2xx replies.
type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string {
	if e.msg != "" {
		return fmt.Sprintf("status %d: %s", e.code, e.msg)
	}
	return fmt.Sprintf("status %d", e.code)
}

func (n *Notifier) post(ctx context.Context, t *target, e flightvars.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, e.ID)
	if t.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(body, t.Secret))
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxReplyBytes)) //nolint:errcheck
		return nil
	}
	reply, _ := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	return &statusError{code: resp.StatusCode, msg: replyMessage(reply)}
}

// replyMessage extracts a human-readable error from a JSON reply body, if any.
func replyMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	for _, path := range []string{"error.message", "error", "message"} {
		if r := gjson.GetBytes(body, path); r.Exists() && r.Type == gjson.String {
			return r.String()
		}
	}
	return ""
}

func (n *Notifier) count(outcome string) {
	if n.metrics != nil {
		n.metrics.WebhookDeliveries.WithLabelValues(outcome).Inc()
	}
}
