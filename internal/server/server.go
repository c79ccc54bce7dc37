// Package server implements the HTTP transport layer for the flightvars bridge.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	flightvars "github.com/eugener/flightvars/internal"
	"github.com/eugener/flightvars/internal/cache"
	"github.com/eugener/flightvars/internal/consume"
	"github.com/eugener/flightvars/internal/ratelimit"
	"github.com/eugener/flightvars/internal/telemetry"
)

const (
	defaultKeepAlive    = 15 * time.Second
	defaultStreamWrites = 5 * time.Second
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// EventQuerier reads the change journal.
type EventQuerier interface {
	QueryEvents(ctx context.Context, filter flightvars.EventFilter) ([]flightvars.Event, error)
}

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Commands       consume.Consumer[flightvars.Command] // bridge worker inbox
	Cache          cache.Cache                          // last-known values
	Events         EventQuerier                         // nil = journal disabled
	ReadyCheck     ReadyChecker                         // nil = always ready (for tests)
	Metrics        *telemetry.Metrics                   // nil = no HTTP metrics
	MetricsHandler http.Handler                         // nil = no /metrics route
	WriteKey       string                               // empty = writes unauthenticated
	WriteLimiter   *ratelimit.Registry                  // nil = no write rate limiting
	KeepAlive      time.Duration                        // SSE keep-alive period
	StreamTimeout  time.Duration                        // per-frame SSE write deadline
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	if deps.KeepAlive <= 0 {
		deps.KeepAlive = defaultKeepAlive
	}
	if deps.StreamTimeout <= 0 {
		deps.StreamTimeout = defaultStreamWrites
	}
	s := &server{deps: deps, writeKey: hashKey(deps.WriteKey)}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	// System endpoints (no auth)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/vars/{kind}/{name}", s.handleGetVar)
		r.Get("/vars/{kind}/{name}/events", s.handleObserveVar)
		r.Get("/events", s.handleListEvents)

		r.Group(func(r chi.Router) {
			r.Use(s.requireWriteKey)
			if deps.WriteLimiter != nil {
				r.Use(s.limitWrites)
			}
			r.Put("/vars/{kind}/{name}", s.handlePutVar)
		})
	})

	return r
}

type server struct {
	deps     Deps
	writeKey []byte // sha256 of Deps.WriteKey, nil when unset
}
