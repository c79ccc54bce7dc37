package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	flightvars "github.com/eugener/flightvars/internal"
	"github.com/eugener/flightvars/internal/consume"
)

const (
	maxWriteBody   = 4 << 10
	observeBufSize = 64
)

// varFromRequest builds the Var addressed by {kind}/{name} and ?size=.
func varFromRequest(r *http.Request) (flightvars.Var, error) {
	size := 0
	if s := r.URL.Query().Get("size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return flightvars.Var{}, fmt.Errorf("%w: invalid size %q", flightvars.ErrBadRequest, s)
		}
		size = n
	}
	return flightvars.ParseVar(chi.URLParam(r, "kind"), chi.URLParam(r, "name"), size)
}

// handleGetVar serves the last value the bridge observed from the cache.
func (s *server) handleGetVar(w http.ResponseWriter, r *http.Request) {
	v, err := varFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.deps.Cache == nil {
		writeError(w, fmt.Errorf("%w: cache disabled", flightvars.ErrUnavailable))
		return
	}
	ev, ok := s.deps.Cache.Get(r.Context(), v.Key())
	if m := s.deps.Metrics; m != nil {
		if ok {
			m.CacheHits.Inc()
		} else {
			m.CacheMisses.Inc()
		}
	}
	if !ok {
		writeError(w, fmt.Errorf("%w: no value observed for %s", flightvars.ErrNotFound, v))
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

type writeAccepted struct {
	Status string           `json:"status"`
	Var    flightvars.Var   `json:"var"`
	Value  flightvars.Value `json:"value"`
}

// handlePutVar queues a write. 202 means the bridge accepted the command,
// not that the simulator applied it.
func (s *server) handlePutVar(w http.ResponseWriter, r *http.Request) {
	v, err := varFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWriteBody))
	if err != nil {
		writeError(w, fmt.Errorf("%w: read body: %w", flightvars.ErrBadRequest, err))
		return
	}
	val, err := parseWriteBody(body)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.deps.Commands.Consume(flightvars.Write(v, val)); err != nil {
		writeError(w, fmt.Errorf("%w: bridge worker: %w", flightvars.ErrUnavailable, err))
		return
	}
	writeJSON(w, http.StatusAccepted, writeAccepted{Status: "accepted", Var: v, Value: val})
}

// parseWriteBody extracts the scalar at "value" from {"value": ...}.
func parseWriteBody(body []byte) (flightvars.Value, error) {
	if !gjson.ValidBytes(body) {
		return flightvars.Value{}, fmt.Errorf("%w: body is not valid JSON", flightvars.ErrBadRequest)
	}
	res := gjson.GetBytes(body, "value")
	switch res.Type {
	case gjson.True, gjson.False:
		return flightvars.Bool(res.Bool()), nil
	case gjson.Number:
		return flightvars.Number(res.Float()), nil
	case gjson.String:
		return flightvars.String(res.Str), nil
	case gjson.Null:
		if !res.Exists() {
			return flightvars.Value{}, fmt.Errorf("%w: missing \"value\"", flightvars.ErrBadRequest)
		}
		return flightvars.Value{}, fmt.Errorf("%w: \"value\" must not be null", flightvars.ErrBadRequest)
	default:
		return flightvars.Value{}, fmt.Errorf("%w: \"value\" must be a bool, number, or string", flightvars.ErrBadRequest)
	}
}

// streamSubscriber forwards bridge events to one SSE client. It reports
// back-pressure through lagged and refuses events once the client is gone,
// so the bridge drops the subscription either way.
type streamSubscriber struct {
	events chan flightvars.Event
	inner  consume.Consumer[flightvars.Event]
	lagged chan struct{}
	once   sync.Once
	closed atomic.Bool
}

func newStreamSubscriber(size int) *streamSubscriber {
	ch := make(chan flightvars.Event, size)
	return &streamSubscriber{
		events: ch,
		inner:  consume.NonBlocking[flightvars.Event](ch),
		lagged: make(chan struct{}),
	}
}

func (s *streamSubscriber) Consume(e flightvars.Event) error {
	if s.closed.Load() {
		return flightvars.ErrClosed
	}
	if err := s.inner.Consume(e); err != nil {
		s.once.Do(func() { close(s.lagged) })
		return err
	}
	return nil
}

func (s *streamSubscriber) close() { s.closed.Store(true) }

// handleObserveVar streams changes of one variable as server-sent events.
// The first frame carries the current value.
func (s *server) handleObserveVar(w http.ResponseWriter, r *http.Request) {
	v, err := varFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, fmt.Errorf("streaming unsupported"))
		return
	}

	id := "sse:" + uuid.Must(uuid.NewV7()).String()
	sub := newStreamSubscriber(observeBufSize)
	if err := s.deps.Commands.Consume(flightvars.Observe(id, v, sub)); err != nil {
		writeError(w, fmt.Errorf("%w: bridge worker: %w", flightvars.ErrUnavailable, err))
		return
	}
	defer func() {
		sub.close()
		// Best effort; a dead worker has no subscriptions to remove.
		s.deps.Commands.Consume(flightvars.Unobserve(id)) //nolint:errcheck
	}()

	writeSSEHeaders(w)
	flusher.Flush()

	rc := http.NewResponseController(w)
	keepAlive := time.NewTicker(s.deps.KeepAlive)
	defer keepAlive.Stop()

	// Every frame gets a fresh deadline; a stale one fails the next write.
	deadline := func() {
		rc.SetWriteDeadline(time.Now().Add(s.deps.StreamTimeout)) //nolint:errcheck
	}

	for {
		select {
		case ev := <-sub.events:
			data, err := json.Marshal(ev)
			if err != nil {
				slog.LogAttrs(r.Context(), slog.LevelError, "encode event failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			deadline()
			writeSSEChange(w, ev.ID, data)
			flusher.Flush()

		case <-keepAlive.C:
			deadline()
			writeSSEKeepAlive(w)
			flusher.Flush()

		case <-sub.lagged:
			deadline()
			writeSSEError(w, "client fell behind; subscription dropped")
			flusher.Flush()
			return

		case <-r.Context().Done():
			return
		}
	}
}
