package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	flightvars "github.com/eugener/flightvars/internal"
)

const maxEventsLimit = 1000

type eventList struct {
	Events []flightvars.Event `json:"events"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// handleListEvents queries the change journal.
//
// Query parameters: kind, name, size (select one variable), since, until
// (RFC 3339), limit, offset.
func (s *server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		writeError(w, fmt.Errorf("%w: journal disabled", flightvars.ErrUnavailable))
		return
	}
	f, err := eventFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	events, err := s.deps.Events.QueryEvents(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []flightvars.Event{}
	}
	writeJSON(w, http.StatusOK, eventList{Events: events, Limit: f.Limit, Offset: f.Offset})
}

func eventFilter(r *http.Request) (flightvars.EventFilter, error) {
	q := r.URL.Query()
	f := flightvars.EventFilter{Limit: 50}

	if kind := q.Get("kind"); kind != "" {
		size, err := intParam(q.Get("size"), 0)
		if err != nil {
			return f, err
		}
		v, err := flightvars.ParseVar(kind, q.Get("name"), size)
		if err != nil {
			return f, err
		}
		f.VarKey = v.Key()
	}

	var err error
	if f.Since, err = timeParam(q.Get("since")); err != nil {
		return f, err
	}
	if f.Until, err = timeParam(q.Get("until")); err != nil {
		return f, err
	}
	if f.Limit, err = intParam(q.Get("limit"), f.Limit); err != nil {
		return f, err
	}
	if f.Offset, err = intParam(q.Get("offset"), 0); err != nil {
		return f, err
	}
	if f.Limit <= 0 || f.Limit > maxEventsLimit {
		return f, fmt.Errorf("%w: limit must be between 1 and %d", flightvars.ErrBadRequest, maxEventsLimit)
	}
	if f.Offset < 0 {
		return f, fmt.Errorf("%w: offset must not be negative", flightvars.ErrBadRequest)
	}
	return f, nil
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid integer %q", flightvars.ErrBadRequest, s)
	}
	return n, nil
}

func timeParam(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid time %q", flightvars.ErrBadRequest, s)
	}
	return t, nil
}
