package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	flightvars "github.com/eugener/flightvars/internal"
)

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func errorResponse(status int, msg string) apiError {
	var e apiError
	e.Error.Message = msg
	e.Error.Type = errorType(status)
	return e
}

func errorType(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request_error"
	case http.StatusUnauthorized:
		return "authentication_error"
	case http.StatusNotFound:
		return "not_found_error"
	case http.StatusTooManyRequests:
		return "rate_limit_error"
	case http.StatusServiceUnavailable:
		return "unavailable_error"
	default:
		return "internal_error"
	}
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, flightvars.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, flightvars.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, flightvars.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, flightvars.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, flightvars.ErrUnavailable), errors.Is(err, flightvars.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	writeJSON(w, status, errorResponse(status, err.Error()))
}

// jsonCT is a pre-allocated header value slice. Direct map assignment
// (w.Header()["Content-Type"] = jsonCT) avoids the []string{v} alloc
// that Header.Set creates on every call.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
