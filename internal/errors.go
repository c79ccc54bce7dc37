package flightvars

import "errors"

// Sentinel errors for the flightvars domain.
var (
	ErrNotFound     = errors.New("not found")
	ErrBadRequest   = errors.New("bad request")
	ErrUnauthorized = errors.New("unauthorized")
	ErrUnavailable  = errors.New("unavailable")
	ErrClosed       = errors.New("closed")
	ErrRateLimited  = errors.New("rate limited")
)
