package api

import "errors"

// Errors surfaced in JSON error bodies. Each maps to one status code.
var (
	ErrBadRequest   = errors.New("malformed request")                  // 400
	ErrNotFound     = errors.New("resource not found")                 // 404
	ErrBackpressure = errors.New("deployment queue full, retry later") // 429
)
