package storage

import "errors"

// Sentinel kinds for storage errors.
var (
	ErrSinkFailed = errors.New("sink write failed")
	ErrNoDSN      = errors.New("postgres dsn is empty")
)
