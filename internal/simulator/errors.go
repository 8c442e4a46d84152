package simulator

import "errors"

// Sentinel kinds for simulator errors.
var (
	ErrUnknownTurbine = errors.New("unknown turbine")
	ErrEmptyTrace     = errors.New("trace has no rows")
	ErrMissingChannel = errors.New("trace is missing a channel column")
	ErrAlreadyRunning = errors.New("simulator already running")
	ErrNotRunning     = errors.New("simulator not running")
	ErrStopTimeout    = errors.New("timed out waiting for turbines to stop")
)
