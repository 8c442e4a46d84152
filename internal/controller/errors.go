package controller

import "errors"

// Sentinel kinds for controller errors.
var (
	ErrControllerFault = errors.New("turbine inference loop faulted")
	ErrAlreadyRunning  = errors.New("controller already running")
	ErrNotRunning      = errors.New("controller not running")
	ErrHaltTimeout     = errors.New("timed out waiting for inference loops")
)
