package agent

import "errors"

// Sentinel kinds for agent errors.
var (
	ErrModelNotFound      = errors.New("model not loaded in agent")
	ErrModelAlreadyLoaded = errors.New("model already loaded in agent")
	ErrUnavailable        = errors.New("edge agent unavailable")
	ErrInvalidRequest     = errors.New("invalid agent request")
	ErrLoadFailed         = errors.New("agent failed to load model")
)
