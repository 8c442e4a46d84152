package config

import "errors"

var (
	// ErrInvalidConfig wraps every problem Validate reports.
	ErrInvalidConfig = errors.New("config: invalid")
	// ErrLoadConfig wraps failures reading defaults, the YAML file or the environment.
	ErrLoadConfig = errors.New("config: load")
)
