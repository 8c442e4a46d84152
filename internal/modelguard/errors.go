package modelguard

import "errors"

// Sentinel kinds for model guard errors.
var (
	ErrNoActiveModel  = errors.New("no active model")
	ErrAlreadyActive  = errors.New("model version already active")
	ErrInvalidHandle  = errors.New("model handle needs a name and a path")
	ErrSwapFailed     = errors.New("model swap failed")
	ErrRollbackFailed = errors.New("reloading previous model failed")
)
