package mqtt

import "errors"

// Sentinel kinds for MQTT errors.
var (
	ErrNoBroker     = errors.New("mqtt broker address is empty")
	ErrTimeout      = errors.New("mqtt operation timed out")
	ErrNotConnected = errors.New("mqtt client not connected")
)
