package ota

// State is the phase of the OTA listener.
type State int32

// Listener states. Every job moves Idle -> Downloading -> Swapping -> Idle,
// and any failure returns straight to Idle.
const (
	Idle State = iota
	Downloading
	Swapping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Downloading:
		return "downloading"
	case Swapping:
		return "swapping"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
