// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"strings"
)

// Channel identifies one sensor channel of a turbine.
type Channel int

// Sensor channels in wire order. Tensors exchanged with the edge agent use this
// column order.
const (
	RotorSpeed Channel = iota
	Voltage
	VibrationX
	VibrationY
	VibrationZ
	Temperature
	Pressure

	NumChannels = int(Pressure) + 1
)

// ChannelSpec describes the nominal operating range of a channel.
type ChannelSpec struct {
	Name string
	Unit string
	Min  float64
	Max  float64
}

// Span is the width of the nominal range.
func (s ChannelSpec) Span() float64 { return s.Max - s.Min }

var channelSpecs = [NumChannels]ChannelSpec{
	RotorSpeed:  {Name: "rotor_speed", Unit: "rps", Min: 0, Max: 15},
	Voltage:     {Name: "voltage", Unit: "V", Min: 0, Max: 20},
	VibrationX:  {Name: "vibration_x", Unit: "g", Min: -2, Max: 2},
	VibrationY:  {Name: "vibration_y", Unit: "g", Min: -2, Max: 2},
	VibrationZ:  {Name: "vibration_z", Unit: "g", Min: -2, Max: 2},
	Temperature: {Name: "temperature", Unit: "C", Min: 0, Max: 60},
	Pressure:    {Name: "pressure", Unit: "hPa", Min: 900, Max: 1100},
}

// Channels returns every channel in wire order.
func Channels() []Channel {
	out := make([]Channel, NumChannels)
	for i := range out {
		out[i] = Channel(i)
	}
	return out
}

// Valid reports whether c names a known channel.
func (c Channel) Valid() bool { return c >= 0 && int(c) < NumChannels }

// Spec returns the nominal range of the channel.
func (c Channel) Spec() ChannelSpec {
	if !c.Valid() {
		return ChannelSpec{Name: "unknown"}
	}
	return channelSpecs[c]
}

func (c Channel) String() string { return c.Spec().Name }

// ParseChannel maps a channel name (case-insensitive) to its Channel.
func ParseChannel(name string) (Channel, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, spec := range channelSpecs {
		if spec.Name == n {
			return Channel(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownChannel, name)
}

// MarshalText implements encoding.TextMarshaler so channels read as names in JSON.
func (c Channel) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChannel, int(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Channel) UnmarshalText(b []byte) error {
	parsed, err := ParseChannel(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
