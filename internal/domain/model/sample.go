package model

import "time"

// SensorSample is one reading of every channel of a turbine. Values are
// indexed by Channel.
type SensorSample struct {
	TurbineID string
	Seq       uint64
	TS        time.Time
	Values    [NumChannels]float64
}

// Value returns the reading for a channel.
func (s SensorSample) Value(c Channel) float64 {
	return s.Values[c]
}

// Row returns the readings as a tensor row in wire order.
func (s SensorSample) Row() []float64 {
	row := make([]float64, NumChannels)
	copy(row, s.Values[:])
	return row
}

// Tensor converts a window of samples into a rows x channels matrix.
func Tensor(window []SensorSample) [][]float64 {
	t := make([][]float64, len(window))
	for i, s := range window {
		t[i] = s.Row()
	}
	return t
}
