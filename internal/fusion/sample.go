package fusion

import (
	"math"
	"time"
)

// Stream identifies one of the physiological input streams handled by the
// pipeline. Each stream has its own buffers, sampling rate, and window
// duration.
type Stream string

const (
	StreamEEG Stream = "eeg"
	StreamPPG Stream = "ppg"
	StreamACC Stream = "acc"
)

// Sample is a single scalar observation stamped with its arrival time.
// Arrival time comes from the store clock at ingestion, not from the wire,
// so samples within one buffer are strictly time-ordered.
type Sample struct {
	At    time.Time
	Value float64
}

// VectorSample is a single 3-axis accelerometer observation.
type VectorSample struct {
	At      time.Time
	X, Y, Z float64
}

// Norm returns the Euclidean magnitude of the acceleration vector.
func (v VectorSample) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

func (s Sample) when() time.Time       { return s.At }
func (v VectorSample) when() time.Time { return v.At }
