// Package audio provides the small amount of signal plumbing the game engine
// needs: a normalized RMS amplitude meter with noise gating and smoothing,
// PCM decoding for the wire format, and WAV encoding for analysis uploads.
package audio

import (
	"encoding/binary"
	"math"
)

// Meter defaults tuned for 16 kHz mono frames from a phone microphone.
const (
	// DefaultNoiseGate is the normalized RMS below which a frame reads as 0.
	DefaultNoiseGate = 0.02

	// DefaultSmoothing is the exponential smoothing factor applied to each
	// new reading (1.0 disables smoothing).
	DefaultSmoothing = 0.4

	// fullScale normalizes 16-bit PCM into [0, 1].
	fullScale = 32768.0
)

// Meter converts raw PCM frames into the normalized, smoothed amplitude
// signal driving the game loop. Not safe for concurrent use: one meter
// belongs to one capture stream.
type Meter struct {
	gate      float64
	smoothing float64
	level     float64
}

// NewMeter creates a Meter. Zero values select the defaults.
func NewMeter(gate, smoothing float64) *Meter {
	if gate <= 0 {
		gate = DefaultNoiseGate
	}
	if smoothing <= 0 || smoothing > 1 {
		smoothing = DefaultSmoothing
	}
	return &Meter{gate: gate, smoothing: smoothing}
}

// Process folds one PCM frame into the meter and returns the updated
// amplitude in [0, 1]. Frames below the noise gate read as silence.
func (m *Meter) Process(frame []int16) float64 {
	r := rms(frame)
	if r < m.gate {
		r = 0
	}
	m.level += m.smoothing * (r - m.level)
	if m.level < 1e-6 {
		m.level = 0
	}
	return m.Level()
}

// Level returns the current smoothed amplitude in [0, 1].
func (m *Meter) Level() float64 {
	if m.level > 1 {
		return 1
	}
	return m.level
}

// Reset clears the smoothing history, e.g. when a stream restarts.
func (m *Meter) Reset() { m.level = 0 }

// rms computes the root-mean-square of a PCM frame normalized to [0, 1].
func rms(frame []int16) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		v := float64(s) / fullScale
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(frame)))
}

// DecodePCM16 converts little-endian 16-bit PCM bytes into samples. A
// trailing odd byte is dropped.
func DecodePCM16(data []byte) []int16 {
	n := len(data) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return out
}
