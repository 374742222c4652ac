// Package game implements the sustained-phonation game core: the
// amplitude-to-speed mapping and the per-tick state machine that turns a
// stream of microphone amplitude samples into avatar movement, silence
// handling, and win/timeout decisions.
//
// Everything in this package is pure: [Tunables.Tick] takes a [State] and
// returns a new one, with no clocks, goroutines, or I/O. The loop driver in
// the driver subpackage supplies wall-clock deltas and the live amplitude.
package game

import "math"

// Default tunable values. These match the shipped mobile client so that a
// recording judged server-side behaves identically to the local preview.
const (
	DefaultAmplitudeThreshold = 0.1
	DefaultSilenceGrace       = 0.1
	DefaultSleepOverlayDelay  = 2.0
	DefaultTimeoutMultiplier  = 2.0
	DefaultMaxSpeedMultiplier = 1.0
	DefaultMaxPauseDuration   = 0.5
)

// Tunables is the immutable numeric configuration for the game core.
// A zero value is not usable; obtain one from [DefaultTunables] and override
// fields as needed. Tests override thresholds freely, which is the reason
// these are carried as a value instead of package-level constants.
type Tunables struct {
	// AmplitudeThreshold is the normalized amplitude below which (inclusive)
	// the avatar does not move. Movement requires strictly greater amplitude.
	AmplitudeThreshold float64

	// SilenceGrace is how many seconds of continuous silence are absorbed
	// before movement halts. Brief dips between breaths stay invisible.
	SilenceGrace float64

	// SleepOverlayDelay is how many seconds of continuous silence trigger the
	// sleep overlay, a stronger visual cue than the halt.
	SleepOverlayDelay float64

	// TimeoutMultiplier scales the level's target duration into the attempt
	// deadline. With 2.0, a 2s level times out after 4s of wall time.
	TimeoutMultiplier float64

	// MaxSpeedMultiplier caps the speed relative to the base speed
	// (pathLength/targetDuration). Must be >= 1.0 to keep wins reachable.
	MaxSpeedMultiplier float64
}

// DefaultTunables returns the production tuning.
func DefaultTunables() Tunables {
	return Tunables{
		AmplitudeThreshold: DefaultAmplitudeThreshold,
		SilenceGrace:       DefaultSilenceGrace,
		SleepOverlayDelay:  DefaultSleepOverlayDelay,
		TimeoutMultiplier:  DefaultTimeoutMultiplier,
		MaxSpeedMultiplier: DefaultMaxSpeedMultiplier,
	}
}

// SpeedMultiplier maps a normalized amplitude sample to a movement factor in
// [0, 1]. At or below the threshold the result is exactly 0; above it the
// factor interpolates linearly from [threshold, 1.0] to [0, 1]. Out-of-range
// inputs (negative, > 1.0, NaN) are clamped rather than rejected, because the
// capture side occasionally overshoots on onset transients.
func (t Tunables) SpeedMultiplier(amplitude float64) float64 {
	if math.IsNaN(amplitude) || amplitude <= t.AmplitudeThreshold {
		return 0
	}
	span := 1.0 - t.AmplitudeThreshold
	if span <= 0 {
		return 1
	}
	return clamp((amplitude-t.AmplitudeThreshold)/span, 0, 1)
}

// Speed converts an amplitude sample into movement speed in path units per
// second. The base speed pathLength/targetDuration is the speed that finishes
// the path in exactly the target duration; the result never exceeds
// baseSpeed × MaxSpeedMultiplier.
func (t Tunables) Speed(amplitude, pathLength, targetDuration float64) float64 {
	if pathLength <= 0 || targetDuration <= 0 {
		return 0
	}
	base := pathLength / targetDuration
	cap := t.MaxSpeedMultiplier
	if cap < 1.0 {
		cap = 1.0
	}
	return math.Min(base*t.SpeedMultiplier(amplitude), base*cap)
}

// CompletionPercent reports how far along the path a position is, in
// [0, 100]. A zero or negative path length yields 0 rather than dividing.
func CompletionPercent(position, pathLength float64) float64 {
	if pathLength <= 0 {
		return 0
	}
	return clamp(position/pathLength*100, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
