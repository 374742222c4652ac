package game

import "math"

// LevelConfig is the per-level contract the state machine needs. It stays
// constant for the duration of one attempt.
type LevelConfig struct {
	// TargetDuration is the phonation target in seconds.
	TargetDuration float64

	// AllowPauses marks intentional breath pauses as acceptable instead of
	// treating every silence as a failure signal. Enabled from tier 2 up.
	AllowPauses bool

	// MaxPauseDuration bounds an intentional pause in seconds. Zero means
	// [DefaultMaxPauseDuration].
	MaxPauseDuration float64
}

// maxPause returns the effective pause bound.
func (c LevelConfig) maxPause() float64 {
	if c.MaxPauseDuration > 0 {
		return c.MaxPauseDuration
	}
	return DefaultMaxPauseDuration
}

// State is one attempt's mutable game state. It has a single writer (the
// loop driver) and is recreated from [NewState] on every attempt or reset.
// Once Won or TimedOut is set the state is terminal: [Tunables.Tick] returns
// it unchanged.
type State struct {
	// Position is the avatar's location along the path, in [0, PathLength].
	Position   float64
	PathLength float64

	// TargetDuration mirrors the level's phonation target in seconds.
	TargetDuration float64

	// Elapsed is wall time spent in the attempt, in seconds.
	Elapsed float64

	// SilenceTime is the length of the current continuous sub-threshold
	// stretch, in seconds. Reset to zero by any voiced sample.
	SilenceTime float64

	// Halted is true while silence has outlasted the grace window.
	Halted bool

	// SleepOverlay is true while silence has outlasted the sleep delay.
	SleepOverlay bool

	// Won and TimedOut are the terminal flags. At most one is ever set.
	Won      bool
	TimedOut bool

	// PauseCount is the number of intentional pause episodes so far.
	PauseCount int

	// TotalPauseDuration is the summed length of intentional pauses, seconds.
	TotalPauseDuration float64

	// LastAmplitude is the most recent amplitude sample fed to Tick.
	LastAmplitude float64

	// inPause marks that the current silence stretch has already been
	// counted as a pause episode.
	inPause bool
}

// NewState creates the initial state for one attempt.
func NewState(pathLength float64, cfg LevelConfig) State {
	return State{
		PathLength:     pathLength,
		TargetDuration: cfg.TargetDuration,
	}
}

// Terminal reports whether the attempt has ended.
func (s State) Terminal() bool { return s.Won || s.TimedOut }

// Completion returns the attempt's completion percentage in [0, 100].
func (s State) Completion() float64 { return CompletionPercent(s.Position, s.PathLength) }

// Tick advances one attempt by dt seconds given the latest amplitude sample.
// It is a pure transition function: the input state is not mutated.
//
// Order matters and is part of the contract: silence classification, pause
// bookkeeping, halt and sleep flags, position update, then the win check
// before the timeout check; a tick in which both would trigger is a win.
func (t Tunables) Tick(s State, amplitude, dt float64, cfg LevelConfig) State {
	if s.Terminal() {
		return s
	}

	// Bad inputs degrade to "no movement this frame", never to a panic.
	if math.IsNaN(dt) || math.IsInf(dt, 0) || dt < 0 {
		dt = 0
	}
	if math.IsNaN(amplitude) || amplitude < 0 {
		amplitude = 0
	}
	s.LastAmplitude = amplitude

	silent := amplitude < t.AmplitudeThreshold
	if silent {
		s.SilenceTime += dt
	} else {
		s.SilenceTime = 0
		s.inPause = false
	}

	// A silence stretch inside (grace, maxPause] counts as one intentional
	// pause episode, detected when SilenceTime first crosses the grace
	// threshold upward.
	if cfg.AllowPauses && silent && s.SilenceTime > t.SilenceGrace && s.SilenceTime <= cfg.maxPause() {
		if !s.inPause {
			s.inPause = true
			s.PauseCount++
		}
		s.TotalPauseDuration += dt
	}

	s.Halted = s.SilenceTime > t.SilenceGrace
	s.SleepOverlay = s.SilenceTime >= t.SleepOverlayDelay

	if !s.Halted {
		s.Position = clamp(
			s.Position+t.Speed(amplitude, s.PathLength, s.TargetDuration)*dt,
			0, s.PathLength,
		)
	}

	s.Elapsed += dt

	if s.PathLength > 0 && s.Position >= s.PathLength {
		s.Won = true
		return s
	}
	if s.Elapsed >= s.TargetDuration*t.TimeoutMultiplier {
		s.TimedOut = true
	}
	return s
}
