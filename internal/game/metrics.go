package game

import "math"

// Metrics is the immutable snapshot of a finished attempt, handed to the
// analysis pipeline and shown to the presentation layer.
type Metrics struct {
	// DurationAchieved is the phonation time credited to the attempt, in
	// seconds, clamped to TargetDuration so frame granularity overshoot
	// never reports more than the target.
	DurationAchieved float64 `json:"duration_achieved"`

	// TargetDuration is the level's phonation target in seconds.
	TargetDuration float64 `json:"target_duration"`

	// CompletionPercent is path progress in [0, 100].
	CompletionPercent float64 `json:"completion_percentage"`

	// PauseCount is the number of intentional pause episodes.
	PauseCount int `json:"pause_count"`

	// TotalPauseDuration is the summed pause time in seconds.
	TotalPauseDuration float64 `json:"total_pause_duration"`
}

// Snapshot produces the attempt metrics for a state, terminal or not.
func (s State) Snapshot() Metrics {
	return Metrics{
		DurationAchieved:   math.Min(s.Elapsed, s.TargetDuration),
		TargetDuration:     s.TargetDuration,
		CompletionPercent:  s.Completion(),
		PauseCount:         s.PauseCount,
		TotalPauseDuration: s.TotalPauseDuration,
	}
}
