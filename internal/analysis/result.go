// Package analysis talks to the remote speech-analysis service: it uploads
// a finished attempt's recording with the game metrics and normalizes the
// exercise-specific response shapes into one unified result.
package analysis

import "encoding/json"

// Star values of the raw clinical judgment. The judgment is binary: a clean
// attempt is worth [StarsPass], anything else [StarsEffort]. The two-star
// middle ground only appears after client-side reconciliation, never here.
const (
	StarsEffort = 1
	StarsPass   = 3
)

// Exercise identifies a mini-game and selects the analysis endpoint.
type Exercise string

const (
	ExerciseSnake   Exercise = "snake"   // sustained prolongation
	ExerciseTurtle  Exercise = "turtle"  // slow speech
	ExerciseBalloon Exercise = "balloon" // easy onset
	ExerciseOneTap  Exercise = "onetap"  // single-word fluency
)

// IsValid reports whether e is a recognised exercise.
func (e Exercise) IsValid() bool {
	switch e {
	case ExerciseSnake, ExerciseTurtle, ExerciseBalloon, ExerciseOneTap:
		return true
	}
	return false
}

// Result is the unified analysis outcome. Optional response fields surface
// as pointers so "absent" stays distinguishable from "false"/zero.
type Result struct {
	// GamePass is the service's judgment of the game criterion (sustained
	// amplitude for snake, slow WPM for turtle, ...).
	GamePass bool

	// ClinicalPass is the speech-pathology judgment, independent of the
	// game criterion.
	ClinicalPass bool

	// Stars is the binary star outcome derived from the two passes.
	Stars int

	// Confidence is the classifier's stutter score in [0, 1].
	Confidence float64

	// Feedback is the service's encouragement string; may be empty.
	Feedback string

	// RepetitionDetected is true when the classifier heard a repetition.
	RepetitionDetected bool

	// PhonemeMatch, when present, reports whether the spoken phoneme matched
	// the prompt.
	PhonemeMatch *bool

	// SmoothnessScore, when present, scores prolongation smoothness.
	SmoothnessScore *float64

	// Metrics carries every numeric field the service returned, keyed by
	// its wire name (duration_sec, wpm, amplitude_onset, ...).
	Metrics map[string]float64
}

// rawResponse is the superset of all exercise endpoint response shapes.
// Every field is optional: normalization must tolerate absence.
type rawResponse struct {
	GamePass           *bool    `json:"game_pass"`
	ClinicalPass       *bool    `json:"clinical_pass"`
	Confidence         *float64 `json:"confidence"`
	Feedback           string   `json:"feedback"`
	RepetitionDetected *bool    `json:"repetition_detected"`
	PhonemeMatch       *bool    `json:"phoneme_match"`
	SmoothnessScore    *float64 `json:"smoothness_score"`

	// Exercise-specific numeric fields.
	DurationSec        *float64 `json:"duration_sec"`
	AmplitudeSustained *bool    `json:"amplitude_sustained"`
	WPM                *float64 `json:"wpm"`
	AmplitudeOnset     *float64 `json:"amplitude_onset"`
	BreathDetected     *bool    `json:"breath_detected"`
	HardAttackDetected *bool    `json:"hard_attack_detected"`
	BlockDetected      *bool    `json:"block_detected"`
	StutterDetected    *bool    `json:"stutter_detected"`
	RepetitionProb     *float64 `json:"repetition_prob"`
}

// normalize decodes an analysis response body into a [Result].
func normalize(body []byte) (Result, error) {
	var raw rawResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return Result{}, err
	}

	res := Result{
		GamePass:           boolOr(raw.GamePass, false),
		ClinicalPass:       boolOr(raw.ClinicalPass, false),
		Feedback:           raw.Feedback,
		RepetitionDetected: boolOr(raw.RepetitionDetected, false),
		PhonemeMatch:       raw.PhonemeMatch,
		SmoothnessScore:    raw.SmoothnessScore,
		Metrics:            map[string]float64{},
	}
	if raw.Confidence != nil {
		res.Confidence = *raw.Confidence
	}

	// One-tap has no game criterion: the clinical judgment stands alone.
	if raw.GamePass == nil && raw.ClinicalPass != nil {
		res.GamePass = *raw.ClinicalPass
	}

	if res.GamePass && res.ClinicalPass {
		res.Stars = StarsPass
	} else {
		res.Stars = StarsEffort
	}

	for name, v := range map[string]*float64{
		"duration_sec":     raw.DurationSec,
		"wpm":              raw.WPM,
		"amplitude_onset":  raw.AmplitudeOnset,
		"repetition_prob":  raw.RepetitionProb,
		"smoothness_score": raw.SmoothnessScore,
	} {
		if v != nil {
			res.Metrics[name] = *v
		}
	}
	for name, v := range map[string]*bool{
		"amplitude_sustained":  raw.AmplitudeSustained,
		"breath_detected":      raw.BreathDetected,
		"hard_attack_detected": raw.HardAttackDetected,
		"block_detected":       raw.BlockDetected,
		"stutter_detected":     raw.StutterDetected,
		"phoneme_match":        raw.PhonemeMatch,
	} {
		if v != nil {
			res.Metrics[name] = boolMetric(*v)
		}
	}

	return res, nil
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func boolMetric(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
