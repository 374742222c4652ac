package server

import "github.com/fluentkids/phonotrail/internal/game"

// Control message types accepted from the client on text frames. Audio
// arrives on binary frames as raw 16-bit signed little-endian PCM and needs
// no envelope.
const (
	msgStart  = "start"
	msgPause  = "pause"
	msgResume = "resume"
	msgReset  = "reset"
)

// Message types pushed to the client.
const (
	msgLevel  = "level"
	msgState  = "state"
	msgResult = "result"
	msgFinal  = "final"
	msgError  = "error"
)

// clientMessage is the single control envelope read from text frames. Fields
// beyond Type are only meaningful for "start".
type clientMessage struct {
	Type string `json:"type"`

	// start payload.
	UserID     string  `json:"user_id,omitempty"`
	LevelID    string  `json:"level_id,omitempty"`
	Exercise   string  `json:"exercise,omitempty"`
	SampleRate int     `json:"sample_rate,omitempty"`
	PathLength float64 `json:"path_length,omitempty"`
}

// levelMessage acknowledges a start and tells the client what to render.
type levelMessage struct {
	Type           string  `json:"type"`
	ID             string  `json:"id"`
	Prompt         string  `json:"prompt"`
	Tier           int     `json:"tier"`
	TargetPhoneme  string  `json:"target_phoneme"`
	TargetDuration float64 `json:"target_duration"`
	AllowPauses    bool    `json:"allow_pauses"`
	PathLength     float64 `json:"path_length"`
}

// stateMessage is the per-tick snapshot pushed while an attempt is live.
type stateMessage struct {
	Type              string  `json:"type"`
	Position          float64 `json:"position"`
	CompletionPercent float64 `json:"completion_percentage"`
	Elapsed           float64 `json:"elapsed"`
	Amplitude         float64 `json:"amplitude"`
	Halted            bool    `json:"halted"`
	SleepOverlay      bool    `json:"sleep_overlay"`
	Won               bool    `json:"won,omitempty"`
	TimedOut          bool    `json:"timed_out,omitempty"`
}

// resultMessage is the optimistic outcome pushed the moment an attempt ends,
// before the analysis round trip.
type resultMessage struct {
	Type      string       `json:"type"`
	AttemptID string       `json:"attempt_id"`
	Stars     int          `json:"stars"`
	Won       bool         `json:"won"`
	Metrics   game.Metrics `json:"metrics"`
}

// finalMessage is the settled outcome pushed once reconciliation completes.
// When Queued is true the attempt went to the offline queue and the client
// keeps showing the optimistic stars.
type finalMessage struct {
	Type        string `json:"type"`
	AttemptID   string `json:"attempt_id"`
	Stars       int    `json:"stars"`
	XPEarned    int    `json:"xp_earned"`
	Feedback    string `json:"feedback"`
	TotalXP     int    `json:"total_xp"`
	CurrentTier int    `json:"current_tier"`
	NextLevelID string `json:"next_level_id,omitempty"`
	Queued      bool   `json:"queued"`
}

// errorMessage reports a protocol or lookup failure. The connection stays
// open unless the frame itself was malformed.
type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func stateMsg(st game.State) stateMessage {
	return stateMessage{
		Type:              msgState,
		Position:          st.Position,
		CompletionPercent: st.Completion(),
		Elapsed:           st.Elapsed,
		Amplitude:         st.LastAmplitude,
		Halted:            st.Halted,
		SleepOverlay:      st.SleepOverlay,
		Won:               st.Won,
		TimedOut:          st.TimedOut,
	}
}
