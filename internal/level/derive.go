// Package level derives playable levels from content items and implements
// the adaptive progression policy: XP rewards, tier-unlock thresholds, and
// next-level selection after a completed attempt.
package level

import (
	"fmt"
	"math"

	"github.com/fluentkids/phonotrail/internal/content"
	"github.com/fluentkids/phonotrail/internal/game"
)

// Phonation targets by content type, in seconds.
const (
	wordDuration     = 2
	phraseDuration   = 4
	sentenceDuration = 6
)

// Base XP by content type and reward multiplier per tier above the first.
const (
	wordBaseXP     = 10
	phraseBaseXP   = 15
	sentenceBaseXP = 20

	tierXPStep = 0.25
)

// Level is a playable level computed 1:1 from a content item. Derivation is
// deterministic and pure: the same item always yields the same level.
type Level struct {
	ID            string
	Tier          int
	Type          content.Type
	TargetPhoneme string
	PhonemeCode   string

	// TargetDuration is the phonation target in seconds: 2 for words, 4 for
	// phrases, 6 for sentences.
	TargetDuration float64

	// AllowPauses is true from tier 2 up; first-tier sustained sounds are
	// practised as one unbroken phonation.
	AllowPauses      bool
	MaxPauseDuration float64

	// XPReward is the base reward before star/completion bonuses.
	XPReward int

	// Prompt is the text shown to the child.
	Prompt string
}

// Config returns the state-machine contract for this level.
func (l Level) Config() game.LevelConfig {
	return game.LevelConfig{
		TargetDuration:   l.TargetDuration,
		AllowPauses:      l.AllowPauses,
		MaxPauseDuration: l.MaxPauseDuration,
	}
}

// Derive computes the playable level for a content item.
func Derive(item content.Item) (Level, error) {
	if !item.Type.IsValid() {
		return Level{}, fmt.Errorf("level: item %q has unknown type %q", item.ID, item.Type)
	}
	if item.Tier < content.MinTier || item.Tier > content.MaxTier {
		return Level{}, fmt.Errorf("level: item %q has tier %d outside [%d, %d]",
			item.ID, item.Tier, content.MinTier, content.MaxTier)
	}

	var duration float64
	var baseXP float64
	switch item.Type {
	case content.TypeWord:
		duration, baseXP = wordDuration, wordBaseXP
	case content.TypePhrase:
		duration, baseXP = phraseDuration, phraseBaseXP
	case content.TypeSentence:
		duration, baseXP = sentenceDuration, sentenceBaseXP
	}

	tierMult := 1.0 + float64(item.Tier-1)*tierXPStep
	return Level{
		ID:               item.ID,
		Tier:             item.Tier,
		Type:             item.Type,
		TargetPhoneme:    item.Phoneme,
		PhonemeCode:      item.PhonemeCode,
		TargetDuration:   duration,
		AllowPauses:      item.Tier > 1,
		MaxPauseDuration: game.DefaultMaxPauseDuration,
		XPReward:         int(math.Round(baseXP * tierMult)),
		Prompt:           item.Text,
	}, nil
}
