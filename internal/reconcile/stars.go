// Package reconcile runs the post-game pipeline: an immediate optimistic
// star estimate, the retried upload to the analysis service, the final
// star and XP settlement, and the offline queue replay for uploads that
// never made it.
package reconcile

import (
	"math"

	"github.com/fluentkids/phonotrail/internal/analysis"
)

// OptimisticStars estimates the star rating from the completion percentage
// alone, before any analysis result is available. The estimate is
// deliberately conservative: a full run shows the effort floor and waits for
// the clinical judgment to upgrade, so the final result can only ever raise
// the display, never lower it.
func OptimisticStars(completionPct float64) int {
	if completionPct >= 100 {
		return analysis.StarsEffort
	}
	return 0
}

// penalizeXP applies the strict-phoneme multiplier to an XP award. The
// result never drops below zero and never rises above the input.
func penalizeXP(xp int, penalty float64) int {
	if penalty < 0 {
		penalty = 0
	}
	if penalty > 1 {
		penalty = 1
	}
	return int(math.Round(float64(xp) * penalty))
}
