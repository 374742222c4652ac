package level

import "math"

// tierThresholds maps each tier to the total XP required to unlock it.
var tierThresholds = map[int]int{
	1: 0,
	2: 80,
	3: 180,
}

// TierThreshold returns the XP required to unlock a tier. Unknown tiers
// report an unreachable threshold.
func TierThreshold(tier int) int {
	if t, ok := tierThresholds[tier]; ok {
		return t
	}
	return math.MaxInt
}

// TierForXP returns the highest tier whose threshold is met by totalXP.
func TierForXP(totalXP int) int {
	tier := 1
	for t, threshold := range tierThresholds {
		if totalXP >= threshold && t > tier {
			tier = t
		}
	}
	return tier
}

// UnlockedTiers returns every tier whose threshold is met, ascending.
func UnlockedTiers(totalXP int) []int {
	var tiers []int
	for t := 1; t <= len(tierThresholds); t++ {
		if totalXP >= tierThresholds[t] {
			tiers = append(tiers, t)
		}
	}
	return tiers
}

// XPReward scales a level's base reward by the attempt outcome. The
// multiplier starts at 1.0, gains 0.5 for a three-star result (0.25 for
// two stars) and a further 0.1 for full completion. A one-star partial
// attempt earns exactly the base reward; a completed attempt is never
// rewarded below base.
func XPReward(baseXP, stars int, completionPct float64) int {
	mult := 1.0
	switch stars {
	case 3:
		mult += 0.5
	case 2:
		mult += 0.25
	}
	if completionPct >= 100 {
		mult += 0.1
	}
	return int(math.Round(float64(baseXP) * mult))
}
