package verify

import (
	"math"

	"github.com/oxidize-tools/oxidize/internal/oracle"
)

// Core-functionality defects weigh double when scoring a verification.
// The weighting is carried over from the original tuning.
const (
	coreCategory  = "core"
	coreWeight    = 2.0
	defaultWeight = 1.0
)

// Score summarizes the remaining defects of a verification as a signed
// number; higher is better. A perfect match scores +Inf. Scores only
// order iterations within one fix loop and are never persisted.
func Score(v *oracle.Verification) float64 {
	if v.Matches {
		return math.Inf(1)
	}
	score := 0.0
	for category, issues := range v.CriticalDifferences {
		weight := defaultWeight
		if category == coreCategory {
			weight = coreWeight
		}
		score -= weight * float64(len(issues))
	}
	return score
}
