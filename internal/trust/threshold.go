package trust

import "math"

const (
	// DefaultDecisionThreshold applies until enough score history exists
	// to personalize.
	DefaultDecisionThreshold = 40.0

	decisionThresholdFloor = 15.0
	decisionThresholdCeil  = 70.0
	minHistoryForThreshold = 5

	// ScoreHistoryCap bounds the rolling history a caller should keep.
	ScoreHistoryCap = 50
)

// PersonalThreshold derives a per-user decision threshold from recent score
// history. Users whose scores run steady earn a threshold close under their
// typical score; volatile users get a wider margin. The clamp keeps the
// threshold from going so low that a takeover passes or so high that the
// real user trips it constantly.
func PersonalThreshold(history []float64) float64 {
	if len(history) < minHistoryForThreshold {
		return DefaultDecisionThreshold
	}

	var sum float64
	for _, s := range history {
		sum += s
	}
	mean := sum / float64(len(history))

	var variance float64
	for _, s := range history {
		d := s - mean
		variance += d * d
	}
	stdDev := math.Sqrt(variance / float64(len(history)))

	t := mean - 1.5*stdDev
	if t < decisionThresholdFloor {
		t = decisionThresholdFloor
	}
	if t > decisionThresholdCeil {
		t = decisionThresholdCeil
	}
	return round3(t)
}
