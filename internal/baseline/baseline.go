// Package baseline maintains per-user statistical profiles of behavioral
// features. Each profile tracks an exponential moving average and deviation
// for every feature, plus an adaptive anomaly threshold derived from how
// consistent the user's behavior has been.
package baseline

import (
	"math"
	"time"

	"github.com/shxrxn/nethra-trust/internal/telemetry"
)

// Feature identifies one tracked behavioral dimension.
type Feature string

const (
	FeatureTapPressure   Feature = "tap_pressure"
	FeatureTapDuration   Feature = "tap_duration"
	FeatureSwipeVelocity Feature = "swipe_velocity"
	FeatureDeviceTilt    Feature = "device_tilt"
	FeatureTypingRhythm  Feature = "typing_rhythm"
)

// Features lists all tracked features in a stable order.
var Features = []Feature{
	FeatureTapPressure,
	FeatureTapDuration,
	FeatureSwipeVelocity,
	FeatureDeviceTilt,
	FeatureTypingRhythm,
}

const (
	// LearningSampleTarget is the sample count at which a profile is
	// considered established. Crossing it is one-way.
	LearningSampleTarget = 50

	alphaLearning    = 0.2
	alphaEstablished = 0.1

	thresholdFloor = 1.5
	thresholdCeil  = 3.0
)

// thresholdScale converts a feature's standard deviation into a threshold
// adjustment. Scales are tuned so a user at the population-typical spread
// lands at a threshold of 2.0 sigmas.
var thresholdScale = map[Feature]float64{
	FeatureTapPressure:   0.5 / 0.15,
	FeatureTapDuration:   0.5 / 40.0,
	FeatureSwipeVelocity: 0.5 / 0.8,
	FeatureDeviceTilt:    0.5 / 0.12,
	FeatureTypingRhythm:  0.5 / 90.0,
}

// FeatureStats holds the running statistics for a single feature.
type FeatureStats struct {
	Mean      float64 `json:"mean"`
	StdDev    float64 `json:"std_dev"`
	Threshold float64 `json:"threshold"`
}

// DeviationCap bounds normalized deviations so a single wild reading
// saturates instead of dominating every downstream computation.
const DeviationCap = 5.0

// Deviation returns how many of this feature's standard deviations the
// observed value sits from the mean, clamped to [0, DeviationCap].
// A degenerate spread reads as zero deviation.
func (s FeatureStats) Deviation(value float64) float64 {
	if s.StdDev <= 0 {
		return 0
	}
	d := math.Abs(value-s.Mean) / s.StdDev
	if d > DeviationCap {
		d = DeviationCap
	}
	return d
}

// UserBaseline is one user's behavioral profile.
type UserBaseline struct {
	UserID      string                   `json:"user_id"`
	Features    map[Feature]FeatureStats `json:"features"`
	SampleCount int                      `json:"sample_count"`
	Established bool                     `json:"established"`
	UpdatedAt   time.Time                `json:"updated_at"`
}

// Default returns a fresh profile seeded from population statistics so that
// scoring has something sane to compare against before any samples arrive.
func Default(userID string) *UserBaseline {
	b := &UserBaseline{
		UserID:    userID,
		Features:  make(map[Feature]FeatureStats, len(Features)),
		UpdatedAt: time.Now(),
	}
	seed := map[Feature][2]float64{
		FeatureTapPressure:   {telemetry.DefaultTapPressure, 0.15},
		FeatureTapDuration:   {telemetry.DefaultTapDurationMs, 40.0},
		FeatureSwipeVelocity: {telemetry.DefaultSwipeVelocity, 0.8},
		FeatureDeviceTilt:    {telemetry.DefaultTiltVariation, 0.12},
		FeatureTypingRhythm:  {telemetry.DefaultTypingRhythmMs, 90.0},
	}
	for f, ms := range seed {
		b.Features[f] = FeatureStats{
			Mean:      ms[0],
			StdDev:    ms[1],
			Threshold: computeThreshold(f, ms[1]),
		}
	}
	return b
}

// IsLearning reports whether the profile is still in its learning phase.
func (b *UserBaseline) IsLearning() bool {
	return !b.Established
}

// Confidence reports how much the profile can be trusted, from 0 to 1.
func (b *UserBaseline) Confidence() float64 {
	c := float64(b.SampleCount) / LearningSampleTarget
	if c > 1 {
		c = 1
	}
	return c
}

// FeatureValues extracts the tracked feature values from a sample.
func FeatureValues(s telemetry.BehavioralSample) map[Feature]float64 {
	return map[Feature]float64{
		FeatureTapPressure:   s.AvgTapPressure,
		FeatureTapDuration:   s.AvgTapDurationMs,
		FeatureSwipeVelocity: s.AvgSwipeVelocity,
		FeatureDeviceTilt:    s.DeviceTiltVariation,
		FeatureTypingRhythm:  s.TypingRhythmMs,
	}
}

// Update folds one sample into the profile. Learning-phase samples move the
// averages faster; established profiles adapt slowly so a burst of unusual
// behavior cannot drag the baseline toward an attacker.
func (b *UserBaseline) Update(sample telemetry.BehavioralSample) {
	alpha := alphaEstablished
	if b.IsLearning() {
		alpha = alphaLearning
	}

	for f, value := range FeatureValues(sample) {
		stats := b.Features[f]
		stats.Mean = alpha*value + (1-alpha)*stats.Mean
		stats.StdDev = alpha*math.Abs(value-stats.Mean) + (1-alpha)*stats.StdDev
		stats.Threshold = computeThreshold(f, stats.StdDev)
		b.Features[f] = stats
	}

	b.SampleCount++
	if b.SampleCount >= LearningSampleTarget {
		b.Established = true
	}
	b.UpdatedAt = sample.Timestamp
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = time.Now()
	}
}

// computeThreshold maps a feature spread to an anomaly threshold in sigmas.
// Noisy users get more slack, consistent users a tighter band, clamped so a
// single-feature blip can never be treated as catastrophic or invisible.
func computeThreshold(f Feature, stdDev float64) float64 {
	t := thresholdFloor + stdDev*thresholdScale[f]
	if t < thresholdFloor {
		t = thresholdFloor
	}
	if t > thresholdCeil {
		t = thresholdCeil
	}
	return t
}
