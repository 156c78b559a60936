// Package trust converts behavioral samples into trust assessments by
// comparing each sample against the user's statistical profile. Scoring is
// pure in-memory computation with no side effects, so the same sample and
// profile always produce the same result.
package trust

import (
	"fmt"
	"math"
	"time"

	"github.com/shxrxn/nethra-trust/internal/baseline"
	"github.com/shxrxn/nethra-trust/internal/telemetry"
)

// Level buckets a score into an actionable band.
type Level string

const (
	LevelHigh     Level = "high"
	LevelMedium   Level = "medium"
	LevelLow      Level = "low"
	LevelCritical Level = "critical"
)

// Source records whether a result came from local scoring or a remote scorer.
type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
)

// Severity grades how far outside the profile an anomalous feature sits.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Anomaly describes one feature that exceeded its personal threshold.
type Anomaly struct {
	Feature   baseline.Feature `json:"feature"`
	Observed  float64          `json:"observed"`
	Deviation float64          `json:"deviation"`
	Threshold float64          `json:"threshold"`
	Severity  Severity         `json:"severity"`
	Message   string           `json:"message"`
}

// Result is one trust assessment.
type Result struct {
	Score           float64   `json:"score"`
	Level           Level     `json:"level"`
	Anomalies       []Anomaly `json:"anomalies,omitempty"`
	IsLearningPhase bool      `json:"is_learning_phase"`
	Confidence      float64   `json:"confidence"`
	Source          Source    `json:"source"`
	BaselineScore   float64   `json:"baseline_score"`
	EvaluatedAt     time.Time `json:"evaluated_at"`
}

const (
	baseScore = 85.0

	// Profiles past this many samples have earned a small score bonus.
	matureSampleCount = 100
	maturityBonus     = 5.0

	// Maximum penalty a learning-phase profile can recover, shrinking
	// linearly as learning progresses.
	leniencyMax = 10.0

	// Threshold used for the non-personalized comparison score, so every
	// user's parallel score is judged by the same yardstick.
	genericThreshold = 2.0
)

// featureWeights reflect how hard each feature is to imitate. Tap pressure
// and swipe velocity are the strongest identity signals, device tilt the
// weakest.
var featureWeights = map[baseline.Feature]float64{
	baseline.FeatureTapPressure:   20,
	baseline.FeatureTapDuration:   15,
	baseline.FeatureSwipeVelocity: 18,
	baseline.FeatureDeviceTilt:    12,
	baseline.FeatureTypingRhythm:  10,
}

// Engine scores samples against profiles.
type Engine struct{}

// NewEngine creates a scoring engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Score evaluates a sample against a user's profile.
//
// Each feature contributes a penalty only for the portion of its deviation
// beyond the personal threshold, so one borderline feature cannot crater the
// score. Learning-phase profiles recover part of the penalty since an
// immature baseline flags its own user as anomalous.
func (e *Engine) Score(sample telemetry.BehavioralSample, b *baseline.UserBaseline) *Result {
	values := baseline.FeatureValues(sample)

	var anomalies []Anomaly
	var penalty float64
	for _, f := range baseline.Features {
		stats := b.Features[f]
		d := stats.Deviation(values[f])
		if d <= stats.Threshold {
			continue
		}
		penalty += (d - stats.Threshold) * featureWeights[f]
		anomalies = append(anomalies, Anomaly{
			Feature:   f,
			Observed:  values[f],
			Deviation: round3(d),
			Threshold: stats.Threshold,
			Severity:  severityFor(d),
			Message:   fmt.Sprintf("%s deviates %.1f sigma from profile (threshold %.1f)", f, d, stats.Threshold),
		})
	}

	score := baseScore - penalty
	if b.SampleCount > matureSampleCount {
		score += maturityBonus
	}
	if b.IsLearning() {
		leniency := leniencyMax * (1 - b.Confidence())
		if leniency > penalty {
			leniency = penalty
		}
		score += leniency
	}

	return &Result{
		Score:           round3(clamp(score)),
		Level:           LevelFor(clamp(score)),
		Anomalies:       anomalies,
		IsLearningPhase: b.IsLearning(),
		Confidence:      b.Confidence(),
		Source:          SourceLocal,
		BaselineScore:   round3(e.baselineScore(values, b)),
		EvaluatedAt:     time.Now(),
	}
}

// baselineScore computes the parallel non-personalized score using a fixed
// threshold per feature. Comparing it with the personal score shows how much
// the adaptive thresholds are helping or hurting a given user.
func (e *Engine) baselineScore(values map[baseline.Feature]float64, b *baseline.UserBaseline) float64 {
	var penalty float64
	for _, f := range baseline.Features {
		d := b.Features[f].Deviation(values[f])
		if d > genericThreshold {
			penalty += (d - genericThreshold) * featureWeights[f]
		}
	}
	return clamp(baseScore - penalty)
}

// RiskFactors renders the anomalies as display strings.
func (r *Result) RiskFactors() []string {
	if len(r.Anomalies) == 0 {
		return nil
	}
	out := make([]string, len(r.Anomalies))
	for i, a := range r.Anomalies {
		out[i] = a.Message
	}
	return out
}

// LevelFor maps a score to its band.
func LevelFor(score float64) Level {
	switch {
	case score >= 80:
		return LevelHigh
	case score >= 60:
		return LevelMedium
	case score >= 40:
		return LevelLow
	default:
		return LevelCritical
	}
}

func severityFor(deviation float64) Severity {
	switch {
	case deviation > 3:
		return SeverityCritical
	case deviation > 2:
		return SeverityHigh
	case deviation > 1.5:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
