package trust

import (
	"math"
	"testing"
	"time"

	"github.com/shxrxn/nethra-trust/internal/baseline"
	"github.com/shxrxn/nethra-trust/internal/telemetry"
)

func typicalSample() telemetry.BehavioralSample {
	return telemetry.BehavioralSample{
		AvgTapPressure:      telemetry.DefaultTapPressure,
		AvgTapDurationMs:    telemetry.DefaultTapDurationMs,
		AvgSwipeVelocity:    telemetry.DefaultSwipeVelocity,
		DeviceTiltVariation: telemetry.DefaultTiltVariation,
		TypingRhythmMs:      telemetry.DefaultTypingRhythmMs,
		Timestamp:           time.Now(),
	}
}

func establishedBaseline(t *testing.T) *baseline.UserBaseline {
	t.Helper()
	b := baseline.Default("user-1")
	for i := 0; i < baseline.LearningSampleTarget; i++ {
		b.Update(typicalSample())
	}
	return b
}

func intruderSample() telemetry.BehavioralSample {
	return telemetry.BehavioralSample{
		AvgTapPressure:      0.05,
		AvgTapDurationMs:    500,
		AvgSwipeVelocity:    8.0,
		DeviceTiltVariation: 1.5,
		TypingRhythmMs:      900,
		Timestamp:           time.Now(),
	}
}

func TestScoreTypicalUserIsHigh(t *testing.T) {
	e := NewEngine()
	r := e.Score(typicalSample(), establishedBaseline(t))

	if len(r.Anomalies) != 0 {
		t.Fatalf("typical sample produced anomalies: %+v", r.Anomalies)
	}
	if math.Abs(r.Score-85) > 0.001 {
		t.Errorf("Score = %v, want 85", r.Score)
	}
	if r.Level != LevelHigh {
		t.Errorf("Level = %s, want %s", r.Level, LevelHigh)
	}
	if r.IsLearningPhase {
		t.Error("established profile flagged as learning")
	}
	if r.Source != SourceLocal {
		t.Errorf("Source = %s, want %s", r.Source, SourceLocal)
	}
}

func TestScoreIntruderIsLow(t *testing.T) {
	e := NewEngine()
	r := e.Score(intruderSample(), establishedBaseline(t))

	if r.Score >= 40 {
		t.Errorf("intruder score = %v, want below 40", r.Score)
	}
	if r.Level != LevelCritical && r.Level != LevelLow {
		t.Errorf("Level = %s, want low or critical", r.Level)
	}
	if len(r.Anomalies) == 0 {
		t.Fatal("intruder sample produced no anomalies")
	}
	sawCritical := false
	for _, a := range r.Anomalies {
		if a.Severity == SeverityCritical {
			sawCritical = true
		}
	}
	if !sawCritical {
		t.Error("expected at least one critical-severity anomaly")
	}
}

func TestScoreAlwaysInRange(t *testing.T) {
	e := NewEngine()
	b := establishedBaseline(t)
	samples := []telemetry.BehavioralSample{
		typicalSample(),
		intruderSample(),
		{}, // all zeros
		{AvgTapPressure: 1e6, AvgTapDurationMs: 1e6, AvgSwipeVelocity: 1e6, DeviceTiltVariation: 1e6, TypingRhythmMs: 1e6},
	}
	for i, s := range samples {
		r := e.Score(s, b)
		if r.Score < 0 || r.Score > 100 {
			t.Errorf("sample %d: score %v outside [0, 100]", i, r.Score)
		}
		if r.BaselineScore < 0 || r.BaselineScore > 100 {
			t.Errorf("sample %d: baseline score %v outside [0, 100]", i, r.BaselineScore)
		}
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	e := NewEngine()
	b := establishedBaseline(t)
	s := intruderSample()

	first := e.Score(s, b)
	second := e.Score(s, b)
	if first.Score != second.Score {
		t.Errorf("same input scored %v then %v", first.Score, second.Score)
	}
	if len(first.Anomalies) != len(second.Anomalies) {
		t.Errorf("anomaly counts differ: %d vs %d", len(first.Anomalies), len(second.Anomalies))
	}
}

func TestBorderlineFeatureCannotCraterScore(t *testing.T) {
	e := NewEngine()
	b := establishedBaseline(t)

	// Nudge one feature just past its threshold.
	s := typicalSample()
	stats := b.Features[baseline.FeatureTapPressure]
	s.AvgTapPressure = stats.Mean + (stats.Threshold+0.1)*stats.StdDev

	r := e.Score(s, b)
	if len(r.Anomalies) != 1 {
		t.Fatalf("got %d anomalies, want 1", len(r.Anomalies))
	}
	if r.Score < 80 {
		t.Errorf("borderline anomaly dropped score to %v, want small penalty only", r.Score)
	}
}

func TestLearningLeniencyRecoversPenalty(t *testing.T) {
	e := NewEngine()

	fresh := baseline.Default("user-1")
	mature := establishedBaseline(t)

	// Same mildly-off sample scored against both profiles.
	s := typicalSample()
	s.AvgTapPressure = 0.65 + 2.5*0.15

	freshScore := e.Score(s, fresh).Score
	matureScore := e.Score(s, mature).Score
	if freshScore < matureScore {
		t.Errorf("learning score %v below established score %v for same deviation", freshScore, matureScore)
	}
	if freshScore > 85 {
		t.Errorf("leniency lifted score to %v, above the clean-sample score", freshScore)
	}
}

func TestPersonalizationFairness(t *testing.T) {
	e := NewEngine()

	steady := baseline.Default("steady")
	volatile := baseline.Default("volatile")
	for i := 0; i < baseline.LearningSampleTarget; i++ {
		steady.Update(typicalSample())
		s := typicalSample()
		// Same mean, wider spread.
		if i%2 == 0 {
			s.AvgTapPressure += 0.2
		} else {
			s.AvgTapPressure -= 0.2
		}
		volatile.Update(s)
	}

	st := steady.Features[baseline.FeatureTapPressure]
	vt := volatile.Features[baseline.FeatureTapPressure]
	if vt.Threshold < st.Threshold {
		t.Errorf("high-variance threshold %v below low-variance %v", vt.Threshold, st.Threshold)
	}

	// The same absolute deviation from the shared mean penalizes the
	// volatile user no harder than the steady one.
	s := typicalSample()
	s.AvgTapPressure = telemetry.DefaultTapPressure + 0.3
	steadyScore := e.Score(s, steady).Score
	volatileScore := e.Score(s, volatile).Score
	if volatileScore < steadyScore {
		t.Errorf("volatile user scored %v, steady %v for identical deviation", volatileScore, steadyScore)
	}
}

func TestMaturityBonus(t *testing.T) {
	e := NewEngine()
	b := establishedBaseline(t)
	for i := 0; i < 60; i++ {
		b.Update(typicalSample())
	}
	if b.SampleCount <= matureSampleCount {
		t.Fatalf("setup: SampleCount = %d", b.SampleCount)
	}

	r := e.Score(typicalSample(), b)
	if math.Abs(r.Score-90) > 0.001 {
		t.Errorf("mature profile score = %v, want 90", r.Score)
	}
}

func TestLevelFor(t *testing.T) {
	cases := []struct {
		score float64
		want  Level
	}{
		{100, LevelHigh},
		{80, LevelHigh},
		{79.9, LevelMedium},
		{60, LevelMedium},
		{59.9, LevelLow},
		{40, LevelLow},
		{39.9, LevelCritical},
		{0, LevelCritical},
	}
	for _, c := range cases {
		if got := LevelFor(c.score); got != c.want {
			t.Errorf("LevelFor(%v) = %s, want %s", c.score, got, c.want)
		}
	}
}

func TestSeverityBands(t *testing.T) {
	cases := []struct {
		deviation float64
		want      Severity
	}{
		{1.8, SeverityMedium},
		{2.5, SeverityHigh},
		{3.5, SeverityCritical},
	}
	for _, c := range cases {
		if got := severityFor(c.deviation); got != c.want {
			t.Errorf("severityFor(%v) = %s, want %s", c.deviation, got, c.want)
		}
	}
}

func TestPersonalThreshold(t *testing.T) {
	if got := PersonalThreshold(nil); got != DefaultDecisionThreshold {
		t.Errorf("empty history threshold = %v, want default %v", got, DefaultDecisionThreshold)
	}
	if got := PersonalThreshold([]float64{85, 84}); got != DefaultDecisionThreshold {
		t.Errorf("short history threshold = %v, want default %v", got, DefaultDecisionThreshold)
	}

	// Steady scores: mean 85, stddev 0 -> clamped to ceiling.
	steady := []float64{85, 85, 85, 85, 85}
	if got := PersonalThreshold(steady); got != decisionThresholdCeil {
		t.Errorf("steady threshold = %v, want ceiling %v", got, decisionThresholdCeil)
	}

	// Volatile scores pull the threshold below the mean.
	volatile := []float64{85, 45, 90, 40, 85, 50}
	got := PersonalThreshold(volatile)
	if got >= 65.833 {
		t.Errorf("volatile threshold = %v, want well below mean", got)
	}
	if got < decisionThresholdFloor {
		t.Errorf("threshold %v below floor %v", got, decisionThresholdFloor)
	}
}
