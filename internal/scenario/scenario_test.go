package scenario

import (
	"testing"

	"github.com/shxrxn/nethra-trust/internal/baseline"
	"github.com/shxrxn/nethra-trust/internal/telemetry"
	"github.com/shxrxn/nethra-trust/internal/trust"
)

func TestNormalDelegatesToAggregator(t *testing.T) {
	agg := telemetry.NewAggregator()
	agg.RecordTap(10, 10, 0.5, 100)
	d := NewNormal(agg)

	if d.Name() != "normal" {
		t.Errorf("Name = %q, want normal", d.Name())
	}
	s := d.Sample()
	if s.TapCount != 1 {
		t.Errorf("TapCount = %d, want 1", s.TapCount)
	}
}

func TestIntruderScoresCritically(t *testing.T) {
	b := baseline.Default("user-1")
	for i := 0; i < baseline.LearningSampleTarget; i++ {
		b.Update(telemetry.BehavioralSample{
			AvgTapPressure:      telemetry.DefaultTapPressure,
			AvgTapDurationMs:    telemetry.DefaultTapDurationMs,
			AvgSwipeVelocity:    telemetry.DefaultSwipeVelocity,
			DeviceTiltVariation: telemetry.DefaultTiltVariation,
			TypingRhythmMs:      telemetry.DefaultTypingRhythmMs,
		})
	}

	e := trust.NewEngine()
	d := NewIntruder()
	for i := 0; i < 5; i++ {
		r := e.Score(d.Sample(), b)
		if r.Score >= 40 {
			t.Errorf("intruder sample %d scored %v, want below 40", i, r.Score)
		}
	}
}

func TestErraticAlternates(t *testing.T) {
	d := NewErratic()
	first := d.Sample()
	second := d.Sample()
	if first.AvgTapPressure >= 0.2 {
		t.Errorf("first erratic sample pressure %v, want hostile", first.AvgTapPressure)
	}
	if second.AvgTapPressure != telemetry.DefaultTapPressure {
		t.Errorf("second erratic sample pressure %v, want typical", second.AvgTapPressure)
	}
}

func TestForName(t *testing.T) {
	for _, name := range []string{"intruder", "erratic"} {
		d, err := ForName(name)
		if err != nil {
			t.Fatalf("ForName(%q): %v", name, err)
		}
		if d.Name() != name {
			t.Errorf("Name = %q, want %q", d.Name(), name)
		}
	}
	if _, err := ForName("ghost"); err == nil {
		t.Error("ForName(ghost) should fail")
	}
}
