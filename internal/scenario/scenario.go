// Package scenario supplies the behavioral samples a session monitor scores
// on each tick. The normal driver reduces real telemetry; the simulated
// drivers substitute hostile behavior so threat handling can be exercised
// end to end without a real attacker.
package scenario

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/shxrxn/nethra-trust/internal/telemetry"
)

// Driver produces one behavioral sample per scoring tick.
type Driver interface {
	Name() string
	Sample() telemetry.BehavioralSample
}

// Normal reduces live telemetry from the session's aggregator.
type Normal struct {
	agg *telemetry.Aggregator
}

var _ Driver = (*Normal)(nil)

// NewNormal wraps an aggregator as the default driver.
func NewNormal(agg *telemetry.Aggregator) *Normal {
	return &Normal{agg: agg}
}

func (n *Normal) Name() string { return "normal" }

func (n *Normal) Sample() telemetry.BehavioralSample {
	return n.agg.Reduce()
}

// Intruder emits samples typical of a device takeover: feather-light taps,
// rushed swipes, an unsteady grip, and hunt-and-peck typing.
type Intruder struct {
	rng *rand.Rand
}

var _ Driver = (*Intruder)(nil)

// NewIntruder creates an intruder driver.
func NewIntruder() *Intruder {
	return &Intruder{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (d *Intruder) Name() string { return "intruder" }

func (d *Intruder) Sample() telemetry.BehavioralSample {
	return telemetry.BehavioralSample{
		TapCount:            uint32(5 + d.rng.Intn(10)),
		SwipeCount:          uint32(3 + d.rng.Intn(8)),
		AvgTapPressure:      0.05 + d.rng.Float64()*0.05,
		AvgTapDurationMs:    400 + d.rng.Float64()*200,
		AvgSwipeVelocity:    6.0 + d.rng.Float64()*3.0,
		TotalSwipeDistance:  800 + d.rng.Float64()*400,
		DeviceTiltVariation: 1.2 + d.rng.Float64()*0.6,
		TypingRhythmMs:      700 + d.rng.Float64()*300,
		NavigationFlowScore: d.rng.Float64() * 0.3,
		Timestamp:           time.Now(),
	}
}

// Erratic alternates between typical and hostile samples, the shape of a
// session where the device changes hands mid-use.
type Erratic struct {
	intruder *Intruder
	hostile  bool
}

var _ Driver = (*Erratic)(nil)

// NewErratic creates an erratic driver.
func NewErratic() *Erratic {
	return &Erratic{intruder: NewIntruder()}
}

func (d *Erratic) Name() string { return "erratic" }

func (d *Erratic) Sample() telemetry.BehavioralSample {
	d.hostile = !d.hostile
	if d.hostile {
		return d.intruder.Sample()
	}
	return telemetry.BehavioralSample{
		TapCount:            uint32(3 + d.intruder.rng.Intn(5)),
		AvgTapPressure:      telemetry.DefaultTapPressure,
		AvgTapDurationMs:    telemetry.DefaultTapDurationMs,
		AvgSwipeVelocity:    telemetry.DefaultSwipeVelocity,
		DeviceTiltVariation: telemetry.DefaultTiltVariation,
		TypingRhythmMs:      telemetry.DefaultTypingRhythmMs,
		NavigationFlowScore: telemetry.DefaultNavFlowScore,
		Timestamp:           time.Now(),
	}
}

// ForName returns the simulated driver with the given name.
func ForName(name string) (Driver, error) {
	switch name {
	case "intruder":
		return NewIntruder(), nil
	case "erratic":
		return NewErratic(), nil
	default:
		return nil, fmt.Errorf("unknown threat scenario %q", name)
	}
}
