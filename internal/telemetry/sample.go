// Package telemetry buffers raw interaction events from the mobile client
// and reduces them into fixed-shape behavioral samples for scoring.
package telemetry

import "time"

// BehavioralSample is one reduced observation over the current sampling
// window. Immutable once produced; consumed by value.
type BehavioralSample struct {
	SessionDurationSec  uint32    `json:"session_duration_sec"`
	TapCount            uint32    `json:"tap_count"`
	AvgTapPressure      float64   `json:"avg_tap_pressure"`
	AvgTapDurationMs    float64   `json:"avg_tap_duration_ms"`
	SwipeCount          uint32    `json:"swipe_count"`
	AvgSwipeVelocity    float64   `json:"avg_swipe_velocity"`
	TotalSwipeDistance  float64   `json:"total_swipe_distance"`
	DeviceTiltVariation float64   `json:"device_tilt_variation"`
	TypingRhythmMs      float64   `json:"typing_rhythm_ms"`
	NavigationFlowScore float64   `json:"navigation_flow_score"`
	Timestamp           time.Time `json:"timestamp"`
}

// Population mid-range defaults, returned when a buffer is empty so a
// session with no interaction yet still yields a plausible sample rather
// than a degenerate all-zero one that would read as a massive anomaly.
const (
	DefaultTapPressure    = 0.65
	DefaultTapDurationMs  = 120.0
	DefaultSwipeVelocity  = 2.1
	DefaultTiltVariation  = 0.3
	DefaultTypingRhythmMs = 280.0
	DefaultNavFlowScore   = 0.8
)
