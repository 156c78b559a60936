package telemetry

import (
	"math"
	"sync"
	"time"
)

const (
	tapBufferCap    = 50
	swipeBufferCap  = 50
	motionBufferCap = 100
	keyBufferCap    = 50
	navBufferCap    = 50
)

type tapEvent struct {
	X, Y       float64
	Pressure   float64
	DurationMs float64
}

type swipeEvent struct {
	X0, Y0, X1, Y1 float64
	Velocity       float64
	DurationMs     float64
}

type motionEvent struct {
	TiltX, TiltY, TiltZ float64
}

// ring is a fixed-capacity buffer that evicts the oldest entry on overflow.
type ring[T any] struct {
	buf   []T
	head  int
	count int
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) push(v T) {
	r.buf[(r.head+r.count)%len(r.buf)] = v
	if r.count < len(r.buf) {
		r.count++
	} else {
		r.head = (r.head + 1) % len(r.buf)
	}
}

func (r *ring[T]) len() int { return r.count }

func (r *ring[T]) each(fn func(T)) {
	for i := 0; i < r.count; i++ {
		fn(r.buf[(r.head+i)%len(r.buf)])
	}
}

func (r *ring[T]) reset() {
	r.head = 0
	r.count = 0
}

// Aggregator accumulates raw interaction events for one session and reduces
// them into BehavioralSamples on demand. Recording never fails: full buffers
// evict the oldest entry. Safe for concurrent use.
type Aggregator struct {
	mu        sync.Mutex
	taps      *ring[tapEvent]
	swipes    *ring[swipeEvent]
	motion    *ring[motionEvent]
	keys      *ring[float64] // inter-key intervals, ms
	nav       *ring[string]  // visited screen names, in order
	startedAt time.Time
	now       func() time.Time
}

// NewAggregator creates an empty aggregator. The session clock starts now.
func NewAggregator() *Aggregator {
	a := &Aggregator{
		taps:   newRing[tapEvent](tapBufferCap),
		swipes: newRing[swipeEvent](swipeBufferCap),
		motion: newRing[motionEvent](motionBufferCap),
		keys:   newRing[float64](keyBufferCap),
		nav:    newRing[string](navBufferCap),
		now:    time.Now,
	}
	a.startedAt = a.now()
	return a
}

// RecordTap appends a tap event.
func (a *Aggregator) RecordTap(x, y, pressure, durationMs float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.taps.push(tapEvent{X: x, Y: y, Pressure: pressure, DurationMs: durationMs})
}

// RecordSwipe appends a swipe event.
func (a *Aggregator) RecordSwipe(x0, y0, x1, y1, velocity, durationMs float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.swipes.push(swipeEvent{X0: x0, Y0: y0, X1: x1, Y1: y1, Velocity: velocity, DurationMs: durationMs})
}

// RecordMotion appends a device tilt reading.
func (a *Aggregator) RecordMotion(tiltX, tiltY, tiltZ float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.motion.push(motionEvent{TiltX: tiltX, TiltY: tiltY, TiltZ: tiltZ})
}

// RecordKeystroke appends an inter-key interval in milliseconds.
func (a *Aggregator) RecordKeystroke(interKeyMs float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys.push(interKeyMs)
}

// RecordNavigation appends a screen visit.
func (a *Aggregator) RecordNavigation(screen string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nav.push(screen)
}

// Reset clears all buffers and restarts the session clock.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.taps.reset()
	a.swipes.reset()
	a.motion.reset()
	a.keys.reset()
	a.nav.reset()
	a.startedAt = a.now()
}

// Reduce computes a BehavioralSample from the current buffers. Empty
// buffers yield population defaults, never zeros. Always returns a value.
func (a *Aggregator) Reduce() BehavioralSample {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	s := BehavioralSample{
		SessionDurationSec:  uint32(math.Max(0, now.Sub(a.startedAt).Seconds())),
		TapCount:            uint32(a.taps.len()),
		SwipeCount:          uint32(a.swipes.len()),
		AvgTapPressure:      DefaultTapPressure,
		AvgTapDurationMs:    DefaultTapDurationMs,
		AvgSwipeVelocity:    DefaultSwipeVelocity,
		DeviceTiltVariation: DefaultTiltVariation,
		TypingRhythmMs:      DefaultTypingRhythmMs,
		NavigationFlowScore: DefaultNavFlowScore,
		Timestamp:           now,
	}

	if a.taps.len() > 0 {
		var pressure, duration float64
		a.taps.each(func(t tapEvent) {
			pressure += t.Pressure
			duration += t.DurationMs
		})
		n := float64(a.taps.len())
		s.AvgTapPressure = pressure / n
		s.AvgTapDurationMs = duration / n
	}

	if a.swipes.len() > 0 {
		var velocity, distance float64
		a.swipes.each(func(sw swipeEvent) {
			velocity += sw.Velocity
			distance += math.Hypot(sw.X1-sw.X0, sw.Y1-sw.Y0)
		})
		s.AvgSwipeVelocity = velocity / float64(a.swipes.len())
		s.TotalSwipeDistance = distance
	}

	if a.motion.len() >= 2 {
		s.DeviceTiltVariation = a.tiltVariation()
	}

	if a.keys.len() > 0 {
		var total float64
		a.keys.each(func(ms float64) { total += ms })
		s.TypingRhythmMs = total / float64(a.keys.len())
	}

	if a.nav.len() >= 2 {
		s.NavigationFlowScore = a.navFlowScore()
	}

	return s
}

// tiltVariation computes a distance-weighted variance of tilt magnitudes:
// readings that moved further from their predecessor contribute more, so a
// device held steady scores near zero even with sensor noise. Caller holds mu.
func (a *Aggregator) tiltVariation() float64 {
	mags := make([]float64, 0, a.motion.len())
	vecs := make([]motionEvent, 0, a.motion.len())
	a.motion.each(func(m motionEvent) {
		mags = append(mags, math.Sqrt(m.TiltX*m.TiltX+m.TiltY*m.TiltY+m.TiltZ*m.TiltZ))
		vecs = append(vecs, m)
	})

	var mean float64
	for _, m := range mags {
		mean += m
	}
	mean /= float64(len(mags))

	var weighted, totalWeight float64
	for i := 1; i < len(mags); i++ {
		dx := vecs[i].TiltX - vecs[i-1].TiltX
		dy := vecs[i].TiltY - vecs[i-1].TiltY
		dz := vecs[i].TiltZ - vecs[i-1].TiltZ
		w := math.Sqrt(dx*dx + dy*dy + dz*dz)
		d := mags[i] - mean
		weighted += w * d * d
		totalWeight += w
	}
	if totalWeight == 0 {
		return 0
	}
	return weighted / totalWeight
}

// navFlowScore measures how purposeful navigation looks. Ping-pong
// transitions (A→B→A) are the signature of someone searching an
// unfamiliar interface; each one drags the score toward zero.
// Caller holds mu.
func (a *Aggregator) navFlowScore() float64 {
	screens := make([]string, 0, a.nav.len())
	a.nav.each(func(s string) { screens = append(screens, s) })

	transitions := len(screens) - 1
	pingPong := 0
	for i := 2; i < len(screens); i++ {
		if screens[i] == screens[i-2] && screens[i] != screens[i-1] {
			pingPong++
		}
	}
	score := 1.0 - float64(pingPong)/float64(transitions)
	if score < 0 {
		score = 0
	}
	return score
}
