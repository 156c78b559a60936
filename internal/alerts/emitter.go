package alerts

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var alertEmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "nethra",
	Subsystem: "alerts",
	Name:      "emit_total",
	Help:      "Total security events emitted by event type.",
}, []string{"event_type"})

func init() {
	prometheus.MustRegister(alertEmitTotal)
}

// Emitter fans security events out to the configured sinks. Safe to use
// with a nil receiver; every method becomes a no-op.
type Emitter struct {
	sinks []Sink
}

// NewEmitter creates an emitter over the given sinks.
func NewEmitter(sinks ...Sink) *Emitter {
	return &Emitter{sinks: sinks}
}

func (e *Emitter) emit(ev *Event) {
	if e == nil {
		return
	}
	alertEmitTotal.WithLabelValues(string(ev.Type)).Inc()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, s := range e.sinks {
		s.Emit(ctx, ev)
	}
}

// MirageActivated reports that a session entered the deceptive interface.
func (e *Emitter) MirageActivated(userID, sessionID string, score float64, intensity string) {
	e.emit(newEvent(EventMirageActivated, userID, sessionID, map[string]any{
		"score":     score,
		"intensity": intensity,
	}))
}

// CriticalLogout reports a forced session termination.
func (e *Emitter) CriticalLogout(userID, sessionID string, score float64) {
	e.emit(newEvent(EventCriticalLogout, userID, sessionID, map[string]any{
		"score": score,
	}))
}

// ThresholdBreach reports a score crossing below the user's decision threshold.
func (e *Emitter) ThresholdBreach(userID, sessionID string, score, threshold float64, riskFactors []string) {
	e.emit(newEvent(EventThresholdBreach, userID, sessionID, map[string]any{
		"score":        score,
		"threshold":    threshold,
		"risk_factors": riskFactors,
	}))
}

// SyncFallback reports that scoring degraded to the local engine.
func (e *Emitter) SyncFallback(userID, sessionID string, failures int) {
	e.emit(newEvent(EventSyncFallback, userID, sessionID, map[string]any{
		"consecutive_failures": failures,
	}))
}

// SessionStarted reports that monitoring began.
func (e *Emitter) SessionStarted(userID, sessionID string) {
	e.emit(newEvent(EventSessionStarted, userID, sessionID, nil))
}

// SessionStopped reports that monitoring ended.
func (e *Emitter) SessionStopped(userID, sessionID string) {
	e.emit(newEvent(EventSessionStopped, userID, sessionID, nil))
}

// ChallengePassed reports a completed cognitive challenge.
func (e *Emitter) ChallengePassed(userID, sessionID string) {
	e.emit(newEvent(EventChallengePassed, userID, sessionID, nil))
}

// ThreatSimulation reports a simulated threat drill.
func (e *Emitter) ThreatSimulation(userID, sessionID, scenarioName string) {
	e.emit(newEvent(EventThreatSimulation, userID, sessionID, map[string]any{
		"scenario": scenarioName,
	}))
}
