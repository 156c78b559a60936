// Package session owns per-session monitoring: the threat-response state
// machine, the timer-driven scoring loop, and the manager that tracks
// active sessions. Each session is driven by exactly one goroutine; all
// external events reach it as messages, never as shared flags.
package session

import (
	"time"

	"github.com/shxrxn/nethra-trust/internal/trust"
)

// ThreatState is the session's security posture.
type ThreatState string

const (
	StateNormal          ThreatState = "normal"
	StateDegraded        ThreatState = "degraded"
	StateMirageActive    ThreatState = "mirage_active"
	StateCriticalLockout ThreatState = "critical_lockout"
)

const (
	// mirageEntryScore is the score below which the deceptive interface
	// deploys.
	mirageEntryScore = 50.0

	// criticalScoreCeiling and criticalTickLimit define the sustained
	// near-zero condition that arms the lockout countdown.
	criticalScoreCeiling = 10.0
	criticalTickLimit    = 5

	// CountdownDuration is how long a session has to recover once the
	// lockout countdown is armed.
	CountdownDuration = 10 * time.Second
)

// EffectKind names a side effect the machine asks its owner to perform.
type EffectKind string

const (
	EffectActivateMirage  EffectKind = "activate_mirage"
	EffectArmCountdown    EffectKind = "arm_countdown"
	EffectCancelCountdown EffectKind = "cancel_countdown"
	EffectLockout         EffectKind = "lockout"
)

// Effect is one requested side effect.
type Effect struct {
	Kind      EffectKind
	Score     float64
	Intensity string
}

// Machine is the threat-response state machine. It is a total function of
// its inputs: transitions never fail, and every input in every state has a
// defined outcome. It performs no I/O; side effects are returned as Effect
// values for the owning monitor to execute.
type Machine struct {
	state          ThreatState
	criticalTicks  int
	countdownArmed bool
}

// NewMachine starts in the normal state.
func NewMachine() *Machine {
	return &Machine{state: StateNormal}
}

// State returns the current state.
func (m *Machine) State() ThreatState { return m.state }

// CountdownArmed reports whether a lockout countdown is pending.
func (m *Machine) CountdownArmed() bool { return m.countdownArmed }

// Observe consumes one trust result and returns the effects to execute.
// mirageOverride forces mirage entry regardless of score, used when the
// remote scorer directs it.
func (m *Machine) Observe(score float64, level trust.Level, mirageOverride bool) []Effect {
	if m.state == StateCriticalLockout {
		return nil
	}

	if score <= criticalScoreCeiling {
		m.criticalTicks++
	} else {
		m.criticalTicks = 0
	}

	var effects []Effect

	if score < mirageEntryScore || mirageOverride {
		// Idempotent entry: re-observing a low score while the mirage
		// is already up changes nothing.
		if m.state != StateMirageActive {
			m.state = StateMirageActive
			effects = append(effects, Effect{
				Kind:      EffectActivateMirage,
				Score:     score,
				Intensity: MirageIntensity(score),
			})
		}
	} else if m.state != StateMirageActive {
		// Recovery while the mirage is active requires an explicit
		// challenge completion, never score alone.
		effects = append(effects, m.transitionTo(targetFor(level))...)
	}

	if m.criticalTicks >= criticalTickLimit && !m.countdownArmed {
		m.countdownArmed = true
		effects = append(effects, Effect{Kind: EffectArmCountdown, Score: score})
	}

	return effects
}

// ChallengeCompleted dismisses the mirage after a passed cognitive
// challenge. A no-op in any other state.
func (m *Machine) ChallengeCompleted() []Effect {
	if m.state != StateMirageActive {
		return nil
	}
	m.criticalTicks = 0
	return m.transitionTo(StateNormal)
}

// CountdownExpired fires the pending lockout. If the countdown was
// cancelled before expiry this is a no-op, so a stale timer can never
// lock a recovered session.
func (m *Machine) CountdownExpired() []Effect {
	if !m.countdownArmed || m.state == StateCriticalLockout {
		return nil
	}
	m.countdownArmed = false
	m.state = StateCriticalLockout
	return []Effect{{Kind: EffectLockout}}
}

// Reset returns the machine to the normal state, cancelling any pending
// countdown. This is the only way out of critical lockout.
func (m *Machine) Reset() []Effect {
	m.criticalTicks = 0
	m.state = StateNormal
	if m.countdownArmed {
		m.countdownArmed = false
		return []Effect{{Kind: EffectCancelCountdown}}
	}
	return nil
}

func (m *Machine) transitionTo(target ThreatState) []Effect {
	var effects []Effect
	if m.countdownArmed && (target == StateNormal || target == StateDegraded) {
		m.countdownArmed = false
		effects = append(effects, Effect{Kind: EffectCancelCountdown})
	}
	m.state = target
	return effects
}

func targetFor(level trust.Level) ThreatState {
	if level == trust.LevelHigh {
		return StateNormal
	}
	return StateDegraded
}

// MirageIntensity grades how aggressive the deceptive interface should be
// for a given score.
func MirageIntensity(score float64) string {
	switch {
	case score < 20:
		return "high"
	case score < 35:
		return "moderate"
	default:
		return "low"
	}
}
