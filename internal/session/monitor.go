package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shxrxn/nethra-trust/internal/alerts"
	"github.com/shxrxn/nethra-trust/internal/baseline"
	"github.com/shxrxn/nethra-trust/internal/metrics"
	"github.com/shxrxn/nethra-trust/internal/remote"
	"github.com/shxrxn/nethra-trust/internal/scenario"
	"github.com/shxrxn/nethra-trust/internal/syncutil"
	"github.com/shxrxn/nethra-trust/internal/telemetry"
	"github.com/shxrxn/nethra-trust/internal/trust"
)

// ErrStopped is returned when a command reaches a session that has already
// shut down.
var ErrStopped = errors.New("session: monitoring stopped")

// Snapshot is the read-only projection of a session's monitoring state.
type Snapshot struct {
	SessionID               string       `json:"session_id"`
	UserID                  string       `json:"user_id"`
	State                   ThreatState  `json:"state"`
	TrustScore              float64      `json:"trust_score"`
	TrustLevel              trust.Level  `json:"trust_level"`
	RiskFactors             []string     `json:"risk_factors,omitempty"`
	IsMonitoring            bool         `json:"is_monitoring"`
	ShouldShowMirage        bool         `json:"should_show_mirage"`
	IsPersonalized          bool         `json:"is_personalized"`
	IsLearningPhase         bool         `json:"is_learning_phase"`
	Confidence              float64      `json:"confidence"`
	StandardTrustScore      float64      `json:"standard_trust_score"`
	PersonalizedTrustScore  float64      `json:"personalized_trust_score"`
	PersonalThreshold       float64      `json:"personal_threshold"`
	BelowPersonalThreshold  bool         `json:"is_below_threshold"`
	Source                  trust.Source `json:"source"`
	ConsecutiveSyncFailures int          `json:"consecutive_sync_failures"`
	CountdownDeadline       *time.Time   `json:"countdown_deadline,omitempty"`
	Scenario                string       `json:"scenario"`
	LastEvaluatedAt         time.Time    `json:"last_evaluated_at"`
}

type commandKind int

const (
	cmdChallengeCompleted commandKind = iota
	cmdSimulateThreat
	cmdResetTrust
)

type command struct {
	kind   commandKind
	driver scenario.Driver
	name   string
	reply  chan error
}

// MonitorConfig carries the timing knobs for one session loop.
type MonitorConfig struct {
	SyncInterval      time.Duration
	SlowSyncInterval  time.Duration
	HeartbeatInterval time.Duration
	Countdown         time.Duration
	SyncFailureLimit  int
}

// Monitor runs the scoring loop for one session. All mutable state is owned
// by the run goroutine; the published snapshot is the only thing readers
// touch, behind its own lock.
type Monitor struct {
	userID    string
	sessionID string
	cfg       MonitorConfig

	logger     *slog.Logger
	emitter    *alerts.Emitter
	store      baseline.Store
	controller *remote.Controller
	agg        *telemetry.Aggregator
	machine    *Machine
	userMu     *syncutil.ShardedMutex
	auth       Authenticator
	onUpdate   func(Snapshot)
	onTerminal func(sessionID string)

	driver     scenario.Driver
	baseline   *baseline.UserBaseline
	history    []float64
	belowLimit bool

	snapMu sync.RWMutex
	snap   Snapshot

	inbox  chan command
	stopCh chan struct{}
	doneCh chan struct{}
}

// Aggregator exposes the session's telemetry sink for event ingest.
func (m *Monitor) Aggregator() *telemetry.Aggregator { return m.agg }

// Snapshot returns the last published monitoring state.
func (m *Monitor) Snapshot() Snapshot {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return m.snap
}

// Stop shuts the loop down and waits for it. All pending timers are dead
// by the time Stop returns, so nothing can fire against the stopped
// session. Safe to call more than once.
func (m *Monitor) Stop() {
	select {
	case m.stopCh <- struct{}{}:
	case <-m.doneCh:
	}
	<-m.doneCh
}

// ChallengeCompleted delivers a passed cognitive challenge to the session.
func (m *Monitor) ChallengeCompleted() error {
	return m.send(command{kind: cmdChallengeCompleted})
}

// SimulateThreat forces the score to 25 and deploys the mirage. When a
// scenario driver is given, subsequent ticks score its hostile samples
// instead of real telemetry.
func (m *Monitor) SimulateThreat(driver scenario.Driver, name string) error {
	return m.send(command{kind: cmdSimulateThreat, driver: driver, name: name})
}

// ResetTrust restores the session to a clean slate: score 85, no
// anomalies, normal state, all pending timers cancelled.
func (m *Monitor) ResetTrust() error {
	return m.send(command{kind: cmdResetTrust})
}

func (m *Monitor) send(c command) error {
	c.reply = make(chan error, 1)
	select {
	case m.inbox <- c:
	case <-m.doneCh:
		return ErrStopped
	}
	select {
	case err := <-c.reply:
		return err
	case <-m.doneCh:
		return ErrStopped
	}
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.doneCh)

	syncTicker := time.NewTicker(m.cfg.SyncInterval)
	defer syncTicker.Stop()
	heartbeat := time.NewTicker(m.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	// The countdown channel is nil unless a lockout countdown is pending,
	// so the select below never sees a stale timer.
	var countdown *time.Timer
	var countdownC <-chan time.Time
	slowPolling := false

	armCountdown := func() {
		countdown = time.NewTimer(m.cfg.Countdown)
		countdownC = countdown.C
		deadline := time.Now().Add(m.cfg.Countdown)
		m.publish(func(s *Snapshot) { s.CountdownDeadline = &deadline })
		m.logger.Warn("critical countdown armed",
			"session_id", m.sessionID,
			"deadline", deadline,
		)
	}
	cancelCountdown := func() {
		if countdown != nil {
			countdown.Stop()
			countdown = nil
			countdownC = nil
			m.publish(func(s *Snapshot) { s.CountdownDeadline = nil })
			m.logger.Info("critical countdown cancelled", "session_id", m.sessionID)
		}
	}

	applyEffects := func(effects []Effect) (terminal bool) {
		for _, ef := range effects {
			switch ef.Kind {
			case EffectActivateMirage:
				metrics.MirageActivationsTotal.WithLabelValues(ef.Intensity).Inc()
				m.emitter.MirageActivated(m.userID, m.sessionID, ef.Score, ef.Intensity)
				m.logger.Warn("mirage activated",
					"session_id", m.sessionID,
					"score", ef.Score,
					"intensity", ef.Intensity,
				)
			case EffectArmCountdown:
				armCountdown()
			case EffectCancelCountdown:
				cancelCountdown()
			case EffectLockout:
				metrics.CriticalLockoutsTotal.Inc()
				score := m.Snapshot().TrustScore
				m.emitter.CriticalLogout(m.userID, m.sessionID, score)
				if m.auth != nil {
					if err := m.auth.ForceLogout(ctx, m.userID, m.sessionID); err != nil {
						m.logger.Error("forced logout failed",
							"session_id", m.sessionID,
							"error", err,
						)
					}
				}
				m.logger.Error("critical lockout, terminating session",
					"session_id", m.sessionID,
					"score", score,
				)
				terminal = true
			}
		}
		return terminal
	}

	for {
		select {
		case <-ctx.Done():
			m.teardown(cancelCountdown)
			return

		case <-m.stopCh:
			m.teardown(cancelCountdown)
			return

		case <-syncTicker.C:
			outcome := m.tick(ctx, applyEffects)
			switch {
			case outcome.RateLimited && !slowPolling:
				slowPolling = true
				syncTicker.Reset(m.cfg.SlowSyncInterval)
				m.logger.Info("slowing sync polling", "session_id", m.sessionID, "interval", m.cfg.SlowSyncInterval)
			case !outcome.RateLimited && slowPolling:
				slowPolling = false
				syncTicker.Reset(m.cfg.SyncInterval)
			}
			if m.machine.State() == StateCriticalLockout {
				m.terminate(cancelCountdown)
				return
			}

		case <-heartbeat.C:
			m.controller.Heartbeat(ctx, m.userID, m.sessionID)

		case <-countdownC:
			countdown = nil
			countdownC = nil
			m.publish(func(s *Snapshot) { s.CountdownDeadline = nil })
			if applyEffects(m.machine.CountdownExpired()) {
				m.terminate(cancelCountdown)
				return
			}

		case c := <-m.inbox:
			c.reply <- m.handleCommand(c, applyEffects, cancelCountdown)
		}
	}
}

// tick runs one scoring pass and returns the sync outcome so the loop can
// adjust its polling interval.
func (m *Monitor) tick(ctx context.Context, applyEffects func([]Effect) bool) remote.Outcome {
	sample := m.driver.Sample()

	// While the mirage is up the session is presumed compromised, so its
	// samples must not be folded into the profile. Otherwise a patient
	// attacker drags the baseline toward their own behavior tick by tick.
	b := m.baseline
	if m.machine.State() == StateNormal || m.machine.State() == StateDegraded {
		b = m.updateBaseline(ctx, sample)
	}

	result, outcome := m.controller.Evaluate(ctx, m.userID, m.sessionID, sample, b)
	metrics.ObserveScoringPass(string(result.Source), result.Score)

	m.history = append(m.history, result.Score)
	if len(m.history) > trust.ScoreHistoryCap {
		m.history = m.history[len(m.history)-trust.ScoreHistoryCap:]
	}
	threshold := trust.PersonalThreshold(m.history)

	// Edge-triggered threshold alert: fire on crossing, not every tick.
	below := result.Score < threshold
	if below && !m.belowLimit {
		m.emitter.ThresholdBreach(m.userID, m.sessionID, result.Score, threshold, result.RiskFactors())
	}
	m.belowLimit = below

	for _, a := range result.Anomalies {
		metrics.AnomaliesTotal.WithLabelValues(string(a.Feature), string(a.Severity)).Inc()
	}

	applyEffects(m.machine.Observe(result.Score, result.Level, outcome.MirageOverride))
	m.publishResult(result, outcome, threshold)
	return outcome
}

// updateBaseline folds the sample into the user's durable profile. The
// per-user lock serializes concurrent sessions of the same user, and the
// fresh read under the lock prevents lost updates between them. Storage
// failures degrade to the in-memory profile for this cycle, never fatal.
func (m *Monitor) updateBaseline(ctx context.Context, sample telemetry.BehavioralSample) *baseline.UserBaseline {
	unlock := m.userMu.Lock(m.userID)
	defer unlock()

	b, err := m.store.Get(ctx, m.userID)
	switch {
	case errors.Is(err, baseline.ErrNotFound):
		b = baseline.Default(m.userID)
	case err != nil:
		m.logger.Warn("baseline load failed, using in-memory profile",
			"user_id", m.userID, "error", err)
		b = m.baseline
	}

	b.Update(sample)
	if err := m.store.Save(ctx, b); err != nil {
		m.logger.Warn("baseline save failed", "user_id", m.userID, "error", err)
	}
	m.baseline = b
	return b
}

func (m *Monitor) handleCommand(c command, applyEffects func([]Effect) bool, cancelCountdown func()) error {
	switch c.kind {
	case cmdChallengeCompleted:
		if m.machine.State() != StateMirageActive {
			return errors.New("no active challenge for this session")
		}
		applyEffects(m.machine.ChallengeCompleted())
		m.emitter.ChallengePassed(m.userID, m.sessionID)
		m.publish(func(s *Snapshot) {
			s.State = m.machine.State()
			s.ShouldShowMirage = false
		})
		return nil

	case cmdSimulateThreat:
		if c.driver != nil {
			m.driver = c.driver
		}
		m.emitter.ThreatSimulation(m.userID, m.sessionID, c.name)
		// Force an immediate low score so the drill is visible without
		// waiting for hostile samples to accumulate.
		const forcedScore = 25.0
		applyEffects(m.machine.Observe(forcedScore, trust.LevelFor(forcedScore), false))
		m.publish(func(s *Snapshot) {
			s.TrustScore = forcedScore
			s.TrustLevel = trust.LevelFor(forcedScore)
			s.RiskFactors = []string{"threat simulation in progress"}
			s.State = m.machine.State()
			s.ShouldShowMirage = m.machine.State() == StateMirageActive
			s.Scenario = m.driver.Name()
		})
		return nil

	case cmdResetTrust:
		applyEffects(m.machine.Reset())
		cancelCountdown()
		m.driver = scenario.NewNormal(m.agg)
		m.agg.Reset()
		m.history = nil
		m.belowLimit = false
		m.publish(func(s *Snapshot) {
			*s = m.freshSnapshot()
		})
		m.logger.Info("trust reset", "session_id", m.sessionID)
		return nil
	}
	return errors.New("unknown command")
}

func (m *Monitor) teardown(cancelCountdown func()) {
	cancelCountdown()
	m.publish(func(s *Snapshot) { s.IsMonitoring = false })
	m.logger.Info("monitoring stopped", "session_id", m.sessionID)
}

// terminate ends monitoring from inside the loop after a lockout.
func (m *Monitor) terminate(cancelCountdown func()) {
	cancelCountdown()
	m.publish(func(s *Snapshot) { s.IsMonitoring = false })
	if m.onTerminal != nil {
		go m.onTerminal(m.sessionID)
	}
}

func (m *Monitor) publishResult(result *trust.Result, outcome remote.Outcome, threshold float64) {
	m.publish(func(s *Snapshot) {
		s.State = m.machine.State()
		s.TrustScore = result.Score
		s.TrustLevel = result.Level
		s.RiskFactors = result.RiskFactors()
		s.ShouldShowMirage = m.machine.State() == StateMirageActive
		s.IsPersonalized = !result.IsLearningPhase
		s.IsLearningPhase = result.IsLearningPhase
		s.Confidence = result.Confidence
		s.StandardTrustScore = result.BaselineScore
		s.PersonalizedTrustScore = result.Score
		s.PersonalThreshold = threshold
		s.BelowPersonalThreshold = m.belowLimit
		s.Source = result.Source
		s.ConsecutiveSyncFailures = outcome.Failures
		s.Scenario = m.driver.Name()
		s.LastEvaluatedAt = result.EvaluatedAt
	})
}

func (m *Monitor) publish(mutate func(*Snapshot)) {
	m.snapMu.Lock()
	mutate(&m.snap)
	s := m.snap
	m.snapMu.Unlock()
	if m.onUpdate != nil {
		m.onUpdate(s)
	}
}

func (m *Monitor) freshSnapshot() Snapshot {
	return Snapshot{
		SessionID:         m.sessionID,
		UserID:            m.userID,
		State:             StateNormal,
		TrustScore:        85,
		TrustLevel:        trust.LevelHigh,
		IsMonitoring:      true,
		PersonalThreshold: trust.DefaultDecisionThreshold,
		Source:            trust.SourceLocal,
		Scenario:          m.driver.Name(),
	}
}
