package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shxrxn/nethra-trust/internal/alerts"
	"github.com/shxrxn/nethra-trust/internal/baseline"
	"github.com/shxrxn/nethra-trust/internal/circuitbreaker"
	"github.com/shxrxn/nethra-trust/internal/idgen"
	"github.com/shxrxn/nethra-trust/internal/metrics"
	"github.com/shxrxn/nethra-trust/internal/remote"
	"github.com/shxrxn/nethra-trust/internal/scenario"
	"github.com/shxrxn/nethra-trust/internal/syncutil"
	"github.com/shxrxn/nethra-trust/internal/telemetry"
	"github.com/shxrxn/nethra-trust/internal/trust"
)

// ErrNotFound is returned for unknown session IDs.
var ErrNotFound = errors.New("session: not found")

// DefaultMonitorConfig returns production timing defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		SyncInterval:      5 * time.Second,
		SlowSyncInterval:  15 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		Countdown:         CountdownDuration,
		SyncFailureLimit:  3,
	}
}

// Authenticator is the banking app's auth collaborator. ForceLogout must
// invalidate the session's credentials; it is called when a critical
// lockout fires, before the session is torn down.
type Authenticator interface {
	ForceLogout(ctx context.Context, userID, sessionID string) error
}

// Manager owns all active monitoring sessions.
type Manager struct {
	logger  *slog.Logger
	emitter *alerts.Emitter
	store   baseline.Store
	engine  *trust.Engine
	client  *remote.Client
	breaker *circuitbreaker.Breaker
	auth    Authenticator
	cfg     MonitorConfig
	userMu  *syncutil.ShardedMutex

	onUpdate func(Snapshot)

	mu       sync.RWMutex
	sessions map[string]*Monitor
}

// Option configures the Manager.
type Option func(*Manager)

// WithRemote wires the remote scorer and its circuit breaker.
func WithRemote(client *remote.Client, breaker *circuitbreaker.Breaker) Option {
	return func(m *Manager) {
		m.client = client
		m.breaker = breaker
	}
}

// WithEmitter sets the alert emitter.
func WithEmitter(e *alerts.Emitter) Option {
	return func(m *Manager) { m.emitter = e }
}

// WithAuthenticator wires the auth system that terminates credentials on
// a critical lockout.
func WithAuthenticator(a Authenticator) Option {
	return func(m *Manager) { m.auth = a }
}

// WithMonitorConfig overrides the timing defaults.
func WithMonitorConfig(cfg MonitorConfig) Option {
	return func(m *Manager) { m.cfg = cfg }
}

// WithUpdateHook registers a callback invoked on every published snapshot.
// Used to fan state changes out to websocket clients.
func WithUpdateHook(fn func(Snapshot)) Option {
	return func(m *Manager) { m.onUpdate = fn }
}

// NewManager creates a session manager.
func NewManager(store baseline.Store, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		logger:   logger,
		store:    store,
		engine:   trust.NewEngine(),
		cfg:      DefaultMonitorConfig(),
		userMu:   &syncutil.ShardedMutex{},
		sessions: make(map[string]*Monitor),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins monitoring a user and returns the initial snapshot.
func (mgr *Manager) Start(ctx context.Context, userID string) (Snapshot, error) {
	if userID == "" {
		return Snapshot{}, errors.New("user id is required")
	}

	agg := telemetry.NewAggregator()
	m := &Monitor{
		userID:     userID,
		sessionID:  idgen.WithPrefix("sess_"),
		cfg:        mgr.cfg,
		logger:     mgr.logger,
		emitter:    mgr.emitter,
		store:      mgr.store,
		controller: remote.NewController(mgr.client, mgr.engine, mgr.breaker, mgr.cfg.SyncFailureLimit, mgr.logger),
		agg:        agg,
		machine:    NewMachine(),
		userMu:     mgr.userMu,
		auth:       mgr.auth,
		onUpdate:   mgr.onUpdate,
		onTerminal: mgr.remove,
		driver:     scenario.NewNormal(agg),
		baseline:   baseline.Default(userID),
		inbox:      make(chan command),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	m.snap = m.freshSnapshot()

	mgr.mu.Lock()
	mgr.sessions[m.sessionID] = m
	mgr.mu.Unlock()

	// The loop outlives the request that started it; keep the caller's
	// values (request ID, trace) but not its cancellation.
	go m.run(context.WithoutCancel(ctx))

	metrics.ActiveSessions.Inc()
	mgr.emitter.SessionStarted(userID, m.sessionID)
	mgr.logger.Info("monitoring started", "user_id", userID, "session_id", m.sessionID)

	snap := m.Snapshot()
	if mgr.onUpdate != nil {
		mgr.onUpdate(snap)
	}
	return snap, nil
}

// Stop ends monitoring for a session. All of the session's timers are dead
// by the time Stop returns.
func (mgr *Manager) Stop(sessionID string) error {
	m, err := mgr.get(sessionID)
	if err != nil {
		return err
	}
	m.Stop()
	mgr.remove(sessionID)
	return nil
}

// remove drops a session from the registry. Idempotent: the lockout path
// and an explicit Stop can both reach it.
func (mgr *Manager) remove(sessionID string) {
	mgr.mu.Lock()
	m, ok := mgr.sessions[sessionID]
	if ok {
		delete(mgr.sessions, sessionID)
	}
	mgr.mu.Unlock()
	if !ok {
		return
	}
	metrics.ActiveSessions.Dec()
	mgr.emitter.SessionStopped(m.userID, sessionID)
}

// Snapshot returns the current monitoring state of a session.
func (mgr *Manager) Snapshot(sessionID string) (Snapshot, error) {
	m, err := mgr.get(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	return m.Snapshot(), nil
}

// Aggregator returns a session's telemetry sink.
func (mgr *Manager) Aggregator(sessionID string) (*telemetry.Aggregator, error) {
	m, err := mgr.get(sessionID)
	if err != nil {
		return nil, err
	}
	return m.Aggregator(), nil
}

// ChallengeCompleted delivers a passed cognitive challenge.
func (mgr *Manager) ChallengeCompleted(sessionID string) error {
	m, err := mgr.get(sessionID)
	if err != nil {
		return err
	}
	return m.ChallengeCompleted()
}

// SimulateThreat starts a threat drill. An empty scenario name forces a
// one-shot low score without changing the sample source.
func (mgr *Manager) SimulateThreat(sessionID, scenarioName string) error {
	m, err := mgr.get(sessionID)
	if err != nil {
		return err
	}
	var driver scenario.Driver
	if scenarioName != "" {
		driver, err = scenario.ForName(scenarioName)
		if err != nil {
			return err
		}
	}
	return m.SimulateThreat(driver, scenarioName)
}

// ResetTrust restores a session to a clean state.
func (mgr *Manager) ResetTrust(sessionID string) error {
	m, err := mgr.get(sessionID)
	if err != nil {
		return err
	}
	return m.ResetTrust()
}

// Count returns the number of active sessions.
func (mgr *Manager) Count() int {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	return len(mgr.sessions)
}

// StopAll ends every active session, used at shutdown.
func (mgr *Manager) StopAll() {
	mgr.mu.RLock()
	ids := make([]string, 0, len(mgr.sessions))
	for id := range mgr.sessions {
		ids = append(ids, id)
	}
	mgr.mu.RUnlock()

	for _, id := range ids {
		_ = mgr.Stop(id)
	}
}

func (mgr *Manager) get(sessionID string) (*Monitor, error) {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	m, ok := mgr.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return m, nil
}
