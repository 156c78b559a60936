package remote

import (
	"context"
	"log/slog"
	"time"

	"github.com/shxrxn/nethra-trust/internal/baseline"
	"github.com/shxrxn/nethra-trust/internal/circuitbreaker"
	"github.com/shxrxn/nethra-trust/internal/metrics"
	"github.com/shxrxn/nethra-trust/internal/retry"
	"github.com/shxrxn/nethra-trust/internal/telemetry"
	"github.com/shxrxn/nethra-trust/internal/traces"
	"github.com/shxrxn/nethra-trust/internal/trust"
)

// Outcome describes how one scoring pass was resolved, so the session
// monitor can adjust its polling and the API can expose the sync state.
type Outcome struct {
	UsedRemote     bool
	RateLimited    bool
	Failures       int
	SecurityAction SecurityAction
	MirageOverride bool
}

// Controller produces one trust result per tick, preferring the remote
// scorer and degrading to the local engine. One Controller belongs to one
// session; the circuit breaker may be shared across sessions since it
// guards the same endpoint.
type Controller struct {
	client       *Client
	engine       *trust.Engine
	breaker      *circuitbreaker.Breaker
	breakerKey   string
	logger       *slog.Logger
	failureLimit int
	failures     int
}

// NewController creates a per-session sync controller. A nil client means
// no remote scorer is configured and every pass scores locally.
func NewController(client *Client, engine *trust.Engine, breaker *circuitbreaker.Breaker, failureLimit int, logger *slog.Logger) *Controller {
	if failureLimit <= 0 {
		failureLimit = 3
	}
	key := "remote_scorer"
	if client != nil {
		key = client.baseURL
	}
	return &Controller{
		client:       client,
		engine:       engine,
		breaker:      breaker,
		breakerKey:   key,
		logger:       logger,
		failureLimit: failureLimit,
	}
}

// Failures returns the consecutive remote failure count.
func (c *Controller) Failures() int { return c.failures }

// InFallback reports whether local scoring is currently authoritative.
func (c *Controller) InFallback() bool {
	return c.client == nil || c.failures >= c.failureLimit
}

// Evaluate scores one sample. The local engine always runs so its anomalies
// are available even when the remote score wins; on remote success the
// remote score and security action are authoritative and the local
// anomalies ride along as risk detail.
func (c *Controller) Evaluate(ctx context.Context, userID, sessionID string, sample telemetry.BehavioralSample, b *baseline.UserBaseline) (result *trust.Result, outcome Outcome) {
	ctx, span := traces.StartSpan(ctx, "remote.Evaluate",
		traces.UserID(userID), traces.SessionID(sessionID))
	defer func() {
		span.SetAttributes(traces.TrustScore(result.Score), traces.ScoreSource(string(result.Source)))
		span.End()
	}()

	local := c.engine.Score(sample, b)
	if c.client == nil {
		return local, Outcome{Failures: c.failures}
	}

	if c.breaker != nil && !c.breaker.Allow(c.breakerKey) {
		// Endpoint is cooling off; do not count skipped calls as new
		// failures.
		return local, Outcome{Failures: c.failures}
	}

	var resp *ScoreResponse
	err := retry.Do(ctx, 2, 500*time.Millisecond, func() error {
		r, err := c.client.Score(ctx, userID, sessionID, sample)
		if err != nil {
			if KindOf(err) != KindTransient {
				return retry.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return c.handleFailure(local, err)
	}

	if c.breaker != nil {
		c.breaker.RecordSuccess(c.breakerKey)
	}
	if c.failures > 0 {
		c.logger.Info("remote scorer recovered", "user_id", userID, "after_failures", c.failures)
	}
	c.failures = 0

	r := *local
	r.Score = resp.TrustScore
	r.Level = trust.LevelFor(resp.TrustScore)
	r.Source = trust.SourceRemote
	r.IsLearningPhase = resp.LearningPhase

	return &r, Outcome{
		UsedRemote:     true,
		SecurityAction: resp.SecurityAction,
		MirageOverride: resp.MirageActivated || resp.SecurityAction == ActionActivateMirage,
	}
}

func (c *Controller) handleFailure(local *trust.Result, err error) (*trust.Result, Outcome) {
	kind := KindOf(err)
	metrics.SyncFailuresTotal.WithLabelValues(string(kind)).Inc()

	if kind == KindRateLimited {
		// Back off the polling interval; the endpoint is healthy, just
		// throttling us.
		c.logger.Warn("remote scorer rate limited", "error", err)
		return local, Outcome{RateLimited: true, Failures: c.failures}
	}

	if c.breaker != nil {
		c.breaker.RecordFailure(c.breakerKey)
	}
	c.failures++
	c.logger.Warn("remote scoring failed, using local engine",
		"kind", kind,
		"consecutive_failures", c.failures,
		"error", err,
	)
	return local, Outcome{Failures: c.failures}
}

// Heartbeat sends a liveness ping if a remote endpoint is configured.
func (c *Controller) Heartbeat(ctx context.Context, userID, sessionID string) {
	if c.client == nil {
		return
	}
	if err := c.client.Heartbeat(ctx, userID, sessionID); err != nil {
		c.logger.Debug("heartbeat failed", "session_id", sessionID, "error", err)
	}
}
