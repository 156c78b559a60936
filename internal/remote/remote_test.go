package remote

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shxrxn/nethra-trust/internal/baseline"
	"github.com/shxrxn/nethra-trust/internal/telemetry"
	"github.com/shxrxn/nethra-trust/internal/trust"
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

func scorerStub(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 2*time.Second)
}

func TestClientScoreSuccess(t *testing.T) {
	c := scorerStub(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/score" {
			t.Errorf("path = %s, want /score", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"trust_score": 72.5, "mirage_activated": false, "learning_phase": true, "security_action": "elevated_security"}`))
	})

	resp, err := c.Score(context.Background(), "user-1", "sess-1", typicalSample())
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if resp.TrustScore != 72.5 {
		t.Errorf("TrustScore = %v, want 72.5", resp.TrustScore)
	}
	if !resp.LearningPhase {
		t.Error("LearningPhase = false, want true")
	}
	if resp.SecurityAction != ActionElevated {
		t.Errorf("SecurityAction = %s, want %s", resp.SecurityAction, ActionElevated)
	}
}

func TestClientScoreClampsOutOfRange(t *testing.T) {
	c := scorerStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"trust_score": 250, "security_action": "none"}`))
	})
	resp, err := c.Score(context.Background(), "u", "s", typicalSample())
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if resp.TrustScore != 100 {
		t.Errorf("TrustScore = %v, want clamped 100", resp.TrustScore)
	}
}

func TestClientScoreErrorKinds(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   ErrorKind
	}{
		{"rate limited", http.StatusTooManyRequests, "", KindRateLimited},
		{"server error", http.StatusBadGateway, "", KindTransient},
		{"bad request", http.StatusBadRequest, "", KindInvalid},
		{"garbage body", http.StatusOK, "{not json", KindInvalid},
		{"unknown action", http.StatusOK, `{"trust_score": 50, "security_action": "self_destruct"}`, KindInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := scorerStub(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			})
			_, err := c.Score(context.Background(), "u", "s", typicalSample())
			if err == nil {
				t.Fatal("expected error")
			}
			if KindOf(err) != tc.want {
				t.Errorf("kind = %s, want %s", KindOf(err), tc.want)
			}
		})
	}
}

func TestClientScoreTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 50*time.Millisecond)
	_, err := c.Score(context.Background(), "u", "s", typicalSample())
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if KindOf(err) != KindTransient {
		t.Errorf("kind = %s, want %s", KindOf(err), KindTransient)
	}
}

func establishedBaseline() *baseline.UserBaseline {
	b := baseline.Default("user-1")
	for i := 0; i < baseline.LearningSampleTarget; i++ {
		b.Update(typicalSample())
	}
	return b
}

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestControllerNoClientScoresLocally(t *testing.T) {
	c := NewController(nil, trust.NewEngine(), nil, 3, quietLogger())
	r, out := c.Evaluate(context.Background(), "user-1", "sess-1", typicalSample(), establishedBaseline())
	if r.Source != trust.SourceLocal {
		t.Errorf("Source = %s, want %s", r.Source, trust.SourceLocal)
	}
	if out.UsedRemote {
		t.Error("UsedRemote = true without a client")
	}
	if !c.InFallback() {
		t.Error("controller without client should report fallback")
	}
}

func TestControllerRemoteWins(t *testing.T) {
	client := scorerStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"trust_score": 42, "learning_phase": true, "security_action": "none"}`))
	})
	c := NewController(client, trust.NewEngine(), nil, 3, quietLogger())

	r, out := c.Evaluate(context.Background(), "user-1", "sess-1", typicalSample(), establishedBaseline())
	if !out.UsedRemote {
		t.Fatal("UsedRemote = false, want true")
	}
	if r.Source != trust.SourceRemote {
		t.Errorf("Source = %s, want %s", r.Source, trust.SourceRemote)
	}
	if r.Score != 42 {
		t.Errorf("Score = %v, want remote 42", r.Score)
	}
	if r.Level != trust.LevelLow {
		t.Errorf("Level = %s, want %s", r.Level, trust.LevelLow)
	}
	if !r.IsLearningPhase {
		t.Error("IsLearningPhase = false, want remote learning_phase to win")
	}
}

func TestControllerFallbackAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	var healthy atomic.Bool
	client := scorerStub(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if healthy.Load() {
			w.Write([]byte(`{"trust_score": 88, "security_action": "none"}`))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	c := NewController(client, trust.NewEngine(), nil, 3, quietLogger())
	ctx := context.Background()
	b := establishedBaseline()

	for i := 1; i <= 3; i++ {
		r, out := c.Evaluate(ctx, "user-1", "sess-1", typicalSample(), b)
		if r.Source != trust.SourceLocal {
			t.Fatalf("pass %d: Source = %s, want local fallback", i, r.Source)
		}
		if out.Failures != i {
			t.Fatalf("pass %d: Failures = %d, want %d", i, out.Failures, i)
		}
	}
	if !c.InFallback() {
		t.Fatal("InFallback = false after limit reached")
	}

	// One remote success clears the fallback.
	healthy.Store(true)
	r, _ := c.Evaluate(ctx, "user-1", "sess-1", typicalSample(), b)
	if r.Source != trust.SourceRemote {
		t.Fatalf("Source after recovery = %s, want remote", r.Source)
	}
	if c.InFallback() {
		t.Error("InFallback = true after recovery")
	}
	if c.Failures() != 0 {
		t.Errorf("Failures = %d after recovery, want 0", c.Failures())
	}
}

func TestControllerRateLimitNotCountedAsFailure(t *testing.T) {
	client := scorerStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	c := NewController(client, trust.NewEngine(), nil, 3, quietLogger())

	r, out := c.Evaluate(context.Background(), "user-1", "sess-1", typicalSample(), establishedBaseline())
	if !out.RateLimited {
		t.Fatal("RateLimited = false, want true")
	}
	if out.Failures != 0 {
		t.Errorf("Failures = %d, want 0 for rate limit", out.Failures)
	}
	if r.Source != trust.SourceLocal {
		t.Errorf("Source = %s, want local while throttled", r.Source)
	}
}

func TestControllerMirageOverride(t *testing.T) {
	client := scorerStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"trust_score": 65, "mirage_activated": false, "security_action": "activate_mirage"}`))
	})
	c := NewController(client, trust.NewEngine(), nil, 3, quietLogger())

	_, out := c.Evaluate(context.Background(), "user-1", "sess-1", typicalSample(), establishedBaseline())
	if !out.MirageOverride {
		t.Error("MirageOverride = false, want true for activate_mirage action")
	}
	if out.SecurityAction != ActionActivateMirage {
		t.Errorf("SecurityAction = %s, want %s", out.SecurityAction, ActionActivateMirage)
	}
}
