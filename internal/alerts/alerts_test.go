package alerts

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEmitterFansOutToAllSinks(t *testing.T) {
	a := NewMemorySink()
	b := NewMemorySink()
	e := NewEmitter(a, b)

	e.MirageActivated("user-1", "sess-1", 32.5, "moderate")

	for i, sink := range []*MemorySink{a, b} {
		events := sink.Events()
		if len(events) != 1 {
			t.Fatalf("sink %d captured %d events, want 1", i, len(events))
		}
		ev := events[0]
		if ev.Type != EventMirageActivated {
			t.Errorf("Type = %s, want %s", ev.Type, EventMirageActivated)
		}
		if ev.UserID != "user-1" || ev.SessionID != "sess-1" {
			t.Errorf("identity = %s/%s, want user-1/sess-1", ev.UserID, ev.SessionID)
		}
		if ev.Data["intensity"] != "moderate" {
			t.Errorf("intensity = %v, want moderate", ev.Data["intensity"])
		}
		if ev.ID == "" {
			t.Error("event missing ID")
		}
	}
}

func TestNilEmitterIsNoOp(t *testing.T) {
	var e *Emitter
	e.CriticalLogout("user-1", "sess-1", 5)
	e.SyncFallback("user-1", "sess-1", 3)
}

func TestMemorySinkCountByType(t *testing.T) {
	sink := NewMemorySink()
	e := NewEmitter(sink)
	e.CriticalLogout("u", "s", 0)
	e.CriticalLogout("u", "s", 0)
	e.ChallengePassed("u", "s")

	if n := sink.CountByType(EventCriticalLogout); n != 2 {
		t.Errorf("CountByType(critical_logout) = %d, want 2", n)
	}
	if n := sink.CountByType(EventThresholdBreach); n != 0 {
		t.Errorf("CountByType(threshold_breach) = %d, want 0", n)
	}
}

func TestWebhookSinkSignsPayload(t *testing.T) {
	var gotBody []byte
	var gotSig, gotEvent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Nethra-Signature")
		gotEvent = r.Header.Get("X-Nethra-Event")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, "topsecret", slog.Default())
	e := NewEmitter(sink)
	e.ThresholdBreach("user-1", "sess-1", 35, 40, []string{"tap_pressure deviates"})

	if gotEvent != string(EventThresholdBreach) {
		t.Errorf("event header = %q, want %q", gotEvent, EventThresholdBreach)
	}
	want := Sign(gotBody, "topsecret")
	if !hmac.Equal([]byte(gotSig), []byte(want)) {
		t.Errorf("signature mismatch: got %s, want %s", gotSig, want)
	}

	var ev Event
	if err := json.Unmarshal(gotBody, &ev); err != nil {
		t.Fatalf("payload decode: %v", err)
	}
	if ev.Data["score"].(float64) != 35 {
		t.Errorf("score = %v, want 35", ev.Data["score"])
	}
}

func TestWebhookSinkSurvivesDownEndpoint(t *testing.T) {
	sink := NewWebhookSink("http://127.0.0.1:1/alerts", "", slog.Default())
	sink.Emit(context.Background(), newEvent(EventSessionStarted, "u", "s", nil))
}
