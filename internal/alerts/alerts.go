// Package alerts delivers security events to external sinks. Delivery is
// fire-and-forget: a sink that is down never blocks or fails a scoring tick.
package alerts

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/shxrxn/nethra-trust/internal/idgen"
)

// EventType identifies a security event.
type EventType string

const (
	EventMirageActivated  EventType = "mirage.activated"
	EventCriticalLogout   EventType = "session.critical_logout"
	EventThresholdBreach  EventType = "trust.threshold_breach"
	EventSyncFallback     EventType = "sync.local_fallback"
	EventSessionStarted   EventType = "session.started"
	EventSessionStopped   EventType = "session.stopped"
	EventChallengePassed  EventType = "mirage.challenge_passed"
	EventThreatSimulation EventType = "session.threat_simulation"
)

// Event is one emitted security event.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	UserID    string         `json:"user_id"`
	SessionID string         `json:"session_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Sink receives events. Implementations must not block for long; the
// emitter calls them from scoring ticks.
type Sink interface {
	Emit(ctx context.Context, ev *Event)
}

// LogSink writes events to the structured log.
type LogSink struct {
	logger *slog.Logger
}

var _ Sink = (*LogSink)(nil)

// NewLogSink creates a sink that logs every event.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(_ context.Context, ev *Event) {
	s.logger.Info("security event",
		"event_id", ev.ID,
		"event_type", ev.Type,
		"user_id", ev.UserID,
		"session_id", ev.SessionID,
		"data", ev.Data,
	)
}

// WebhookSink POSTs events to a configured URL, signing the payload with
// HMAC-SHA256 when a secret is set.
type WebhookSink struct {
	url    string
	secret string
	client *http.Client
	logger *slog.Logger
}

var _ Sink = (*WebhookSink)(nil)

// NewWebhookSink creates a webhook sink.
func NewWebhookSink(url, secret string, logger *slog.Logger) *WebhookSink {
	return &WebhookSink{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

func (s *WebhookSink) Emit(ctx context.Context, ev *Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Warn("alert marshal failed", "event_type", ev.Type, "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		s.logger.Warn("alert request build failed", "event_type", ev.Type, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Nethra-Event", string(ev.Type))
	req.Header.Set("X-Nethra-Timestamp", fmt.Sprintf("%d", ev.Timestamp.Unix()))
	if s.secret != "" {
		req.Header.Set("X-Nethra-Signature", Sign(payload, s.secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("alert delivery failed", "event_type", ev.Type, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.Warn("alert delivery rejected", "event_type", ev.Type, "status", resp.StatusCode)
	}
}

// Sign computes the hex HMAC-SHA256 signature of a payload.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// MemorySink captures events for tests.
type MemorySink struct {
	mu     sync.Mutex
	events []*Event
}

var _ Sink = (*MemorySink)(nil)

// NewMemorySink creates an empty capture sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Emit(_ context.Context, ev *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

// Events returns a snapshot of captured events.
func (s *MemorySink) Events() []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Event, len(s.events))
	copy(out, s.events)
	return out
}

// CountByType returns how many captured events have the given type.
func (s *MemorySink) CountByType(t EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func newEvent(t EventType, userID, sessionID string, data map[string]any) *Event {
	return &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      t,
		UserID:    userID,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Data:      data,
	}
}
