// Package remote talks to the external behavioral scoring service. The
// service is treated as unreliable: every call is bounded by a timeout and
// every response is validated once at this boundary so the rest of the
// system never sees a malformed score.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shxrxn/nethra-trust/internal/telemetry"
)

// SecurityAction is the server-directed response escalation.
type SecurityAction string

const (
	ActionNone           SecurityAction = "none"
	ActionElevated       SecurityAction = "elevated_security"
	ActionMaximum        SecurityAction = "maximum_security"
	ActionActivateMirage SecurityAction = "activate_mirage"
)

func validAction(a SecurityAction) bool {
	switch a {
	case "", ActionNone, ActionElevated, ActionMaximum, ActionActivateMirage:
		return true
	}
	return false
}

// ScoreResponse is the remote scorer's verdict.
type ScoreResponse struct {
	TrustScore      float64        `json:"trust_score"`
	MirageActivated bool           `json:"mirage_activated"`
	LearningPhase   bool           `json:"learning_phase"`
	SecurityAction  SecurityAction `json:"security_action"`
}

// ErrorKind classifies sync failures into the handling buckets.
type ErrorKind string

const (
	// KindTransient covers timeouts and connection errors; retried, and
	// counted toward the local-fallback threshold.
	KindTransient ErrorKind = "transient"
	// KindRateLimited slows the polling interval instead of counting as
	// a failure.
	KindRateLimited ErrorKind = "rate_limited"
	// KindInvalid covers rejected requests and malformed responses; not
	// worth retrying.
	KindInvalid ErrorKind = "invalid"
)

// SyncError wraps a scoring call failure with its handling classification.
type SyncError struct {
	Kind ErrorKind
	Err  error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("remote sync (%s): %v", e.Kind, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// KindOf extracts the error classification, defaulting to transient.
func KindOf(err error) ErrorKind {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindTransient
}

type scoreRequest struct {
	UserID    string                     `json:"user_id"`
	SessionID string                     `json:"session_id"`
	Sample    telemetry.BehavioralSample `json:"sample"`
	Timestamp time.Time                  `json:"timestamp"`
}

// Client is an HTTP client for the remote scorer.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a scorer client with the given per-call timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Score submits a feature vector and returns the remote verdict.
func (c *Client) Score(ctx context.Context, userID, sessionID string, sample telemetry.BehavioralSample) (*ScoreResponse, error) {
	body, err := json.Marshal(scoreRequest{
		UserID:    userID,
		SessionID: sessionID,
		Sample:    sample,
		Timestamp: time.Now(),
	})
	if err != nil {
		return nil, &SyncError{Kind: KindInvalid, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/score", bytes.NewReader(body))
	if err != nil {
		return nil, &SyncError{Kind: KindInvalid, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &SyncError{Kind: KindTransient, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &SyncError{Kind: KindRateLimited, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 500:
		return nil, &SyncError{Kind: KindTransient, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return nil, &SyncError{Kind: KindInvalid, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var sr ScoreResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&sr); err != nil {
		return nil, &SyncError{Kind: KindInvalid, Err: fmt.Errorf("decode response: %w", err)}
	}
	if !validAction(sr.SecurityAction) {
		return nil, &SyncError{Kind: KindInvalid, Err: fmt.Errorf("unknown security_action %q", sr.SecurityAction)}
	}
	if sr.TrustScore < 0 {
		sr.TrustScore = 0
	}
	if sr.TrustScore > 100 {
		sr.TrustScore = 100
	}
	return &sr, nil
}

// Heartbeat sends a liveness ping. Failures are informational only.
func (c *Client) Heartbeat(ctx context.Context, userID, sessionID string) error {
	body, err := json.Marshal(map[string]string{
		"user_id":    userID,
		"session_id": sessionID,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/heartbeat", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("heartbeat status %d", resp.StatusCode)
	}
	return nil
}
