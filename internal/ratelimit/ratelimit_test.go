package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestLimiterAllow(t *testing.T) {
	cfg := Config{
		RequestsPerMinute: 60,
		BurstSize:         5,
		CleanupInterval:   time.Minute,
	}
	limiter := New(cfg)
	defer limiter.Stop()

	key := "device-ip"

	// A flushed telemetry batch lands as a burst
	for i := 0; i < 5; i++ {
		if !limiter.Allow(key) {
			t.Errorf("Request %d should be allowed (within burst)", i)
		}
	}

	// Next request should be denied
	if limiter.Allow(key) {
		t.Error("Request after burst should be denied")
	}

	// Wait for token replenishment (1 second = 1 token at 60/min)
	time.Sleep(time.Second)

	if !limiter.Allow(key) {
		t.Error("Request after waiting should be allowed")
	}
}

func TestLimiterIsolatesDevices(t *testing.T) {
	cfg := Config{
		RequestsPerMinute: 60,
		BurstSize:         3,
		CleanupInterval:   time.Minute,
	}
	limiter := New(cfg)
	defer limiter.Stop()

	// One device drains its bucket
	for i := 0; i < 3; i++ {
		limiter.Allow("device-a")
	}

	if limiter.Allow("device-a") {
		t.Error("device-a should be rate limited")
	}

	// A second device keeps its own budget
	if !limiter.Allow("device-b") {
		t.Error("device-b should not be rate limited")
	}
}

func TestLimiterTokenReplenishment(t *testing.T) {
	cfg := Config{
		RequestsPerMinute: 600, // 10 per second
		BurstSize:         1,
		CleanupInterval:   time.Minute,
	}
	limiter := New(cfg)
	defer limiter.Stop()

	key := "device"

	if !limiter.Allow(key) {
		t.Error("First request should be allowed")
	}

	if limiter.Allow(key) {
		t.Error("Second immediate request should be denied")
	}

	// Wait 100ms (should get 1 token at 10/sec)
	time.Sleep(110 * time.Millisecond)

	if !limiter.Allow(key) {
		t.Error("Request after 100ms should be allowed")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.RequestsPerMinute != 120 {
		t.Errorf("Expected 120 requests/min, got %d", cfg.RequestsPerMinute)
	}
	if cfg.BurstSize != 30 {
		t.Errorf("Expected burst size 30, got %d", cfg.BurstSize)
	}
	if cfg.CleanupInterval != time.Minute {
		t.Errorf("Expected 1 minute cleanup interval, got %v", cfg.CleanupInterval)
	}
}

func TestMiddlewareBucketsPerSession(t *testing.T) {
	gin.SetMode(gin.TestMode)

	limiter := New(Config{
		RequestsPerMinute: 60,
		BurstSize:         2,
		CleanupInterval:   time.Minute,
	})
	defer limiter.Stop()

	router := gin.New()
	router.Use(limiter.Middleware())
	router.POST("/sessions/:id/events", func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})

	post := func(sessionID string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/sessions/"+sessionID+"/events", nil)
		router.ServeHTTP(w, req)
		return w.Code
	}

	// Drain one session's bucket
	for i := 0; i < 2; i++ {
		if code := post("sess_aaa"); code != http.StatusAccepted {
			t.Fatalf("request %d: status = %d, want 202", i, code)
		}
	}
	if code := post("sess_aaa"); code != http.StatusTooManyRequests {
		t.Errorf("drained session: status = %d, want 429", code)
	}

	// Another session behind the same IP has its own bucket
	if code := post("sess_bbb"); code != http.StatusAccepted {
		t.Errorf("other session: status = %d, want 202", code)
	}
}
