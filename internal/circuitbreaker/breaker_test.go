package circuitbreaker

import (
	"sync"
	"testing"
	"time"
)

const scorerKey = "https://scorer.nethra.example"

func TestBreaker_AllowWhenClosed(t *testing.T) {
	b := New(3, 100*time.Millisecond)
	if !b.Allow(scorerKey) {
		t.Fatal("expected closed circuit to allow")
	}
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b := New(3, 100*time.Millisecond)

	// 2 failed sync calls = still closed
	b.RecordFailure(scorerKey)
	b.RecordFailure(scorerKey)
	if !b.Allow(scorerKey) {
		t.Fatal("should still allow before threshold")
	}

	// 3rd failure = open
	b.RecordFailure(scorerKey)
	if b.Allow(scorerKey) {
		t.Fatal("should be open after 3 failures")
	}
	if b.State(scorerKey) != StateOpen {
		t.Fatalf("expected StateOpen, got %v", b.State(scorerKey))
	}
}

func TestBreaker_OpenToHalfOpenAfterDuration(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	b.RecordFailure(scorerKey)
	b.RecordFailure(scorerKey)
	if b.Allow(scorerKey) {
		t.Fatal("should be open")
	}

	// Wait for open duration.
	time.Sleep(60 * time.Millisecond)

	// Should transition to half-open and let one call through.
	if !b.Allow(scorerKey) {
		t.Fatal("should allow one call in half-open")
	}
	if b.State(scorerKey) != StateHalfOpen {
		t.Fatalf("expected StateHalfOpen, got %v", b.State(scorerKey))
	}

	// A second sync tick while half-open should be skipped.
	if b.Allow(scorerKey) {
		t.Fatal("should reject second call in half-open")
	}
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	b.RecordFailure(scorerKey)
	b.RecordFailure(scorerKey)
	time.Sleep(60 * time.Millisecond)
	b.Allow(scorerKey) // Transitions to half-open

	b.RecordSuccess(scorerKey)
	if b.State(scorerKey) != StateClosed {
		t.Fatalf("expected StateClosed after recovery, got %v", b.State(scorerKey))
	}
	if !b.Allow(scorerKey) {
		t.Fatal("should allow after recovery")
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	b.RecordFailure(scorerKey)
	b.RecordFailure(scorerKey)
	time.Sleep(60 * time.Millisecond)
	b.Allow(scorerKey) // Transitions to half-open

	b.RecordFailure(scorerKey)
	if b.State(scorerKey) != StateOpen {
		t.Fatalf("expected StateOpen after half-open failure, got %v", b.State(scorerKey))
	}
}

func TestBreaker_SuccessResets(t *testing.T) {
	b := New(3, 100*time.Millisecond)

	b.RecordFailure(scorerKey)
	b.RecordFailure(scorerKey)
	b.RecordSuccess(scorerKey)

	// Should not trip with only 1 more failure (counter was reset).
	b.RecordFailure(scorerKey)
	if !b.Allow(scorerKey) {
		t.Fatal("should still be closed after reset")
	}
}

func TestBreaker_IndependentEndpoints(t *testing.T) {
	b := New(2, 100*time.Millisecond)
	fallbackKey := "https://scorer-dr.nethra.example"

	b.RecordFailure(scorerKey)
	b.RecordFailure(scorerKey)

	// The primary scorer is open; a second endpoint keeps its own circuit.
	if b.Allow(scorerKey) {
		t.Fatal("primary scorer should be open")
	}
	if !b.Allow(fallbackKey) {
		t.Fatal("second endpoint should be closed")
	}
}

func TestBreaker_UnknownKeyIsClosed(t *testing.T) {
	b := New(2, 100*time.Millisecond)
	if b.State("https://never-called.nethra.example") != StateClosed {
		t.Fatalf("expected StateClosed for unseen endpoint, got %v", b.State("https://never-called.nethra.example"))
	}
}

func TestBreaker_OnTransitionCallback(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	var mu sync.Mutex
	var transitions []struct{ from, to State }
	b.OnTransition(func(key string, from, to State) {
		mu.Lock()
		transitions = append(transitions, struct{ from, to State }{from, to})
		mu.Unlock()
	})

	b.RecordFailure(scorerKey)
	b.RecordFailure(scorerKey) // Trips closed to open.

	// Give goroutine time to run.
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	if len(transitions) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(transitions))
	}
	if transitions[0].from != StateClosed || transitions[0].to != StateOpen {
		t.Fatalf("expected closed to open, got %v to %v", transitions[0].from, transitions[0].to)
	}
	mu.Unlock()
}

func TestState_String(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half_open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
