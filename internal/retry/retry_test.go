package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDo_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 5, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	wantErr := errors.New("always fails")
	err := Do(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDo_PermanentStopsRetrying(t *testing.T) {
	calls := 0
	inner := errors.New("bad request")
	err := Do(context.Background(), 5, time.Millisecond, func() error {
		calls++
		return Permanent(inner)
	})
	if !errors.Is(err, inner) {
		t.Fatalf("expected %v, got %v", inner, err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call for permanent error, got %d", calls)
	}
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, 10, 100*time.Millisecond, func() error {
		calls++
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls == 0 {
		t.Fatal("expected at least one call")
	}
}

func TestDo_ZeroAttemptsTreatedAsOne(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), 0, time.Millisecond, func() error {
		calls++
		return errors.New("x")
	})
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDoLinear_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	start := time.Now()
	err := DoLinear(context.Background(), 4, time.Millisecond, func() error {
		calls++
		if calls < 4 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if calls != 4 {
		t.Fatalf("expected 4 calls, got %d", calls)
	}
	// 1+2+3 ms of backoff minus jitter; just ensure it did sleep at all.
	if time.Since(start) < 2*time.Millisecond {
		t.Fatal("expected linear backoff to sleep between attempts")
	}
}

func TestPermanent_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	wrapped := Permanent(inner)
	if !errors.Is(wrapped, inner) {
		t.Fatal("Permanent should wrap the inner error")
	}
}
