package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

func TestDoReturnsFirstSuccess(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Fatalf("expected ok, got %q", result)
	}
	if calls != 3 {
		t.Fatalf("expected 3 invocations, got %d", calls)
	}
}

func TestDoNonRetryableInvokedOnce(t *testing.T) {
	p := fastPolicy(3)
	p.RetryIf = func(error) bool { return false }

	calls := 0
	boom := errors.New("auth failed")
	_, err := Do(context.Background(), p, func(ctx context.Context) (int, error) {
		calls++
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected original error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 invocation, got %d", calls)
	}
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		t.Fatalf("non-retryable error must not be marked exhausted")
	}
}

func TestDoExhaustion(t *testing.T) {
	calls := 0
	boom := errors.New("still down")
	_, err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) (int, error) {
		calls++
		return 0, boom
	})

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if exhausted.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", exhausted.Attempts)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("exhausted error must wrap the last error")
	}
	if calls != 3 {
		t.Fatalf("expected 3 invocations, got %d", calls)
	}
}

func TestDoContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := Policy{MaxAttempts: 3, BaseDelay: time.Hour}
	_, err := Do(ctx, p, func(ctx context.Context) (int, error) {
		return 0, errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDelayBackoffCapped(t *testing.T) {
	p := Policy{BaseDelay: 10 * time.Millisecond, MaxDelay: 25 * time.Millisecond}
	if d := p.delay(1); d != 10*time.Millisecond {
		t.Fatalf("attempt 1: expected 10ms, got %v", d)
	}
	if d := p.delay(2); d != 20*time.Millisecond {
		t.Fatalf("attempt 2: expected 20ms, got %v", d)
	}
	if d := p.delay(5); d != 25*time.Millisecond {
		t.Fatalf("attempt 5: expected cap 25ms, got %v", d)
	}
}
