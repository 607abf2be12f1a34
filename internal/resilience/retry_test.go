package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mindfulchat/meditation-gateway/internal/apperr"
)

func fastRetry(attempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestRetry_Success(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), func(context.Context) error {
		attempts++
		return nil
	}, fastRetry(3), nil)

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetry_FailureThenSuccess(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	}, fastRetry(3), nil)

	if err != nil {
		t.Errorf("Expected no error after retries, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetry_MaxAttempts(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), func(context.Context) error {
		attempts++
		return NewRetryableError(errors.New("persistent error"))
	}, fastRetry(2), nil)

	if err == nil {
		t.Error("Expected error after max attempts")
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}

func TestRetry_RateLimitNeverRetried(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), func(context.Context) error {
		attempts++
		return apperr.New(apperr.KindRateLimit, "Too many TTS requests. Please try again later.")
	}, fastRetry(5), nil)

	if !apperr.Is(err, apperr.KindRateLimit) {
		t.Errorf("Expected rate limit error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt for rate limit, got %d", attempts)
	}
}

func TestRetry_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Retry(ctx, func(context.Context) error {
		attempts++
		cancel()
		return errors.New("i/o timeout")
	}, &RetryConfig{MaxAttempts: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour, BackoffMultiplier: 1}, nil)

	if err == nil {
		t.Fatal("Expected an error")
	}
	if attempts != 1 {
		t.Errorf("Expected retry to stop after cancellation, got %d attempts", attempts)
	}
}

func TestIsRetryableNetworkError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"timeout", errors.New("i/o timeout"), true},
		{"bad gateway", errors.New("tavus returned status 502"), true},
		{"marked retryable", NewRetryableError(errors.New("x")), true},
		{"rate limit", apperr.New(apperr.KindRateLimit, "rate limit"), false},
		{"validation", apperr.New(apperr.KindValidation, "timeout in text"), false},
		{"circuit open", ErrCircuitOpen, false},
		{"cancelled", context.Canceled, false},
		{"other error", errors.New("other error"), false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryableNetworkError(tt.err); got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{5, 1 * time.Second}, // capped
	}

	for _, tt := range tests {
		got := CalculateBackoff(tt.attempt, 100*time.Millisecond, time.Second, 2.0)
		if got != tt.expected {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.expected, got)
		}
	}
}

func TestGuard_OpensBreakerOnTransportFailures(t *testing.T) {
	g := &Guard{
		Breaker: NewCircuitBreaker("gist", 2, time.Minute),
		Retry:   fastRetry(1),
	}

	for i := 0; i < 2; i++ {
		_ = g.Do(context.Background(), func(context.Context) error {
			return apperr.New(apperr.KindTransport, "github returned status 500")
		})
	}

	err := g.Do(context.Background(), func(context.Context) error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen after repeated failures, got %v", err)
	}
}

func TestGuard_RateLimitDoesNotTripBreaker(t *testing.T) {
	g := &Guard{
		Breaker: NewCircuitBreaker("elevenlabs", 1, time.Minute),
		Retry:   fastRetry(1),
	}

	_ = g.Do(context.Background(), func(context.Context) error {
		return apperr.New(apperr.KindRateLimit, "quota exceeded")
	})
	if g.Breaker.GetState() != StateClosed {
		t.Error("Expected rate limit not to open the breaker")
	}
}

func TestGuard_OnceDoesNotRetry(t *testing.T) {
	g := &Guard{
		Breaker: NewCircuitBreaker("tavus", 5, time.Minute),
		Retry:   fastRetry(3),
	}

	calls := 0
	err := g.Once(context.Background(), func(context.Context) error {
		calls++
		return NewRetryableError(apperr.New(apperr.KindTransport, "tavus returned status 502"))
	})
	if err == nil {
		t.Fatal("Expected error")
	}
	if calls != 1 {
		t.Errorf("Expected 1 attempt, got %d", calls)
	}
	if _, _, failures, _ := g.Breaker.GetStats(); failures != 1 {
		t.Errorf("Expected the failure to count against the breaker, got %d", failures)
	}
}
