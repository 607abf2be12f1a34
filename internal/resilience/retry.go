package resilience

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/mindfulchat/meditation-gateway/internal/apperr"
	"github.com/mindfulchat/meditation-gateway/internal/clock"
)

// RetryConfig holds configuration for retry logic
type RetryConfig struct {
	MaxAttempts       int           // Maximum number of attempts, including the first
	InitialBackoff    time.Duration // Backoff before the second attempt
	MaxBackoff        time.Duration // Upper bound for any single wait
	BackoffMultiplier float64       // Growth factor between waits
	Clock             clock.Clock   // Defaults to the real clock
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryableFunc is a function that can be retried
type RetryableFunc func(ctx context.Context) error

// IsRetryableError decides whether an error deserves another attempt.
type IsRetryableError func(error) bool

// Retry runs fn until it succeeds, returns a non-retryable error, the attempts
// run out or ctx is done.
func Retry(ctx context.Context, fn RetryableFunc, config *RetryConfig, isRetryable IsRetryableError) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	if isRetryable == nil {
		isRetryable = IsRetryableNetworkError
	}

	var lastErr error
	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}

		if attempt < config.MaxAttempts-1 {
			wait := CalculateBackoff(attempt, config.InitialBackoff, config.MaxBackoff, config.BackoffMultiplier)
			select {
			case <-ctx.Done():
				return lastErr
			case <-clk.After(wait):
			}
		}
	}

	return lastErr
}

// CalculateBackoff calculates the backoff duration for a given attempt
func CalculateBackoff(attempt int, initialBackoff time.Duration, maxBackoff time.Duration, multiplier float64) time.Duration {
	backoff := time.Duration(float64(initialBackoff) * math.Pow(multiplier, float64(attempt)))
	if backoff > maxBackoff {
		return maxBackoff
	}
	return backoff
}

// IsRetryableNetworkError reports whether err looks like a transient
// transport failure. Rate limits, validation failures, cancellations and an
// open circuit are never retried.
func IsRetryableNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrCircuitOpen) {
		return false
	}

	switch apperr.KindOf(err) {
	case apperr.KindRateLimit, apperr.KindValidation, apperr.KindAborted, apperr.KindUnavailable:
		return false
	}
	if IsRetryable(err) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"connection closed",
		"network is unreachable",
		"no route to host",
		"deadline exceeded",
		"i/o timeout",
		"timeout",
		"unexpected eof",
		"status 502",
		"status 503",
		"status 504",
	} {
		if strings.Contains(errStr, marker) {
			return true
		}
	}
	return false
}

// RetryableError wraps an error to indicate it's retryable
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable checks if an error is a RetryableError
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}

// Guard combines a breaker and a retry policy around calls to one service.
type Guard struct {
	Breaker *CircuitBreaker
	Retry   *RetryConfig
}

// Do runs fn through the breaker with retries. Only transport-class failures
// count against the breaker.
func (g *Guard) Do(ctx context.Context, fn RetryableFunc) error {
	if g == nil {
		return fn(ctx)
	}
	attempt := func(ctx context.Context) error {
		if g.Breaker == nil {
			return fn(ctx)
		}
		return g.Breaker.Call(func() error { return fn(ctx) }, countsAgainstBreaker)
	}
	return Retry(ctx, attempt, g.Retry, nil)
}

// Once runs fn through the breaker without retrying. Use it for calls that
// are not safe to repeat, such as a POST that creates a billable resource.
func (g *Guard) Once(ctx context.Context, fn RetryableFunc) error {
	if g == nil || g.Breaker == nil {
		return fn(ctx)
	}
	return g.Breaker.Call(func() error { return fn(ctx) }, countsAgainstBreaker)
}

func countsAgainstBreaker(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindRateLimit, apperr.KindValidation, apperr.KindAborted:
		return false
	}
	return !errors.Is(err, context.Canceled)
}
