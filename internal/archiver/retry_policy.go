package archiver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrFetchExhausted is returned once every attempt of a fetch has failed.
	ErrFetchExhausted = errors.New("fetch attempts exhausted")
	// ErrUnexpectedStatus marks a response whose status is not 200.
	ErrUnexpectedStatus = errors.New("unexpected HTTP status")
	// ErrEmptyBody marks a 200 response without content.
	ErrEmptyBody = errors.New("empty response body")
)

// RetryPolicy bounds one fetch: MaxRetries additional attempts after the
// first, separated by BackoffFactor^attempt seconds.
type RetryPolicy struct {
	MaxRetries    int
	BackoffFactor float64
}

// Attempts returns the total number of attempts the policy allows.
func (p RetryPolicy) Attempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// Backoff returns the wait after failed attempt number attempt (1-based).
// There is no cap and no jitter.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	secs := math.Pow(p.BackoffFactor, float64(attempt))
	if math.IsNaN(secs) || secs <= 0 {
		return 0
	}
	d := secs * float64(time.Second)
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// CheckResponse applies the success rule: status 200 and a non-empty body.
func CheckResponse(resp FetchResponse) error {
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	if len(resp.Body) == 0 {
		return ErrEmptyBody
	}
	return nil
}

// FetchWithRetry runs fetch attempts until one succeeds or the policy is
// exhausted. No partial result is returned on failure.
func FetchWithRetry(
	ctx context.Context,
	fetcher Fetcher,
	request FetchRequest,
	policy RetryPolicy,
	clock Clock,
	logger *zap.Logger,
) (FetchResult, error) {
	if fetcher == nil {
		return FetchResult{}, errors.New("no fetcher configured")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	maxAttempts := policy.Attempts()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return FetchResult{}, fmt.Errorf("fetch canceled: %w", err)
		}
		resp, err := fetcher.Fetch(ctx, request)
		if err == nil {
			err = CheckResponse(resp)
		}
		if err == nil {
			return FetchResult{Response: resp, Attempts: attempt}, nil
		}
		lastErr = err
		logger.Warn("fetch attempt failed",
			zap.String("source_id", request.SourceID),
			zap.String("url", request.URL),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(err),
		)
		if attempt == maxAttempts {
			break
		}
		wait := policy.Backoff(attempt)
		logger.Debug("sleeping before retry",
			zap.String("source_id", request.SourceID),
			zap.Duration("backoff", wait),
		)
		if err := clock.Sleep(ctx, wait); err != nil {
			return FetchResult{}, fmt.Errorf("backoff interrupted: %w", err)
		}
	}
	return FetchResult{Attempts: maxAttempts}, fmt.Errorf("%w after %d attempts: %w", ErrFetchExhausted, maxAttempts, lastErr)
}
