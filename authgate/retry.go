package authgate

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// Attempt outcomes reported to the Recorder.
const (
	AttemptOutcomeSuccess      = "success"
	AttemptOutcomeRetry        = "retry"
	AttemptOutcomeNonRetryable = "non_retryable"
	AttemptOutcomeExhausted    = "exhausted"
)

// RetryPolicy bounds WithAuthRetry.
type RetryPolicy struct {
	// MaxRetries is the total number of attempts, including the first one
	MaxRetries int
	// BaseDelay is the wait after the first failed attempt
	BaseDelay time.Duration
	// MaxDelay caps every wait
	MaxDelay time.Duration

	metricLabel string
}

// DefaultRetryPolicy returns 3 attempts with 1s, 2s backoff capped at 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   5 * time.Second,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxRetries == 0 {
		p.MaxRetries = def.MaxRetries
	}
	if p.MaxRetries < 1 {
		p.MaxRetries = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	return p
}

// Delay returns min(BaseDelay * 2^(attempt-1), MaxDelay) for a 1-based attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > 62 {
		return p.MaxDelay
	}

	multiplier := int64(1) << shift
	if int64(p.BaseDelay) > math.MaxInt64/multiplier {
		return p.MaxDelay
	}

	delay := time.Duration(int64(p.BaseDelay) * multiplier)
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// RetryOption adjusts the gate's retry policy for a single WithAuthRetry call
type RetryOption func(*RetryPolicy)

// WithMaxRetries sets the number of attempts. Values below 1 mean a single attempt.
func WithMaxRetries(n int) RetryOption {
	return func(p *RetryPolicy) {
		if n < 1 {
			n = 1
		}
		p.MaxRetries = n
	}
}

// WithBackoff sets the base and maximum backoff delays
func WithBackoff(base, maxDelay time.Duration) RetryOption {
	return func(p *RetryPolicy) {
		p.BaseDelay = base
		p.MaxDelay = maxDelay
	}
}

// WithMetricLabel reports attempts to the Recorder under label instead of the
// operation label. Use it when the operation label is built from request input.
func WithMetricLabel(label string) RetryOption {
	return func(p *RetryPolicy) {
		p.metricLabel = label
	}
}

// WithAuthRetry runs operation after RequireAuth, retrying transient failures
// with exponential backoff. Permission, not-found and already-exists failures
// are returned at once. When attempts run out the last error is returned.
func WithAuthRetry[T any](ctx context.Context, g *Gate, operationLabel string, operation func(ctx context.Context) (T, error), opts ...RetryOption) (T, error) {
	var zero T

	policy := g.cfg.Retry
	for _, opt := range opts {
		opt(&policy)
	}
	policy = policy.normalized()

	metricLabel := operationLabel
	if policy.metricLabel != "" {
		metricLabel = policy.metricLabel
	}
	logger := g.logger.With(zap.String("operation", operationLabel))

	var lastErr error
	for attempt := 1; attempt <= policy.MaxRetries; attempt++ {
		result, err := runAttempt(ctx, g, operationLabel, operation)
		if err == nil {
			g.recorder.RecordAttempt(metricLabel, AttemptOutcomeSuccess)
			if attempt > 1 {
				logger.Info("operation succeeded after retry", zap.Int("attempt", attempt))
			}
			return result, nil
		}
		lastErr = err

		if kind := Classify(err); kind != ErrorKindTransient {
			g.recorder.RecordAttempt(metricLabel, AttemptOutcomeNonRetryable)
			logger.Error("operation failed with non-retryable error",
				zap.Int("attempt", attempt),
				zap.String("kind", string(kind)),
				zap.Error(err))
			return zero, err
		}

		if attempt < policy.MaxRetries {
			delay := policy.Delay(attempt)
			g.recorder.RecordAttempt(metricLabel, AttemptOutcomeRetry)
			g.recorder.RecordBackoff(delay)
			logger.Warn("operation failed, retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(err))

			if sleepErr := g.sleep(ctx, delay); sleepErr != nil {
				logger.Error("retry aborted", zap.Int("attempt", attempt), zap.Error(sleepErr))
				return zero, fmt.Errorf("%s: retry aborted after attempt %d: %w (last error: %v)",
					operationLabel, attempt, sleepErr, lastErr)
			}
		}
	}

	g.recorder.RecordAttempt(metricLabel, AttemptOutcomeExhausted)
	logger.Error("operation failed after all retries",
		zap.Int("max_retries", policy.MaxRetries),
		zap.Error(lastErr))
	return zero, lastErr
}

// runAttempt re-validates the principal and runs operation once. A panic in
// operation is recovered into a *PanicError.
func runAttempt[T any](ctx context.Context, g *Gate, operationLabel string, operation func(ctx context.Context) (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			result, err = zero, normalizeError(r)
		}
	}()

	if _, err = g.RequireAuth(ctx, operationLabel); err != nil {
		return result, err
	}
	return operation(ctx)
}

// sleepWithContext sleeps for d but returns early when ctx is done.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}
