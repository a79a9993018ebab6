// Package retry implements the bounded-attempt executor with exponential
// backoff and jitter that the resilience pipeline wraps around each agent
// invocation.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/config"
	"github.com/BaSui01/taskflow/types"
)

// Op is one invocation attempt. Errors classified retryable via
// types.IsRetryable trigger another attempt; anything else is final.
type Op func(ctx context.Context) (*types.InvokeResponse, error)

// OnRetryFunc is notified before each backoff sleep. attempt is the number
// of the attempt that just failed, 1-indexed.
type OnRetryFunc func(attempt int, err error, delay time.Duration)

// Retryer executes operations under a retry policy.
type Retryer struct {
	policy  config.RetryConfig
	onRetry OnRetryFunc
	logger  *zap.Logger

	// rng is only consulted when jitter is enabled.
	rng *rand.Rand
}

// New creates a retryer. The policy is assumed validated (max_attempts >= 1,
// multiplier > 1).
func New(policy config.RetryConfig, onRetry OnRetryFunc, logger *zap.Logger) *Retryer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retryer{
		policy:  policy,
		onRetry: onRetry,
		logger:  logger,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Execute runs op up to MaxAttempts times and returns the final response,
// the number of attempts performed, and the final error. The sleep between
// attempts honors ctx cancellation and returns CANCELLED. Exhaustion
// returns RETRY_EXHAUSTED carrying the last cause and the attempt count.
func (r *Retryer) Execute(ctx context.Context, op Op) (*types.InvokeResponse, int, error) {
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, attempt - 1, types.NewError(types.ErrCancelled, "invocation cancelled").WithCause(err)
		}

		resp, err := op(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("retry succeeded", zap.Int("attempt", attempt))
			}
			return resp, attempt, nil
		}
		lastErr = err

		if !types.IsRetryable(err) {
			r.logger.Debug("error not retryable", zap.Error(err))
			return nil, attempt, err
		}
		if attempt == r.policy.MaxAttempts {
			break
		}

		delay := r.Delay(attempt)
		r.logger.Debug("retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.policy.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err))
		if r.onRetry != nil {
			r.onRetry(attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return nil, attempt, types.NewError(types.ErrCancelled, "retry backoff cancelled").WithCause(ctx.Err())
		case <-time.After(delay):
		}
	}

	r.logger.Warn("retry attempts exhausted",
		zap.Int("attempts", r.policy.MaxAttempts),
		zap.Error(lastErr))
	return nil, r.policy.MaxAttempts, types.Errorf(types.ErrRetryExhausted,
		"all %d attempts failed", r.policy.MaxAttempts).
		WithCause(lastErr).
		WithAttempts(r.policy.MaxAttempts)
}

// Delay computes the backoff after the given 1-indexed failed attempt:
// min(initial * multiplier^(attempt-1), max), scaled by a uniform factor in
// [0.5, 1.5] when jitter is enabled.
func (r *Retryer) Delay(attempt int) time.Duration {
	base := float64(r.policy.InitialDelay.Std()) * math.Pow(r.policy.Multiplier, float64(attempt-1))
	if limit := float64(r.policy.MaxDelay.Std()); base > limit {
		base = limit
	}
	if r.policy.Jitter {
		base *= 0.5 + r.rng.Float64()
	}
	return time.Duration(base)
}
