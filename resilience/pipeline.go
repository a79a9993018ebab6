// Package resilience composes the circuit breaker, the retry controller,
// and the timeout guard into the pipeline wrapped around every bare agent
// invocation.
package resilience

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/BaSui01/taskflow/config"
	"github.com/BaSui01/taskflow/resilience/circuitbreaker"
	"github.com/BaSui01/taskflow/resilience/retry"
	"github.com/BaSui01/taskflow/types"
)

// Invoker is the bare invocation capability every agent variant provides.
type Invoker interface {
	// InvokeRaw performs one wire call and normalizes the response. A
	// returned error must be a *types.Error carrying the invocation
	// taxonomy so the retry controller can classify it.
	InvokeRaw(ctx context.Context, action string, params map[string]any) (*types.InvokeResponse, error)
}

// CallOptions carries the per-task knobs resolved by the engine.
type CallOptions struct {
	// Timeout is the task-effective deadline for each attempt.
	Timeout time.Duration
	// Retry overrides the pipeline's default policy when non-nil.
	Retry *config.RetryConfig
	// OnRetry is notified between attempts (the engine surfaces RETRYING
	// transitions through it).
	OnRetry retry.OnRetryFunc
	// OnAttempt is called at the start of each attempt, 1-indexed (the
	// engine surfaces the RETRYING→RUNNING edge for attempts > 1).
	OnAttempt func(attempt int)
}

// Pipeline wraps one agent's Invoker. A single pipeline (and its breaker)
// is shared across all concurrent invocations of the agent.
type Pipeline struct {
	agent   string
	invoker Invoker
	breaker *circuitbreaker.Breaker
	policy  config.RetryConfig
	sem     *semaphore.Weighted
	logger  *zap.Logger
}

// NewPipeline builds the pipeline for one agent descriptor.
func NewPipeline(cfg *config.AgentConfig, invoker Invoker, onChange circuitbreaker.StateChangeFunc, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		agent:   cfg.Name,
		invoker: invoker,
		breaker: circuitbreaker.New(cfg.Name, *cfg.Breaker, onChange, logger),
		policy:  *cfg.Retry,
		logger:  logger.With(zap.String("component", "resilience"), zap.String("agent", cfg.Name)),
	}
	if cfg.MaxConcurrency > 0 {
		p.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrency))
	}
	return p
}

// Breaker exposes the agent's breaker for observability.
func (p *Pipeline) Breaker() *circuitbreaker.Breaker { return p.breaker }

// Invoke drives one task invocation through the pipeline: concurrency cap,
// breaker gate, retry loop, per-attempt timeout guard, bare call. The gate
// is consulted once per invocation; every attempt's outcome is fed to the
// breaker so consecutive transport faults across retries and tasks
// accumulate. Remote rejections do not count as breaker failures, so
// client-side mistakes cannot poison shared state.
func (p *Pipeline) Invoke(ctx context.Context, action string, params map[string]any, opts CallOptions) (*types.InvokeResponse, int, error) {
	if p.sem != nil {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return nil, 0, types.NewError(types.ErrCancelled, "invocation cancelled while queued").WithCause(err)
		}
		defer p.sem.Release(1)
	}

	if !p.breaker.Allow() {
		return nil, 0, p.breaker.Deny()
	}

	policy := p.policy
	if opts.Retry != nil {
		policy = *opts.Retry
	}
	retryer := retry.New(policy, opts.OnRetry, p.logger)

	attemptNo := 0
	resp, attempts, err := retryer.Execute(ctx, func(ctx context.Context) (*types.InvokeResponse, error) {
		attemptNo++
		if opts.OnAttempt != nil {
			opts.OnAttempt(attemptNo)
		}
		resp, err := p.attempt(ctx, action, params, opts.Timeout)
		switch {
		case err == nil:
			p.breaker.RecordSuccess()
		case countsAsBreakerFailure(err):
			p.breaker.RecordFailure()
		case types.GetErrorCode(err) == types.ErrRemoteRejection:
			// A definitive answer from the remote still proves the
			// transport is healthy.
			p.breaker.RecordSuccess()
		}
		return resp, err
	})

	if err != nil && types.GetErrorCode(err) == types.ErrCancelled {
		// No outcome was recorded for a cancelled half-open probe.
		p.breaker.Release()
	}
	return resp, attempts, err
}

// attempt runs a single invocation under the timeout guard.
func (p *Pipeline) attempt(ctx context.Context, action string, params map[string]any, timeout time.Duration) (*types.InvokeResponse, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := p.invoker.InvokeRaw(ctx, action, params)
	if err == nil {
		return resp, nil
	}

	// Translate context expiry into the taxonomy: an attempt deadline is a
	// retryable TIMEOUT, an outer cancellation is terminal.
	if errors.Is(err, context.DeadlineExceeded) && types.GetErrorCode(err) == "" {
		return nil, types.Errorf(types.ErrTransportTimeout, "agent %s timed out after %v", p.agent, timeout).WithCause(err)
	}
	if errors.Is(err, context.Canceled) && types.GetErrorCode(err) == "" {
		return nil, types.NewError(types.ErrCancelled, "invocation cancelled").WithCause(err)
	}
	return nil, err
}

// countsAsBreakerFailure keeps only transport-class faults in the breaker
// counter.
func countsAsBreakerFailure(err error) bool {
	switch types.GetErrorCode(err) {
	case types.ErrTransportTimeout, types.ErrTransportFault:
		return true
	default:
		return false
	}
}
