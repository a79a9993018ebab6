package config

import "time"

// Default policy values applied to descriptors that omit them.
const (
	DefaultAgentTimeout = 30 * time.Second

	DefaultMaxAttempts  = 3
	DefaultInitialDelay = 1 * time.Second
	DefaultMaxDelay     = 30 * time.Second
	DefaultMultiplier   = 2.0

	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 30 * time.Second
)

// DefaultRetryConfig returns the retry policy used when an agent declares none.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  DefaultMaxAttempts,
		InitialDelay: Duration(DefaultInitialDelay),
		MaxDelay:     Duration(DefaultMaxDelay),
		Multiplier:   DefaultMultiplier,
		Jitter:       true,
	}
}

// DefaultBreakerConfig returns the breaker policy used when an agent declares none.
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		FailureThreshold: DefaultFailureThreshold,
		RecoveryTimeout:  Duration(DefaultRecoveryTimeout),
	}
}

// ApplyDefaults fills unset fields in place. It is called by the loader
// before validation so validation sees the effective document.
func ApplyDefaults(w *WorkflowConfig) {
	if w.FailureStrategy == "" {
		w.FailureStrategy = StopOnFirstFailure
	}
	for i := range w.Agents {
		a := &w.Agents[i]
		if a.Timeout <= 0 {
			a.Timeout = Duration(DefaultAgentTimeout)
		}
		if a.Retry == nil {
			a.Retry = DefaultRetryConfig()
		} else {
			applyRetryDefaults(a.Retry)
		}
		if a.Breaker == nil {
			a.Breaker = DefaultBreakerConfig()
		} else {
			if a.Breaker.FailureThreshold <= 0 {
				a.Breaker.FailureThreshold = DefaultFailureThreshold
			}
			if a.Breaker.RecoveryTimeout <= 0 {
				a.Breaker.RecoveryTimeout = Duration(DefaultRecoveryTimeout)
			}
		}
		if a.Auth != nil && a.Auth.Type == "api_key" && a.Auth.Header == "" {
			a.Auth.Header = "X-API-Key"
		}
	}
	for i := range w.Tasks {
		if r := w.Tasks[i].Retry; r != nil {
			applyRetryDefaults(r)
		}
	}
}

func applyRetryDefaults(r *RetryConfig) {
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = DefaultMaxAttempts
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = Duration(DefaultInitialDelay)
	}
	if r.MaxDelay <= 0 {
		r.MaxDelay = Duration(DefaultMaxDelay)
	}
	if r.Multiplier <= 1 {
		r.Multiplier = DefaultMultiplier
	}
}
