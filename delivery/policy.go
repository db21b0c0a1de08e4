// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package delivery

import "time"

// PolicyConfig holds the retry policy tunables.
type PolicyConfig struct {
	// MaxRetries is the total attempt budget per unit. Once a unit has
	// made this many attempts it is never retried again.
	MaxRetries int

	// Backoff curve: delay before attempt n+1 is
	// InitialInterval * Multiplier^(n-1), capped at MaxInterval.
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64

	// RetryableStatus reports whether a rejected status code is worth
	// retrying. Nil selects DefaultRetryableStatus.
	RetryableStatus func(status int) bool
}

// DefaultPolicyConfig returns the default retry policy settings.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		MaxRetries:      5,
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
	}
}

// DefaultRetryableStatus treats request timeout, throttling, and all
// server errors as transient. Other client errors are terminal: a
// malformed request cannot succeed on retry.
func DefaultRetryableStatus(status int) bool {
	return status == 408 || status == 429 || status >= 500
}

// Decision is the outcome of one retry policy evaluation.
type Decision struct {
	// Retry schedules the unit for another attempt after Delay.
	Retry bool
	Delay time.Duration

	// Final is the classification surfaced on a terminal decision.
	Final Classification
}

// Policy decides, per failed attempt, whether a delivery is retried.
// Decisions are pure functions of the classification and attempt count.
type Policy struct {
	cfg PolicyConfig
}

// NewPolicy creates a retry policy, normalizing unset tunables.
func NewPolicy(cfg PolicyConfig) *Policy {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = time.Second
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		cfg.MaxInterval = cfg.InitialInterval
	}
	if cfg.RetryableStatus == nil {
		cfg.RetryableStatus = DefaultRetryableStatus
	}
	return &Policy{cfg: cfg}
}

// Decide maps a failure classification and the attempt count (1-based,
// counting the attempt that just failed) to retry-or-stop. A spent
// budget always stops, surfacing ClassExhausted so callers can
// distinguish "gave up" from a non-retryable failure.
func (p *Policy) Decide(class Classification, status, attempt int) Decision {
	var retryable bool
	switch class {
	case ClassConnectivity:
		retryable = true
	case ClassServerRejected:
		retryable = p.cfg.RetryableStatus(status)
	case ClassInvalidResponse:
		// Transient once: a second unusable response means the endpoint
		// is consistently broken.
		retryable = attempt < 2
	default:
		// ClassInternalFailure, ClassCancelled, ClassExhausted.
		retryable = false
	}

	if !retryable {
		return Decision{Final: class}
	}
	if attempt >= p.cfg.MaxRetries {
		return Decision{Final: ClassExhausted}
	}
	return Decision{Retry: true, Delay: p.Backoff(attempt)}
}

// Backoff returns the delay before the attempt following attempt n.
func (p *Policy) Backoff(attempt int) time.Duration {
	d := float64(p.cfg.InitialInterval)
	max := float64(p.cfg.MaxInterval)
	for i := 1; i < attempt; i++ {
		d *= p.cfg.Multiplier
		if d >= max {
			return p.cfg.MaxInterval
		}
	}
	return time.Duration(d)
}
