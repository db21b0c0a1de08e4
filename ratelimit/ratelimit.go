// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit bounds outbound send rates so a struggling endpoint
// is not hammered harder than its configured budget.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter is a token-bucket limiter for one sink endpoint. A nil or
// unlimited limiter admits everything.
type Limiter struct {
	l *rate.Limiter
}

// New creates a limiter admitting r sends per second with the given
// burst allowance. r <= 0 means unlimited.
func New(r float64, burst int) *Limiter {
	if r <= 0 {
		return &Limiter{}
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{l: rate.NewLimiter(rate.Limit(r), burst)}
}

// Wait blocks until a send is admitted or the context expires.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.l == nil {
		return nil
	}
	return l.l.Wait(ctx)
}

// Allow reports whether a send is admitted right now.
func (l *Limiter) Allow() bool {
	if l == nil || l.l == nil {
		return true
	}
	return l.l.Allow()
}
