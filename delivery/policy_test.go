// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testPolicy() *Policy {
	return NewPolicy(PolicyConfig{
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     1 * time.Second,
		Multiplier:      2.0,
	})
}

func TestPolicy_Decide(t *testing.T) {
	p := testPolicy()

	tests := []struct {
		name      string
		class     Classification
		status    int
		attempt   int
		wantRetry bool
		wantFinal Classification
	}{
		{"connectivity first attempt", ClassConnectivity, 0, 1, true, ""},
		{"connectivity mid budget", ClassConnectivity, 0, 2, true, ""},
		{"connectivity budget spent", ClassConnectivity, 0, 3, false, ClassExhausted},
		{"connectivity past budget", ClassConnectivity, 0, 7, false, ClassExhausted},
		{"server 500 retries", ClassServerRejected, 500, 1, true, ""},
		{"server 503 retries", ClassServerRejected, 503, 2, true, ""},
		{"server 500 budget spent", ClassServerRejected, 500, 3, false, ClassExhausted},
		{"server 408 retries", ClassServerRejected, 408, 1, true, ""},
		{"server 429 retries", ClassServerRejected, 429, 1, true, ""},
		{"server 400 terminal", ClassServerRejected, 400, 1, false, ClassServerRejected},
		{"server 404 terminal", ClassServerRejected, 404, 1, false, ClassServerRejected},
		{"invalid response retries once", ClassInvalidResponse, 0, 1, true, ""},
		{"invalid response second strike", ClassInvalidResponse, 0, 2, false, ClassInvalidResponse},
		{"internal failure never retries", ClassInternalFailure, 0, 1, false, ClassInternalFailure},
		{"cancelled never retries", ClassCancelled, 0, 1, false, ClassCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := p.Decide(tt.class, tt.status, tt.attempt)
			assert.Equal(t, tt.wantRetry, dec.Retry)
			if !tt.wantRetry {
				assert.Equal(t, tt.wantFinal, dec.Final)
			} else {
				assert.Positive(t, dec.Delay)
			}
		})
	}
}

func TestPolicy_CustomRetryableStatus(t *testing.T) {
	p := NewPolicy(PolicyConfig{
		MaxRetries:      3,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2.0,
		RetryableStatus: func(status int) bool { return status == 418 },
	})

	assert.True(t, p.Decide(ClassServerRejected, 418, 1).Retry)
	assert.False(t, p.Decide(ClassServerRejected, 500, 1).Retry)
}

func TestPolicy_Backoff(t *testing.T) {
	p := testPolicy()

	assert.Equal(t, 100*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 400*time.Millisecond, p.Backoff(3))
	assert.Equal(t, 800*time.Millisecond, p.Backoff(4))
	// Capped at MaxInterval from here on.
	assert.Equal(t, 1*time.Second, p.Backoff(5))
	assert.Equal(t, 1*time.Second, p.Backoff(10))
}

func TestNewPolicy_NormalizesConfig(t *testing.T) {
	p := NewPolicy(PolicyConfig{})

	// A zero-valued config still yields a working policy.
	dec := p.Decide(ClassConnectivity, 0, 1)
	assert.False(t, dec.Retry)
	assert.Equal(t, ClassExhausted, dec.Final)

	assert.True(t, p.cfg.RetryableStatus(500))
	assert.False(t, p.cfg.RetryableStatus(400))
}
