// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantClass  Classification
		wantStatus int
	}{
		{
			"connectivity",
			&ConnectivityError{Err: errors.New("connection refused")},
			ClassConnectivity, 0,
		},
		{
			"wrapped connectivity",
			fmt.Errorf("sending batch: %w", &ConnectivityError{Err: errors.New("timeout")}),
			ClassConnectivity, 0,
		},
		{
			"server rejection carries status",
			&ServerError{Status: 503, Body: "unavailable"},
			ClassServerRejected, 503,
		},
		{
			"invalid response",
			&InvalidResponseError{Reason: "empty body"},
			ClassInvalidResponse, 0,
		},
		{
			"context deadline is connectivity",
			fmt.Errorf("call: %w", context.DeadlineExceeded),
			ClassConnectivity, 0,
		},
		{
			"context cancellation is connectivity",
			context.Canceled,
			ClassConnectivity, 0,
		},
		{
			"unknown error is an internal fault",
			errors.New("nil pointer somewhere"),
			ClassInternalFailure, 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			class, status := Classify(tt.err)
			assert.Equal(t, tt.wantClass, class)
			assert.Equal(t, tt.wantStatus, status)
		})
	}
}

func TestTypedErrors_Messages(t *testing.T) {
	assert.Contains(t, (&ServerError{Status: 400, Body: "bad payload"}).Error(), "400")
	assert.Contains(t, (&InvalidResponseError{Reason: "not json"}).Error(), "not json")

	inner := errors.New("no route to host")
	ce := &ConnectivityError{Err: inner}
	assert.ErrorIs(t, ce, inner)
}
