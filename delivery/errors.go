// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"errors"
	"fmt"
)

// Classification buckets a failed delivery attempt for the retry policy.
type Classification string

// Error classifications.
const (
	// ClassConnectivity covers network-layer failures: no route,
	// timeouts, resets. Retryable within the budget.
	ClassConnectivity Classification = "connectivity"

	// ClassServerRejected covers an endpoint that answered with an
	// error status. Retryability depends on the status class.
	ClassServerRejected Classification = "server_rejected"

	// ClassInvalidResponse covers a success status carrying an empty or
	// unusable payload.
	ClassInvalidResponse Classification = "empty_or_invalid_response"

	// ClassInternalFailure covers unexpected local faults. Never retried.
	ClassInternalFailure Classification = "internal_failure"

	// ClassExhausted is synthesized when the retry budget is spent on an
	// otherwise retryable failure.
	ClassExhausted Classification = "exhausted"

	// ClassCancelled is synthesized when shutdown force-terminates a
	// unit before it reached a terminal state on its own.
	ClassCancelled Classification = "cancelled"
)

// ConnectivityError wraps a network-layer failure reported by a sink.
type ConnectivityError struct {
	Err error
}

func (e *ConnectivityError) Error() string { return fmt.Sprintf("connectivity: %v", e.Err) }
func (e *ConnectivityError) Unwrap() error { return e.Err }

// ServerError reports an endpoint that returned an error status.
type ServerError struct {
	Status int
	Body   string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server rejected delivery with status %d: %s", e.Status, e.Body)
}

// InvalidResponseError reports a success status with an unusable body.
type InvalidResponseError struct {
	Reason string
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("empty or invalid response: %s", e.Reason)
}

// Classify maps an error returned by a sink call to a classification
// and, for server rejections, the status code. Errors a sink did not
// wrap in one of the typed errors above are treated as internal faults,
// not transient conditions.
func Classify(err error) (Classification, int) {
	var ce *ConnectivityError
	if errors.As(err, &ce) {
		return ClassConnectivity, 0
	}

	var se *ServerError
	if errors.As(err, &se) {
		return ClassServerRejected, se.Status
	}

	var ie *InvalidResponseError
	if errors.As(err, &ie) {
		return ClassInvalidResponse, 0
	}

	// A context expiring mid-call is a network-layer condition from the
	// pipeline's point of view.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ClassConnectivity, 0
	}

	return ClassInternalFailure, 0
}
