// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package forwarder

import (
	"errors"
	"fmt"
	"net"

	"github.com/go-core-stack/mcp-stdio-bridge/pkg/metrics"
)

// TransportError reports a failed round trip: either the request never got a
// response (Err set) or the upstream answered with a non-2xx status.
type TransportError struct {
	Status int    // Status is zero when no response was received.
	Body   string // Body holds the upstream error text for non-2xx replies.
	Err    error  // Err retains the network cause.
}

// Error implements the error interface for TransportError.
func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("upstream request failed: %v", e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As checks.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the round trip failed on a deadline.
func (e *TransportError) Timeout() bool {
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// DecodeError reports a 2xx response whose body could not be turned into a
// JSON-RPC reply.
type DecodeError struct {
	Err error
}

// Error implements the error interface for DecodeError.
func (e *DecodeError) Error() string {
	return e.Err.Error()
}

// Unwrap exposes the underlying error, e.g. sse.ErrNoData.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// outcome maps a Forward error to its metrics label.
func outcome(err error) string {
	var transportErr *TransportError
	var decodeErr *DecodeError
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.As(err, &transportErr) && transportErr.Status != 0:
		return metrics.OutcomeStatus
	case errors.As(err, &decodeErr):
		return metrics.OutcomeDecode
	default:
		return metrics.OutcomeTransport
	}
}
