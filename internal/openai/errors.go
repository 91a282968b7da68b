// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package openai

import (
	"errors"
	"fmt"
)

// Error variables for common API failures.
var (
	// ErrAuthFailed indicates authentication failed (invalid or expired token).
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")

	// ErrModelNotFound indicates the requested model does not exist.
	ErrModelNotFound = errors.New("model not found")
)

// ValidationError reports malformed request contents, such as an
// unsupported image encoding. It is raised before any network call;
// nothing has been sent when this error surfaces.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// TransportError reports a connection-level failure: DNS, TLS, refused
// connection, or a connect/read timeout. No automatic retry is performed;
// silent retries could double-submit context, so resubmission is left to
// the user.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StreamProtocolError reports malformed event framing or payload in the
// response stream. It is terminal: the stream is closed and no further
// deltas follow.
type StreamProtocolError struct {
	Reason string
	Err    error
}

func (e *StreamProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stream protocol error (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("stream protocol error (%s)", e.Reason)
}

func (e *StreamProtocolError) Unwrap() error {
	return e.Err
}

// APIError represents a non-2xx response from the completions endpoint.
type APIError struct {
	Code    string
	Message string
	Status  int
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("API error (HTTP %d): %s", e.Status, e.Message)
}
