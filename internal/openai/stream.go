// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// STREAMING: Robust SSE parsing with error handling

// MaxEventSize is the maximum allowed size for a single SSE event (64KB).
const MaxEventSize = 64 * 1024

// doneMarker is the terminator event that ends a stream cleanly.
var doneMarker = []byte("[DONE]")

// errEventTooLarge is returned by the reader when an event exceeds
// MaxEventSize.
var errEventTooLarge = errors.New("event exceeds maximum size")

// =============================================================================
// SSE READER
// =============================================================================

// SSEReader parses Server-Sent Events from a stream. Partial network
// reads are buffered until a full event boundary is available; no partial
// payload is ever handed to the JSON decoder.
type SSEReader struct {
	reader *bufio.Reader
}

// NewSSEReader creates a new SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{
		reader: bufio.NewReader(r),
	}
}

// ReadEvent reads the next SSE event from the stream, returning the event
// type and the joined data payload. Returns io.EOF when the stream ends.
func (s *SSEReader) ReadEvent() (string, []byte, error) {
	var eventType string
	var dataLines [][]byte
	var total int

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				// Return buffered data before reporting EOF.
				if len(dataLines) > 0 {
					return eventType, bytes.Join(dataLines, []byte("\n")), nil
				}
				return "", nil, io.EOF
			}
			return "", nil, err
		}

		line = bytes.TrimRight(line, "\r\n")

		// Empty line signals end of event.
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			continue
		}

		if bytes.HasPrefix(line, []byte("event:")) {
			eventType = string(bytes.TrimSpace(line[6:]))
		} else if bytes.HasPrefix(line, []byte("data:")) {
			data := bytes.TrimSpace(line[5:])
			total += len(data)
			if total > MaxEventSize {
				return "", nil, errEventTooLarge
			}
			dataLines = append(dataLines, data)
		}
		// Ignore other fields (id:, retry:, comments starting with :)
	}
}

// =============================================================================
// DELTAS
// =============================================================================

// DeltaKind discriminates the three delta variants.
type DeltaKind int

const (
	// DeltaText carries one incremental content chunk.
	DeltaText DeltaKind = iota
	// DeltaUsage carries the final token accounting. Exactly one per
	// completed stream, always last.
	DeltaUsage
	// DeltaError is terminal; no further deltas follow it.
	DeltaError
)

// Delta is one incremental unit produced while consuming a streamed
// response.
type Delta struct {
	Kind  DeltaKind
	Text  string
	Usage *Usage
	Err   error
}

// =============================================================================
// STREAM
// =============================================================================

// Stream is a lazy, finite, not-restartable sequence of deltas decoded
// from one streaming response. It is owned by a single consumer; Next is
// not safe for concurrent use.
type Stream struct {
	ctx    context.Context
	cancel context.CancelFunc
	body   io.ReadCloser
	reader *SSEReader

	readTimeout time.Duration
	timedOut    atomic.Bool

	done      bool
	closeOnce sync.Once
}

// Open sends the request and returns the response stream. Connection
// failures and non-2xx statuses surface as an error here, before any
// delta is produced; a cancelled context surfaces as the context's own
// error.
func (c *Client) Open(ctx context.Context, req *ChatRequest) (*Stream, error) {
	req.Stream = true
	if req.StreamOptions == nil {
		req.StreamOptions = &StreamOptions{IncludeUsage: true}
	}

	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	sctx, cancel := context.WithCancel(ctx)

	httpReq, err := http.NewRequestWithContext(sctx, http.MethodPost, c.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransportError{Op: "connect", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, MaxEventSize))
		resp.Body.Close()
		cancel()
		return nil, handleErrorResponse(resp.StatusCode, errBody)
	}

	return &Stream{
		ctx:         ctx,
		cancel:      cancel,
		body:        resp.Body,
		reader:      NewSSEReader(resp.Body),
		readTimeout: c.readTimeout,
	}, nil
}

// Next returns the next delta. ok is false when the sequence has ended:
// after a terminal delta was already returned, or silently when the
// caller cancelled. Cancellation is cooperative: the socket is closed at
// the next read boundary and no error delta is produced for the
// cancellation itself.
func (s *Stream) Next() (delta Delta, ok bool) {
	if s.done {
		return Delta{}, false
	}

	for {
		if s.ctx.Err() != nil {
			s.finish()
			return Delta{}, false
		}

		timer := s.armReadTimer()
		_, data, err := s.reader.ReadEvent()
		if timer != nil {
			timer.Stop()
		}

		if err != nil {
			switch {
			case s.timedOut.Load():
				// Read timeout behaves identically to a transport failure.
				return s.terminalError(&TransportError{Op: "read", Err: errors.New("read timeout")}), true
			case s.ctx.Err() != nil:
				s.finish()
				return Delta{}, false
			case errors.Is(err, errEventTooLarge):
				return s.terminalError(&StreamProtocolError{Reason: "event_too_large", Err: err}), true
			case err == io.EOF:
				// Server closed before [DONE]: the response is truncated
				// and must not be mistaken for a complete one.
				return s.terminalError(&StreamProtocolError{Reason: "truncated_stream", Err: io.ErrUnexpectedEOF}), true
			default:
				return s.terminalError(&TransportError{Op: "read", Err: err}), true
			}
		}

		if bytes.Equal(data, doneMarker) {
			return s.terminalUsage(nil), true
		}

		var chunk StreamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return s.terminalError(&StreamProtocolError{Reason: "malformed_event", Err: err}), true
		}

		if chunk.Usage != nil {
			return s.terminalUsage(chunk.Usage), true
		}
		if content := chunk.GetContent(); content != "" {
			return Delta{Kind: DeltaText, Text: content}, true
		}
		// Role-only or keepalive chunk; keep reading.
	}
}

// terminalUsage closes the stream and returns the usage delta. A nil
// usage (terminator arrived without an accounting chunk) yields zero
// counters rather than a missing terminal delta.
func (s *Stream) terminalUsage(u *Usage) Delta {
	if u == nil {
		u = &Usage{}
	}
	s.done = true
	s.finish()
	return Delta{Kind: DeltaUsage, Usage: u}
}

// terminalError closes the stream and returns the error delta.
func (s *Stream) terminalError(err error) Delta {
	s.done = true
	s.finish()
	return Delta{Kind: DeltaError, Err: err}
}

// armReadTimer starts the per-read timeout. Expiry cancels the request
// context, which unblocks the pending read.
func (s *Stream) armReadTimer() *time.Timer {
	if s.readTimeout <= 0 {
		return nil
	}
	return time.AfterFunc(s.readTimeout, func() {
		s.timedOut.Store(true)
		s.cancel()
	})
}

// finish releases the connection. Idempotent.
func (s *Stream) finish() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.body.Close()
	})
}

// Close releases the stream's resources. Safe to call at any time and
// more than once.
func (s *Stream) Close() {
	s.done = true
	s.finish()
}
