// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/morganforge/ghostwriter/internal/config"
)

// newTestClient builds a client pointed at a test server.
func newTestClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	cfg := config.Default()
	cfg.Assistant.URL = endpoint
	cfg.Assistant.Token = "test-token"
	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func contentChunk(text string) string {
	return fmt.Sprintf(`{"id":"c1","choices":[{"delta":{"content":%q},"finish_reason":""}]}`, text)
}

const usageChunk = `{"id":"c1","choices":[],"usage":{"prompt_tokens":12,"completion_tokens":34,"total_tokens":46}}`

// sseServer streams the given data payloads as SSE events.
func sseServer(t *testing.T, payloads ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Error("response writer is not a flusher")
			return
		}
		for _, p := range payloads {
			fmt.Fprintf(w, "data: %s\n\n", p)
			flusher.Flush()
		}
	}))
}

func openStream(t *testing.T, ctx context.Context, c *Client) *Stream {
	t.Helper()
	req := &ChatRequest{Model: "test-model", Messages: []ChatMessage{NewUserMessage("hi")}}
	stream, err := c.Open(ctx, req)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return stream
}

func TestStreamDeltasInOrder(t *testing.T) {
	server := sseServer(t,
		contentChunk("Hello"),
		contentChunk(", "),
		contentChunk("world"),
		usageChunk,
		"[DONE]",
	)
	defer server.Close()

	stream := openStream(t, context.Background(), newTestClient(t, server.URL))
	defer stream.Close()

	var text strings.Builder
	var usage *Usage
	for {
		delta, ok := stream.Next()
		if !ok {
			break
		}
		switch delta.Kind {
		case DeltaText:
			if usage != nil {
				t.Error("text delta after usage delta")
			}
			text.WriteString(delta.Text)
		case DeltaUsage:
			if usage != nil {
				t.Error("more than one usage delta")
			}
			usage = delta.Usage
		case DeltaError:
			t.Fatalf("unexpected error delta: %v", delta.Err)
		}
	}

	if text.String() != "Hello, world" {
		t.Errorf("concatenated text = %q, want %q", text.String(), "Hello, world")
	}
	if usage == nil {
		t.Fatal("no usage delta received")
	}
	if usage.PromptTokens != 12 || usage.CompletionTokens != 34 {
		t.Errorf("usage = %+v, want 12/34", usage)
	}
}

func TestStreamDoneWithoutUsage(t *testing.T) {
	server := sseServer(t, contentChunk("hi"), "[DONE]")
	defer server.Close()

	stream := openStream(t, context.Background(), newTestClient(t, server.URL))
	defer stream.Close()

	var last Delta
	count := 0
	for {
		delta, ok := stream.Next()
		if !ok {
			break
		}
		last = delta
		count++
	}
	if count != 2 {
		t.Fatalf("got %d deltas, want 2", count)
	}
	if last.Kind != DeltaUsage || last.Usage == nil {
		t.Fatalf("last delta = %+v, want synthesized usage", last)
	}
	if last.Usage.CompletionTokens != 0 {
		t.Errorf("synthesized usage should be zero, got %+v", last.Usage)
	}
}

func TestStreamTruncatedByServerIsTerminalError(t *testing.T) {
	// Connection closed after a content chunk, before [DONE] or usage:
	// the partial text must not surface as a clean completion.
	server := sseServer(t, contentChunk("partial answ"))
	defer server.Close()

	stream := openStream(t, context.Background(), newTestClient(t, server.URL))
	defer stream.Close()

	delta, ok := stream.Next()
	if !ok || delta.Kind != DeltaText {
		t.Fatalf("first delta = (%+v, %v), want text", delta, ok)
	}

	delta, ok = stream.Next()
	if !ok {
		t.Fatal("expected a terminal error delta, stream ended silently")
	}
	if delta.Kind != DeltaError {
		t.Fatalf("delta after truncation = %+v, want error", delta)
	}
	var protoErr *StreamProtocolError
	if !errors.As(delta.Err, &protoErr) {
		t.Fatalf("error type = %T, want StreamProtocolError", delta.Err)
	}

	if _, ok := stream.Next(); ok {
		t.Error("stream produced a delta after the terminal error")
	}
}

func TestStreamMalformedEventIsTerminal(t *testing.T) {
	server := sseServer(t,
		contentChunk("partial"),
		`{"this is not valid json`,
		contentChunk("never seen"),
		"[DONE]",
	)
	defer server.Close()

	stream := openStream(t, context.Background(), newTestClient(t, server.URL))
	defer stream.Close()

	var errDeltas, afterError int
	sawError := false
	for {
		delta, ok := stream.Next()
		if !ok {
			break
		}
		if sawError {
			afterError++
		}
		if delta.Kind == DeltaError {
			errDeltas++
			sawError = true
			var protoErr *StreamProtocolError
			if !errors.As(delta.Err, &protoErr) {
				t.Errorf("error delta type = %T, want StreamProtocolError", delta.Err)
			}
		}
	}

	if errDeltas != 1 {
		t.Errorf("got %d error deltas, want exactly 1", errDeltas)
	}
	if afterError != 0 {
		t.Errorf("got %d deltas after the terminal error, want 0", afterError)
	}
}

func TestStreamCancellationEndsSilently(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprintf(w, "data: %s\n\n", contentChunk("one"))
		flusher.Flush()
		<-release // hold the stream open
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	stream := openStream(t, ctx, newTestClient(t, server.URL))
	defer stream.Close()

	delta, ok := stream.Next()
	if !ok || delta.Kind != DeltaText {
		t.Fatalf("first delta = (%+v, %v), want text", delta, ok)
	}

	cancel()

	// Cancellation must end the sequence without an error delta.
	delta, ok = stream.Next()
	if ok {
		t.Errorf("Next after cancel = (%+v, true), want silent end", delta)
	}

	// Subsequent calls stay ended.
	if _, ok := stream.Next(); ok {
		t.Error("stream restarted after ending")
	}
}

func TestStreamReadTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("timeout test skipped in short mode")
	}

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprintf(w, "data: %s\n\n", contentChunk("one"))
		flusher.Flush()
		<-release // stall: no further events
	}))
	defer server.Close()
	defer close(release)

	cfg := config.Default()
	cfg.Assistant.URL = server.URL
	cfg.Assistant.ReadTimeoutSecs = 1
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	stream := openStream(t, context.Background(), client)
	defer stream.Close()

	if delta, ok := stream.Next(); !ok || delta.Kind != DeltaText {
		t.Fatalf("first delta = (%+v, %v), want text", delta, ok)
	}

	start := time.Now()
	delta, ok := stream.Next()
	if !ok {
		t.Fatal("expected a terminal delta, stream ended silently")
	}
	if delta.Kind != DeltaError {
		t.Fatalf("delta kind = %v, want error", delta.Kind)
	}
	var transportErr *TransportError
	if !errors.As(delta.Err, &transportErr) {
		t.Errorf("error type = %T, want TransportError", delta.Err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout took %v, expected ~1s", elapsed)
	}
}

func TestOpenMapsErrorStatuses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"code":"invalid_api_key","message":"bad token"}}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	req := &ChatRequest{Model: "m", Messages: []ChatMessage{NewUserMessage("hi")}}
	_, err := client.Open(context.Background(), req)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !errors.Is(err, ErrAuthFailed) {
		t.Errorf("err = %v, want ErrAuthFailed", err)
	}
}

func TestOpenConnectFailure(t *testing.T) {
	// Closed port: connection refused.
	client := newTestClient(t, "http://127.0.0.1:1")
	req := &ChatRequest{Model: "m", Messages: []ChatMessage{NewUserMessage("hi")}}
	_, err := client.Open(context.Background(), req)
	if err == nil {
		t.Fatal("expected connect failure")
	}
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Errorf("err type = %T, want TransportError", err)
	}
}

func TestOpenSendsAuthAndStreamFlags(t *testing.T) {
	var gotAuth, gotAccept string
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		buf := make([]byte, 4096)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	stream := openStream(t, context.Background(), newTestClient(t, server.URL))
	stream.Close()

	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotAccept != "text/event-stream" {
		t.Errorf("Accept = %q", gotAccept)
	}
	if !strings.Contains(gotBody, `"stream":true`) {
		t.Errorf("request body missing stream flag: %s", gotBody)
	}
	if !strings.Contains(gotBody, `"include_usage":true`) {
		t.Errorf("request body missing stream_options: %s", gotBody)
	}
}

func TestSSEReaderBuffersPartialEvents(t *testing.T) {
	// Two events, the second split across CRLF line endings.
	input := "data: first\n\ndata: second\r\ndata: line\r\n\r\n"
	r := NewSSEReader(strings.NewReader(input))

	_, data, err := r.ReadEvent()
	if err != nil || string(data) != "first" {
		t.Fatalf("first event = (%q, %v)", data, err)
	}
	_, data, err = r.ReadEvent()
	if err != nil || string(data) != "second\nline" {
		t.Fatalf("second event = (%q, %v)", data, err)
	}
	_, _, err = r.ReadEvent()
	if err == nil {
		t.Fatal("expected EOF after last event")
	}
}

func TestSSEReaderRejectsOversizeEvent(t *testing.T) {
	huge := "data: " + strings.Repeat("x", MaxEventSize+1) + "\n\n"
	r := NewSSEReader(strings.NewReader(huge))
	_, _, err := r.ReadEvent()
	if !errors.Is(err, errEventTooLarge) {
		t.Errorf("err = %v, want errEventTooLarge", err)
	}
}
