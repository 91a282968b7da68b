// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package openai speaks the OpenAI-compatible chat-completions wire
// protocol: request construction, the HTTP client, and incremental
// consumption of the server-sent-event response stream.
//
// # Key Types
//
//   - Client: endpoint/token/proxy-aware HTTP client built per profile
//   - ChatRequest, ChatMessage: the JSON wire types (multi-part content
//     for text+image messages)
//   - Stream: lazy, finite, not-restartable sequence of Delta events
//   - Delta: one text chunk, the terminal usage accounting, or a
//     terminal error
//
// # Error Taxonomy
//
//   - ValidationError: malformed request contents, raised before any
//     network call
//   - TransportError: connection, DNS, TLS, and timeout failures
//   - StreamProtocolError: malformed SSE framing or payload, terminal
//
// Cancellation is not an error: a cancelled stream ends its delta
// sequence silently at the next read boundary.
package openai
