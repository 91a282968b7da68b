// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package openai

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/morganforge/ghostwriter/internal/config"
	ctxfrag "github.com/morganforge/ghostwriter/internal/context"
)

// Accepted image encodings. Anything else is rejected before any network
// call.
var (
	pngMagic  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
)

// BuildRequest merges the resolved profile, conversation history, and
// assembled context into a single chat-completion request.
//
// The produced message list is ordered: the persona system message when
// configured, the historical turns in original order, then one new user
// message composed of the user's text followed by the serialized context
// fragments. Each fragment carries a header identifying its source and
// kind so the model can distinguish file boundaries.
//
// The builder performs no history truncation; keeping the window within
// model limits is the caller's responsibility.
func BuildRequest(cfg *config.Config, history []ChatMessage, fragments []ctxfrag.Fragment, userText string) (*ChatRequest, error) {
	// Reject bad image payloads up front, before constructing anything.
	for _, f := range fragments {
		if f.Kind != ctxfrag.KindImage {
			continue
		}
		if detectImageMIME(f.ImageData) == "" {
			return nil, &ValidationError{
				Field:   f.Source,
				Message: "unsupported image encoding, only PNG and JPEG are accepted",
			}
		}
	}

	messages := make([]ChatMessage, 0, len(history)+2)

	if cfg.Assistant.Persona != "" {
		messages = append(messages, NewSystemMessage(cfg.Assistant.Persona))
	}

	messages = append(messages, history...)
	messages = append(messages, buildUserMessage(userText, fragments))

	return &ChatRequest{
		Model:       cfg.Assistant.Model,
		Messages:    messages,
		Temperature: cfg.Assistant.Temperature,
		MaxTokens:   cfg.Assistant.MaxTokens,
	}, nil
}

// buildUserMessage composes the new user turn: the typed text first, then
// each text fragment under its header, then any image parts.
func buildUserMessage(userText string, fragments []ctxfrag.Fragment) ChatMessage {
	var text strings.Builder
	text.WriteString(userText)

	var imageParts []ContentPart

	for _, f := range fragments {
		if f.Kind == ctxfrag.KindImage {
			imageParts = append(imageParts, ContentPart{
				Type:     PartTypeImage,
				ImageURL: &ImageURL{URL: encodeImageDataURL(f.ImageData)},
			})
			continue
		}
		text.WriteString("\n\n")
		text.WriteString(renderFragment(f))
	}

	if len(imageParts) == 0 {
		return NewUserMessage(text.String())
	}

	parts := make([]ContentPart, 0, len(imageParts)+1)
	parts = append(parts, ContentPart{Type: PartTypeText, Text: text.String()})
	parts = append(parts, imageParts...)
	return ChatMessage{Role: "user", Content: MessageContent{Parts: parts}}
}

// renderFragment serializes one text fragment with its identifying header.
func renderFragment(f ctxfrag.Fragment) string {
	header := fmt.Sprintf("--- %s: %s ---", f.Kind, f.Source)
	if f.Truncated {
		header += " (earlier output truncated)"
	}
	return header + "\n" + f.Text
}

// detectImageMIME sniffs the payload's magic bytes. Returns the MIME type
// for PNG and JPEG, empty string for everything else.
func detectImageMIME(data []byte) string {
	if bytes.HasPrefix(data, pngMagic) {
		return "image/png"
	}
	if bytes.HasPrefix(data, jpegMagic) {
		return "image/jpeg"
	}
	return ""
}

// encodeImageDataURL encodes an image payload as a base64 data URL, the
// provider's image-content part format.
func encodeImageDataURL(data []byte) string {
	mime := detectImageMIME(data)
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
