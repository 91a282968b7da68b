// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package openai

import "encoding/json"

// ChatMessage represents a single message in a chat conversation.
// Content is a string for plain text, or a part list when the message
// carries images.
type ChatMessage struct {
	Role    string         `json:"role"` // "user", "assistant", or "system"
	Content MessageContent `json:"content"`
}

// NewUserMessage creates a new plain-text user message.
func NewUserMessage(content string) ChatMessage {
	return ChatMessage{Role: "user", Content: MessageContent{Text: content}}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: MessageContent{Text: content}}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) ChatMessage {
	return ChatMessage{Role: "system", Content: MessageContent{Text: content}}
}

// MessageContent is the union the wire protocol uses for message content:
// a bare JSON string, or an array of typed parts for text+image messages.
type MessageContent struct {
	Text  string
	Parts []ContentPart
}

// MarshalJSON emits a string when there are no parts, a part array
// otherwise.
func (c MessageContent) MarshalJSON() ([]byte, error) {
	if len(c.Parts) > 0 {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON accepts either encoding.
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Text = s
		c.Parts = nil
		return nil
	}
	return json.Unmarshal(data, &c.Parts)
}

// PlainText returns the textual content, concatenating text parts for
// multi-part messages.
func (c MessageContent) PlainText() string {
	if len(c.Parts) == 0 {
		return c.Text
	}
	var out string
	for _, p := range c.Parts {
		if p.Type == PartTypeText {
			out += p.Text
		}
	}
	return out
}

// Content part types.
const (
	PartTypeText  = "text"
	PartTypeImage = "image_url"
)

// ContentPart is one element of a multi-part message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries an image reference, typically a base64 data URL.
type ImageURL struct {
	URL string `json:"url"`
}

// StreamOptions controls streaming behavior on the wire.
type StreamOptions struct {
	// IncludeUsage asks the server to send a final chunk carrying token
	// usage before the stream terminator.
	IncludeUsage bool `json:"include_usage"`
}

// ChatRequest represents a request to the chat completions endpoint.
type ChatRequest struct {
	Model         string         `json:"model"`
	Messages      []ChatMessage  `json:"messages"`
	Stream        bool           `json:"stream"`
	StreamOptions *StreamOptions `json:"stream_options,omitempty"`
	Temperature   float64        `json:"temperature,omitempty"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
}

// Usage carries the token accounting for one exchange.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse represents a non-streaming chat completions response.
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// GetContent returns the content of the first choice, or empty string if none.
func (r *ChatResponse) GetContent() string {
	if len(r.Choices) > 0 {
		return r.Choices[0].Message.Content.PlainText()
	}
	return ""
}

// StreamChunk represents a single decoded chunk from the streaming
// response.
type StreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
			Role    string `json:"role,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	// Usage is set on the final data chunk when stream_options requested it.
	Usage *Usage `json:"usage,omitempty"`
}

// GetContent returns the content from the first choice's delta.
func (c *StreamChunk) GetContent() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].Delta.Content
	}
	return ""
}

// IsDone returns true if the chunk carries a finish reason.
func (c *StreamChunk) IsDone() bool {
	if len(c.Choices) > 0 {
		return c.Choices[0].FinishReason != ""
	}
	return false
}

// apiErrorResponse represents an error response body from the API.
type apiErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
