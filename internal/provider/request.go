// Copyright (c) 2025 Driftchat Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"encoding/json"
	"net/http"
	"strings"
)

// anthropicVersion is the version header value sent with AuthAPIKey.
const anthropicVersion = "2023-06-01"

// =============================================================================
// MESSAGES
// =============================================================================

// ChatMessage is the neutral wire shape shared by all provider families.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewSystemMessage creates a system-role chat message.
func NewSystemMessage(content string) ChatMessage {
	return ChatMessage{Role: "system", Content: content}
}

// NewUserMessage creates a user-role chat message.
func NewUserMessage(content string) ChatMessage {
	return ChatMessage{Role: "user", Content: content}
}

// =============================================================================
// SAMPLING PARAMETERS
// =============================================================================

// MaxTokensDefault means "use the provider default": the max-output-tokens
// field is omitted from the request body entirely. MaxTokensUnlimited is
// sent verbatim as an explicit unlimited request.
const (
	MaxTokensDefault   = 0
	MaxTokensUnlimited = -1
)

// Params are the sampling parameters pinned on a conversation.
type Params struct {
	Temperature float64 `json:"temperature" toml:"temperature"`
	TopP        float64 `json:"top_p" toml:"top_p"`
	MaxTokens   int     `json:"max_tokens" toml:"max_tokens"`
}

// DefaultParams returns the sampling defaults for new conversations.
func DefaultParams() Params {
	return Params{
		Temperature: 0.7,
		TopP:        0.9,
		MaxTokens:   MaxTokensDefault,
	}
}

// =============================================================================
// REQUEST BODY BUILDING
// =============================================================================

// ollamaOptions is the Ollama "options" object. Pointer fields so that a
// MaxTokensDefault configuration omits num_predict instead of sending 0.
type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	NumPredict  *int    `json:"num_predict,omitempty"`
}

// ollamaRequest is the NDJSON-family request body.
type ollamaRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  ollamaOptions `json:"options"`
}

// sseRequest is the SSE-family request body (OpenAI-compatible shape).
type sseRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

// BuildRequestBody marshals the streaming chat request for an endpoint.
// stream:true is always set; the decoder framing is declared by the
// endpoint, never sniffed from the response.
func BuildRequestBody(ep Endpoint, model string, messages []ChatMessage, p Params) ([]byte, error) {
	var maxTokens *int
	if p.MaxTokens != MaxTokensDefault {
		v := p.MaxTokens
		maxTokens = &v
	}

	switch ep.Framing {
	case FramingNDJSON:
		return json.Marshal(ollamaRequest{
			Model:    model,
			Messages: messages,
			Stream:   true,
			Options: ollamaOptions{
				Temperature: p.Temperature,
				TopP:        p.TopP,
				NumPredict:  maxTokens,
			},
		})
	default:
		return json.Marshal(sseRequest{
			Model:       model,
			Messages:    messages,
			Stream:      true,
			Temperature: p.Temperature,
			TopP:        p.TopP,
			MaxTokens:   maxTokens,
		})
	}
}

// ApplyAuth attaches the endpoint's auth headers to an HTTP request.
// Content-Type is always set; SSE endpoints also ask for an event stream.
func ApplyAuth(req *http.Request, ep Endpoint, apiKey string) {
	req.Header.Set("Content-Type", "application/json")

	switch ep.Auth {
	case AuthBearer:
		if apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(apiKey))
		}
	case AuthAPIKey:
		if apiKey != "" {
			req.Header.Set("x-api-key", strings.TrimSpace(apiKey))
		}
		req.Header.Set("anthropic-version", anthropicVersion)
	}

	if ep.Framing == FramingSSE {
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Cache-Control", "no-cache")
	}
}
