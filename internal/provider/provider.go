// Copyright (c) 2025 Driftchat Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"errors"
	"fmt"

	"github.com/driftchat/driftchat/internal/util"
)

// =============================================================================
// PROVIDER TYPES
// =============================================================================

// Type identifies a provider family.
type Type string

const (
	// TypeOllama is a local Ollama server: newline-delimited JSON
	// streaming, no authentication.
	TypeOllama Type = "ollama"

	// TypeOpenAI is an OpenAI-compatible hosted API: SSE streaming,
	// bearer-token authentication.
	TypeOpenAI Type = "openai"

	// TypeAnthropic is an Anthropic-style hosted API: SSE streaming,
	// dedicated API-key header plus a version header.
	TypeAnthropic Type = "anthropic"
)

// Framing is the line-level encoding of a streamed response body.
type Framing int

const (
	// FramingNDJSON means each non-empty line is one JSON object.
	FramingNDJSON Framing = iota

	// FramingSSE means Server-Sent-Events ("data: <json>" lines,
	// terminated by a "data: [DONE]" sentinel).
	FramingSSE
)

// String returns the framing name for logs.
func (f Framing) String() string {
	switch f {
	case FramingNDJSON:
		return "ndjson"
	case FramingSSE:
		return "sse"
	default:
		return "unknown"
	}
}

// AuthStyle selects how credentials are attached to a request.
type AuthStyle int

const (
	// AuthNone sends no credentials (local providers).
	AuthNone AuthStyle = iota

	// AuthBearer sends "Authorization: Bearer <key>".
	AuthBearer

	// AuthAPIKey sends "x-api-key: <key>" plus the provider version header.
	AuthAPIKey
)

// =============================================================================
// ENDPOINT REGISTRY
// =============================================================================

// Endpoint describes everything a streaming session needs to talk to a
// provider. BaseURL holds the family default and is overridden by the
// base URL pinned on a conversation.
type Endpoint struct {
	Type                 Type
	BaseURL              string
	ChatPath             string
	Auth                 AuthStyle
	Framing              Framing
	SupportsModelListing bool
}

// ErrUnknownProvider is returned by Resolve for an unrecognized type.
var ErrUnknownProvider = errors.New("unknown provider type")

// registry is the single table mapping provider identifier to endpoint
// shape. Dispatch on provider type happens here and nowhere else.
var registry = map[Type]Endpoint{
	TypeOllama: {
		Type: TypeOllama,
		// Explicit IPv4 avoids IPv6 localhost resolution issues.
		BaseURL:              "http://127.0.0.1:11434",
		ChatPath:             "/api/chat",
		Auth:                 AuthNone,
		Framing:              FramingNDJSON,
		SupportsModelListing: true,
	},
	TypeOpenAI: {
		Type:                 TypeOpenAI,
		BaseURL:              "https://api.openai.com/v1",
		ChatPath:             "/chat/completions",
		Auth:                 AuthBearer,
		Framing:              FramingSSE,
		SupportsModelListing: true,
	},
	TypeAnthropic: {
		Type:                 TypeAnthropic,
		BaseURL:              "https://api.anthropic.com/v1",
		ChatPath:             "/messages",
		Auth:                 AuthAPIKey,
		Framing:              FramingSSE,
		SupportsModelListing: false,
	},
}

// Resolve looks up the endpoint shape for a provider type.
func Resolve(t Type) (Endpoint, error) {
	ep, ok := registry[t]
	if !ok {
		return Endpoint{}, fmt.Errorf("%w: %q", ErrUnknownProvider, t)
	}
	return ep, nil
}

// Types returns all registered provider types.
func Types() []Type {
	return []Type{TypeOllama, TypeOpenAI, TypeAnthropic}
}

// =============================================================================
// PROVIDER ERROR
// =============================================================================

// maxErrorBody bounds how much of a provider error body is retained.
const maxErrorBody = 512

// Error is a non-2xx response (or missing body) from a provider.
type Error struct {
	Status int
	Body   string
}

// NewError builds an Error, truncating the body for display.
func NewError(status int, body string) *Error {
	return &Error{Status: status, Body: util.TruncateRunes(body, maxErrorBody)}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("provider error (HTTP %d)", e.Status)
	}
	return fmt.Sprintf("provider error (HTTP %d): %s", e.Status, e.Body)
}
