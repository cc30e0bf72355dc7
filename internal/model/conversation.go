// Copyright (c) 2025 Driftchat Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/driftchat/driftchat/internal/provider"
	"github.com/driftchat/driftchat/internal/util"
)

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds a chat thread's metadata. The provider type and
// base URL are snapshots pinned when the conversation is created (or
// explicitly changed by the user): its requests always target this
// configuration, not whatever the global settings say at send time.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	SystemPrompt  string `json:"systemPrompt"`
	SelectedModel string `json:"selectedModel"`

	ProviderType provider.Type   `json:"providerType"`
	BaseURL      string          `json:"baseUrl"`
	Params       provider.Params `json:"parameters"`

	// TotalTokens accumulates every exchange's total.
	TotalTokens int `json:"totalTokens"`
}

// NewConversation creates a conversation pinned to the given provider
// configuration. Conversations are created lazily on first send.
func NewConversation(providerType provider.Type, baseURL, model, systemPrompt string, params provider.Params) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:            "conv_" + uuid.New().String(),
		CreatedAt:     now,
		UpdatedAt:     now,
		SystemPrompt:  systemPrompt,
		SelectedModel: model,
		ProviderType:  providerType,
		BaseURL:       baseURL,
		Params:        params,
	}
}

// Touch bumps the updated timestamp.
func (c *Conversation) Touch() {
	c.UpdatedAt = time.Now()
}

// AddTokens adds one exchange's total to the cumulative count and bumps
// the updated timestamp.
func (c *Conversation) AddTokens(total int) {
	c.TotalTokens += total
	c.Touch()
}

// EnsureTitle derives the title from the first user text if unset.
func (c *Conversation) EnsureTitle(firstUserText string) {
	if c.Title != "" {
		return
	}
	c.Title = util.TruncateRunes(util.OneLine(firstUserText), 50)
	if c.Title == "" {
		c.Title = "New conversation"
	}
}

// =============================================================================
// WIRE CONVERSION
// =============================================================================

// BuildHistory converts the persisted history plus the new user text into
// the neutral message list sent to the provider: system prompt first,
// then prior non-loading messages, then the new user message.
func (c *Conversation) BuildHistory(history []*Message, newUserText string) []provider.ChatMessage {
	out := make([]provider.ChatMessage, 0, len(history)+2)

	if c.SystemPrompt != "" {
		out = append(out, provider.NewSystemMessage(c.SystemPrompt))
	}

	for _, msg := range history {
		// A message still loading belongs to a dead or cancelled
		// session; it never joins the outbound context.
		if msg.IsLoading || msg.Content == "" {
			continue
		}
		out = append(out, provider.ChatMessage{
			Role:    msg.Role.String(),
			Content: msg.Content,
		})
	}

	out = append(out, provider.NewUserMessage(newUserText))
	return out
}
