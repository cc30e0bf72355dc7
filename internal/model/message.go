// Copyright (c) 2025 Driftchat Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/driftchat/driftchat/internal/util"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// =============================================================================
// TOKEN USAGE
// =============================================================================

// Usage holds the token accounting for one exchange. All fields default
// to zero until the message is finalized.
type Usage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// IsZero reports whether no usage figures were recorded.
func (u Usage) IsZero() bool {
	return u.Prompt == 0 && u.Completion == 0 && u.Total == 0
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is a single message in a conversation. Content and Thinking
// grow by append while an assistant message streams; IsLoading and
// IsThinking exist only on the live in-memory copy held by the active
// session and are never persisted.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	Thinking       string    `json:"thinking,omitempty"`
	Model          string    `json:"model,omitempty"`
	Usage          Usage     `json:"tokens"`
	CreatedAt      time.Time `json:"timestamp"`

	// Live session state, never persisted.
	IsLoading  bool `json:"-"`
	IsThinking bool `json:"-"`
}

// NewUserMessage creates a user message for a conversation.
func NewUserMessage(conversationID, content string) *Message {
	return &Message{
		ID:             newMessageID(),
		ConversationID: conversationID,
		Role:           RoleUser,
		Content:        content,
		CreatedAt:      time.Now(),
	}
}

// NewAssistantMessage creates an empty assistant message in the loading
// state, ready to accumulate streamed content.
func NewAssistantMessage(conversationID, model string) *Message {
	return &Message{
		ID:             newMessageID(),
		ConversationID: conversationID,
		Role:           RoleAssistant,
		Model:          model,
		CreatedAt:      time.Now(),
		IsLoading:      true,
	}
}

// AppendContent appends a visible fragment. Content only ever grows by
// append so a mid-stream cancel persists exactly what was shown.
func (m *Message) AppendContent(fragment string) {
	m.Content += fragment
}

// AppendThinking appends a thinking fragment.
func (m *Message) AppendThinking(fragment string) {
	m.Thinking += fragment
}

// Preview returns a rune-safe truncated preview of the content.
func (m *Message) Preview(maxLen int) string {
	return util.TruncateRunes(util.OneLine(m.Content), maxLen)
}

// Clone returns a copy of the message.
func (m *Message) Clone() *Message {
	cp := *m
	return &cp
}

// =============================================================================
// TOKEN ESTIMATOR
// =============================================================================

// EstimateTokens gives a rough token count for raw text, using the
// approximation of ~4 characters per token. Used only when the provider
// supplied no usage figures.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// newMessageID creates a unique message ID.
func newMessageID() string {
	return "msg_" + uuid.New().String()
}
