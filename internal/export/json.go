// Copyright (c) 2025 Driftchat Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"time"

	"github.com/driftchat/driftchat/internal/model"
	"github.com/driftchat/driftchat/internal/provider"
)

// =============================================================================
// JSON TRANSCRIPT FORMAT
// =============================================================================

// Transcript is the stable JSON interchange document.
type Transcript struct {
	Conversation TranscriptConversation `json:"conversation"`
	Messages     []TranscriptMessage    `json:"messages"`
}

// TranscriptConversation carries the conversation header fields.
type TranscriptConversation struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	SystemPrompt  string          `json:"systemPrompt"`
	SelectedModel string          `json:"selectedModel"`
	Parameters    provider.Params `json:"parameters"`
}

// TranscriptMessage is one message in the interchange document.
type TranscriptMessage struct {
	ID        string      `json:"id"`
	Role      string      `json:"role"`
	Content   string      `json:"content"`
	Model     string      `json:"model,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Tokens    model.Usage `json:"tokens"`
}

// JSONExporter renders the transcript interchange document.
type JSONExporter struct{}

// NewJSONExporter creates a JSON exporter.
func NewJSONExporter() *JSONExporter {
	return &JSONExporter{}
}

// Export implements Exporter.
func (e *JSONExporter) Export(conv *model.Conversation, messages []*model.Message) ([]byte, error) {
	return json.MarshalIndent(BuildTranscript(conv, messages), "", "  ")
}

// FileExtension implements Exporter.
func (e *JSONExporter) FileExtension() string { return ".json" }

// MimeType implements Exporter.
func (e *JSONExporter) MimeType() string { return "application/json" }

// BuildTranscript maps stored records into the interchange document.
func BuildTranscript(conv *model.Conversation, messages []*model.Message) Transcript {
	t := Transcript{
		Conversation: TranscriptConversation{
			ID:            conv.ID,
			Title:         conv.Title,
			CreatedAt:     conv.CreatedAt,
			UpdatedAt:     conv.UpdatedAt,
			SystemPrompt:  conv.SystemPrompt,
			SelectedModel: conv.SelectedModel,
			Parameters:    conv.Params,
		},
		Messages: make([]TranscriptMessage, 0, len(messages)),
	}

	for _, m := range messages {
		t.Messages = append(t.Messages, TranscriptMessage{
			ID:        m.ID,
			Role:      string(m.Role),
			Content:   m.Content,
			Model:     m.Model,
			Timestamp: m.CreatedAt,
			Tokens:    m.Usage,
		})
	}
	return t
}
