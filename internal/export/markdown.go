// Copyright (c) 2025 Driftchat Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/driftchat/driftchat/internal/model"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter renders a human-readable transcript.
type MarkdownExporter struct {
	// IncludeThinking renders <details> blocks for reasoning traces.
	IncludeThinking bool
}

// NewMarkdownExporter creates a Markdown exporter.
func NewMarkdownExporter() *MarkdownExporter {
	return &MarkdownExporter{IncludeThinking: true}
}

// Export implements Exporter.
func (e *MarkdownExporter) Export(conv *model.Conversation, messages []*model.Message) ([]byte, error) {
	if conv == nil {
		return nil, fmt.Errorf("conversation is nil")
	}

	var sb strings.Builder

	sb.WriteString("---\n")
	sb.WriteString(fmt.Sprintf("title: %s\n", conv.Title))
	sb.WriteString(fmt.Sprintf("model: %s\n", conv.SelectedModel))
	sb.WriteString(fmt.Sprintf("provider: %s\n", conv.ProviderType))
	sb.WriteString(fmt.Sprintf("date: %s\n", conv.CreatedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("updated: %s\n", conv.UpdatedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("messages: %d\n", len(messages)))
	if conv.TotalTokens > 0 {
		sb.WriteString(fmt.Sprintf("tokens: %d\n", conv.TotalTokens))
	}
	sb.WriteString(fmt.Sprintf("exported: %s\n", time.Now().Format(time.RFC3339)))
	sb.WriteString("generator: driftchat\n")
	sb.WriteString("---\n\n")

	sb.WriteString(fmt.Sprintf("# %s\n\n", conv.Title))

	if conv.SystemPrompt != "" {
		sb.WriteString("## System Prompt\n\n")
		sb.WriteString(fmt.Sprintf("> %s\n\n", strings.ReplaceAll(conv.SystemPrompt, "\n", "\n> ")))
	}

	sb.WriteString("## Conversation\n\n")

	for _, msg := range messages {
		sb.WriteString(fmt.Sprintf("### %s <sub>%s</sub>\n\n",
			roleLabel(msg.Role), msg.CreatedAt.Format("15:04:05")))

		if e.IncludeThinking && msg.Thinking != "" {
			sb.WriteString("<details><summary>Thinking</summary>\n\n")
			sb.WriteString(msg.Thinking)
			sb.WriteString("\n\n</details>\n\n")
		}

		sb.WriteString(msg.Content)
		sb.WriteString("\n\n")

		if msg.Usage.Total > 0 {
			sb.WriteString(fmt.Sprintf("<sub>%d tokens</sub>\n\n", msg.Usage.Total))
		}
	}

	return []byte(sb.String()), nil
}

// FileExtension implements Exporter.
func (e *MarkdownExporter) FileExtension() string { return ".md" }

// MimeType implements Exporter.
func (e *MarkdownExporter) MimeType() string { return "text/markdown" }

func roleLabel(role model.Role) string {
	switch role {
	case model.RoleUser:
		return "You"
	case model.RoleAssistant:
		return "Assistant"
	default:
		return string(role)
	}
}
