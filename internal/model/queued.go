// Copyright (c) 2025 Driftchat Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
)

// QueuedMessage is a user message composed while offline, held durably
// until it can be replayed through the normal send path. Timestamps
// marshal as ISO-8601 strings in the durable form.
type QueuedMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	Retries        int       `json:"retries"`
}

// NewQueuedMessage creates a queue entry with a zero retry counter.
func NewQueuedMessage(conversationID, content string, ts time.Time) *QueuedMessage {
	return &QueuedMessage{
		ID:             "queued_" + uuid.New().String(),
		ConversationID: conversationID,
		Content:        content,
		Timestamp:      ts,
	}
}
