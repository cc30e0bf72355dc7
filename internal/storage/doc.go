// Copyright (c) 2025 Driftchat Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage is the persistent store for conversations, messages
// and saved system prompts, backed by SQLite.
//
// The store is the single source of truth for chat history. Deleting a
// conversation cascades to its messages. Transient message flags are
// never written.
package storage
