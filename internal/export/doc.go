// Copyright (c) 2025 Driftchat Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes conversation transcripts to files.
//
// The JSON exporter produces the stable transcript interchange format;
// the Markdown exporter produces a human-readable rendering. Both take
// the conversation and its messages straight from the store.
package export
