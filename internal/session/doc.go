// Copyright (c) 2025 Driftchat Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session runs one streaming request/response exchange against
// a provider endpoint.
//
// A Session owns the stream decoder and the think-tag splitter for the
// duration of one exchange, applies deltas to the target message in
// arrival order, accumulates usage, and persists the final message
// exactly once regardless of how the exchange ends (completion,
// failure, or cancellation). Sessions are single-use: create one per
// send.
package session
