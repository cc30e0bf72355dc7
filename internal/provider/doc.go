// Copyright (c) 2025 Driftchat Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider maps a provider identifier to the concrete shape of
// its chat-completion HTTP API: base URL, chat path, auth header style,
// and streaming framing. The registry is resolved once at session start
// so a streaming session's behavior is a pure function of the endpoint
// it was handed, never of ambient settings.
package provider
