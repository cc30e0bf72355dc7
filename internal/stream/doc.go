// Copyright (c) 2025 Driftchat Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream turns a provider's chunked response body into a
// provider-neutral event sequence, and splits streamed content into
// visible and thinking sub-streams based on inline <think> markers.
//
// A Decoder is forward-only and good for exactly one request; framing
// (newline-delimited JSON vs Server-Sent-Events) is declared by the
// provider endpoint, never sniffed from the bytes.
package stream
