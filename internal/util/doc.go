// Copyright (c) 2025 Driftchat Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small shared helpers for driftchat: crash-safe
// file writes and string helpers used by the storage and queue layers.
package util
