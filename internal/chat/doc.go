// Copyright (c) 2025 Driftchat Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat is the conversation controller.
//
// It owns the active conversation, enforces the one-active-session
// rule (a new send cancels any in-flight stream before starting), and
// decides between the online path (stream now) and the offline path
// (enqueue, drain later through the same send machinery). It is the
// only component that snapshots configuration into a session.
package chat
