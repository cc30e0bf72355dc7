// Copyright (c) 2025 Driftchat Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and manages driftchat configuration.
//
// Configuration lives in TOML at ~/.driftchat/config.toml, with
// built-in defaults and DRIFTCHAT_* environment overrides applied on
// top. Saved files are written atomically with owner-only permissions
// since they can hold API keys. A Watcher reports debounced edits so
// the UI can pick up settings changes without restarting; the send
// path never reads the live config, it gets a snapshot at session
// start.
package config
