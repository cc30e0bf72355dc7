// Copyright (c) 2025 Driftchat Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package netstatus tracks reachability of the active provider.
//
// A Watcher probes the provider base URL in the background and on
// demand, rate-limited so hot paths can ask "are we online" freely
// without generating probe traffic. Transitions are published on a
// buffered event channel; consumers that fall behind lose events, not
// progress. A manual override supports a forced-offline mode and
// deterministic tests.
package netstatus
