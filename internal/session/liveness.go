// Copyright (c) 2025 Driftchat Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import "sync/atomic"

// Liveness is the token that gates asynchronous mutations on "is this
// still the active session". It is threaded through the session and
// handed to callers instead of checking several independent flags; a
// superseded or terminated session revokes it once and every late
// callback sees the revocation.
type Liveness struct {
	active atomic.Bool
}

// NewLiveness returns an active token.
func NewLiveness() *Liveness {
	l := &Liveness{}
	l.active.Store(true)
	return l
}

// Active reports whether mutations are still permitted.
func (l *Liveness) Active() bool {
	return l.active.Load()
}

// Revoke permanently deactivates the token. Idempotent.
func (l *Liveness) Revoke() {
	l.active.Store(false)
}
