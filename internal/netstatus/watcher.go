// Copyright (c) 2025 Driftchat Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package netstatus

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

const (
	// DefaultInterval is the background probe period.
	DefaultInterval = 5 * time.Second

	// DefaultProbeTimeout bounds one reachability check.
	DefaultProbeTimeout = 3 * time.Second

	// probeBurst allows one immediate on-demand probe between refills.
	probeBurst = 1
)

// Config controls a Watcher.
type Config struct {
	// Target is the base URL whose reachability is tracked.
	Target string

	// Client is the HTTP client for probes. Nil gets a dedicated
	// client with DefaultProbeTimeout.
	Client *http.Client

	// Interval is the background probe period. Zero means
	// DefaultInterval.
	Interval time.Duration
}

// Event is one connectivity transition.
type Event struct {
	Online bool
	At     time.Time
}

// =============================================================================
// WATCHER
// =============================================================================

// Watcher tracks whether the provider endpoint is reachable.
type Watcher struct {
	client   *http.Client
	interval time.Duration
	limiter  *rate.Limiter

	mu     sync.RWMutex
	target string
	online bool
	forced *bool

	events chan Event
	stop   chan struct{}
	once   sync.Once
}

// NewWatcher creates a watcher. The initial state is online; the first
// probe corrects it if the target is unreachable.
func NewWatcher(cfg Config) *Watcher {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: DefaultProbeTimeout}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Watcher{
		client:   cfg.Client,
		interval: cfg.Interval,
		limiter:  rate.NewLimiter(rate.Every(cfg.Interval), probeBurst),
		target:   cfg.Target,
		online:   true,
		events:   make(chan Event, 16),
		stop:     make(chan struct{}),
	}
}

// Online reports the current connectivity state. A manual override
// wins over the probed state.
func (w *Watcher) Online() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.forced != nil {
		return *w.forced
	}
	return w.online
}

// Events returns the transition channel. Events are dropped, never
// blocked on, when the consumer falls behind.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// SetTarget switches the probed base URL, e.g. after a provider change.
func (w *Watcher) SetTarget(target string) {
	w.mu.Lock()
	w.target = target
	w.mu.Unlock()
}

// Force pins the connectivity state, overriding probes, until
// ClearForce. Forcing publishes a transition if the effective state
// changes.
func (w *Watcher) Force(online bool) {
	w.mu.Lock()
	was := w.effectiveLocked()
	w.forced = &online
	now := w.effectiveLocked()
	w.mu.Unlock()

	if was != now {
		w.publish(now)
	}
}

// ClearForce returns control to the probes.
func (w *Watcher) ClearForce() {
	w.mu.Lock()
	was := w.effectiveLocked()
	w.forced = nil
	now := w.effectiveLocked()
	w.mu.Unlock()

	if was != now {
		w.publish(now)
	}
}

// Close stops the background loop. Idempotent.
func (w *Watcher) Close() {
	w.once.Do(func() { close(w.stop) })
}

// Start runs the background probe loop until Close or ctx cancellation.
func (w *Watcher) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.Probe(ctx)
		}
	}
}

// Probe checks reachability now, subject to the rate limit: when a
// probe ran recently the cached state is returned without network
// traffic. Any HTTP response, whatever the status, counts as online;
// only transport-level failure counts as offline.
func (w *Watcher) Probe(ctx context.Context) bool {
	w.mu.RLock()
	forced := w.forced
	target := w.target
	w.mu.RUnlock()

	if forced != nil {
		return *forced
	}
	if target == "" || !w.limiter.Allow() {
		return w.Online()
	}

	online := w.check(ctx, target)
	w.setOnline(online)
	return w.Online()
}

func (w *Watcher) check(ctx context.Context, target string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return false
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

func (w *Watcher) setOnline(online bool) {
	w.mu.Lock()
	was := w.effectiveLocked()
	w.online = online
	now := w.effectiveLocked()
	w.mu.Unlock()

	if was != now {
		w.publish(now)
	}
}

// effectiveLocked resolves the override against the probed state.
// Caller holds mu.
func (w *Watcher) effectiveLocked() bool {
	if w.forced != nil {
		return *w.forced
	}
	return w.online
}

func (w *Watcher) publish(online bool) {
	select {
	case w.events <- Event{Online: online, At: time.Now()}:
	default:
	}
}
