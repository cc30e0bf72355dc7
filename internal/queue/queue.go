// Copyright (c) 2025 Driftchat Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/driftchat/driftchat/internal/model"
	"github.com/driftchat/driftchat/internal/util"
)

// =============================================================================
// CONSTANTS AND ERRORS
// =============================================================================

const (
	// MaxAttempts is the total send-attempt budget per item.
	MaxAttempts = 3

	// DefaultDrainDelay is the stabilization wait between an
	// offline-to-online transition and the automatic drain, so flapping
	// connectivity does not thrash the queue.
	DefaultDrainDelay = 1500 * time.Millisecond

	// eventBuffer sizes the notification channel.
	eventBuffer = 100

	// queueFileMode is the permission for the durable queue file.
	queueFileMode = 0o600
)

var (
	// ErrNotFound indicates the id is not in the queue.
	ErrNotFound = errors.New("queued message not found")

	// ErrNoSender indicates the queue was built without a send path.
	ErrNoSender = errors.New("queue has no sender")
)

// =============================================================================
// EVENTS
// =============================================================================

// EventKind discriminates queue notifications.
type EventKind int

const (
	// EventEnqueued fires when an item is added.
	EventEnqueued EventKind = iota

	// EventSent fires when an item was delivered and removed.
	EventSent

	// EventRetryFailed fires when one attempt failed and the item
	// stays queued.
	EventRetryFailed

	// EventExhausted fires when an item used its full attempt budget
	// and was removed.
	EventExhausted
)

// String returns a human-readable event name.
func (k EventKind) String() string {
	switch k {
	case EventEnqueued:
		return "enqueued"
	case EventSent:
		return "sent"
	case EventRetryFailed:
		return "retry_failed"
	case EventExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Event is one queue notification.
type Event struct {
	Kind    EventKind
	Message model.QueuedMessage
	Err     error
}

// =============================================================================
// QUEUE
// =============================================================================

// Sender delivers one queued message over the same path used for
// online sends. A nil error means delivered.
type Sender func(ctx context.Context, msg model.QueuedMessage) error

// Queue is the durable offline message queue. All methods are safe for
// concurrent use.
type Queue struct {
	mu       sync.Mutex
	items    []model.QueuedMessage
	path     string
	sender   Sender
	draining bool

	events chan Event
}

// queueFile is the durable on-disk form.
type queueFile struct {
	Messages []model.QueuedMessage `json:"messages"`
}

// Open loads (or initializes) the queue backed by the given file.
func Open(path string, sender Sender) (*Queue, error) {
	q := &Queue{
		path:   path,
		sender: sender,
		events: make(chan Event, eventBuffer),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return q, nil
		}
		return nil, err
	}

	var file queueFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	q.items = file.Messages
	return q, nil
}

// Events returns the notification channel. Notifications are dropped
// rather than blocking queue operations when the consumer lags.
func (q *Queue) Events() <-chan Event {
	return q.events
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// List returns a snapshot of the queued items in FIFO order.
func (q *Queue) List() []model.QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]model.QueuedMessage, len(q.items))
	copy(out, q.items)
	return out
}

// Enqueue appends a message with a zero retry count and writes through
// before returning. ts records when the text was composed, so a drain
// replays it with its original timestamp.
func (q *Queue) Enqueue(conversationID, content string, ts time.Time) (model.QueuedMessage, error) {
	msg := *model.NewQueuedMessage(conversationID, content, ts)

	q.mu.Lock()
	q.items = append(q.items, msg)
	err := q.saveLocked()
	if err != nil {
		q.items = q.items[:len(q.items)-1]
	}
	q.mu.Unlock()

	if err != nil {
		return model.QueuedMessage{}, err
	}
	q.notify(Event{Kind: EventEnqueued, Message: msg})
	return msg, nil
}

// Remove deletes one item from memory and disk atomically.
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeLocked(id)
}

// Clear empties the queue.
func (q *Queue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	return q.saveLocked()
}

// Retry attempts to resend exactly one item. Success removes it and
// fires a sent event. Failure increments its counter; reaching the
// attempt budget removes it and fires an exhausted event instead.
func (q *Queue) Retry(ctx context.Context, id string) error {
	if q.sender == nil {
		return ErrNoSender
	}

	q.mu.Lock()
	idx := q.indexLocked(id)
	if idx < 0 {
		q.mu.Unlock()
		return ErrNotFound
	}
	msg := q.items[idx]
	q.mu.Unlock()

	sendErr := q.sender(ctx, msg)

	q.mu.Lock()
	defer q.mu.Unlock()

	// The item may have been removed while the send was in flight.
	idx = q.indexLocked(id)
	if idx < 0 {
		return nil
	}

	if sendErr == nil {
		if err := q.removeLocked(id); err != nil {
			return err
		}
		q.notify(Event{Kind: EventSent, Message: msg})
		return nil
	}

	q.items[idx].Retries++
	msg = q.items[idx]

	if msg.Retries >= MaxAttempts {
		if err := q.removeLocked(id); err != nil {
			return err
		}
		q.notify(Event{Kind: EventExhausted, Message: msg, Err: sendErr})
		return nil
	}

	if err := q.saveLocked(); err != nil {
		return err
	}
	q.notify(Event{Kind: EventRetryFailed, Message: msg, Err: sendErr})
	return nil
}

// RetryAll attempts every queued item concurrently. All items are
// attempted regardless of individual failures; RetryAll returns after
// every attempt has settled.
func (q *Queue) RetryAll(ctx context.Context) {
	ids := make([]string, 0)
	q.mu.Lock()
	for _, m := range q.items {
		ids = append(ids, m.ID)
	}
	q.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := q.Retry(ctx, id); err != nil && err != ErrNotFound {
				log.Printf("queue: retry %s: %v", id, err)
			}
		}(id)
	}
	wg.Wait()
}

// =============================================================================
// AUTO-DRAIN
// =============================================================================

// AutoDrain watches connectivity transitions and runs RetryAll after
// each offline-to-online transition, waiting out the stabilization
// delay first. A transition arriving while a drain is in progress is
// ignored (no overlapping drains). Blocks until ctx is cancelled or
// the transitions channel closes; run it on its own goroutine.
func (q *Queue) AutoDrain(ctx context.Context, transitions <-chan bool, delay time.Duration) {
	if delay <= 0 {
		delay = DefaultDrainDelay
	}

	for {
		select {
		case <-ctx.Done():
			return
		case online, ok := <-transitions:
			if !ok {
				return
			}
			if !online || q.Len() == 0 {
				continue
			}

			q.mu.Lock()
			if q.draining {
				q.mu.Unlock()
				continue
			}
			q.draining = true
			q.mu.Unlock()

			select {
			case <-ctx.Done():
				q.setDraining(false)
				return
			case <-time.After(delay):
			}

			q.RetryAll(ctx)
			q.setDraining(false)
		}
	}
}

func (q *Queue) setDraining(v bool) {
	q.mu.Lock()
	q.draining = v
	q.mu.Unlock()
}

// =============================================================================
// INTERNAL
// =============================================================================

// indexLocked finds an item by id. Caller holds mu.
func (q *Queue) indexLocked(id string) int {
	for i, m := range q.items {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// removeLocked deletes one item and writes through. Caller holds mu.
func (q *Queue) removeLocked(id string) error {
	idx := q.indexLocked(id)
	if idx < 0 {
		return ErrNotFound
	}
	q.items = append(q.items[:idx], q.items[idx+1:]...)
	return q.saveLocked()
}

// saveLocked writes the durable form atomically. Caller holds mu.
func (q *Queue) saveLocked() error {
	data, err := json.MarshalIndent(queueFile{Messages: q.items}, "", "  ")
	if err != nil {
		return err
	}
	return util.AtomicWriteFile(q.path, data, queueFileMode)
}

// notify delivers an event without blocking.
func (q *Queue) notify(ev Event) {
	select {
	case q.events <- ev:
	default:
		log.Printf("queue: event channel full, dropped %s for %s", ev.Kind, ev.Message.ID)
	}
}
