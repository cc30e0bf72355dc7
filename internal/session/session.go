// Copyright (c) 2025 Driftchat Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/driftchat/driftchat/internal/model"
	"github.com/driftchat/driftchat/internal/provider"
	"github.com/driftchat/driftchat/internal/stream"
	"github.com/driftchat/driftchat/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// CancelMarker is appended to the visible content when a stream is
	// stopped by the user. Partial content before the marker is kept.
	CancelMarker = "\n\n[generation stopped]"

	// maxErrorLen bounds the error string stored in a failed message.
	maxErrorLen = 200

	// maxErrorBodyRead caps how much of a non-2xx response body is read.
	maxErrorBodyRead = 64 * 1024
)

// Error variables for session-level failures.
var (
	// ErrAlreadyStarted indicates Start was called twice on one session.
	ErrAlreadyStarted = errors.New("session already started")

	// ErrNoTarget indicates Start was called without a target message.
	ErrNoTarget = errors.New("session has no target message")
)

// sharedStreamingClient is used for all streaming requests. No client
// timeout: lifetime is controlled by the request context.
var sharedStreamingClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
}

// =============================================================================
// STATE MACHINE
// =============================================================================

// State is the lifecycle state of one streaming exchange.
type State int

const (
	// StateIdle means the session has been created but not started.
	StateIdle State = iota

	// StateSending covers request construction and the wait for headers.
	StateSending

	// StateStreaming covers chunk consumption.
	StateStreaming

	// StateCompleted means the final message was persisted normally.
	StateCompleted

	// StateFailed means the message was persisted with an error string.
	StateFailed

	// StateCancelled means partial content plus the cancel marker was
	// persisted.
	StateCancelled
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is one of the three end states.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// =============================================================================
// SESSION
// =============================================================================

// PersistFunc stores a finalized message. It is invoked exactly once
// per session, whatever the terminal state.
type PersistFunc func(msg *model.Message) error

// UpdateFunc observes live mutations of the target message. It runs on
// the session's goroutine and must not block.
type UpdateFunc func(msg *model.Message)

// Config carries everything one exchange needs. The session never
// reads ambient configuration: the caller snapshots provider, model
// and sampling parameters here.
type Config struct {
	// Client is the HTTP client to use. Nil selects the shared pooled
	// streaming client.
	Client *http.Client

	// Endpoint is the resolved provider endpoint.
	Endpoint provider.Endpoint

	// BaseURL overrides the endpoint's default base URL when set.
	BaseURL string

	// APIKey is applied per the endpoint's auth style.
	APIKey string

	// Model is the model identifier sent in the request body.
	Model string

	// Params are the sampling parameters.
	Params provider.Params

	// OnUpdate, if set, is called after every applied delta.
	OnUpdate UpdateFunc

	// Persist stores the finalized message. Required.
	Persist PersistFunc
}

// Session is one streaming exchange. Not reusable.
type Session struct {
	cfg Config

	mu        sync.Mutex
	state     State
	finalized bool
	msg       *model.Message
	cancel    context.CancelFunc

	splitter stream.Splitter
	usage    model.Usage
	gotUsage bool

	live *Liveness
}

// New creates an idle session.
func New(cfg Config) *Session {
	if cfg.Client == nil {
		cfg.Client = sharedStreamingClient
	}
	return &Session{
		cfg:   cfg,
		state: StateIdle,
		live:  NewLiveness(),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Liveness returns the session's liveness token. Callers gate their
// own asynchronous work on it so a superseded session cannot mutate
// shared state.
func (s *Session) Liveness() *Liveness {
	return s.live
}

// Usage returns the usage recorded on the finalized message.
func (s *Session) Usage() model.Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// Cancel stops the exchange. The token is revoked first so no further
// message mutation happens, then the body read is aborted. Safe to
// call at any time, including after the session ended.
func (s *Session) Cancel() {
	s.live.Revoke()

	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Start runs the exchange to a terminal state. The target message must
// be a loading assistant message; deltas are appended to it in arrival
// order. messages is the full neutral history including the new user
// turn. Start blocks; run it on its own goroutine and use Cancel (or
// the parent context) to stop it.
//
// The returned error is nil for Completed and Cancelled (cancellation
// is a partial-result terminal path, not a failure) and non-nil for
// Failed.
func (s *Session) Start(ctx context.Context, target *model.Message, messages []provider.ChatMessage) error {
	if target == nil {
		return ErrNoTarget
	}

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.msg = target
	s.state = StateSending
	s.mu.Unlock()
	defer cancel()

	resp, err := s.send(ctx, messages)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return s.finalizeCancelled(messages)
		}
		return s.finalizeFailed(err)
	}
	defer resp.Body.Close()

	s.setState(StateStreaming)

	err = s.consume(ctx, resp.Body, messages)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return s.finalizeCancelled(messages)
		}
		return s.finalizeFailed(err)
	}

	return s.finalizeCompleted(messages)
}

// send builds and issues the POST, returning a non-nil body on 2xx.
func (s *Session) send(ctx context.Context, messages []provider.ChatMessage) (*http.Response, error) {
	body, err := provider.BuildRequestBody(s.cfg.Endpoint, s.cfg.Model, messages, s.cfg.Params)
	if err != nil {
		return nil, err
	}

	baseURL := s.cfg.BaseURL
	if baseURL == "" {
		baseURL = s.cfg.Endpoint.BaseURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+s.cfg.Endpoint.ChatPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	provider.ApplyAuth(req, s.cfg.Endpoint, s.cfg.APIKey)

	resp, err := s.cfg.Client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyRead))
		resp.Body.Close()
		return nil, provider.NewError(resp.StatusCode, string(errBody))
	}

	return resp, nil
}

// consume drives the decoder, applying events until the stream ends.
// Cancellation is checked before and after every read so no mutation
// follows a cancel.
func (s *Session) consume(ctx context.Context, body io.Reader, messages []provider.ChatMessage) error {
	dec := stream.NewDecoder(body, s.cfg.Endpoint.Framing)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ev, err := dec.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		switch ev.Kind {
		case stream.EventDelta:
			s.applyDelta(ev.Text)
		case stream.EventFinal:
			s.recordUsage(ev)
		case stream.EventEnd:
			return nil
		}
	}
}

// applyDelta routes one fragment through the splitter and appends the
// resulting visible and thinking text. Mutation is gated on liveness.
func (s *Session) applyDelta(text string) {
	if !s.live.Active() {
		return
	}

	s.mu.Lock()
	out := s.splitter.Consume(text)
	s.msg.AppendContent(out.Visible)
	s.msg.AppendThinking(out.Thinking)
	s.msg.IsThinking = s.splitter.InThinking()
	msg := s.msg
	onUpdate := s.cfg.OnUpdate
	s.mu.Unlock()

	if onUpdate != nil {
		onUpdate(msg)
	}
}

// recordUsage accumulates provider-supplied usage. Provider figures
// win over any estimate; an absent total defaults to prompt+completion.
func (s *Session) recordUsage(ev stream.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gotUsage = true
	s.usage.Prompt = ev.PromptTokens
	s.usage.Completion = ev.CompletionTokens
	if ev.TotalTokens > 0 {
		s.usage.Total = ev.TotalTokens
	} else {
		s.usage.Total = ev.PromptTokens + ev.CompletionTokens
	}
}

// =============================================================================
// FINALIZATION
// =============================================================================

// finalizeCompleted persists the message with final content and usage,
// estimating usage when the provider supplied none.
func (s *Session) finalizeCompleted(messages []provider.ChatMessage) error {
	s.mu.Lock()
	if s.finalized {
		s.mu.Unlock()
		return nil
	}
	s.finalized = true

	if !s.gotUsage {
		s.usage.Prompt = estimatePrompt(messages)
		s.usage.Completion = model.EstimateTokens(s.msg.Content)
		s.usage.Total = s.usage.Prompt + s.usage.Completion
	}

	s.msg.Usage = s.usage
	s.msg.IsLoading = false
	s.msg.IsThinking = false
	s.state = StateCompleted
	msg := s.msg
	s.mu.Unlock()

	s.live.Revoke()
	return s.cfg.Persist(msg)
}

// finalizeCancelled appends the cancel marker to whatever visible
// content accumulated and persists that partial state. Not a failure.
func (s *Session) finalizeCancelled(messages []provider.ChatMessage) error {
	s.mu.Lock()
	if s.finalized {
		s.mu.Unlock()
		return nil
	}
	s.finalized = true

	s.msg.AppendContent(CancelMarker)
	if !s.gotUsage {
		s.usage.Prompt = estimatePrompt(messages)
		s.usage.Completion = model.EstimateTokens(s.msg.Content)
		s.usage.Total = s.usage.Prompt + s.usage.Completion
	}
	s.msg.Usage = s.usage
	s.msg.IsLoading = false
	s.msg.IsThinking = false
	s.state = StateCancelled
	msg := s.msg
	s.mu.Unlock()

	s.live.Revoke()
	return s.cfg.Persist(msg)
}

// finalizeFailed replaces the content with a bounded error string,
// zeroes usage and persists. Returns the original error.
func (s *Session) finalizeFailed(cause error) error {
	s.mu.Lock()
	if s.finalized {
		s.mu.Unlock()
		return cause
	}
	s.finalized = true

	s.msg.Content = util.TruncateRunes(util.OneLine("Error: "+cause.Error()), maxErrorLen)
	s.msg.Thinking = ""
	s.usage = model.Usage{}
	s.msg.Usage = model.Usage{}
	s.msg.IsLoading = false
	s.msg.IsThinking = false
	s.state = StateFailed
	msg := s.msg
	s.mu.Unlock()

	s.live.Revoke()
	if err := s.cfg.Persist(msg); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// estimatePrompt estimates prompt tokens from the outbound message
// texts (system prompt plus prior turns plus the new user turn).
func estimatePrompt(messages []provider.ChatMessage) int {
	total := 0
	for _, m := range messages {
		total += model.EstimateTokens(m.Content)
	}
	return total
}
