// Copyright (c) 2025 Driftchat Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/driftchat/driftchat/internal/config"
	"github.com/driftchat/driftchat/internal/export"
	"github.com/driftchat/driftchat/internal/model"
	"github.com/driftchat/driftchat/internal/netstatus"
	"github.com/driftchat/driftchat/internal/provider"
	"github.com/driftchat/driftchat/internal/queue"
	"github.com/driftchat/driftchat/internal/session"
	"github.com/driftchat/driftchat/internal/storage"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrQueued reports that the message was stored in the offline
	// queue instead of being sent. Not a failure.
	ErrQueued = errors.New("offline: message queued")

	// ErrNoConversation indicates an operation that needs an active
	// conversation ran without one.
	ErrNoConversation = errors.New("no active conversation")
)

// =============================================================================
// CONTROLLER
// =============================================================================

// Options wires the controller's collaborators.
type Options struct {
	// Config is the starting configuration snapshot.
	Config *config.Config

	// Client overrides the session HTTP client (tests).
	Client *http.Client

	// OnStream observes live assistant-message updates.
	OnStream session.UpdateFunc

	// DrainDelay overrides the queue stabilization delay.
	DrainDelay time.Duration
}

// Controller coordinates conversations, sessions, the store and the
// offline queue.
type Controller struct {
	store *storage.Store
	queue *queue.Queue
	net   *netstatus.Watcher

	client     *http.Client
	onStream   session.UpdateFunc
	drainDelay time.Duration

	mu     sync.Mutex
	cfg    *config.Config
	conv   *model.Conversation
	active *session.Session

	// drainMu serializes queue-drain exchanges so items for the same
	// conversation never update its record concurrently.
	drainMu sync.Mutex

	bg     context.CancelFunc
	bgDone sync.WaitGroup
}

// New builds a controller, opening the store and the durable queue at
// the configured paths.
func New(opts Options) (*Controller, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}

	store, err := storage.Open(opts.Config.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	c := &Controller{
		store:      store,
		client:     opts.Client,
		onStream:   opts.OnStream,
		drainDelay: opts.DrainDelay,
		cfg:        opts.Config,
	}

	q, err := queue.Open(opts.Config.Storage.QueuePath, c.sendQueued)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open queue: %w", err)
	}
	c.queue = q

	c.net = netstatus.NewWatcher(netstatus.Config{
		Target: opts.Config.ResolveBaseURL(),
	})

	return c, nil
}

// Start launches the connectivity watcher and the queue auto-drain.
func (c *Controller) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.bg = cancel

	c.bgDone.Add(2)
	go func() {
		defer c.bgDone.Done()
		c.net.Start(ctx)
	}()

	transitions := make(chan bool, 16)
	go func() {
		defer close(transitions)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-c.net.Events():
				if !ok {
					return
				}
				select {
				case transitions <- ev.Online:
				default:
				}
			}
		}
	}()
	go func() {
		defer c.bgDone.Done()
		c.queue.AutoDrain(ctx, transitions, c.drainDelay)
	}()
}

// Close cancels any in-flight session and releases resources.
func (c *Controller) Close() error {
	c.CancelActive()
	if c.bg != nil {
		c.bg()
		c.bgDone.Wait()
	}
	c.net.Close()
	return c.store.Close()
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Config returns the current configuration snapshot.
func (c *Controller) Config() *config.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// SetConfig swaps the configuration. In-flight sessions keep the
// snapshot they started with; the connectivity probe retargets.
func (c *Controller) SetConfig(cfg *config.Config) {
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
	c.net.SetTarget(cfg.ResolveBaseURL())
}

// Active returns the current conversation, or nil before the first
// send.
func (c *Controller) Active() *model.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conv
}

// Online reports the current connectivity state.
func (c *Controller) Online(ctx context.Context) bool {
	return c.net.Probe(ctx)
}

// Network exposes the connectivity watcher (forced-offline mode).
func (c *Controller) Network() *netstatus.Watcher {
	return c.net
}

// Queue exposes the offline queue for listing and manual retry.
func (c *Controller) Queue() *queue.Queue {
	return c.queue
}

// =============================================================================
// SENDING
// =============================================================================

// Send delivers one user turn. Online, it streams the reply into a
// persisted assistant message and blocks until the session reaches a
// terminal state. Offline, it persists the conversation if needed,
// queues the text and returns ErrQueued.
//
// Any session still in flight is cancelled first; its partial result
// is persisted by its own finalizer before the new exchange starts.
func (c *Controller) Send(ctx context.Context, text string) (*model.Message, error) {
	c.CancelActive()

	conv, err := c.ensureConversation(ctx, text)
	if err != nil {
		return nil, err
	}

	if !c.net.Probe(ctx) {
		if _, err := c.queue.Enqueue(conv.ID, text, time.Now().UTC()); err != nil {
			return nil, err
		}
		return nil, ErrQueued
	}

	return c.exchange(ctx, conv, text, time.Now().UTC(), false)
}

// CancelActive stops the in-flight session, if any.
func (c *Controller) CancelActive() {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()
	if active != nil {
		active.Cancel()
	}
}

// sendQueued is the queue's send path: the same exchange machinery,
// fed by drained items. Nothing is persisted on failure so a retried
// item never duplicates history. Drains are serialized: concurrent
// items for one conversation would otherwise race the read-modify-
// write of its cumulative token count.
func (c *Controller) sendQueued(ctx context.Context, qm model.QueuedMessage) error {
	c.drainMu.Lock()
	defer c.drainMu.Unlock()

	conv, err := c.store.GetConversation(ctx, qm.ConversationID)
	if err != nil {
		return err
	}
	_, err = c.exchange(ctx, conv, qm.Content, qm.Timestamp, true)
	return err
}

// exchange runs one full request/response cycle: build the outbound
// history, persist the user turn, stream the reply, account tokens.
func (c *Controller) exchange(ctx context.Context, conv *model.Conversation, text string, sentAt time.Time, fromQueue bool) (*model.Message, error) {
	history, err := c.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	messages := conv.BuildHistory(history, text)

	endpoint, err := provider.Resolve(conv.ProviderType)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	apiKey := c.cfg.Provider.APIKey
	c.mu.Unlock()

	userMsg := model.NewUserMessage(conv.ID, text)
	userMsg.CreatedAt = sentAt
	userMsg.Usage.Prompt = model.EstimateTokens(text)

	assistant := model.NewAssistantMessage(conv.ID, conv.SelectedModel)

	var sess *session.Session
	persist := func(m *model.Message) error {
		// A failed drained item stays in the queue; writing its turn
		// would duplicate history on the next attempt.
		if fromQueue && sess.State() == session.StateFailed {
			return nil
		}
		if err := c.store.AddMessage(ctx, userMsg); err != nil {
			return err
		}
		if err := c.store.AddMessage(ctx, m); err != nil {
			return err
		}
		conv.EnsureTitle(text)
		conv.AddTokens(m.Usage.Total)
		return c.store.UpdateConversation(ctx, conv)
	}

	sess = session.New(session.Config{
		Client:   c.client,
		Endpoint: endpoint,
		BaseURL:  conv.BaseURL,
		APIKey:   apiKey,
		Model:    conv.SelectedModel,
		Params:   conv.Params,
		OnUpdate: c.onStream,
		Persist:  persist,
	})

	// Drained items run in the background; only a foreground send
	// becomes the active session the one-active rule guards.
	if !fromQueue {
		c.mu.Lock()
		c.active = sess
		c.mu.Unlock()
	}

	err = sess.Start(ctx, assistant, messages)

	c.mu.Lock()
	if c.active == sess {
		c.active = nil
	}
	c.mu.Unlock()

	if err != nil {
		return assistant, err
	}
	return assistant, nil
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// ensureConversation creates the conversation lazily on first send,
// snapshotting the current provider settings into it.
func (c *Controller) ensureConversation(ctx context.Context, firstText string) (*model.Conversation, error) {
	c.mu.Lock()
	conv := c.conv
	cfg := c.cfg
	c.mu.Unlock()

	if conv != nil {
		return conv, nil
	}

	conv = model.NewConversation(cfg.ProviderType(), cfg.ResolveBaseURL(),
		cfg.Provider.Model, cfg.Chat.SystemPrompt, cfg.Params)
	conv.EnsureTitle(firstText)

	if err := c.store.AddConversation(ctx, conv); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.conv = conv
	c.mu.Unlock()
	return conv, nil
}

// NewConversation closes out the active conversation; the next send
// creates a fresh one from the current settings.
func (c *Controller) NewConversation() {
	c.CancelActive()
	c.mu.Lock()
	c.conv = nil
	c.mu.Unlock()
}

// Switch makes an existing conversation active.
func (c *Controller) Switch(ctx context.Context, id string) (*model.Conversation, error) {
	conv, err := c.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}

	c.CancelActive()
	c.mu.Lock()
	c.conv = conv
	c.mu.Unlock()
	return conv, nil
}

// List returns all conversations, most recently updated first.
func (c *Controller) List(ctx context.Context) ([]*model.Conversation, error) {
	return c.store.ListConversations(ctx)
}

// Messages returns the active conversation's transcript.
func (c *Controller) Messages(ctx context.Context) ([]*model.Message, error) {
	c.mu.Lock()
	conv := c.conv
	c.mu.Unlock()
	if conv == nil {
		return nil, ErrNoConversation
	}
	return c.store.ListMessages(ctx, conv.ID)
}

// Delete removes a conversation and its messages. Deleting the active
// conversation cancels any stream against it first.
func (c *Controller) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	isActive := c.conv != nil && c.conv.ID == id
	c.mu.Unlock()

	if isActive {
		c.CancelActive()
		c.mu.Lock()
		c.conv = nil
		c.mu.Unlock()
	}
	return c.store.DeleteConversation(ctx, id)
}

// SetModel changes the active conversation's model; without an active
// conversation it updates the default for the next one.
func (c *Controller) SetModel(ctx context.Context, name string) error {
	c.mu.Lock()
	conv := c.conv
	c.cfg.Provider.Model = name
	c.mu.Unlock()

	if conv == nil {
		return nil
	}
	conv.SelectedModel = name
	conv.Touch()
	return c.store.UpdateConversation(ctx, conv)
}

// Models lists the models the configured provider offers. Uses the
// active conversation's pinned provider when one exists, the global
// config otherwise.
func (c *Controller) Models(ctx context.Context) ([]provider.ModelInfo, error) {
	c.mu.Lock()
	pt := provider.Type(c.cfg.Provider.Type)
	baseURL := c.cfg.ResolveBaseURL()
	apiKey := c.cfg.Provider.APIKey
	if c.conv != nil {
		pt = c.conv.ProviderType
		baseURL = c.conv.BaseURL
	}
	c.mu.Unlock()

	ep, err := provider.Resolve(pt)
	if err != nil {
		return nil, err
	}
	client := c.client
	if client == nil {
		client = http.DefaultClient
	}
	return provider.ListModels(ctx, client, ep, baseURL, apiKey)
}

// =============================================================================
// EXPORT
// =============================================================================

// Export writes a conversation transcript to outputDir. format is
// "json" or "markdown".
func (c *Controller) Export(ctx context.Context, id, format, outputDir string) (string, error) {
	conv, err := c.store.GetConversation(ctx, id)
	if err != nil {
		return "", err
	}
	messages, err := c.store.ListMessages(ctx, id)
	if err != nil {
		return "", err
	}

	var exporter export.Exporter
	switch format {
	case "json", "":
		exporter = export.NewJSONExporter()
	case "markdown", "md":
		exporter = export.NewMarkdownExporter()
	default:
		return "", fmt.Errorf("unknown export format %q", format)
	}

	return export.ExportToFile(conv, messages, exporter, outputDir)
}
