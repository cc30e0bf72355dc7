// Copyright (c) 2025 Driftchat Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/driftchat/driftchat/internal/config"
	"github.com/driftchat/driftchat/internal/model"
	"github.com/driftchat/driftchat/internal/provider"
	"github.com/driftchat/driftchat/internal/session"
)

// newController builds a controller against a test server acting as a
// local NDJSON provider.
func newController(t *testing.T, serverURL string, opts Options) *Controller {
	t.Helper()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Provider.BaseURL = serverURL
	cfg.Chat.SystemPrompt = "Be brief."
	cfg.Storage.DatabasePath = filepath.Join(dir, "chat.db")
	cfg.Storage.QueuePath = filepath.Join(dir, "queue.json")
	cfg.SetDefaults()

	opts.Config = cfg
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// ndjsonServer streams a canned two-chunk reply.
func ndjsonServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return // connectivity probe
		}
		w.Write([]byte(`{"message":{"content":"Hi the"},"done":false}` + "\n"))
		w.Write([]byte(`{"message":{"content":"re!"},"done":true,"prompt_eval_count":12,"eval_count":34}` + "\n"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSendCreatesConversationLazily(t *testing.T) {
	srv := ndjsonServer(t)
	c := newController(t, srv.URL, Options{})
	ctx := context.Background()

	if c.Active() != nil {
		t.Fatal("conversation exists before first send")
	}

	msg, err := c.Send(ctx, "Hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	conv := c.Active()
	if conv == nil {
		t.Fatal("no conversation after send")
	}
	if conv.Title != "Hello" {
		t.Errorf("title = %q, want %q", conv.Title, "Hello")
	}
	if conv.ProviderType != provider.TypeOllama {
		t.Errorf("provider = %q", conv.ProviderType)
	}

	if msg.Content != "Hi there!" {
		t.Errorf("assistant content = %q", msg.Content)
	}

	messages, err := c.Messages(ctx)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("persisted %d messages, want 2", len(messages))
	}
	if messages[0].Role != model.RoleUser || messages[1].Role != model.RoleAssistant {
		t.Errorf("roles = %q, %q", messages[0].Role, messages[1].Role)
	}

	// Token accounting: 12 + 34 accumulated on the conversation.
	stored, err := c.Switch(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if stored.TotalTokens != 46 {
		t.Errorf("conversation tokens = %d, want 46", stored.TotalTokens)
	}
}

func TestSendOfflineQueues(t *testing.T) {
	srv := ndjsonServer(t)
	c := newController(t, srv.URL, Options{})
	ctx := context.Background()

	c.Network().Force(false)

	_, err := c.Send(ctx, "queued hello")
	if !errors.Is(err, ErrQueued) {
		t.Fatalf("Send = %v, want ErrQueued", err)
	}

	items := c.Queue().List()
	if len(items) != 1 {
		t.Fatalf("queue has %d items, want 1", len(items))
	}
	if items[0].Content != "queued hello" {
		t.Errorf("queued content = %q", items[0].Content)
	}

	// The conversation exists so the drain has somewhere to send.
	if c.Active() == nil {
		t.Error("offline send did not create the conversation")
	}

	// Nothing persisted yet: the queue owns the text until handoff.
	messages, err := c.Messages(ctx)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("persisted %d messages while queued, want 0", len(messages))
	}
}

func TestDrainDeliversQueued(t *testing.T) {
	srv := ndjsonServer(t)
	c := newController(t, srv.URL, Options{})
	ctx := context.Background()

	c.Network().Force(false)
	if _, err := c.Send(ctx, "while offline"); !errors.Is(err, ErrQueued) {
		t.Fatal("expected queued send")
	}

	c.Network().ClearForce()
	c.Queue().RetryAll(ctx)

	if c.Queue().Len() != 0 {
		t.Error("queue not empty after drain")
	}

	messages, err := c.Messages(ctx)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("persisted %d messages after drain, want 2", len(messages))
	}
	if messages[0].Content != "while offline" {
		t.Errorf("user turn = %q", messages[0].Content)
	}
	if messages[1].Content != "Hi there!" {
		t.Errorf("assistant turn = %q", messages[1].Content)
	}
}

// TestDrainAccumulatesTokensForOneConversation queues several messages
// against the same conversation and drains them concurrently: the
// conversation's cumulative token count must reflect every exchange,
// with no update lost to an interleaved read-modify-write.
func TestDrainAccumulatesTokensForOneConversation(t *testing.T) {
	srv := ndjsonServer(t)
	c := newController(t, srv.URL, Options{})
	ctx := context.Background()

	c.Network().Force(false)
	const queued = 3
	for i := 0; i < queued; i++ {
		if _, err := c.Send(ctx, fmt.Sprintf("offline %d", i)); !errors.Is(err, ErrQueued) {
			t.Fatal("expected queued send")
		}
	}

	c.Network().ClearForce()
	c.Queue().RetryAll(ctx)

	if c.Queue().Len() != 0 {
		t.Error("queue not empty after drain")
	}

	conv := c.Active()
	if conv == nil {
		t.Fatal("no active conversation")
	}
	got, err := c.Switch(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Switch: %v", err)
	}
	// Each exchange reports 46 total tokens.
	if want := queued * 46; got.TotalTokens != want {
		t.Errorf("TotalTokens = %d, want %d", got.TotalTokens, want)
	}

	messages, err := c.Messages(ctx)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(messages) != queued*2 {
		t.Errorf("persisted %d messages, want %d", len(messages), queued*2)
	}
}

func TestFailedDrainKeepsItemAndHistoryClean(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return
		}
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newController(t, srv.URL, Options{})
	ctx := context.Background()

	c.Network().Force(false)
	if _, err := c.Send(ctx, "doomed"); !errors.Is(err, ErrQueued) {
		t.Fatal("expected queued send")
	}
	c.Network().ClearForce()

	c.Queue().RetryAll(ctx)

	// First failed attempt: item still queued with one retry burned,
	// and no history written.
	items := c.Queue().List()
	if len(items) != 1 || items[0].Retries != 1 {
		t.Fatalf("queue after failed drain = %+v", items)
	}
	messages, err := c.Messages(ctx)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("failed drain wrote %d messages, want 0", len(messages))
	}
}

func TestNewSendCancelsInFlight(t *testing.T) {
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return
		}
		n := calls.Add(1)
		flusher := w.(http.Flusher)
		w.Write([]byte(`{"message":{"content":"slow "},"done":false}` + "\n"))
		flusher.Flush()
		started <- struct{}{}
		if n == 1 {
			<-release // first request hangs until the test ends
			return
		}
		w.Write([]byte(`{"message":{"content":"fast"},"done":true}` + "\n"))
	}))
	defer srv.Close()
	defer close(release)

	c := newController(t, srv.URL, Options{})
	ctx := context.Background()

	firstDone := make(chan *model.Message, 1)
	go func() {
		msg, _ := c.Send(ctx, "first")
		firstDone <- msg
	}()
	<-started

	second, err := c.Send(ctx, "second")
	if err != nil {
		t.Fatalf("second Send: %v", err)
	}
	if !strings.Contains(second.Content, "fast") {
		t.Errorf("second reply = %q", second.Content)
	}

	select {
	case first := <-firstDone:
		if !strings.HasSuffix(first.Content, session.CancelMarker) {
			t.Errorf("first reply %q not finalized as cancelled", first.Content)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("first session never finalized after being superseded")
	}
}

func TestDeleteActiveConversation(t *testing.T) {
	srv := ndjsonServer(t)
	c := newController(t, srv.URL, Options{})
	ctx := context.Background()

	if _, err := c.Send(ctx, "Hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	id := c.Active().ID

	if err := c.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if c.Active() != nil {
		t.Error("deleted conversation still active")
	}

	list, err := c.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("conversations = %d, want 0", len(list))
	}
}

func TestExportThroughController(t *testing.T) {
	srv := ndjsonServer(t)
	c := newController(t, srv.URL, Options{})
	ctx := context.Background()

	if _, err := c.Send(ctx, "Hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	dir := t.TempDir()
	path, err := c.Export(ctx, c.Active().ID, "json", dir)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !strings.HasSuffix(path, ".json") {
		t.Errorf("path = %q", path)
	}

	if _, err := c.Export(ctx, c.Active().ID, "docx", dir); err == nil {
		t.Error("unknown format accepted")
	}
}

func TestSetModel(t *testing.T) {
	srv := ndjsonServer(t)
	c := newController(t, srv.URL, Options{})
	ctx := context.Background()

	if _, err := c.Send(ctx, "Hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if err := c.SetModel(ctx, "mistral"); err != nil {
		t.Fatalf("SetModel: %v", err)
	}
	conv, err := c.Switch(ctx, c.Active().ID)
	if err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if conv.SelectedModel != "mistral" {
		t.Errorf("model = %q, want mistral", conv.SelectedModel)
	}
}
