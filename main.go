// driftchat - offline-first terminal chat client for LLM providers.
//
// Copyright (c) 2025 Driftchat Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"

	"github.com/driftchat/driftchat/internal/chat"
	"github.com/driftchat/driftchat/internal/config"
	"github.com/driftchat/driftchat/internal/model"
	"github.com/driftchat/driftchat/internal/queue"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	thinkingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")).
			Italic(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	commandStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("13")).
			Bold(true)
)

// =============================================================================
// STREAM PRINTER
// =============================================================================

// streamPrinter renders live assistant updates as incremental deltas.
// It only prints for the foreground send: queued drains run in the
// background and surface through queue events instead, so their output
// never interleaves with the prompt.
type streamPrinter struct {
	mu         sync.Mutex
	foreground bool
	msgID      string
	visible    int
	thinking   int
	inThink    bool
}

func (p *streamPrinter) begin() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.foreground = true
	p.msgID = ""
	p.visible = 0
	p.thinking = 0
	p.inThink = false
}

func (p *streamPrinter) end() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.foreground = false
}

// Update implements session.UpdateFunc.
func (p *streamPrinter) Update(msg *model.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.foreground {
		return
	}
	if p.msgID == "" {
		p.msgID = msg.ID
	} else if p.msgID != msg.ID {
		return
	}

	if len(msg.Thinking) > p.thinking {
		if !p.inThink {
			fmt.Print(thinkingStyle.Render("[thinking] "))
			p.inThink = true
		}
		fmt.Print(thinkingStyle.Render(msg.Thinking[p.thinking:]))
		p.thinking = len(msg.Thinking)
	}
	if len(msg.Content) > p.visible {
		if p.inThink {
			fmt.Println()
			p.inThink = false
		}
		fmt.Print(assistantStyle.Render(msg.Content[p.visible:]))
		p.visible = len(msg.Content)
	}
}

// =============================================================================
// INPUT
// =============================================================================

// chatInput wraps liner with persistent command history stored next to
// the configuration file.
type chatInput struct {
	line        *liner.State
	historyFile string
}

func newChatInput() *chatInput {
	l := liner.NewLiner()
	l.SetCtrlCAborts(true)

	in := &chatInput{line: l}
	if dir, err := config.Dir(); err == nil {
		in.historyFile = filepath.Join(dir, "history")
		if f, err := os.Open(in.historyFile); err == nil {
			l.ReadHistory(f)
			f.Close()
		}
	}
	return in
}

func (in *chatInput) prompt(label string) (string, error) {
	input, err := in.line.Prompt(label)
	if err != nil {
		return "", err
	}
	if trimmed := strings.TrimSpace(input); trimmed != "" {
		in.line.AppendHistory(trimmed)
	}
	return input, nil
}

func (in *chatInput) close() {
	if in.historyFile != "" {
		if f, err := os.OpenFile(in.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			in.line.WriteHistory(f)
			f.Close()
		}
	}
	in.line.Close()
}

// =============================================================================
// MAIN
// =============================================================================

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-v") {
		fmt.Printf("driftchat %s (%s, built %s)\n", Version, GitCommit, BuildDate)
		return
	}

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.EnsureDir(); err != nil {
		return fmt.Errorf("failed to prepare config dir: %w", err)
	}

	printer := &streamPrinter{}
	ctrl, err := chat.New(chat.Options{
		Config:   cfg,
		OnStream: printer.Update,
	})
	if err != nil {
		return err
	}
	defer ctrl.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctrl.Start(ctx)

	// Hot-reload configuration edits. A failed reload keeps the
	// running config, so errors here are not fatal.
	cfgPath, err := config.Path()
	if err == nil {
		if w, werr := config.NewWatcher(cfgPath, config.DefaultDebounce, func(next *config.Config) {
			ctrl.SetConfig(next)
			fmt.Println()
			fmt.Println(infoStyle.Render("[Config] reloaded"))
		}); werr == nil {
			defer w.Close()
		}
	}

	go watchQueueEvents(ctx, ctrl.Queue().Events())

	// Ctrl+C during streaming stops the generation in place; the
	// partial response is kept. Ctrl+C at the prompt is handled by
	// liner as an abort.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			ctrl.CancelActive()
		}
	}()

	input := newChatInput()
	defer input.close()

	printWelcome(ctrl)

	for {
		text, err := input.prompt(promptStyle.Render("you> "))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				fmt.Println(infoStyle.Render("Goodbye!"))
				return nil
			}
			if err.Error() == "EOF" {
				fmt.Println()
				return nil
			}
			return err
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if text == "exit" || text == "quit" {
			printExitSummary(ctrl)
			return nil
		}
		if strings.HasPrefix(text, "/") {
			keepGoing, err := handleCommand(ctx, ctrl, text)
			if err != nil {
				fmt.Println(errorStyle.Render("Error: " + err.Error()))
			}
			if !keepGoing {
				printExitSummary(ctrl)
				return nil
			}
			continue
		}

		sendMessage(ctx, ctrl, printer, text)
	}
}

// sendMessage runs one exchange, rendering the streamed reply as it
// arrives. Offline sends queue silently and report the queue depth.
func sendMessage(ctx context.Context, ctrl *chat.Controller, printer *streamPrinter, text string) {
	printer.begin()
	defer printer.end()

	start := time.Now()
	msg, err := ctrl.Send(ctx, text)
	switch {
	case errors.Is(err, chat.ErrQueued):
		fmt.Println(warningStyle.Render(fmt.Sprintf("[Queued] offline - %d message(s) waiting", ctrl.Queue().Len())))
	case err != nil:
		fmt.Println()
		fmt.Println(errorStyle.Render("Error: " + err.Error()))
	default:
		fmt.Println()
		if msg != nil && msg.Usage.Total > 0 {
			fmt.Println(infoStyle.Render(fmt.Sprintf("  (%d tokens, %.1fs)",
				msg.Usage.Total, time.Since(start).Seconds())))
		}
	}
}

// watchQueueEvents surfaces background queue activity.
func watchQueueEvents(ctx context.Context, events <-chan queue.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case queue.EventSent:
				fmt.Println()
				fmt.Println(infoStyle.Render("[Queue] delivered: " + snippet(ev.Message.Content)))
			case queue.EventExhausted:
				fmt.Println()
				fmt.Println(errorStyle.Render("[Queue] gave up after retries: " + snippet(ev.Message.Content)))
			}
		}
	}
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 40 {
		return s[:40] + "..."
	}
	return s
}

// =============================================================================
// COMMANDS
// =============================================================================

// handleCommand dispatches a slash command. It returns false when the
// REPL should exit.
func handleCommand(ctx context.Context, ctrl *chat.Controller, input string) (bool, error) {
	parts := strings.Fields(input)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "/help", "/?":
		printHelp()

	case "/new":
		ctrl.NewConversation()
		fmt.Println(infoStyle.Render("Started a new conversation."))

	case "/list":
		return true, printConversations(ctx, ctrl)

	case "/switch":
		if len(args) == 0 {
			return true, errors.New("usage: /switch <conversation-id>")
		}
		conv, err := ctrl.Switch(ctx, args[0])
		if err != nil {
			return true, err
		}
		fmt.Println(infoStyle.Render("Switched to: " + conv.Title))
		return true, printHistory(ctx, ctrl)

	case "/delete":
		id := ""
		if len(args) > 0 {
			id = args[0]
		} else if conv := ctrl.Active(); conv != nil {
			id = conv.ID
		}
		if id == "" {
			return true, errors.New("usage: /delete <conversation-id>")
		}
		if err := ctrl.Delete(ctx, id); err != nil {
			return true, err
		}
		fmt.Println(infoStyle.Render("Deleted conversation " + id))

	case "/history":
		return true, printHistory(ctx, ctrl)

	case "/export":
		format := "json"
		if len(args) > 0 {
			format = strings.ToLower(args[0])
		}
		conv := ctrl.Active()
		if conv == nil {
			return true, chat.ErrNoConversation
		}
		path, err := ctrl.Export(ctx, conv.ID, format, ctrl.Config().Chat.ExportDir)
		if err != nil {
			return true, err
		}
		fmt.Println(infoStyle.Render("Exported to " + path))

	case "/queue":
		if len(args) > 0 && args[0] == "retry" {
			ctrl.Queue().RetryAll(ctx)
			return true, nil
		}
		if len(args) > 0 && args[0] == "clear" {
			return true, ctrl.Queue().Clear()
		}
		printQueue(ctrl)

	case "/models":
		models, err := ctrl.Models(ctx)
		if err != nil {
			return true, err
		}
		for _, m := range models {
			fmt.Println("  " + m.ID)
		}

	case "/model":
		if len(args) == 0 {
			fmt.Println(infoStyle.Render("Current model: " + ctrl.Config().Provider.Model))
			return true, nil
		}
		if err := ctrl.SetModel(ctx, args[0]); err != nil {
			return true, err
		}
		fmt.Println(infoStyle.Render("Model set to " + args[0]))

	case "/status":
		printStatus(ctx, ctrl)

	case "/quit", "/exit":
		return false, nil

	default:
		return true, fmt.Errorf("unknown command %q (try /help)", cmd)
	}
	return true, nil
}

// =============================================================================
// DISPLAY
// =============================================================================

func printWelcome(ctrl *chat.Controller) {
	cfg := ctrl.Config()
	fmt.Println(commandStyle.Render("driftchat " + Version))
	fmt.Println(infoStyle.Render(fmt.Sprintf("provider: %s | model: %s | %s",
		cfg.Provider.Type, cfg.Provider.Model, cfg.ResolveBaseURL())))
	if n := ctrl.Queue().Len(); n > 0 {
		fmt.Println(warningStyle.Render(fmt.Sprintf("%d queued message(s) waiting for connectivity", n)))
	}
	fmt.Println(infoStyle.Render("Type a message, /help for commands, or /quit to leave."))
	fmt.Println(strings.Repeat("─", 60))
}

func printHelp() {
	fmt.Println(commandStyle.Render("Commands:"))
	rows := [][2]string{
		{"/new", "start a fresh conversation"},
		{"/list", "list saved conversations"},
		{"/switch <id>", "switch to a conversation"},
		{"/delete [id]", "delete a conversation (default: current)"},
		{"/history", "reprint the current conversation"},
		{"/export [json|markdown]", "export the current conversation"},
		{"/queue [retry|clear]", "show or manage the offline queue"},
		{"/model [name]", "show or change the model"},
		{"/models", "list models the provider offers"},
		{"/status", "connectivity and session status"},
		{"/quit", "exit"},
	}
	for _, r := range rows {
		fmt.Printf("  %s %s\n", commandStyle.Render(fmt.Sprintf("%-26s", r[0])), r[1])
	}
}

func printConversations(ctx context.Context, ctrl *chat.Controller) error {
	convs, err := ctrl.List(ctx)
	if err != nil {
		return err
	}
	if len(convs) == 0 {
		fmt.Println(infoStyle.Render("No conversations yet."))
		return nil
	}
	activeID := ""
	if conv := ctrl.Active(); conv != nil {
		activeID = conv.ID
	}
	for _, conv := range convs {
		marker := "  "
		if conv.ID == activeID {
			marker = commandStyle.Render("* ")
		}
		fmt.Printf("%s%s  %s  %s (%d tokens)\n",
			marker,
			infoStyle.Render(conv.ID),
			conv.UpdatedAt.Local().Format("2006-01-02 15:04"),
			conv.Title,
			conv.TotalTokens)
	}
	return nil
}

func printHistory(ctx context.Context, ctrl *chat.Controller) error {
	msgs, err := ctrl.Messages(ctx)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		label := promptStyle.Render("you> ")
		if msg.Role == model.RoleAssistant {
			label = assistantStyle.Render("assistant> ")
		}
		fmt.Println(label + msg.Content)
	}
	return nil
}

func printQueue(ctrl *chat.Controller) {
	items := ctrl.Queue().List()
	if len(items) == 0 {
		fmt.Println(infoStyle.Render("Queue is empty."))
		return
	}
	fmt.Println(warningStyle.Render(fmt.Sprintf("%d queued message(s):", len(items))))
	for _, item := range items {
		fmt.Printf("  %s  retries=%d  %s\n",
			item.Timestamp.Local().Format("15:04:05"), item.Retries, snippet(item.Content))
	}
}

func printStatus(ctx context.Context, ctrl *chat.Controller) {
	state := errorStyle.Render("offline")
	if ctrl.Online(ctx) {
		state = infoStyle.Render("online")
	}
	fmt.Println("Network:  " + state)
	fmt.Printf("Queue:    %d message(s)\n", ctrl.Queue().Len())
	if conv := ctrl.Active(); conv != nil {
		fmt.Printf("Chat:     %s (%s, %d tokens)\n", conv.Title, conv.SelectedModel, conv.TotalTokens)
	} else {
		fmt.Println("Chat:     none (starts on first message)")
	}
}

func printExitSummary(ctrl *chat.Controller) {
	fmt.Println(strings.Repeat("─", 60))
	if conv := ctrl.Active(); conv != nil {
		fmt.Println(infoStyle.Render(fmt.Sprintf("Session: %s, %d tokens total", conv.Title, conv.TotalTokens)))
	}
	if n := ctrl.Queue().Len(); n > 0 {
		fmt.Println(warningStyle.Render(fmt.Sprintf("%d message(s) remain queued and will send next run.", n)))
	}
	fmt.Println(infoStyle.Render("Goodbye!"))
}
