// Copyright (c) 2025 Driftchat Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/driftchat/driftchat/internal/model"
	"github.com/driftchat/driftchat/internal/provider"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
)

// timeLayout preserves sub-second precision so stored timestamps
// round-trip exactly.
const timeLayout = time.RFC3339Nano

// =============================================================================
// STORE
// =============================================================================

// Store is the SQLite-backed chat store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the store at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := db.Exec(InitMetadata); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize metadata: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// AddConversation inserts a new conversation.
func (s *Store) AddConversation(ctx context.Context, c *model.Conversation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations
		(id, title, created_at, updated_at, system_prompt, selected_model,
		 provider_type, base_url, temperature, top_p, max_tokens, total_tokens)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Title,
		c.CreatedAt.Format(timeLayout), c.UpdatedAt.Format(timeLayout),
		c.SystemPrompt, c.SelectedModel,
		string(c.ProviderType), c.BaseURL,
		c.Params.Temperature, c.Params.TopP, c.Params.MaxTokens,
		c.TotalTokens)
	return err
}

// UpdateConversation rewrites the mutable fields of a conversation.
func (s *Store) UpdateConversation(ctx context.Context, c *model.Conversation) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET
		title = ?, updated_at = ?, system_prompt = ?, selected_model = ?,
		provider_type = ?, base_url = ?, temperature = ?, top_p = ?,
		max_tokens = ?, total_tokens = ?
		WHERE id = ?`,
		c.Title, c.UpdatedAt.Format(timeLayout),
		c.SystemPrompt, c.SelectedModel,
		string(c.ProviderType), c.BaseURL,
		c.Params.Temperature, c.Params.TopP, c.Params.MaxTokens,
		c.TotalTokens, c.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// GetConversation fetches one conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, created_at, updated_at, system_prompt,
		       selected_model, provider_type, base_url,
		       temperature, top_p, max_tokens, total_tokens
		FROM conversations WHERE id = ?`, id)
	return scanConversation(row)
}

// ListConversations returns all conversations, most recently updated
// first.
func (s *Store) ListConversations(ctx context.Context) ([]*model.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, created_at, updated_at, system_prompt,
		       selected_model, provider_type, base_url,
		       temperature, top_p, max_tokens, total_tokens
		FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteConversation removes a conversation and, via the foreign key,
// all of its messages.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// =============================================================================
// MESSAGES
// =============================================================================

// AddMessage inserts one message. Transient flags are not stored.
func (s *Store) AddMessage(ctx context.Context, m *model.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages
		(id, conversation_id, role, content, thinking, model,
		 prompt_tokens, completion_tokens, total_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, string(m.Role), m.Content, m.Thinking, m.Model,
		m.Usage.Prompt, m.Usage.Completion, m.Usage.Total,
		m.CreatedAt.Format(timeLayout))
	return err
}

// UpdateMessage rewrites a message's content, thinking and usage.
func (s *Store) UpdateMessage(ctx context.Context, m *model.Message) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET
		content = ?, thinking = ?, model = ?,
		prompt_tokens = ?, completion_tokens = ?, total_tokens = ?
		WHERE id = ?`,
		m.Content, m.Thinking, m.Model,
		m.Usage.Prompt, m.Usage.Completion, m.Usage.Total, m.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// GetMessage fetches one message by id.
func (s *Store) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, role, content, thinking, model,
		       prompt_tokens, completion_tokens, total_tokens, created_at
		FROM messages WHERE id = ?`, id)
	return scanMessage(row)
}

// ListMessages returns a conversation's messages in insertion order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]*model.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, thinking, model,
		       prompt_tokens, completion_tokens, total_tokens, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteMessage removes one message.
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// =============================================================================
// SAVED PROMPTS
// =============================================================================

// Prompt is a saved system prompt.
type Prompt struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// AddPrompt saves a named system prompt.
func (s *Store) AddPrompt(ctx context.Context, name, content string) (Prompt, error) {
	p := Prompt{
		ID:        "prompt_" + uuid.New().String(),
		Name:      name,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prompts (id, name, content, created_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.Name, p.Content, p.CreatedAt.Format(timeLayout))
	if err != nil {
		return Prompt{}, err
	}
	return p, nil
}

// ListPrompts returns saved prompts, oldest first.
func (s *Store) ListPrompts(ctx context.Context) ([]Prompt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, content, created_at FROM prompts ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Prompt
	for rows.Next() {
		var p Prompt
		var created string
		if err := rows.Scan(&p.ID, &p.Name, &p.Content, &created); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeletePrompt removes one saved prompt.
func (s *Store) DeletePrompt(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM prompts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// =============================================================================
// SCANNING
// =============================================================================

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (*model.Conversation, error) {
	var c model.Conversation
	var providerType, created, updated string
	err := row.Scan(&c.ID, &c.Title, &created, &updated, &c.SystemPrompt,
		&c.SelectedModel, &providerType, &c.BaseURL,
		&c.Params.Temperature, &c.Params.TopP, &c.Params.MaxTokens,
		&c.TotalTokens)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	c.ProviderType = provider.Type(providerType)
	if c.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanMessage(row scanner) (*model.Message, error) {
	var m model.Message
	var role, created string
	err := row.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &m.Thinking,
		&m.Model, &m.Usage.Prompt, &m.Usage.Completion, &m.Usage.Total,
		&created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	m.Role = model.Role(role)
	if m.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return nil, err
	}
	return &m, nil
}

// requireRow converts a zero-row update or delete into ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
