// Copyright (c) 2025 Driftchat Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"

	"github.com/driftchat/driftchat/internal/provider"
	"github.com/driftchat/driftchat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete driftchat configuration.
type Config struct {
	Version string `toml:"version"`

	// Provider selects and credentials the active endpoint.
	Provider ProviderConfig `toml:"provider"`

	// Params are the default sampling parameters for new conversations.
	Params provider.Params `toml:"parameters"`

	// Chat holds conversation defaults.
	Chat ChatConfig `toml:"chat"`

	// Storage holds the durable file locations.
	Storage StorageConfig `toml:"storage"`
}

// ProviderConfig selects the active provider.
type ProviderConfig struct {
	// Type is "ollama", "openai" or "anthropic".
	Type string `toml:"type"`
	// BaseURL overrides the provider's default base URL when set.
	BaseURL string `toml:"base_url"`
	// APIKey is sent per the provider's auth style. Unused for ollama.
	APIKey string `toml:"api_key"`
	// Model is the default model for new conversations.
	Model string `toml:"model"`
}

// ChatConfig holds conversation defaults.
type ChatConfig struct {
	// SystemPrompt is pinned into new conversations.
	SystemPrompt string `toml:"system_prompt"`
	// ExportDir is where transcripts are written. Empty means the
	// working directory.
	ExportDir string `toml:"export_dir"`
}

// StorageConfig holds durable file locations. Empty values resolve
// under the config directory.
type StorageConfig struct {
	DatabasePath string `toml:"database_path"`
	QueuePath    string `toml:"queue_path"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Version: "1",
		Provider: ProviderConfig{
			Type:  string(provider.TypeOllama),
			Model: "llama3.2",
		},
		Params: provider.DefaultParams(),
	}
}

// SetDefaults fills zero values without touching set ones.
func (c *Config) SetDefaults() {
	if c.Version == "" {
		c.Version = "1"
	}
	if c.Provider.Type == "" {
		c.Provider.Type = string(provider.TypeOllama)
	}
	if c.Provider.Model == "" {
		c.Provider.Model = "llama3.2"
	}
	if c.Params.Temperature == 0 && c.Params.TopP == 0 {
		c.Params = provider.DefaultParams()
	}
	if c.Storage.DatabasePath == "" {
		if dir, err := Dir(); err == nil {
			c.Storage.DatabasePath = filepath.Join(dir, "chat.db")
		}
	}
	if c.Storage.QueuePath == "" {
		if dir, err := Dir(); err == nil {
			c.Storage.QueuePath = filepath.Join(dir, "queue.json")
		}
	}
}

// =============================================================================
// PATHS
// =============================================================================

// Dir returns the configuration directory.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".driftchat"), nil
}

// Path returns the config file location.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// EnsureDir creates the configuration directory if missing.
func EnsureDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

// ensureSecurePermissions tightens the config file to owner-only,
// since it can hold API keys.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode().Perm() != 0o600 {
		if err := os.Chmod(path, 0o600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions: %w", err)
		}
	}
	return nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load reads the config file, applies environment overrides and
// defaults, and validates. A missing file is not an error: defaults
// plus overrides are returned.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath is Load against an explicit file.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if err := ensureSecurePermissions(path); err != nil {
			return nil, err
		}
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes the config atomically with owner-only permissions.
func Save(cfg *Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := EnsureDir(); err != nil {
		return err
	}
	return SaveToPath(cfg, path)
}

// SaveToPath is Save against an explicit file.
func SaveToPath(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# driftchat configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return util.AtomicWriteFile(path, buf.Bytes(), 0o600)
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies DRIFTCHAT_* variables on top of the loaded
// values. Environment wins over file.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("DRIFTCHAT_PROVIDER"); v != "" {
		c.Provider.Type = v
	}
	if v := os.Getenv("DRIFTCHAT_BASE_URL"); v != "" {
		c.Provider.BaseURL = v
	}
	if v := os.Getenv("DRIFTCHAT_API_KEY"); v != "" {
		c.Provider.APIKey = v
	}
	if v := os.Getenv("DRIFTCHAT_MODEL"); v != "" {
		c.Provider.Model = v
	}
	if v := os.Getenv("DRIFTCHAT_SYSTEM_PROMPT"); v != "" {
		c.Chat.SystemPrompt = v
	}
	if v := os.Getenv("DRIFTCHAT_DB"); v != "" {
		c.Storage.DatabasePath = v
	}
	if v := os.Getenv("DRIFTCHAT_QUEUE"); v != "" {
		c.Storage.QueuePath = v
	}
	if v := os.Getenv("DRIFTCHAT_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Params.MaxTokens = n
		}
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the config for values the runtime cannot work with.
func (c *Config) Validate() error {
	if _, err := provider.Resolve(provider.Type(c.Provider.Type)); err != nil {
		return ValidationError{Field: "provider.type", Message: fmt.Sprintf("unknown provider %q", c.Provider.Type)}
	}

	if c.Provider.BaseURL != "" {
		parsed, err := url.Parse(c.Provider.BaseURL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return ValidationError{Field: "provider.base_url", Message: "must be an http or https URL"}
		}
	}

	if c.Params.Temperature < 0 || c.Params.Temperature > 2 {
		return ValidationError{Field: "parameters.temperature", Message: "must be in [0, 2]"}
	}
	if c.Params.TopP < 0 || c.Params.TopP > 1 {
		return ValidationError{Field: "parameters.top_p", Message: "must be in [0, 1]"}
	}
	if c.Params.MaxTokens < provider.MaxTokensUnlimited {
		return ValidationError{Field: "parameters.max_tokens", Message: "must be -1 (unlimited), 0 (default), or positive"}
	}

	return nil
}

// ProviderType returns the configured provider as a typed value.
func (c *Config) ProviderType() provider.Type {
	return provider.Type(c.Provider.Type)
}

// ResolveBaseURL returns the configured override or the registry
// default for the active provider.
func (c *Config) ResolveBaseURL() string {
	if c.Provider.BaseURL != "" {
		return c.Provider.BaseURL
	}
	ep, err := provider.Resolve(c.ProviderType())
	if err != nil {
		return ""
	}
	return ep.BaseURL
}
