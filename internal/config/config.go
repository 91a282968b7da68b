// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides layered configuration for ghostwriter.
//
// A profile is resolved by merging, in order: built-in defaults, the
// global config file, an optional project-scoped override file, and
// environment variables. The result is one immutable value per
// invocation; nothing downstream mutates a shared settings object.
//
// File locations:
//   - ~/.ghostwriter/config.toml          (global)
//   - <project>/.ghostwriter.toml         (per-project override)
package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/morganforge/ghostwriter/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Output modes supported by the assistant.
const (
	ModeChat    = "chat"
	ModePhantom = "phantom"
)

// Config is the complete ghostwriter configuration.
type Config struct {
	Version string `toml:"version"`

	Assistant AssistantConfig `toml:"assistant"`
	Proxy     ProxyConfig     `toml:"proxy"`
	Output    OutputConfig    `toml:"output"`
	History   HistoryConfig   `toml:"history"`
}

// AssistantConfig describes the model endpoint for one invocation.
type AssistantConfig struct {
	// Model is the model identifier sent in the request body.
	Model string `toml:"model"`
	// URL is the chat-completions endpoint.
	URL string `toml:"url"`
	// Token is the bearer token. Empty is valid for unauthenticated
	// self-hosted endpoints.
	Token string `toml:"token"`
	// Persona, when set, is sent as the leading system message.
	Persona     string  `toml:"persona"`
	Temperature float64 `toml:"temperature"`
	MaxTokens   int     `toml:"max_tokens"`
	// ConnectTimeoutSecs bounds connection establishment; ReadTimeoutSecs
	// bounds the gap between stream reads. Expiry surfaces as a transport
	// failure, never a hang.
	ConnectTimeoutSecs int `toml:"connect_timeout_secs"`
	ReadTimeoutSecs    int `toml:"read_timeout_secs"`
}

// ProxyConfig routes outbound requests through an HTTP proxy when Address
// is non-empty. Username/Password are optional basic credentials.
type ProxyConfig struct {
	Address  string `toml:"address"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// OutputConfig controls how responses are presented.
type OutputConfig struct {
	// Mode is "chat" (transcript) or "phantom" (inline overlay).
	Mode string `toml:"mode"`
	// Advertisement appends the client attribution line to responses.
	Advertisement bool `toml:"advertisement"`
	// PhantomCodeOnly makes the phantom copy action extract fenced code
	// blocks instead of the full response.
	PhantomCodeOnly bool `toml:"phantom_code_only"`
	// PhantomAutoCommit commits phantom exchanges to history automatically.
	// When false the explicit add-to-history action performs the commit.
	PhantomAutoCommit bool `toml:"phantom_auto_commit"`
	// BuildOutputLimit is the maximum number of build/diagnostic output
	// lines attached to a prompt; the most recent lines are kept.
	BuildOutputLimit int `toml:"build_output_limit"`
}

// HistoryConfig controls conversation persistence.
type HistoryConfig struct {
	// CachePrefix selects the project-specific conversation scope.
	// Empty uses the process-wide default scope. Two projects configured
	// with the same prefix share one conversation; that sharing is
	// explicit, not accidental.
	CachePrefix string `toml:"cache_prefix"`
	// DatabasePath overrides the conversation database location
	// (default ~/.ghostwriter/conversations.db).
	DatabasePath string `toml:"database_path"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Assistant: AssistantConfig{
			Model:              "gpt-4o-mini",
			URL:                "https://api.openai.com/v1/chat/completions",
			Temperature:        0.7,
			MaxTokens:          4096,
			ConnectTimeoutSecs: 10,
			ReadTimeoutSecs:    60,
		},

		Output: OutputConfig{
			Mode:             ModeChat,
			BuildOutputLimit: 200,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the ghostwriter configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".ghostwriter"), nil
}

// ConfigPath returns the path to the global TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ProjectConfigPath returns the per-project override file path for a
// project root.
func ProjectConfigPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".ghostwriter.toml")
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: Config files should be 0600 (owner read/write only) because
// they may carry bearer tokens and proxy credentials.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load resolves the global configuration: defaults, then the global file if
// present, then environment overrides, then validation.
func Load() (*Config, error) {
	return LoadWithProject("")
}

// LoadWithProject resolves the full layered configuration for one
// invocation. When projectRoot is non-empty and contains a
// .ghostwriter.toml, its non-zero fields override the global profile
// field-by-field.
func LoadWithProject(projectRoot string) (*Config, error) {
	cfg := Default()

	globalPath, err := ConfigPath()
	if err == nil {
		if _, statErr := os.Stat(globalPath); statErr == nil {
			if err := LoadTOML(cfg, globalPath); err != nil {
				return nil, fmt.Errorf("failed to load global config: %w", err)
			}
		}
	}

	if projectRoot != "" {
		overridePath := ProjectConfigPath(projectRoot)
		if _, statErr := os.Stat(overridePath); statErr == nil {
			override := &Config{}
			if err := LoadTOML(override, overridePath); err != nil {
				return nil, fmt.Errorf("failed to load project config: %w", err)
			}
			cfg.Merge(override)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML loads configuration from a TOML file into cfg.
// SECURITY: Checks and fixes file permissions on load.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		// Permissions might not be fixable on all systems; warn only.
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default global TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file.
// SECURITY: Creates config files with 0600 permissions (owner read/write only).
// RELIABILITY: Atomic write with fsync prevents data loss on crash.
func SaveTOML(cfg *Config, path string) error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# ghostwriter configuration file\n")
	buf.WriteString("# Generated by ghostwriter - edit with care\n")
	buf.WriteString("\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Assistant.URL != "" {
		u, err := url.Parse(c.Assistant.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, ValidationError{
				Field:   "assistant.url",
				Message: fmt.Sprintf("invalid endpoint URL '%s', must be http or https", c.Assistant.URL),
			})
		}
	}

	if c.Assistant.Temperature < 0 || c.Assistant.Temperature > 2 {
		errs = append(errs, ValidationError{
			Field:   "assistant.temperature",
			Message: fmt.Sprintf("must be between 0.0 and 2.0, got %g", c.Assistant.Temperature),
		})
	}

	if c.Assistant.MaxTokens < 0 {
		errs = append(errs, ValidationError{
			Field:   "assistant.max_tokens",
			Message: "cannot be negative",
		})
	}

	if c.Assistant.ConnectTimeoutSecs < 0 || c.Assistant.ReadTimeoutSecs < 0 {
		errs = append(errs, ValidationError{
			Field:   "assistant.connect_timeout_secs",
			Message: "timeouts cannot be negative",
		})
	}

	if c.Proxy.Address != "" && (c.Proxy.Port < 1 || c.Proxy.Port > 65535) {
		errs = append(errs, ValidationError{
			Field:   "proxy.port",
			Message: fmt.Sprintf("must be 1-65535 when a proxy address is set, got %d", c.Proxy.Port),
		})
	}

	validModes := map[string]bool{ModeChat: true, ModePhantom: true}
	if !validModes[strings.ToLower(c.Output.Mode)] {
		errs = append(errs, ValidationError{
			Field:   "output.mode",
			Message: fmt.Sprintf("invalid mode '%s', must be one of: chat, phantom", c.Output.Mode),
		})
	}

	if c.Output.BuildOutputLimit < 0 {
		errs = append(errs, ValidationError{
			Field:   "output.build_output_limit",
			Message: "must be non-negative",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults fills in any missing or zero-value fields with defaults.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Version == "" {
		c.Version = defaults.Version
	}
	if c.Assistant.Model == "" {
		c.Assistant.Model = defaults.Assistant.Model
	}
	if c.Assistant.URL == "" {
		c.Assistant.URL = defaults.Assistant.URL
	}
	if c.Assistant.MaxTokens == 0 {
		c.Assistant.MaxTokens = defaults.Assistant.MaxTokens
	}
	if c.Assistant.ConnectTimeoutSecs == 0 {
		c.Assistant.ConnectTimeoutSecs = defaults.Assistant.ConnectTimeoutSecs
	}
	if c.Assistant.ReadTimeoutSecs == 0 {
		c.Assistant.ReadTimeoutSecs = defaults.Assistant.ReadTimeoutSecs
	}
	if c.Output.Mode == "" {
		c.Output.Mode = defaults.Output.Mode
	}
	if c.Output.BuildOutputLimit == 0 {
		c.Output.BuildOutputLimit = defaults.Output.BuildOutputLimit
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - GHOSTWRITER_MODEL: overrides assistant.model
//   - GHOSTWRITER_URL: overrides assistant.url
//   - GHOSTWRITER_TOKEN: overrides assistant.token
//   - GHOSTWRITER_MODE: overrides output.mode
//   - GHOSTWRITER_CACHE_PREFIX: overrides history.cache_prefix
func (c *Config) ApplyEnvOverrides() {
	if model := os.Getenv("GHOSTWRITER_MODEL"); model != "" {
		c.Assistant.Model = model
	}
	if endpoint := os.Getenv("GHOSTWRITER_URL"); endpoint != "" {
		c.Assistant.URL = endpoint
	}
	if token := os.Getenv("GHOSTWRITER_TOKEN"); token != "" {
		c.Assistant.Token = token
	}
	if mode := os.Getenv("GHOSTWRITER_MODE"); mode != "" {
		c.Output.Mode = mode
	}
	if prefix := os.Getenv("GHOSTWRITER_CACHE_PREFIX"); prefix != "" {
		c.History.CachePrefix = prefix
	}
}

// =============================================================================
// MERGE / CLONE
// =============================================================================

// Merge merges another config into this one, overwriting only non-zero
// values. Project overrides win field-by-field; a field the override file
// does not set keeps the global value.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Version != "" {
		c.Version = other.Version
	}

	if other.Assistant.Model != "" {
		c.Assistant.Model = other.Assistant.Model
	}
	if other.Assistant.URL != "" {
		c.Assistant.URL = other.Assistant.URL
	}
	if other.Assistant.Token != "" {
		c.Assistant.Token = other.Assistant.Token
	}
	if other.Assistant.Persona != "" {
		c.Assistant.Persona = other.Assistant.Persona
	}
	if other.Assistant.Temperature != 0 {
		c.Assistant.Temperature = other.Assistant.Temperature
	}
	if other.Assistant.MaxTokens != 0 {
		c.Assistant.MaxTokens = other.Assistant.MaxTokens
	}
	if other.Assistant.ConnectTimeoutSecs != 0 {
		c.Assistant.ConnectTimeoutSecs = other.Assistant.ConnectTimeoutSecs
	}
	if other.Assistant.ReadTimeoutSecs != 0 {
		c.Assistant.ReadTimeoutSecs = other.Assistant.ReadTimeoutSecs
	}

	if other.Proxy.Address != "" {
		c.Proxy.Address = other.Proxy.Address
	}
	if other.Proxy.Port != 0 {
		c.Proxy.Port = other.Proxy.Port
	}
	if other.Proxy.Username != "" {
		c.Proxy.Username = other.Proxy.Username
	}
	if other.Proxy.Password != "" {
		c.Proxy.Password = other.Proxy.Password
	}

	if other.Output.Mode != "" {
		c.Output.Mode = other.Output.Mode
	}
	if other.Output.Advertisement {
		c.Output.Advertisement = true
	}
	if other.Output.PhantomCodeOnly {
		c.Output.PhantomCodeOnly = true
	}
	if other.Output.PhantomAutoCommit {
		c.Output.PhantomAutoCommit = true
	}
	if other.Output.BuildOutputLimit != 0 {
		c.Output.BuildOutputLimit = other.Output.BuildOutputLimit
	}

	if other.History.CachePrefix != "" {
		c.History.CachePrefix = other.History.CachePrefix
	}
	if other.History.DatabasePath != "" {
		c.History.DatabasePath = other.History.DatabasePath
	}
}

// Clone creates a copy of the configuration. The struct holds only value
// types, so a shallow copy is a full copy; callers receive an independent
// profile they cannot mutate through shared references.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String returns a string representation of the config for debugging.
// SECURITY: Redacts the bearer token and proxy password to prevent
// accidental exposure in logs or error messages.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Assistant.Token != "" {
		safe.Assistant.Token = "[REDACTED]"
	}
	if safe.Proxy.Password != "" {
		safe.Proxy.Password = "[REDACTED]"
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(safe); err != nil {
		return fmt.Sprintf("config encode error: %v", err)
	}
	return buf.String()
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance.
// Loads configuration on first access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
		}
		globalConfig = cfg
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state between test runs.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
