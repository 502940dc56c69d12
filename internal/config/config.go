// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for
// the ephemeral chat service.
//
// Supports a TOML configuration file with sensible defaults, environment
// variable overrides, and validation. Environment variables take precedence
// over the file so the service can be configured entirely from a container
// environment, which is how the stock deployment runs.
//
// Configuration file location (in order of precedence):
//   - Path given in EPHEMERAL_CONFIG
//   - ./ephemeral.toml
//   - Built-in defaults
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete service configuration.
type Config struct {
	// Server settings
	Server ServerConfig `toml:"server"`

	// LLM backend configuration
	LLM LLMConfig `toml:"llm"`

	// Document extraction (Tika) configuration
	Extract ExtractConfig `toml:"extract"`

	// Upload policy configuration
	Upload UploadConfig `toml:"upload"`

	// Prompt assembly configuration
	Prompt PromptConfig `toml:"prompt"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	// ListenAddr is the address the HTTP server binds to.
	ListenAddr string `toml:"listen_addr"`
	// SessionIdleTimeout is how long an idle session survives before its
	// in-memory state is destroyed.
	SessionIdleTimeout Duration `toml:"session_idle_timeout"`
	// RateLimitPerSecond caps request throughput per client IP.
	RateLimitPerSecond float64 `toml:"rate_limit_per_second"`
	// RateLimitBurst is the per-IP burst allowance.
	RateLimitBurst int `toml:"rate_limit_burst"`
}

// LLMConfig contains the model backend configuration.
type LLMConfig struct {
	// BaseURL is the base URL of the chat-completion backend
	// (an Ollama-compatible HTTP API).
	BaseURL string `toml:"base_url"`
	// Model is the model identifier sent with each request.
	Model string `toml:"model"`
	// SupportsVision forces the vision capability decision: "true", "false",
	// or "" to auto-detect from the backend.
	SupportsVision string `toml:"supports_vision"`

	// Decoding parameters. Zero values are omitted from requests so the
	// backend's own defaults apply.
	Temperature   float64 `toml:"temperature"`
	TopK          int     `toml:"top_k"`
	TopP          float64 `toml:"top_p"`
	RepeatPenalty float64 `toml:"repeat_penalty"`
	NumCtx        int     `toml:"num_ctx"`
}

// ExtractConfig contains the text-extraction service configuration.
type ExtractConfig struct {
	// TikaURL is the base URL of the extraction service.
	TikaURL string `toml:"tika_url"`
	// Timeout bounds each extraction request.
	Timeout Duration `toml:"timeout"`
	// ParseCacheTTL is how long a per-session parse result stays cached.
	ParseCacheTTL Duration `toml:"parse_cache_ttl"`
}

// UploadConfig contains the attachment acceptance policy.
type UploadConfig struct {
	// MaxUploadSizeMB is the per-attachment size limit in decimal megabytes,
	// applied uniformly to images and documents.
	MaxUploadSizeMB int `toml:"max_upload_size_mb"`
	// MaxImageDimension is the long-edge pixel target images are downsized
	// to before transport. 0 disables downsizing.
	MaxImageDimension int `toml:"max_image_dimension"`
}

// PromptConfig contains prompt assembly settings.
type PromptConfig struct {
	// SystemPromptPath is the path to the system prompt template file.
	// When empty or missing, a built-in template is used.
	SystemPromptPath string `toml:"system_prompt_path"`
	// DefaultUploadPrompt substitutes for an empty user message when
	// attachments are present.
	DefaultUploadPrompt string `toml:"default_upload_prompt"`
	// DocContextMaxChars is the total character budget for document text in
	// one turn.
	DocContextMaxChars int `toml:"doc_context_max_chars"`
	// DocContextMaxCharsPerDoc is the per-document character budget.
	DocContextMaxCharsPerDoc int `toml:"doc_context_max_chars_per_doc"`
}

// Duration wraps time.Duration for TOML decoding of strings like "15s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:         ":8501",
			SessionIdleTimeout: Duration{30 * time.Minute},
			RateLimitPerSecond: 10,
			RateLimitBurst:     20,
		},
		LLM: LLMConfig{
			BaseURL: "http://ollama:11434",
			Model:   "gemma3-prod",
		},
		Extract: ExtractConfig{
			TikaURL:       "http://tika-server:9998",
			Timeout:       Duration{15 * time.Second},
			ParseCacheTTL: Duration{10 * time.Minute},
		},
		Upload: UploadConfig{
			MaxUploadSizeMB:   50,
			MaxImageDimension: 1568,
		},
		Prompt: PromptConfig{
			DefaultUploadPrompt:      "Please analyze the uploaded files.",
			DocContextMaxChars:       12000,
			DocContextMaxCharsPerDoc: 4000,
		},
	}
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file, falling back to defaults.
// Environment overrides are applied last, then the result is validated.
func Load() (*Config, error) {
	cfg := Default()

	path := os.Getenv("EPHEMERAL_CONFIG")
	if path == "" {
		path = "ephemeral.toml"
	}
	if _, err := os.Stat(path); err == nil {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", path, err)
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
func LoadTOML(cfg *Config, path string) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - LLM_BASE_URL: overrides llm.base_url
//   - LLM_MODEL_NAME: overrides llm.model
//   - LLM_SUPPORTS_VISION: forces the vision capability decision
//   - TIKA_URL: overrides extract.tika_url
//   - TIKA_TIMEOUT_S: overrides extract.timeout (seconds)
//   - MAX_UPLOAD_SIZE_MB: overrides upload.max_upload_size_mb
//   - DOC_CONTEXT_MAX_CHARS: overrides prompt.doc_context_max_chars
//   - DOC_CONTEXT_MAX_CHARS_PER_DOC: overrides prompt.doc_context_max_chars_per_doc
//   - DEFAULT_UPLOAD_PROMPT: overrides prompt.default_upload_prompt
//   - SYSTEM_PROMPT_PATH: overrides prompt.system_prompt_path
//   - LISTEN_ADDR: overrides server.listen_addr
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("LLM_MODEL_NAME"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("LLM_SUPPORTS_VISION"); v != "" {
		c.LLM.SupportsVision = v
	}
	if v := os.Getenv("TIKA_URL"); v != "" {
		c.Extract.TikaURL = v
	}
	if v := os.Getenv("TIKA_TIMEOUT_S"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			c.Extract.Timeout = Duration{time.Duration(secs) * time.Second}
		}
	}
	if v := os.Getenv("MAX_UPLOAD_SIZE_MB"); v != "" {
		if mb, err := strconv.Atoi(v); err == nil {
			c.Upload.MaxUploadSizeMB = mb
		}
	}
	if v := os.Getenv("DOC_CONTEXT_MAX_CHARS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Prompt.DocContextMaxChars = n
		}
	}
	if v := os.Getenv("DOC_CONTEXT_MAX_CHARS_PER_DOC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Prompt.DocContextMaxCharsPerDoc = n
		}
	}
	if v := os.Getenv("DEFAULT_UPLOAD_PROMPT"); v != "" {
		c.Prompt.DefaultUploadPrompt = v
	}
	if v := os.Getenv("SYSTEM_PROMPT_PATH"); v != "" {
		c.Prompt.SystemPromptPath = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
}

// =============================================================================
// DEFAULTS AND VALIDATION
// =============================================================================

// SetDefaults fills zero values with safe defaults after file/env loading.
func (c *Config) SetDefaults() {
	def := Default()

	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = def.Server.ListenAddr
	}
	if c.Server.SessionIdleTimeout.Duration <= 0 {
		c.Server.SessionIdleTimeout = def.Server.SessionIdleTimeout
	}
	if c.Server.RateLimitPerSecond <= 0 {
		c.Server.RateLimitPerSecond = def.Server.RateLimitPerSecond
	}
	if c.Server.RateLimitBurst <= 0 {
		c.Server.RateLimitBurst = def.Server.RateLimitBurst
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = def.LLM.BaseURL
	}
	if c.LLM.Model == "" {
		c.LLM.Model = def.LLM.Model
	}
	if c.Extract.TikaURL == "" {
		c.Extract.TikaURL = def.Extract.TikaURL
	}
	if c.Extract.Timeout.Duration <= 0 {
		c.Extract.Timeout = def.Extract.Timeout
	}
	if c.Extract.ParseCacheTTL.Duration <= 0 {
		c.Extract.ParseCacheTTL = def.Extract.ParseCacheTTL
	}
	if c.Upload.MaxUploadSizeMB <= 0 {
		c.Upload.MaxUploadSizeMB = def.Upload.MaxUploadSizeMB
	}
	if c.Prompt.DefaultUploadPrompt == "" {
		c.Prompt.DefaultUploadPrompt = def.Prompt.DefaultUploadPrompt
	}
	if c.Prompt.DocContextMaxChars <= 0 {
		c.Prompt.DocContextMaxChars = def.Prompt.DocContextMaxChars
	}
	if c.Prompt.DocContextMaxCharsPerDoc <= 0 {
		c.Prompt.DocContextMaxCharsPerDoc = def.Prompt.DocContextMaxCharsPerDoc
	}
}

// ValidationError describes a single invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidateErrors aggregates multiple validation failures.
type ValidateErrors []error

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

	if _, err := url.Parse(c.LLM.BaseURL); err != nil {
		errs = append(errs, ValidationError{
			Field:   "llm.base_url",
			Message: fmt.Sprintf("invalid URL: %v", err),
		})
	}
	if _, err := url.Parse(c.Extract.TikaURL); err != nil {
		errs = append(errs, ValidationError{
			Field:   "extract.tika_url",
			Message: fmt.Sprintf("invalid URL: %v", err),
		})
	}
	if c.Upload.MaxUploadSizeMB <= 0 {
		errs = append(errs, ValidationError{
			Field:   "upload.max_upload_size_mb",
			Message: "must be positive",
		})
	}
	if c.Upload.MaxImageDimension < 0 {
		errs = append(errs, ValidationError{
			Field:   "upload.max_image_dimension",
			Message: "cannot be negative",
		})
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, ValidationError{
			Field:   "llm.temperature",
			Message: "must be between 0.0 and 2.0",
		})
	}
	if c.LLM.TopP < 0 || c.LLM.TopP > 1 {
		errs = append(errs, ValidationError{
			Field:   "llm.top_p",
			Message: "must be between 0.0 and 1.0",
		})
	}
	if sv := strings.ToLower(c.LLM.SupportsVision); sv != "" {
		switch sv {
		case "1", "true", "yes", "y", "0", "false", "no", "n":
		default:
			errs = append(errs, ValidationError{
				Field:   "llm.supports_vision",
				Message: fmt.Sprintf("invalid value '%s', must be a boolean or empty for auto-detect", c.LLM.SupportsVision),
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// MaxUploadBytes returns the attachment size limit in bytes. The limit uses
// decimal megabytes, matching the user-facing policy wording.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Upload.MaxUploadSizeMB) * 1_000_000
}

// VisionOverride reports the forced vision decision: (value, true) when an
// override is set, (false, false) when capability should be auto-detected.
func (c *Config) VisionOverride() (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(c.LLM.SupportsVision)) {
	case "1", "true", "yes", "y":
		return true, true
	case "0", "false", "no", "n":
		return false, true
	default:
		return false, false
	}
}
