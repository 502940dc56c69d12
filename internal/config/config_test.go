// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// =============================================================================
// DEFAULTS TESTS
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.Upload.MaxUploadSizeMB != 50 {
		t.Errorf("MaxUploadSizeMB = %d, want 50", cfg.Upload.MaxUploadSizeMB)
	}
	if cfg.Prompt.DocContextMaxChars != 12000 {
		t.Errorf("DocContextMaxChars = %d, want 12000", cfg.Prompt.DocContextMaxChars)
	}
	if cfg.Prompt.DocContextMaxCharsPerDoc != 4000 {
		t.Errorf("DocContextMaxCharsPerDoc = %d, want 4000", cfg.Prompt.DocContextMaxCharsPerDoc)
	}
	if cfg.Extract.Timeout.Duration != 15*time.Second {
		t.Errorf("Extract.Timeout = %v, want 15s", cfg.Extract.Timeout.Duration)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config failed validation: %v", err)
	}
}

func TestMaxUploadBytesUsesDecimalMegabytes(t *testing.T) {
	cfg := Default()
	cfg.Upload.MaxUploadSizeMB = 50

	if got := cfg.MaxUploadBytes(); got != 50_000_000 {
		t.Errorf("MaxUploadBytes() = %d, want 50000000", got)
	}
}

// =============================================================================
// FILE LOADING TESTS
// =============================================================================

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ephemeral.toml")
	content := `
[llm]
base_url = "http://localhost:11434"
model = "llava:13b"
temperature = 0.7

[upload]
max_upload_size_mb = 25

[extract]
tika_url = "http://localhost:9998"
timeout = "5s"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	if err := LoadTOML(cfg, path); err != nil {
		t.Fatalf("LoadTOML failed: %v", err)
	}

	if cfg.LLM.Model != "llava:13b" {
		t.Errorf("Model = %q, want 'llava:13b'", cfg.LLM.Model)
	}
	if cfg.Upload.MaxUploadSizeMB != 25 {
		t.Errorf("MaxUploadSizeMB = %d, want 25", cfg.Upload.MaxUploadSizeMB)
	}
	if cfg.Extract.Timeout.Duration != 5*time.Second {
		t.Errorf("Extract.Timeout = %v, want 5s", cfg.Extract.Timeout.Duration)
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDE TESTS
// =============================================================================

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("LLM_BASE_URL", "http://other:11434")
	t.Setenv("MAX_UPLOAD_SIZE_MB", "10")
	t.Setenv("TIKA_TIMEOUT_S", "30")
	t.Setenv("LLM_SUPPORTS_VISION", "false")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.LLM.BaseURL != "http://other:11434" {
		t.Errorf("BaseURL = %q, want 'http://other:11434'", cfg.LLM.BaseURL)
	}
	if cfg.Upload.MaxUploadSizeMB != 10 {
		t.Errorf("MaxUploadSizeMB = %d, want 10", cfg.Upload.MaxUploadSizeMB)
	}
	if cfg.Extract.Timeout.Duration != 30*time.Second {
		t.Errorf("Extract.Timeout = %v, want 30s", cfg.Extract.Timeout.Duration)
	}

	forced, ok := cfg.VisionOverride()
	if !ok || forced {
		t.Errorf("VisionOverride() = (%v, %v), want (false, true)", forced, ok)
	}
}

func TestEnvOverrideIgnoresBadNumbers(t *testing.T) {
	t.Setenv("TIKA_TIMEOUT_S", "not-a-number")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.Extract.Timeout.Duration != 15*time.Second {
		t.Errorf("Extract.Timeout = %v, want unchanged 15s", cfg.Extract.Timeout.Duration)
	}
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative upload limit", func(c *Config) { c.Upload.MaxUploadSizeMB = -1 }},
		{"temperature too high", func(c *Config) { c.LLM.Temperature = 3.5 }},
		{"top_p out of range", func(c *Config) { c.LLM.TopP = 1.5 }},
		{"bad vision flag", func(c *Config) { c.LLM.SupportsVision = "maybe" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestVisionOverrideAuto(t *testing.T) {
	cfg := Default()
	cfg.LLM.SupportsVision = ""

	if _, ok := cfg.VisionOverride(); ok {
		t.Error("VisionOverride() forced for empty value, want auto-detect")
	}
}

func TestSetDefaultsFillsZeroValues(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()

	if cfg.Server.ListenAddr == "" {
		t.Error("ListenAddr not defaulted")
	}
	if cfg.Upload.MaxUploadSizeMB != 50 {
		t.Errorf("MaxUploadSizeMB = %d, want 50", cfg.Upload.MaxUploadSizeMB)
	}
}
