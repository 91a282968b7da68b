// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config failed validation: %v", err)
	}
	if cfg.Output.Mode != ModeChat {
		t.Errorf("default mode = %q, want %q", cfg.Output.Mode, ModeChat)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad url scheme", func(c *Config) { c.Assistant.URL = "ftp://example.com" }, "assistant.url"},
		{"temperature too high", func(c *Config) { c.Assistant.Temperature = 3.5 }, "assistant.temperature"},
		{"negative max tokens", func(c *Config) { c.Assistant.MaxTokens = -1 }, "assistant.max_tokens"},
		{"proxy without port", func(c *Config) { c.Proxy.Address = "proxy.local"; c.Proxy.Port = 0 }, "proxy.port"},
		{"unknown mode", func(c *Config) { c.Output.Mode = "popup" }, "output.mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			var verrs ValidateErrors
			ok := false
			if v, isV := err.(ValidateErrors); isV {
				verrs = v
				ok = true
			}
			if !ok {
				t.Fatalf("error type = %T, want ValidateErrors", err)
			}
			found := false
			for _, ve := range verrs {
				if ve.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("no error for field %q in %v", tt.field, verrs)
			}
		})
	}
}

func TestMergeProjectOverrideWins(t *testing.T) {
	base := Default()
	base.Assistant.Model = "global-model"
	base.Assistant.Token = "global-token"
	base.History.CachePrefix = "global-prefix"

	override := &Config{}
	override.Assistant.Model = "project-model"
	override.History.CachePrefix = "project-prefix"

	base.Merge(override)

	if base.Assistant.Model != "project-model" {
		t.Errorf("model = %q, want override to win", base.Assistant.Model)
	}
	if base.History.CachePrefix != "project-prefix" {
		t.Errorf("cache_prefix = %q, want override to win", base.History.CachePrefix)
	}
	// Fields the override does not set keep the global value.
	if base.Assistant.Token != "global-token" {
		t.Errorf("token = %q, want global value preserved", base.Assistant.Token)
	}
}

func TestLoadWithProjectLayering(t *testing.T) {
	dir := t.TempDir()

	project := &Config{}
	project.Assistant.Model = "project-model"
	project.Output.Mode = ModePhantom
	if err := SaveTOML(project, ProjectConfigPath(dir)); err != nil {
		t.Fatalf("SaveTOML failed: %v", err)
	}

	cfg, err := LoadWithProject(dir)
	if err != nil {
		t.Fatalf("LoadWithProject failed: %v", err)
	}
	if cfg.Assistant.Model != "project-model" {
		t.Errorf("model = %q, want project override", cfg.Assistant.Model)
	}
	if cfg.Output.Mode != ModePhantom {
		t.Errorf("mode = %q, want %q", cfg.Output.Mode, ModePhantom)
	}
	// Defaults still fill unset fields.
	if cfg.Assistant.URL == "" {
		t.Error("endpoint URL should fall back to default")
	}
}

func TestSaveTOMLRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg := Default()
	cfg.Assistant.Model = "round-trip-model"
	cfg.Proxy.Address = "proxy.internal"
	cfg.Proxy.Port = 8080

	if err := SaveTOML(cfg, path); err != nil {
		t.Fatalf("SaveTOML failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("perm = %v, want 0600", info.Mode().Perm())
	}

	loaded := &Config{}
	if err := LoadTOML(loaded, path); err != nil {
		t.Fatalf("LoadTOML failed: %v", err)
	}
	if loaded.Assistant.Model != "round-trip-model" {
		t.Errorf("model = %q after round trip", loaded.Assistant.Model)
	}
	if loaded.Proxy.Address != "proxy.internal" || loaded.Proxy.Port != 8080 {
		t.Errorf("proxy = %+v after round trip", loaded.Proxy)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("GHOSTWRITER_MODEL", "env-model")
	t.Setenv("GHOSTWRITER_TOKEN", "env-token")
	t.Setenv("GHOSTWRITER_CACHE_PREFIX", "env-prefix")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.Assistant.Model != "env-model" {
		t.Errorf("model = %q, want env override", cfg.Assistant.Model)
	}
	if cfg.Assistant.Token != "env-token" {
		t.Errorf("token = %q, want env override", cfg.Assistant.Token)
	}
	if cfg.History.CachePrefix != "env-prefix" {
		t.Errorf("cache_prefix = %q, want env override", cfg.History.CachePrefix)
	}
}

func TestStringRedactsSecrets(t *testing.T) {
	cfg := Default()
	cfg.Assistant.Token = "sk-very-secret"
	cfg.Proxy.Password = "hunter2"

	s := cfg.String()
	if strings.Contains(s, "sk-very-secret") {
		t.Error("String() leaked bearer token")
	}
	if strings.Contains(s, "hunter2") {
		t.Error("String() leaked proxy password")
	}
	if !strings.Contains(s, "[REDACTED]") {
		t.Error("String() should mark redacted fields")
	}
}

// TestConfig_ConcurrentAccess tests that Global() and SetGlobal() can be
// safely called concurrently without race conditions.
// Run with: go test -race -v ./internal/config/
func TestConfig_ConcurrentAccess(t *testing.T) {
	ResetGlobalForTesting()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)

		go func() {
			defer wg.Done()
			c := Default()
			c.Assistant.Model = "concurrent-model"
			SetGlobal(c)
		}()

		go func() {
			defer wg.Done()
			if Global() == nil {
				t.Error("Global() returned nil")
			}
		}()
	}
	wg.Wait()
}

func TestCloneIsIndependent(t *testing.T) {
	cfg := Default()
	clone := cfg.Clone()
	clone.Assistant.Model = "mutated"
	if cfg.Assistant.Model == "mutated" {
		t.Error("mutating clone affected original")
	}
}
