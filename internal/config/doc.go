// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides layered configuration for ghostwriter.
//
// # Key Types
//
//   - Config: the complete resolved profile for one invocation
//   - AssistantConfig: model, endpoint, token, sampling parameters
//   - ProxyConfig: optional outbound HTTP proxy
//   - OutputConfig: chat vs phantom presentation settings
//   - HistoryConfig: conversation scope key and database location
//
// # Configuration Precedence
//
// Resolved in order (later wins, field-by-field):
//   - Built-in defaults
//   - ~/.ghostwriter/config.toml
//   - <project>/.ghostwriter.toml
//   - Environment variables (GHOSTWRITER_*)
//
// # Usage
//
//	cfg, err := config.LoadWithProject(projectRoot)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	model := cfg.Assistant.Model
package config
