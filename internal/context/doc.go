// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package context collects the material attached to a prompt: selected
// text, whole files the user has marked, and diagnostic panel output.
//
// # Key Types
//
//   - Fragment: one ordered unit of prompt context with a kind tag
//   - Set: toggle-based marked-file membership with stable ordering
//   - Assembler: reads the current state fresh and produces fragments
//   - Watcher: fsnotify-backed tracking that unmarks deleted files
//
// Assembly is deliberately uncached: whole-file fragments are read at
// assembly time so the prompt always reflects the latest edits. A file
// that cannot be read produces a non-fatal warning, never a failed
// assembly.
package context
