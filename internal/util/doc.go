// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides utility functions for the ghostwriter client.
//
// String utilities handle UTF-8 safely (TruncateRunes, TailLines), and
// AtomicWriteFile provides crash-safe file writing with fsync for the
// configuration and export paths.
package util
