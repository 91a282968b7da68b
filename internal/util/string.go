// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides utility functions for the ghostwriter client.
package util

import "strings"

// UNICODE: Rune-aware truncation preserves multi-byte characters.
// Counting characters instead of bytes prevents mid-character truncation
// that would corrupt UTF-8 strings.

// TruncateRunes truncates a string to a maximum number of runes.
// If the string is truncated, "..." is appended.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}

// TruncateRunesNoEllipsis truncates a string to a maximum number of runes
// without appending an ellipsis.
func TruncateRunesNoEllipsis(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes])
}

// RuneLen returns the number of runes (characters) in a string.
func RuneLen(s string) int {
	return len([]rune(s))
}

// TailLines returns the last maxLines lines of s, preserving line order.
// Build and diagnostic output can run to thousands of lines; the most
// recent lines carry the actionable information, so truncation keeps the
// tail rather than the head. A trailing newline does not count as an
// empty final line.
func TailLines(s string, maxLines int) (string, bool) {
	if maxLines <= 0 {
		return "", s != ""
	}
	trimmed := strings.TrimSuffix(s, "\n")
	lines := strings.Split(trimmed, "\n")
	if len(lines) <= maxLines {
		return s, false
	}
	return strings.Join(lines[len(lines)-maxLines:], "\n"), true
}
