// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package functions

import (
	"fmt"
	"strings"
)

// =============================================================================
// PATCH ENVELOPE
// =============================================================================

// patchBlock is one *** Begin Patch / *** End Patch section, normalized
// to a diff body plus the target path.
type patchBlock struct {
	diff string
	path string
}

// extractPatchBlocks splits the patch text into per-file blocks. Each
// block must carry an "*** Update File:" line naming its target.
func extractPatchBlocks(patchText string) ([]patchBlock, error) {
	lines := strings.Split(patchText, "\n")
	var blocks []patchBlock

	for i := 0; i < len(lines); {
		if !strings.HasPrefix(lines[i], "*** Begin Patch") {
			i++
			continue
		}
		i++ // skip Begin Patch

		var diffLines []string
		var filePath string
		for i < len(lines) && !strings.HasPrefix(lines[i], "*** End Patch") {
			line := lines[i]
			if strings.HasPrefix(line, "*** Update File:") {
				filePath = strings.TrimSpace(strings.TrimPrefix(line, "*** Update File:"))
				diffLines = append(diffLines, "--- a/"+filePath, "+++ b/"+filePath)
			} else {
				diffLines = append(diffLines, line)
			}
			i++
		}
		if i < len(lines) {
			i++ // move past End Patch
		}

		if filePath == "" {
			return nil, fmt.Errorf(`no "*** Update File:" line found between markers`)
		}
		blocks = append(blocks, patchBlock{diff: strings.Join(diffLines, "\n") + "\n", path: filePath})
	}

	if len(blocks) == 0 {
		return nil, fmt.Errorf("no patch blocks found")
	}
	return blocks, nil
}

// =============================================================================
// HUNK PARSERS
// =============================================================================

// hunk pairs the lines to locate with the lines that replace them. An
// empty old block means append at end of file.
type hunk struct {
	old []string
	new []string
}

// parseModelPatch parses the restricted diff shape models emit: no @@
// headers, each hunk is a run of "-" context lines optionally followed
// by a run of "+" replacement lines.
func parseModelPatch(diff string) ([]hunk, error) {
	lines := strings.Split(diff, "\n")
	var hunks []hunk

	for i := 0; i < len(lines); {
		if strings.HasPrefix(lines[i], "-") && !strings.HasPrefix(lines[i], "---") {
			var h hunk
			for i < len(lines) && strings.HasPrefix(lines[i], "-") && !strings.HasPrefix(lines[i], "---") {
				h.old = append(h.old, lines[i][1:])
				i++
			}
			for i < len(lines) && strings.HasPrefix(lines[i], "+") && !strings.HasPrefix(lines[i], "+++") {
				h.new = append(h.new, lines[i][1:])
				i++
			}
			if len(h.old) == 0 {
				return nil, fmt.Errorf(`hunk without context (no "-" lines) encountered`)
			}
			hunks = append(hunks, h)
		} else {
			i++
		}
	}

	if len(hunks) == 0 {
		return nil, fmt.Errorf("no hunks found: patch body is empty or mis-formatted")
	}
	return hunks, nil
}

// parseUnifiedPatch converts a minimal unified diff (@@ headers with
// " ", "-", "+" prefixed lines) to hunks. Context lines land in both
// blocks.
func parseUnifiedPatch(diff string) ([]hunk, error) {
	var hunks []hunk
	var current hunk
	inHunk := false

	flush := func() {
		if len(current.old) > 0 || len(current.new) > 0 {
			hunks = append(hunks, current)
			current = hunk{}
		}
	}

	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "@@"):
			flush()
			inHunk = true
		case !inHunk:
			// headers or junk outside hunks
		case strings.HasPrefix(line, " "):
			current.old = append(current.old, line[1:])
			current.new = append(current.new, line[1:])
		case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
			current.old = append(current.old, line[1:])
		case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
			current.new = append(current.new, line[1:])
		default:
			// unknown line ends the hunk
			inHunk = false
			flush()
		}
	}
	flush()

	if len(hunks) == 0 {
		return nil, fmt.Errorf("no hunks found in unified diff")
	}
	return hunks, nil
}

// parseSimplePatch is the loose fallback parser: like parseModelPatch
// but tolerant of an empty result.
func parseSimplePatch(diff string) []hunk {
	lines := strings.Split(diff, "\n")
	var hunks []hunk

	for i := 0; i < len(lines); {
		if strings.HasPrefix(lines[i], "-") && !strings.HasPrefix(lines[i], "---") {
			var h hunk
			for i < len(lines) && strings.HasPrefix(lines[i], "-") && !strings.HasPrefix(lines[i], "---") {
				h.old = append(h.old, lines[i][1:])
				i++
			}
			for i < len(lines) && strings.HasPrefix(lines[i], "+") && !strings.HasPrefix(lines[i], "+++") {
				h.new = append(h.new, lines[i][1:])
				i++
			}
			hunks = append(hunks, h)
		} else {
			i++
		}
	}
	return hunks
}

// =============================================================================
// HUNK APPLICATION
// =============================================================================

// applyHunks applies hunks in order, matching each old block against the
// file while ignoring leading whitespace, and replacing the first
// occurrence. Model diffs routinely lose indentation; exact matching
// would reject most of them.
func applyHunks(original string, hunks []hunk) (string, error) {
	lines := strings.Split(original, "\n")

	for idx, h := range hunks {
		if len(h.old) == 0 || (len(h.old) == 1 && h.old[0] == "") {
			lines = appendAtEOF(lines, h.new)
			continue
		}

		found := false
		for i := 0; i+len(h.old) <= len(lines); i++ {
			if matchesIgnoringIndent(lines[i:i+len(h.old)], h.old) {
				replaced := make([]string, 0, len(lines)-len(h.old)+len(h.new))
				replaced = append(replaced, lines[:i]...)
				replaced = append(replaced, h.new...)
				replaced = append(replaced, lines[i+len(h.old):]...)
				lines = replaced
				found = true
				break
			}
		}
		if !found {
			snippet := strings.TrimSpace(h.old[0])
			if snippet == "" {
				snippet = "<newline>"
			}
			return "", fmt.Errorf("hunk %d: context not found: failed to locate %q in target file", idx+1, snippet)
		}
	}

	return strings.Join(lines, "\n"), nil
}

func matchesIgnoringIndent(got, want []string) bool {
	for i := range want {
		if strings.TrimLeft(got[i], " \t") != strings.TrimLeft(want[i], " \t") {
			return false
		}
	}
	return true
}

// appendAtEOF inserts lines before the trailing newline's empty element
// when the file ends with one.
func appendAtEOF(lines, insert []string) []string {
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		out := make([]string, 0, len(lines)+len(insert))
		out = append(out, lines[:len(lines)-1]...)
		out = append(out, insert...)
		out = append(out, "")
		return out
	}
	return append(lines, insert...)
}

// applyParsed tries the strict model parser then the unified parser,
// reporting the strict failure when both fall through.
func applyParsed(original, diff string) (string, error) {
	var strictErr error
	if hunks, err := parseModelPatch(diff); err == nil {
		applied, applyErr := applyHunks(original, hunks)
		if applyErr == nil {
			return applied, nil
		}
		strictErr = applyErr
	} else {
		strictErr = err
	}

	if hunks, err := parseUnifiedPatch(diff); err == nil {
		if applied, err := applyHunks(original, hunks); err == nil {
			return applied, nil
		}
	}
	return "", strictErr
}

// alreadyApplied reports whether every additive hunk's new text is
// already present while its old text is gone. Lets a re-sent patch
// succeed without touching the file.
func alreadyApplied(original string, hunks []hunk) bool {
	if len(hunks) == 0 {
		return false
	}
	for _, h := range hunks {
		newStr := strings.TrimSpace(strings.Join(h.new, "\n"))
		if newStr == "" {
			continue // pure deletion, ignore
		}
		oldStr := strings.TrimSpace(strings.Join(h.old, "\n"))
		if strings.Contains(original, newStr) && (oldStr == "" || !strings.Contains(original, oldStr)) {
			continue
		}
		return false
	}
	return true
}
