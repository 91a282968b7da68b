// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package functions

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Function names the assistant may call.
const (
	FuncApplyPatch       = "apply_patch"
	FuncReplaceWholeFile = "replace_text_for_whole_file"
	FuncReadRegion       = "read_region_content"
	FuncWorkingDirectory = "get_working_directory_content"
)

// Response size caps. Oversized results are cut and annotated so the
// model knows content is missing.
const (
	maxRegionChars  = 5000
	maxListingChars = 2000
)

// =============================================================================
// APPLY PATCH
// =============================================================================

// patchHeaderHelp is returned when the envelope cannot be parsed.
const patchHeaderHelp = "Failed to parse patch header. Make sure your patch includes the markers and file path:\n" +
	"*** Begin Patch\n" +
	"*** Update File: /path/to/your/file\n" +
	"*** End Patch\n"

// ApplyPatch applies a marker-wrapped patch through the editor. The
// returned string is the model-facing result; err is non-nil when the
// string describes a failure.
//
// Parsing is three-tier: the strict model diff first, unified @@ hunks
// second, the loose legacy parser last. A patch whose changes are
// already present succeeds without modifying anything.
func ApplyPatch(patch string, ed Editor) (string, error) {
	blocks, err := extractPatchBlocks(patch)
	if err != nil {
		msg := patchHeaderHelp + "Parsing error: " + err.Error()
		return msg, err
	}

	for _, block := range blocks {
		original, err := ed.ReadFile(block.path)
		if err != nil {
			if os.IsNotExist(err) {
				return "File not found: " + block.path, err
			}
			return fmt.Sprintf("Unable to read %s: %v", block.path, err), err
		}

		newContent, strictErr := applyParsed(original, block.diff)

		if strictErr != nil {
			// Already-applied shortcut: a re-sent patch is success
			if alreadyApplied(original, parseSimplePatch(block.diff)) {
				continue
			}

			hunks := parseSimplePatch(block.diff)
			if len(hunks) == 0 {
				msg := "Patch parse failed: no hunks detected.\n" +
					`Ensure each change block starts with one or more "-" lines` + "\n" +
					"and the patch is wrapped between *** Begin Patch / *** End Patch."
				return msg, fmt.Errorf("no hunks detected")
			}
			applied, legacyErr := applyHunks(original, hunks)
			if legacyErr != nil {
				msg := fmt.Sprintf("Strict parser error: %v.\nFallback parser also failed: %v", strictErr, legacyErr)
				return msg, legacyErr
			}
			newContent = applied
		}

		if newContent == original {
			continue // nothing changed for this file
		}

		if err := ed.WriteFile(block.path, newContent); err != nil {
			if os.IsPermission(err) {
				return fmt.Sprintf("Permission denied when writing to %s: %v", block.path, err), err
			}
			return fmt.Sprintf("Failed to write changes to %s: %v", block.path, err), err
		}
	}

	return "Done!", nil
}

// =============================================================================
// REPLACE WHOLE FILE
// =============================================================================

// ReplaceWholeFile overwrites a file's entire content. With create set,
// missing parent directories are made first.
func ReplaceWholeFile(path string, create bool, content string, ed Editor) (string, error) {
	if create {
		resolved := path
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(ed.Root(), resolved)
		}
		if parent := filepath.Dir(resolved); parent != "" {
			if err := os.MkdirAll(parent, 0755); err != nil {
				return fmt.Sprintf("Failed to create directory: %v", err), err
			}
		}
	}

	if err := ed.WriteFile(path, content); err != nil {
		return fmt.Sprintf("Failed to write file: %v", err), err
	}
	return "Done!", nil
}

// =============================================================================
// READ REGION
// =============================================================================

// ReadRegion returns lines a through b of a file, zero-based inclusive.
// -1 for a means start of file, -1 for b means end. The result is capped
// at 5000 characters with a truncation note.
func ReadRegion(path string, a, b int, ed Editor) (string, error) {
	content, err := ed.ReadFile(path)
	if err != nil {
		return "File under path not found: " + path, err
	}

	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	total := len(lines)

	if a == -1 {
		a = 0
	}
	if b == -1 {
		b = total
	}

	// Clamp to valid range, inclusive upper bound
	a = clamp(a, 0, total)
	b = clamp(b, 0, total-1)
	if a > b {
		return "", nil
	}

	text := strings.Join(lines[a:b+1], "\n")
	return truncateWithNote(text, maxRegionChars), nil
}

// =============================================================================
// WORKING DIRECTORY LISTING
// =============================================================================

// WorkingDirectoryListing returns the relative paths of all files under
// root, skipping .git, capped at 2000 characters.
func WorkingDirectoryListing(root string) (string, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return "Directory not found: " + root, fmt.Errorf("directory not found: %s", root)
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return fmt.Sprintf("Failed to list directory: %v", err), err
	}

	return truncateWithNote(strings.Join(files, "\n"), maxListingChars), nil
}

// truncateWithNote cuts text at max runes and appends the original
// length so the model knows content is missing.
func truncateWithNote(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + fmt.Sprintf("…[truncated] response is too long: %d", len(runes))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// =============================================================================
// DISPATCH
// =============================================================================

type applyPatchArgs struct {
	Patch string `json:"patch"`
}

type replaceFileArgs struct {
	FilePath string  `json:"file_path"`
	Create   *bool   `json:"create"`
	Content  *string `json:"content"`
}

type readRegionArgs struct {
	FilePath string `json:"file_path"`
	Region   *struct {
		A *int `json:"a"`
		B *int `json:"b"`
	} `json:"region"`
}

type workingDirArgs struct {
	DirectoryPath string `json:"directory_path"`
}

type contentResult struct {
	Content string `json:"content"`
}

// Perform dispatches a named function call with JSON-encoded arguments
// and returns the model-facing result string. Unknown functions and bad
// arguments report the problem in the result rather than failing the
// exchange.
func Perform(name, args string, ed Editor) string {
	switch name {
	case FuncApplyPatch:
		var a applyPatchArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil || a.Patch == "" {
			return "Wrong attributes passed: patch must be a string"
		}
		result, _ := ApplyPatch(a.Patch, ed)
		return result

	case FuncReplaceWholeFile:
		var a replaceFileArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil ||
			a.FilePath == "" || a.Create == nil || a.Content == nil {
			return "Wrong attributes passed: file_path(str), create(bool), content(str) required"
		}
		result, _ := ReplaceWholeFile(a.FilePath, *a.Create, *a.Content, ed)
		return result

	case FuncReadRegion:
		var a readRegionArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil ||
			a.FilePath == "" || a.Region == nil {
			return fmt.Sprintf("Wrong attributes passed: file_path and region required: %s", args)
		}
		start, end := -1, -1
		if a.Region.A != nil {
			start = *a.Region.A
		}
		if a.Region.B != nil {
			end = *a.Region.B
		}
		content, err := ReadRegion(a.FilePath, start, end, ed)
		if err != nil {
			return content
		}
		return marshalContent(content)

	case FuncWorkingDirectory:
		var a workingDirArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return fmt.Sprintf("Wrong attributes passed: %s", args)
		}
		base := a.DirectoryPath
		if base == "" || base == "." || base == "./" {
			base = ed.Root()
		} else if !filepath.IsAbs(base) {
			base = filepath.Join(ed.Root(), base)
		}
		content, err := WorkingDirectoryListing(base)
		if err != nil {
			return content
		}
		return marshalContent(content)

	default:
		return "Called function doesn't exist: " + name
	}
}

func marshalContent(content string) string {
	data, err := json.Marshal(contentResult{Content: content})
	if err != nil {
		return fmt.Sprintf("Failed to encode result: %v", err)
	}
	return string(data)
}
