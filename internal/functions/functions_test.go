// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package functions

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return string(data)
}

func patchEnvelope(file, body string) string {
	return "*** Begin Patch\n*** Update File: " + file + "\n" + body + "\n*** End Patch"
}

// =============================================================================
// APPLY PATCH
// =============================================================================

func TestApplyPatchModelDiff(t *testing.T) {
	root := t.TempDir()
	ed := NewOSEditor(root)
	writeFile(t, filepath.Join(root, "greet.go"), "package main\n\nfunc greet() string {\n\treturn \"hello\"\n}\n")

	patch := patchEnvelope("greet.go", "-\treturn \"hello\"\n+\treturn \"goodbye\"")
	result, err := ApplyPatch(patch, ed)
	if err != nil {
		t.Fatalf("ApplyPatch failed: %v (%s)", err, result)
	}
	if result != "Done!" {
		t.Errorf("result = %q, want Done!", result)
	}

	got := readFile(t, filepath.Join(root, "greet.go"))
	if !strings.Contains(got, `return "goodbye"`) || strings.Contains(got, `return "hello"`) {
		t.Errorf("patched content:\n%s", got)
	}
}

func TestApplyPatchUnifiedDiff(t *testing.T) {
	root := t.TempDir()
	ed := NewOSEditor(root)
	writeFile(t, filepath.Join(root, "config.txt"), "alpha\nbeta\ngamma\n")

	patch := patchEnvelope("config.txt", "@@\n alpha\n-beta\n+BETA\n gamma")
	result, err := ApplyPatch(patch, ed)
	if err != nil {
		t.Fatalf("ApplyPatch failed: %v (%s)", err, result)
	}
	if got := readFile(t, filepath.Join(root, "config.txt")); got != "alpha\nBETA\ngamma\n" {
		t.Errorf("content = %q", got)
	}
}

func TestApplyPatchIgnoresIndentationDrift(t *testing.T) {
	root := t.TempDir()
	ed := NewOSEditor(root)
	writeFile(t, filepath.Join(root, "f.py"), "def f():\n        return 1\n")

	// Model lost the original indentation in its context line
	patch := patchEnvelope("f.py", "-    return 1\n+    return 2")
	if result, err := ApplyPatch(patch, ed); err != nil {
		t.Fatalf("ApplyPatch failed: %v (%s)", err, result)
	}
	if got := readFile(t, filepath.Join(root, "f.py")); !strings.Contains(got, "return 2") {
		t.Errorf("content = %q", got)
	}
}

func TestApplyPatchAlreadyApplied(t *testing.T) {
	root := t.TempDir()
	ed := NewOSEditor(root)
	content := "line one\nreplacement line\nline three\n"
	writeFile(t, filepath.Join(root, "done.txt"), content)

	patch := patchEnvelope("done.txt", "-original line\n+replacement line")
	result, err := ApplyPatch(patch, ed)
	if err != nil {
		t.Fatalf("re-sent patch failed: %v (%s)", err, result)
	}
	if got := readFile(t, filepath.Join(root, "done.txt")); got != content {
		t.Errorf("already-applied patch modified the file: %q", got)
	}
}

func TestApplyPatchMultipleFiles(t *testing.T) {
	root := t.TempDir()
	ed := NewOSEditor(root)
	writeFile(t, filepath.Join(root, "a.txt"), "old a\n")
	writeFile(t, filepath.Join(root, "b.txt"), "old b\n")

	patch := patchEnvelope("a.txt", "-old a\n+new a") + "\n" +
		patchEnvelope("b.txt", "-old b\n+new b")
	if result, err := ApplyPatch(patch, ed); err != nil {
		t.Fatalf("ApplyPatch failed: %v (%s)", err, result)
	}
	if got := readFile(t, filepath.Join(root, "a.txt")); got != "new a\n" {
		t.Errorf("a.txt = %q", got)
	}
	if got := readFile(t, filepath.Join(root, "b.txt")); got != "new b\n" {
		t.Errorf("b.txt = %q", got)
	}
}

func TestApplyPatchMissingEnvelope(t *testing.T) {
	ed := NewOSEditor(t.TempDir())
	result, err := ApplyPatch("-old\n+new", ed)
	if err == nil {
		t.Fatal("expected an error for a patch without markers")
	}
	if !strings.Contains(result, "*** Begin Patch") {
		t.Errorf("result does not explain the envelope format: %q", result)
	}
}

func TestApplyPatchMissingFile(t *testing.T) {
	ed := NewOSEditor(t.TempDir())
	result, err := ApplyPatch(patchEnvelope("nope.txt", "-x\n+y"), ed)
	if err == nil {
		t.Fatal("expected an error for a missing file")
	}
	if !strings.Contains(result, "File not found") {
		t.Errorf("result = %q", result)
	}
}

func TestApplyPatchContextNotFound(t *testing.T) {
	root := t.TempDir()
	ed := NewOSEditor(root)
	writeFile(t, filepath.Join(root, "f.txt"), "actual content\n")

	result, err := ApplyPatch(patchEnvelope("f.txt", "-never existed\n+something"), ed)
	if err == nil {
		t.Fatalf("expected an error, got %q", result)
	}
	if got := readFile(t, filepath.Join(root, "f.txt")); got != "actual content\n" {
		t.Errorf("failed patch modified the file: %q", got)
	}
}

func TestApplyPatchPureDeletion(t *testing.T) {
	root := t.TempDir()
	ed := NewOSEditor(root)
	writeFile(t, filepath.Join(root, "f.txt"), "keep\ndrop\nkeep too\n")

	if result, err := ApplyPatch(patchEnvelope("f.txt", "-drop"), ed); err != nil {
		t.Fatalf("ApplyPatch failed: %v (%s)", err, result)
	}
	if got := readFile(t, filepath.Join(root, "f.txt")); got != "keep\nkeep too\n" {
		t.Errorf("content = %q", got)
	}
}

// =============================================================================
// REPLACE WHOLE FILE
// =============================================================================

func TestReplaceWholeFile(t *testing.T) {
	root := t.TempDir()
	ed := NewOSEditor(root)
	writeFile(t, filepath.Join(root, "f.txt"), "old\n")

	result, err := ReplaceWholeFile("f.txt", false, "new content\n", ed)
	if err != nil {
		t.Fatalf("ReplaceWholeFile failed: %v (%s)", err, result)
	}
	if got := readFile(t, filepath.Join(root, "f.txt")); got != "new content\n" {
		t.Errorf("content = %q", got)
	}
}

func TestReplaceWholeFileCreatesParents(t *testing.T) {
	root := t.TempDir()
	ed := NewOSEditor(root)

	result, err := ReplaceWholeFile(filepath.Join("deep", "nested", "f.txt"), true, "made\n", ed)
	if err != nil {
		t.Fatalf("ReplaceWholeFile failed: %v (%s)", err, result)
	}
	if got := readFile(t, filepath.Join(root, "deep", "nested", "f.txt")); got != "made\n" {
		t.Errorf("content = %q", got)
	}
}

// =============================================================================
// READ REGION
// =============================================================================

func TestReadRegion(t *testing.T) {
	root := t.TempDir()
	ed := NewOSEditor(root)
	writeFile(t, filepath.Join(root, "f.txt"), "one\ntwo\nthree\nfour\n")

	tests := []struct {
		name string
		a, b int
		want string
	}{
		{"middle slice", 1, 2, "two\nthree"},
		{"whole file", -1, -1, "one\ntwo\nthree\nfour"},
		{"single line", 0, 0, "one"},
		{"end clamped", 2, 99, "three\nfour"},
		{"inverted range", 3, 1, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadRegion("f.txt", tt.a, tt.b, ed)
			if err != nil {
				t.Fatalf("ReadRegion failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReadRegionTruncates(t *testing.T) {
	root := t.TempDir()
	ed := NewOSEditor(root)
	writeFile(t, filepath.Join(root, "big.txt"), strings.Repeat("x", 6000)+"\n")

	got, err := ReadRegion("big.txt", -1, -1, ed)
	if err != nil {
		t.Fatalf("ReadRegion failed: %v", err)
	}
	if !strings.Contains(got, "[truncated]") {
		t.Error("oversized region not annotated")
	}
	if len([]rune(got)) > maxRegionChars+100 {
		t.Errorf("result length %d well over the cap", len([]rune(got)))
	}
}

// =============================================================================
// WORKING DIRECTORY LISTING
// =============================================================================

func TestWorkingDirectoryListingSkipsGit(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.go"), "x")
	writeFile(t, filepath.Join(root, "sub", "helper.go"), "x")
	writeFile(t, filepath.Join(root, ".git", "HEAD"), "ref")

	got, err := WorkingDirectoryListing(root)
	if err != nil {
		t.Fatalf("WorkingDirectoryListing failed: %v", err)
	}
	if !strings.Contains(got, "main.go") || !strings.Contains(got, filepath.Join("sub", "helper.go")) {
		t.Errorf("listing missing files: %q", got)
	}
	if strings.Contains(got, ".git") {
		t.Errorf("listing includes .git: %q", got)
	}
}

func TestWorkingDirectoryListingTruncates(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 200; i++ {
		writeFile(t, filepath.Join(root, strings.Repeat("d", 20)+"-"+strings.Repeat("f", 10)+string(rune('a'+i%26))+strings.Repeat("0123456789", 2)+".txt"), "x")
	}

	got, err := WorkingDirectoryListing(root)
	if err != nil {
		t.Fatalf("WorkingDirectoryListing failed: %v", err)
	}
	if !strings.Contains(got, "[truncated]") {
		t.Errorf("oversized listing not annotated (len %d)", len(got))
	}
}

func TestWorkingDirectoryListingMissingDir(t *testing.T) {
	_, err := WorkingDirectoryListing(filepath.Join(t.TempDir(), "absent"))
	if err == nil {
		t.Fatal("expected an error for a missing directory")
	}
}

// =============================================================================
// DISPATCH
// =============================================================================

func TestPerformDispatch(t *testing.T) {
	root := t.TempDir()
	ed := NewOSEditor(root)
	writeFile(t, filepath.Join(root, "f.txt"), "alpha\nbeta\n")

	t.Run("read region returns JSON content", func(t *testing.T) {
		out := Perform(FuncReadRegion, `{"file_path":"f.txt","region":{"a":0,"b":0}}`, ed)
		var res contentResult
		if err := json.Unmarshal([]byte(out), &res); err != nil {
			t.Fatalf("result not JSON: %q", out)
		}
		if res.Content != "alpha" {
			t.Errorf("content = %q, want alpha", res.Content)
		}
	})

	t.Run("replace requires all attributes", func(t *testing.T) {
		out := Perform(FuncReplaceWholeFile, `{"file_path":"f.txt"}`, ed)
		if !strings.Contains(out, "Wrong attributes") {
			t.Errorf("result = %q", out)
		}
	})

	t.Run("apply patch via dispatch", func(t *testing.T) {
		args, _ := json.Marshal(applyPatchArgs{Patch: patchEnvelope("f.txt", "-alpha\n+ALPHA")})
		if out := Perform(FuncApplyPatch, string(args), ed); out != "Done!" {
			t.Errorf("result = %q", out)
		}
		if got := readFile(t, filepath.Join(root, "f.txt")); !strings.Contains(got, "ALPHA") {
			t.Errorf("content = %q", got)
		}
	})

	t.Run("working directory defaults to root", func(t *testing.T) {
		out := Perform(FuncWorkingDirectory, `{"directory_path":"."}`, ed)
		if !strings.Contains(out, "f.txt") {
			t.Errorf("result = %q", out)
		}
	})

	t.Run("unknown function", func(t *testing.T) {
		out := Perform("no_such_function", `{}`, ed)
		if !strings.Contains(out, "doesn't exist") {
			t.Errorf("result = %q", out)
		}
	})
}
