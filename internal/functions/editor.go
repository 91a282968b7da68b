// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package functions

import (
	"os"
	"path/filepath"

	"github.com/morganforge/ghostwriter/internal/util"
)

// Editor is the host surface the assistant functions operate on.
// Relative paths resolve against the editor's project root.
type Editor interface {
	Root() string
	ReadFile(path string) (string, error)
	WriteFile(path, content string) error
}

// OSEditor is the filesystem-backed Editor the REPL uses.
type OSEditor struct {
	root string
}

// NewOSEditor creates an editor rooted at the given directory. An empty
// root falls back to the process working directory.
func NewOSEditor(root string) *OSEditor {
	if root == "" {
		if wd, err := os.Getwd(); err == nil {
			root = wd
		}
	}
	return &OSEditor{root: root}
}

// Root returns the project root.
func (e *OSEditor) Root() string {
	return e.root
}

// ReadFile reads a file, resolving relative paths against the root.
func (e *OSEditor) ReadFile(path string) (string, error) {
	data, err := os.ReadFile(e.resolve(path))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteFile writes a file atomically, resolving relative paths against
// the root.
func (e *OSEditor) WriteFile(path, content string) error {
	return util.AtomicWriteFile(e.resolve(path), []byte(content), 0644)
}

func (e *OSEditor) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(e.root, path)
}
