// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package context

import (
	"path/filepath"
	"sync"
)

// Set is the ordered collection of files currently marked as prompt
// context. Membership is toggle-based: toggling a marked file unmarks it,
// toggling an unmarked file marks it, so a double toggle always restores
// the original state. Identity is the cleaned absolute-or-relative path as
// given; two spellings of the same file that clean identically are the
// same entry.
type Set struct {
	mu    sync.Mutex
	order []string
	index map[string]bool
}

// NewSet creates an empty marked-file set.
func NewSet() *Set {
	return &Set{
		index: make(map[string]bool),
	}
}

// normalize produces the file identity used for membership.
func normalize(path string) string {
	return filepath.Clean(path)
}

// Toggle flips membership for a file identity. Returns true if the file is
// marked after the call.
func (s *Set) Toggle(path string) bool {
	path = normalize(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index[path] {
		s.removeLocked(path)
		return false
	}
	s.index[path] = true
	s.order = append(s.order, path)
	return true
}

// Contains reports whether a file is currently marked.
func (s *Set) Contains(path string) bool {
	path = normalize(path)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index[path]
}

// Remove unmarks a file. Removing an unmarked file is a no-op.
func (s *Set) Remove(path string) {
	path = normalize(path)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(path)
}

func (s *Set) removeLocked(path string) {
	if !s.index[path] {
		return
	}
	delete(s.index, path)
	for i, p := range s.order {
		if p == path {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// List returns the marked files in insertion order.
func (s *Set) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of marked files.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Clear unmarks every file.
func (s *Set) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = nil
	s.index = make(map[string]bool)
}
