// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package phantom

import "sync"

// ErrAnchorOccupied is returned when a phantom already holds the
// requested anchor.
var ErrAnchorOccupied = &AnchorError{Message: "anchor already has a phantom"}

// AnchorError is a registry placement error.
type AnchorError struct {
	Message string
}

func (e *AnchorError) Error() string {
	return e.Message
}

// Is implements errors.Is support.
func (e *AnchorError) Is(target error) bool {
	t, ok := target.(*AnchorError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

// Registry tracks live phantoms, at most one per anchor. Phantoms in
// different documents coexist freely.
type Registry struct {
	mu       sync.Mutex
	byAnchor map[Anchor]*Phantom
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byAnchor: make(map[Anchor]*Phantom)}
}

// Create places a new streaming phantom at the anchor. Fails with
// ErrAnchorOccupied while another phantom holds it; a dismissed phantom
// frees its anchor.
func (r *Registry) Create(anchor Anchor, codeOnly bool) (*Phantom, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, occupied := r.byAnchor[anchor]; occupied {
		return nil, ErrAnchorOccupied
	}
	p := newPhantom(r, anchor, codeOnly)
	r.byAnchor[anchor] = p
	return p, nil
}

// Get returns the phantom at the anchor, if any.
func (r *Registry) Get(anchor Anchor) (*Phantom, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byAnchor[anchor]
	return p, ok
}

// Len returns the number of live phantoms.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byAnchor)
}

// release frees the anchor when a phantom dismisses itself.
func (r *Registry) release(p *Phantom) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.byAnchor[p.anchor]; ok && current == p {
		delete(r.byAnchor, p.anchor)
	}
}
