// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package phantom

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// =============================================================================
// STATES
// =============================================================================

// State is a phantom's lifecycle phase.
type State string

const (
	// StateStreaming shows cumulative text as it arrives. Cancel is the
	// only available action.
	StateStreaming State = "streaming"
	// StateAwaitingAction holds the final text and exposes the action
	// set.
	StateAwaitingAction State = "awaiting_action"
	// StateDismissed is terminal. Every action is a no-op, never an
	// error.
	StateDismissed State = "dismissed"
)

// Anchor identifies the document region a phantom is attached to.
type Anchor struct {
	Document string
	Line     int
}

// =============================================================================
// PHANTOM
// =============================================================================

// Phantom is an inline, anchor-bound response overlay. It never edits
// the document itself: read actions return the final text and the host
// applies it.
type Phantom struct {
	id       string
	anchor   Anchor
	codeOnly bool
	registry *Registry

	mu         sync.Mutex
	state      State
	text       string
	committed  bool
	committing bool
}

// ID returns the phantom's handle.
func (p *Phantom) ID() string { return p.id }

// Anchor returns the region the phantom is attached to.
func (p *Phantom) Anchor() Anchor { return p.anchor }

// State returns the current lifecycle phase.
func (p *Phantom) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Text returns the currently displayed text, partial while streaming.
func (p *Phantom) Text() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.text
}

// =============================================================================
// STREAMING TRANSITIONS
// =============================================================================

// Update replaces the displayed text with the cumulative text so far.
// Only meaningful while streaming; otherwise a no-op.
func (p *Phantom) Update(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateStreaming {
		return
	}
	p.text = text
}

// Finalize moves the phantom to awaiting_action with the final text.
// No-op unless streaming.
func (p *Phantom) Finalize(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateStreaming {
		return
	}
	p.text = text
	p.state = StateAwaitingAction
}

// Cancel tears down a streaming phantom without committing anything.
// No-op in any other state.
func (p *Phantom) Cancel() {
	p.mu.Lock()
	if p.state != StateStreaming {
		p.mu.Unlock()
		return
	}
	p.state = StateDismissed
	p.mu.Unlock()
	p.registry.release(p)
}

// =============================================================================
// AWAITING-ACTION ACTIONS
// =============================================================================

// Close dismisses the phantom and frees its anchor.
func (p *Phantom) Close() {
	p.mu.Lock()
	if p.state != StateAwaitingAction {
		p.mu.Unlock()
		return
	}
	p.state = StateDismissed
	p.mu.Unlock()
	p.registry.release(p)
}

// Copy returns the final text, reduced to fenced code blocks when the
// phantom was created code-only. A pure read: the phantom stays usable.
func (p *Phantom) Copy() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateAwaitingAction {
		return "", false
	}
	if p.codeOnly {
		return ExtractCodeBlocks(p.text), true
	}
	return p.text, true
}

// Append returns the final text for insertion after the host's selection
// or cursor. A pure read.
func (p *Phantom) Append() (string, bool) {
	return p.read()
}

// Replace returns the final text for substituting the host's current
// selection. A pure read.
func (p *Phantom) Replace() (string, bool) {
	return p.read()
}

// OpenInTab returns the final text for display in a new tab. A pure
// read.
func (p *Phantom) OpenInTab() (string, bool) {
	return p.read()
}

func (p *Phantom) read() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateAwaitingAction {
		return "", false
	}
	return p.text, true
}

// AddToHistory performs the explicit commit for runs configured not to
// auto-commit, then dismisses the phantom. The commit runs at most once
// even if the host retries; a failed commit keeps the phantom alive for
// another attempt.
func (p *Phantom) AddToHistory(commit func(text string) error) error {
	p.mu.Lock()
	if p.state != StateAwaitingAction || p.committed || p.committing {
		p.mu.Unlock()
		return nil
	}
	// Held across the callback so a concurrent call cannot start a
	// second commit.
	p.committing = true
	text := p.text
	p.mu.Unlock()

	err := commit(text)

	p.mu.Lock()
	p.committing = false
	if err != nil {
		p.mu.Unlock()
		return err
	}
	p.committed = true
	p.state = StateDismissed
	p.mu.Unlock()
	p.registry.release(p)
	return nil
}

// =============================================================================
// CODE EXTRACTION
// =============================================================================

// ExtractCodeBlocks returns the contents of all fenced code blocks in
// text, joined with blank lines. Text without fences is returned whole
// so a code-only copy never yields nothing.
func ExtractCodeBlocks(text string) string {
	lines := strings.Split(text, "\n")
	var blocks []string
	var inCodeBlock bool
	var codeLines []string

	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if inCodeBlock {
				blocks = append(blocks, strings.Join(codeLines, "\n"))
				codeLines = nil
				inCodeBlock = false
			} else {
				inCodeBlock = true
			}
		} else if inCodeBlock {
			codeLines = append(codeLines, line)
		}
	}

	// Unclosed fence: keep what accumulated
	if inCodeBlock && len(codeLines) > 0 {
		blocks = append(blocks, strings.Join(codeLines, "\n"))
	}

	if len(blocks) == 0 {
		return text
	}
	return strings.Join(blocks, "\n\n")
}

func newPhantom(registry *Registry, anchor Anchor, codeOnly bool) *Phantom {
	return &Phantom{
		id:       uuid.New().String(),
		anchor:   anchor,
		codeOnly: codeOnly,
		registry: registry,
		state:    StateStreaming,
	}
}
