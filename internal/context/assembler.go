// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package context

import (
	"fmt"
	"os"

	"github.com/morganforge/ghostwriter/internal/util"
)

// AssemblerConfig controls how fragments are gathered.
type AssemblerConfig struct {
	// MaxFileSize is the largest marked file that will be attached.
	// Larger files are omitted with a warning.
	MaxFileSize int64
	// OutputLineLimit caps build/diagnostic fragments, keeping the most
	// recent lines.
	OutputLineLimit int
}

// DefaultAssemblerConfig returns the default assembler configuration.
func DefaultAssemblerConfig() AssemblerConfig {
	return AssemblerConfig{
		MaxFileSize:     100 * 1024, // 100KB
		OutputLineLimit: 200,
	}
}

// ImageRef is an image payload handed to assembly, typically from the
// host's clipboard integration. Encoding validation is deferred to
// request building.
type ImageRef struct {
	Source string
	Data   []byte
}

// Input is everything the host supplies for one assembly pass.
type Input struct {
	// Selection is the user-selected text, empty when nothing is selected.
	Selection string
	// SelectionSource identifies where the selection came from.
	SelectionSource string
	// BuildOutput and LSPOutput are the current diagnostic panel contents.
	BuildOutput string
	LSPOutput   string
	// Images are attached image payloads, in order.
	Images []ImageRef
}

// Assembler collects context fragments for prompt construction.
type Assembler struct {
	cfg AssemblerConfig
}

// NewAssembler creates an assembler with the given configuration.
func NewAssembler(cfg AssemblerConfig) *Assembler {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultAssemblerConfig().MaxFileSize
	}
	if cfg.OutputLineLimit <= 0 {
		cfg.OutputLineLimit = DefaultAssemblerConfig().OutputLineLimit
	}
	return &Assembler{cfg: cfg}
}

// Assemble produces the ordered fragment list for one prompt: selection
// first, then each marked file in mark order, then build output, LSP
// output, and images.
//
// Marked files are read fresh on every call so recent edits are always
// reflected; there is no caching between assemblies. A file that cannot
// be read is reported as a warning and skipped, never a hard failure.
func (a *Assembler) Assemble(in Input, marked *Set) ([]Fragment, []Warning) {
	var fragments []Fragment
	var warnings []Warning

	if in.Selection != "" {
		source := in.SelectionSource
		if source == "" {
			source = "selection"
		}
		fragments = append(fragments, Fragment{
			Kind:   KindSelection,
			Source: source,
			Text:   in.Selection,
		})
	}

	if marked != nil {
		for _, path := range marked.List() {
			frag, warn := a.fetchFile(path)
			if warn != nil {
				warnings = append(warnings, *warn)
				continue
			}
			fragments = append(fragments, frag)
		}
	}

	if in.BuildOutput != "" {
		fragments = append(fragments, a.outputFragment(KindBuildOutput, "build", in.BuildOutput))
	}
	if in.LSPOutput != "" {
		fragments = append(fragments, a.outputFragment(KindLSPOutput, "lsp", in.LSPOutput))
	}

	for _, img := range in.Images {
		fragments = append(fragments, Fragment{
			Kind:      KindImage,
			Source:    img.Source,
			ImageData: img.Data,
		})
	}

	return fragments, warnings
}

// fetchFile reads one marked file for attachment.
func (a *Assembler) fetchFile(path string) (Fragment, *Warning) {
	info, err := os.Stat(path)
	if err != nil {
		return Fragment{}, &Warning{Source: path, Message: fmt.Sprintf("cannot stat file: %v", err)}
	}
	if info.IsDir() {
		return Fragment{}, &Warning{Source: path, Message: "is a directory, not a file"}
	}
	if info.Size() > a.cfg.MaxFileSize {
		return Fragment{}, &Warning{
			Source:  path,
			Message: fmt.Sprintf("file too large (%d bytes, limit %d)", info.Size(), a.cfg.MaxFileSize),
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Fragment{}, &Warning{Source: path, Message: fmt.Sprintf("cannot read file: %v", err)}
	}

	return Fragment{
		Kind:   KindWholeFile,
		Source: path,
		Text:   string(data),
	}, nil
}

// outputFragment builds a build/LSP fragment, keeping the most recent
// lines when over the limit.
func (a *Assembler) outputFragment(kind Kind, source, text string) Fragment {
	tail, truncated := util.TailLines(text, a.cfg.OutputLineLimit)
	return Fragment{
		Kind:      kind,
		Source:    source,
		Text:      tail,
		Truncated: truncated,
	}
}
