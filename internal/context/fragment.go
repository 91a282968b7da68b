// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package context

// Kind identifies what a fragment carries.
type Kind string

// Fragment kinds, in the order they typically appear in a prompt.
const (
	KindSelection   Kind = "selection"
	KindWholeFile   Kind = "whole_file"
	KindBuildOutput Kind = "build_output"
	KindLSPOutput   Kind = "lsp_output"
	KindImage       Kind = "image_reference"
)

// Fragment is one unit of material attached to a prompt: a kind tag, a
// source identifier (file path or panel name), and a payload. Fragments
// are ordered; the order is preserved into the request.
type Fragment struct {
	Kind   Kind
	Source string
	// Text is the payload for text fragments.
	Text string
	// ImageData is the raw payload for image fragments. Encoding
	// validation happens at request-build time, before any network call.
	ImageData []byte
	// Truncated marks a build/diagnostic fragment that was cut to the
	// configured line limit.
	Truncated bool
}

// Warning is a non-fatal problem encountered during assembly, such as an
// unreadable marked file. The affected fragment is omitted; assembly never
// fails wholesale because one file is unreadable.
type Warning struct {
	Source  string
	Message string
}

func (w Warning) String() string {
	return w.Source + ": " + w.Message
}
