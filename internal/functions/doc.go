// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package functions implements the editor operations the assistant can
// call: patch application, whole-file replacement, region reads and
// working-directory listings.
//
// Results are strings shaped for feeding back to the model, so failures
// describe themselves ("File not found: ...") instead of aborting the
// exchange; the accompanying Go error carries the same condition for
// the host.
//
// ApplyPatch accepts *** Begin Patch / *** Update File: / *** End Patch
// envelopes and tries three parsers in order: the restricted -/+ model
// diff, minimal unified @@ hunks, and a loose legacy fallback. Hunks
// match ignoring leading whitespace and a patch already present in the
// file succeeds without a write.
package functions
