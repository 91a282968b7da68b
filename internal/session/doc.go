// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session coordinates one prompt/response round trip at a time.
//
// A session moves Idle → Building → Streaming → Finalizing → Idle.
// Cancellation and failure both return to Idle; the outcome reaches the
// caller through the Presenter, which receives cumulative text on every
// update so redraws are idempotent.
//
// Submitting while a session is active cancels the active session and
// waits for it to wind down before the replacement starts, so two
// streams never interleave. A cancelled session appends nothing to
// history and surfaces no error.
//
// Completed exchanges are committed per the auto-commit policy: chat
// mode always commits, phantom mode only when phantom_auto_commit is
// set. A storage failure after a fully streamed response downgrades to
// a warning; the text the user already saw is never retracted.
package session
