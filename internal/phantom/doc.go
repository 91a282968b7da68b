// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package phantom models the inline response overlay and its action
// state machine.
//
// A phantom is anchor-bound and ephemeral: streaming → awaiting_action
// → dismissed, with a direct streaming → dismissed transition on
// cancel. In awaiting_action the copy, append, replace and open-in-tab
// actions are pure reads of the final text and never consume the
// overlay; close and add-to-history dismiss it. Actions on a dismissed
// phantom are silent no-ops.
//
// The Registry enforces one phantom per anchor; dismissal frees the
// anchor for the next overlay.
package phantom
