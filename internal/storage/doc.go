// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists conversation history in SQLite.
//
// Each conversation lives under a scope key derived from the configured
// cache prefix (empty prefix shares the "global" scope). Turns are
// append-only; a user/assistant exchange is committed in one transaction
// so concurrent sessions can never interleave its halves.
//
// The database is opened lazily on first access:
//
//	store := storage.NewStore(path)
//	defer store.Close()
//
//	scope := storage.ResolveScope(cfg.History.CachePrefix)
//	err := store.AppendExchange(scope, userTurn, assistantTurn)
//
// All failures surface as *StorageError; a turn that fails to append is
// discarded rather than retried.
package storage
