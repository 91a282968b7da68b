// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package context

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher keeps a marked-file set honest between assemblies: when a marked
// file is deleted or renamed away, it is unmarked automatically and the
// host is notified instead of seeing a read warning on the next submit.
type Watcher struct {
	set     *Set
	watcher *fsnotify.Watcher
	onDrop  func(path string)

	mu      sync.Mutex
	watched map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWatcher creates a watcher over the given set. onDrop is called (from
// the watcher goroutine) for each file unmarked because it disappeared;
// it may be nil.
func NewWatcher(set *Set, onDrop func(path string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &Watcher{
		set:     set,
		watcher: fsw,
		onDrop:  onDrop,
		watched: make(map[string]bool),
		ctx:     ctx,
		cancel:  cancel,
	}

	go w.processEvents()

	return w, nil
}

// Mark toggles a file into the set and starts watching it. Returns whether
// the file is marked after the call; toggling off also stops the watch.
func (w *Watcher) Mark(path string) (bool, error) {
	marked := w.set.Toggle(path)
	path = normalize(path)

	w.mu.Lock()
	defer w.mu.Unlock()

	if marked {
		if err := w.watcher.Add(path); err != nil {
			// Watch failed; keep the mark, assembly still reads fresh.
			return true, err
		}
		w.watched[path] = true
		return true, nil
	}

	if w.watched[path] {
		delete(w.watched, path)
		w.watcher.Remove(path)
	}
	return false, nil
}

// processEvents drops marked files that vanish from disk.
func (w *Watcher) processEvents() {
	defer func() {
		if r := recover(); r != nil {
			// Non-fatal, goroutine exits.
			_ = r
		}
	}()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Remove == fsnotify.Remove ||
				event.Op&fsnotify.Rename == fsnotify.Rename {
				w.handleGone(event.Name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Watch errors are non-fatal; the next assembly surfaces a
			// read warning for any file we failed to track.
			_ = err
		}
	}
}

func (w *Watcher) handleGone(path string) {
	path = normalize(path)

	// Editors often replace files via rename; give a save a moment to
	// settle before deciding the file is really gone.
	time.Sleep(50 * time.Millisecond)
	if w.set.Contains(path) {
		if _, err := os.Stat(path); err == nil {
			// Replaced in place; re-add the watch since the old inode is gone.
			w.mu.Lock()
			if w.watched[path] {
				w.watcher.Add(path)
			}
			w.mu.Unlock()
			return
		}
	}

	w.mu.Lock()
	if w.watched[path] {
		delete(w.watched, path)
		w.watcher.Remove(path)
	}
	w.mu.Unlock()

	if w.set.Contains(path) {
		w.set.Remove(path)
		if w.onDrop != nil {
			w.onDrop(path)
		}
	}
}

// Close stops watching and releases resources.
func (w *Watcher) Close() error {
	w.cancel()
	return w.watcher.Close()
}
