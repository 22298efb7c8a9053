// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"docguard/internal/observability"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long a path must be quiet before it is reported
const DefaultDebounce = 500 * time.Millisecond

// Watcher reports files that changed under a set of inputs. Rapid
// successive writes to the same file are batched into one report.
type Watcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	observer *observability.Observer
	pending  map[string]time.Time
}

// NewWatcher watches inputs. Directories are watched with every
// non-hidden subdirectory; files are watched through their parent.
func NewWatcher(inputs []string, debounce time.Duration, observer *observability.Observer) (*Watcher, error) {
	if observer == nil {
		observer = observability.Nop()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	w := &Watcher{
		watcher:  fw,
		debounce: debounce,
		observer: observer.Named("watch"),
		pending:  make(map[string]time.Time),
	}

	for _, dir := range watchDirs(inputs) {
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, fmt.Errorf("watching %s: %w", dir, err)
		}
	}
	return w, nil
}

func watchDirs(inputs []string) []string {
	seen := make(map[string]bool)
	var dirs []string
	add := func(dir string) {
		dir = filepath.Clean(dir)
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}

	for _, input := range inputs {
		info, err := os.Stat(input)
		if err != nil {
			continue
		}
		if !info.IsDir() {
			add(filepath.Dir(input))
			continue
		}
		filepath.WalkDir(input, func(path string, d os.DirEntry, err error) error {
			if err != nil || !d.IsDir() {
				return nil
			}
			if path != input && len(d.Name()) > 0 && d.Name()[0] == '.' {
				return filepath.SkipDir
			}
			add(path)
			return nil
		})
	}
	sort.Strings(dirs)
	return dirs
}

// Run delivers settled batches of changed files to fn until ctx is
// cancelled. The underlying watcher is closed on return.
func (w *Watcher) Run(ctx context.Context, fn func(paths []string)) error {
	defer w.watcher.Close()

	tick := time.NewTicker(w.debounce / 4)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.observer.Logger().Debug("file changed",
				zap.String("path", event.Name),
				zap.String("op", event.Op.String()))
			w.pending[event.Name] = time.Now()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.observer.Logger().Warn("watch error", zap.Error(err))

		case now := <-tick.C:
			if settled := w.settled(now); len(settled) > 0 {
				fn(settled)
			}
		}
	}
}

// settled removes and returns regular files quiet for the debounce window
func (w *Watcher) settled(now time.Time) []string {
	var out []string
	for path, at := range w.pending {
		if now.Sub(at) < w.debounce {
			continue
		}
		delete(w.pending, path)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}
