package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mjelva/kbase/internal/vaultpath"
)

// debounceWindow coalesces bursts of events on the same path. Editors
// commonly write a file several times in quick succession.
const debounceWindow = 200 * time.Millisecond

// Watch runs an fsnotify watcher over the vault root and feeds debounced
// change events into out until ctx is cancelled. New directories created at
// runtime are added to the watch list automatically. fsnotify reports a
// rename only on the old path; the new path arrives as a separate create,
// so renames surface downstream as a delete followed by a create.
func Watch(ctx context.Context, resolver *vaultpath.Resolver, scanner *Scanner, out chan<- Event, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, resolver.RootDir(), scanner); err != nil {
		return err
	}
	logger.Info("watcher: started", slog.String("root", resolver.RootDir()))

	// pending holds the latest coalesced op per path; flushTimer fires
	// one debounce window after the first buffered event.
	pending := make(map[string]Event)
	var flushTimer *time.Timer
	var flushCh <-chan time.Time

	scheduleFlush := func() {
		if flushTimer == nil {
			flushTimer = time.NewTimer(debounceWindow)
			flushCh = flushTimer.C
		}
	}
	flush := func() {
		flushTimer = nil
		flushCh = nil
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		// Parents sort before children, so a created directory is
		// delivered before the files inside it.
		sort.Strings(paths)
		for _, p := range paths {
			select {
			case out <- pending[p]:
			case <-ctx.Done():
				return
			}
			delete(pending, p)
		}
	}

	buffer := func(ev Event) {
		if prev, ok := pending[ev.Path]; ok {
			// A create followed by writes is still a create; anything
			// followed by a delete is a delete.
			if ev.Op == OpModified && prev.Op == OpCreated {
				return
			}
		}
		pending[ev.Path] = ev
		scheduleFlush()
	}

	for {
		select {
		case <-ctx.Done():
			if flushTimer != nil {
				flushTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-flushCh:
			flush()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			canonical, relErr := resolver.Rel(ev.Name)
			if relErr != nil || canonical == vaultpath.Root {
				continue
			}
			if hiddenPath(canonical, scanner) {
				continue
			}

			switch {
			case ev.Op&fsnotify.Create != 0:
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name, scanner); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", canonical),
							slog.String("error", addErr.Error()))
					}
				}
				buffer(Event{Op: OpCreated, Path: canonical})

			case ev.Op&fsnotify.Write != 0:
				buffer(Event{Op: OpModified, Path: canonical})

			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				buffer(Event{Op: OpDeleted, Path: canonical})
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// hiddenPath reports whether any segment of the canonical path is excluded.
func hiddenPath(canonical string, scanner *Scanner) bool {
	for _, seg := range strings.Split(strings.TrimPrefix(canonical, "/"), "/") {
		if seg != "" && scanner.Skips(seg) {
			return true
		}
	}
	return false
}

// addDirsRecursive adds root and all its visible subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string, scanner *Scanner) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && scanner.Skips(d.Name()) {
			return fs.SkipDir
		}
		return w.Add(path)
	})
}
