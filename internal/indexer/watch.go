package indexer

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// startWatcher wires filesystem events into the trigger channel. Watch
// failures are not fatal: the periodic loop still covers every file, events
// just make pickup faster. On any setup error the indexer logs and carries
// on without a watcher.
func (ix *Indexer) startWatcher(ctx context.Context) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		ix.log.Warn("watch_unavailable",
			slog.String("error", err.Error()),
			slog.Duration("fallback_interval", ix.cfg.Interval))
		return
	}

	if err := ix.addRecursive(w, ix.cfg.UploadDir); err != nil {
		ix.log.Warn("watch_unavailable",
			slog.String("error", err.Error()),
			slog.Duration("fallback_interval", ix.cfg.Interval))
		_ = w.Close()
		return
	}

	ix.log.Info("watch_started",
		slog.String("dir", ix.cfg.UploadDir),
		slog.Duration("debounce", ix.cfg.WatchDebounce))

	go ix.watchLoop(ctx, w)
}

// watchLoop collapses event bursts behind a quiet window before firing one
// trigger. A save that produces five writes in 50ms indexes once.
func (ix *Indexer) watchLoop(ctx context.Context, w *fsnotify.Watcher) {
	defer w.Close()

	timer := time.NewTimer(ix.cfg.WatchDebounce)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if !ix.relevantEvent(event) {
				continue
			}
			// New directories need their own watch before anything
			// inside them can be seen.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = ix.addRecursive(w, event.Name)
				}
			}
			if armed && !timer.Stop() {
				<-timer.C
			}
			timer.Reset(ix.cfg.WatchDebounce)
			armed = true

		case <-timer.C:
			armed = false
			ix.Trigger()

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			ix.log.Warn("watch_error", slog.String("error", err.Error()))
		}
	}
}

// addRecursive registers root and every non-hidden directory under it.
// Unreadable entries are skipped; the periodic scan covers them.
func (ix *Indexer) addRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}

// relevantEvent filters out chmod noise and anything inside hidden
// directories such as .trash.
func (ix *Indexer) relevantEvent(event fsnotify.Event) bool {
	if event.Op&fsnotify.Chmod != 0 {
		return false
	}

	rel, err := filepath.Rel(ix.cfg.UploadDir, event.Name)
	if err != nil {
		rel = event.Name
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") && part != "." {
			return false
		}
	}
	return true
}
