package vault

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

const reconcileDelay = 200 * time.Millisecond

// Watch starts an fsnotify watcher on the vault root and applies file
// changes until ctx is cancelled.
//
// New directories created at runtime are added to the watch list. Rename
// events and new directories trigger a debounced Sync that picks up files
// fsnotify reports only on the old path.
func (im *Importer) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	root := im.dir.Root()
	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	im.logger.Info("vault: watcher started", slog.String("root", root))

	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(reconcileDelay)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(reconcileDelay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			im.logger.Info("vault: watcher stopped")
			return nil

		case <-reconcileCh:
			if _, err := im.Sync(ctx); err != nil {
				im.logger.Warn("vault: reconcile failed", slog.String("error", err.Error()))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						im.logger.Warn("vault: watch new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
					scheduleReconcile()
					continue
				}
			}

			if !isMarkdown(filepath.Base(ev.Name)) {
				continue
			}
			rel, ok := im.dir.Rel(ev.Name)
			if !ok {
				continue
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				changed, err := im.ImportFile(ctx, rel)
				if err != nil {
					im.logger.Warn("vault: import failed", slog.String("path", rel), slog.String("error", err.Error()))
					continue
				}
				if changed {
					im.logger.Debug("vault: file imported", slog.String("path", rel))
				}

			case ev.Op&fsnotify.Remove != 0:
				if _, err := im.Remove(ctx, rel); err != nil {
					im.logger.Warn("vault: remove failed", slog.String("path", rel), slog.String("error", err.Error()))
				}

			case ev.Op&fsnotify.Rename != 0:
				// fsnotify reports only the old path; the new one arrives
				// as a Create when it stays inside a watched directory.
				if _, err := im.Remove(ctx, rel); err != nil {
					im.logger.Warn("vault: rename remove failed", slog.String("path", rel), slog.String("error", err.Error()))
				}
				scheduleReconcile()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			im.logger.Error("vault: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

// addDirsRecursive adds root and all its non-hidden subdirectories to the
// watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(p)
	})
}
