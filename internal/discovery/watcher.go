package discovery

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/loykin/scriptdeck/internal/broadcast"
	"github.com/loykin/scriptdeck/internal/process"
)

// DefaultDebounce collapses bursts of file events into one notification.
const DefaultDebounce = 500 * time.Millisecond

// Watcher notifies viewers when scripts are added, removed or changed.
type Watcher struct {
	root      string
	publisher process.Publisher
	debounce  time.Duration
	logger    *slog.Logger
}

func NewWatcher(root string, publisher process.Publisher, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{root: root, publisher: publisher, debounce: DefaultDebounce, logger: logger}
}

// SetDebounce overrides the quiet period before a notification is sent.
func (w *Watcher) SetDebounce(d time.Duration) {
	if d > 0 {
		w.debounce = d
	}
}

// Run watches the scripts tree until ctx is cancelled. fsnotify is not
// recursive, so new directories are added as they appear.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = fw.Close() }()

	if err := w.addTree(fw, w.root); err != nil {
		return err
	}
	w.logger.Info("watching scripts directory for changes", "dir", w.root)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
					if err := w.addTree(fw, event.Name); err != nil {
						w.logger.Warn("cannot watch new directory", "dir", event.Name, "error", err)
					}
				}
			}
			w.logger.Debug("scripts changed", "file", event.Name, "op", event.Op)
			timer.Reset(w.debounce)

		case <-timer.C:
			w.publisher.Publish(broadcast.EventScriptsChanged, broadcast.Message{Event: broadcast.EventScriptsChanged})

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("file watcher error", "error", err)
		}
	}
}

func (w *Watcher) relevant(e fsnotify.Event) bool {
	if e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	base := filepath.Base(e.Name)
	if skipDir(base) {
		return false
	}
	switch filepath.Ext(base) {
	case ".py":
		return true
	case "":
		// directories, or whatever used to be one
		return true
	}
	return base == RequirementsFile
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
}
