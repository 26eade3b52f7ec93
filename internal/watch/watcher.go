// Package watch reloads file-backed configuration when the files change.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period before a reload fires.
const DefaultDebounce = 100 * time.Millisecond

// ReloadFunc is called once per burst of changes to path.
type ReloadFunc func(ctx context.Context, path string) error

// FileWatcher watches individual files. The parent directories are
// watched so that editors replacing a file by rename are still seen.
type FileWatcher struct {
	watcher  *fsnotify.Watcher
	files    map[string]struct{}
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewFileWatcher creates a watcher for files. A non-positive debounce
// uses DefaultDebounce.
func NewFileWatcher(files []string, debounce time.Duration, logger *slog.Logger) (*FileWatcher, error) {
	if len(files) == 0 {
		return nil, errors.New("no files to watch")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	fw := &FileWatcher{
		watcher:  w,
		files:    make(map[string]struct{}, len(files)),
		interval: debounce,
		logger:   logger.With("component", "watch"),
		timers:   make(map[string]*time.Timer),
	}
	dirs := make(map[string]struct{})
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("resolving %s: %w", f, err)
		}
		fw.files[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			w.Close()
			return nil, fmt.Errorf("watching %s: %w", dir, err)
		}
	}
	return fw, nil
}

// Watch blocks until ctx is cancelled, calling reload after each debounced
// change. Reload errors are logged; the previous state stays in effect.
func (fw *FileWatcher) Watch(ctx context.Context, reload ReloadFunc) error {
	defer fw.close()

	fw.logger.Info("file watcher started", "files", len(fw.files), "debounce_ms", fw.interval.Milliseconds())
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return errors.New("watcher events channel closed")
			}
			if !fw.relevant(event) {
				continue
			}
			path := filepath.Clean(event.Name)
			fw.logger.Debug("file event", "path", path, "op", event.Op.String())
			fw.trigger(path, func() {
				if ctx.Err() != nil {
					return
				}
				fw.logger.Info("reloading", "path", path)
				if err := reload(ctx, path); err != nil {
					fw.logger.Error("reload failed", "path", path, "error", err)
				}
			})

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return errors.New("watcher errors channel closed")
			}
			fw.logger.Error("file watcher error", "error", err)
		}
	}
}

func (fw *FileWatcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	_, ok := fw.files[abs]
	return ok
}

// trigger restarts the quiet period for path.
func (fw *FileWatcher) trigger(path string, fn func()) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if t, ok := fw.timers[path]; ok {
		t.Stop()
	}
	fw.timers[path] = time.AfterFunc(fw.interval, fn)
}

func (fw *FileWatcher) close() {
	fw.mu.Lock()
	for path, t := range fw.timers {
		t.Stop()
		delete(fw.timers, path)
	}
	fw.mu.Unlock()

	if err := fw.watcher.Close(); err != nil {
		fw.logger.Warn("closing watcher", "error", err)
	}
}
