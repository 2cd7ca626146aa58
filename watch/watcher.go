// Package watch feeds file changes under a directory to the agent as edits.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"

	supermaven "github.com/Paranoid-AF/supermaven"
)

// Editor receives the content of changed files.
type Editor interface {
	Edit(path, content string, offset int) (supermaven.StateID, error)
}

// Config controls what is watched.
type Config struct {
	Root         string
	Ignore       []string // directory or file base names to skip
	Debounce     time.Duration
	MaxFileBytes int64
}

// Watcher watches a directory tree and reports each settled file change to
// an Editor with the cursor at the end of the file.
type Watcher struct {
	cfg    Config
	ed     Editor
	logger *slog.Logger
	fsw    *fsnotify.Watcher

	fire      chan string
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) { w.logger = logger }
}

// New starts watching cfg.Root and every directory below it that is not ignored.
func New(cfg Config, ed Editor, opts ...Option) (*Watcher, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}
	cfg.Root = root

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	w := &Watcher{
		cfg:    cfg,
		ed:     ed,
		logger: slog.Default(),
		fsw:    fsw,
		fire:   make(chan string, 64),
		done:   make(chan struct{}),
		timers: make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) ignored(path string) bool {
	return slices.Contains(w.cfg.Ignore, filepath.Base(path))
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			w.logger.Debug("skipping unreadable path", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.ignored(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// Run processes file events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		case path := <-w.fire:
			w.send(path)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if w.ignored(ev.Name) {
		return
	}
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.cancel(ev.Name)
	case ev.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if err := w.addTree(ev.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "path", ev.Name, "error", err)
			}
			return
		}
		w.schedule(ev.Name)
	case ev.Has(fsnotify.Write):
		w.schedule(ev.Name)
	}
}

// schedule restarts the debounce timer for path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.cfg.Debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		select {
		case w.fire <- path:
		case <-w.done:
		}
	})
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
		delete(w.timers, path)
	}
}

func (w *Watcher) send(path string) {
	content, err := w.read(path)
	if err != nil {
		w.logger.Debug("skipping file", "path", path, "reason", err)
		return
	}
	id, err := w.ed.Edit(path, content, len(content))
	if err != nil {
		w.logger.Warn("failed to send file", "path", path, "error", err)
		return
	}
	w.logger.Debug("file sent", "path", path, "state_id", id, "bytes", len(content))
}

var (
	errTooLarge = errors.New("file too large")
	errBinary   = errors.New("not valid UTF-8")
)

func (w *Watcher) read(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("not a regular file")
	}
	if w.cfg.MaxFileBytes > 0 && info.Size() > w.cfg.MaxFileBytes {
		return "", errTooLarge
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", errBinary
	}
	return string(data), nil
}

// Close stops watching and cancels pending debounce timers.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	w.mu.Lock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	w.mu.Unlock()
	return w.fsw.Close()
}
