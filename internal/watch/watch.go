// Package watch turns file system events below a source root into debounced rebuild
// triggers.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/assetbuild/internal/logfields"
)

// ChangeFunc is called with the sorted set of paths changed since the last call.
// Calls never overlap; changes seen while it runs are delivered afterwards.
type ChangeFunc func(ctx context.Context, changed []string)

// Watcher monitors a directory tree.
type Watcher struct {
	root     string
	quiet    time.Duration
	maxDelay time.Duration
	ignore   []string
	skipDirs map[string]struct{}
	logger   *slog.Logger
}

// New creates a watcher for root. Bursts of events are coalesced until quiet has
// passed without a new event, or ten quiet windows after the first one.
func New(root string, quiet time.Duration) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve watch root: %w", err)
	}
	if quiet <= 0 {
		quiet = 300 * time.Millisecond
	}
	return &Watcher{
		root:     abs,
		quiet:    quiet,
		maxDelay: 10 * quiet,
		skipDirs: make(map[string]struct{}),
		logger:   slog.Default(),
	}, nil
}

// WithLogger sets a custom logger.
func (w *Watcher) WithLogger(logger *slog.Logger) *Watcher {
	if logger != nil {
		w.logger = logger
	}
	return w
}

// WithIgnore drops events whose base name matches any of the glob patterns.
func (w *Watcher) WithIgnore(patterns ...string) *Watcher {
	w.ignore = append(w.ignore, patterns...)
	return w
}

// WithSkipDir excludes a directory subtree, such as the build state directory.
func (w *Watcher) WithSkipDir(dirs ...string) *Watcher {
	for _, d := range dirs {
		if abs, err := filepath.Abs(d); err == nil {
			w.skipDirs[abs] = struct{}{}
		}
	}
	return w
}

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context, onChange ChangeFunc) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	if err := w.addTree(fw, w.root); err != nil {
		return err
	}
	w.logger.Info("Watching for changes", logfields.Path(w.root))

	quiet := newStoppedTimer()
	maxTimer := newStoppedTimer()
	var (
		quietC <-chan time.Time
		maxC   <-chan time.Time
	)
	pending := make(map[string]struct{})

	flush := func() {
		quietC, maxC = nil, nil
		quiet.Stop()
		maxTimer.Stop()
		if len(pending) == 0 {
			return
		}
		changed := make([]string, 0, len(pending))
		for p := range pending {
			changed = append(changed, p)
		}
		sort.Strings(changed)
		clear(pending)
		onChange(ctx, changed)
	}

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
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(fw, event.Name); err != nil {
						w.logger.Warn("Failed to watch new directory", logfields.Path(event.Name), logfields.Error(err))
					}
				}
			}
			w.logger.Debug("Change detected", logfields.Path(event.Name), slog.String("op", event.Op.String()))
			pending[event.Name] = struct{}{}
			resetTimer(quiet, w.quiet)
			quietC = quiet.C
			if maxC == nil {
				resetTimer(maxTimer, w.maxDelay)
				maxC = maxTimer.C
			}

		case <-quietC:
			flush()

		case <-maxC:
			flush()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("File watcher error", logfields.Error(err))
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	if w.skipped(event.Name) {
		return false
	}
	base := filepath.Base(event.Name)
	for _, pattern := range w.ignore {
		if ok, _ := filepath.Match(pattern, base); ok {
			return false
		}
	}
	return true
}

func (w *Watcher) skipped(path string) bool {
	for dir := range w.skipDirs {
		if path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// addTree watches dir and every directory below it, except hidden and skipped ones.
func (w *Watcher) addTree(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.root && (strings.HasPrefix(d.Name(), ".") || w.skipped(p)) {
			return filepath.SkipDir
		}
		if err := fw.Add(p); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
		return nil
	})
}

func newStoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	t.Stop()
	return t
}

func resetTimer(t *time.Timer, after time.Duration) {
	t.Stop()
	t.Reset(after)
}
