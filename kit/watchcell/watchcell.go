// Package watchcell resets lazily built values when the files they were
// built from change on disk.
package watchcell

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/river-now/lazycell/kit/colorlog"
)

// Resetter is satisfied by *lazycell.Cell and anything built on one.
type Resetter interface {
	Reset()
}

type Options struct {
	// Doublestar patterns, relative to a watched directory. When set, only
	// events on matching paths are considered. Bind patterns still decide
	// which targets are reset.
	Include []string
	// Doublestar patterns, relative to a watched directory, whose events
	// never trigger resets.
	Exclude []string
	// Defaults to a colorlog logger labeled "watchcell".
	Logger *slog.Logger
}

type binding struct {
	pattern string
	targets []Resetter
}

type Watcher struct {
	fsw     *fsnotify.Watcher
	log     *slog.Logger
	include []string
	exclude []string

	mu       sync.RWMutex
	roots    []string
	bindings []binding
}

func New(opts Options) (*Watcher, error) {
	for _, p := range opts.Include {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid include pattern %q", p)
		}
	}
	for _, p := range opts.Exclude {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid exclude pattern %q", p)
		}
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("error creating fsnotify watcher: %w", err)
	}
	log := opts.Logger
	if log == nil {
		log = colorlog.New("watchcell")
	}
	return &Watcher{fsw: fsw, log: log, include: opts.Include, exclude: opts.Exclude}, nil
}

// Add starts watching dir. Patterns are matched against event paths
// relative to the watched directory they occurred in.
func (w *Watcher) Add(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("error resolving %s: %w", dir, err)
	}
	if err := w.fsw.Add(abs); err != nil {
		return fmt.Errorf("error watching %s: %w", abs, err)
	}
	w.mu.Lock()
	w.roots = append(w.roots, abs)
	w.mu.Unlock()
	return nil
}

// Bind resets every target whenever a file matching pattern changes.
func (w *Watcher) Bind(pattern string, targets ...Resetter) error {
	if !doublestar.ValidatePattern(pattern) {
		return fmt.Errorf("invalid pattern %q", pattern)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.bindings = append(w.bindings, binding{pattern: pattern, targets: targets})
	return nil
}

// Run dispatches file events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(evt)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Error(fmt.Sprintf("error: watcher: %v", err))
		}
	}
}

func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// handle returns the number of targets it reset.
func (w *Watcher) handle(evt fsnotify.Event) int {
	if evt.Name == "" || isChmodOnly(evt) {
		return 0
	}
	rel, ok := w.relPath(evt.Name)
	if !ok {
		return 0
	}
	if len(w.include) > 0 && !matchesAny(w.include, rel) {
		return 0
	}
	if matchesAny(w.exclude, rel) {
		return 0
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	var n int
	for _, b := range w.bindings {
		if match, _ := doublestar.Match(b.pattern, rel); !match {
			continue
		}
		for _, t := range b.targets {
			t.Reset()
			n++
		}
		w.log.Info("reset", "path", rel, "pattern", b.pattern, "op", evt.Op.String())
	}
	return n
}

func (w *Watcher) relPath(name string) (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, root := range w.roots {
		rel, err := filepath.Rel(root, name)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return filepath.ToSlash(rel), true
	}
	return "", false
}

func matchesAny(patterns []string, path string) bool {
	for _, p := range patterns {
		if match, _ := doublestar.Match(p, path); match {
			return true
		}
	}
	return false
}

func isChmodOnly(evt fsnotify.Event) bool {
	return !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Remove) && !evt.Has(fsnotify.Rename)
}
