// Package watcher drops the orchestrator's cache when the SQLite database
// changes on disk, such as when another deepwork process writes to it.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zjrosen/deepwork/internal/log"
)

// Invalidator drops cached state. *orchestrator.Orchestrator implements it.
type Invalidator interface {
	InvalidateNamespace(ctx context.Context)
}

// Config holds watcher options.
type Config struct {
	DBPath      string
	DebounceDur time.Duration // quiet period before a burst of writes counts as one change
}

// DefaultConfig returns the defaults for the database at dbPath.
func DefaultConfig(dbPath string) Config {
	return Config{DBPath: dbPath, DebounceDur: 500 * time.Millisecond}
}

// Watcher reports changes to a database file and its companion files.
type Watcher struct {
	fsw      *fsnotify.Watcher
	dbPath   string
	files    map[string]struct{}
	debounce time.Duration
	changes  atomic.Uint64
}

// ErrAlreadyRun is returned by a second call to Run.
var ErrAlreadyRun = errors.New("watcher: already run")

// New starts watching the database directory. The watch is registered before
// New returns; call Run to act on changes or Close to give up.
func New(cfg Config) (*Watcher, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("watcher: database path is required")
	}
	if cfg.DebounceDur <= 0 {
		cfg.DebounceDur = DefaultConfig(cfg.DBPath).DebounceDur
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	// SQLite recreates the WAL and journal files, so the directory is
	// watched rather than the files.
	dir := filepath.Dir(cfg.DBPath)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watching directory %s: %w", dir, err)
	}

	base := filepath.Base(cfg.DBPath)
	log.Debug(log.CatWatcher, "Watching database", "path", cfg.DBPath, "debounce", cfg.DebounceDur)
	return &Watcher{
		fsw:      fsw,
		dbPath:   cfg.DBPath,
		files:    map[string]struct{}{base: {}, base + "-wal": {}, base + "-journal": {}},
		debounce: cfg.DebounceDur,
	}, nil
}

// Close releases the watch. Run closes it on return, so Close is only needed
// when Run is never called.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Changes counts debounced changes seen so far.
func (w *Watcher) Changes() uint64 {
	return w.changes.Load()
}

// Run invalidates target once per debounced burst of changes until ctx ends.
func (w *Watcher) Run(ctx context.Context, target Invalidator) error {
	defer func() { _ = w.fsw.Close() }()

	var (
		timer  *time.Timer
		fire   <-chan time.Time
		events int
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return ErrAlreadyRun
			}
			if !w.relevant(ev) {
				continue
			}
			events++
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.changes.Add(1)
			log.Info(log.CatWatcher, "Database changed, dropping cache", "path", w.dbPath, "events", events)
			events = 0
			target.InvalidateNamespace(ctx)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return ErrAlreadyRun
			}
			log.ErrorErr(log.CatWatcher, "Watch error", err, "path", w.dbPath)
		}
	}
}

// relevant reports whether ev touches the database. Removal and rename count
// because a replaced database file is a change too.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) &&
		!ev.Op.Has(fsnotify.Remove) && !ev.Op.Has(fsnotify.Rename) {
		return false
	}
	_, ok := w.files[filepath.Base(ev.Name)]
	return ok
}
