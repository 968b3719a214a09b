// Package watcher turns file-system notifications for watched files into
// ledger error events.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"

	"integrity-go/internal/integrity"
	"integrity-go/internal/model"
)

// ErrAlreadyRunning is returned by Run when another watcher holds the lock.
var ErrAlreadyRunning = errors.New("another watcher is already running for this ledger")

// LedgerOpener opens an independent connection to the ledger. The watcher
// closes every ledger it opens.
type LedgerOpener func() (integrity.Ledger, error)

// modifying are the operations treated as content changes.
const modifying = fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename

// Watcher marks watched files incorrect when they change on disk. The set of
// watched files is read once when Run starts.
type Watcher struct {
	open     LedgerOpener
	root     string
	lockPath string
	logger   integrity.Logger
	clock    integrity.Clock

	watched map[string]struct{}
}

// New creates a Watcher for files below root. lockPath may be empty to skip
// the single-instance lock.
func New(open LedgerOpener, root, lockPath string, logger integrity.Logger, clock integrity.Clock) *Watcher {
	return &Watcher{
		open:     open,
		root:     filepath.Clean(root),
		lockPath: lockPath,
		logger:   logger,
		clock:    clock,
		watched:  make(map[string]struct{}),
	}
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if w.lockPath != "" {
		lock := flock.New(w.lockPath)
		locked, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("locking %s: %w", w.lockPath, err)
		}
		if !locked {
			return ErrAlreadyRunning
		}
		defer lock.Unlock()
	}

	paths, err := w.Snapshot(ctx)
	if err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fsw.Close()

	dirs := make(map[string]struct{})
	for _, p := range paths {
		dir := filepath.Dir(p)
		if _, ok := dirs[dir]; ok {
			continue
		}
		if err := fsw.Add(dir); err != nil {
			w.logger.Warn("cannot watch directory", "dir", dir, "error", err)
			continue
		}
		dirs[dir] = struct{}{}
	}
	w.logger.Info("watching files", "root", w.root, "files", len(paths), "dirs", len(dirs))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.Handle(ctx, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// Snapshot loads the watched files below the root from the ledger and
// replaces the current watch set.
func (w *Watcher) Snapshot(ctx context.Context) ([]string, error) {
	ledger, err := w.open()
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	defer ledger.Close()

	tx, err := ledger.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	all, err := tx.WatchedFiles(ctx)
	if err != nil {
		return nil, err
	}

	w.watched = make(map[string]struct{}, len(all))
	var paths []string
	for _, p := range all {
		p = filepath.Clean(p)
		if !w.underRoot(p) {
			continue
		}
		w.watched[p] = struct{}{}
		paths = append(paths, p)
	}
	return paths, nil
}

func (w *Watcher) underRoot(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Handle records ev if it modifies a watched file and reports whether an
// error event was written. Failures are logged and otherwise ignored.
func (w *Watcher) Handle(ctx context.Context, ev fsnotify.Event) bool {
	if ev.Op&modifying == 0 {
		return false
	}
	path := filepath.Clean(ev.Name)
	if _, ok := w.watched[path]; !ok {
		return false
	}

	if err := w.record(ctx, path); err != nil {
		w.logger.Warn("cannot record modification", "path", path, "op", ev.Op.String(), "error", err)
		return false
	}
	w.logger.Info("modification recorded", "path", path, "op", ev.Op.String())
	return true
}

func (w *Watcher) record(ctx context.Context, path string) error {
	ledger, err := w.open()
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	defer ledger.Close()

	tx, err := ledger.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ref, err := tx.FileReference(ctx, path)
	if err != nil {
		return err
	}
	if err := tx.MarkIncorrect(ctx, model.KindFile, ref.ID); err != nil {
		return err
	}
	event := model.ErrorEvent{
		ObjectID:  ref.ID,
		CheckedAt: model.NewTimestamp(w.clock.Now()),
		Manual:    false,
	}
	if err := tx.AppendError(ctx, model.KindFile, event); err != nil {
		return err
	}
	return tx.Commit()
}
