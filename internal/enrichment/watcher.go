package enrichment

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/BetterStackHQ/collector/internal/metrics"
)

// Reloader signals the shipper process to pick up promoted files.
// Reload failures are best-effort territory: the files are already live and
// a later health-check-driven restart will pick them up.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Recorder persists the last-known-failure message for external health
// checks. Implemented by the updater's error record.
type Recorder interface {
	Set(message string) error
	Clear() error
}

// minSyncInterval is the self-limit on table synchronization. Filesystem
// events firing faster than this collapse into a single sync.
const minSyncInterval = 2 * time.Second

// rescanInterval is the fallback poll for the case where an fsnotify event
// was lost (e.g. the watch was added after a write).
const rescanInterval = 30 * time.Second

// Watcher promotes enrichment tables as their incoming files change. It
// wakes on filesystem events in the enrichment directory, confirms actual
// content change via digest, and then runs the validate→promote→reload
// sequence per table.
type Watcher struct {
	dir      string
	tables   []Table
	reloader Reloader
	recorder Recorder
	logger   *slog.Logger
	limiter  *rate.Limiter

	// last promoted digest per table name; "" means nothing seen yet.
	promoted map[string]string

	// recordedFailure is set when the watcher wrote the error record, so a
	// later clean pass clears its own failure without clobbering records
	// set by other loops.
	recordedFailure bool
}

// NewWatcher creates a watcher over dir for the given tables.
func NewWatcher(dir string, tables []Table, reloader Reloader, recorder Recorder, logger *slog.Logger) *Watcher {
	return &Watcher{
		dir:      dir,
		tables:   tables,
		reloader: reloader,
		recorder: recorder,
		logger:   logger,
		limiter:  rate.NewLimiter(rate.Every(minSyncInterval), 1),
		promoted: make(map[string]string, len(tables)),
	}
}

// Run watches the enrichment directory until ctx is cancelled. An initial
// sync runs immediately so tables staged before startup are promoted.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}

	fswatch, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fswatch.Close()

	if err := fswatch.Add(w.dir); err != nil {
		return err
	}

	w.Sync(ctx)

	ticker := time.NewTicker(rescanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fswatch.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			w.Sync(ctx)
		case err, ok := <-fswatch.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("enrichment watch error", "error", err)
		case <-ticker.C:
			w.Sync(ctx)
		}
	}
}

// Sync checks every table's incoming file and promotes changed ones. Calling
// it more often than the minimum interval is a no-op, so event storms from
// fsnotify are harmless.
func (w *Watcher) Sync(ctx context.Context) {
	if !w.limiter.Allow() {
		return
	}

	reload := false
	failed := false
	for _, table := range w.tables {
		changed, err := w.syncTable(table)
		if err != nil {
			failed = true
			w.logger.Error("enrichment table rejected",
				"table", table.Name, "error", err)
			if w.recorder != nil {
				if recErr := w.recorder.Set(err.Error()); recErr != nil {
					w.logger.Warn("writing error record failed", "error", recErr)
				}
				w.recordedFailure = true
			}
			continue
		}
		reload = reload || changed
	}

	if !failed && w.recordedFailure {
		if err := w.recorder.Clear(); err != nil {
			w.logger.Warn("clearing error record failed", "error", err)
		} else {
			w.recordedFailure = false
		}
	}

	if !reload {
		return
	}
	if err := w.reloader.Reload(ctx); err != nil {
		w.logger.Warn("shipper reload failed, promoted tables stay live",
			"error", err)
	}
}

// syncTable promotes one table if its incoming file holds new content.
// Returns true when the target changed and the shipper needs a reload.
func (w *Watcher) syncTable(table Table) (bool, error) {
	incoming := table.IncomingPath(w.dir)
	target := table.TargetPath(w.dir)

	digest, err := CheckForChanges(incoming)
	if err != nil {
		return false, err
	}
	if digest == "" || digest == w.promoted[table.Name] {
		return false, nil
	}

	if err := table.Validate(incoming); err != nil {
		return false, err
	}

	if !table.Different(target, incoming) {
		// Same content as the live table; swallow the incoming file without
		// bothering the shipper.
		if err := table.Promote(incoming, target); err != nil {
			return false, err
		}
		w.promoted[table.Name] = digest
		return false, nil
	}

	if err := table.Promote(incoming, target); err != nil {
		return false, err
	}
	w.promoted[table.Name] = digest
	metrics.EnrichmentPromotionsTotal.WithLabelValues(table.Name).Inc()
	w.logger.Info("enrichment table promoted", "table", table.Name)
	return true, nil
}
