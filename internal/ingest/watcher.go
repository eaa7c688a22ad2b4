package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceWindow = 500 * time.Millisecond

// Watcher re-ingests documents as they change on disk. Editor save
// patterns fire several events per write, so changes are debounced per
// path before the pipeline runs.
type Watcher struct {
	pipeline Watched
	dir      string
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// Watched is the part of the pipeline the watcher drives.
type Watched interface {
	IngestFile(ctx context.Context, path string) (bool, error)
	RemovePath(ctx context.Context, path string) error
	Supported(path string) bool
}

func NewWatcher(dir string, pipeline Watched, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		pipeline: pipeline,
		dir:      dir,
		logger:   logger,
		pending:  make(map[string]*time.Timer),
	}
}

// Run watches the document directory until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info("watching documents", "dir", w.dir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, event)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	if !w.pipeline.Supported(event.Name) {
		return
	}

	switch {
	case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
		w.cancelPending(event.Name)
		if err := w.pipeline.RemovePath(ctx, event.Name); err != nil {
			w.logger.Error("remove on delete failed", "path", event.Name, "error", err)
		}
	case event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write):
		w.debounce(ctx, event.Name)
	}
}

func (w *Watcher) debounce(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[path]; ok {
		timer.Stop()
	}
	w.pending[path] = time.AfterFunc(debounceWindow, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		if _, err := w.pipeline.IngestFile(ctx, path); err != nil {
			w.logger.Error("reingest on change failed", "path", path, "error", err)
		}
	})
}

func (w *Watcher) cancelPending(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.pending[path]; ok {
		timer.Stop()
		delete(w.pending, path)
	}
}
