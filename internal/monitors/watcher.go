package monitors

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/haasonsaas/hopper/internal/observability"
	"github.com/haasonsaas/hopper/internal/perception"
	"github.com/haasonsaas/hopper/pkg/models"
)

// WatcherOptions configures a filesystem Watcher.
type WatcherOptions struct {
	// Paths are the directories to watch. Subdirectories created while
	// watching are added automatically.
	Paths []string

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Watcher publishes filesystem change events to the perception bus.
type Watcher struct {
	bus     *perception.Bus
	opts    WatcherOptions
	logger  *observability.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWatcher creates a watcher publishing to bus.
func NewWatcher(bus *perception.Bus, opts WatcherOptions) *Watcher {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Watcher{
		bus:     bus,
		opts:    opts,
		logger:  logger,
		metrics: opts.Metrics,
	}
}

// Start begins watching the configured paths. Paths that do not exist are
// skipped with a warning; starting with zero watchable paths is an error.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	watched := 0
	for _, path := range w.opts.Paths {
		if err := fw.Add(path); err != nil {
			w.logger.Warn(ctx, "cannot watch path", "path", path, "error", err)
			continue
		}
		watched++
	}
	if watched == 0 {
		fw.Close()
		return fmt.Errorf("no watchable paths among %v", w.opts.Paths)
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.watcher = fw
	w.cancel = cancel

	w.wg.Add(1)
	go w.run(runCtx, fw)

	w.logger.Info(ctx, "filesystem watcher started", "paths", watched)
	return nil
}

// Stop halts watching and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	fw := w.watcher
	cancel := w.cancel
	w.watcher = nil
	w.cancel = nil
	w.mu.Unlock()

	if fw == nil {
		return
	}
	cancel()
	fw.Close()
	w.wg.Wait()
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handle(ctx, fw, event)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, "watch error", "error", err)
			if w.metrics != nil {
				w.metrics.RecordError("fs_watcher", "watch_error")
			}
		}
	}
}

func (w *Watcher) handle(ctx context.Context, fw *fsnotify.Watcher, event fsnotify.Event) {
	eventType := classifyOp(event.Op)
	if eventType == "" {
		return
	}

	// New directories join the watch set so nested changes surface too.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := fw.Add(event.Name); err != nil {
				w.logger.Warn(ctx, "cannot watch new directory", "path", event.Name, "error", err)
			}
		}
	}

	ok := w.bus.Publish(models.PerceptionEvent{
		Source:    "fs_watcher",
		EventType: eventType,
		Data: map[string]any{
			"path": event.Name,
			"dir":  filepath.Dir(event.Name),
			"op":   event.Op.String(),
		},
		Priority: 3,
	})
	if !ok {
		w.logger.Warn(ctx, "filesystem event dropped, bus full", "path", event.Name)
	}
}

func classifyOp(op fsnotify.Op) string {
	switch {
	case op&fsnotify.Create != 0:
		return "file_created"
	case op&fsnotify.Write != 0:
		return "file_modified"
	case op&fsnotify.Remove != 0:
		return "file_deleted"
	case op&fsnotify.Rename != 0:
		return "file_renamed"
	default:
		return ""
	}
}
