// Package inbox implements the quick-entry path: a watched drop-in
// directory of task JSON files. Each file becomes a quick task through the
// store facade and is removed once the mutation is durably queued.
package inbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dayflow/dayflow/internal/store"
	"github.com/fsnotify/fsnotify"
)

// entry is the shape accepted in dropped files. Only Title is required.
type entry struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	StartTime   string `json:"startTime,omitempty"`
	EndTime     string `json:"endTime,omitempty"`
	CategoryID  string `json:"categoryId,omitempty"`
}

// Config holds watcher configuration.
type Config struct {
	// Dir is the inbox directory to watch. Created if absent.
	Dir string

	// DebounceInterval batches rapid writes to the same file
	// (default: 200ms).
	DebounceInterval time.Duration

	// Logger for watcher activity.
	Logger *log.Logger
}

// Watcher converts dropped files into quick tasks.
type Watcher struct {
	tasks  *store.TaskStore
	config Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time
	changeQueueMu sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an inbox watcher over the given facade.
func New(tasks *store.TaskStore, config Config) (*Watcher, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("inbox directory is required")
	}
	if config.DebounceInterval == 0 {
		config.DebounceInterval = 200 * time.Millisecond
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[inbox] ", log.LstdFlags)
	}

	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create inbox directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Watcher{
		tasks:       tasks,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
	}, nil
}

// Start drains any files already present, then watches for new drops. It
// returns immediately; watching continues until Stop or ctx cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)

	if err := w.drainExisting(ctx); err != nil {
		return err
	}

	if err := w.watcher.Add(w.config.Dir); err != nil {
		return fmt.Errorf("failed to watch inbox directory: %w", err)
	}

	w.config.Logger.Printf("Watching inbox: %s", w.config.Dir)

	w.wg.Add(2)
	go w.watchFileEvents(ctx)
	go w.processChangeQueue(ctx)

	return nil
}

// Stop halts watching and waits for the goroutines to exit.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	if err := w.watcher.Close(); err != nil {
		w.config.Logger.Printf("Error closing watcher: %v", err)
	}
	w.wg.Wait()
}

// drainExisting ingests files that were dropped while the daemon was down.
func (w *Watcher) drainExisting(ctx context.Context) error {
	entries, err := os.ReadDir(w.config.Dir)
	if err != nil {
		return fmt.Errorf("failed to read inbox directory: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		w.ingest(ctx, filepath.Join(w.config.Dir, e.Name()))
	}
	return nil
}

// watchFileEvents queues filesystem events for debounced processing.
func (w *Watcher) watchFileEvents(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}

			w.changeQueueMu.Lock()
			w.changeQueue[event.Name] = time.Now()
			w.changeQueueMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// processChangeQueue ingests files once their writes have settled.
func (w *Watcher) processChangeQueue(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			w.changeQueueMu.Lock()
			now := time.Now()
			var ready []string
			for path, queuedAt := range w.changeQueue {
				if now.Sub(queuedAt) < w.config.DebounceInterval {
					continue
				}
				ready = append(ready, path)
				delete(w.changeQueue, path)
			}
			w.changeQueueMu.Unlock()

			for _, path := range ready {
				w.ingest(ctx, path)
			}
		}
	}
}

// ingest parses one dropped file, creates the quick task, and removes the
// file. Unparseable files are left in place so the user can fix them.
func (w *Watcher) ingest(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.config.Logger.Printf("WARNING: failed to read %s: %v", path, err)
		}
		return
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		w.config.Logger.Printf("WARNING: skipping unparseable inbox file %s: %v", filepath.Base(path), err)
		return
	}

	created, err := w.tasks.AddTask(ctx, store.NewTask{
		Title:       e.Title,
		Description: e.Description,
		StartTime:   e.StartTime,
		EndTime:     e.EndTime,
		CategoryID:  e.CategoryID,
		Quick:       true,
	})
	if err != nil {
		w.config.Logger.Printf("WARNING: failed to create task from %s: %v", filepath.Base(path), err)
		return
	}

	// The mutation is durable now; the drop file has served its purpose.
	if err := os.Remove(path); err != nil {
		w.config.Logger.Printf("WARNING: failed to remove ingested file %s: %v", path, err)
	}

	w.config.Logger.Printf("Ingested quick task %s (%s)", created.ID, created.Title)
}
