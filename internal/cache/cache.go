// Package cache implements the local task cache: the last known full task
// list, durable across restarts. It is a dumb store; all merge and
// reconciliation policy lives in the sync orchestrator.
package cache

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/dayflow/dayflow/internal/storage"
	"github.com/dayflow/dayflow/internal/task"
)

// RetentionWindow is how long completed tasks stay in the live cache before
// Archive moves them to the historical partition.
const RetentionWindow = 14 * 24 * time.Hour

// TaskCache persists the full task list wholesale under a fixed record key.
type TaskCache struct {
	store  *storage.Store
	logger *log.Logger
}

// New creates a task cache over the given store. If logger is nil, a default
// logger writing to stderr is used.
func New(store *storage.Store, logger *log.Logger) *TaskCache {
	if logger == nil {
		logger = log.New(os.Stderr, "[cache] ", log.LstdFlags)
	}
	return &TaskCache{store: store, logger: logger}
}

// Load returns the persisted task list. An absent or unreadable record
// degrades to an empty list; this is the fallback path when fully offline
// at cold start and never fails the caller.
func (c *TaskCache) Load(ctx context.Context) []*task.Task {
	return c.loadKey(ctx, storage.KeyTasks)
}

// LoadHistory returns the historical partition of completed tasks.
func (c *TaskCache) LoadHistory(ctx context.Context) []*task.Task {
	return c.loadKey(ctx, storage.KeyTaskHistory)
}

func (c *TaskCache) loadKey(ctx context.Context, key string) []*task.Task {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !storage.IsNotFound(err) {
			c.logger.Printf("WARNING: failed to read %s record, serving empty list: %v", key, err)
		}
		return []*task.Task{}
	}

	var tasks []*task.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		c.logger.Printf("WARNING: corrupt %s record, serving empty list: %v", key, err)
		return []*task.Task{}
	}

	task.NormalizeAll(tasks)
	return tasks
}

// Save overwrites the persisted task list wholesale.
func (c *TaskCache) Save(ctx context.Context, tasks []*task.Task) error {
	return c.saveKey(ctx, storage.KeyTasks, tasks)
}

// SaveHistory overwrites the historical partition wholesale.
func (c *TaskCache) SaveHistory(ctx context.Context, tasks []*task.Task) error {
	return c.saveKey(ctx, storage.KeyTaskHistory, tasks)
}

func (c *TaskCache) saveKey(ctx context.Context, key string, tasks []*task.Task) error {
	if tasks == nil {
		tasks = []*task.Task{}
	}
	task.NormalizeAll(tasks)

	data, err := json.Marshal(tasks)
	if err != nil {
		return err
	}
	return c.store.Put(ctx, key, data)
}

// Archive moves completed tasks older than RetentionWindow from the live
// list into the historical partition. Returns the trimmed live list.
func (c *TaskCache) Archive(ctx context.Context, tasks []*task.Task, now time.Time) ([]*task.Task, error) {
	cutoff := now.Add(-RetentionWindow)

	var live, aged []*task.Task
	for _, t := range tasks {
		if t.CompletedAt != nil && t.CompletedAt.Before(cutoff) {
			aged = append(aged, t)
			continue
		}
		live = append(live, t)
	}

	if len(aged) == 0 {
		return tasks, nil
	}

	history := c.LoadHistory(ctx)
	history = append(history, aged...)
	if err := c.SaveHistory(ctx, history); err != nil {
		return nil, err
	}

	c.logger.Printf("Archived %d completed tasks past retention", len(aged))
	return live, nil
}

// LastSync returns the recorded wall time of the last successful pull, or
// the zero time if none is recorded.
func (c *TaskCache) LastSync(ctx context.Context) time.Time {
	data, err := c.store.Get(ctx, storage.KeyLastSync)
	if err != nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, string(data))
	if err != nil {
		return time.Time{}
	}
	return t
}

// SetLastSync records the wall time of a successful pull. Failures are
// logged only; the timestamp is diagnostic.
func (c *TaskCache) SetLastSync(ctx context.Context, at time.Time) {
	if err := c.store.Put(ctx, storage.KeyLastSync, []byte(at.UTC().Format(time.RFC3339))); err != nil {
		c.logger.Printf("WARNING: failed to record last sync time: %v", err)
	}
}
