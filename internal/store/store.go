// Package store provides the task store facade: the only entry point the
// rest of the application uses. Every mutation writes through to the local
// cache and mutation queue synchronously (optimistic), then asynchronously
// triggers a sync pass.
package store

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	stdsync "sync"
	"time"

	"github.com/dayflow/dayflow/internal/cache"
	"github.com/dayflow/dayflow/internal/connectivity"
	"github.com/dayflow/dayflow/internal/queue"
	"github.com/dayflow/dayflow/internal/storage"
	"github.com/dayflow/dayflow/internal/sync"
	"github.com/dayflow/dayflow/internal/task"
)

// NewTask carries the caller-supplied fields for task creation. The facade
// fills in identity, color, and defaults.
type NewTask struct {
	Title         string
	Description   string
	StartTime     string
	EndTime       string
	CategoryID    string
	DaysRemaining int
	Scheduled     bool
	Quick         bool
}

// CompletionEvent is emitted when a task is completed. The streak subsystem
// consumes these; emission is fire-and-forget and never blocks or fails the
// completion itself.
type CompletionEvent struct {
	TaskID      string
	Title       string
	CompletedAt time.Time
}

// TaskStore is the facade over the cache, queue, and orchestrator.
type TaskStore struct {
	store        *storage.Store
	cache        *cache.TaskCache
	queue        *queue.Queue
	orchestrator *sync.Orchestrator
	monitor      connectivity.Monitor
	logger       *log.Logger

	// stateMu is the orchestrator's state lock; optimistic writes and
	// reconciliation writes serialize through it.
	stateMu *stdsync.Mutex

	// mu guards the in-memory read surface below.
	mu              stdsync.RWMutex
	tasks           []*task.Task
	loading         bool
	err             error
	unauthenticated bool

	subsMu         stdsync.Mutex
	changeSubs     []func([]*task.Task)
	completionSubs []func(CompletionEvent)
}

// Deps wires the facade's collaborators.
type Deps struct {
	Store        *storage.Store
	Cache        *cache.TaskCache
	Queue        *queue.Queue
	Orchestrator *sync.Orchestrator
	Monitor      connectivity.Monitor
	Logger       *log.Logger
}

// New creates the facade and subscribes it to the orchestrator's
// reconciliation and auth signals.
func New(deps Deps) *TaskStore {
	if deps.Logger == nil {
		deps.Logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}

	s := &TaskStore{
		store:        deps.Store,
		cache:        deps.Cache,
		queue:        deps.Queue,
		orchestrator: deps.Orchestrator,
		monitor:      deps.Monitor,
		logger:       deps.Logger,
		stateMu:      deps.Orchestrator.StateLock(),
	}

	deps.Orchestrator.OnTasks(func(tasks []*task.Task) {
		s.mu.Lock()
		s.tasks = tasks
		s.loading = false
		s.mu.Unlock()
		s.publishChange(tasks)
	})

	deps.Orchestrator.OnResult(func(res sync.Result) {
		s.mu.Lock()
		s.loading = false
		s.err = res.PullErr
		s.mu.Unlock()
	})

	deps.Orchestrator.OnAuthFailure(func() {
		s.mu.Lock()
		s.unauthenticated = true
		s.mu.Unlock()
		s.logger.Printf("Session is no longer authenticated")
	})

	return s
}

// Load seeds the read surface from the local cache and triggers the cold
// start sync pass. The UI always has something to show, even fully offline
// from a cold start.
func (s *TaskStore) Load(ctx context.Context) {
	tasks := s.cache.Load(ctx)

	s.mu.Lock()
	s.tasks = tasks
	s.loading = true
	s.mu.Unlock()

	s.orchestrator.TriggerAsync(ctx)
}

// Tasks returns the current task list.
func (s *TaskStore) Tasks() []*task.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*task.Task, len(s.tasks))
	for i, t := range s.tasks {
		out[i] = t.Clone()
	}
	return out
}

// Loading reports whether a pull is in flight.
func (s *TaskStore) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Err returns the most recent pull failure, if any. Queued-operation
// failures never surface here; those are silent-retry by design.
func (s *TaskStore) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Authenticated reports whether the session still holds a valid credential.
func (s *TaskStore) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.unauthenticated
}

// OnChange registers fn to receive the task list after every local or
// reconciled change.
func (s *TaskStore) OnChange(fn func([]*task.Task)) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	s.changeSubs = append(s.changeSubs, fn)
}

// OnCompletion registers fn to receive completion events.
func (s *TaskStore) OnCompletion(fn func(CompletionEvent)) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	s.completionSubs = append(s.completionSubs, fn)
}

// AddTask validates, assigns identity and color, writes the optimistic
// insert and the create operation durably, and triggers a sync pass. It
// returns once the local write is durable, not when the backend confirms.
func (s *TaskStore) AddTask(ctx context.Context, nt NewTask) (*task.Task, error) {
	if strings.TrimSpace(nt.Title) == "" {
		return nil, fmt.Errorf("title must not be empty")
	}

	t := &task.Task{
		ID:            task.NewLocalID(),
		Title:         strings.TrimSpace(nt.Title),
		Description:   nt.Description,
		StartTime:     nt.StartTime,
		EndTime:       nt.EndTime,
		CategoryID:    nt.CategoryID,
		DaysRemaining: nt.DaysRemaining,
		Scheduled:     nt.Scheduled,
		Quick:         nt.Quick,
	}
	t.Normalize()

	err := s.withStateLock(func() error {
		t.Color = s.nextColor(ctx)

		tasks := s.cache.Load(ctx)
		tasks = append(tasks, t)
		if err := s.cache.Save(ctx, tasks); err != nil {
			return fmt.Errorf("optimistic insert failed: %w", err)
		}

		if err := s.queue.Enqueue(ctx, task.NewCreateOp(t)); err != nil {
			// An unqueued mutation can never be retried; roll the
			// optimistic insert back and fail the whole call.
			s.rollback(ctx, tasks[:len(tasks)-1])
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.applyLocal(ctx)
	s.triggerIfOnline(ctx)
	return t.Clone(), nil
}

// UpdateTask applies a partial update optimistically and queues it.
func (s *TaskStore) UpdateTask(ctx context.Context, id string, patch *task.Patch) error {
	err := s.withStateLock(func() error {
		tasks := s.cache.Load(ctx)
		i := indexByID(tasks, id)
		if i < 0 {
			return fmt.Errorf("task %s not found", id)
		}

		before := tasks[i].Clone()
		tasks[i].Apply(patch)
		if err := s.cache.Save(ctx, tasks); err != nil {
			return fmt.Errorf("optimistic update failed: %w", err)
		}

		if err := s.queue.Enqueue(ctx, task.NewUpdateOp(id, patch)); err != nil {
			tasks[i] = before
			s.rollback(ctx, tasks)
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.applyLocal(ctx)
	s.triggerIfOnline(ctx)
	return nil
}

// DeleteTask removes a task optimistically and queues the deletion.
func (s *TaskStore) DeleteTask(ctx context.Context, id string) error {
	err := s.withStateLock(func() error {
		tasks := s.cache.Load(ctx)
		i := indexByID(tasks, id)
		if i < 0 {
			return fmt.Errorf("task %s not found", id)
		}

		removed := tasks[i]
		trimmed := append(tasks[:i:i], tasks[i+1:]...)
		if err := s.cache.Save(ctx, trimmed); err != nil {
			return fmt.Errorf("optimistic delete failed: %w", err)
		}

		if err := s.queue.Enqueue(ctx, task.NewDeleteOp(id)); err != nil {
			restored := append(trimmed[:i:i], append([]*task.Task{removed}, trimmed[i:]...)...)
			s.rollback(ctx, restored)
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.applyLocal(ctx)
	s.triggerIfOnline(ctx)
	return nil
}

// CompleteTask is a specialized update that stamps CompletedAt and emits a
// completion event for the streak subsystem.
func (s *TaskStore) CompleteTask(ctx context.Context, id string) error {
	now := time.Now()
	patch := &task.Patch{
		SetCompletedAt: true,
		CompletedAt:    &now,
		Progress:       intPtr(100),
	}

	var title string
	err := s.withStateLock(func() error {
		tasks := s.cache.Load(ctx)
		i := indexByID(tasks, id)
		if i < 0 {
			return fmt.Errorf("task %s not found", id)
		}
		title = tasks[i].Title

		before := tasks[i].Clone()
		tasks[i].Apply(patch)
		if err := s.cache.Save(ctx, tasks); err != nil {
			return fmt.Errorf("optimistic completion failed: %w", err)
		}

		if err := s.queue.Enqueue(ctx, task.NewUpdateOp(id, patch)); err != nil {
			tasks[i] = before
			s.rollback(ctx, tasks)
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.applyLocal(ctx)
	s.triggerIfOnline(ctx)
	s.emitCompletion(CompletionEvent{TaskID: id, Title: title, CompletedAt: now})
	return nil
}

// PendingOps returns the operations still waiting for remote confirmation.
func (s *TaskStore) PendingOps(ctx context.Context) []*task.SyncOperation {
	return s.queue.LoadAll(ctx)
}

// History returns the archived completed tasks.
func (s *TaskStore) History(ctx context.Context) []*task.Task {
	return s.cache.LoadHistory(ctx)
}

// nextColor returns the next palette color and advances the persisted
// cursor. The cursor is facade-owned state, not a hidden module variable,
// so the rotation survives restarts. Caller holds the state lock.
func (s *TaskStore) nextColor(ctx context.Context) string {
	cursor := 0
	if data, err := s.store.Get(ctx, storage.KeyColorCursor); err == nil {
		if n, err := strconv.Atoi(string(data)); err == nil {
			cursor = n
		}
	}

	color := task.Palette[cursor%len(task.Palette)]
	if err := s.store.Put(ctx, storage.KeyColorCursor, []byte(strconv.Itoa(cursor+1))); err != nil {
		s.logger.Printf("WARNING: failed to persist color cursor: %v", err)
	}
	return color
}

// applyLocal refreshes the in-memory read surface from the cache after an
// optimistic write.
func (s *TaskStore) applyLocal(ctx context.Context) {
	tasks := s.cache.Load(ctx)

	s.mu.Lock()
	s.tasks = tasks
	s.mu.Unlock()

	s.publishChange(tasks)
}

// rollback restores the cache after a failed enqueue. A rollback failure is
// logged only; the next reconciliation repairs the cache.
func (s *TaskStore) rollback(ctx context.Context, tasks []*task.Task) {
	if err := s.cache.Save(ctx, tasks); err != nil {
		s.logger.Printf("WARNING: failed to roll back optimistic write: %v", err)
	}
}

func (s *TaskStore) triggerIfOnline(ctx context.Context) {
	if s.monitor.IsOnline() {
		s.orchestrator.TriggerAsync(ctx)
	}
}

func (s *TaskStore) withStateLock(fn func() error) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return fn()
}

func (s *TaskStore) publishChange(tasks []*task.Task) {
	s.subsMu.Lock()
	subs := make([]func([]*task.Task), len(s.changeSubs))
	copy(subs, s.changeSubs)
	s.subsMu.Unlock()

	for _, fn := range subs {
		fn(tasks)
	}
}

// emitCompletion delivers the event to subscribers on a separate goroutine
// so a slow consumer can't block or fail the completion.
func (s *TaskStore) emitCompletion(ev CompletionEvent) {
	s.subsMu.Lock()
	subs := make([]func(CompletionEvent), len(s.completionSubs))
	copy(subs, s.completionSubs)
	s.subsMu.Unlock()

	go func() {
		for _, fn := range subs {
			fn(ev)
		}
	}()
}

func indexByID(tasks []*task.Task, id string) int {
	for i, t := range tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func intPtr(n int) *int { return &n }
