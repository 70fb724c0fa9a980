// Package sync implements the sync orchestrator: the single place where the
// engine's consistency policy is decided.
//
// One pass drains the mutation queue against the remote gateway in strict
// FIFO order, halting on the first transient failure, then pulls the
// authoritative task list and reconciles it into the local cache. Pending
// local intent is re-applied on top of the pulled list; everything else is
// replaced wholesale.
package sync

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/dayflow/dayflow/internal/cache"
	"github.com/dayflow/dayflow/internal/connectivity"
	"github.com/dayflow/dayflow/internal/gateway"
	"github.com/dayflow/dayflow/internal/queue"
	"github.com/dayflow/dayflow/internal/task"
)

// DefaultMaxAttempts caps retries for a single queued operation. An
// operation failing transiently this many times is dropped with a logged
// cause rather than blocking the queue forever.
const DefaultMaxAttempts = 25

// Result summarizes one sync pass.
type Result struct {
	// Skipped is true when the pass aborted immediately (offline, or a
	// pass was already in flight).
	Skipped bool

	// Confirmed counts operations acknowledged by the backend.
	Confirmed int

	// Dropped counts operations discarded as permanently failed.
	Dropped int

	// Pending is the queue depth after the pass.
	Pending int

	// Pulled is the task count fetched in the pull phase.
	Pulled int

	// PullErr is the pull-phase failure, if any. Queue-drain transients
	// never appear here; they are silent-retry by design.
	PullErr error
}

// Deps wires the orchestrator's collaborators.
type Deps struct {
	Cache   *cache.TaskCache
	Queue   *queue.Queue
	Gateway gateway.Gateway
	Monitor connectivity.Monitor

	// StateLock serializes every local cache/queue write with the
	// facade's optimistic writes. The facade must hold the same mutex.
	StateLock *sync.Mutex

	// MaxAttempts caps per-operation retries (default DefaultMaxAttempts).
	MaxAttempts int

	// Logger for pass activity. Nil defaults to stderr.
	Logger *log.Logger
}

// Orchestrator drives the queue-drain-then-pull protocol.
type Orchestrator struct {
	cache       *cache.TaskCache
	queue       *queue.Queue
	gw          gateway.Gateway
	monitor     connectivity.Monitor
	stateMu     *sync.Mutex
	maxAttempts int
	logger      *log.Logger

	// Single-flight discipline: one pass at a time; triggers arriving
	// mid-pass coalesce into exactly one follow-up pass.
	flightMu sync.Mutex
	inFlight bool
	rerun    bool

	subsMu      sync.Mutex
	taskSubs    []func([]*task.Task)
	resultSubs  []func(Result)
	authSubs    []func()
	unsubscribe func()
}

// New creates an orchestrator and subscribes it to the connectivity
// monitor: the online transition triggers an automatic pass.
func New(deps Deps) *Orchestrator {
	if deps.MaxAttempts == 0 {
		deps.MaxAttempts = DefaultMaxAttempts
	}
	if deps.Logger == nil {
		deps.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if deps.StateLock == nil {
		deps.StateLock = &sync.Mutex{}
	}

	o := &Orchestrator{
		cache:       deps.Cache,
		queue:       deps.Queue,
		gw:          deps.Gateway,
		monitor:     deps.Monitor,
		stateMu:     deps.StateLock,
		maxAttempts: deps.MaxAttempts,
		logger:      deps.Logger,
	}

	o.unsubscribe = deps.Monitor.Subscribe(func(online bool) {
		if online {
			o.TriggerAsync(context.Background())
		}
	})

	return o
}

// Close detaches the orchestrator from the connectivity monitor.
func (o *Orchestrator) Close() {
	if o.unsubscribe != nil {
		o.unsubscribe()
	}
}

// StateLock returns the mutex guarding local cache and queue writes. The
// facade serializes its optimistic writes through the same lock.
func (o *Orchestrator) StateLock() *sync.Mutex { return o.stateMu }

// OnTasks registers fn to receive the reconciled task list after each
// successful pull.
func (o *Orchestrator) OnTasks(fn func([]*task.Task)) {
	o.subsMu.Lock()
	defer o.subsMu.Unlock()
	o.taskSubs = append(o.taskSubs, fn)
}

// OnResult registers fn to receive every completed pass summary.
func (o *Orchestrator) OnResult(fn func(Result)) {
	o.subsMu.Lock()
	defer o.subsMu.Unlock()
	o.resultSubs = append(o.resultSubs, fn)
}

// OnAuthFailure registers fn to be called when a pass aborts on a
// session-fatal credential failure.
func (o *Orchestrator) OnAuthFailure(fn func()) {
	o.subsMu.Lock()
	defer o.subsMu.Unlock()
	o.authSubs = append(o.authSubs, fn)
}

// TriggerAsync requests a sync pass without waiting for it. A trigger
// arriving while a pass is in flight is coalesced: the running pass
// schedules exactly one follow-up when it completes.
func (o *Orchestrator) TriggerAsync(ctx context.Context) {
	go func() {
		if _, err := o.Sync(ctx); err != nil {
			o.logger.Printf("WARNING: sync pass failed: %v", err)
		}
	}()
}

// Sync runs one pass to completion, honoring the single-flight discipline.
// A pass requested while another is running returns a Skipped result and
// marks the in-flight pass for a follow-up.
func (o *Orchestrator) Sync(ctx context.Context) (Result, error) {
	o.flightMu.Lock()
	if o.inFlight {
		o.rerun = true
		o.flightMu.Unlock()
		return Result{Skipped: true}, nil
	}
	o.inFlight = true
	o.flightMu.Unlock()

	res, err := o.runPass(ctx)

	o.flightMu.Lock()
	o.inFlight = false
	again := o.rerun
	o.rerun = false
	o.flightMu.Unlock()

	o.publishResult(res)

	if again {
		return o.Sync(ctx)
	}
	return res, err
}

// runPass executes the drain-then-pull algorithm once.
func (o *Orchestrator) runPass(ctx context.Context) (Result, error) {
	var res Result

	// Step 1: offline means no-op, no network calls, queue untouched.
	if !o.monitor.IsOnline() {
		res.Skipped = true
		res.Pending = o.queue.Len(ctx)
		return res, nil
	}

	start := time.Now()
	halted, err := o.drainQueue(ctx, &res)
	if err != nil {
		// Session-fatal: skip the pull, the credential is gone.
		res.Pending = o.queue.Len(ctx)
		return res, err
	}

	if halted {
		o.logger.Printf("Queue drain halted on transient failure, %d operations still pending",
			o.queue.Len(ctx))
	}

	// Steps 4-5: pull the authoritative list and reconcile. A pull
	// failure keeps the previous cache and surfaces through Result only.
	if err := o.pull(ctx, &res); err != nil {
		res.PullErr = err
		o.logger.Printf("WARNING: pull failed, serving cached tasks: %v", err)
	}

	res.Pending = o.queue.Len(ctx)
	o.logger.Printf("Sync pass complete in %v: confirmed=%d dropped=%d pending=%d pulled=%d",
		time.Since(start).Round(time.Millisecond), res.Confirmed, res.Dropped, res.Pending, res.Pulled)

	return res, nil
}

// drainQueue replays pending operations in FIFO order. It returns
// halted=true when a transient failure stopped the drain, and a non-nil
// error only for session-fatal auth failures.
func (o *Orchestrator) drainQueue(ctx context.Context, res *Result) (bool, error) {
	// Reload the head each iteration: confirming a create rewrites the task
	// IDs of later entries that targeted its placeholder, and those rewrites
	// must be visible before the entries replay. Operations enqueued during
	// the drain wait for the next pass.
	limit := o.queue.Len(ctx)

	for i := 0; i < limit; i++ {
		ops := o.queue.LoadAll(ctx)
		if len(ops) == 0 {
			break
		}
		op := ops[0]

		err := o.dispatch(ctx, op)
		if err == nil {
			res.Confirmed++
			continue
		}

		if gateway.IsAuth(err) {
			o.logger.Printf("Auth failure during %s of %s, aborting pass", op.Type, op.TaskID)
			o.notifyAuthFailure()
			return false, fmt.Errorf("sync pass aborted: %w", err)
		}

		if gateway.IsPermanent(err) {
			// Validation failures and not-found targets can never
			// succeed; not-found on update/delete just means the
			// task is already gone.
			o.logger.Printf("Dropping %s operation for %s (permanent failure): %v", op.Type, op.TaskID, err)
			o.withStateLock(func() error {
				return o.queue.DequeueConfirmed(ctx, op.ID)
			})
			res.Dropped++
			continue
		}

		// Transient. A failed operation must not be skipped over: a
		// later operation may depend on an earlier create's server ID,
		// so the drain stops here and retries on the next trigger.
		attempts := o.recordAttempt(ctx, op)
		if attempts >= o.maxAttempts {
			o.logger.Printf("Dropping %s operation for %s after %d attempts: %v",
				op.Type, op.TaskID, attempts, err)
			o.withStateLock(func() error {
				return o.queue.DequeueConfirmed(ctx, op.ID)
			})
			res.Dropped++
			continue
		}

		o.logger.Printf("Transient failure on %s of %s (attempt %d), halting drain: %v",
			op.Type, op.TaskID, attempts, err)
		return true, nil
	}

	return false, nil
}

// dispatch replays one operation against the gateway and applies its local
// effects on success.
func (o *Orchestrator) dispatch(ctx context.Context, op *task.SyncOperation) error {
	switch op.Type {
	case task.OpCreate:
		created, err := o.gw.CreateTask(ctx, op.Task)
		if err != nil {
			return err
		}
		return o.confirmCreate(ctx, op, created)

	case task.OpUpdate:
		if _, err := o.gw.UpdateTask(ctx, op.TaskID, op.Patch); err != nil {
			return err
		}
		return o.confirmSimple(ctx, op)

	case task.OpDelete:
		err := o.gw.DeleteTask(ctx, op.TaskID)
		if err != nil && !gateway.IsNotFound(err) {
			return err
		}
		// Deleting an already-deleted task is success for our purposes.
		return o.confirmSimple(ctx, op)

	default:
		// Unknown entries can't be replayed; surface as permanent so the
		// drain drops them instead of wedging.
		return &gateway.ValidationError{Detail: fmt.Sprintf("unknown operation type %q", op.Type)}
	}
}

// confirmCreate promotes the placeholder ID to the server-assigned one in
// the cache and in any queued operations that target it, then removes the
// confirmed entry from the queue.
func (o *Orchestrator) confirmCreate(ctx context.Context, op *task.SyncOperation, created *task.Task) error {
	return o.withStateLock(func() error {
		tasks := o.cache.Load(ctx)
		promoted := make([]*task.Task, 0, len(tasks))
		replaced := false
		for _, t := range tasks {
			if t.ID == op.LocalID {
				promoted = append(promoted, created.Clone())
				replaced = true
				continue
			}
			promoted = append(promoted, t)
		}
		if !replaced {
			// The placeholder may already be gone (e.g. pulled away by
			// an earlier pass); the server copy still belongs in the cache.
			promoted = append(promoted, created.Clone())
		}
		if err := o.cache.Save(ctx, promoted); err != nil {
			return fmt.Errorf("failed to promote %s to %s: %w", op.LocalID, created.ID, err)
		}

		// Later queued operations may target the placeholder ID; rewrite
		// them so they replay against the real task.
		ops := o.queue.LoadAll(ctx)
		kept := make([]*task.SyncOperation, 0, len(ops))
		for _, pending := range ops {
			if pending.ID == op.ID {
				continue
			}
			if pending.TaskID == op.LocalID {
				pending.TaskID = created.ID
			}
			kept = append(kept, pending)
		}
		if err := o.queue.Persist(ctx, kept); err != nil {
			return fmt.Errorf("failed to confirm create of %s: %w", created.ID, err)
		}

		o.logger.Printf("Promoted %s -> %s (%s)", op.LocalID, created.ID, created.Title)
		return nil
	})
}

// confirmSimple removes a confirmed update/delete entry from the queue.
func (o *Orchestrator) confirmSimple(ctx context.Context, op *task.SyncOperation) error {
	return o.withStateLock(func() error {
		return o.queue.DequeueConfirmed(ctx, op.ID)
	})
}

// recordAttempt bumps the persisted attempt counter for op and returns the
// new count.
func (o *Orchestrator) recordAttempt(ctx context.Context, op *task.SyncOperation) int {
	attempts := op.Attempts + 1
	o.withStateLock(func() error {
		ops := o.queue.LoadAll(ctx)
		for _, pending := range ops {
			if pending.ID == op.ID {
				pending.Attempts = attempts
				break
			}
		}
		return o.queue.Persist(ctx, ops)
	})
	return attempts
}

// pull fetches the authoritative list and reconciles it into the cache:
// wholesale replacement, with pending local intent re-applied on top so
// optimistic state survives until its operations are confirmed.
func (o *Orchestrator) pull(ctx context.Context, res *Result) error {
	remote, err := o.gw.ListTasks(ctx)
	if err != nil {
		return err
	}
	res.Pulled = len(remote)

	var published []*task.Task
	err = o.withStateLock(func() error {
		merged := overlayPending(remote, o.queue.LoadAll(ctx))

		merged, err := o.cache.Archive(ctx, merged, time.Now())
		if err != nil {
			return fmt.Errorf("failed to archive completed tasks: %w", err)
		}

		if err := o.cache.Save(ctx, merged); err != nil {
			return fmt.Errorf("failed to save reconciled tasks: %w", err)
		}

		o.cache.SetLastSync(ctx, time.Now())
		published = merged
		return nil
	})
	if err != nil {
		return err
	}

	o.publishTasks(published)
	return nil
}

// overlayPending re-applies queued local intent on top of the server list.
// The server copy wins for everything without a pending operation.
func overlayPending(remote []*task.Task, ops []*task.SyncOperation) []*task.Task {
	merged := make([]*task.Task, 0, len(remote))
	for _, t := range remote {
		merged = append(merged, t.Clone())
	}

	for _, op := range ops {
		switch op.Type {
		case task.OpCreate:
			if op.Task != nil && indexByID(merged, op.TaskID) < 0 {
				merged = append(merged, op.Task.Clone())
			}
		case task.OpUpdate:
			if i := indexByID(merged, op.TaskID); i >= 0 && op.Patch != nil {
				merged[i].Apply(op.Patch)
			}
		case task.OpDelete:
			if i := indexByID(merged, op.TaskID); i >= 0 {
				merged = append(merged[:i], merged[i+1:]...)
			}
		}
	}

	task.NormalizeAll(merged)
	return merged
}

func indexByID(tasks []*task.Task, id string) int {
	for i, t := range tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// withStateLock runs fn under the shared cache/queue mutex.
func (o *Orchestrator) withStateLock(fn func() error) error {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return fn()
}

func (o *Orchestrator) publishTasks(tasks []*task.Task) {
	o.subsMu.Lock()
	subs := make([]func([]*task.Task), len(o.taskSubs))
	copy(subs, o.taskSubs)
	o.subsMu.Unlock()

	for _, fn := range subs {
		fn(tasks)
	}
}

func (o *Orchestrator) publishResult(res Result) {
	o.subsMu.Lock()
	subs := make([]func(Result), len(o.resultSubs))
	copy(subs, o.resultSubs)
	o.subsMu.Unlock()

	for _, fn := range subs {
		fn(res)
	}
}

func (o *Orchestrator) notifyAuthFailure() {
	o.subsMu.Lock()
	subs := make([]func(), len(o.authSubs))
	copy(subs, o.authSubs)
	o.subsMu.Unlock()

	for _, fn := range subs {
		fn()
	}
}
