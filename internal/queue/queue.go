// Package queue implements the durable mutation queue: a FIFO log of
// operations not yet confirmed by the backend.
//
// The queue is persisted wholesale under a single record key. Entries are
// appended when the facade accepts a mutation and removed only after the
// remote effect is confirmed, so every pending mutation survives restarts.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/dayflow/dayflow/internal/storage"
	"github.com/dayflow/dayflow/internal/task"
)

// Queue is the durable FIFO log of pending sync operations.
type Queue struct {
	store  *storage.Store
	logger *log.Logger
}

// New creates a mutation queue over the given store. If logger is nil, a
// default logger writing to stderr is used.
func New(store *storage.Store, logger *log.Logger) *Queue {
	if logger == nil {
		logger = log.New(os.Stderr, "[queue] ", log.LstdFlags)
	}
	return &Queue{store: store, logger: logger}
}

// LoadAll returns the persisted operations in insertion order. An absent or
// unreadable record degrades to an empty queue; the failure is logged, not
// returned, since a read failure must not take the engine down.
func (q *Queue) LoadAll(ctx context.Context) []*task.SyncOperation {
	data, err := q.store.Get(ctx, storage.KeyPendingOps)
	if err != nil {
		if !storage.IsNotFound(err) {
			q.logger.Printf("WARNING: failed to read pending operations, treating queue as empty: %v", err)
		}
		return []*task.SyncOperation{}
	}

	var ops []*task.SyncOperation
	if err := json.Unmarshal(data, &ops); err != nil {
		q.logger.Printf("WARNING: corrupt pending operations record, treating queue as empty: %v", err)
		return []*task.SyncOperation{}
	}
	return ops
}

// Enqueue appends op to the persisted queue. A write failure propagates to
// the caller: an operation that never reached durable storage can never be
// retried, so the whole mutation must be considered failed.
func (q *Queue) Enqueue(ctx context.Context, op *task.SyncOperation) error {
	if err := op.Validate(); err != nil {
		return fmt.Errorf("invalid operation: %w", err)
	}

	ops := q.LoadAll(ctx)
	ops = append(ops, op)
	if err := q.Persist(ctx, ops); err != nil {
		return fmt.Errorf("failed to enqueue %s operation for %s: %w", op.Type, op.TaskID, err)
	}
	return nil
}

// DequeueConfirmed removes exactly one entry by its queue-entry ID and
// persists the remainder. Removing an absent ID is a no-op.
func (q *Queue) DequeueConfirmed(ctx context.Context, opID string) error {
	ops := q.LoadAll(ctx)
	kept := ops[:0]
	for _, op := range ops {
		if op.ID == opID {
			continue
		}
		kept = append(kept, op)
	}
	if len(kept) == len(ops) {
		return nil
	}
	return q.Persist(ctx, kept)
}

// Persist overwrites the stored queue wholesale.
func (q *Queue) Persist(ctx context.Context, ops []*task.SyncOperation) error {
	if ops == nil {
		ops = []*task.SyncOperation{}
	}
	data, err := json.Marshal(ops)
	if err != nil {
		return fmt.Errorf("failed to marshal pending operations: %w", err)
	}
	return q.store.Put(ctx, storage.KeyPendingOps, data)
}

// Len returns the number of pending operations.
func (q *Queue) Len(ctx context.Context) int {
	return len(q.LoadAll(ctx))
}
