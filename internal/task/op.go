package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OpType identifies the kind of mutation a queue entry replays.
type OpType string

const (
	OpCreate OpType = "create"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// SyncOperation is one entry in the durable mutation queue: a local mutation
// that has not yet been confirmed by the backend.
//
// ID identifies the queue entry itself, never the task. The queue is drained
// strictly in insertion order; Timestamp exists for diagnostics only.
type SyncOperation struct {
	ID   string `json:"id"`
	Type OpType `json:"type"`

	// TaskID is the target task: the placeholder ID for create, the
	// current (possibly promoted) ID for update/delete.
	TaskID string `json:"taskId"`

	// Task carries the full optimistic task for create operations.
	Task *Task `json:"task,omitempty"`

	// Patch carries the partial update for update operations.
	Patch *Patch `json:"patch,omitempty"`

	// LocalID is set for create operations and used to patch the
	// server-assigned ID back into the local cache.
	LocalID string `json:"localId,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	// Attempts counts sync passes that tried and failed to replay this
	// operation. Operations exceeding the configured cap are dropped.
	Attempts int `json:"attempts,omitempty"`
}

// NewCreateOp builds a queue entry for a locally created task.
func NewCreateOp(t *Task) *SyncOperation {
	return &SyncOperation{
		ID:        uuid.NewString(),
		Type:      OpCreate,
		TaskID:    t.ID,
		Task:      t.Clone(),
		LocalID:   t.ID,
		Timestamp: time.Now(),
	}
}

// NewUpdateOp builds a queue entry for a partial update of an existing task.
func NewUpdateOp(taskID string, patch *Patch) *SyncOperation {
	return &SyncOperation{
		ID:        uuid.NewString(),
		Type:      OpUpdate,
		TaskID:    taskID,
		Patch:     patch,
		Timestamp: time.Now(),
	}
}

// NewDeleteOp builds a queue entry for a deletion.
func NewDeleteOp(taskID string) *SyncOperation {
	return &SyncOperation{
		ID:        uuid.NewString(),
		Type:      OpDelete,
		TaskID:    taskID,
		Timestamp: time.Now(),
	}
}

// Validate checks structural consistency of the queue entry.
func (op *SyncOperation) Validate() error {
	if op.ID == "" {
		return fmt.Errorf("operation id is required")
	}
	if op.TaskID == "" {
		return fmt.Errorf("task id is required")
	}
	switch op.Type {
	case OpCreate:
		if op.Task == nil {
			return fmt.Errorf("create operation requires a task payload")
		}
		if op.LocalID == "" {
			return fmt.Errorf("create operation requires a local id")
		}
	case OpUpdate:
		if op.Patch == nil {
			return fmt.Errorf("update operation requires a patch payload")
		}
	case OpDelete:
		// Bare task ID is the whole payload.
	default:
		return fmt.Errorf("unknown operation type %q", op.Type)
	}
	return nil
}
