package queue

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"

	"github.com/dayflow/dayflow/internal/storage"
	"github.com/dayflow/dayflow/internal/task"
)

func newTestQueue(t *testing.T) (*Queue, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	store, err := storage.Open(path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return New(store, log.New(io.Discard, "", 0)), path
}

func TestEnqueuePreservesOrder(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	first := task.NewCreateOp(&task.Task{ID: "local-1", Title: "a"})
	second := task.NewUpdateOp("local-1", &task.Patch{})
	third := task.NewDeleteOp("t9")

	for _, op := range []*task.SyncOperation{first, second, third} {
		if err := q.Enqueue(ctx, op); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}

	ops := q.LoadAll(ctx)
	if len(ops) != 3 {
		t.Fatalf("queue has %d ops, want 3", len(ops))
	}
	if ops[0].ID != first.ID || ops[1].ID != second.ID || ops[2].ID != third.ID {
		t.Error("insertion order not preserved")
	}
}

func TestEnqueueRejectsInvalidOperation(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	err := q.Enqueue(ctx, &task.SyncOperation{ID: "q1", Type: task.OpCreate, TaskID: "local-1"})
	if err == nil {
		t.Fatal("expected validation error for create without payload")
	}
	if q.Len(ctx) != 0 {
		t.Error("invalid operation reached the queue")
	}
}

func TestDequeueConfirmedRemovesOnlyTarget(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	a := task.NewDeleteOp("t1")
	b := task.NewDeleteOp("t2")
	for _, op := range []*task.SyncOperation{a, b} {
		if err := q.Enqueue(ctx, op); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}

	if err := q.DequeueConfirmed(ctx, a.ID); err != nil {
		t.Fatalf("dequeue failed: %v", err)
	}

	ops := q.LoadAll(ctx)
	if len(ops) != 1 || ops[0].ID != b.ID {
		t.Errorf("queue after dequeue = %+v, want only %s", ops, b.ID)
	}
}

func TestDequeueConfirmedMissingIDIsNoop(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, task.NewDeleteOp("t1")); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := q.DequeueConfirmed(ctx, "absent"); err != nil {
		t.Fatalf("dequeue of absent id failed: %v", err)
	}
	if q.Len(ctx) != 1 {
		t.Error("dequeue of absent id changed the queue")
	}
}

func TestQueueSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	store, err := storage.Open(path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	q := New(store, log.New(io.Discard, "", 0))

	op := task.NewCreateOp(&task.Task{ID: "local-1", Title: "durable"})
	if err := q.Enqueue(ctx, op); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	reopened, err := storage.Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	ops := New(reopened, log.New(io.Discard, "", 0)).LoadAll(ctx)
	if len(ops) != 1 {
		t.Fatalf("queue has %d ops after reopen, want 1", len(ops))
	}
	if ops[0].ID != op.ID || ops[0].Type != task.OpCreate || ops[0].Task == nil || ops[0].Task.Title != "durable" {
		t.Errorf("operation lost fields across reopen: %+v", ops[0])
	}
}

func TestLoadAllCorruptRecordDegradesToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	store, err := storage.Open(path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Put(ctx, storage.KeyPendingOps, []byte("not json")); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	q := New(store, log.New(io.Discard, "", 0))
	if got := q.LoadAll(ctx); len(got) != 0 {
		t.Errorf("loaded %d ops from corrupt record", len(got))
	}
}
