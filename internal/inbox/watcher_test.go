package inbox

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dayflow/dayflow/internal/cache"
	"github.com/dayflow/dayflow/internal/connectivity"
	"github.com/dayflow/dayflow/internal/gateway"
	"github.com/dayflow/dayflow/internal/queue"
	"github.com/dayflow/dayflow/internal/storage"
	"github.com/dayflow/dayflow/internal/store"
	"github.com/dayflow/dayflow/internal/sync"
	"github.com/dayflow/dayflow/internal/task"
)

// offlineGateway should never be reached; the monitor stays offline.
type offlineGateway struct{}

func (offlineGateway) ListTasks(ctx context.Context) ([]*task.Task, error) {
	return nil, &gateway.NetworkError{}
}

func (offlineGateway) CreateTask(ctx context.Context, t *task.Task) (*task.Task, error) {
	return nil, &gateway.NetworkError{}
}

func (offlineGateway) UpdateTask(ctx context.Context, id string, p *task.Patch) (*task.Task, error) {
	return nil, &gateway.NetworkError{}
}

func (offlineGateway) DeleteTask(ctx context.Context, id string) error {
	return &gateway.NetworkError{}
}

func newTestStore(t *testing.T) *store.TaskStore {
	t.Helper()

	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	quiet := log.New(io.Discard, "", 0)
	c := cache.New(db, quiet)
	q := queue.New(db, quiet)
	monitor := connectivity.NewStatic(false)

	orch := sync.New(sync.Deps{
		Cache:   c,
		Queue:   q,
		Gateway: offlineGateway{},
		Monitor: monitor,
		Logger:  quiet,
	})
	t.Cleanup(orch.Close)

	return store.New(store.Deps{
		Store:        db,
		Cache:        c,
		Queue:        q,
		Orchestrator: orch,
		Monitor:      monitor,
		Logger:       quiet,
	})
}

func newTestWatcher(t *testing.T, tasks *store.TaskStore, dir string) *Watcher {
	t.Helper()
	w, err := New(tasks, Config{
		Dir:              dir,
		DebounceInterval: 20 * time.Millisecond,
		Logger:           log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	return w
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestDrainExistingIngestsOnStart(t *testing.T) {
	tasks := newTestStore(t)
	dir := t.TempDir()

	path := filepath.Join(dir, "drop.json")
	if err := os.WriteFile(path, []byte(`{"title":"dropped before start","categoryId":"work"}`), 0644); err != nil {
		t.Fatalf("failed to write drop file: %v", err)
	}

	w := newTestWatcher(t, tasks, dir)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	defer w.Stop()

	visible := tasks.Tasks()
	if len(visible) != 1 {
		t.Fatalf("facade has %d tasks after drain, want 1", len(visible))
	}
	if visible[0].Title != "dropped before start" || !visible[0].Quick || visible[0].CategoryID != "work" {
		t.Errorf("ingested task = %+v", visible[0])
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("drop file not removed after ingestion")
	}
}

func TestWatcherIngestsNewDrop(t *testing.T) {
	tasks := newTestStore(t)
	dir := t.TempDir()

	w := newTestWatcher(t, tasks, dir)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	defer w.Stop()

	path := filepath.Join(dir, "new.json")
	if err := os.WriteFile(path, []byte(`{"title":"dropped while running"}`), 0644); err != nil {
		t.Fatalf("failed to write drop file: %v", err)
	}

	waitUntil(t, 3*time.Second, func() bool {
		return len(tasks.Tasks()) == 1
	})

	if visible := tasks.Tasks(); visible[0].Title != "dropped while running" {
		t.Errorf("ingested task = %+v", visible[0])
	}

	waitUntil(t, 2*time.Second, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	})
}

func TestUnparseableFileLeftInPlace(t *testing.T) {
	tasks := newTestStore(t)
	dir := t.TempDir()

	path := filepath.Join(dir, "broken.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("failed to write drop file: %v", err)
	}

	w := newTestWatcher(t, tasks, dir)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	defer w.Stop()

	if len(tasks.Tasks()) != 0 {
		t.Error("unparseable file produced a task")
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("unparseable file was removed; it should stay for the user to fix")
	}
}

func TestNonJSONFilesIgnored(t *testing.T) {
	tasks := newTestStore(t)
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("title: nope"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	w := newTestWatcher(t, tasks, dir)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	defer w.Stop()

	if len(tasks.Tasks()) != 0 {
		t.Error("non-json file produced a task")
	}
}

func TestNewRequiresDir(t *testing.T) {
	if _, err := New(newTestStore(t), Config{}); err == nil {
		t.Fatal("expected error for missing inbox directory")
	}
}
