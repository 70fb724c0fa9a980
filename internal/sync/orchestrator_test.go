package sync

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	stdsync "sync"
	"testing"
	"time"

	"github.com/dayflow/dayflow/internal/cache"
	"github.com/dayflow/dayflow/internal/connectivity"
	"github.com/dayflow/dayflow/internal/gateway"
	"github.com/dayflow/dayflow/internal/queue"
	"github.com/dayflow/dayflow/internal/storage"
	"github.com/dayflow/dayflow/internal/task"
)

// fakeGateway scripts backend behavior per call. Nil hooks fall back to a
// permissive default: empty list, echo create with a server id, echo update,
// silent delete. Every call is recorded.
type fakeGateway struct {
	mu       stdsync.Mutex
	calls    []string
	nextID   int
	onList   func() ([]*task.Task, error)
	onCreate func(t *task.Task) (*task.Task, error)
	onUpdate func(id string, p *task.Patch) (*task.Task, error)
	onDelete func(id string) error
}

func (f *fakeGateway) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeGateway) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeGateway) ListTasks(ctx context.Context) ([]*task.Task, error) {
	f.record("list")
	if f.onList != nil {
		return f.onList()
	}
	return []*task.Task{}, nil
}

func (f *fakeGateway) CreateTask(ctx context.Context, t *task.Task) (*task.Task, error) {
	f.record("create " + t.ID)
	if f.onCreate != nil {
		return f.onCreate(t)
	}
	f.mu.Lock()
	f.nextID++
	id := fmt.Sprintf("srv-%d", f.nextID)
	f.mu.Unlock()
	created := t.Clone()
	created.ID = id
	return created, nil
}

func (f *fakeGateway) UpdateTask(ctx context.Context, id string, p *task.Patch) (*task.Task, error) {
	f.record("update " + id)
	if f.onUpdate != nil {
		return f.onUpdate(id, p)
	}
	t := &task.Task{ID: id, Title: "updated"}
	t.Apply(p)
	return t, nil
}

func (f *fakeGateway) DeleteTask(ctx context.Context, id string) error {
	f.record("delete " + id)
	if f.onDelete != nil {
		return f.onDelete(id)
	}
	return nil
}

type testEngine struct {
	cache   *cache.TaskCache
	queue   *queue.Queue
	gateway *fakeGateway
	monitor *connectivity.Static
	orch    *Orchestrator
}

func newTestEngine(t *testing.T, online bool) *testEngine {
	t.Helper()

	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	quiet := log.New(io.Discard, "", 0)
	e := &testEngine{
		cache:   cache.New(store, quiet),
		queue:   queue.New(store, quiet),
		gateway: &fakeGateway{},
		monitor: connectivity.NewStatic(online),
	}
	e.orch = New(Deps{
		Cache:   e.cache,
		Queue:   e.queue,
		Gateway: e.gateway,
		Monitor: e.monitor,
		Logger:  quiet,
	})
	t.Cleanup(e.orch.Close)
	return e
}

func (e *testEngine) mustEnqueue(t *testing.T, ops ...*task.SyncOperation) {
	t.Helper()
	for _, op := range ops {
		if err := e.queue.Enqueue(context.Background(), op); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}
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

func TestOfflinePassIsNoop(t *testing.T) {
	e := newTestEngine(t, false)
	ctx := context.Background()
	e.mustEnqueue(t, task.NewDeleteOp("t1"))

	res, err := e.orch.Sync(ctx)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if !res.Skipped {
		t.Error("offline pass not marked skipped")
	}
	if res.Pending != 1 {
		t.Errorf("Pending = %d, want 1", res.Pending)
	}
	if calls := e.gateway.callLog(); len(calls) != 0 {
		t.Errorf("offline pass made network calls: %v", calls)
	}
	if e.queue.Len(ctx) != 1 {
		t.Error("offline pass changed the queue")
	}
}

func TestDrainConfirmsInOrder(t *testing.T) {
	e := newTestEngine(t, true)
	ctx := context.Background()

	e.mustEnqueue(t,
		task.NewCreateOp(&task.Task{ID: "local-1", Title: "a", Color: "#EF5350"}),
		task.NewUpdateOp("t2", &task.Patch{}),
		task.NewDeleteOp("t3"),
	)

	res, err := e.orch.Sync(ctx)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if res.Confirmed != 3 || res.Dropped != 0 || res.Pending != 0 {
		t.Errorf("result = %+v", res)
	}

	want := []string{"create local-1", "update t2", "delete t3", "list"}
	got := e.gateway.callLog()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDrainHaltsOnTransientFailure(t *testing.T) {
	e := newTestEngine(t, true)
	ctx := context.Background()

	e.gateway.onUpdate = func(id string, p *task.Patch) (*task.Task, error) {
		if id == "t2" {
			return nil, &gateway.ServerError{Status: 503, Body: "overloaded"}
		}
		return &task.Task{ID: id}, nil
	}

	e.mustEnqueue(t,
		task.NewUpdateOp("t1", &task.Patch{}),
		task.NewUpdateOp("t2", &task.Patch{}),
		task.NewDeleteOp("t3"),
	)

	res, err := e.orch.Sync(ctx)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if res.Confirmed != 1 {
		t.Errorf("Confirmed = %d, want 1", res.Confirmed)
	}
	if res.Pending != 2 {
		t.Errorf("Pending = %d, want 2", res.Pending)
	}

	for _, call := range e.gateway.callLog() {
		if call == "delete t3" {
			t.Error("operation after the failed one was attempted")
		}
	}

	ops := e.queue.LoadAll(ctx)
	if len(ops) != 2 || ops[0].TaskID != "t2" {
		t.Fatalf("queue = %+v, want t2 at head", ops)
	}
	if ops[0].Attempts != 1 {
		t.Errorf("failed op Attempts = %d, want 1", ops[0].Attempts)
	}
}

func TestCreatePromotesPlaceholderID(t *testing.T) {
	e := newTestEngine(t, true)
	ctx := context.Background()

	local := &task.Task{ID: "local-1", Title: "new task", Color: "#EF5350"}
	if err := e.cache.Save(ctx, []*task.Task{local}); err != nil {
		t.Fatalf("seed cache failed: %v", err)
	}

	e.gateway.onCreate = func(tk *task.Task) (*task.Task, error) {
		created := tk.Clone()
		created.ID = "abc123"
		return created, nil
	}
	var updatedID string
	e.gateway.onUpdate = func(id string, p *task.Patch) (*task.Task, error) {
		updatedID = id
		return &task.Task{ID: id, Title: "new task"}, nil
	}
	e.gateway.onList = func() ([]*task.Task, error) {
		return []*task.Task{{ID: "abc123", Title: "new task"}}, nil
	}

	progress := 50
	e.mustEnqueue(t,
		task.NewCreateOp(local),
		task.NewUpdateOp("local-1", &task.Patch{Progress: &progress}),
	)

	res, err := e.orch.Sync(ctx)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if res.Confirmed != 2 || res.Pending != 0 {
		t.Errorf("result = %+v", res)
	}

	// The dependent update must replay against the server id, not the
	// placeholder the facade recorded.
	if updatedID != "abc123" {
		t.Errorf("update replayed against %q, want abc123", updatedID)
	}

	tasks := e.cache.Load(ctx)
	if len(tasks) != 1 || tasks[0].ID != "abc123" {
		t.Errorf("cache = %+v, want single task abc123", tasks)
	}
	for _, tk := range tasks {
		if task.IsLocalID(tk.ID) {
			t.Errorf("placeholder id survived promotion: %s", tk.ID)
		}
	}
}

func TestDeleteNotFoundCountsAsConfirmed(t *testing.T) {
	e := newTestEngine(t, true)
	ctx := context.Background()

	e.gateway.onDelete = func(id string) error {
		return &gateway.NotFoundError{TaskID: id}
	}
	e.mustEnqueue(t, task.NewDeleteOp("t1"))

	res, err := e.orch.Sync(ctx)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if res.Confirmed != 1 || res.Dropped != 0 {
		t.Errorf("result = %+v, want delete of missing task confirmed", res)
	}
	if e.queue.Len(ctx) != 0 {
		t.Error("confirmed delete still queued")
	}
}

func TestPermanentFailureDropsAndContinues(t *testing.T) {
	e := newTestEngine(t, true)
	ctx := context.Background()

	e.gateway.onUpdate = func(id string, p *task.Patch) (*task.Task, error) {
		return nil, &gateway.ValidationError{Detail: "bad patch"}
	}
	e.mustEnqueue(t,
		task.NewUpdateOp("t1", &task.Patch{}),
		task.NewDeleteOp("t2"),
	)

	res, err := e.orch.Sync(ctx)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if res.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", res.Dropped)
	}
	if res.Confirmed != 1 {
		t.Errorf("Confirmed = %d, want 1 (drain must continue past a drop)", res.Confirmed)
	}
	if res.Pending != 0 {
		t.Errorf("Pending = %d, want 0", res.Pending)
	}
}

func TestAuthFailureAbortsPass(t *testing.T) {
	e := newTestEngine(t, true)
	ctx := context.Background()

	e.gateway.onUpdate = func(id string, p *task.Patch) (*task.Task, error) {
		return nil, &gateway.AuthError{Reason: "token expired"}
	}

	authFired := false
	e.orch.OnAuthFailure(func() { authFired = true })

	e.mustEnqueue(t,
		task.NewUpdateOp("t1", &task.Patch{}),
		task.NewDeleteOp("t2"),
	)

	_, err := e.orch.Sync(ctx)
	if err == nil {
		t.Fatal("expected auth failure to surface")
	}
	if !authFired {
		t.Error("auth failure subscriber not notified")
	}
	if e.queue.Len(ctx) != 2 {
		t.Error("aborted pass changed the queue")
	}
	for _, call := range e.gateway.callLog() {
		if call == "list" {
			t.Error("pull ran after a session-fatal failure")
		}
	}
}

func TestRetryCapDropsOperation(t *testing.T) {
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	quiet := log.New(io.Discard, "", 0)
	c := cache.New(store, quiet)
	q := queue.New(store, quiet)
	gw := &fakeGateway{}
	gw.onDelete = func(id string) error {
		return &gateway.NetworkError{Err: fmt.Errorf("connection refused")}
	}

	orch := New(Deps{
		Cache:       c,
		Queue:       q,
		Gateway:     gw,
		Monitor:     connectivity.NewStatic(true),
		MaxAttempts: 3,
		Logger:      quiet,
	})
	t.Cleanup(orch.Close)

	ctx := context.Background()
	op := task.NewDeleteOp("t1")
	op.Attempts = 2
	if err := q.Enqueue(ctx, op); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	res, err := orch.Sync(ctx)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if res.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1 (attempt cap reached)", res.Dropped)
	}
	if q.Len(ctx) != 0 {
		t.Error("capped operation still queued")
	}
}

func TestPullReplacesCacheWholesale(t *testing.T) {
	e := newTestEngine(t, true)
	ctx := context.Background()

	if err := e.cache.Save(ctx, []*task.Task{
		{ID: "x1", Title: "X"},
		{ID: "y1", Title: "Y"},
	}); err != nil {
		t.Fatalf("seed cache failed: %v", err)
	}

	e.gateway.onList = func() ([]*task.Task, error) {
		return []*task.Task{{ID: "x1", Title: "X"}}, nil
	}

	res, err := e.orch.Sync(ctx)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if res.Pulled != 1 {
		t.Errorf("Pulled = %d, want 1", res.Pulled)
	}

	tasks := e.cache.Load(ctx)
	if len(tasks) != 1 || tasks[0].ID != "x1" {
		t.Errorf("cache = %+v, want server list only (no merge)", tasks)
	}
}

func TestPullOverlaysPendingIntent(t *testing.T) {
	e := newTestEngine(t, true)
	ctx := context.Background()

	// The first queued operation fails transiently, halting the drain so
	// all three stay pending through the pull.
	e.gateway.onUpdate = func(id string, p *task.Patch) (*task.Task, error) {
		return nil, &gateway.ServerError{Status: 502, Body: "bad gateway"}
	}
	e.gateway.onList = func() ([]*task.Task, error) {
		return []*task.Task{
			{ID: "t1", Title: "server title"},
			{ID: "t2", Title: "doomed"},
		}, nil
	}

	title := "local edit"
	e.mustEnqueue(t,
		task.NewUpdateOp("t1", &task.Patch{Title: &title}),
		task.NewDeleteOp("t2"),
		task.NewCreateOp(&task.Task{ID: "local-3", Title: "offline add", Color: "#66BB6A"}),
	)

	res, err := e.orch.Sync(ctx)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if res.Pending != 3 {
		t.Errorf("Pending = %d, want 3", res.Pending)
	}

	tasks := e.cache.Load(ctx)
	byID := map[string]*task.Task{}
	for _, tk := range tasks {
		byID[tk.ID] = tk
	}

	if tk := byID["t1"]; tk == nil || tk.Title != "local edit" {
		t.Errorf("pending update not overlaid: %+v", byID["t1"])
	}
	if _, ok := byID["t2"]; ok {
		t.Error("pending delete not overlaid, t2 resurrected")
	}
	if tk := byID["local-3"]; tk == nil || tk.Title != "offline add" {
		t.Errorf("pending create not overlaid: %+v", byID["local-3"])
	}
	if len(tasks) != 2 {
		t.Errorf("cache has %d tasks, want 2", len(tasks))
	}
}

func TestPullFailureKeepsPreviousCache(t *testing.T) {
	e := newTestEngine(t, true)
	ctx := context.Background()

	if err := e.cache.Save(ctx, []*task.Task{{ID: "x1", Title: "X"}}); err != nil {
		t.Fatalf("seed cache failed: %v", err)
	}
	e.gateway.onList = func() ([]*task.Task, error) {
		return nil, &gateway.NetworkError{Err: fmt.Errorf("connection reset")}
	}

	res, err := e.orch.Sync(ctx)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if res.PullErr == nil {
		t.Error("pull failure not surfaced in result")
	}

	tasks := e.cache.Load(ctx)
	if len(tasks) != 1 || tasks[0].ID != "x1" {
		t.Errorf("cache = %+v, want previous contents intact", tasks)
	}
	if !e.cache.LastSync(ctx).IsZero() {
		t.Error("last sync recorded despite failed pull")
	}
}

func TestSuccessfulPullRecordsLastSync(t *testing.T) {
	e := newTestEngine(t, true)
	ctx := context.Background()

	if _, err := e.orch.Sync(ctx); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if e.cache.LastSync(ctx).IsZero() {
		t.Error("last sync not recorded after successful pull")
	}
}

func TestConcurrentTriggerCoalesces(t *testing.T) {
	e := newTestEngine(t, true)
	ctx := context.Background()

	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	var listCalls int
	var mu stdsync.Mutex
	e.gateway.onList = func() ([]*task.Task, error) {
		mu.Lock()
		listCalls++
		first := listCalls == 1
		mu.Unlock()
		if first {
			entered <- struct{}{}
			<-gate
		}
		return []*task.Task{}, nil
	}

	done := make(chan Result, 1)
	go func() {
		res, _ := e.orch.Sync(ctx)
		done <- res
	}()

	<-entered

	// A trigger while the pass is in flight returns skipped and schedules
	// exactly one follow-up.
	res, err := e.orch.Sync(ctx)
	if err != nil {
		t.Fatalf("re-entrant sync failed: %v", err)
	}
	if !res.Skipped {
		t.Error("re-entrant sync was not coalesced")
	}

	close(gate)
	final := <-done
	if final.Skipped {
		t.Error("original pass reported skipped")
	}

	mu.Lock()
	calls := listCalls
	mu.Unlock()
	if calls != 2 {
		t.Errorf("list called %d times, want 2 (one pass plus one coalesced rerun)", calls)
	}
}

func TestOnlineTransitionTriggersPass(t *testing.T) {
	e := newTestEngine(t, false)
	ctx := context.Background()
	e.mustEnqueue(t, task.NewDeleteOp("t1"))

	e.monitor.Set(true)

	waitUntil(t, 2*time.Second, func() bool {
		return e.queue.Len(ctx) == 0
	})
}

func TestResultPublishedToSubscribers(t *testing.T) {
	e := newTestEngine(t, true)
	ctx := context.Background()

	var mu stdsync.Mutex
	var got []Result
	e.orch.OnResult(func(r Result) {
		mu.Lock()
		got = append(got, r)
		mu.Unlock()
	})

	var tasksSeen []*task.Task
	e.orch.OnTasks(func(tasks []*task.Task) {
		mu.Lock()
		tasksSeen = tasks
		mu.Unlock()
	})

	e.gateway.onList = func() ([]*task.Task, error) {
		return []*task.Task{{ID: "t1", Title: "x"}}, nil
	}

	if _, err := e.orch.Sync(ctx); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Pulled != 1 {
		t.Errorf("results = %+v", got)
	}
	if len(tasksSeen) != 1 || tasksSeen[0].ID != "t1" {
		t.Errorf("task subscribers saw %+v", tasksSeen)
	}
}
