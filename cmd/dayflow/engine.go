package main

import (
	"context"
	"fmt"
	"log"

	"github.com/dayflow/dayflow/internal/cache"
	"github.com/dayflow/dayflow/internal/config"
	"github.com/dayflow/dayflow/internal/connectivity"
	"github.com/dayflow/dayflow/internal/gateway"
	"github.com/dayflow/dayflow/internal/queue"
	"github.com/dayflow/dayflow/internal/storage"
	"github.com/dayflow/dayflow/internal/store"
	"github.com/dayflow/dayflow/internal/sync"
	"github.com/dayflow/dayflow/internal/task"
)

// engine bundles the assembled sync stack for CLI commands.
type engine struct {
	cfg     *config.Config
	db      *storage.Store
	cache   *cache.TaskCache
	queue   *queue.Queue
	gateway gateway.Gateway
	monitor connectivity.Monitor
	orch    *sync.Orchestrator
	tasks   *store.TaskStore
	logger  *log.Logger
}

// openEngine builds the full stack for a one-shot command: storage, cache,
// queue, gateway, a single-probe connectivity check, orchestrator, facade.
// The caller must call close when done.
func openEngine(ctx context.Context, cfg *config.Config, logger *log.Logger) (*engine, error) {
	db, err := storage.Open(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open local storage: %w", err)
	}

	taskCache := cache.New(db, logger)
	mutQueue := queue.New(db, logger)

	var gw gateway.Gateway
	online := false
	if cfg.BackendURL != "" {
		gw, err = gateway.New(gateway.Config{
			BaseURL: cfg.BackendURL,
			Tokens:  gateway.StaticToken(cfg.Token),
			Timeout: cfg.RequestTimeout,
		})
		if err != nil {
			_ = db.Close()
			return nil, err
		}

		// One-shot commands take a single probe instead of a poll loop.
		probe := &connectivity.HTTPProbe{URL: cfg.ProbeURL}
		online = probe.Probe(ctx)
	} else {
		gw = unconfiguredGateway{}
	}

	monitor := connectivity.NewStatic(online)

	orch := sync.New(sync.Deps{
		Cache:       taskCache,
		Queue:       mutQueue,
		Gateway:     gw,
		Monitor:     monitor,
		MaxAttempts: cfg.MaxAttempts,
		Logger:      logger,
	})

	tasks := store.New(store.Deps{
		Store:        db,
		Cache:        taskCache,
		Queue:        mutQueue,
		Orchestrator: orch,
		Monitor:      monitor,
		Logger:       logger,
	})

	return &engine{
		cfg:     cfg,
		db:      db,
		cache:   taskCache,
		queue:   mutQueue,
		gateway: gw,
		monitor: monitor,
		orch:    orch,
		tasks:   tasks,
		logger:  logger,
	}, nil
}

func (e *engine) close() {
	e.orch.Close()
	if err := e.db.Close(); err != nil {
		e.logger.Printf("WARNING: failed to close storage: %v", err)
	}
}

// unconfiguredGateway stands in when no backend URL is configured. Every
// call classifies as transient so queued operations survive until the user
// configures a backend.
type unconfiguredGateway struct{}

func (unconfiguredGateway) err() error {
	return &gateway.NetworkError{Err: fmt.Errorf("no backend configured")}
}

func (g unconfiguredGateway) ListTasks(ctx context.Context) ([]*task.Task, error) {
	return nil, g.err()
}

func (g unconfiguredGateway) CreateTask(ctx context.Context, t *task.Task) (*task.Task, error) {
	return nil, g.err()
}

func (g unconfiguredGateway) UpdateTask(ctx context.Context, id string, patch *task.Patch) (*task.Task, error) {
	return nil, g.err()
}

func (g unconfiguredGateway) DeleteTask(ctx context.Context, id string) error {
	return g.err()
}
