package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dayflow/dayflow/internal/cache"
	"github.com/dayflow/dayflow/internal/connectivity"
	"github.com/dayflow/dayflow/internal/dashboard"
	"github.com/dayflow/dayflow/internal/gateway"
	"github.com/dayflow/dayflow/internal/inbox"
	"github.com/dayflow/dayflow/internal/queue"
	"github.com/dayflow/dayflow/internal/storage"
	"github.com/dayflow/dayflow/internal/store"
	"github.com/dayflow/dayflow/internal/sync"
	"github.com/dayflow/dayflow/internal/task"
	"github.com/dayflow/dayflow/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync daemon (foreground)",
	Long: `Run the sync engine as a foreground daemon:
  1. Probes connectivity and syncs on every online transition
  2. Runs a periodic sync pass while online
  3. Watches the quick-entry inbox directory for dropped task files
  4. Broadcasts engine events to WebSocket dashboard clients`,
	Run: func(cmd *cobra.Command, args []string) {
		if cfg.BackendURL == "" {
			fmt.Fprintf(os.Stderr, "Error: backend_url is not configured\n")
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		db, err := storage.Open(cfg.StoragePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening storage: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()

		taskCache := cache.New(db, logger)
		mutQueue := queue.New(db, logger)

		gw, err := gateway.New(gateway.Config{
			BaseURL: cfg.BackendURL,
			Tokens:  gateway.StaticToken(cfg.Token),
			Timeout: cfg.RequestTimeout,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		monitor := connectivity.NewPollingMonitor(
			&connectivity.HTTPProbe{URL: cfg.ProbeURL},
			connectivity.PollingConfig{Interval: cfg.ProbeInterval, Logger: logger},
		)

		orch := sync.New(sync.Deps{
			Cache:       taskCache,
			Queue:       mutQueue,
			Gateway:     gw,
			Monitor:     monitor,
			MaxAttempts: cfg.MaxAttempts,
			Logger:      logger,
		})
		defer orch.Close()

		tasks := store.New(store.Deps{
			Store:        db,
			Cache:        taskCache,
			Queue:        mutQueue,
			Orchestrator: orch,
			Monitor:      monitor,
			Logger:       logger,
		})

		srv := dashboard.NewServer(&dashboard.Config{
			Port:   cfg.DashboardPort,
			Logger: logger,
			Health: func() (int, time.Time) {
				return mutQueue.Len(ctx), taskCache.LastSync(ctx)
			},
		})
		wireDashboard(srv, orch, tasks)

		if err := srv.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting dashboard: %v\n", err)
			os.Exit(1)
		}
		defer srv.Stop()

		watcher, err := inbox.New(tasks, inbox.Config{Dir: cfg.InboxDir, Logger: logger})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating inbox watcher: %v\n", err)
			os.Exit(1)
		}
		if err := watcher.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting inbox watcher: %v\n", err)
			os.Exit(1)
		}
		defer watcher.Stop()

		monitor.Start(ctx)
		defer monitor.Stop()

		fmt.Printf("%s Dayflow daemon running\n", ui.RenderAccent("●"))
		fmt.Printf("   Backend: %s\n", cfg.BackendURL)
		fmt.Printf("   Storage: %s\n", cfg.StoragePath)
		fmt.Printf("   Inbox: %s\n", cfg.InboxDir)
		fmt.Printf("   Dashboard: ws://localhost:%d/ws\n", cfg.DashboardPort)
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		// Cold start pass, then a periodic cadence; the monitor's online
		// transition also triggers passes on its own.
		tasks.Load(ctx)

		ticker := time.NewTicker(cfg.SyncInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Println("Shutdown signal received")
				return
			case <-ticker.C:
				orch.TriggerAsync(ctx)
			}
		}
	},
}

// wireDashboard forwards engine events to dashboard clients.
func wireDashboard(srv *dashboard.Server, orch *sync.Orchestrator, tasks *store.TaskStore) {
	tasks.OnChange(func(list []*task.Task) {
		srv.Broadcast(dashboard.MessageTypeTasks, list)
	})

	orch.OnResult(func(res sync.Result) {
		if res.Skipped {
			return
		}
		data := dashboard.SyncResultData{
			Confirmed: res.Confirmed,
			Dropped:   res.Dropped,
			Pending:   res.Pending,
			Pulled:    res.Pulled,
		}
		if res.PullErr != nil {
			data.PullError = res.PullErr.Error()
		}
		srv.Broadcast(dashboard.MessageTypeSyncResult, data)
	})

	tasks.OnCompletion(func(ev store.CompletionEvent) {
		srv.Broadcast(dashboard.MessageTypeCompletion, dashboard.CompletionData{
			TaskID:      ev.TaskID,
			Title:       ev.Title,
			CompletedAt: ev.CompletedAt,
		})
	})
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
