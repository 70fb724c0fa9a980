package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dayflow/dayflow/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine status",
	Long: `Display the local engine state:
  - Storage file location and size
  - Cached task count and last successful sync
  - Pending operations waiting for remote confirmation`,
	Run: func(cmd *cobra.Command, args []string) {
		eng, err := openEngine(cmd.Context(), cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer eng.close()

		ctx := cmd.Context()

		fmt.Printf("\n%s Dayflow Status\n\n", ui.RenderAccent("●"))

		if eng.monitor.IsOnline() {
			fmt.Printf("Connectivity: %s\n", ui.RenderPass("online"))
		} else {
			fmt.Printf("Connectivity: %s\n", ui.RenderWarn("offline"))
		}

		fmt.Printf("Storage: %s", eng.db.Path())
		if info, err := os.Stat(eng.db.Path()); err == nil {
			fmt.Printf(" (%s)", formatSize(info.Size()))
		}
		fmt.Println()

		tasks := eng.cache.Load(ctx)
		completed := 0
		for _, t := range tasks {
			if t.IsCompleted() {
				completed++
			}
		}
		fmt.Printf("Tasks: %d (%d completed)\n", len(tasks), completed)
		fmt.Printf("History: %d archived\n", len(eng.cache.LoadHistory(ctx)))

		if last := eng.cache.LastSync(ctx); !last.IsZero() {
			fmt.Printf("Last sync: %s\n", last.Local().Format("2006-01-02 15:04:05"))
		} else {
			fmt.Printf("Last sync: %s\n", ui.RenderDim("never"))
		}

		ops := eng.queue.LoadAll(ctx)
		if len(ops) == 0 {
			fmt.Printf("Queue: %s\n", ui.RenderPass("empty"))
		} else {
			fmt.Printf("Queue: %d pending\n", len(ops))
			for _, op := range ops {
				line := fmt.Sprintf("   %-6s %s", op.Type, op.TaskID)
				if op.Attempts > 0 {
					line += ui.RenderWarn(fmt.Sprintf(" (attempts: %d)", op.Attempts))
				}
				fmt.Println(line)
			}
		}
		fmt.Println()
	},
}

func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
