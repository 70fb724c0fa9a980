package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dayflow/dayflow/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync pass",
	Long: `Run one full sync pass:
  1. Replays queued mutations against the backend in insertion order
  2. Halts the replay on the first transient failure (retried next pass)
  3. Pulls the authoritative task list and reconciles the local cache`,
	Run: func(cmd *cobra.Command, args []string) {
		eng, err := openEngine(cmd.Context(), cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer eng.close()

		if !eng.monitor.IsOnline() {
			fmt.Printf("%s Offline, nothing to do. %d operation(s) queued.\n",
				ui.RenderWarn("⚠"), eng.queue.Len(cmd.Context()))
			return
		}

		start := time.Now()
		res, err := eng.orch.Sync(cmd.Context())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error during sync: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"),
			time.Since(start).Round(time.Millisecond))
		fmt.Printf("   Confirmed: %d\n", res.Confirmed)
		if res.Dropped > 0 {
			fmt.Printf("   Dropped: %d\n", res.Dropped)
		}
		fmt.Printf("   Pending: %d\n", res.Pending)
		fmt.Printf("   Tasks: %d\n", res.Pulled)
		if res.PullErr != nil {
			fmt.Printf("   %s\n", ui.RenderWarn(fmt.Sprintf("Pull failed, serving cache: %v", res.PullErr)))
		}
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
