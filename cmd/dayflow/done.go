package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dayflow/dayflow/internal/ui"
)

var doneCmd = &cobra.Command{
	Use:   "done <task-id>",
	Short: "Complete a task",
	Long: `Mark a task completed. The completion is applied locally at once and
synced to the backend in the background.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng, err := openEngine(cmd.Context(), cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer eng.close()

		if err := eng.tasks.CompleteTask(cmd.Context(), args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		waitForQueue(cmd.Context(), eng, 3*time.Second)
		fmt.Printf("%s Completed %s\n", ui.RenderPass("✓"), args[0])
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <task-id>",
	Short: "Delete a task",
	Long: `Delete a task. The removal is applied locally at once; the backend
delete is queued and replayed when online. Deleting a task the backend
has already removed resolves cleanly.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng, err := openEngine(cmd.Context(), cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer eng.close()

		if err := eng.tasks.DeleteTask(cmd.Context(), args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		waitForQueue(cmd.Context(), eng, 3*time.Second)
		fmt.Printf("%s Deleted %s\n", ui.RenderPass("✓"), args[0])
	},
}

func init() {
	rootCmd.AddCommand(doneCmd)
	rootCmd.AddCommand(rmCmd)
}
