package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dayflow/dayflow/internal/task"
	"github.com/dayflow/dayflow/internal/ui"
)

var (
	listAll     bool
	listHistory bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Long: `List the locally cached tasks. The cache always has something to
show, even fully offline; completed tasks past retention live in the
history partition (--history).`,
	Run: func(cmd *cobra.Command, args []string) {
		eng, err := openEngine(cmd.Context(), cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer eng.close()

		var tasks []*task.Task
		if listHistory {
			tasks = eng.tasks.History(cmd.Context())
		} else {
			tasks = eng.cache.Load(cmd.Context())
		}

		if len(tasks) == 0 {
			fmt.Println(ui.RenderDim("No tasks."))
			return
		}

		for _, t := range tasks {
			if !listAll && !listHistory && t.IsCompleted() {
				continue
			}
			printTask(t)
		}
	},
}

func printTask(t *task.Task) {
	mark := " "
	if t.IsCompleted() {
		mark = ui.RenderPass("✓")
	}

	line := fmt.Sprintf("[%s] %s %s", mark, ui.Swatch(t.Color), t.Title)
	if t.StartTime != "" {
		span := t.StartTime
		if t.EndTime != "" {
			span += "-" + t.EndTime
		}
		line += " " + ui.RenderDim(span)
	}
	if t.Quick {
		line += " " + ui.RenderDim("(quick)")
	}
	if task.IsLocalID(t.ID) {
		line += " " + ui.RenderWarn("(unsynced)")
	}
	fmt.Printf("%s\n    %s\n", line, ui.RenderDim(t.ID))
}

func init() {
	listCmd.Flags().BoolVarP(&listAll, "all", "a", false, "include completed tasks")
	listCmd.Flags().BoolVar(&listHistory, "history", false, "show archived completed tasks")
	rootCmd.AddCommand(listCmd)
}
