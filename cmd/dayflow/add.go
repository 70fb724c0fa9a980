package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dayflow/dayflow/internal/store"
	"github.com/dayflow/dayflow/internal/ui"
)

var (
	addDesc      string
	addStart     string
	addEnd       string
	addCategory  string
	addDays      int
	addScheduled bool
	addQuick     bool
)

var addCmd = &cobra.Command{
	Use:   "add [title]",
	Short: "Add a task",
	Long: `Add a task to the local list. The task is stored durably and synced
to the backend in the background; offline adds are queued and replayed
when connectivity returns.

Start and end times accept natural language ("9am", "tomorrow 17:30").
Without a title argument, an interactive form is shown on a terminal.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		title := ""
		if len(args) > 0 {
			title = args[0]
		}

		if title == "" {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				fmt.Fprintf(os.Stderr, "Error: title is required\n")
				os.Exit(1)
			}
			if err := promptAdd(&title); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}

		start, err := parseClock(addStart)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid start time: %v\n", err)
			os.Exit(1)
		}
		end, err := parseClock(addEnd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid end time: %v\n", err)
			os.Exit(1)
		}

		eng, err := openEngine(cmd.Context(), cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer eng.close()

		created, err := eng.tasks.AddTask(cmd.Context(), store.NewTask{
			Title:         title,
			Description:   addDesc,
			StartTime:     start,
			EndTime:       end,
			CategoryID:    addCategory,
			DaysRemaining: addDays,
			Scheduled:     addScheduled || start != "",
			Quick:         addQuick,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		// Give the triggered background pass a moment; offline it exits
		// immediately, online a fast backend usually confirms in time.
		waitForQueue(cmd.Context(), eng, 3*time.Second)

		fmt.Printf("%s Added %s %s\n", ui.RenderPass("✓"), ui.Swatch(created.Color), created.Title)
		if pending := eng.queue.Len(cmd.Context()); pending > 0 {
			fmt.Printf("  %s\n", ui.RenderDim(fmt.Sprintf("%d operation(s) pending sync", pending)))
		}
	},
}

// promptAdd collects the task interactively.
func promptAdd(title *string) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Task title").
				Value(title).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("title must not be empty")
					}
					return nil
				}),
			huh.NewInput().
				Title("Description").
				Value(&addDesc),
			huh.NewInput().
				Title("Start time").
				Placeholder("9am, tomorrow 17:30, ...").
				Value(&addStart),
			huh.NewInput().
				Title("End time").
				Value(&addEnd),
		),
	)
	return form.Run()
}

// parseClock turns a natural-language phrase into a "15:04" time-of-day
// string. Already-formatted values pass through unchanged.
func parseClock(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	if _, err := time.Parse("15:04", s); err == nil {
		return s, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(s, time.Now())
	if err != nil {
		return "", err
	}
	if r == nil {
		return "", fmt.Errorf("could not understand %q", s)
	}
	return r.Time.Format("15:04"), nil
}

// waitForQueue polls briefly for the background pass to drain the queue so
// a short-lived command doesn't exit with a confirmable operation pending.
func waitForQueue(ctx context.Context, eng *engine, max time.Duration) {
	if !eng.monitor.IsOnline() {
		return
	}
	deadline := time.Now().Add(max)
	for time.Now().Before(deadline) {
		if eng.queue.Len(ctx) == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func init() {
	addCmd.Flags().StringVarP(&addDesc, "desc", "d", "", "task description")
	addCmd.Flags().StringVar(&addStart, "start", "", "start time (natural language ok)")
	addCmd.Flags().StringVar(&addEnd, "end", "", "end time (natural language ok)")
	addCmd.Flags().StringVar(&addCategory, "category", "", "category id")
	addCmd.Flags().IntVar(&addDays, "days", 0, "days remaining")
	addCmd.Flags().BoolVar(&addScheduled, "scheduled", false, "mark as scheduled")
	addCmd.Flags().BoolVarP(&addQuick, "quick", "q", false, "mark as quick-entry")
	rootCmd.AddCommand(addCmd)
}
