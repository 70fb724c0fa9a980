package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dayflow/dayflow/internal/task"
)

var exportHistory bool

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export tasks as YAML",
	Long: `Write the cached task list to stdout as YAML for backup or
inspection. Pending unsynced tasks are included as-is.`,
	Run: func(cmd *cobra.Command, args []string) {
		eng, err := openEngine(cmd.Context(), cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer eng.close()

		out := struct {
			Tasks   []*task.Task `yaml:"tasks"`
			History []*task.Task `yaml:"history,omitempty"`
		}{
			Tasks: eng.cache.Load(cmd.Context()),
		}
		if exportHistory {
			out.History = eng.cache.LoadHistory(cmd.Context())
		}

		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding tasks: %v\n", err)
			os.Exit(1)
		}
		_ = enc.Close()
	},
}

func init() {
	exportCmd.Flags().BoolVar(&exportHistory, "history", false, "include archived tasks")
	rootCmd.AddCommand(exportCmd)
}
