// Command dayflow is the offline-first task engine CLI: add, list, complete,
// and delete tasks locally, and keep them reconciled with the backend.
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dayflow/dayflow/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *log.Logger
)

var rootCmd = &cobra.Command{
	Use:   "dayflow",
	Short: "Offline-first task list with background sync",
	Long: `dayflow keeps a durable local task list and reconciles it with the
backend whenever connectivity allows. Mutations made offline are queued
and replayed in order once the network returns.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		logger = newLogger(cfg)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default ~/.dayflow/config.yaml)")
}

// newLogger writes to stderr, and additionally to a rotated log file when
// one is configured.
func newLogger(cfg *config.Config) *log.Logger {
	var out io.Writer = os.Stderr
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}
	return log.New(out, "[dayflow] ", log.LstdFlags)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
