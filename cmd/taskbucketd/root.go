package main

import (
	"github.com/spf13/cobra"

	"github.com/rzbill/taskbucket/internal/config"
)

// newRoot constructs the taskbucketd root command and registers the
// enqueue/worker/stats command groups.
func newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "taskbucketd",
		Short: "TaskBucket daemon and CLI",
		Long:  "taskbucketd enqueues and runs tasks against a TaskBucket/TaskFuture store.",
	}

	root.PersistentFlags().String("data-dir", "", "pebble data directory (defaults to the platform data dir)")
	root.PersistentFlags().String("fsync", "", "wal fsync policy: always|batch|never")
	root.PersistentFlags().String("log-level", "", "log level: debug|info|warn|error")
	root.PersistentFlags().String("log-format", "", "log format: json|text")

	root.AddCommand(newEnqueueCommand())
	root.AddCommand(newWorkerCommand())
	root.AddCommand(newStatsCommand())
	return root
}

// loadConfig builds a Config from defaults, TASKBUCKET_* environment
// variables, then this command's persistent flags, in that overlay order.
func loadConfig(cmd *cobra.Command) config.Config {
	cfg := config.Default()
	config.FromEnv(&cfg)

	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("fsync"); v != "" {
		cfg.Fsync = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.LogFormat = v
	}
	return cfg
}
