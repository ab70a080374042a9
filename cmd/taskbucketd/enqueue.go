package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rzbill/taskbucket/internal/taskbucket"
)

// newEnqueueCommand constructs the `enqueue` subcommand: taskbucketd
// enqueue --type T --priority P key=value...
func newEnqueueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue [key=value...]",
		Short: "Enqueue a single task",
		RunE: func(cmd *cobra.Command, args []string) error {
			taskType, _ := cmd.Flags().GetString("type")
			priority, _ := cmd.Flags().GetInt("priority")
			if taskType == "" {
				return fmt.Errorf("--type is required")
			}

			cfg := loadConfig(cmd)
			b, closeFn, err := openBucket(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()

			task := taskbucket.NewTask(taskType, priority)
			for _, pair := range args {
				name, value, ok := strings.Cut(pair, "=")
				if !ok {
					return fmt.Errorf("invalid key=value pair %q", pair)
				}
				task.SetParamString(name, value)
			}

			uid, err := b.AddTask(context.Background(), task)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued uid=%x type=%s priority=%d\n", uid, taskType, priority)
			return nil
		},
	}
	cmd.Flags().String("type", "", "registered task type")
	cmd.Flags().Int("priority", 0, "task priority")
	return cmd
}
