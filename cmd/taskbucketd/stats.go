package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rzbill/taskbucket/internal/taskbucket"
)

// newStatsCommand constructs the `stats` subcommand: taskbucketd stats
// [--watch]. With --watch, it prints a new line every time task_count
// changes instead of exiting after one read. The watch is served by this
// process's own kv.Store, so only commits made through it wake the loop;
// changes committed by other processes are not observed.
func newStatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print TaskBucket counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(cmd)
			b, closeFn, err := openBucket(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()

			watch, _ := cmd.Flags().GetBool("watch")

			ctx := context.Background()
			if watch {
				ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer cancel()
				for {
					if err := printStats(cmd, ctx, b); err != nil {
						return err
					}
					select {
					case <-ctx.Done():
						return nil
					case <-b.WatchTaskCount():
					}
				}
			}

			return printStats(cmd, ctx, b)
		},
	}
	cmd.Flags().Bool("watch", false, "keep printing stats every time task_count changes, until interrupted")
	return cmd
}

func printStats(cmd *cobra.Command, ctx context.Context, b *taskbucket.Bucket) error {
	count, err := b.GetTaskCount(ctx)
	if err != nil {
		return err
	}
	busy, err := b.IsBusy(ctx)
	if err != nil {
		return err
	}
	empty, err := b.IsEmpty(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "task_count=%d busy=%v empty=%v\n", count, busy, empty)
	return nil
}
