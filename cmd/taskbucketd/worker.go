package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/rzbill/taskbucket/internal/taskbucket"
	"github.com/rzbill/taskbucket/internal/taskfuture"
	logpkg "github.com/rzbill/taskbucket/pkg/log"
)

// newWorkerCommand constructs the `worker` subcommand: taskbucketd worker
// --concurrency N. It runs TaskBucket.Run until interrupted, alongside an
// admin HTTP server exposing /healthz and /metrics.
func newWorkerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a TaskBucket worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(cmd)
			concurrency, _ := cmd.Flags().GetInt("concurrency")
			if concurrency <= 0 {
				concurrency = cfg.WorkerConcurrency
			}
			adminAddr, _ := cmd.Flags().GetString("admin-addr")

			logger := logpkg.ApplyConfig(logpkg.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
			logpkg.RedirectStdLog(logger, logpkg.ErrorLevel)

			b, closeFn, err := openBucket(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()

			futures := taskfuture.New(b.Store(), []byte("tf/"))

			reg := prometheus.NewRegistry()
			b.SetMetrics(taskbucket.NewMetrics(reg))

			if adminAddr != "" {
				srv := newAdminServer(adminAddr, reg, b)
				go func() {
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logger.Error("admin http server exited", logpkg.ErrField(err))
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			logger.Info("worker starting", logpkg.Int("concurrency", concurrency))
			pollDelay := time.Duration(cfg.PollIntervalMs) * time.Millisecond
			if err := b.Run(ctx, futures, pollDelay, concurrency); err != nil && ctx.Err() == nil {
				return err
			}
			logger.Info("worker stopped")
			return nil
		},
	}
	cmd.Flags().Int("concurrency", 0, "max concurrent task slots (defaults to config worker-concurrency)")
	cmd.Flags().String("admin-addr", ":9090", "admin HTTP listen address (empty to disable)")
	return cmd
}
