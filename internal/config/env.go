package config

import (
	"os"
	"strconv"
)

// FromEnv overlays TASKBUCKET_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("TASKBUCKET_MAX_PRIORITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxPriority = n
		}
	}
	if v := os.Getenv("TASKBUCKET_TIMEOUT_VERSIONS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.TimeoutVersions = n
		}
	}
	if v := os.Getenv("TASKBUCKET_CHECK_TIMEOUT_CHANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.CheckTimeoutChance = f
		}
	}
	if v := os.Getenv("TASKBUCKET_SYSTEM_ACCESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.SystemAccess = b
		}
	}
	if v := os.Getenv("TASKBUCKET_LOCK_AWARE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.LockAware = b
		}
	}
	if v := os.Getenv("TASKBUCKET_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("TASKBUCKET_FSYNC"); v != "" {
		cfg.Fsync = v
	}
	if v := os.Getenv("TASKBUCKET_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TASKBUCKET_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("TASKBUCKET_WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WorkerConcurrency = n
		}
	}
	if v := os.Getenv("TASKBUCKET_POLL_INTERVAL_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.PollIntervalMs = n
		}
	}
}
