package config

import (
	"encoding/json"
	"os"
)

// Config is the top-level configuration loaded from file/env. It covers the
// TaskBucket tunables, the pebble storage backend, logging, and worker-pool
// sizing for taskbucketd.
type Config struct {
	// TaskBucket tunables (spec §6 named constants).
	MaxPriority           int     `json:"maxPriority"`
	TimeoutVersions       int64   `json:"timeoutVersions"`
	JitterOffset          float64 `json:"jitterOffset"`
	JitterRange           float64 `json:"jitterRange"`
	VersionsPerSecond     int64   `json:"versionsPerSecond"`
	TooManyTasks          int     `json:"tooManyTasks"`
	MaxTaskKeys           int     `json:"maxTaskKeys"`
	CheckTimeoutChance    float64 `json:"checkTimeoutChance"`
	CheckActiveAmount     int     `json:"checkActiveAmount"`
	CheckActiveDelayMs    int64   `json:"checkActiveDelayMs"`
	SystemAccess          bool    `json:"systemAccess"`
	LockAware             bool    `json:"lockAware"`

	// Storage backend.
	DataDir string `json:"dataDir"`
	Fsync   string `json:"fsync"` // "never", "batch", "always"

	// Logging.
	LogLevel  string `json:"logLevel"`
	LogFormat string `json:"logFormat"` // "json" or "text"

	// Worker pool.
	WorkerConcurrency int `json:"workerConcurrency"`
	PollIntervalMs    int64 `json:"pollIntervalMs"`
}

// Default returns the constants spec.md §6 suggests, plus reasonable
// defaults for the storage, logging, and worker-pool surfaces.
func Default() Config {
	return Config{
		MaxPriority:        2,
		TimeoutVersions:    5 * 1_000_000,
		JitterOffset:       0.0,
		JitterRange:        1.0,
		VersionsPerSecond:  1_000_000,
		TooManyTasks:       1000,
		MaxTaskKeys:        1000,
		CheckTimeoutChance: 1.0 / 1000.0,
		CheckActiveAmount:  100,
		CheckActiveDelayMs: 5000,
		SystemAccess:       false,
		LockAware:          false,

		DataDir: DefaultDataDir(),
		Fsync:   "batch",

		LogLevel:  "info",
		LogFormat: "json",

		WorkerConcurrency: 4,
		PollIntervalMs:    1000,
	}
}

// Load reads configuration from a JSON file. If path is empty, returns
// defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
