package main

import (
	"fmt"
	"time"

	"github.com/rzbill/taskbucket/internal/config"
	"github.com/rzbill/taskbucket/internal/kv"
	pebblestore "github.com/rzbill/taskbucket/internal/storage/pebble"
	"github.com/rzbill/taskbucket/internal/taskbucket"
)

func fsyncMode(s string) pebblestore.FsyncMode {
	switch s {
	case "always":
		return pebblestore.FsyncModeAlways
	case "never":
		return pebblestore.FsyncModeNever
	default:
		return pebblestore.FsyncModeInterval
	}
}

// openBucket opens the pebble data directory named by cfg and returns a
// TaskBucket rooted at "tb/", along with a close function for the
// underlying store.
func openBucket(cfg config.Config) (*taskbucket.Bucket, func() error, error) {
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir: cfg.DataDir,
		Fsync:   fsyncMode(cfg.Fsync),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open pebble: %w", err)
	}

	store := kv.NewStore(db)
	bcfg := taskbucket.DefaultConfig()
	bcfg.MaxPriority = cfg.MaxPriority
	bcfg.TimeoutVersions = cfg.TimeoutVersions
	bcfg.JitterOffset = cfg.JitterOffset
	bcfg.JitterRange = cfg.JitterRange
	bcfg.VersionsPerSecond = cfg.VersionsPerSecond
	bcfg.TooManyTasks = cfg.TooManyTasks
	bcfg.MaxTaskKeys = cfg.MaxTaskKeys
	bcfg.CheckTimeoutChance = cfg.CheckTimeoutChance
	bcfg.CheckActiveAmount = cfg.CheckActiveAmount
	bcfg.CheckActiveDelay = time.Duration(cfg.CheckActiveDelayMs) * time.Millisecond
	bcfg.SystemAccess = cfg.SystemAccess
	bcfg.LockAware = cfg.LockAware

	b := taskbucket.New(store, []byte("tb/"), bcfg)
	return b, db.Close, nil
}
