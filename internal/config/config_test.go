package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.MaxPriority != 2 {
		t.Fatalf("default max priority")
	}
	if cfg.TimeoutVersions != 5*1_000_000 {
		t.Fatalf("default timeout versions")
	}
	if cfg.WorkerConcurrency != 4 {
		t.Fatalf("default worker concurrency")
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "taskbucketd.json")
	data := []byte(`{"maxPriority":5,"workerConcurrency":16,"dataDir":"/tmp/tb","fsync":"always"}`)
	if err := os.WriteFile(file, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxPriority != 5 {
		t.Fatalf("expected 5")
	}
	if cfg.WorkerConcurrency != 16 {
		t.Fatalf("expected 16")
	}
	if cfg.DataDir != "/tmp/tb" {
		t.Fatalf("expected /tmp/tb")
	}
	if cfg.Fsync != "always" {
		t.Fatalf("expected always")
	}
}

func TestFromEnv(t *testing.T) {
	cfg := Default()
	os.Setenv("TASKBUCKET_MAX_PRIORITY", "7")
	os.Setenv("TASKBUCKET_SYSTEM_ACCESS", "true")
	os.Setenv("TASKBUCKET_WORKER_CONCURRENCY", "32")
	t.Cleanup(func() {
		os.Unsetenv("TASKBUCKET_MAX_PRIORITY")
		os.Unsetenv("TASKBUCKET_SYSTEM_ACCESS")
		os.Unsetenv("TASKBUCKET_WORKER_CONCURRENCY")
	})
	FromEnv(&cfg)
	if cfg.MaxPriority != 7 {
		t.Fatalf("env override max priority")
	}
	if !cfg.SystemAccess {
		t.Fatalf("env override system access")
	}
	if cfg.WorkerConcurrency != 32 {
		t.Fatalf("env override worker concurrency")
	}
}
