package taskbucket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rzbill/taskbucket/internal/kv"
	pebblestore "github.com/rzbill/taskbucket/internal/storage/pebble"
)

func openTestBucket(t *testing.T, cfg Config) *Bucket {
	t.Helper()
	dir := t.TempDir()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(kv.NewStore(db), []byte("tb/"), cfg)
}

func TestAddTaskAndGetTaskCount(t *testing.T) {
	b := openTestBucket(t, DefaultConfig())
	ctx := context.Background()

	task := NewTask("idle", 0)
	if _, err := b.AddTask(ctx, task); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	count, err := b.GetTaskCount(ctx)
	if err != nil {
		t.Fatalf("GetTaskCount: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}

func TestGetOneThenFinishDecrementsCount(t *testing.T) {
	b := openTestBucket(t, DefaultConfig())
	ctx := context.Background()

	if _, err := b.AddTask(ctx, NewTask("idle", 0)); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	task, err := b.GetOne(ctx)
	if err != nil {
		t.Fatalf("GetOne: %v", err)
	}
	if task == nil {
		t.Fatalf("GetOne returned nil task")
	}

	if err := b.Finish(ctx, task); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	count, err := b.GetTaskCount(ctx)
	if err != nil {
		t.Fatalf("GetTaskCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("count = %d, want 0", count)
	}
}

func TestGetOneReturnsNilWhenEmpty(t *testing.T) {
	b := openTestBucket(t, DefaultConfig())
	ctx := context.Background()

	task, err := b.GetOne(ctx)
	if err != nil {
		t.Fatalf("GetOne: %v", err)
	}
	if task != nil {
		t.Fatalf("GetOne = %v, want nil", task)
	}
}

func TestHigherPriorityClaimedFirst(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPriority = 2
	b := openTestBucket(t, cfg)
	ctx := context.Background()

	low := NewTask("idle", 0)
	low.SetParamString("label", "low")
	high := NewTask("idle", 2)
	high.SetParamString("label", "high")

	if _, err := b.AddTask(ctx, low); err != nil {
		t.Fatalf("AddTask low: %v", err)
	}
	if _, err := b.AddTask(ctx, high); err != nil {
		t.Fatalf("AddTask high: %v", err)
	}

	got, err := b.GetOne(ctx)
	if err != nil {
		t.Fatalf("GetOne: %v", err)
	}
	if got == nil || string(got.Params["label"]) != "high" {
		t.Fatalf("GetOne = %+v, want the priority-2 task", got)
	}
}

func TestSaveAndExtendMovesDeadline(t *testing.T) {
	b := openTestBucket(t, DefaultConfig())
	ctx := context.Background()

	if _, err := b.AddTask(ctx, NewTask("idle", 0)); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	task, err := b.GetOne(ctx)
	if err != nil || task == nil {
		t.Fatalf("GetOne: %v, task=%v", err, task)
	}
	oldDeadline := task.TimeoutVersion

	extended, err := b.SaveAndExtend(ctx, task)
	if err != nil {
		t.Fatalf("SaveAndExtend: %v", err)
	}
	if !extended {
		t.Fatalf("SaveAndExtend = false, want true")
	}
	if task.TimeoutVersion <= oldDeadline {
		t.Fatalf("TimeoutVersion did not advance: old=%d new=%d", oldDeadline, task.TimeoutVersion)
	}
}

func TestRequeueTimedOutMakesTaskClaimableAgain(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TimeoutVersions = 0
	b := openTestBucket(t, cfg)
	ctx := context.Background()

	if _, err := b.AddTask(ctx, NewTask("idle", 0)); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	first, err := b.GetOne(ctx)
	if err != nil || first == nil {
		t.Fatalf("GetOne (claim): %v, task=%v", err, first)
	}

	// A second claim attempt with TimeoutVersions == 0 should find the
	// lease already expired and requeue it back to available.
	second, err := b.GetOne(ctx)
	if err != nil {
		t.Fatalf("GetOne (after requeue): %v", err)
	}
	if second == nil {
		t.Fatalf("GetOne (after requeue) = nil, want the requeued task")
	}
}

func TestAddTaskWithValidationRejectsInvalidatedTask(t *testing.T) {
	b := openTestBucket(t, DefaultConfig())
	ctx := context.Background()
	store := b.Store()

	validationKey := []byte("tb/validation/k1")
	if err := kv.DoTransact(ctx, store, func(tx *kv.Transaction) error {
		tx.Set(validationKey, []byte("v1"))
		return nil
	}); err != nil {
		t.Fatalf("seed validation key: %v", err)
	}

	task := NewTask("idle", 0)
	if _, err := b.AddTaskWithValidation(ctx, task, validationKey); err != nil {
		t.Fatalf("AddTaskWithValidation: %v", err)
	}

	// Changing the validation key's value invalidates the task before it's
	// claimed.
	if err := kv.DoTransact(ctx, store, func(tx *kv.Transaction) error {
		tx.Set(validationKey, []byte("v2"))
		return nil
	}); err != nil {
		t.Fatalf("mutate validation key: %v", err)
	}

	claimed, err := b.GetOne(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("GetOne: %v, task=%v", err, claimed)
	}

	var verified bool
	if err := kv.DoTransact(ctx, store, func(tx *kv.Transaction) error {
		v, err := b.IsVerifiedTx(tx, claimed)
		verified = v
		return err
	}); err != nil {
		t.Fatalf("IsVerifiedTx: %v", err)
	}
	if verified {
		t.Fatalf("IsVerifiedTx = true, want false after validation key changed")
	}
}

func TestDoTaskRunsExecuteAndFinish(t *testing.T) {
	b := openTestBucket(t, DefaultConfig())
	ctx := context.Background()

	executed := make(chan struct{}, 1)
	Register("do-task-test", TaskFunc{
		Execute: func(ctx context.Context, b *Bucket, futures interface{}, task *Task) error {
			executed <- struct{}{}
			return nil
		},
		Finish: func(tx *kv.Transaction, b *Bucket, futures interface{}, task *Task) error {
			return b.FinishTx(tx, task)
		},
	})

	if _, err := b.AddTask(ctx, NewTask("do-task-test", 0)); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	ok, err := b.DoOne(ctx, nil)
	if err != nil {
		t.Fatalf("DoOne: %v", err)
	}
	if !ok {
		t.Fatalf("DoOne = false, want true")
	}

	select {
	case <-executed:
	case <-time.After(time.Second):
		t.Fatalf("Execute was never called")
	}

	count, err := b.GetTaskCount(ctx)
	if err != nil {
		t.Fatalf("GetTaskCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("count = %d, want 0 after finish", count)
	}
}

// TestParallelWorkersNoDoubleFinalize runs multiple goroutines claiming and
// finishing tasks against one Bucket concurrently, exercising the OCC
// retry path under real contention. It asserts every enqueued task is
// finalized exactly once (no double-finalize under a raced claim) and that
// task_count settles back to zero.
func TestParallelWorkersNoDoubleFinalize(t *testing.T) {
	b := openTestBucket(t, DefaultConfig())
	ctx := context.Background()

	const numTasks = 40
	const numWorkers = 8

	var mu sync.Mutex
	finishCounts := make(map[string]int)

	Register("parallel-finalize-test", TaskFunc{
		Execute: func(ctx context.Context, b *Bucket, futures interface{}, task *Task) error {
			return nil
		},
		Finish: func(tx *kv.Transaction, b *Bucket, futures interface{}, task *Task) error {
			mu.Lock()
			finishCounts[string(task.Params["label"])]++
			mu.Unlock()
			return b.FinishTx(tx, task)
		},
	})

	for i := 0; i < numTasks; i++ {
		task := NewTask("parallel-finalize-test", 0)
		task.SetParamString("label", fmt.Sprintf("task-%d", i))
		if _, err := b.AddTask(ctx, task); err != nil {
			t.Fatalf("AddTask: %v", err)
		}
	}

	var claimed int64
	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				ok, err := b.DoOne(ctx, nil)
				if ok {
					atomic.AddInt64(&claimed, 1)
					continue
				}
				if err != nil && !errors.Is(err, ErrTaskInvalidated) && !errors.Is(err, ErrLeaseExpired) {
					t.Errorf("DoOne: %v", err)
				}
				return
			}
		}()
	}
	wg.Wait()

	if claimed != numTasks {
		t.Fatalf("claimed = %d, want %d", claimed, numTasks)
	}

	count, err := b.GetTaskCount(ctx)
	if err != nil {
		t.Fatalf("GetTaskCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("task_count = %d, want 0", count)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(finishCounts) != numTasks {
		t.Fatalf("finished %d distinct tasks, want %d", len(finishCounts), numTasks)
	}
	for label, n := range finishCounts {
		if n != 1 {
			t.Fatalf("task %s finished %d times, want exactly 1 (double-finalize)", label, n)
		}
	}
}

func TestDoOneReturnsFalseWhenEmpty(t *testing.T) {
	b := openTestBucket(t, DefaultConfig())
	ok, err := b.DoOne(context.Background(), nil)
	if err != nil {
		t.Fatalf("DoOne: %v", err)
	}
	if ok {
		t.Fatalf("DoOne = true, want false on an empty bucket")
	}
}
