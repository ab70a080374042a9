package taskfuture

import (
	"context"
	"testing"

	"github.com/rzbill/taskbucket/internal/kv"
	pebblestore "github.com/rzbill/taskbucket/internal/storage/pebble"
	"github.com/rzbill/taskbucket/internal/taskbucket"
)

func openTestEnv(t *testing.T) (*taskbucket.Bucket, *FutureBucket) {
	t.Helper()
	dir := t.TempDir()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	store := kv.NewStore(db)
	b := taskbucket.New(store, []byte("tb/"), taskbucket.DefaultConfig())
	fb := New(store, []byte("tf/"))
	return b, fb
}

func TestFreshFutureStartsUnset(t *testing.T) {
	b, fb := openTestEnv(t)
	ctx := context.Background()

	f, err := fb.Future(ctx)
	if err != nil {
		t.Fatalf("Future: %v", err)
	}
	set, err := f.IsSet(ctx)
	if err != nil {
		t.Fatalf("IsSet: %v", err)
	}
	if set {
		t.Fatalf("IsSet = true, want false for a fresh future")
	}
	_ = b
}

func TestSetRunsOnSetCallbackImmediatelyIfAlreadySet(t *testing.T) {
	b, fb := openTestEnv(t)
	ctx := context.Background()

	f, err := fb.Future(ctx)
	if err != nil {
		t.Fatalf("Future: %v", err)
	}
	if err := f.Set(ctx, b); err != nil {
		t.Fatalf("Set: %v", err)
	}

	task := taskbucket.NewTask("idle", 0)
	if err := f.OnSetAddTask(ctx, b, task, nil); err != nil {
		t.Fatalf("OnSetAddTask: %v", err)
	}

	count, err := b.GetTaskCount(ctx)
	if err != nil {
		t.Fatalf("GetTaskCount: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1: OnSetAddTask on an already-set future should enqueue immediately", count)
	}
}

func TestSetTwiceIsIdempotent(t *testing.T) {
	b, fb := openTestEnv(t)
	ctx := context.Background()

	f, err := fb.Future(ctx)
	if err != nil {
		t.Fatalf("Future: %v", err)
	}
	if err := f.Set(ctx, b); err != nil {
		t.Fatalf("Set (1st): %v", err)
	}
	if err := f.Set(ctx, b); err != nil {
		t.Fatalf("Set (2nd): %v", err)
	}

	set, err := f.IsSet(ctx)
	if err != nil {
		t.Fatalf("IsSet: %v", err)
	}
	if !set {
		t.Fatalf("IsSet = false after Set, want true")
	}
}

// TestJoinFanIn exercises the AND-join scenario: a task registered through
// OnSetAddTask on a joined future must not be enqueued until every parent
// future has been set, and must be enqueued exactly once.
func TestJoinFanIn(t *testing.T) {
	b, fb := openTestEnv(t)
	ctx := context.Background()

	f1, err := fb.Future(ctx)
	if err != nil {
		t.Fatalf("Future f1: %v", err)
	}
	f2, err := fb.Future(ctx)
	if err != nil {
		t.Fatalf("Future f2: %v", err)
	}

	joined, err := f1.JoinedFuture(ctx, b)
	if err != nil {
		t.Fatalf("JoinedFuture: %v", err)
	}
	if err := joined.Join(ctx, b, []*TaskFuture{f2}); err != nil {
		t.Fatalf("Join f2: %v", err)
	}

	task := taskbucket.NewTask("idle", 0)
	if err := joined.OnSetAddTask(ctx, b, task, nil); err != nil {
		t.Fatalf("OnSetAddTask: %v", err)
	}

	if err := f1.Set(ctx, b); err != nil {
		t.Fatalf("Set f1: %v", err)
	}
	count, err := b.GetTaskCount(ctx)
	if err != nil {
		t.Fatalf("GetTaskCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("count = %d, want 0: task must not enqueue until both parents are set", count)
	}

	if err := f2.Set(ctx, b); err != nil {
		t.Fatalf("Set f2: %v", err)
	}
	count, err = b.GetTaskCount(ctx)
	if err != nil {
		t.Fatalf("GetTaskCount: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1: setting the last parent must enqueue exactly one task", count)
	}

	set, err := joined.IsSet(ctx)
	if err != nil {
		t.Fatalf("IsSet: %v", err)
	}
	if !set {
		t.Fatalf("joined future is not set after both parents fired")
	}
}

func TestFutureBucketIsEmptyAndClear(t *testing.T) {
	_, fb := openTestEnv(t)
	ctx := context.Background()

	empty, err := fb.IsEmpty(ctx)
	if err != nil {
		t.Fatalf("IsEmpty: %v", err)
	}
	if !empty {
		t.Fatalf("IsEmpty = false, want true for a fresh bucket")
	}

	if _, err := fb.Future(ctx); err != nil {
		t.Fatalf("Future: %v", err)
	}
	empty, err = fb.IsEmpty(ctx)
	if err != nil {
		t.Fatalf("IsEmpty: %v", err)
	}
	if empty {
		t.Fatalf("IsEmpty = true, want false after allocating a future")
	}

	if err := fb.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	empty, err = fb.IsEmpty(ctx)
	if err != nil {
		t.Fatalf("IsEmpty: %v", err)
	}
	if !empty {
		t.Fatalf("IsEmpty = false after Clear, want true")
	}
}
