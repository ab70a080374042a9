package taskbucket

import (
	"context"
	"time"

	"github.com/rzbill/taskbucket/internal/kv"
)

// leaseDelay converts a version delta into a wall-clock duration, anchoring
// the lease timeout to the store's logical clock rather than any local one.
func (b *Bucket) leaseDelay(versionNow, timeoutVersion int64) time.Duration {
	delta := timeoutVersion - versionNow
	if delta <= 0 {
		return 0
	}
	seconds := float64(delta) / float64(b.cfg.VersionsPerSecond)
	return time.Duration(seconds * float64(time.Second))
}

// verifyOrInvalidate reads the task's validation witness, if any. A mismatch
// means the task was invalidated after being enqueued; it is finalized as a
// no-op and the caller should treat it as accounted for. Otherwise it
// records the store's read version as of the check.
func (b *Bucket) verifyOrInvalidate(ctx context.Context, task *Task) (versionNow int64, invalidated bool, err error) {
	err = kv.DoTransact(ctx, b.store, func(tx *kv.Transaction) error {
		if !task.HasValidationWitness() {
			versionNow = int64(tx.ReadVersion())
			return nil
		}
		cur, ok, gerr := tx.Get(task.Params[ParamValidKey])
		if gerr != nil {
			return gerr
		}
		if !ok || !bytesEqual(cur, task.Params[ParamValidValue]) {
			invalidated = true
			return b.FinishTx(tx, task)
		}
		versionNow = int64(tx.ReadVersion())
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return versionNow, invalidated, nil
}

// finalize runs the task-function's Finish handler in a single retryable
// transaction, guarded by a fresh is_finished/is_verified check so a task
// raced by a concurrent requeue-and-reclaim is never finalized twice.
func (b *Bucket) finalize(ctx context.Context, fn TaskFunc, futures interface{}, task *Task) (bool, error) {
	err := kv.DoTransact(ctx, b.store, func(tx *kv.Transaction) error {
		finished, ferr := b.IsFinishedTx(tx, task)
		if ferr != nil {
			return ferr
		}
		if finished {
			return nil
		}
		verified, verr := b.IsVerifiedTx(tx, task)
		if verr != nil {
			return verr
		}
		if !verified {
			return b.FinishTx(tx, task)
		}
		return fn.Finish(tx, b, futures, task)
	})
	return err == nil, err
}

// DoTask runs task to completion: validates its registered type, checks its
// validation witness, races Execute against its lease timeout (re-arming
// the timeout against the store's version clock rather than trusting the
// wall clock), and finalizes exactly once. futures is passed through
// unchanged to the registered TaskFunc.
//
// Returns ErrInvalidTaskType if task's type was never registered,
// ErrTaskInvalidated if its validation witness mismatched, or
// ErrLeaseExpired if its lease expired before Execute finished. The latter
// two are accounted-for outcomes, not failures: an invalidated task has
// already been finalized, and a lease-expired task is left in the timeout
// subspace for the requeue path to surface again.
func (b *Bucket) DoTask(ctx context.Context, futures interface{}, task *Task) (bool, error) {
	fn, ok := Lookup(task.Type())
	if !ok {
		return false, ErrInvalidTaskType
	}

	versionNow, invalidated, err := b.verifyOrInvalidate(ctx, task)
	if err != nil {
		return false, err
	}
	if invalidated {
		return true, ErrTaskInvalidated
	}

	done := make(chan error, 1)
	go func() {
		done <- fn.Execute(ctx, b, futures, task)
	}()

	for {
		timer := time.NewTimer(b.leaseDelay(versionNow, task.TimeoutVersion))
		select {
		case execErr := <-done:
			timer.Stop()
			if execErr != nil {
				return false, execErr
			}
			return b.finalize(ctx, fn, futures, task)

		case <-timer.C:
			var version uint64
			verr := kv.DoTransact(ctx, b.store, func(tx *kv.Transaction) error {
				version = tx.ReadVersion()
				return nil
			})
			if verr != nil {
				return false, verr
			}
			if int64(version) >= task.TimeoutVersion {
				return true, ErrLeaseExpired
			}
			versionNow = int64(version)

		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		}
	}
}

// DoOne claims and executes a single task. Returns false with a nil error
// if the bucket had nothing claimable.
func (b *Bucket) DoOne(ctx context.Context, futures interface{}) (bool, error) {
	task, err := b.GetOne(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}
	return b.DoTask(ctx, futures, task)
}
