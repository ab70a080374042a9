package taskbucket

import (
	"context"
	"sync"

	"github.com/rzbill/taskbucket/internal/kv"
)

// TaskFunc pairs the two handlers a registered task type must provide.
// Execute does the work outside any transaction; Finish persists the
// outcome inside a single retryable transaction and is responsible for
// calling Bucket.FinishTx on a claimed task. The AddTask and UnblockFuture
// built-ins do not call it: they run on tasks rebuilt from future callback
// rows, which were never counted in task_count.
//
// futures is an opaque handle threaded through unchanged from Run/DoTask/
// DoOne; built-ins that need durable-future semantics (UnblockFuture) type-
// assert it to *taskfuture.FutureBucket. TaskBucket itself never inspects
// it, which is what keeps this package free of an import cycle with
// internal/taskfuture.
type TaskFunc struct {
	Execute func(ctx context.Context, b *Bucket, futures interface{}, task *Task) error
	Finish  func(tx *kv.Transaction, b *Bucket, futures interface{}, task *Task) error
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]TaskFunc)
)

// Register installs fn under name. Intended to be called during process
// init only; the registry is read-only once workers start claiming tasks.
func Register(name string, fn TaskFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = fn
}

// Lookup returns the handler registered under name.
func Lookup(name string) (TaskFunc, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	fn, ok := registry[name]
	return fn, ok
}

func init() {
	Register("idle", TaskFunc{
		Execute: func(ctx context.Context, b *Bucket, futures interface{}, task *Task) error {
			return nil
		},
		Finish: func(tx *kv.Transaction, b *Bucket, futures interface{}, task *Task) error {
			return b.FinishTx(tx, task)
		},
	})

	Register("AddTask", TaskFunc{
		Execute: func(ctx context.Context, b *Bucket, futures interface{}, task *Task) error {
			return nil
		},
		Finish: func(tx *kv.Transaction, b *Bucket, futures interface{}, task *Task) error {
			next := task.clone()
			next.Params[ParamType] = next.Params[ParamAddTask]
			delete(next.Params, ParamAddTask)
			_, err := b.AddTaskTx(tx, next)
			return err
		},
	})
}
