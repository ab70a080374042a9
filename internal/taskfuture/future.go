package taskfuture

import (
	"context"
	"crypto/rand"

	"github.com/rzbill/taskbucket/internal/kv"
	"github.com/rzbill/taskbucket/internal/taskbucket"
)

// maxCallbackRows bounds each range read PerformAllActions issues while
// paging through the callback subspace, mirroring taskbucket's MaxTaskKeys
// bound on a single claim or requeue scan.
const maxCallbackRows = 1000

// TaskFuture is a handle to a durable future: its set/unset state is the
// emptiness of its block set, not any in-memory flag, so it survives a
// crash between any two of its operations.
type TaskFuture struct {
	bucket *FutureBucket
	uid    []byte
}

// UID returns the future's 128-bit identifier, for embedding in other
// records (a join's UnblockFuture callback carries its parent's UID).
func (f *TaskFuture) UID() []byte { return append([]byte(nil), f.uid...) }

func (f *TaskFuture) sub() kv.Subspace   { return f.bucket.root.Sub(kv.Tuple{f.uid}) }
func (f *TaskFuture) blSub() kv.Subspace { return f.sub().Sub(kv.Tuple{"bl"}) }
func (f *TaskFuture) cbSub() kv.Subspace { return f.sub().Sub(kv.Tuple{"cb"}) }

func randomToken(n int) []byte {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return buf
}

func cloneTask(t *taskbucket.Task) *taskbucket.Task {
	out := &taskbucket.Task{UID: append([]byte(nil), t.UID...), TimeoutVersion: t.TimeoutVersion}
	out.Params = make(map[string][]byte, len(t.Params))
	for k, v := range t.Params {
		out.Params[k] = append([]byte(nil), v...)
	}
	return out
}

// performAction looks up task's type in the shared TaskFunc registry and
// runs its Finish handler now, passing fb through as the opaque futures
// handle. A task with no registered type is silently dropped, matching
// on_set's "if the synthesized Task has no valid type, do nothing".
func performAction(tx *kv.Transaction, b *taskbucket.Bucket, fb *FutureBucket, task *taskbucket.Task) error {
	if task == nil {
		return nil
	}
	fn, ok := taskbucket.Lookup(task.Type())
	if !ok {
		return nil
	}
	return fn.Finish(tx, b, fb, task)
}

// IsSetTx reports whether the future's block set is empty.
func (f *TaskFuture) IsSetTx(tx *kv.Transaction) (bool, error) {
	begin, end := f.blSub().Range()
	rows, _, err := tx.GetRange(begin, end, 1)
	if err != nil {
		return false, err
	}
	return len(rows) == 0, nil
}

// IsSet opens its own transaction.
func (f *TaskFuture) IsSet(ctx context.Context) (bool, error) {
	var out bool
	err := kv.DoTransact(ctx, f.bucket.store, func(tx *kv.Transaction) error {
		v, serr := f.IsSetTx(tx)
		out = v
		return serr
	})
	return out, err
}

// OnSetTx arranges for task's type handler to run when f becomes set: if f
// is already set, it runs immediately; otherwise task's params are
// persisted as a durable callback row under a fresh callback uid.
func (f *TaskFuture) OnSetTx(tx *kv.Transaction, b *taskbucket.Bucket, task *taskbucket.Task) error {
	set, err := f.IsSetTx(tx)
	if err != nil {
		return err
	}
	if set {
		return performAction(tx, b, f.bucket, task)
	}

	cbUID := randomToken(16)
	for name, value := range task.Params {
		key, perr := f.cbSub().Pack(kv.Tuple{cbUID, []byte(name)})
		if perr != nil {
			return perr
		}
		tx.Set(key, value)
	}
	return nil
}

// OnSet opens its own transaction.
func (f *TaskFuture) OnSet(ctx context.Context, b *taskbucket.Bucket, task *taskbucket.Task) error {
	return kv.DoTransact(ctx, f.bucket.store, func(tx *kv.Transaction) error {
		return f.OnSetTx(tx, b, task)
	})
}

// SetTx clears the block set and runs every registered callback. Calling
// it twice is a no-op the second time: the block set is already empty and
// the callback scan finds nothing.
func (f *TaskFuture) SetTx(tx *kv.Transaction, b *taskbucket.Bucket) error {
	begin, end := f.blSub().Range()
	tx.ClearRange(begin, end)
	return f.PerformAllActionsTx(tx, b)
}

// Set opens its own transaction.
func (f *TaskFuture) Set(ctx context.Context, b *taskbucket.Bucket) error {
	return kv.DoTransact(ctx, f.bucket.store, func(tx *kv.Transaction) error {
		return f.SetTx(tx, b)
	})
}

// PerformAllActionsTx reads every callback row, clears the callback
// subspace, reconstructs one Task per callback uid, and invokes each
// task's registered Finish handler.
func (f *TaskFuture) PerformAllActionsTx(tx *kv.Transaction, b *taskbucket.Bucket) error {
	begin, end := f.cbSub().Range()
	var rows []kv.KeyValue
	scanBegin := begin
	for {
		chunk, more, err := tx.GetRange(scanBegin, end, maxCallbackRows)
		if err != nil {
			return err
		}
		rows = append(rows, chunk...)
		if !more || len(chunk) == 0 {
			break
		}
		scanBegin = kv.KeyAfter(chunk[len(chunk)-1].Key)
	}
	if len(rows) == 0 {
		return nil
	}

	type group struct {
		params map[string][]byte
	}
	groups := make(map[string]*group)
	var order []string

	for _, row := range rows {
		tup, uerr := f.cbSub().Unpack(row.Key)
		if uerr != nil {
			return uerr
		}
		cbUID := tup[0].([]byte)
		name := tup[1].([]byte)

		key := string(cbUID)
		g, ok := groups[key]
		if !ok {
			g = &group{params: make(map[string][]byte)}
			groups[key] = g
			order = append(order, key)
		}
		g.params[string(name)] = row.Value
	}
	tx.ClearRange(begin, end)

	for _, key := range order {
		task := &taskbucket.Task{Params: groups[key].params}
		if err := performAction(tx, b, f.bucket, task); err != nil {
			return err
		}
	}
	return nil
}

// JoinTx makes f depend on every future in others: if f is already set
// this is a no-op, otherwise it clears f's sentinel block, adds one fresh
// block per dependency, and registers an UnblockFuture callback on each
// dependency carrying f's uid and that block's id. As each dependency
// sets, its UnblockFuture callback clears one of f's blocks; the one that
// empties f's block set runs f's own callbacks in the same transaction.
func (f *TaskFuture) JoinTx(tx *kv.Transaction, b *taskbucket.Bucket, others []*TaskFuture) error {
	set, err := f.IsSetTx(tx)
	if err != nil {
		return err
	}
	if set {
		return nil
	}

	anchor, err := f.blSub().Pack(kv.Tuple{[]byte("")})
	if err != nil {
		return err
	}
	tx.Clear(anchor)

	for _, other := range others {
		bid := randomToken(16)
		blockKey, perr := f.blSub().Pack(kv.Tuple{bid})
		if perr != nil {
			return perr
		}
		tx.Set(blockKey, []byte(""))

		cb := &taskbucket.Task{Params: map[string][]byte{
			taskbucket.ParamType:    []byte("UnblockFuture"),
			taskbucket.ParamFuture:  f.UID(),
			taskbucket.ParamBlockID: bid,
		}}
		if err := other.OnSetTx(tx, b, cb); err != nil {
			return err
		}
	}
	return nil
}

// Join opens its own transaction.
func (f *TaskFuture) Join(ctx context.Context, b *taskbucket.Bucket, others []*TaskFuture) error {
	return kv.DoTransact(ctx, f.bucket.store, func(tx *kv.Transaction) error {
		return f.JoinTx(tx, b, others)
	})
}

// OnSetAddTaskTx rewrites task to enqueue itself through AddTask (moving
// its type into _add_task) and, if validationKey is non-nil, stamps a
// validation witness from validationKey's current value, then delegates
// to OnSetTx. The effect: when f fires, task is enqueued, unless the
// witness has since been invalidated.
func (f *TaskFuture) OnSetAddTaskTx(tx *kv.Transaction, b *taskbucket.Bucket, task *taskbucket.Task, validationKey []byte) error {
	next := cloneTask(task)
	next.Params[taskbucket.ParamAddTask] = next.Params[taskbucket.ParamType]
	next.Params[taskbucket.ParamType] = []byte("AddTask")

	if validationKey != nil {
		val, ok, err := tx.Get(validationKey)
		if err != nil {
			return err
		}
		if !ok {
			return taskbucket.ErrInvalidValidationKey
		}
		next.Params[taskbucket.ParamValidKey] = append([]byte(nil), validationKey...)
		next.Params[taskbucket.ParamValidValue] = append([]byte(nil), val...)
	}
	return f.OnSetTx(tx, b, next)
}

// OnSetAddTask opens its own transaction.
func (f *TaskFuture) OnSetAddTask(ctx context.Context, b *taskbucket.Bucket, task *taskbucket.Task, validationKey []byte) error {
	return kv.DoTransact(ctx, f.bucket.store, func(tx *kv.Transaction) error {
		return f.OnSetAddTaskTx(tx, b, task, validationKey)
	})
}

// JoinedFutureTx allocates a fresh child future and joins f into it.
func (f *TaskFuture) JoinedFutureTx(tx *kv.Transaction, b *taskbucket.Bucket) (*TaskFuture, error) {
	child, err := f.bucket.FutureTx(tx)
	if err != nil {
		return nil, err
	}
	if err := child.JoinTx(tx, b, []*TaskFuture{f}); err != nil {
		return nil, err
	}
	return child, nil
}

// JoinedFuture opens its own transaction.
func (f *TaskFuture) JoinedFuture(ctx context.Context, b *taskbucket.Bucket) (*TaskFuture, error) {
	var child *TaskFuture
	err := kv.DoTransact(ctx, f.bucket.store, func(tx *kv.Transaction) error {
		c, jerr := f.JoinedFutureTx(tx, b)
		child = c
		return jerr
	})
	return child, err
}
