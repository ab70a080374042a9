package taskbucket

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/rzbill/taskbucket/internal/kv"
)

// Config holds the TaskBucket tunables named in the store contract:
// timeout_versions, system_access/lock_aware, priority_batch, and
// max_priority, plus the claim/requeue/active-probe constants.
type Config struct {
	MaxPriority int

	// TimeoutVersions is the lease length expressed in store versions.
	TimeoutVersions int64
	JitterOffset    float64
	JitterRange     float64

	// VersionsPerSecond converts a version delta into a wall-clock delay
	// for arming a task's lease timeout.
	VersionsPerSecond int64

	TooManyTasks int
	MaxTaskKeys  int

	CheckTimeoutChance float64
	CheckActiveAmount  int
	CheckActiveDelay   time.Duration

	// SystemAccess and LockAware mirror the store contract's transaction
	// options; this implementation's transaction engine has no analogous
	// knobs, so they're carried for API compatibility and not acted on.
	SystemAccess bool
	LockAware    bool

	// PriorityBatch enables the "batch priority" transaction option on
	// claim transactions. As with SystemAccess/LockAware, this engine has
	// no batch-priority concept; carried for API compatibility.
	PriorityBatch bool
}

// DefaultConfig returns the constants the store contract suggests.
func DefaultConfig() Config {
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
		CheckActiveDelay:   5 * time.Second,
	}
}

// Bucket is the queue structure: its subspaces partition tasks by priority
// and lease deadline, mirroring the store contract's avp/to layout.
type Bucket struct {
	store *kv.Store
	cfg   Config

	root         kv.Subspace
	avp          kv.Subspace
	to           kv.Subspace
	activeKey    []byte
	taskCountKey []byte

	metrics *Metrics
}

// New returns a TaskBucket rooted at prefix within store.
func New(store *kv.Store, prefix []byte, cfg Config) *Bucket {
	root := kv.NewSubspace(prefix)
	b := &Bucket{
		store: store,
		cfg:   cfg,
		root:  root,
		avp:   root.Sub(kv.Tuple{"avp"}),
		to:    root.Sub(kv.Tuple{"to"}),
	}
	b.activeKey = root.MustSub("ac")
	b.taskCountKey = root.MustSub("task_count")
	return b
}

// Store returns the underlying transaction engine, for callers that need
// to compose TaskBucket operations with TaskFuture operations in a single
// transaction.
func (b *Bucket) Store() *kv.Store { return b.store }

// SetMetrics attaches a Metrics handle; subsequent claim, requeue, and
// finish calls record against it. Passing nil (the default) disables
// recording.
func (b *Bucket) SetMetrics(m *Metrics) { b.metrics = m }

func randomToken(n int) []byte {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return buf
}

// AddTaskTx writes task's params under avp/<priority>/<uid>/<name> and adds
// +1 to task_count, within an already-open transaction. A fresh uid is
// always minted, even if task already carries one (e.g. a claimed task
// re-enqueued by the AddTask built-in).
func (b *Bucket) AddTaskTx(tx *kv.Transaction, task *Task) ([]byte, error) {
	task.UID = idGen.Next().Bytes()
	prio := int64(task.Priority())
	for name, value := range task.Params {
		key, err := b.avp.Pack(kv.Tuple{prio, task.UID, []byte(name)})
		if err != nil {
			return nil, err
		}
		tx.Set(key, value)
	}
	tx.AtomicAddLE64(b.taskCountKey, 1)
	return task.UID, nil
}

// AddTaskWithValidationTx additionally reads validationKey and stamps
// _validkey/_validvalue into the task's params before writing, binding the
// task's validity to that key's value. Fails with ErrInvalidValidationKey
// if validationKey is absent.
func (b *Bucket) AddTaskWithValidationTx(tx *kv.Transaction, task *Task, validationKey []byte) ([]byte, error) {
	val, ok, err := tx.Get(validationKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidValidationKey
	}
	task.Params[ParamValidKey] = append([]byte(nil), validationKey...)
	task.Params[ParamValidValue] = append([]byte(nil), val...)
	return b.AddTaskTx(tx, task)
}

// AddTask opens its own transaction to enqueue task.
func (b *Bucket) AddTask(ctx context.Context, task *Task) ([]byte, error) {
	var uid []byte
	err := kv.DoTransact(ctx, b.store, func(tx *kv.Transaction) error {
		u, err := b.AddTaskTx(tx, task)
		uid = u
		return err
	})
	return uid, err
}

// AddTaskWithValidation opens its own transaction to enqueue task bound to
// validationKey.
func (b *Bucket) AddTaskWithValidation(ctx context.Context, task *Task, validationKey []byte) ([]byte, error) {
	var uid []byte
	err := kv.DoTransact(ctx, b.store, func(tx *kv.Transaction) error {
		u, err := b.AddTaskWithValidationTx(tx, task, validationKey)
		uid = u
		return err
	})
	return uid, err
}

// FinishTx clears task's timeout rows and decrements task_count. It does
// not check whether the rows are still present: a second call decrements
// task_count again, so at-most-one-finalize relies on callers checking
// IsFinishedTx first, as finalize does.
func (b *Bucket) FinishTx(tx *kv.Transaction, task *Task) error {
	begin, end, err := b.to.PrefixRange(kv.Tuple{task.TimeoutVersion, task.UID})
	if err != nil {
		return err
	}
	tx.ClearRange(begin, end)
	tx.AtomicAddLE64(b.taskCountKey, -1)
	b.metrics.observeFinish()
	return nil
}

// Finish opens its own transaction to finalize task.
func (b *Bucket) Finish(ctx context.Context, task *Task) error {
	return kv.DoTransact(ctx, b.store, func(tx *kv.Transaction) error {
		return b.FinishTx(tx, task)
	})
}

// IsFinishedTx reports whether no keys exist under to/<timeout>/<uid>/*.
func (b *Bucket) IsFinishedTx(tx *kv.Transaction, task *Task) (bool, error) {
	begin, end, err := b.to.PrefixRange(kv.Tuple{task.TimeoutVersion, task.UID})
	if err != nil {
		return false, err
	}
	rows, _, err := tx.GetRange(begin, end, 1)
	if err != nil {
		return false, err
	}
	return len(rows) == 0, nil
}

// IsVerifiedTx reports whether task's validation witness (if any) still
// holds: either the task has none, or _validkey's current value still
// equals _validvalue byte-for-byte.
func (b *Bucket) IsVerifiedTx(tx *kv.Transaction, task *Task) (bool, error) {
	if !task.HasValidationWitness() {
		return true, nil
	}
	cur, ok, err := tx.Get(task.Params[ParamValidKey])
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return bytesEqual(cur, task.Params[ParamValidValue]), nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SaveAndExtendTx extends task's lease: if its timeout rows are no longer
// present, returns false (equivalent to keep_running failing). Otherwise
// moves the rows to a fresh timeout subspace keyed by a new deadline
// version and updates task.TimeoutVersion in place.
func (b *Bucket) SaveAndExtendTx(tx *kv.Transaction, task *Task) (bool, error) {
	oldBegin, oldEnd, err := b.to.PrefixRange(kv.Tuple{task.TimeoutVersion, task.UID})
	if err != nil {
		return false, err
	}
	rows, _, err := tx.GetRange(oldBegin, oldEnd, b.cfg.MaxTaskKeys)
	if err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return false, nil
	}

	newDeadline := tx.ReadVersion() + uint64(b.cfg.TimeoutVersions)
	for _, row := range rows {
		tup, err := b.to.Unpack(row.Key)
		if err != nil {
			return false, err
		}
		name := tup[len(tup)-1].([]byte)
		newKey, err := b.to.Pack(kv.Tuple{int64(newDeadline), task.UID, name})
		if err != nil {
			return false, err
		}
		tx.Set(newKey, row.Value)
	}
	tx.ClearRange(oldBegin, oldEnd)
	task.TimeoutVersion = int64(newDeadline)
	return true, nil
}

// SaveAndExtend opens its own transaction to extend task's lease.
func (b *Bucket) SaveAndExtend(ctx context.Context, task *Task) (bool, error) {
	var ok bool
	err := kv.DoTransact(ctx, b.store, func(tx *kv.Transaction) error {
		extended, err := b.SaveAndExtendTx(tx, task)
		ok = extended
		return err
	})
	return ok, err
}

// IsBusyTx reports whether any priority subspace has any key.
func (b *Bucket) IsBusyTx(tx *kv.Transaction) (bool, error) {
	begin, end := b.avp.Range()
	rows, _, err := tx.GetRange(begin, end, 1)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// IsEmptyTx reports whether the bucket has no available tasks and no
// in-flight (timed-out-subspace) tasks.
func (b *Bucket) IsEmptyTx(tx *kv.Transaction) (bool, error) {
	busy, err := b.IsBusyTx(tx)
	if err != nil || busy {
		return false, err
	}
	begin, end := b.to.Range()
	rows, _, err := tx.GetRange(begin, end, 1)
	if err != nil {
		return false, err
	}
	return len(rows) == 0, nil
}

// IsBusy opens its own transaction.
func (b *Bucket) IsBusy(ctx context.Context) (bool, error) {
	var out bool
	err := kv.DoTransact(ctx, b.store, func(tx *kv.Transaction) error {
		v, err := b.IsBusyTx(tx)
		out = v
		return err
	})
	return out, err
}

// IsEmpty opens its own transaction.
func (b *Bucket) IsEmpty(ctx context.Context) (bool, error) {
	var out bool
	err := kv.DoTransact(ctx, b.store, func(tx *kv.Transaction) error {
		v, err := b.IsEmptyTx(tx)
		out = v
		return err
	})
	return out, err
}

// GetTaskCountTx decodes the task_count counter, 0 if absent.
func (b *Bucket) GetTaskCountTx(tx *kv.Transaction) (int64, error) {
	v, ok, err := tx.Get(b.taskCountKey)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return DecodeInt64(v), nil
}

// GetTaskCount opens its own transaction.
func (b *Bucket) GetTaskCount(ctx context.Context) (int64, error) {
	var out int64
	err := kv.DoTransact(ctx, b.store, func(tx *kv.Transaction) error {
		v, err := b.GetTaskCountTx(tx)
		out = v
		return err
	})
	return out, err
}

// WatchTaskCount returns a channel that closes the next time task_count
// changes.
func (b *Bucket) WatchTaskCount() <-chan struct{} {
	return b.store.Watch(b.taskCountKey)
}

// ClearTx removes the entire prefix range, including the active-marker and
// counter keys.
func (b *Bucket) ClearTx(tx *kv.Transaction) error {
	begin, end := b.root.Range()
	tx.ClearRange(begin, end)
	return nil
}

// Clear opens its own transaction.
func (b *Bucket) Clear(ctx context.Context) error {
	return kv.DoTransact(ctx, b.store, func(tx *kv.Transaction) error {
		return b.ClearTx(tx)
	})
}

// CheckActive enqueues an idle task if the bucket isn't busy, then polls the
// active-marker value up to CheckActiveAmount times, CheckActiveDelay
// apart, returning true on the first observed change.
func (b *Bucket) CheckActive(ctx context.Context) (bool, error) {
	busy, err := b.IsBusy(ctx)
	if err != nil {
		return false, err
	}
	if !busy {
		if _, err := b.AddTask(ctx, NewTask("idle", 0)); err != nil {
			return false, err
		}
	}

	var before []byte
	err = kv.DoTransact(ctx, b.store, func(tx *kv.Transaction) error {
		v, _, err := tx.Get(b.activeKey)
		before = v
		return err
	})
	if err != nil {
		return false, err
	}

	for i := 0; i < b.cfg.CheckActiveAmount; i++ {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(b.cfg.CheckActiveDelay):
		}
		var after []byte
		err = kv.DoTransact(ctx, b.store, func(tx *kv.Transaction) error {
			v, _, err := tx.Get(b.activeKey)
			after = v
			return err
		})
		if err != nil {
			return false, err
		}
		if !bytesEqual(before, after) {
			return true, nil
		}
	}
	return false, nil
}
