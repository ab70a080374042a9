package taskfuture

import (
	"context"

	"github.com/rzbill/taskbucket/internal/kv"
	"github.com/rzbill/taskbucket/pkg/id"
)

var idGen = id.NewGenerator()

// FutureBucket owns a subspace of durable futures, each identified by a
// 128-bit uid minted the same way taskbucket mints task uids.
type FutureBucket struct {
	store *kv.Store
	root  kv.Subspace
}

// New returns a FutureBucket rooted at prefix within store.
func New(store *kv.Store, prefix []byte) *FutureBucket {
	return &FutureBucket{store: store, root: kv.NewSubspace(prefix)}
}

// Store returns the underlying transaction engine, for callers composing
// future operations with taskbucket operations in a single transaction.
func (fb *FutureBucket) Store() *kv.Store { return fb.store }

// FutureTx allocates a new future and writes its sentinel block (the
// empty-string block id, so the future starts unset), within an already
// open transaction.
func (fb *FutureBucket) FutureTx(tx *kv.Transaction) (*TaskFuture, error) {
	f := &TaskFuture{bucket: fb, uid: idGen.Next().Bytes()}
	key, err := f.blSub().Pack(kv.Tuple{[]byte("")})
	if err != nil {
		return nil, err
	}
	tx.Set(key, []byte(""))
	return f, nil
}

// Future opens its own transaction to allocate a new future.
func (fb *FutureBucket) Future(ctx context.Context) (*TaskFuture, error) {
	var f *TaskFuture
	err := kv.DoTransact(ctx, fb.store, func(tx *kv.Transaction) error {
		created, ferr := fb.FutureTx(tx)
		f = created
		return ferr
	})
	return f, err
}

// Unpack re-hydrates a future handle from a uid previously returned by
// TaskFuture.UID, without touching the store.
func (fb *FutureBucket) Unpack(uid []byte) *TaskFuture {
	return &TaskFuture{bucket: fb, uid: append([]byte(nil), uid...)}
}

// IsEmptyTx reports whether no futures exist under this bucket's prefix.
func (fb *FutureBucket) IsEmptyTx(tx *kv.Transaction) (bool, error) {
	begin, end := fb.root.Range()
	rows, _, err := tx.GetRange(begin, end, 1)
	if err != nil {
		return false, err
	}
	return len(rows) == 0, nil
}

// IsEmpty opens its own transaction.
func (fb *FutureBucket) IsEmpty(ctx context.Context) (bool, error) {
	var out bool
	err := kv.DoTransact(ctx, fb.store, func(tx *kv.Transaction) error {
		v, ferr := fb.IsEmptyTx(tx)
		out = v
		return ferr
	})
	return out, err
}

// ClearTx drops the entire futures subspace.
func (fb *FutureBucket) ClearTx(tx *kv.Transaction) error {
	begin, end := fb.root.Range()
	tx.ClearRange(begin, end)
	return nil
}

// Clear opens its own transaction.
func (fb *FutureBucket) Clear(ctx context.Context) error {
	return kv.DoTransact(ctx, fb.store, func(tx *kv.Transaction) error {
		return fb.ClearTx(tx)
	})
}
