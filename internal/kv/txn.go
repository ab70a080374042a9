package kv

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math/rand"
	"sort"
	"time"

	"github.com/cockroachdb/pebble"
)

type opKind int

const (
	opSet opKind = iota
	opClear
	opClearRange
	opMerge
)

type writeOp struct {
	kind  opKind
	key   []byte
	value []byte // opSet value, opMerge delta
	begin []byte // opClearRange
	end   []byte // opClearRange
}

// Transaction is a serializable-snapshot transaction: reads are served from
// a consistent point-in-time snapshot (overlaid with the transaction's own
// pending writes, for read-your-writes), and Commit validates the read set
// against every write committed since the snapshot was taken before
// applying the transaction's own writes.
type Transaction struct {
	store       *Store
	snapshot    *pebble.Snapshot
	readVersion uint64

	reads  []byteRange
	writes []writeOp
	closed bool
}

// ReadVersion returns the logical version this transaction's reads are
// pinned to.
func (tx *Transaction) ReadVersion() uint64 { return tx.readVersion }

func (tx *Transaction) addRead(r byteRange) { tx.reads = append(tx.reads, r) }

func (tx *Transaction) writeRanges() []byteRange {
	out := make([]byteRange, 0, len(tx.writes))
	for _, op := range tx.writes {
		switch op.kind {
		case opClearRange:
			out = append(out, byteRange{begin: op.begin, end: op.end})
		default:
			out = append(out, keyRange(op.key))
		}
	}
	return out
}

// snapshotGet reads key directly from the transaction's snapshot, bypassing
// the pending-write overlay.
func (tx *Transaction) snapshotGet(key []byte) ([]byte, bool, error) {
	v, closer, err := tx.snapshot.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	out := append([]byte(nil), v...)
	closer.Close()
	return out, true, nil
}

// resolve returns the effective value of key given the snapshot plus every
// pending write recorded so far, in issue order.
func (tx *Transaction) resolve(key []byte) ([]byte, bool, error) {
	base, exists, err := tx.snapshotGet(key)
	if err != nil {
		return nil, false, err
	}
	var pendingMerge int64
	haveMerge := false
	for _, op := range tx.writes {
		switch op.kind {
		case opSet:
			if bytes.Equal(op.key, key) {
				base, exists = append([]byte(nil), op.value...), true
				pendingMerge, haveMerge = 0, false
			}
		case opClear:
			if bytes.Equal(op.key, key) {
				base, exists = nil, false
				pendingMerge, haveMerge = 0, false
			}
		case opClearRange:
			if bytes.Compare(op.begin, key) <= 0 && bytes.Compare(key, op.end) < 0 {
				base, exists = nil, false
				pendingMerge, haveMerge = 0, false
			}
		case opMerge:
			if bytes.Equal(op.key, key) {
				pendingMerge += decodeLE64(op.value)
				haveMerge = true
				exists = true
			}
		}
	}
	if haveMerge {
		var cur int64
		if len(base) >= 8 {
			cur = decodeLE64(base)
		}
		out := make([]byte, 8)
		binary.LittleEndian.PutUint64(out, uint64(cur+pendingMerge))
		return out, true, nil
	}
	return base, exists, nil
}

func decodeLE64(b []byte) int64 {
	if len(b) < 8 {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(b))
}

// Get returns the value for key, or (nil, false, nil) if absent.
func (tx *Transaction) Get(key []byte) ([]byte, bool, error) {
	tx.addRead(keyRange(key))
	return tx.resolve(key)
}

// Set writes key=value.
func (tx *Transaction) Set(key, value []byte) {
	tx.writes = append(tx.writes, writeOp{kind: opSet, key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
}

// Clear removes key.
func (tx *Transaction) Clear(key []byte) {
	tx.writes = append(tx.writes, writeOp{kind: opClear, key: append([]byte(nil), key...)})
}

// ClearRange removes every key in [begin, end).
func (tx *Transaction) ClearRange(begin, end []byte) {
	tx.writes = append(tx.writes, writeOp{kind: opClearRange, begin: append([]byte(nil), begin...), end: append([]byte(nil), end...)})
}

// AtomicAddLE64 adds delta to the little-endian 64-bit integer stored at
// key, per the store contract's ADD_LE64 primitive.
func (tx *Transaction) AtomicAddLE64(key []byte, delta int64) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(delta))
	tx.writes = append(tx.writes, writeOp{kind: opMerge, key: append([]byte(nil), key...), value: buf})
}

// KeyValue is one row returned by GetRange.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// GetRange returns up to limit rows in [begin, end), in key order, plus
// whether more rows exist beyond the returned set. limit<=0 means
// unbounded.
func (tx *Transaction) GetRange(begin, end []byte, limit int) ([]KeyValue, bool, error) {
	return tx.getRange(begin, end, limit, false)
}

// getRange is GetRange's implementation, with an internal snapshot escape
// hatch: when snapshot is true, the scanned span is not added to the
// transaction's read-conflict set. Only GetKey's snapshot selectors use it.
func (tx *Transaction) getRange(begin, end []byte, limit int, snapshot bool) ([]KeyValue, bool, error) {
	if !snapshot {
		tx.addRead(byteRange{begin: begin, end: end})
	}

	keys := make(map[string]struct{})

	it, err := tx.snapshot.NewIter(&pebble.IterOptions{LowerBound: begin, UpperBound: end})
	if err != nil {
		return nil, false, err
	}
	for valid := it.First(); valid; valid = it.Next() {
		keys[string(it.Key())] = struct{}{}
	}
	if err := it.Close(); err != nil {
		return nil, false, err
	}

	for _, op := range tx.writes {
		switch op.kind {
		case opSet, opMerge:
			if bytes.Compare(begin, op.key) <= 0 && bytes.Compare(op.key, end) < 0 {
				keys[string(op.key)] = struct{}{}
			}
		}
	}

	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	rows := make([]KeyValue, 0, len(sorted))
	for _, k := range sorted {
		v, exists, err := tx.resolve([]byte(k))
		if err != nil {
			return nil, false, err
		}
		if !exists {
			continue
		}
		rows = append(rows, KeyValue{Key: []byte(k), Value: v})
	}

	more := false
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
		more = true
	}
	return rows, more, nil
}

// GetKey resolves a KeySelector against the transaction's view, returning
// the selected key (which may not itself exist as a value — only
// LastLessOrEqual/FirstGreaterOrEqual are supported, both of which always
// resolve to an existing key when one is present in range). If sel was
// built with Snapshot(), the scanned span is not added to the read-conflict
// set, so the resolution cannot cause this transaction to conflict with
// concurrent writes under it.
func (tx *Transaction) GetKey(sel KeySelector) ([]byte, bool, error) {
	if sel.forward {
		end := []byte{0xff, 0xff, 0xff, 0xff}
		begin := sel.key
		if !sel.orEqual {
			begin = KeyAfter(sel.key)
		}
		rows, _, err := tx.getRange(begin, end, 1, sel.snapshot)
		if err != nil {
			return nil, false, err
		}
		if len(rows) == 0 {
			return nil, false, nil
		}
		return rows[0].Key, true, nil
	}

	begin := []byte{}
	end := sel.key
	if sel.orEqual {
		end = KeyAfter(sel.key)
	}
	rows, _, err := tx.getRange(begin, end, 0, sel.snapshot)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[len(rows)-1].Key, true, nil
}

// Commit validates and applies the transaction. On ErrConflict the caller
// should retry with a fresh Transaction, matching on_error's retry
// contract; Commit always closes the underlying snapshot.
func (tx *Transaction) Commit() error {
	if tx.closed {
		return nil
	}
	tx.closed = true
	defer tx.snapshot.Close()
	return tx.store.commit(tx)
}

// Cancel discards the transaction without applying its writes.
func (tx *Transaction) Cancel() {
	if tx.closed {
		return
	}
	tx.closed = true
	tx.snapshot.Close()
}

// DoTransact runs fn against a fresh Transaction, retrying on ErrConflict
// with capped attempts — the on_error retry loop every transactional
// operation in TaskBucket is built on.
func DoTransact(ctx context.Context, store *Store, fn func(tx *Transaction) error) error {
	const maxAttempts = 100
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := store.Begin()
		err := fn(tx)
		if err != nil {
			tx.Cancel()
			if errors.Is(err, ErrConflict) {
				backoff(attempt)
				continue
			}
			return err
		}
		if err := tx.Commit(); err != nil {
			if errors.Is(err, ErrConflict) {
				backoff(attempt)
				continue
			}
			return err
		}
		return nil
	}
	return ErrTooManyRetries
}

func backoff(attempt int) {
	n := attempt
	if n > 8 {
		n = 8
	}
	base := time.Duration(1<<n) * time.Millisecond
	jitter := time.Duration(rand.Int63n(int64(base) + 1))
	time.Sleep(base/2 + jitter/2)
}
