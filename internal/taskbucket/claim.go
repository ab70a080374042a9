package taskbucket

import (
	"bytes"
	"context"
	"math/rand"

	"github.com/rzbill/taskbucket/internal/kv"
)

func rand01() float64 { return rand.Float64() }

var maxUID = bytes.Repeat([]byte{0xff}, 16)

// probePriority implements the random-pick trick: a LastLessOrEqual probe
// at a random uid within priority p almost always lands on a different row
// than a concurrent claimer's probe, keeping contention low without a
// coarse lock. If the random probe misses the subspace, a second probe at
// the maximum possible uid returns the greatest remaining row, if any.
func (b *Bucket) probePriority(tx *kv.Transaction, p int64) ([]byte, bool, error) {
	begin, end, err := b.avp.PrefixRange(kv.Tuple{p})
	if err != nil {
		return nil, false, err
	}

	probe, err := b.avp.Pack(kv.Tuple{p, randomToken(16)})
	if err != nil {
		return nil, false, err
	}
	if key, ok, err := tx.GetKey(kv.LastLessOrEqual(probe).Snapshot()); err != nil {
		return nil, false, err
	} else if ok && withinRange(key, begin, end) {
		return key, true, nil
	}

	probe2, err := b.avp.Pack(kv.Tuple{p, maxUID})
	if err != nil {
		return nil, false, err
	}
	key, ok, err := tx.GetKey(kv.LastLessOrEqual(probe2).Snapshot())
	if err != nil {
		return nil, false, err
	}
	if ok && withinRange(key, begin, end) {
		return key, true, nil
	}
	return nil, false, nil
}

func withinRange(key, begin, end []byte) bool {
	return bytes.Compare(begin, key) <= 0 && bytes.Compare(key, end) < 0
}

// findHit scans priorities from MaxPriority down to 0, returning the first
// hit. Claims resolve in descending priority order: a higher-priority hit
// always wins over a lower one.
func (b *Bucket) findHit(tx *kv.Transaction) (key []byte, priority int64, found bool, err error) {
	for p := int64(b.cfg.MaxPriority); p >= 0; p-- {
		k, ok, err := b.probePriority(tx, p)
		if err != nil {
			return nil, 0, false, err
		}
		if ok {
			return k, p, true, nil
		}
	}
	return nil, 0, false, nil
}

// GetOneTx implements the claim algorithm: an optional probabilistic
// preemptive requeue, a descending-priority scan for an available task, a
// single-level recursive retry through requeue_timed_out on a total miss,
// and the move of the winning task's rows from avp to a freshly jittered
// timeout subspace.
func (b *Bucket) GetOneTx(tx *kv.Transaction) (*Task, error) {
	if rand01() < b.cfg.CheckTimeoutChance {
		if _, err := b.RequeueTimedOutTx(tx); err != nil {
			return nil, err
		}
	}

	key, priority, found, err := b.findHit(tx)
	if err != nil {
		return nil, err
	}
	if !found {
		moved, err := b.RequeueTimedOutTx(tx)
		if err != nil {
			return nil, err
		}
		if moved {
			key, priority, found, err = b.findHit(tx)
			if err != nil {
				return nil, err
			}
		}
		if !found {
			return nil, nil
		}
	}

	tup, err := b.avp.Unpack(key)
	if err != nil {
		return nil, err
	}
	uid := tup[1].([]byte)

	begin, end, err := b.avp.PrefixRange(kv.Tuple{priority, uid})
	if err != nil {
		return nil, err
	}
	rows, _, err := tx.GetRange(begin, end, b.cfg.MaxTaskKeys)
	if err != nil {
		return nil, err
	}

	task := &Task{UID: append([]byte(nil), uid...), Params: make(map[string][]byte, len(rows))}
	for _, row := range rows {
		rowTup, err := b.avp.Unpack(row.Key)
		if err != nil {
			return nil, err
		}
		name := rowTup[2].([]byte)
		task.Params[string(name)] = row.Value
	}

	readVersion := tx.ReadVersion()
	jitter := b.cfg.JitterOffset + b.cfg.JitterRange*rand01()
	task.TimeoutVersion = int64(readVersion) + int64(float64(b.cfg.TimeoutVersions)*jitter)

	for name, value := range task.Params {
		toKey, err := b.to.Pack(kv.Tuple{task.TimeoutVersion, task.UID, []byte(name)})
		if err != nil {
			return nil, err
		}
		tx.Set(toKey, value)
	}
	tx.ClearRange(begin, end)
	tx.Set(b.activeKey, randomToken(16))

	return task, nil
}

// GetOne opens its own transaction to claim the next available task.
func (b *Bucket) GetOne(ctx context.Context) (*Task, error) {
	var task *Task
	err := kv.DoTransact(ctx, b.store, func(tx *kv.Transaction) error {
		t, err := b.GetOneTx(tx)
		task = t
		return err
	})
	if err == nil {
		b.metrics.observeClaim(task)
	}
	return task, err
}

// RequeueTimedOutTx scans the timeouts subspace up to MaxTaskKeys rows,
// groups rows by uid, and flushes each fully-read group back to the
// available subspace under its decoded priority. It only clears the
// fully-flushed prefix of the scanned range when the scan was truncated,
// so a partially-read group's rows are never lost.
func (b *Bucket) RequeueTimedOutTx(tx *kv.Transaction) (bool, error) {
	begin, end := b.to.Range()
	endVersion := int64(tx.ReadVersion())
	boundedEnd, err := b.to.Pack(kv.Tuple{endVersion})
	if err != nil {
		return false, err
	}
	if bytes.Compare(boundedEnd, end) < 0 {
		end = boundedEnd
	}

	rows, more, err := tx.GetRange(begin, end, b.cfg.MaxTaskKeys)
	if err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return false, nil
	}

	type group struct {
		uid      []byte
		priority int64
		params   map[string][]byte
		lastKey  []byte
	}

	var groups []*group
	var cur *group

	for _, row := range rows {
		tup, err := b.to.Unpack(row.Key)
		if err != nil {
			return false, err
		}
		uid := tup[1].([]byte)
		name := tup[2].([]byte)

		if cur == nil || !bytes.Equal(cur.uid, uid) {
			cur = &group{uid: append([]byte(nil), uid...), params: make(map[string][]byte)}
			groups = append(groups, cur)
		}
		cur.params[string(name)] = row.Value
		cur.lastKey = row.Key
	}

	flushGroup := func(g *group) error {
		g.priority = 0
		if v, ok := g.params[ParamPriority]; ok {
			g.priority = DecodeInt64(v)
		}
		for name, value := range g.params {
			key, err := b.avp.Pack(kv.Tuple{g.priority, g.uid, []byte(name)})
			if err != nil {
				return err
			}
			tx.Set(key, value)
		}
		return nil
	}

	if !more {
		for _, g := range groups {
			if err := flushGroup(g); err != nil {
				return false, err
			}
		}
		tx.ClearRange(begin, end)
		return true, nil
	}

	// Scan was truncated: flush every complete group except the last
	// (which may still have rows beyond the scanned window), and clear
	// only up through the last complete group's final key.
	complete := groups
	if len(complete) > 0 {
		complete = complete[:len(complete)-1]
	}
	for _, g := range complete {
		if err := flushGroup(g); err != nil {
			return false, err
		}
	}
	if len(complete) > 0 {
		tx.ClearRange(begin, kv.KeyAfter(complete[len(complete)-1].lastKey))
	}
	return true, nil
}

// RequeueTimedOut opens its own transaction.
func (b *Bucket) RequeueTimedOut(ctx context.Context) (bool, error) {
	var moved bool
	err := kv.DoTransact(ctx, b.store, func(tx *kv.Transaction) error {
		m, err := b.RequeueTimedOutTx(tx)
		moved = m
		return err
	})
	if err == nil {
		b.metrics.observeRequeue(moved)
	}
	return moved, err
}
