package pebblestore

import (
	"encoding/binary"
	"io"

	"github.com/cockroachdb/pebble"
)

// AddLE64MergerName identifies the merge operator registered below. It is
// written into the pebble manifest and must stay stable across restarts.
const AddLE64MergerName = "taskbucket.add_le64"

// addLE64Merger implements a FoundationDB-style ADD_LE64 atomic mutation: the
// merged value is the 8-byte little-endian sum of every operand, including
// the base value if one exists. Operands shorter than 8 bytes are treated as
// zero-padded; this matches the KV contract's AtomicAdd, which always writes
// 8-byte deltas.
type addLE64Merger struct {
	sum int64
}

func newAddLE64Merger(base []byte) *addLE64Merger {
	m := &addLE64Merger{}
	if len(base) >= 8 {
		m.sum = int64(binary.LittleEndian.Uint64(base))
	}
	return m
}

func (m *addLE64Merger) add(delta []byte) error {
	if len(delta) < 8 {
		var buf [8]byte
		copy(buf[:], delta)
		delta = buf[:]
	}
	m.sum += int64(binary.LittleEndian.Uint64(delta))
	return nil
}

func (m *addLE64Merger) MergeNewer(value []byte) error { return m.add(value) }
func (m *addLE64Merger) MergeOlder(value []byte) error { return m.add(value) }

func (m *addLE64Merger) Finish(includesBase bool) ([]byte, io.Closer, error) {
	out := make([]byte, 8)
	binary.LittleEndian.PutUint64(out, uint64(m.sum))
	return out, nil, nil
}

// NewAddLE64Merger returns a pebble.Merger that accumulates ADD_LE64 deltas.
// Install it via Options.PebbleOptions.Merger before Open.
func NewAddLE64Merger() *pebble.Merger {
	return &pebble.Merger{
		Name: AddLE64MergerName,
		Merge: func(key, value []byte) (pebble.ValueMerger, error) {
			m := newAddLE64Merger(nil)
			if err := m.add(value); err != nil {
				return nil, err
			}
			return m, nil
		},
	}
}
