package kv

import (
	"bytes"
	"context"
	"sync"

	pebblestore "github.com/rzbill/taskbucket/internal/storage/pebble"
)

// byteRange is a half-open [begin, end) byte interval used for both read
// and write conflict tracking.
type byteRange struct {
	begin, end []byte
}

func (r byteRange) overlaps(o byteRange) bool {
	return bytes.Compare(r.begin, o.end) < 0 && bytes.Compare(o.begin, r.end) < 0
}

func keyRange(key []byte) byteRange {
	return byteRange{begin: key, end: KeyAfter(key)}
}

type historyEntry struct {
	version uint64
	writes  []byteRange
}

// maxHistory bounds the conflict-checking window so long-lived stores don't
// grow an unbounded history; transactions that stay open across more than
// this many intervening commits will simply see ErrConflict more readily.
const maxHistory = 200000

// Store hosts the optimistic transaction engine over a pebblestore.DB. A
// single mutex serializes commits, the same single-writer validation shape
// as a scheduler that checks a transaction's reads against everything
// committed since it started before applying its writes.
type Store struct {
	db *pebblestore.DB

	mu      sync.Mutex
	version uint64
	history []historyEntry

	watchMu  sync.Mutex
	watchers map[string]chan struct{}
}

// NewStore wraps db with the transaction engine.
func NewStore(db *pebblestore.DB) *Store {
	return &Store{
		db:       db,
		watchers: make(map[string]chan struct{}),
	}
}

// DB returns the underlying storage handle, for components (like admin
// introspection) that need raw access outside a transaction.
func (s *Store) DB() *pebblestore.DB { return s.db }

// ReadVersion returns the store's current committed version without
// opening a transaction.
func (s *Store) ReadVersion() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Begin opens a new Transaction against a consistent snapshot of the store
// at its current version.
func (s *Store) Begin() *Transaction {
	s.mu.Lock()
	rv := s.version
	snap := s.db.NewSnapshot()
	s.mu.Unlock()

	return &Transaction{
		store:       s,
		snapshot:    snap,
		readVersion: rv,
	}
}

// commit validates tx's read set against everything committed since
// tx.readVersion, then applies tx's writes atomically and advances the
// store version.
func (s *Store) commit(tx *Transaction) error {
	s.mu.Lock()

	// Commits older than the retained window can no longer be checked, so a
	// transaction whose snapshot predates the window is treated as conflicted.
	if len(s.history) > 0 && s.history[0].version > tx.readVersion+1 {
		s.mu.Unlock()
		return ErrConflict
	}

	for i := len(s.history) - 1; i >= 0; i-- {
		entry := s.history[i]
		if entry.version <= tx.readVersion {
			break
		}
		for _, w := range entry.writes {
			for _, r := range tx.reads {
				if w.overlaps(r) {
					s.mu.Unlock()
					return ErrConflict
				}
			}
		}
	}

	batch := s.db.NewBatch()
	for _, op := range tx.writes {
		var err error
		switch op.kind {
		case opSet:
			err = batch.Set(op.key, op.value, nil)
		case opClear:
			err = batch.Delete(op.key, nil)
		case opClearRange:
			err = batch.DeleteRange(op.begin, op.end, nil)
		case opMerge:
			err = batch.Merge(op.key, op.value, nil)
		}
		if err != nil {
			batch.Close()
			s.mu.Unlock()
			return err
		}
	}

	if err := s.db.CommitBatch(context.Background(), batch); err != nil {
		batch.Close()
		s.mu.Unlock()
		return err
	}
	batch.Close()

	s.version++
	newVersion := s.version
	s.history = append(s.history, historyEntry{version: newVersion, writes: tx.writeRanges()})
	if len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}
	s.mu.Unlock()

	s.notify(tx)
	return nil
}

// Watch returns a channel that closes the next time key's value changes.
// Callers should re-call Watch after it fires to keep watching, matching
// the store contract's one-shot watch(key) semantics.
func (s *Store) Watch(key []byte) <-chan struct{} {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	k := string(key)
	if ch, ok := s.watchers[k]; ok {
		return ch
	}
	ch := make(chan struct{})
	s.watchers[k] = ch
	return ch
}

func (s *Store) notify(tx *Transaction) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if len(s.watchers) == 0 {
		return
	}
	for k, ch := range s.watchers {
		key := []byte(k)
		for _, op := range tx.writes {
			var hit bool
			switch op.kind {
			case opSet, opClear, opMerge:
				hit = bytes.Equal(op.key, key)
			case opClearRange:
				hit = bytes.Compare(op.begin, key) <= 0 && bytes.Compare(key, op.end) < 0
			}
			if hit {
				close(ch)
				delete(s.watchers, k)
				break
			}
		}
	}
}
