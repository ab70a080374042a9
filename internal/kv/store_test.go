package kv

import (
	"context"
	"testing"

	pebblestore "github.com/rzbill/taskbucket/internal/storage/pebble"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func TestSetGetCommit(t *testing.T) {
	s := openTestStore(t)

	err := DoTransact(context.Background(), s, func(tx *Transaction) error {
		tx.Set([]byte("k1"), []byte("v1"))
		return nil
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	err = DoTransact(context.Background(), s, func(tx *Transaction) error {
		v, ok, err := tx.Get([]byte("k1"))
		if err != nil {
			return err
		}
		if !ok || string(v) != "v1" {
			t.Fatalf("got %q ok=%v want v1", v, ok)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read txn: %v", err)
	}
}

func TestReadYourOwnWrites(t *testing.T) {
	s := openTestStore(t)
	err := DoTransact(context.Background(), s, func(tx *Transaction) error {
		tx.Set([]byte("k2"), []byte("a"))
		v, ok, err := tx.Get([]byte("k2"))
		if err != nil {
			return err
		}
		if !ok || string(v) != "a" {
			t.Fatalf("expected to read own uncommitted write, got %q ok=%v", v, ok)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("txn: %v", err)
	}
}

func TestConflictDetection(t *testing.T) {
	s := openTestStore(t)
	if err := DoTransact(context.Background(), s, func(tx *Transaction) error {
		tx.Set([]byte("k3"), []byte("init"))
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	txA := s.Begin()
	if _, _, err := txA.Get([]byte("k3")); err != nil {
		t.Fatalf("txA get: %v", err)
	}

	txB := s.Begin()
	txB.Set([]byte("k3"), []byte("fromB"))
	if err := txB.Commit(); err != nil {
		t.Fatalf("txB commit: %v", err)
	}

	txA.Set([]byte("k3"), []byte("fromA"))
	if err := txA.Commit(); err == nil {
		t.Fatalf("expected conflict, txA committed cleanly")
	} else if err != ErrConflict {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestAtomicAddAccumulates(t *testing.T) {
	s := openTestStore(t)
	key := []byte("counter")

	for i := 0; i < 5; i++ {
		err := DoTransact(context.Background(), s, func(tx *Transaction) error {
			tx.AtomicAddLE64(key, 1)
			return nil
		})
		if err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	err := DoTransact(context.Background(), s, func(tx *Transaction) error {
		v, ok, err := tx.Get(key)
		if err != nil {
			return err
		}
		if !ok {
			t.Fatalf("expected counter to exist")
		}
		if decodeLE64(v) != 5 {
			t.Fatalf("got %d want 5", decodeLE64(v))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
}

func TestWatchFiresOnChange(t *testing.T) {
	s := openTestStore(t)
	key := []byte("watched")
	ch := s.Watch(key)

	if err := DoTransact(context.Background(), s, func(tx *Transaction) error {
		tx.Set(key, []byte("v"))
		return nil
	}); err != nil {
		t.Fatalf("set: %v", err)
	}

	select {
	case <-ch:
	default:
		t.Fatalf("expected watch channel to be closed after commit")
	}
}

func TestClearRangeRemovesRows(t *testing.T) {
	s := openTestStore(t)
	if err := DoTransact(context.Background(), s, func(tx *Transaction) error {
		tx.Set([]byte("r/1"), []byte("a"))
		tx.Set([]byte("r/2"), []byte("b"))
		tx.Set([]byte("r/3"), []byte("c"))
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := DoTransact(context.Background(), s, func(tx *Transaction) error {
		tx.ClearRange([]byte("r/1"), []byte("r/3"))
		return nil
	}); err != nil {
		t.Fatalf("clear: %v", err)
	}

	err := DoTransact(context.Background(), s, func(tx *Transaction) error {
		rows, _, err := tx.GetRange([]byte("r/"), []byte("r0"), 0)
		if err != nil {
			return err
		}
		if len(rows) != 1 || string(rows[0].Key) != "r/3" {
			t.Fatalf("expected only r/3 to remain, got %+v", rows)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
}
