// Package pebblestore provides a thin wrapper around Pebble with fsync policy,
// snapshots, batches, an ADD_LE64 merge operator, and minimal metrics hooks.
//
// Usage:
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: "./data",
//	    Fsync:   pebblestore.FsyncModeInterval,
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	// Atomic updates with batches
//	b := db.NewBatch()
//	_ = b.Set([]byte("k"), []byte("v"), nil)
//	_ = db.CommitBatch(context.Background(), b)
//	b.Close()
//
//	// Point ops
//	_ = db.Set([]byte("k2"), []byte("v2"))
//	v, _ := db.Get([]byte("k2"))
//
//	// Atomic counter increment, grounded on Pebble's custom merge operator
//	delta := make([]byte, 8)
//	binary.LittleEndian.PutUint64(delta, 1)
//	_ = db.Merge([]byte("task_count"), delta)
package pebblestore
