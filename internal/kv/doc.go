// Package kv implements the KV-store contract TaskBucket is built on:
// ordered byte-string keys, serializable-snapshot transactions with
// conflict-retry, read versions, last-less-or-equal/first-greater-or-equal
// key selectors, an atomic ADD_LE64 counter operation, and watch(key)
// change notification. It is layered on top of
// internal/storage/pebble, which gives ordered iteration and atomic
// batches but no multi-key optimistic transactions of its own — those are
// built here with an explicit read/write conflict-range validation step at
// commit time, the same shape as a single-node optimistic scheduler that
// checks a transaction's reads against everything committed since it
// started before applying its writes.
//
// A byte-ordered tuple codec and Subspace helper live alongside the
// transaction engine: TaskBucket's keyspace layout depends on packing
// (priority, uid, param) tuples so that lexicographic key order matches
// tuple order.
package kv
