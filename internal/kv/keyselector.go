package kv

// KeySelector describes a key resolved relative to a reference key, per the
// KV contract's get_key(selector, snapshot): at least LastLessOrEqual and
// FirstGreaterOrEqual must be supported.
type KeySelector struct {
	key      []byte
	orEqual  bool
	forward  bool // true: first key >= key (possibly > if !orEqual); false: last key <= key
	snapshot bool
}

// LastLessOrEqual selects the greatest key whose bytes are <= key.
func LastLessOrEqual(key []byte) KeySelector {
	return KeySelector{key: key, orEqual: true, forward: false}
}

// FirstGreaterOrEqual selects the least key whose bytes are >= key.
func FirstGreaterOrEqual(key []byte) KeySelector {
	return KeySelector{key: key, orEqual: true, forward: true}
}

// Snapshot returns a copy of the selector that resolves without adding a
// read-conflict range, per get_key's snapshot parameter. Use this for
// probes whose only purpose is to pick a likely key, where a transactional
// conflict range over the scanned span would cause unrelated concurrent
// transactions to conflict with each other.
func (s KeySelector) Snapshot() KeySelector {
	s.snapshot = true
	return s
}
