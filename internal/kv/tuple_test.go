package kv

import (
	"bytes"
	"testing"
)

func TestPackIntOrdering(t *testing.T) {
	a := MustPack(Tuple{int64(-5)})
	b := MustPack(Tuple{int64(-1)})
	c := MustPack(Tuple{int64(0)})
	d := MustPack(Tuple{int64(7)})
	if bytes.Compare(a, b) >= 0 {
		t.Fatalf("expected -5 < -1")
	}
	if bytes.Compare(b, c) >= 0 {
		t.Fatalf("expected -1 < 0")
	}
	if bytes.Compare(c, d) >= 0 {
		t.Fatalf("expected 0 < 7")
	}
}

func TestPackTupleOrdering(t *testing.T) {
	a := MustPack(Tuple{int64(0), []byte("uid1"), []byte("type")})
	b := MustPack(Tuple{int64(0), []byte("uid2"), []byte("type")})
	c := MustPack(Tuple{int64(1), []byte("uid0"), []byte("type")})
	if bytes.Compare(a, b) >= 0 {
		t.Fatalf("expected uid1 < uid2 within priority 0")
	}
	if bytes.Compare(b, c) >= 0 {
		t.Fatalf("expected priority 0 < priority 1 regardless of uid")
	}
}

func TestPackUnpackRoundTrip(t *testing.T) {
	tup := Tuple{int64(-42), []byte("hello\x00world"), "a string", nil, int64(1 << 40)}
	packed, err := Pack(tup)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	got, err := Unpack(packed)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if len(got) != len(tup) {
		t.Fatalf("length mismatch: got %d want %d", len(got), len(tup))
	}
	if !bytes.Equal(got[1].([]byte), tup[1].([]byte)) {
		t.Fatalf("bytes element mismatch: got %q want %q", got[1], tup[1])
	}
	if got[2].(string) != tup[2].(string) {
		t.Fatalf("string element mismatch")
	}
	if got[0].(int64) != tup[0].(int64) {
		t.Fatalf("int element mismatch")
	}
	if got[3] != nil {
		t.Fatalf("nil element mismatch")
	}
}

func TestPackRejectsFloat(t *testing.T) {
	if _, err := Pack(Tuple{3.14}); err == nil {
		t.Fatalf("expected float rejection")
	}
}

func TestSubspaceRangeContainsPacked(t *testing.T) {
	sub := NewSubspace([]byte("avp/"))
	key, err := sub.Pack(Tuple{int64(0), []byte("uid"), []byte("type")})
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	begin, end := sub.Range()
	if bytes.Compare(key, begin) < 0 || bytes.Compare(key, end) >= 0 {
		t.Fatalf("packed key %x not within subspace range [%x, %x)", key, begin, end)
	}
}

func TestSubspacePrefixRangeIsolatesPriority(t *testing.T) {
	sub := NewSubspace([]byte("avp/"))
	keyP0, _ := sub.Pack(Tuple{int64(0), []byte("uid"), []byte("type")})
	keyP1, _ := sub.Pack(Tuple{int64(1), []byte("uid"), []byte("type")})

	begin, end, err := sub.PrefixRange(Tuple{int64(0)})
	if err != nil {
		t.Fatalf("prefix range: %v", err)
	}
	if bytes.Compare(keyP0, begin) < 0 || bytes.Compare(keyP0, end) >= 0 {
		t.Fatalf("priority 0 key not in its own prefix range")
	}
	if bytes.Compare(keyP1, begin) >= 0 && bytes.Compare(keyP1, end) < 0 {
		t.Fatalf("priority 1 key leaked into priority 0's prefix range")
	}
}
