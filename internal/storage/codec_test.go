package storage

import (
	"bytes"
	"testing"
)

// TestEncodeValueRoundTrip covers the scalar/array/map kinds through
// EncodeValue/DecodeValue, mirroring wal_test.go's round-trip style.
func TestEncodeValueRoundTrip(t *testing.T) {
	v := Map(Document{
		"a": Int(1),
		"b": Str("hi"),
		"c": Arr([]Value{Bool(true), Null(), Float(1.5)}),
	})
	buf := EncodeValue(nil, v)
	got, next, err := DecodeValue(buf, 0)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if next != len(buf) {
		t.Fatalf("expected decode to consume the whole buffer, stopped at %d/%d", next, len(buf))
	}
	if Compare(got, v) != 0 {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, v)
	}
}

// TestEncodeValueMapIsCanonical guards against EncodeValue's KindMap case
// regressing to iterating the map directly: Go map iteration order is
// unspecified, so encoding the same unchanged multi-key document many times
// must always produce byte-identical output. Every byte-equality path in the
// engine (modified_count, $group dedup, Distinct()) depends on this.
func TestEncodeValueMapIsCanonical(t *testing.T) {
	doc := Document{
		"zebra":  Str("z"),
		"apple":  Int(1),
		"mango":  Float(2.5),
		"banana": Bool(true),
		"cherry": Null(),
		"fig":    Arr([]Value{Int(1), Int(2), Int(3)}),
		"nested": Map(Document{"x": Int(1), "y": Int(2), "z": Int(3)}),
		"grape":  Str("g"),
		"kiwi":   Str("k"),
		"lime":   Str("l"),
	}

	first := EncodeDocument(doc)
	for i := 0; i < 50; i++ {
		got := EncodeDocument(doc)
		if !bytes.Equal(first, got) {
			t.Fatalf("encoding #%d of an unchanged document differs from the first encoding: map iteration order leaked into the codec", i)
		}
	}
}

func TestEncodeValueMapSortsNestedKeysToo(t *testing.T) {
	doc := Document{
		"outer": Map(Document{
			"z": Int(1),
			"a": Int(2),
			"m": Int(3),
		}),
	}
	first := EncodeDocument(doc)
	for i := 0; i < 20; i++ {
		if !bytes.Equal(first, EncodeDocument(doc)) {
			t.Fatalf("nested map encoding #%d diverged from the first", i)
		}
	}
}
