package storage

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/ironbase/ironbase/internal/util"
)

// Binary value codec, grounded on the teacher's internal/wal/record.go
// manual binary.LittleEndian framing and Felmond13-novusdb's
// Document.Encode field layout, adapted to the tagged Value model in
// value.go. Every document record on disk is [u32 length][encoded value],
// per the primary store format.

// EncodeValue appends the binary encoding of v to buf and returns it.
func EncodeValue(buf []byte, v Value) []byte {
	buf = append(buf, byte(v.kind))
	switch v.kind {
	case KindNull:
		// no payload
	case KindBool:
		if v.b {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case KindInt:
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], uint64(v.i))
		buf = append(buf, tmp[:]...)
	case KindFloat:
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(v.f))
		buf = append(buf, tmp[:]...)
	case KindString:
		buf = appendLenBytes(buf, []byte(v.s))
	case KindArray:
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], uint32(len(v.arr)))
		buf = append(buf, tmp[:]...)
		for _, e := range v.arr {
			buf = EncodeValue(buf, e)
		}
	case KindMap:
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], uint32(len(v.m)))
		buf = append(buf, tmp[:]...)
		// Map iteration order is unspecified (Go spec); sort keys so the
		// encoding is canonical (same map always yields the same bytes),
		// mirroring Compare's key-sorting in value.go. Every byte-equality
		// path in the engine (modified_count, $group dedup, distinct())
		// depends on this.
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			buf = appendLenBytes(buf, []byte(k))
			buf = EncodeValue(buf, v.m[k])
		}
	}
	return buf
}

func appendLenBytes(buf []byte, b []byte) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(len(b)))
	buf = append(buf, tmp[:]...)
	return append(buf, b...)
}

// DecodeValue reads one Value from buf starting at offset, returning the
// value and the offset just past it.
func DecodeValue(buf []byte, off int) (Value, int, error) {
	if off >= len(buf) {
		return Value{}, off, util.Wrap(util.KindCorruptRecord, "truncated value tag", nil)
	}
	kind := Kind(buf[off])
	off++
	switch kind {
	case KindNull:
		return Null(), off, nil
	case KindBool:
		if off >= len(buf) {
			return Value{}, off, util.Wrap(util.KindCorruptRecord, "truncated bool", nil)
		}
		return Bool(buf[off] != 0), off + 1, nil
	case KindInt:
		if off+8 > len(buf) {
			return Value{}, off, util.Wrap(util.KindCorruptRecord, "truncated int", nil)
		}
		return Int(int64(binary.LittleEndian.Uint64(buf[off : off+8]))), off + 8, nil
	case KindFloat:
		if off+8 > len(buf) {
			return Value{}, off, util.Wrap(util.KindCorruptRecord, "truncated float", nil)
		}
		return Float(math.Float64frombits(binary.LittleEndian.Uint64(buf[off : off+8]))), off + 8, nil
	case KindString:
		s, next, err := readLenBytes(buf, off)
		if err != nil {
			return Value{}, off, err
		}
		return Str(string(s)), next, nil
	case KindArray:
		if off+4 > len(buf) {
			return Value{}, off, util.Wrap(util.KindCorruptRecord, "truncated array length", nil)
		}
		n := int(binary.LittleEndian.Uint32(buf[off : off+4]))
		off += 4
		arr := make([]Value, n)
		for i := 0; i < n; i++ {
			var v Value
			var err error
			v, off, err = DecodeValue(buf, off)
			if err != nil {
				return Value{}, off, err
			}
			arr[i] = v
		}
		return Arr(arr), off, nil
	case KindMap:
		if off+4 > len(buf) {
			return Value{}, off, util.Wrap(util.KindCorruptRecord, "truncated map length", nil)
		}
		n := int(binary.LittleEndian.Uint32(buf[off : off+4]))
		off += 4
		m := make(Document, n)
		for i := 0; i < n; i++ {
			var kb []byte
			var err error
			kb, off, err = readLenBytes(buf, off)
			if err != nil {
				return Value{}, off, err
			}
			var v Value
			v, off, err = DecodeValue(buf, off)
			if err != nil {
				return Value{}, off, err
			}
			m[string(kb)] = v
		}
		return Map(m), off, nil
	default:
		return Value{}, off, util.Wrap(util.KindCorruptRecord, fmt.Sprintf("unknown value kind %d", kind), nil)
	}
}

func readLenBytes(buf []byte, off int) ([]byte, int, error) {
	if off+4 > len(buf) {
		return nil, off, util.Wrap(util.KindCorruptRecord, "truncated length prefix", nil)
	}
	n := int(binary.LittleEndian.Uint32(buf[off : off+4]))
	off += 4
	if n < 0 || off+n > len(buf) {
		return nil, off, util.Wrap(util.KindCorruptRecord, "truncated bytes", nil)
	}
	return buf[off : off+n], off + n, nil
}

// EncodeDocument serializes a document to its binary form (no outer length
// prefix; that prefix is added by the primary store record writer).
func EncodeDocument(d Document) []byte {
	return EncodeValue(nil, Map(d))
}

// DecodeDocument deserializes a document from its binary form.
func DecodeDocument(buf []byte) (Document, error) {
	v, off, err := DecodeValue(buf, 0)
	if err != nil {
		return nil, err
	}
	if off != len(buf) {
		return nil, util.Wrap(util.KindCorruptRecord, "trailing bytes after document", nil)
	}
	if v.kind != KindMap {
		return nil, util.Wrap(util.KindCorruptRecord, "top-level value is not a document", nil)
	}
	return v.m, nil
}
