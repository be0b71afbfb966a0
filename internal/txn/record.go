package txn

import (
	"encoding/binary"

	"github.com/ironbase/ironbase/internal/storage"
	"github.com/ironbase/ironbase/internal/util"
	"github.com/ironbase/ironbase/internal/wal"
)

// ReplayApply adapts an Applier into the wal.Apply callback wal.Replay calls
// for each committed data frame found on open, decoding the frame's payload
// by its record type.
func ReplayApply(applier Applier) wal.Apply {
	return func(rec wal.Record) error {
		switch rec.Type {
		case wal.RecInsert:
			collection, doc, err := decodeInsert(rec.Payload)
			if err != nil {
				return err
			}
			return applier.ApplyInsert(collection, doc)
		case wal.RecUpdate:
			collection, id, ops, err := decodeUpdate(rec.Payload)
			if err != nil {
				return err
			}
			_, err = applier.ApplyUpdate(collection, id, ops)
			return err
		case wal.RecDelete:
			collection, id, err := decodeDelete(rec.Payload)
			if err != nil {
				return err
			}
			_, err = applier.ApplyDelete(collection, id)
			return err
		default:
			return nil
		}
	}
}

// WAL payload layout for data-bearing frames: [u32 len][collection bytes]
// followed by an operation-specific tail. Insert's tail is an encoded
// document (internal/storage's codec); update's is [i64 id] followed by an
// encoded value carrying the operator map; delete's is just [i64 id].

func appendLenStr(buf []byte, s string) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(len(s)))
	buf = append(buf, tmp[:]...)
	return append(buf, s...)
}

func readLenStr(buf []byte, off int) (string, int, error) {
	if off+4 > len(buf) {
		return "", off, util.Wrap(util.KindCorruptWAL, "truncated string length", nil)
	}
	n := int(binary.LittleEndian.Uint32(buf[off : off+4]))
	off += 4
	if n < 0 || off+n > len(buf) {
		return "", off, util.Wrap(util.KindCorruptWAL, "truncated string bytes", nil)
	}
	return string(buf[off : off+n]), off + n, nil
}

func appendID(buf []byte, id int64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(id))
	return append(buf, tmp[:]...)
}

func readID(buf []byte, off int) (int64, int, error) {
	if off+8 > len(buf) {
		return 0, off, util.Wrap(util.KindCorruptWAL, "truncated id", nil)
	}
	return int64(binary.LittleEndian.Uint64(buf[off : off+8])), off + 8, nil
}

func encodeInsert(collection string, doc storage.Document) []byte {
	buf := appendLenStr(nil, collection)
	return storage.EncodeValue(buf, storage.Map(doc))
}

func decodeInsert(payload []byte) (collection string, doc storage.Document, err error) {
	collection, off, err := readLenStr(payload, 0)
	if err != nil {
		return "", nil, err
	}
	v, off, err := storage.DecodeValue(payload, off)
	if err != nil {
		return "", nil, err
	}
	if off != len(payload) {
		return "", nil, util.Wrap(util.KindCorruptWAL, "trailing bytes after insert payload", nil)
	}
	return collection, v.Map(), nil
}

func encodeUpdate(collection string, id int64, ops map[string]interface{}) ([]byte, error) {
	v, err := storage.FromAny(ops)
	if err != nil {
		return nil, err
	}
	buf := appendLenStr(nil, collection)
	buf = appendID(buf, id)
	return storage.EncodeValue(buf, v), nil
}

func decodeUpdate(payload []byte) (collection string, id int64, ops map[string]interface{}, err error) {
	collection, off, err := readLenStr(payload, 0)
	if err != nil {
		return "", 0, nil, err
	}
	id, off, err = readID(payload, off)
	if err != nil {
		return "", 0, nil, err
	}
	v, off, err := storage.DecodeValue(payload, off)
	if err != nil {
		return "", 0, nil, err
	}
	if off != len(payload) {
		return "", 0, nil, util.Wrap(util.KindCorruptWAL, "trailing bytes after update payload", nil)
	}
	return collection, id, storage.ToAny(v).(map[string]interface{}), nil
}

func encodeDelete(collection string, id int64) []byte {
	buf := appendLenStr(nil, collection)
	return appendID(buf, id)
}

func decodeDelete(payload []byte) (collection string, id int64, err error) {
	collection, off, err := readLenStr(payload, 0)
	if err != nil {
		return "", 0, err
	}
	id, _, err = readID(payload, off)
	if err != nil {
		return "", 0, err
	}
	return collection, id, nil
}
