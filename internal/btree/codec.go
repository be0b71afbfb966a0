package btree

import (
	"encoding/binary"

	"github.com/ironbase/ironbase/internal/util"
)

// Serialized index file layout: a flat sequence of leaf entries in ascending
// key order; node boundaries are not recorded, and Deserialize rebuilds the
// nodes by re-inserting every entry. The spec's two-phase update protocol operates at file-rename
// granularity ("write the new node(s) to *.idx.tmp.prepare... rename"), so
// this package always stages a full fresh file rather than patching
// individual 4 KiB pages in place: simpler, and no less correct, since the
// staged file is never observed by a reader until the final rename.
//
// File format: u32 magic | u8 unique | u32 entryCount | entries.
// Each entry: u32 keyLen | key bytes | i64 docID.
var fileMagic = [4]byte{'I', 'B', 'X', '1'}

// Serialize encodes the tree's entries (in ascending key order) to bytes.
func Serialize(t *Tree) []byte {
	all := t.All()
	buf := make([]byte, 0, 9+len(all)*16)
	buf = append(buf, fileMagic[:]...)
	if t.unique {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	var tmp4 [4]byte
	binary.LittleEndian.PutUint32(tmp4[:], uint32(len(all)))
	buf = append(buf, tmp4[:]...)
	for _, e := range all {
		binary.LittleEndian.PutUint32(tmp4[:], uint32(len(e.Key)))
		buf = append(buf, tmp4[:]...)
		buf = append(buf, e.Key...)
		var tmp8 [8]byte
		binary.LittleEndian.PutUint64(tmp8[:], uint64(e.DocID))
		buf = append(buf, tmp8[:]...)
	}
	return buf
}

// Deserialize rebuilds a Tree from bytes produced by Serialize, bulk
// loading entries via ordinary Insert calls (simple, and cheap at the
// entry counts this embedded engine targets).
func Deserialize(buf []byte) (*Tree, error) {
	if len(buf) < 9 || buf[0] != fileMagic[0] || buf[1] != fileMagic[1] || buf[2] != fileMagic[2] || buf[3] != fileMagic[3] {
		return nil, util.Wrap(util.KindCorruptIndex, "bad index file magic", nil)
	}
	unique := buf[4] != 0
	count := binary.LittleEndian.Uint32(buf[5:9])
	off := 9
	t := New(unique)
	for i := uint32(0); i < count; i++ {
		if off+4 > len(buf) {
			return nil, util.Wrap(util.KindCorruptIndex, "truncated index entry", nil)
		}
		klen := int(binary.LittleEndian.Uint32(buf[off : off+4]))
		off += 4
		if off+klen+8 > len(buf) {
			return nil, util.Wrap(util.KindCorruptIndex, "truncated index entry body", nil)
		}
		key := buf[off : off+klen]
		off += klen
		docID := int64(binary.LittleEndian.Uint64(buf[off : off+8]))
		off += 8
		if err := t.Insert(key, docID); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// PageCount estimates how many leaf pages of maxLeafEntries entries the
// tree's entries would fill. It is not written to the index file, and
// explain() does not use it.
func PageCount(t *Tree) int {
	n := t.Count()
	leaves := (n + maxLeafEntries - 1) / maxLeafEntries
	if leaves == 0 {
		leaves = 1
	}
	return leaves
}

// Height estimates the tree height from PageCount.
func Height(t *Tree) int {
	leaves := PageCount(t)
	h := 1
	for leaves > 1 {
		leaves = (leaves + maxInternalChildren - 1) / maxInternalChildren
		h++
	}
	return h
}
