package compactor

import (
	"path/filepath"
	"testing"

	"github.com/ironbase/ironbase/internal/btree"
	"github.com/ironbase/ironbase/internal/storage"
)

func TestCompactRemovesGarbageAndTombstones(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.ironbase")

	f, err := storage.OpenFile(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	cat := storage.NewCatalog()

	// Insert 4 docs, then update doc 2 (leaving garbage) and delete doc 3
	// (leaving a tombstone), so the live set is {1, 2-updated, 4}.
	for i := int64(1); i <= 4; i++ {
		doc := storage.Document{"_id": storage.Int(i), "v": storage.Int(i * 10)}
		off, err := f.AppendDocument(doc, false)
		if err != nil {
			t.Fatal(err)
		}
		cat.Put(i, off)
	}
	updated := storage.Document{"_id": storage.Int(2), "v": storage.Int(999)}
	off, err := f.AppendDocument(updated, false)
	if err != nil {
		t.Fatal(err)
	}
	cat.Retarget(2, off)

	if _, err := f.AppendDocument(storage.Document{"_id": storage.Int(3)}, true); err != nil {
		t.Fatal(err)
	}
	cat.Remove(3)

	idxPath := filepath.Join(dir, "test_widgets_v.idx")
	idx, _, err := btree.Open(idxPath, false)
	if err != nil {
		t.Fatal(err)
	}
	if idx == nil {
		idx = &btree.Index{Path: idxPath, Unique: false, Tree: btree.New(false)}
	}
	cat.Iter(func(id, offset int64) bool {
		doc, _, err := f.ReadRecordAt(offset)
		if err != nil {
			t.Fatal(err)
		}
		v, _ := storage.GetPath(doc, "v")
		idx.Tree.Insert(btree.EncodeKey(v), id)
		return true
	})

	// Give the old file a trailer, as a checkpoint would, so both files carry
	// one and the size comparison below measures the reclaimed records.
	if err := f.WriteTrailer([]storage.CollectionMeta{{
		Name:          "widgets",
		DocumentCount: cat.Len(),
		Catalog:       cat.Snapshot(),
	}}); err != nil {
		t.Fatal(err)
	}
	sizeBefore, _ := f.Size()

	stats, err := Compact(f, []Collection{{
		Name:    "widgets",
		Catalog: cat,
		Indexes: []Index{{Idx: idx, KeyPath: []string{"v"}}},
	}}, 0)
	if err != nil {
		t.Fatal(err)
	}

	if stats.DocumentsScanned != 6 {
		t.Errorf("expected 6 records scanned (4 inserts + 1 update + 1 tombstone), got %d", stats.DocumentsScanned)
	}
	if stats.DocumentsKept != 3 {
		t.Errorf("expected 3 live documents kept, got %d", stats.DocumentsKept)
	}
	if stats.TombstonesRemoved != 1 {
		t.Errorf("expected 1 tombstone removed, got %d", stats.TombstonesRemoved)
	}
	if cat.Len() != 3 {
		t.Errorf("expected catalog to report 3 documents after compaction, got %d", cat.Len())
	}
	if stats.SizeAfter >= sizeBefore {
		t.Errorf("expected compacted file to shrink: before=%d after=%d", sizeBefore, stats.SizeAfter)
	}

	off2, ok := cat.Lookup(2)
	if !ok {
		t.Fatal("expected doc 2 to still be live after compaction")
	}
	// Compact renames the new file over the old path; f still reads the
	// replaced file, so read the compacted offset through a fresh handle.
	nf, err := storage.OpenFile(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer nf.Close()
	doc2, _, err := nf.ReadRecordAt(off2)
	if err != nil {
		t.Fatal(err)
	}
	if doc2["v"].Int() != 999 {
		t.Errorf("expected doc 2's updated value 999 to survive compaction, got %v", doc2["v"].Int())
	}

	if _, ok := cat.Lookup(3); ok {
		t.Errorf("expected deleted doc 3 to be absent after compaction")
	}

	ids := idx.Tree.Lookup(btree.EncodeKey(storage.Int(999)))
	if len(ids) != 1 || ids[0] != 2 {
		t.Errorf("expected regenerated index to resolve v=999 to doc 2, got %v", ids)
	}
}
