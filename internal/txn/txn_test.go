package txn

import (
	"path/filepath"
	"testing"

	"github.com/ironbase/ironbase/internal/storage"
	"github.com/ironbase/ironbase/internal/wal"
)

type fakeApplier struct {
	inserted []storage.Document
	updated  []int64
	deleted  []int64
}

func (f *fakeApplier) ApplyInsert(collection string, doc storage.Document) error {
	f.inserted = append(f.inserted, doc)
	return nil
}

func (f *fakeApplier) ApplyUpdate(collection string, id int64, ops map[string]interface{}) (bool, error) {
	f.updated = append(f.updated, id)
	return true, nil
}

func (f *fakeApplier) ApplyDelete(collection string, id int64) (bool, error) {
	f.deleted = append(f.deleted, id)
	return true, nil
}

func openTestWAL(t *testing.T) *wal.WAL {
	t.Helper()
	w, err := wal.Open(filepath.Join(t.TempDir(), "test.wal"))
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func TestCommitAppliesBufferedOpsInOrder(t *testing.T) {
	w := openTestWAL(t)
	defer w.Close()
	m := NewManager(w, Safe, nil)

	tx, err := m.Begin()
	if err != nil {
		t.Fatal(err)
	}
	doc := storage.Document{"_id": storage.Int(1), "x": storage.Int(1)}
	if err := m.AddInsert(tx, "widgets", doc); err != nil {
		t.Fatal(err)
	}
	if err := m.AddUpdate(tx, "widgets", 1, map[string]interface{}{"$set": map[string]interface{}{"x": 2}}); err != nil {
		t.Fatal(err)
	}

	app := &fakeApplier{}
	if err := m.Commit(tx, app); err != nil {
		t.Fatal(err)
	}
	if len(app.inserted) != 1 || len(app.updated) != 1 {
		t.Fatalf("expected 1 insert and 1 update applied, got %d/%d", len(app.inserted), len(app.updated))
	}
}

func TestRollbackDiscardsOpsAndLeavesNoCommitMarker(t *testing.T) {
	w := openTestWAL(t)
	defer w.Close()
	m := NewManager(w, Safe, nil)

	tx, err := m.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if err := m.AddInsert(tx, "widgets", storage.Document{"_id": storage.Int(1)}); err != nil {
		t.Fatal(err)
	}
	if err := m.Rollback(tx); err != nil {
		t.Fatal(err)
	}

	records, err := w.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	for _, rec := range records {
		if rec.Type == wal.RecCommitTxn {
			t.Fatalf("rollback must never leave a CommitTxn frame")
		}
	}
}

func TestDoubleCommitFailsTransactionClosed(t *testing.T) {
	w := openTestWAL(t)
	defer w.Close()
	m := NewManager(w, Safe, nil)
	tx, _ := m.Begin()
	app := &fakeApplier{}
	if err := m.Commit(tx, app); err != nil {
		t.Fatal(err)
	}
	if err := m.Commit(tx, app); err == nil {
		t.Fatalf("expected error committing an already-committed transaction")
	}
}

func TestUnknownTxIDFailsTransactionNotFound(t *testing.T) {
	w := openTestWAL(t)
	defer w.Close()
	m := NewManager(w, Safe, nil)
	if _, err := m.Get(999); err == nil {
		t.Fatalf("expected error for unknown transaction id")
	}
}

func TestReplayAppliesOnlyCommittedGroups(t *testing.T) {
	w := openTestWAL(t)
	defer w.Close()
	m := NewManager(w, Safe, nil)

	committed, _ := m.Begin()
	m.AddInsert(committed, "widgets", storage.Document{"_id": storage.Int(1)})
	if err := m.Commit(committed, &fakeApplier{}); err != nil {
		t.Fatal(err)
	}

	abandoned, _ := m.Begin()
	m.AddInsert(abandoned, "widgets", storage.Document{"_id": storage.Int(2)})
	// no commit: simulates a crash before CommitTxn was appended

	app := &fakeApplier{}
	n, err := wal.Replay(w, ReplayApply(app))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || len(app.inserted) != 1 {
		t.Fatalf("expected exactly 1 replayed insert (the committed one), got applied=%d count=%d", n, len(app.inserted))
	}
	if app.inserted[0]["_id"].Int() != 1 {
		t.Fatalf("expected replayed doc to be the committed one, got %v", app.inserted[0]["_id"].Int())
	}
}
