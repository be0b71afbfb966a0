package ironbase

import (
	"path/filepath"
	"testing"
)

func mustOpen(t *testing.T, path string) *Database {
	t.Helper()
	db, err := Open(path, DefaultOptions())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return db
}

// crashAt installs a test hook that panics the first time point fires, runs
// op (expected to panic partway through), recovers, and releases the
// handle's advisory lock so a fresh Open of the same path can immediately
// follow — simulating a process that died at exactly that injection point
// without ever reaching Close/checkpoint.
func crashAt(t *testing.T, db *Database, point string, op func()) {
	t.Helper()
	fired := false
	SetTestHook(func(p string) {
		if p == point && !fired {
			fired = true
			panic("simulated crash at " + p)
		}
	})
	defer SetTestHook(nil)
	defer func() {
		recover()
		releaseLock(db.lockFile)
	}()
	op()
}

// TestCrashAfterWALCommitSync covers S1 (spec §8): a crash immediately after
// the commit marker has been appended and fsynced (durability's point of no
// return in Safe mode) must leave the operation fully present on reopen.
func TestCrashAfterWALCommitSync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crash_commit.db")
	db := mustOpen(t, path)

	events := db.Collection("events")
	crashAt(t, db, HookAfterWALCommitSync, func() {
		events.InsertOne(map[string]interface{}{"kind": "login"})
	})

	recovered := mustOpen(t, path)
	defer recovered.Close()

	n, err := recovered.Collection("events").CountDocuments(map[string]interface{}{})
	if err != nil {
		t.Fatalf("count_documents: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected the committed insert to survive the crash, got %d documents", n)
	}
}

// TestCrashAfterWALAppend covers the atomicity half of S3: a crash after an
// operation's WAL frame is appended but before its CommitTxn marker is
// logged must leave the operation entirely absent on reopen (spec §4.2
// replay step 2: "discard groups lacking a matching Commit").
func TestCrashAfterWALAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crash_append.db")
	db := mustOpen(t, path)

	events := db.Collection("events")
	crashAt(t, db, HookAfterWALAppend, func() {
		events.InsertOne(map[string]interface{}{"kind": "login"})
	})

	recovered := mustOpen(t, path)
	defer recovered.Close()

	n, err := recovered.Collection("events").CountDocuments(map[string]interface{}{})
	if err != nil {
		t.Fatalf("count_documents: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected the uncommitted insert to be discarded on replay, got %d documents", n)
	}
}

// TestCrashAfterPrimaryAppend covers S1/invariant 4 for a crash mid-apply: by
// the time ApplyInsert appends the record, CommitTxn has already been
// fsynced, so this operation is durable and replay must reconstruct it even
// though the crash interrupted catalog/index maintenance.
func TestCrashAfterPrimaryAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crash_primary.db")
	db := mustOpen(t, path)

	events := db.Collection("events")
	crashAt(t, db, HookAfterPrimaryAppend, func() {
		events.InsertOne(map[string]interface{}{"kind": "login"})
	})

	recovered := mustOpen(t, path)
	defer recovered.Close()

	n, err := recovered.Collection("events").CountDocuments(map[string]interface{}{})
	if err != nil {
		t.Fatalf("count_documents: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected the committed insert to be replayed, got %d documents", n)
	}
}

// TestCrashBeforeIndexFinalize covers spec §4.4's "if the index file is
// missing or unreadable, the index is rebuilt by scanning the catalog": a
// crash between staging an index mutation and promoting it over the live
// .idx file must still leave the index correct after reopen, either via a
// stray .tmp.prepare being discarded or via replay's own re-insert.
func TestCrashBeforeIndexFinalize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crash_index.db")
	db := mustOpen(t, path)

	accounts := db.Collection("accounts")
	if _, err := accounts.CreateIndex("email", true); err != nil {
		t.Fatalf("create_index: %v", err)
	}
	// Checkpoint so the index descriptor itself (as opposed to the document
	// this test crashes while inserting) is durable before the crash: index
	// creation isn't WAL-logged, only the documents indexed are, so without
	// this checkpoint the index descriptor would be lost on replay the same
	// way an uncheckpointed collection would be.
	if err := db.Checkpoint(); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}

	crashAt(t, db, HookBeforeIndexFinalize, func() {
		accounts.InsertOne(map[string]interface{}{"email": "a@example.com"})
	})

	recovered := mustOpen(t, path)
	defer recovered.Close()

	got, err := recovered.Collection("accounts").FindWithHint(
		map[string]interface{}{"email": "a@example.com"}, "email")
	if err != nil {
		t.Fatalf("find_with_hint: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected the indexed document to be findable via its index after recovery, got %d", len(got))
	}
}

// TestCrashAfterCheckpointTrailer covers checkpoint durability (spec §4.2
// "Checkpoint: flush in-memory catalog to the metadata trailer, fsync
// primary file, then truncate WAL"): a crash right after the trailer write
// must still leave a reopened database with every document checkpointed.
func TestCrashAfterCheckpointTrailer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crash_checkpoint.db")
	db := mustOpen(t, path)

	events := db.Collection("events")
	if _, err := events.InsertOne(map[string]interface{}{"kind": "login"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	crashAt(t, db, HookAfterCheckpointTrailer, func() {
		db.Checkpoint()
	})

	recovered := mustOpen(t, path)
	defer recovered.Close()

	n, err := recovered.Collection("events").CountDocuments(map[string]interface{}{})
	if err != nil {
		t.Fatalf("count_documents: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected the checkpointed insert to survive the crash, got %d documents", n)
	}
}
