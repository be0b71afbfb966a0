package ironbase

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/klauspost/compress/zstd"

	"github.com/ironbase/ironbase/internal/btree"
	"github.com/ironbase/ironbase/internal/compactor"
	"github.com/ironbase/ironbase/internal/log"
	"github.com/ironbase/ironbase/internal/storage"
	"github.com/ironbase/ironbase/internal/txn"
	"github.com/ironbase/ironbase/internal/update"
	"github.com/ironbase/ironbase/internal/util"
	"github.com/ironbase/ironbase/internal/wal"
)

// indexEntry pairs a live btree.Index with the descriptor fields the
// metadata trailer persists alongside it.
type indexEntry struct {
	name    string
	idx     *btree.Index
	keyPath []string
	unique  bool
}

// collectionState is one collection's live in-memory state: the document
// catalog, its secondary indexes, the next auto-assigned _id, and an
// optional compiled validation schema.
type collectionState struct {
	name    string
	catalog *storage.Catalog
	lastID  int64
	indexes map[string]*indexEntry
	schema  *compiledSchema
}

// Database is one open handle on an IronBase file. A handle owns its
// primary file, WAL, and index files exclusively for its lifetime (spec
// §5); nothing here is safe for concurrent use by more than one goroutine
// at a time, matching the single-threaded cooperative scheduling model.
type Database struct {
	mu sync.Mutex

	path string
	opts Options

	file      *storage.File
	wal       *wal.WAL
	committer *wal.BatchCommitter
	txMgr     *txn.Manager

	cols map[string]*collectionState

	queryCache  *queryCache
	recordCache *recordCache

	// applyStats counts modifications made by the single commit currently in
	// flight, read back by Collection's *Many/*One methods right after
	// Commit returns. Safe only because the concurrency model guarantees at
	// most one commit is ever in flight on a handle (spec §5).
	applyStats struct {
		modified int
		deleted  int
	}

	lockFile *os.File
	closed   bool
}

func (db *Database) resetApplyStats() {
	db.applyStats.modified = 0
	db.applyStats.deleted = 0
}

// commitSingleOp runs fn (which should buffer exactly one op on a fresh
// transaction) and commits it, rolling back on error.
func (db *Database) commitSingleOp(fn func(t *txn.Tx) error) error {
	t, err := db.txMgr.Begin()
	if err != nil {
		return err
	}
	if err := fn(t); err != nil {
		db.txMgr.Rollback(t)
		return err
	}
	fireHook(HookAfterWALAppend)
	if err := db.txMgr.Commit(t, db); err != nil {
		return err
	}
	fireHook(HookAfterWALCommitSync)
	return nil
}

// indexFilePath follows the spec's "<path>_<col>_<idx>.idx" naming.
func indexFilePath(dbPath, collection, indexName string) string {
	return fmt.Sprintf("%s_%s_%s.idx", dbPath, collection, indexName)
}

// Open opens or creates the database file at path under opts. A second Open
// of the same path (from this process or another) fails with ErrAlreadyOpen.
func Open(path string, opts Options) (*Database, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}

	lockFile, err := acquireLock(path + ".lock")
	if err != nil {
		return nil, err
	}

	cleanStaleCompaction(path)

	file, err := storage.OpenFile(path)
	if err != nil {
		releaseLock(lockFile)
		return nil, err
	}

	w, err := wal.Open(path + ".wal")
	if err != nil {
		file.Close()
		releaseLock(lockFile)
		return nil, err
	}

	db := &Database{
		path:     path,
		opts:     opts,
		file:     file,
		wal:      w,
		cols:     make(map[string]*collectionState),
		lockFile: lockFile,
	}

	if Durability(opts.Durability) == Batch {
		db.committer = wal.NewBatchCommitter(w, opts.BatchSize)
	}
	db.txMgr = txn.NewManager(w, txn.Mode(opts.Durability), db.committer)

	if opts.QueryCacheSize > 0 {
		db.queryCache = newQueryCache(opts.QueryCacheSize)
	}
	if opts.RecordCacheSize > 0 {
		db.recordCache = newRecordCache(opts.RecordCacheSize)
	}

	if err := db.loadFromTrailer(); err != nil {
		db.teardown()
		return nil, err
	}

	applied, err := wal.Replay(w, txn.ReplayApply(db))
	if err != nil {
		db.teardown()
		return nil, err
	}
	if applied > 0 {
		log.Info("open %s: replayed %d committed wal operations", path, applied)
	}

	return db, nil
}

func (db *Database) teardown() {
	db.file.Close()
	db.wal.Close()
	releaseLock(db.lockFile)
}

// loadFromTrailer rebuilds every collectionState from the primary file's
// metadata trailer, or leaves db.cols empty if the file has none yet (a
// brand-new database).
func (db *Database) loadFromTrailer() error {
	metas, ok, err := db.file.ReadTrailer()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	for _, meta := range metas {
		cs := &collectionState{
			name:    meta.Name,
			catalog: storage.NewCatalog(),
			lastID:  meta.LastID,
			indexes: make(map[string]*indexEntry),
		}
		cs.catalog.LoadSnapshot(meta.Catalog)
		db.cols[meta.Name] = cs

		for _, im := range meta.Indexes {
			idx, found, err := btree.Open(im.FilePath, im.Unique)
			if err != nil {
				return err
			}
			if !found {
				idx = &btree.Index{Path: im.FilePath, Unique: im.Unique}
				if err := idx.Rebuild(db.catalogPairs(cs, im.KeyPath)); err != nil {
					return err
				}
				if err := idx.StageAndFinalize(); err != nil {
					return err
				}
				log.Warn("index %s missing or unreadable; rebuilt from catalog (%d entries)", im.Name, idx.Tree.Count())
			}
			cs.indexes[im.Name] = &indexEntry{name: im.Name, idx: idx, keyPath: im.KeyPath, unique: im.Unique}
		}
	}
	return nil
}

// catalogPairs adapts a collection's (catalog, primary file) pair into the
// yield-style iterator btree.Index.Rebuild expects, extracting keyPath from
// every live document it finds.
func (db *Database) catalogPairs(cs *collectionState, keyPath []string) func(yield func(key []byte, docID int64) bool) {
	return func(yield func(key []byte, docID int64) bool) {
		stop := false
		cs.catalog.Iter(func(id int64, offset int64) bool {
			if stop {
				return false
			}
			doc, tomb, err := db.file.ReadRecordAt(offset)
			if err != nil || tomb {
				return true
			}
			key, ok := compactor.IndexKey(doc, keyPath)
			if !ok {
				return true
			}
			if !yield(key, id) {
				stop = true
				return false
			}
			return true
		})
	}
}

// Close flushes and releases every resource the handle owns. Close always
// checkpoints first so a clean shutdown leaves nothing for the next open to
// replay.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	if err := db.checkpointLocked(); err != nil {
		return err
	}
	db.closed = true

	var firstErr error
	if err := db.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := db.wal.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	releaseLock(db.lockFile)
	return firstErr
}

// Checkpoint forces a full flush: every collection's metadata (including
// index descriptors) is written to the trailer, the primary file is
// fsynced, and the WAL is truncated. Valid in every durability mode.
func (db *Database) Checkpoint() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.checkpointLocked()
}

func (db *Database) checkpointLocked() error {
	metas := make([]storage.CollectionMeta, 0, len(db.cols))
	for name, cs := range db.cols {
		indexMetas := make([]storage.IndexMeta, 0, len(cs.indexes))
		for _, ie := range cs.indexes {
			indexMetas = append(indexMetas, storage.IndexMeta{
				Name:       ie.name,
				KeyPath:    ie.keyPath,
				Unique:     ie.unique,
				FilePath:   ie.idx.Path,
				EntryCount: ie.idx.Tree.Count(),
			})
		}
		metas = append(metas, storage.CollectionMeta{
			Name:          name,
			LastID:        cs.lastID,
			DocumentCount: cs.catalog.Len(),
			Catalog:       cs.catalog.Snapshot(),
			Indexes:       indexMetas,
		})
	}

	if err := db.file.WriteTrailer(metas); err != nil {
		return err
	}
	fireHook(HookAfterCheckpointTrailer)

	if err := db.archiveWAL(); err != nil {
		return err
	}
	if err := db.wal.Truncate(); err != nil {
		return err
	}
	if db.committer != nil {
		return db.committer.Flush()
	}
	return nil
}

// archiveWAL appends the WAL's current (pre-truncate) contents to
// "<path>.wal.archive.zst" as one more zstd frame, a forensic retention
// supplement the spec does not require: zstd's frame format concatenates
// cleanly, so each checkpoint's slice of WAL history is independently
// decodable without reassembling prior frames.
func (db *Database) archiveWAL() error {
	size, err := db.wal.Size()
	if err != nil {
		return err
	}
	if size == 0 {
		return nil
	}
	records, err := db.wal.ReadAll()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	var raw []byte
	for _, rec := range records {
		raw = append(raw, wal.Encode(rec)...)
	}

	f, err := os.OpenFile(db.path+".wal.archive.zst", os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return util.Wrap(util.KindIoError, "open wal archive", err)
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f)
	if err != nil {
		return util.Wrap(util.KindIoError, "open zstd encoder", err)
	}
	if _, err := enc.Write(raw); err != nil {
		enc.Close()
		return util.Wrap(util.KindIoError, "write wal archive frame", err)
	}
	return enc.Close()
}

// Compact rewrites the primary file, discarding garbage and tombstones, and
// regenerates every index. No active transactions is a precondition; the
// caller (the one cooperative goroutine driving this handle) is responsible
// for that, same as every other Database method.
func (db *Database) Compact() (compactor.Stats, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	cols := make([]compactor.Collection, 0, len(db.cols))
	for name, cs := range db.cols {
		idxs := make([]compactor.Index, 0, len(cs.indexes))
		for _, ie := range cs.indexes {
			idxs = append(idxs, compactor.Index{Idx: ie.idx, KeyPath: ie.keyPath})
		}
		cols = append(cols, compactor.Collection{Name: name, Catalog: cs.catalog, Indexes: idxs})
	}

	stats, err := compactor.Compact(db.file, cols, db.opts.CompactionChunkDocs)
	if err != nil {
		return compactor.Stats{}, err
	}

	// Compact renames a fresh file over db.file's path without touching
	// db.file's open handle, which still points at the old (now-deleted)
	// inode; reopen so subsequent appends land in the compacted file.
	if err := db.file.Close(); err != nil {
		return stats, err
	}
	reopened, err := storage.OpenFile(db.path)
	if err != nil {
		return stats, err
	}
	db.file = reopened

	if err := db.wal.Truncate(); err != nil {
		return stats, err
	}
	if db.queryCache != nil {
		db.queryCache.invalidateAll()
	}
	if db.recordCache != nil {
		db.recordCache.invalidateAll()
	}
	return stats, nil
}

// ListCollections returns every collection name that has been created. A
// collection is created by its first Collection() reference, loaded from the
// metadata trailer, or created by WAL replay.
func (db *Database) ListCollections() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]string, 0, len(db.cols))
	for name := range db.cols {
		out = append(out, name)
	}
	return out
}

// DropCollection removes a collection's catalog and every index file it
// owns. It takes effect immediately and is not WAL-logged: like index
// creation, a crash between the call and the next
// checkpoint can resurrect the collection's prior trailer entry on replay.
func (db *Database) DropCollection(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	cs, ok := db.cols[name]
	if !ok {
		return util.ErrCollectionNotFound
	}
	for _, ie := range cs.indexes {
		if err := ie.idx.Remove(); err != nil {
			return err
		}
	}
	delete(db.cols, name)
	if db.queryCache != nil {
		db.queryCache.invalidateCollection(name)
	}
	return nil
}

// Collection returns a handle bound to this Database for collection-scoped
// operations, creating the collection's in-memory state on first reference.
func (db *Database) Collection(name string) *Collection {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.ensureCollectionLocked(name)
	return &Collection{db: db, name: name}
}

func (db *Database) ensureCollectionLocked(name string) *collectionState {
	cs, ok := db.cols[name]
	if !ok {
		cs = &collectionState{name: name, catalog: storage.NewCatalog(), indexes: make(map[string]*indexEntry)}
		db.cols[name] = cs
	}
	return cs
}

// Stats reports the diagnostic snapshot named in the spec's stats()
// operation: per-collection document counts plus primary/WAL file sizes.
func (db *Database) Stats() (map[string]interface{}, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	fileSize, err := db.file.Size()
	if err != nil {
		return nil, err
	}
	walSize, err := db.wal.Size()
	if err != nil {
		return nil, err
	}

	collections := make(map[string]interface{}, len(db.cols))
	for name, cs := range db.cols {
		indexCount := len(cs.indexes)
		collections[name] = map[string]interface{}{
			"document_count": cs.catalog.Len(),
			"index_count":    indexCount,
		}
	}

	return map[string]interface{}{
		"file_size_bytes": fileSize,
		"wal_size_bytes":  walSize,
		"collections":     collections,
	}, nil
}

// SetLogLevel sets the process-wide log level (spec §6: "Log level is a
// process-wide setting").
func SetLogLevel(level string) error {
	l, ok := log.ParseLevel(level)
	if !ok {
		return util.Wrap(util.KindInvalidArgument, fmt.Sprintf("unknown log level %q", level), nil)
	}
	log.SetLevel(l)
	return nil
}

// --- Transaction coordinator surface (spec §4.8, §6) ---

// Tx identifies an in-flight transaction returned by BeginTransaction.
type Tx struct {
	id uint64
}

// BeginTransaction starts a new transaction spanning any number of
// collections.
func (db *Database) BeginTransaction() (*Tx, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, err := db.txMgr.Begin()
	if err != nil {
		return nil, err
	}
	return &Tx{id: t.ID}, nil
}

// CommitTransaction durably commits every buffered operation in tx.
func (db *Database) CommitTransaction(tx *Tx) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, err := db.txMgr.Get(tx.id)
	if err != nil {
		return err
	}
	if err := db.txMgr.Commit(t, db); err != nil {
		return err
	}
	fireHook(HookAfterWALCommitSync)
	return nil
}

// RollbackTransaction discards tx's buffered operations.
func (db *Database) RollbackTransaction(tx *Tx) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, err := db.txMgr.Get(tx.id)
	if err != nil {
		return err
	}
	return db.txMgr.Rollback(t)
}

// InsertOneTx buffers an insert within tx, assigning _id up front (the WAL
// frame for this op must carry the final document).
func (db *Database) InsertOneTx(tx *Tx, collection string, doc map[string]interface{}) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, err := db.txMgr.Get(tx.id)
	if err != nil {
		return 0, err
	}
	sdoc, err := toStorageDoc(doc)
	if err != nil {
		return 0, err
	}
	cs := db.ensureCollectionLocked(collection)
	id := db.assignID(cs, sdoc)
	if cs.schema != nil {
		if err := cs.schema.validate(sdoc); err != nil {
			return 0, err
		}
	}
	if err := db.checkUniqueConflictsLocked(cs, sdoc, -1); err != nil {
		return 0, err
	}
	if err := db.txMgr.AddInsert(t, collection, sdoc); err != nil {
		return 0, err
	}
	return id, nil
}

// UpdateOneTx buffers an update-by-id within tx.
func (db *Database) UpdateOneTx(tx *Tx, collection string, id int64, ops map[string]interface{}) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, err := db.txMgr.Get(tx.id)
	if err != nil {
		return err
	}
	return db.txMgr.AddUpdate(t, collection, id, ops)
}

// DeleteOneTx buffers a delete-by-id within tx.
func (db *Database) DeleteOneTx(tx *Tx, collection string, id int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, err := db.txMgr.Get(tx.id)
	if err != nil {
		return err
	}
	return db.txMgr.AddDelete(t, collection, id)
}

// --- txn.Applier implementation: the only path that ever mutates the
// primary file, a catalog, or an index tree, whether driven by a live
// commit or by WAL replay at Open. ---

func (db *Database) ApplyInsert(collection string, doc storage.Document) error {
	cs := db.ensureCollectionLocked(collection)
	id, _ := storage.ID(doc)

	offset, err := db.file.AppendDocument(doc, false)
	if err != nil {
		return err
	}
	fireHook(HookAfterPrimaryAppend)

	cs.catalog.Put(id.Int(), offset)
	if id.Int() > cs.lastID {
		cs.lastID = id.Int()
	}
	if err := db.maintainIndexesForInsert(cs, doc, id.Int()); err != nil {
		return err
	}
	if db.queryCache != nil {
		db.queryCache.invalidateCollection(collection)
	}
	return nil
}

func (db *Database) ApplyUpdate(collection string, id int64, ops map[string]interface{}) (bool, error) {
	cs, ok := db.cols[collection]
	if !ok {
		return false, nil
	}
	offset, ok := cs.catalog.Lookup(id)
	if !ok {
		return false, nil
	}
	doc, tomb, err := db.readRecord(offset)
	if err != nil {
		return false, err
	}
	if tomb {
		return false, nil
	}

	before := doc.Clone()
	changed, err := update.Apply(doc, ops)
	if err != nil {
		return true, util.Wrap(util.KindInvalidArgument, "apply update", err)
	}
	if !changed {
		return true, nil
	}
	if cs.schema != nil {
		if err := cs.schema.validate(doc); err != nil {
			return true, err
		}
	}

	if err := db.checkUniqueConflictsLocked(cs, doc, id); err != nil {
		return true, err
	}

	newOffset, err := db.file.AppendDocument(doc, false)
	if err != nil {
		return true, err
	}
	fireHook(HookAfterPrimaryAppend)

	if err := db.maintainIndexesForUpdate(cs, before, doc, id); err != nil {
		return true, err
	}
	cs.catalog.Retarget(id, newOffset)
	db.applyStats.modified++
	if db.queryCache != nil {
		db.queryCache.invalidateCollection(collection)
	}
	return true, nil
}

func (db *Database) ApplyDelete(collection string, id int64) (bool, error) {
	cs, ok := db.cols[collection]
	if !ok {
		return false, nil
	}
	offset, ok := cs.catalog.Lookup(id)
	if !ok {
		return false, nil
	}
	doc, tomb, err := db.readRecord(offset)
	if err != nil {
		return false, err
	}
	if tomb {
		return false, nil
	}

	if _, err := db.file.AppendDocument(storage.Document{"_id": storage.Int(id)}, true); err != nil {
		return false, err
	}
	for _, ie := range cs.indexes {
		if key, ok := compactor.IndexKey(doc, ie.keyPath); ok {
			ie.idx.Tree.Remove(key, id)
			if err := ie.idx.StageAndFinalize(); err != nil {
				return false, err
			}
		}
	}
	cs.catalog.Remove(id)
	db.applyStats.deleted++
	if db.queryCache != nil {
		db.queryCache.invalidateCollection(collection)
	}
	return true, nil
}

// checkUniqueConflictsLocked pre-validates doc's unique-indexed fields
// before any WAL/index mutation takes place, so a conflict is reported
// without ever touching an index tree. excludeID is the document's own id
// for an update (so its own existing entry isn't mistaken for a conflict),
// or -1 for an insert.
func (db *Database) checkUniqueConflictsLocked(cs *collectionState, doc storage.Document, excludeID int64) error {
	for _, ie := range cs.indexes {
		if !ie.unique {
			continue
		}
		key, ok := compactor.IndexKey(doc, ie.keyPath)
		if !ok {
			continue
		}
		for _, existing := range ie.idx.Tree.Lookup(key) {
			if existing != excludeID {
				return util.ErrDuplicateKey
			}
		}
	}
	return nil
}

func (db *Database) maintainIndexesForInsert(cs *collectionState, doc storage.Document, id int64) error {
	for _, ie := range cs.indexes {
		key, ok := compactor.IndexKey(doc, ie.keyPath)
		if !ok {
			continue
		}
		if err := ie.idx.Tree.Insert(key, id); err != nil {
			return err
		}
		fireHook(HookBeforeIndexFinalize)
		if err := ie.idx.StageAndFinalize(); err != nil {
			return err
		}
	}
	return nil
}

func (db *Database) maintainIndexesForUpdate(cs *collectionState, before, after storage.Document, id int64) error {
	for _, ie := range cs.indexes {
		oldKey, oldOK := compactor.IndexKey(before, ie.keyPath)
		newKey, newOK := compactor.IndexKey(after, ie.keyPath)
		if oldOK && (!newOK || !bytesEqual(oldKey, newKey)) {
			ie.idx.Tree.Remove(oldKey, id)
		}
		if newOK && (!oldOK || !bytesEqual(oldKey, newKey)) {
			if err := ie.idx.Tree.Insert(newKey, id); err != nil {
				return err
			}
		}
		if err := ie.idx.StageAndFinalize(); err != nil {
			return err
		}
	}
	return nil
}

// readRecord serves a document either from the record cache or the primary
// file, caching fresh reads keyed by offset (an offset is never reused for
// a different document, so this cache never needs invalidation beyond
// eviction and the wholesale clear Compact performs).
func (db *Database) readRecord(offset int64) (storage.Document, bool, error) {
	if db.recordCache != nil {
		if doc, ok := db.recordCache.get(offset); ok {
			return doc.Clone(), false, nil
		}
	}
	doc, tomb, err := db.file.ReadRecordAt(offset)
	if err != nil {
		return nil, false, err
	}
	if !tomb && db.recordCache != nil {
		db.recordCache.put(offset, doc.Clone())
	}
	return doc, tomb, nil
}

func (db *Database) assignID(cs *collectionState, doc storage.Document) int64 {
	if id, ok := storage.ID(doc); ok && id.Kind() == storage.KindInt {
		if id.Int() > cs.lastID {
			cs.lastID = id.Int()
		}
		return id.Int()
	}
	cs.lastID++
	storage.SetID(doc, storage.Int(cs.lastID))
	return cs.lastID
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// --- advisory locking (spec §5: "advisory-lock the file on open and fail
// a second open with AlreadyOpen") ---

func acquireLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, util.Wrap(util.KindIoError, "open lock file", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, util.ErrAlreadyOpen
	}
	return f, nil
}

func releaseLock(f *os.File) {
	if f == nil {
		return
	}
	syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	f.Close()
}

// cleanStaleCompaction removes any "<path>.compact.tmp-<uuid>" staging file
// left by a process that died mid-compaction: the original file at path was
// never touched (the rename is the single point of no return), so these
// are safe to discard unconditionally.
func cleanStaleCompaction(path string) {
	matches, err := filepath.Glob(path + ".compact.tmp-*")
	if err != nil {
		return
	}
	for _, m := range matches {
		if rerr := os.Remove(m); rerr == nil {
			log.Info("removed stale compaction staging file %s", m)
		}
	}
}
