package ironbase

import (
	"fmt"
	"strings"

	"github.com/ironbase/ironbase/internal/aggregate"
	"github.com/ironbase/ironbase/internal/btree"
	"github.com/ironbase/ironbase/internal/compactor"
	"github.com/ironbase/ironbase/internal/query"
	"github.com/ironbase/ironbase/internal/storage"
	"github.com/ironbase/ironbase/internal/txn"
	"github.com/ironbase/ironbase/internal/util"
)

// Collection is a handle bound to one named collection of db, returned by
// Database.Collection. It carries no state of its own beyond the name; all
// mutable state lives in the Database's collectionState map.
type Collection struct {
	db   *Database
	name string
}

// FindOptions configures find(): an ordered multi-key sort, skip/limit
// paging, and an inclusion/exclusion projection (spec §4.5, §6).
type FindOptions struct {
	Sort       []map[string]interface{}
	Skip       int
	Limit      int
	Projection map[string]interface{}
}

// toStorageDoc converts a plain Go document (the binding layer's input
// shape) into the engine's internal Document representation.
func toStorageDoc(doc map[string]interface{}) (storage.Document, error) {
	v, err := storage.FromAny(doc)
	if err != nil {
		return nil, err
	}
	return v.Map(), nil
}

func docToAny(d storage.Document) map[string]interface{} {
	return storage.ToAny(storage.Map(d)).(map[string]interface{})
}

func docsToAny(docs []storage.Document, projectionSpec map[string]interface{}) []map[string]interface{} {
	var proj *query.Projection
	if len(projectionSpec) > 0 {
		proj, _ = query.NewProjection(projectionSpec)
	}
	out := make([]map[string]interface{}, len(docs))
	for i, d := range docs {
		if proj != nil {
			d = proj.Apply(d)
		}
		out[i] = docToAny(d)
	}
	return out
}

// InsertOne inserts doc, assigning an auto _id unless doc already carries an
// integer one, and returns {acknowledged, inserted_id} per spec §6. A
// non-integer _id is replaced by an auto-assigned integer _id.
func (c *Collection) InsertOne(doc map[string]interface{}) (map[string]interface{}, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	cs := c.db.ensureCollectionLocked(c.name)

	sdoc, err := toStorageDoc(doc)
	if err != nil {
		return nil, err
	}
	id := c.db.assignID(cs, sdoc)
	if cs.schema != nil {
		if err := cs.schema.validate(sdoc); err != nil {
			return nil, err
		}
	}
	if err := c.db.checkUniqueConflictsLocked(cs, sdoc, -1); err != nil {
		return nil, err
	}
	if err := c.db.commitSingleOp(func(t *txn.Tx) error {
		return c.db.txMgr.AddInsert(t, c.name, sdoc)
	}); err != nil {
		return nil, err
	}
	return map[string]interface{}{"acknowledged": true, "inserted_id": id}, nil
}

// InsertMany inserts every doc as a single transaction (all-or-nothing: a
// schema or uniqueness failure on any document aborts the whole batch before
// anything is written) and returns {inserted_count, inserted_ids}.
func (c *Collection) InsertMany(docs []map[string]interface{}) (map[string]interface{}, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	cs := c.db.ensureCollectionLocked(c.name)

	sdocs := make([]storage.Document, len(docs))
	ids := make([]int64, len(docs))
	seenKeys := make(map[string]map[string]bool) // index name -> keys already staged this batch

	for i, d := range docs {
		sd, err := toStorageDoc(d)
		if err != nil {
			return nil, err
		}
		ids[i] = c.db.assignID(cs, sd)
		if cs.schema != nil {
			if err := cs.schema.validate(sd); err != nil {
				return nil, err
			}
		}
		for _, ie := range cs.indexes {
			if !ie.unique {
				continue
			}
			key, ok := compactor.IndexKey(sd, ie.keyPath)
			if !ok {
				continue
			}
			if seenKeys[ie.name] == nil {
				seenKeys[ie.name] = make(map[string]bool)
			}
			if seenKeys[ie.name][string(key)] {
				return nil, util.ErrDuplicateKey
			}
			seenKeys[ie.name][string(key)] = true
		}
		if err := c.db.checkUniqueConflictsLocked(cs, sd, -1); err != nil {
			return nil, err
		}
		sdocs[i] = sd
	}

	t, err := c.db.txMgr.Begin()
	if err != nil {
		return nil, err
	}
	for _, sd := range sdocs {
		if err := c.db.txMgr.AddInsert(t, c.name, sd); err != nil {
			c.db.txMgr.Rollback(t)
			return nil, err
		}
	}
	if err := c.db.txMgr.Commit(t, c.db); err != nil {
		return nil, err
	}
	fireHook(HookAfterWALCommitSync)

	insertedIDs := make([]interface{}, len(ids))
	for i, id := range ids {
		insertedIDs[i] = id
	}
	return map[string]interface{}{"inserted_count": len(ids), "inserted_ids": insertedIDs}, nil
}

// planCandidates reports the set of document ids the planner can resolve
// directly from an index, and which index it used, for filters whose
// top-level equalities cover one index's full key path (spec §4.5's index
// selection rule). usedIndex is false when no index prefix matches and the
// caller must fall back to a full catalog scan.
func (c *Collection) planCandidates(cs *collectionState, f query.Filter) (ids []int64, indexName string, usedIndex bool) {
	eqs := query.EqualityPrefix(f)
	if len(eqs) == 0 {
		return nil, "", false
	}
	for _, ie := range cs.indexes {
		vals := make([]storage.Value, len(ie.keyPath))
		ok := true
		for i, p := range ie.keyPath {
			v, present := eqs[p]
			if !present {
				ok = false
				break
			}
			vals[i] = v
		}
		if !ok {
			continue
		}
		var key []byte
		if len(vals) == 1 {
			key = btree.EncodeKey(vals[0])
		} else {
			key = btree.CompoundKey(vals)
		}
		return ie.idx.Tree.Lookup(key), ie.name, true
	}
	return nil, "", false
}

// scan resolves every live document matching f, using an index when the
// planner finds one, otherwise a full catalog scan.
func (c *Collection) scan(cs *collectionState, f query.Filter) ([]storage.Document, error) {
	ids, _, usedIndex := c.planCandidates(cs, f)
	var out []storage.Document
	if usedIndex {
		for _, id := range ids {
			offset, ok := cs.catalog.Lookup(id)
			if !ok {
				continue
			}
			doc, tomb, err := c.db.readRecord(offset)
			if err != nil {
				return nil, err
			}
			if !tomb && f.Match(doc) {
				out = append(out, doc)
			}
		}
		return out, nil
	}
	var scanErr error
	cs.catalog.Iter(func(id int64, offset int64) bool {
		doc, tomb, err := c.db.readRecord(offset)
		if err != nil {
			scanErr = err
			return false
		}
		if !tomb && f.Match(doc) {
			out = append(out, doc)
		}
		return true
	})
	return out, scanErr
}

// matchingIDs is scan's id-only counterpart, used by update_many/delete_many
// which mutate by id rather than by decoded document.
func (c *Collection) matchingIDs(cs *collectionState, f query.Filter) ([]int64, error) {
	ids, _, usedIndex := c.planCandidates(cs, f)
	var out []int64
	if usedIndex {
		for _, id := range ids {
			offset, ok := cs.catalog.Lookup(id)
			if !ok {
				continue
			}
			doc, tomb, err := c.db.readRecord(offset)
			if err != nil {
				return nil, err
			}
			if !tomb && f.Match(doc) {
				out = append(out, id)
			}
		}
		return out, nil
	}
	var scanErr error
	cs.catalog.Iter(func(id int64, offset int64) bool {
		doc, tomb, err := c.db.readRecord(offset)
		if err != nil {
			scanErr = err
			return false
		}
		if !tomb && f.Match(doc) {
			out = append(out, id)
		}
		return true
	})
	return out, scanErr
}

// findFirst returns the id of the first live document matching f, used by
// update_one/delete_one's "at most one" semantics.
func (c *Collection) findFirst(cs *collectionState, f query.Filter) (int64, bool, error) {
	ids, _, usedIndex := c.planCandidates(cs, f)
	if usedIndex {
		for _, id := range ids {
			offset, ok := cs.catalog.Lookup(id)
			if !ok {
				continue
			}
			doc, tomb, err := c.db.readRecord(offset)
			if err != nil {
				return 0, false, err
			}
			if !tomb && f.Match(doc) {
				return id, true, nil
			}
		}
		return 0, false, nil
	}
	var found int64
	var ok bool
	var scanErr error
	cs.catalog.Iter(func(id int64, offset int64) bool {
		doc, tomb, err := c.db.readRecord(offset)
		if err != nil {
			scanErr = err
			return false
		}
		if !tomb && f.Match(doc) {
			found, ok = id, true
			return false
		}
		return true
	})
	return found, ok, scanErr
}

func applySkipLimit(docs []storage.Document, skip, limit int) []storage.Document {
	if skip > 0 {
		if skip >= len(docs) {
			return nil
		}
		docs = docs[skip:]
	}
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	return docs
}

// Find evaluates filter, applying opts' sort/skip/limit/projection, and
// returns every matching document (spec §6's find()).
func (c *Collection) Find(filter map[string]interface{}, opts FindOptions) ([]map[string]interface{}, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	cs := c.db.ensureCollectionLocked(c.name)

	f, err := query.Parse(filter)
	if err != nil {
		return nil, util.Wrap(util.KindInvalidArgument, "parse filter", err)
	}

	var fp string
	if c.db.queryCache != nil {
		fp = queryFingerprint(filter, opts)
		if cached, ok := c.db.queryCache.get(c.name, fp); ok {
			return docsToAny(cached, opts.Projection), nil
		}
	}

	docs, err := c.scan(cs, f)
	if err != nil {
		return nil, err
	}

	if sortSpec := query.ParseSort(opts.Sort); len(sortSpec) > 0 {
		query.Sort(docs, sortSpec)
	}
	docs = applySkipLimit(docs, opts.Skip, opts.Limit)

	if c.db.queryCache != nil {
		c.db.queryCache.put(c.name, fp, docs)
	}
	return docsToAny(docs, opts.Projection), nil
}

// FindOne returns the first matching document, or nil if none matches.
func (c *Collection) FindOne(filter map[string]interface{}) (map[string]interface{}, error) {
	res, err := c.Find(filter, FindOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, nil
	}
	return res[0], nil
}

// FindWithHint bypasses the planner entirely and forces evaluation through
// the named index (spec §6's find_with_hint), failing if the filter does
// not supply an equality for every field of the index's key path.
func (c *Collection) FindWithHint(filter map[string]interface{}, indexName string) ([]map[string]interface{}, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	cs := c.db.ensureCollectionLocked(c.name)

	ie, ok := cs.indexes[indexName]
	if !ok {
		return nil, util.ErrIndexNotFound
	}
	f, err := query.Parse(filter)
	if err != nil {
		return nil, util.Wrap(util.KindInvalidArgument, "parse filter", err)
	}
	eqs := query.EqualityPrefix(f)
	vals := make([]storage.Value, len(ie.keyPath))
	for i, p := range ie.keyPath {
		v, ok := eqs[p]
		if !ok {
			return nil, util.Wrap(util.KindInvalidArgument,
				fmt.Sprintf("find_with_hint: filter has no equality for %s", p), nil)
		}
		vals[i] = v
	}
	var key []byte
	if len(vals) == 1 {
		key = btree.EncodeKey(vals[0])
	} else {
		key = btree.CompoundKey(vals)
	}

	var out []storage.Document
	for _, id := range ie.idx.Tree.Lookup(key) {
		offset, ok := cs.catalog.Lookup(id)
		if !ok {
			continue
		}
		doc, tomb, err := c.db.readRecord(offset)
		if err != nil {
			return nil, err
		}
		if !tomb && f.Match(doc) {
			out = append(out, doc)
		}
	}
	return docsToAny(out, nil), nil
}

// CountDocuments returns the number of documents matching filter, or the
// collection's total document count for an empty filter.
func (c *Collection) CountDocuments(filter map[string]interface{}) (int, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	cs := c.db.ensureCollectionLocked(c.name)
	if len(filter) == 0 {
		return cs.catalog.Len(), nil
	}
	f, err := query.Parse(filter)
	if err != nil {
		return 0, util.Wrap(util.KindInvalidArgument, "parse filter", err)
	}
	docs, err := c.scan(cs, f)
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

// UpdateOne applies ops to the first document matching filter and reports
// {matched_count, modified_count} (spec §6).
func (c *Collection) UpdateOne(filter, ops map[string]interface{}) (map[string]interface{}, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	cs := c.db.ensureCollectionLocked(c.name)

	f, err := query.Parse(filter)
	if err != nil {
		return nil, util.Wrap(util.KindInvalidArgument, "parse filter", err)
	}
	id, found, err := c.findFirst(cs, f)
	if err != nil {
		return nil, err
	}
	if !found {
		return map[string]interface{}{"matched_count": 0, "modified_count": 0}, nil
	}

	c.db.resetApplyStats()
	if err := c.db.commitSingleOp(func(t *txn.Tx) error {
		return c.db.txMgr.AddUpdate(t, c.name, id, ops)
	}); err != nil {
		return nil, err
	}
	return map[string]interface{}{"matched_count": 1, "modified_count": c.db.applyStats.modified}, nil
}

// UpdateMany applies ops to every document matching filter, as one
// transaction, and reports {matched_count, modified_count}.
func (c *Collection) UpdateMany(filter, ops map[string]interface{}) (map[string]interface{}, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	cs := c.db.ensureCollectionLocked(c.name)

	f, err := query.Parse(filter)
	if err != nil {
		return nil, util.Wrap(util.KindInvalidArgument, "parse filter", err)
	}
	ids, err := c.matchingIDs(cs, f)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return map[string]interface{}{"matched_count": 0, "modified_count": 0}, nil
	}

	c.db.resetApplyStats()
	t, err := c.db.txMgr.Begin()
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if err := c.db.txMgr.AddUpdate(t, c.name, id, ops); err != nil {
			c.db.txMgr.Rollback(t)
			return nil, err
		}
	}
	if err := c.db.txMgr.Commit(t, c.db); err != nil {
		return nil, err
	}
	fireHook(HookAfterWALCommitSync)

	return map[string]interface{}{
		"matched_count":  len(ids),
		"modified_count": c.db.applyStats.modified,
	}, nil
}

// DeleteOne removes the first document matching filter and reports
// {deleted_count}.
func (c *Collection) DeleteOne(filter map[string]interface{}) (map[string]interface{}, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	cs := c.db.ensureCollectionLocked(c.name)

	f, err := query.Parse(filter)
	if err != nil {
		return nil, util.Wrap(util.KindInvalidArgument, "parse filter", err)
	}
	id, found, err := c.findFirst(cs, f)
	if err != nil {
		return nil, err
	}
	if !found {
		return map[string]interface{}{"deleted_count": 0}, nil
	}

	c.db.resetApplyStats()
	if err := c.db.commitSingleOp(func(t *txn.Tx) error {
		return c.db.txMgr.AddDelete(t, c.name, id)
	}); err != nil {
		return nil, err
	}
	return map[string]interface{}{"deleted_count": c.db.applyStats.deleted}, nil
}

// DeleteMany removes every document matching filter, as one transaction,
// and reports {deleted_count}.
func (c *Collection) DeleteMany(filter map[string]interface{}) (map[string]interface{}, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	cs := c.db.ensureCollectionLocked(c.name)

	f, err := query.Parse(filter)
	if err != nil {
		return nil, util.Wrap(util.KindInvalidArgument, "parse filter", err)
	}
	ids, err := c.matchingIDs(cs, f)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return map[string]interface{}{"deleted_count": 0}, nil
	}

	c.db.resetApplyStats()
	t, err := c.db.txMgr.Begin()
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if err := c.db.txMgr.AddDelete(t, c.name, id); err != nil {
			c.db.txMgr.Rollback(t)
			return nil, err
		}
	}
	if err := c.db.txMgr.Commit(t, c.db); err != nil {
		return nil, err
	}
	fireHook(HookAfterWALCommitSync)

	return map[string]interface{}{"deleted_count": c.db.applyStats.deleted}, nil
}

// Distinct returns every distinct value found at path across the
// collection's live documents.
func (c *Collection) Distinct(path string) ([]interface{}, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	cs := c.db.ensureCollectionLocked(c.name)

	seen := make(map[string]storage.Value)
	var scanErr error
	cs.catalog.Iter(func(id int64, offset int64) bool {
		doc, tomb, err := c.db.readRecord(offset)
		if err != nil {
			scanErr = err
			return false
		}
		if tomb {
			return true
		}
		if v, ok := storage.GetPath(doc, path); ok {
			seen[string(storage.EncodeValue(nil, v))] = v
		}
		return true
	})
	if scanErr != nil {
		return nil, scanErr
	}
	out := make([]interface{}, 0, len(seen))
	for _, v := range seen {
		out = append(out, storage.ToAny(v))
	}
	return out, nil
}

// Aggregate runs pipeline over every live document in the collection (spec
// §4.7, §6).
func (c *Collection) Aggregate(pipeline []map[string]interface{}) ([]map[string]interface{}, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	cs := c.db.ensureCollectionLocked(c.name)

	p, err := aggregate.Parse(pipeline)
	if err != nil {
		return nil, util.Wrap(util.KindInvalidArgument, "parse pipeline", err)
	}

	var docs []storage.Document
	var scanErr error
	cs.catalog.Iter(func(id int64, offset int64) bool {
		doc, tomb, err := c.db.readRecord(offset)
		if err != nil {
			scanErr = err
			return false
		}
		if !tomb {
			docs = append(docs, doc)
		}
		return true
	})
	if scanErr != nil {
		return nil, scanErr
	}

	out, err := p.Run(docs)
	if err != nil {
		return nil, err
	}
	return docsToAny(out, nil), nil
}

func indexNameFor(paths []string) string {
	return strings.Join(paths, "_")
}

// createIndex builds a fresh index over paths by scanning every live
// document, stages and finalizes it, and registers it on the collection.
// Index creation is not WAL-logged: a crash before the next checkpoint loses
// it, because Open only opens or rebuilds the indexes the metadata trailer
// lists.
func (c *Collection) createIndex(paths []string, unique bool) (string, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	cs := c.db.ensureCollectionLocked(c.name)

	name := indexNameFor(paths)
	if _, exists := cs.indexes[name]; exists {
		return name, nil
	}

	idx := &btree.Index{Path: indexFilePath(c.db.path, c.name, name), Unique: unique}
	if err := idx.Rebuild(c.db.catalogPairs(cs, paths)); err != nil {
		return "", err
	}
	if err := idx.StageAndFinalize(); err != nil {
		return "", err
	}
	cs.indexes[name] = &indexEntry{name: name, idx: idx, keyPath: paths, unique: unique}
	return name, nil
}

// CreateIndex builds a single-field index (spec §6's create_index).
func (c *Collection) CreateIndex(path string, unique bool) (string, error) {
	return c.createIndex([]string{path}, unique)
}

// CreateCompoundIndex builds a multi-field index (spec §6's
// create_compound_index).
func (c *Collection) CreateCompoundIndex(paths []string, unique bool) (string, error) {
	return c.createIndex(paths, unique)
}

// DropIndex removes an index by name.
func (c *Collection) DropIndex(name string) error {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	cs := c.db.ensureCollectionLocked(c.name)
	ie, ok := cs.indexes[name]
	if !ok {
		return util.ErrIndexNotFound
	}
	if err := ie.idx.Remove(); err != nil {
		return err
	}
	delete(cs.indexes, name)
	return nil
}

// ListIndexes returns a descriptor per index (spec §6's list_indexes).
func (c *Collection) ListIndexes() []map[string]interface{} {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	cs := c.db.ensureCollectionLocked(c.name)
	out := make([]map[string]interface{}, 0, len(cs.indexes))
	for _, ie := range cs.indexes {
		out = append(out, map[string]interface{}{
			"name":        ie.name,
			"key_path":    ie.keyPath,
			"unique":      ie.unique,
			"entry_count": ie.idx.Tree.Count(),
		})
	}
	return out
}

// Explain reports the plan find(filter) would use, without executing it:
// which index (if any) the planner selected, and a rough cost estimate
// (spec §6's explain()).
func (c *Collection) Explain(filter map[string]interface{}) (map[string]interface{}, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	cs := c.db.ensureCollectionLocked(c.name)

	f, err := query.Parse(filter)
	if err != nil {
		return nil, util.Wrap(util.KindInvalidArgument, "parse filter", err)
	}
	ids, idxName, usedIndex := c.planCandidates(cs, f)
	if usedIndex {
		return map[string]interface{}{
			"queryPlan":     "IndexScan",
			"indexUsed":     idxName,
			"estimatedCost": len(ids),
		}, nil
	}
	return map[string]interface{}{
		"queryPlan":     "FullScan",
		"estimatedCost": cs.catalog.Len(),
	}, nil
}

// SetSchema compiles and installs a JSON Schema that every future insert and
// update on this collection must satisfy (spec §6's set_schema).
func (c *Collection) SetSchema(schema map[string]interface{}) error {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	cs := c.db.ensureCollectionLocked(c.name)
	compiled, err := compileSchema(schema)
	if err != nil {
		return err
	}
	cs.schema = compiled
	return nil
}
