package btree

import (
	"os"

	"github.com/ironbase/ironbase/internal/log"
	"github.com/ironbase/ironbase/internal/util"
)

const (
	prepareSuffix = ".tmp.prepare"
	tmpSuffix     = ".tmp"
)

// Index pairs an in-memory Tree with the on-disk file path it is staged
// under and the descriptor fields the primary file's metadata trailer
// persists alongside it (spec §4.4, §3 "Index descriptor").
type Index struct {
	Name    string
	Path    string
	KeyPath []string
	Unique  bool
	Tree    *Tree
}

// Open loads an index from path, applying the recovery rules of §4.4: a
// stray "<path>.tmp.prepare" from a crash between staging and commit is
// deleted (the mutation never reached a commit point, so it is aborted); a
// stray "<path>.tmp" is promoted over path (the mutation committed but the
// final rename did not complete). If path itself is missing or unreadable,
// Open returns (nil, false, nil) so the caller rebuilds the index from the
// catalog instead of failing the whole database open.
func Open(path string, unique bool) (*Index, bool, error) {
	if _, err := os.Stat(path + prepareSuffix); err == nil {
		log.Warn("discarding stray index staging file %s (aborted mutation)", path+prepareSuffix)
		os.Remove(path + prepareSuffix)
	}
	if _, err := os.Stat(path + tmpSuffix); err == nil {
		log.Info("promoting committed index tail %s over %s", path+tmpSuffix, path)
		if err := os.Rename(path+tmpSuffix, path); err != nil {
			return nil, false, util.Wrap(util.KindIoError, "promote index tmp", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, nil
	}
	tree, derr := Deserialize(data)
	if derr != nil {
		log.Warn("index file %s is unreadable (%v); will be rebuilt from the catalog", path, derr)
		return nil, false, nil
	}
	return &Index{Path: path, Unique: unique, Tree: tree}, true, nil
}

// Stage writes the index's current in-memory state to "<path>.tmp.prepare",
// the first step of the two-phase update protocol.
func (idx *Index) Stage() error {
	data := Serialize(idx.Tree)
	if err := os.WriteFile(idx.Path+prepareSuffix, data, 0644); err != nil {
		return util.Wrap(util.KindIoError, "stage index file", err)
	}
	return nil
}

// PromoteToTmp renames "<path>.tmp.prepare" to "<path>.tmp", performed once
// the primary file write (or WAL commit) that this mutation depends on is
// durable.
func (idx *Index) PromoteToTmp() error {
	if err := os.Rename(idx.Path+prepareSuffix, idx.Path+tmpSuffix); err != nil {
		return util.Wrap(util.KindIoError, "promote index prepare to tmp", err)
	}
	return nil
}

// Finalize renames "<path>.tmp" over "<path>", performed once every index
// touched by the mutation has reached the tmp stage.
func (idx *Index) Finalize() error {
	if err := os.Rename(idx.Path+tmpSuffix, idx.Path); err != nil {
		return util.Wrap(util.KindIoError, "finalize index file", err)
	}
	return nil
}

// StageAndFinalize performs the full three-step protocol in one call, for
// call sites (single-index mutations outside a multi-index transaction)
// that don't need the primary-durability wait between steps.
func (idx *Index) StageAndFinalize() error {
	if err := idx.Stage(); err != nil {
		return err
	}
	if err := idx.PromoteToTmp(); err != nil {
		return err
	}
	return idx.Finalize()
}

// Rebuild replaces the index's tree with a fresh one populated from pairs,
// used when the on-disk file is missing/corrupt (falls back to a catalog
// scan) or during compaction's index regeneration.
func (idx *Index) Rebuild(pairs func(yield func(key []byte, docID int64) bool)) error {
	t := New(idx.Unique)
	var insertErr error
	pairs(func(key []byte, docID int64) bool {
		if err := t.Insert(key, docID); err != nil {
			insertErr = err
			return false
		}
		return true
	})
	if insertErr != nil {
		return insertErr
	}
	idx.Tree = t
	return nil
}

// Remove deletes the index's on-disk file and any stray staging files,
// used by drop_index.
func (idx *Index) Remove() error {
	os.Remove(idx.Path + prepareSuffix)
	os.Remove(idx.Path + tmpSuffix)
	if err := os.Remove(idx.Path); err != nil && !os.IsNotExist(err) {
		return util.Wrap(util.KindIoError, "remove index file", err)
	}
	return nil
}
