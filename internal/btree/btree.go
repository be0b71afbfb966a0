package btree

import (
	"sort"

	"github.com/ironbase/ironbase/internal/util"
)

// PageSize is the nominal node page size named in spec §4.4.
const PageSize = 4096

// maxLeafEntries and maxInternalChildren bound how many entries a logical
// node holds before it splits, chosen so a typical node (modest key sizes)
// serializes to roughly one PageSize page; see codec.go's PageCount for the
// page-count estimate derived from them.
const (
	maxLeafEntries      = 128
	maxInternalChildren = 128
)

// entry is one leaf (key, doc id) pair. Non-unique indexes hold multiple
// entries with equal Key and distinct DocID.
type entry struct {
	Key   []byte
	DocID int64
}

// node is either a leaf (Entries populated, Children nil) or an internal
// node (Keys/Children populated, one more Children than Keys).
type node struct {
	leaf     bool
	entries  []entry  // leaf only, sorted by (Key, DocID)
	keys     [][]byte // internal only, separator keys, len(children)-1
	children []*node  // internal only
	next     *node    // leaf only: right sibling, for range scans
}

// Tree is an in-memory B+ tree. Persistence is handled by codec.go /
// Index's two-phase staging, not by this type directly.
type Tree struct {
	root   *node
	unique bool
}

// New creates an empty tree.
func New(unique bool) *Tree {
	return &Tree{root: &node{leaf: true}, unique: unique}
}

// Insert adds (key, docID). For a unique tree, it returns DuplicateKey if
// key already maps to a different docID; inserting the same (key, docID)
// pair again is a no-op.
func (t *Tree) Insert(key []byte, docID int64) error {
	if t.unique {
		if existing, ok := t.lookupUnique(key); ok && existing != docID {
			return util.Wrap(util.KindDuplicateKey, "duplicate index key", nil)
		}
	}
	newChild, promoted, ok := t.insert(t.root, key, docID)
	if ok {
		t.root = &node{
			keys:     [][]byte{promoted},
			children: []*node{t.root, newChild},
		}
	}
	return nil
}

func (t *Tree) insert(n *node, key []byte, docID int64) (*node, []byte, bool) {
	if n.leaf {
		return t.insertLeaf(n, key, docID)
	}
	idx := t.childIndex(n, key)
	child := n.children[idx]
	newChild, promoted, split := t.insert(child, key, docID)
	if !split {
		return nil, nil, false
	}
	n.keys = insertAt(n.keys, idx, promoted)
	n.children = insertChildAt(n.children, idx+1, newChild)
	if len(n.children) <= maxInternalChildren {
		return nil, nil, false
	}
	return t.splitInternal(n)
}

func (t *Tree) insertLeaf(n *node, key []byte, docID int64) (*node, []byte, bool) {
	pos := sort.Search(len(n.entries), func(i int) bool {
		c := compareKeys(n.entries[i].Key, key)
		if c != 0 {
			return c >= 0
		}
		return n.entries[i].DocID >= docID
	})
	if pos < len(n.entries) && compareKeys(n.entries[pos].Key, key) == 0 && n.entries[pos].DocID == docID {
		return nil, nil, false // already present
	}
	n.entries = append(n.entries, entry{})
	copy(n.entries[pos+1:], n.entries[pos:])
	n.entries[pos] = entry{Key: append([]byte(nil), key...), DocID: docID}

	if len(n.entries) <= maxLeafEntries {
		return nil, nil, false
	}
	return t.splitLeaf(n)
}

func (t *Tree) splitLeaf(n *node) (*node, []byte, bool) {
	mid := len(n.entries) / 2
	right := &node{leaf: true, entries: append([]entry(nil), n.entries[mid:]...), next: n.next}
	n.entries = n.entries[:mid]
	n.next = right
	return right, right.entries[0].Key, true
}

func (t *Tree) splitInternal(n *node) (*node, []byte, bool) {
	mid := len(n.keys) / 2
	promoted := n.keys[mid]
	right := &node{
		keys:     append([][]byte(nil), n.keys[mid+1:]...),
		children: append([]*node(nil), n.children[mid+1:]...),
	}
	n.keys = n.keys[:mid]
	n.children = n.children[:mid+1]
	return right, promoted, true
}

func (t *Tree) childIndex(n *node, key []byte) int {
	i := sort.Search(len(n.keys), func(i int) bool {
		return compareKeys(n.keys[i], key) > 0
	})
	return i
}

func (t *Tree) lookupUnique(key []byte) (int64, bool) {
	ids := t.Lookup(key)
	if len(ids) == 0 {
		return 0, false
	}
	return ids[0], true
}

// Lookup returns every doc id stored under key.
func (t *Tree) Lookup(key []byte) []int64 {
	n := t.firstLeafFor(key)
	var out []int64
	for ; n != nil; n = n.next {
		for _, e := range n.entries {
			c := compareKeys(e.Key, key)
			if c > 0 {
				return out
			}
			if c == 0 {
				out = append(out, e.DocID)
			}
		}
	}
	return out
}

// firstLeafFor descends to the leftmost leaf that can hold key: equal keys
// may straddle a leaf split, so the descent stops left of an equal separator.
func (t *Tree) firstLeafFor(key []byte) *node {
	n := t.root
	for !n.leaf {
		n = n.children[sort.Search(len(n.keys), func(i int) bool {
			return compareKeys(n.keys[i], key) >= 0
		})]
	}
	return n
}

// RangeScan returns doc ids for keys in [lo, hi] (nil bound means
// unbounded on that side), in ascending key order.
func (t *Tree) RangeScan(lo, hi []byte) []int64 {
	n := t.firstLeaf()
	if lo != nil {
		n = t.firstLeafFor(lo)
	}
	var out []int64
	for n != nil {
		for _, e := range n.entries {
			if lo != nil && compareKeys(e.Key, lo) < 0 {
				continue
			}
			if hi != nil && compareKeys(e.Key, hi) > 0 {
				return out
			}
			out = append(out, e.DocID)
		}
		n = n.next
	}
	return out
}

// Remove deletes the (key, docID) entry, if present. It does not rebalance
// nodes below the minimum occupancy threshold; B+ tree removal in this
// engine favors simplicity (a lightly underfull node costs nothing beyond
// a few wasted bytes) over strict fill-factor invariants, and compaction's
// index rebuild periodically restores a compact tree regardless.
func (t *Tree) Remove(key []byte, docID int64) bool {
	for n := t.firstLeafFor(key); n != nil; n = n.next {
		for i, e := range n.entries {
			c := compareKeys(e.Key, key)
			if c > 0 {
				return false
			}
			if c == 0 && e.DocID == docID {
				n.entries = append(n.entries[:i], n.entries[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Count returns the number of leaf entries (entry_count in IndexMeta).
func (t *Tree) Count() int {
	n := 0
	leaf := t.firstLeaf()
	for leaf != nil {
		n += len(leaf.entries)
		leaf = leaf.next
	}
	return n
}

func (t *Tree) firstLeaf() *node {
	n := t.root
	for !n.leaf {
		n = n.children[0]
	}
	return n
}

// All yields every (key, docID) pair in ascending key order, used to
// rebuild a fresh tree during compaction or to iterate distinct().
func (t *Tree) All() []struct {
	Key   []byte
	DocID int64
} {
	var out []struct {
		Key   []byte
		DocID int64
	}
	leaf := t.firstLeaf()
	for leaf != nil {
		for _, e := range leaf.entries {
			out = append(out, struct {
				Key   []byte
				DocID int64
			}{e.Key, e.DocID})
		}
		leaf = leaf.next
	}
	return out
}

func insertAt(s [][]byte, i int, v []byte) [][]byte {
	s = append(s, nil)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func insertChildAt(s []*node, i int, v *node) []*node {
	s = append(s, nil)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}
