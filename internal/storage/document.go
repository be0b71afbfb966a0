package storage

import "strings"

// GetPath resolves a dot path against a document, descending through
// KindMap values. It does not descend into arrays: array element matching
// for filters is handled one layer up in internal/query, per the spec's
// "any element matches" semantics for paths into arrays.
func GetPath(d Document, path string) (Value, bool) {
	segs := strings.Split(path, ".")
	var cur Value = Map(d)
	for _, seg := range segs {
		if cur.kind != KindMap {
			return Value{}, false
		}
		v, ok := cur.m[seg]
		if !ok {
			return Value{}, false
		}
		cur = v
	}
	return cur, true
}

// SetPath writes v at path, creating intermediate maps as needed. It
// overwrites any existing value (including non-map values) found along the
// way, matching $set's "overwrites any existing type" rule.
func SetPath(d Document, path string, v Value) {
	segs := strings.Split(path, ".")
	cur := d
	for i, seg := range segs {
		if i == len(segs)-1 {
			cur[seg] = v
			return
		}
		next, ok := cur[seg]
		if !ok || next.kind != KindMap {
			next = Map(Document{})
			cur[seg] = next
		}
		cur = next.m
	}
}

// DeletePath removes the key at the terminal path segment, creating no
// intermediate maps ($unset never creates structure).
func DeletePath(d Document, path string) bool {
	segs := strings.Split(path, ".")
	cur := d
	for i, seg := range segs {
		if i == len(segs)-1 {
			if _, ok := cur[seg]; !ok {
				return false
			}
			delete(cur, seg)
			return true
		}
		next, ok := cur[seg]
		if !ok || next.kind != KindMap {
			return false
		}
		cur = next.m
	}
	return false
}

// ID extracts the document's "_id" value. Every stored document carries one.
func ID(d Document) (Value, bool) {
	v, ok := d["_id"]
	return v, ok
}

// SetID writes the document's "_id" value.
func SetID(d Document, id Value) {
	d["_id"] = id
}
