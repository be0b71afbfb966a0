package query

import (
	"sort"

	"github.com/ironbase/ironbase/internal/storage"
)

// SortField is one key of a sort spec: {field: 1} ascending, {field: -1}
// descending.
type SortField struct {
	Path string
	Desc bool
}

// ParseSort converts a public sort map into an ordered SortField list. Go
// maps don't preserve iteration order, so bindings pass sort specs as an
// ordered slice of single-key maps to keep a stable multi-key precedence;
// ParseSort accepts that shape.
func ParseSort(spec []map[string]interface{}) []SortField {
	out := make([]SortField, 0, len(spec))
	for _, m := range spec {
		for k, v := range m {
			desc := false
			switch n := v.(type) {
			case int:
				desc = n < 0
			case int64:
				desc = n < 0
			case float64:
				desc = n < 0
			}
			out = append(out, SortField{Path: k, Desc: desc})
		}
	}
	return out
}

// Sort stably reorders docs per spec, in order of precedence (earlier
// fields win ties). A document missing a sort field sorts as null
// (lowest rank), consistent with the comparison rules' total order.
func Sort(docs []storage.Document, spec []SortField) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, f := range spec {
			vi := sortValue(docs[i], f.Path)
			vj := sortValue(docs[j], f.Path)
			c := storage.Compare(vi, vj)
			if c == 0 {
				continue
			}
			if f.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// sortValue resolves the representative value for a sort key. Array
// fields sort by their minimum element, a reasonable total-order
// extension the spec leaves unspecified for sort-on-array.
func sortValue(d storage.Document, path string) storage.Value {
	v, ok := storage.GetPath(d, path)
	if !ok {
		return storage.Null()
	}
	if v.Kind() != storage.KindArray || len(v.Array()) == 0 {
		return v
	}
	min := v.Array()[0]
	for _, e := range v.Array()[1:] {
		if storage.Compare(e, min) < 0 {
			min = e
		}
	}
	return min
}
