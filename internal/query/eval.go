package query

import (
	"strconv"
	"strings"

	"github.com/ironbase/ironbase/internal/storage"
)

// candidates resolves path against d, fanning out across arrays the way
// MongoDB-style dot paths do: at any array encountered mid-path, every
// element that is itself a mapping is searched for the remaining path, and
// (when the array is the terminal value) the array itself and each of its
// elements become the candidates a comparison is matched against.
func candidates(d storage.Document, path string) []storage.Value {
	segs := strings.Split(path, ".")
	cur := []storage.Value{storage.Map(d)}
	for _, seg := range segs {
		var next []storage.Value
		for _, v := range cur {
			switch v.Kind() {
			case storage.KindMap:
				if cv, ok := v.Map()[seg]; ok {
					next = append(next, cv)
				}
			case storage.KindArray:
				if idx, err := strconv.Atoi(seg); err == nil && idx >= 0 && idx < len(v.Array()) {
					next = append(next, v.Array()[idx])
					continue
				}
				for _, e := range v.Array() {
					if e.Kind() == storage.KindMap {
						if cv, ok := e.Map()[seg]; ok {
							next = append(next, cv)
						}
					}
				}
			}
		}
		cur = next
		if len(cur) == 0 {
			return nil
		}
	}
	var out []storage.Value
	for _, v := range cur {
		out = append(out, v)
		if v.Kind() == storage.KindArray {
			out = append(out, v.Array()...)
		}
	}
	return out
}

func (c *Cmp) Match(d storage.Document) bool {
	vals := candidates(d, c.Path)
	if len(vals) == 0 {
		return c.Op == OpNe
	}
	matched := matchAny(vals, func(v storage.Value) bool { return compareOp(v, c.Op, c.Value) })
	if c.Op == OpNe {
		return !matched
	}
	return matched
}

func (c *CmpSet) Match(d storage.Document) bool {
	vals := candidates(d, c.Path)
	if len(vals) == 0 {
		return c.Op == OpNin
	}
	in := matchAny(vals, func(v storage.Value) bool {
		for _, want := range c.Values {
			if storage.Compare(v, want) == 0 {
				return true
			}
		}
		return false
	})
	if c.Op == OpNin {
		return !in
	}
	return in
}

func (e *Exists) Match(d storage.Document) bool {
	present := len(candidates(d, e.Path)) > 0
	return present == e.Want
}

func (r *Regex) Match(d storage.Document) bool {
	vals := candidates(d, r.Path)
	return matchAny(vals, func(v storage.Value) bool {
		return v.Kind() == storage.KindString && r.Re.MatchString(v.Str())
	})
}

func (s *Size) Match(d storage.Document) bool {
	v, ok := storage.GetPath(d, s.Path)
	return ok && v.Kind() == storage.KindArray && len(v.Array()) == s.N
}

func (a *All) Match(d storage.Document) bool {
	v, ok := storage.GetPath(d, a.Path)
	if !ok || v.Kind() != storage.KindArray {
		return false
	}
	for _, want := range a.Values {
		found := false
		for _, e := range v.Array() {
			if storage.Compare(e, want) == 0 {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (em *ElemMatch) Match(d storage.Document) bool {
	v, ok := storage.GetPath(d, em.Path)
	if !ok || v.Kind() != storage.KindArray {
		return false
	}
	for _, e := range v.Array() {
		synthetic := storage.Document{em.Path: e}
		if em.Sub.Match(synthetic) {
			return true
		}
	}
	return false
}

func (n *Not) Match(d storage.Document) bool { return !n.Sub.Match(d) }

func (a *And) Match(d storage.Document) bool {
	for _, c := range a.Children {
		if !c.Match(d) {
			return false
		}
	}
	return true
}

func (o *Or) Match(d storage.Document) bool {
	if len(o.Children) == 0 {
		return false
	}
	for _, c := range o.Children {
		if c.Match(d) {
			return true
		}
	}
	return false
}

func matchAny(vals []storage.Value, pred func(storage.Value) bool) bool {
	for _, v := range vals {
		if pred(v) {
			return true
		}
	}
	return false
}

// compareOp applies a scalar comparison operator; cross-kind operands
// compare by the value model's total order and are never equal across
// kinds, except that int/float compare by numeric value.
func compareOp(actual storage.Value, op Op, want storage.Value) bool {
	c := storage.Compare(actual, want)
	switch op {
	case OpEq:
		return c == 0
	case OpGt:
		return c > 0
	case OpGte:
		return c >= 0
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	default:
		return false
	}
}

// EqualityPrefix reports the set of (path, value) equalities this filter
// conjoins at the top level, used by the planner to match an index prefix
// (spec §4.5 "conjunction of equalities whose leading key matches an index
// prefix").
func EqualityPrefix(f Filter) map[string]storage.Value {
	out := map[string]storage.Value{}
	and, ok := f.(*And)
	if !ok {
		if cmp, ok := f.(*Cmp); ok && cmp.Op == OpEq {
			out[cmp.Path] = cmp.Value
		}
		return out
	}
	for _, c := range and.Children {
		if cmp, ok := c.(*Cmp); ok && cmp.Op == OpEq {
			out[cmp.Path] = cmp.Value
		}
	}
	return out
}
