package query

import (
	"strings"

	"github.com/ironbase/ironbase/internal/storage"
)

// Projection implements §4.5's inclusion/exclusion projection: {f:1} keeps
// only listed (dot-path) fields, {f:0} drops them. _id is included by
// default unless explicitly excluded. Mixing inclusion and exclusion
// (other than excluding _id alongside inclusions) is rejected at
// construction.
type Projection struct {
	include    bool // true: inclusion mode, false: exclusion mode
	paths      []string
	excludeID  bool
	includeID  bool
	specifiesID bool
}

// NewProjection builds a Projection from the public {field: 1|0} map.
func NewProjection(spec map[string]interface{}) (*Projection, error) {
	if len(spec) == 0 {
		return nil, nil
	}
	p := &Projection{includeID: true}
	var sawInclude, sawExclude bool
	for k, v := range spec {
		want := truthy(v)
		if k == "_id" {
			p.specifiesID = true
			p.includeID = want
			p.excludeID = !want
			continue
		}
		if want {
			sawInclude = true
		} else {
			sawExclude = true
		}
		p.paths = append(p.paths, k)
	}
	if sawInclude && sawExclude {
		return nil, errInvalidProjection
	}
	p.include = sawInclude || (!sawInclude && !sawExclude)
	if !sawInclude && !sawExclude {
		// projection consisted only of _id
		p.include = true
		p.paths = nil
	}
	return p, nil
}

var errInvalidProjection = projectionErr{}

type projectionErr struct{}

func (projectionErr) Error() string {
	return "invalid_argument: projection cannot mix inclusion and exclusion"
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case bool:
		return t
	default:
		return true
	}
}

// Apply returns the projected document.
func (p *Projection) Apply(d storage.Document) storage.Document {
	if p == nil {
		return d
	}
	out := storage.Document{}
	if p.include {
		for _, path := range p.paths {
			if v, ok := storage.GetPath(d, path); ok {
				storage.SetPath(out, path, v)
			}
		}
		if p.includeID {
			if id, ok := d["_id"]; ok {
				out["_id"] = id
			}
		}
		return out
	}

	out = d.Clone()
	for _, path := range p.paths {
		storage.DeletePath(out, path)
	}
	if p.excludeID {
		delete(out, "_id")
	}
	return out
}

// fieldRoot returns the top-level key of a dot path. Nothing in the module
// calls it.
func fieldRoot(path string) string {
	if i := strings.IndexByte(path, '.'); i >= 0 {
		return path[:i]
	}
	return path
}
