// Package query implements the filter AST, its evaluator, sort, and
// projection (spec §4.5). Filter node kinds are modeled as a small, closed
// set of tagged structs dispatched by a type switch in eval.go, per the
// spec's "Polymorphism over operators" design note, rather than by Go
// interface inheritance across many concrete types.
//
// This supersedes the teacher's own internal/query/ast.go, which only
// supported $eq/$ne/$gt/$gte/$lt/$lte/$in plus a flat $and/$or and left
// $nin/$exists/$regex/$size/$all/$elemMatch/$not unimplemented.
package query

import (
	"fmt"
	"regexp"

	"github.com/ironbase/ironbase/internal/storage"
	"github.com/ironbase/ironbase/internal/util"
)

// Filter is the common interface for every AST node.
type Filter interface {
	Match(d storage.Document) bool
}

// Op is a comparison operator applied to one field path.
type Op string

const (
	OpEq  Op = "$eq"
	OpNe  Op = "$ne"
	OpGt  Op = "$gt"
	OpGte Op = "$gte"
	OpLt  Op = "$lt"
	OpLte Op = "$lte"
	OpIn  Op = "$in"
	OpNin Op = "$nin"
)

// Cmp matches a comparison operator against every candidate value resolved
// at Path (fanning out across arrays per spec §4.5).
type Cmp struct {
	Path  string
	Op    Op
	Value storage.Value
}

// In/Nin compare against a set of alternatives.
type CmpSet struct {
	Path   string
	Op     Op // OpIn or OpNin
	Values []storage.Value
}

// Exists matches based on whether Path resolves to any value.
type Exists struct {
	Path string
	Want bool
}

// Regex matches string candidates at Path against a compiled pattern.
type Regex struct {
	Path string
	Re   *regexp.Regexp
}

// Size matches when the array at Path has exactly N elements.
type Size struct {
	Path string
	N    int
}

// All matches when the array at Path contains every value in Values.
type All struct {
	Path   string
	Values []storage.Value
}

// ElemMatch matches when at least one element of the array at Path
// satisfies Sub (Sub is evaluated against a synthetic one-field document
// {Path: element}, built inline by ElemMatch.Match in eval.go).
type ElemMatch struct {
	Path string
	Sub  Filter
}

// Not inverts Sub.
type Not struct{ Sub Filter }

// And/Or combine children filters; an empty And matches every document.
type And struct{ Children []Filter }
type Or struct{ Children []Filter }

// Parse converts a binding-supplied filter map into a Filter AST. Filter
// maps use the public value vocabulary (the same plain-Go values the
// binding layer passes to insert/update), converted to storage.Value at
// each leaf via storage.FromAny.
func Parse(raw map[string]interface{}) (Filter, error) {
	var children []Filter
	for key, val := range raw {
		switch key {
		case "$and":
			f, err := parseLogicalList(val)
			if err != nil {
				return nil, err
			}
			children = append(children, &And{Children: f})
		case "$or":
			f, err := parseLogicalList(val)
			if err != nil {
				return nil, err
			}
			children = append(children, &Or{Children: f})
		case "$not":
			sub, ok := val.(map[string]interface{})
			if !ok {
				return nil, util.Wrap(util.KindInvalidArgument, "$not requires an object", nil)
			}
			inner, err := Parse(sub)
			if err != nil {
				return nil, err
			}
			children = append(children, &Not{Sub: inner})
		default:
			f, err := parseField(key, val)
			if err != nil {
				return nil, err
			}
			children = append(children, f)
		}
	}
	return &And{Children: children}, nil
}

func parseLogicalList(val interface{}) ([]Filter, error) {
	list, ok := val.([]interface{})
	if !ok {
		return nil, util.Wrap(util.KindInvalidArgument, "logical operator expects a list", nil)
	}
	out := make([]Filter, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, util.Wrap(util.KindInvalidArgument, "logical operator element must be an object", nil)
		}
		f, err := Parse(m)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func parseField(path string, val interface{}) (Filter, error) {
	opMap, ok := val.(map[string]interface{})
	if !ok {
		v, err := storage.FromAny(val)
		if err != nil {
			return nil, err
		}
		return &Cmp{Path: path, Op: OpEq, Value: v}, nil
	}

	var ops []Filter
	for op, opVal := range opMap {
		switch Op(op) {
		case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
			v, err := storage.FromAny(opVal)
			if err != nil {
				return nil, err
			}
			ops = append(ops, &Cmp{Path: path, Op: Op(op), Value: v})
		case OpIn, OpNin:
			list, ok := opVal.([]interface{})
			if !ok {
				return nil, util.Wrap(util.KindInvalidArgument, fmt.Sprintf("%s requires a list", op), nil)
			}
			vals := make([]storage.Value, 0, len(list))
			for _, item := range list {
				v, err := storage.FromAny(item)
				if err != nil {
					return nil, err
				}
				vals = append(vals, v)
			}
			ops = append(ops, &CmpSet{Path: path, Op: Op(op), Values: vals})
		default:
			switch op {
			case "$exists":
				want, _ := opVal.(bool)
				ops = append(ops, &Exists{Path: path, Want: want})
			case "$regex":
				pattern, ok := opVal.(string)
				if !ok {
					return nil, util.Wrap(util.KindInvalidArgument, "$regex requires a string", nil)
				}
				flags := ""
				if f, ok := opMap["$options"].(string); ok {
					flags = f
				}
				re, err := compileRegex(pattern, flags)
				if err != nil {
					return nil, err
				}
				ops = append(ops, &Regex{Path: path, Re: re})
			case "$options":
				// consumed alongside $regex
			case "$size":
				n, err := toInt(opVal)
				if err != nil {
					return nil, err
				}
				ops = append(ops, &Size{Path: path, N: n})
			case "$all":
				list, ok := opVal.([]interface{})
				if !ok {
					return nil, util.Wrap(util.KindInvalidArgument, "$all requires a list", nil)
				}
				vals := make([]storage.Value, 0, len(list))
				for _, item := range list {
					v, err := storage.FromAny(item)
					if err != nil {
						return nil, err
					}
					vals = append(vals, v)
				}
				ops = append(ops, &All{Path: path, Values: vals})
			case "$elemMatch":
				sub, ok := opVal.(map[string]interface{})
				if !ok {
					return nil, util.Wrap(util.KindInvalidArgument, "$elemMatch requires an object", nil)
				}
				inner, err := Parse(sub)
				if err != nil {
					return nil, err
				}
				ops = append(ops, &ElemMatch{Path: path, Sub: inner})
			default:
				return nil, util.Wrap(util.KindInvalidArgument, fmt.Sprintf("unknown operator %s", op), nil)
			}
		}
	}
	if len(ops) == 1 {
		return ops[0], nil
	}
	return &And{Children: ops}, nil
}

func compileRegex(pattern, flags string) (*regexp.Regexp, error) {
	prefix := ""
	if flags != "" {
		prefix = "(?" + flags + ")"
	}
	re, err := regexp.Compile(prefix + pattern)
	if err != nil {
		return nil, util.Wrap(util.KindInvalidArgument, "bad regex", err)
	}
	return re, nil
}

func toInt(v interface{}) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		return int(t), nil
	default:
		return 0, util.Wrap(util.KindInvalidArgument, "expected a number", nil)
	}
}
