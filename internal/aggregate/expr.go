// Package aggregate implements the aggregation pipeline (spec §4.7):
// $match/$project/$group/$sort/$skip/$limit stages streaming documents
// from one to the next, plus the $project/$group expression language
// ($add/$subtract/$multiply/$divide/$concat, $sum/$avg/$min/$max/$first/
// $last accumulators).
//
// Expression ASTs are, per the spec's design note, a small closed set of
// tagged kinds dispatched by a type switch (field reference, literal,
// arithmetic/string operator) rather than an open interface hierarchy.
package aggregate

import (
	"fmt"

	"github.com/ironbase/ironbase/internal/storage"
	"github.com/ironbase/ironbase/internal/util"
)

// Expr evaluates to a Value given a source document.
type Expr interface {
	Eval(d storage.Document) (storage.Value, error)
}

// FieldRef resolves "$path" against the document.
type FieldRef struct{ Path string }

func (f FieldRef) Eval(d storage.Document) (storage.Value, error) {
	v, ok := storage.GetPath(d, f.Path)
	if !ok {
		return storage.Null(), nil
	}
	return v, nil
}

// Literal is a constant value.
type Literal struct{ V storage.Value }

func (l Literal) Eval(storage.Document) (storage.Value, error) { return l.V, nil }

// Arith is a variadic arithmetic/string operator: $add/$subtract/
// $multiply/$divide/$concat. Arithmetic kinds promote int->float when any
// operand is a float (spec's "single promotion rule"); $concat requires
// string operands.
type Arith struct {
	Op   string
	Args []Expr
}

func (a Arith) Eval(d storage.Document) (storage.Value, error) {
	if a.Op == "$concat" {
		var sb []byte
		for _, arg := range a.Args {
			v, err := arg.Eval(d)
			if err != nil {
				return storage.Value{}, err
			}
			if v.Kind() != storage.KindString {
				return storage.Value{}, util.Wrap(util.KindInvalidArgument, "$concat requires string operands", nil)
			}
			sb = append(sb, v.Str()...)
		}
		return storage.Str(string(sb)), nil
	}

	vals := make([]storage.Value, len(a.Args))
	anyFloat := false
	for i, arg := range a.Args {
		v, err := arg.Eval(d)
		if err != nil {
			return storage.Value{}, err
		}
		if !v.IsNumber() {
			return storage.Value{}, util.Wrap(util.KindInvalidArgument, fmt.Sprintf("%s requires numeric operands", a.Op), nil)
		}
		if v.Kind() == storage.KindFloat {
			anyFloat = true
		}
		vals[i] = v
	}
	if len(vals) == 0 {
		return storage.Int(0), nil
	}

	switch a.Op {
	case "$add":
		return reduceNumericSeed(vals, anyFloat, 0, func(acc, v float64) float64 { return acc + v }, func(acc, v int64) int64 { return acc + v }), nil
	case "$multiply":
		return reduceNumericSeed(vals, anyFloat, 1, func(acc, v float64) float64 { return acc * v }, func(acc, v int64) int64 { return acc * v }), nil
	case "$subtract":
		return subtractOrDivide(vals, anyFloat, false), nil
	case "$divide":
		return subtractOrDivide(vals, true, true), nil
	default:
		return storage.Value{}, util.Wrap(util.KindInvalidArgument, fmt.Sprintf("unknown expression operator %s", a.Op), nil)
	}
}

func reduceNumericSeed(vals []storage.Value, anyFloat bool, seed int64, ff func(a, v float64) float64, fi func(a, v int64) int64) storage.Value {
	if anyFloat {
		acc := float64(seed)
		first := true
		for _, v := range vals {
			if first {
				acc = v.Float()
				first = false
				continue
			}
			acc = ff(acc, v.Float())
		}
		return storage.Float(acc)
	}
	acc := vals[0].Int()
	for _, v := range vals[1:] {
		acc = fi(acc, v.Int())
	}
	return storage.Int(acc)
}

func subtractOrDivide(vals []storage.Value, anyFloat, divide bool) storage.Value {
	if anyFloat {
		acc := vals[0].Float()
		for _, v := range vals[1:] {
			if divide {
				acc /= v.Float()
			} else {
				acc -= v.Float()
			}
		}
		return storage.Float(acc)
	}
	acc := vals[0].Int()
	for _, v := range vals[1:] {
		acc -= v.Int()
	}
	return storage.Int(acc)
}

// ParseExpr converts a public pipeline expression value (a plain Go value:
// a "$path" string, a literal, or {"$op": [args...]}) into an Expr.
func ParseExpr(raw interface{}) (Expr, error) {
	switch t := raw.(type) {
	case string:
		if len(t) > 0 && t[0] == '$' {
			return FieldRef{Path: t[1:]}, nil
		}
		return Literal{V: storage.Str(t)}, nil
	case map[string]interface{}:
		if len(t) != 1 {
			return nil, util.Wrap(util.KindInvalidArgument, "expression object must have exactly one operator", nil)
		}
		for op, argsRaw := range t {
			args, err := parseArgs(argsRaw)
			if err != nil {
				return nil, err
			}
			return Arith{Op: op, Args: args}, nil
		}
	}
	v, err := storage.FromAny(raw)
	if err != nil {
		return nil, err
	}
	return Literal{V: v}, nil
}

func parseArgs(raw interface{}) ([]Expr, error) {
	list, ok := raw.([]interface{})
	if !ok {
		list = []interface{}{raw}
	}
	out := make([]Expr, 0, len(list))
	for _, item := range list {
		e, err := ParseExpr(item)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
