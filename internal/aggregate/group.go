package aggregate

import (
	"fmt"

	"github.com/ironbase/ironbase/internal/storage"
	"github.com/ironbase/ironbase/internal/util"
)

// GroupStage computes a group-key expression and a set of accumulators per
// output field, streaming all inputs into an in-memory ordered mapping
// keyed by the canonical serialization of the group key (spec §4.7).
type GroupStage struct {
	KeyExpr      Expr
	Accumulators map[string]*accumulatorSpec
}

type accumulatorKind int

const (
	accSum accumulatorKind = iota
	accAvg
	accMin
	accMax
	accFirst
	accLast
)

type accumulatorSpec struct {
	kind byte
	expr Expr
}

func parseGroupStage(m map[string]interface{}) (*GroupStage, error) {
	idRaw, ok := m["_id"]
	if !ok {
		return nil, util.Wrap(util.KindInvalidArgument, "$group requires an _id key expression", nil)
	}
	keyExpr, err := ParseExpr(idRaw)
	if err != nil {
		return nil, err
	}

	specs := make(map[string]*accumulatorSpec, len(m)-1)
	for field, val := range m {
		if field == "_id" {
			continue
		}
		accMap, ok := val.(map[string]interface{})
		if !ok || len(accMap) != 1 {
			return nil, util.Wrap(util.KindInvalidArgument, fmt.Sprintf("group field %s must name exactly one accumulator", field), nil)
		}
		for op, argRaw := range accMap {
			expr, err := ParseExpr(argRaw)
			if err != nil {
				return nil, err
			}
			kind, ok := accumulatorOp(op)
			if !ok {
				return nil, util.Wrap(util.KindInvalidArgument, fmt.Sprintf("unknown accumulator %s", op), nil)
			}
			specs[field] = &accumulatorSpec{kind: kind, expr: expr}
		}
	}
	return &GroupStage{KeyExpr: keyExpr, Accumulators: specs}, nil
}

func accumulatorOp(op string) (byte, bool) {
	switch op {
	case "$sum":
		return byte(accSum), true
	case "$avg":
		return byte(accAvg), true
	case "$min":
		return byte(accMin), true
	case "$max":
		return byte(accMax), true
	case "$first":
		return byte(accFirst), true
	case "$last":
		return byte(accLast), true
	default:
		return 0, false
	}
}

type groupAcc struct {
	count      int
	sum        float64
	sumIsFloat bool
	cur        storage.Value
	set        bool
}

func (s *GroupStage) Run(docs []storage.Document) ([]storage.Document, error) {
	order := make([]string, 0)
	keys := make(map[string]storage.Value)
	accs := make(map[string]map[string]*groupAcc)

	for _, d := range docs {
		kv, err := s.KeyExpr.Eval(d)
		if err != nil {
			return nil, err
		}
		keyBytes := string(storage.EncodeValue(nil, kv))
		if _, seen := keys[keyBytes]; !seen {
			keys[keyBytes] = kv
			order = append(order, keyBytes)
			accs[keyBytes] = make(map[string]*groupAcc, len(s.Accumulators))
			for field := range s.Accumulators {
				accs[keyBytes][field] = &groupAcc{}
			}
		}
		for field, spec := range s.Accumulators {
			v, err := spec.expr.Eval(d)
			if err != nil {
				return nil, err
			}
			accumulate(accs[keyBytes][field], accumulatorKind(spec.kind), v)
		}
	}

	out := make([]storage.Document, 0, len(order))
	for _, kb := range order {
		nd := storage.Document{"_id": keys[kb]}
		for field, spec := range s.Accumulators {
			nd[field] = finalize(accs[kb][field], accumulatorKind(spec.kind))
		}
		out = append(out, nd)
	}
	return out, nil
}

func accumulate(a *groupAcc, kind accumulatorKind, v storage.Value) {
	a.count++
	switch kind {
	case accSum, accAvg:
		if v.IsNumber() {
			a.sum += v.Float()
			if v.Kind() == storage.KindFloat {
				a.sumIsFloat = true
			}
		} else {
			a.sum += 1 // "$sum(expr) (1 for counts)"
		}
	case accMin:
		if !a.set || storage.Compare(v, a.cur) < 0 {
			a.cur, a.set = v, true
		}
	case accMax:
		if !a.set || storage.Compare(v, a.cur) > 0 {
			a.cur, a.set = v, true
		}
	case accFirst:
		if !a.set {
			a.cur, a.set = v, true
		}
	case accLast:
		a.cur, a.set = v, true
	}
}

func finalize(a *groupAcc, kind accumulatorKind) storage.Value {
	switch kind {
	case accSum:
		if a.sumIsFloat {
			return storage.Float(a.sum)
		}
		return storage.Int(int64(a.sum))
	case accAvg:
		if a.count == 0 {
			return storage.Float(0)
		}
		return storage.Float(a.sum / float64(a.count))
	default:
		if !a.set {
			return storage.Null()
		}
		return a.cur
	}
}
