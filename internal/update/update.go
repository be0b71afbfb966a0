// Package update implements the update operator engine (spec §4.6):
// $set/$unset/$inc/$push/$pull/$addToSet/$pop over dot paths, plus the
// original implementation's $mul/$min/$max (supplemented per SPEC_FULL.md
// §D.4 — present in the source's array/update test suite though absent
// from the distilled operator list).
//
// Grounded on the teacher's update-by-operator shape (collection.go's
// applyUpdateOperators) but rebuilt against the storage.Value/Document
// model instead of map[string]interface{}, and extended with the
// modifier/accumulator set the spec actually names.
package update

import (
	"fmt"

	"github.com/ironbase/ironbase/internal/storage"
	"github.com/ironbase/ironbase/internal/util"
)

// Apply mutates doc in place per ops (a map of operator name to a map of
// path -> operand, e.g. {"$set": {"x": 1}, "$inc": {"y": 2}}). It returns
// whether doc's serialized form differs from before the call, the
// modified_count contribution for this one document.
func Apply(doc storage.Document, ops map[string]interface{}) (changed bool, err error) {
	before := storage.EncodeDocument(doc)

	for opName, rawFields := range ops {
		fields, ok := rawFields.(map[string]interface{})
		if !ok {
			return false, util.Wrap(util.KindInvalidArgument, fmt.Sprintf("%s requires an object of paths", opName), nil)
		}
		switch opName {
		case "$set":
			for path, raw := range fields {
				v, err := storage.FromAny(raw)
				if err != nil {
					return false, err
				}
				storage.SetPath(doc, path, v)
			}
		case "$unset":
			for path := range fields {
				storage.DeletePath(doc, path)
			}
		case "$inc":
			if err := applyInc(doc, fields, 1); err != nil {
				return false, err
			}
		case "$mul":
			if err := applyMul(doc, fields); err != nil {
				return false, err
			}
		case "$min":
			if err := applyMinMax(doc, fields, true); err != nil {
				return false, err
			}
		case "$max":
			if err := applyMinMax(doc, fields, false); err != nil {
				return false, err
			}
		case "$push":
			if err := applyPush(doc, fields); err != nil {
				return false, err
			}
		case "$pull":
			if err := applyPull(doc, fields); err != nil {
				return false, err
			}
		case "$addToSet":
			if err := applyAddToSet(doc, fields); err != nil {
				return false, err
			}
		case "$pop":
			if err := applyPop(doc, fields); err != nil {
				return false, err
			}
		default:
			return false, util.Wrap(util.KindInvalidArgument, fmt.Sprintf("unknown update operator %s", opName), nil)
		}
	}

	after := storage.EncodeDocument(doc)
	return !bytesEqual(before, after), nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func numericDelta(existing storage.Value, raw interface{}) (storage.Value, error) {
	delta, err := storage.FromAny(raw)
	if err != nil {
		return storage.Value{}, err
	}
	if !delta.IsNumber() {
		return storage.Value{}, util.Wrap(util.KindInvalidArgument, "operand must be numeric", nil)
	}
	if !existing.IsNumber() {
		return storage.Value{}, util.Wrap(util.KindInvalidArgument, "cannot apply numeric operator to non-numeric field", nil)
	}
	if existing.Kind() == storage.KindInt && delta.Kind() == storage.KindInt {
		return delta, nil
	}
	return storage.Float(delta.Float()), nil
}

func applyInc(doc storage.Document, fields map[string]interface{}, _ int) error {
	for path, raw := range fields {
		existing, ok := storage.GetPath(doc, path)
		if !ok {
			existing = storage.Int(0)
		}
		delta, err := numericDelta(existing, raw)
		if err != nil {
			return err
		}
		if existing.Kind() == storage.KindInt && delta.Kind() == storage.KindInt {
			storage.SetPath(doc, path, storage.Int(existing.Int()+delta.Int()))
		} else {
			storage.SetPath(doc, path, storage.Float(existing.Float()+delta.Float()))
		}
	}
	return nil
}

func applyMul(doc storage.Document, fields map[string]interface{}) error {
	for path, raw := range fields {
		existing, ok := storage.GetPath(doc, path)
		if !ok {
			existing = storage.Int(0)
		}
		factor, err := numericDelta(existing, raw)
		if err != nil {
			return err
		}
		if existing.Kind() == storage.KindInt && factor.Kind() == storage.KindInt {
			storage.SetPath(doc, path, storage.Int(existing.Int()*factor.Int()))
		} else {
			storage.SetPath(doc, path, storage.Float(existing.Float()*factor.Float()))
		}
	}
	return nil
}

func applyMinMax(doc storage.Document, fields map[string]interface{}, min bool) error {
	for path, raw := range fields {
		v, err := storage.FromAny(raw)
		if err != nil {
			return err
		}
		existing, ok := storage.GetPath(doc, path)
		if !ok {
			storage.SetPath(doc, path, v)
			continue
		}
		c := storage.Compare(v, existing)
		if (min && c < 0) || (!min && c > 0) {
			storage.SetPath(doc, path, v)
		}
	}
	return nil
}

func applyPush(doc storage.Document, fields map[string]interface{}) error {
	for path, raw := range fields {
		toAppend, err := pushOperands(raw)
		if err != nil {
			return err
		}
		existing, _ := storage.GetPath(doc, path)
		arr := arrayOrEmpty(existing)
		arr = append(arr, toAppend...)
		storage.SetPath(doc, path, storage.Arr(arr))
	}
	return nil
}

// pushOperands supports both a bare value ($push: {tags: "c"}) and the
// {$each: [...]} modifier ($push: {tags: {$each: ["c","d"]}}).
func pushOperands(raw interface{}) ([]storage.Value, error) {
	if m, ok := raw.(map[string]interface{}); ok {
		if each, ok := m["$each"]; ok {
			list, ok := each.([]interface{})
			if !ok {
				return nil, util.Wrap(util.KindInvalidArgument, "$each requires a list", nil)
			}
			out := make([]storage.Value, 0, len(list))
			for _, e := range list {
				v, err := storage.FromAny(e)
				if err != nil {
					return nil, err
				}
				out = append(out, v)
			}
			return out, nil
		}
	}
	v, err := storage.FromAny(raw)
	if err != nil {
		return nil, err
	}
	return []storage.Value{v}, nil
}

func applyPull(doc storage.Document, fields map[string]interface{}) error {
	for path, raw := range fields {
		existing, ok := storage.GetPath(doc, path)
		if !ok || existing.Kind() != storage.KindArray {
			continue
		}
		pred, err := pullPredicate(raw)
		if err != nil {
			return err
		}
		out := make([]storage.Value, 0, len(existing.Array()))
		for _, e := range existing.Array() {
			if !pred(e) {
				out = append(out, e)
			}
		}
		storage.SetPath(doc, path, storage.Arr(out))
	}
	return nil
}

// pullPredicate supports a bare value match (deep equality) or a filter
// object evaluated against each element via a one-field synthetic
// document, mirroring ElemMatch's approach.
func pullPredicate(raw interface{}) (func(storage.Value) bool, error) {
	if m, ok := raw.(map[string]interface{}); ok && looksLikeFilter(m) {
		filter, err := parseElementFilter(m)
		if err != nil {
			return nil, err
		}
		return func(e storage.Value) bool {
			return filter(storage.Document{"_elem": e})
		}, nil
	}
	want, err := storage.FromAny(raw)
	if err != nil {
		return nil, err
	}
	return func(e storage.Value) bool { return storage.Equal(e, want) }, nil
}

func looksLikeFilter(m map[string]interface{}) bool {
	for k := range m {
		if len(k) > 0 && k[0] == '$' {
			return true
		}
	}
	return false
}

// parseElementFilter is a narrow stand-in for internal/query's filter
// parser, which this package does not import; it supports the comparison
// operators directly against the synthetic "_elem" field.
func parseElementFilter(m map[string]interface{}) (func(storage.Document) bool, error) {
	conds := make([]func(storage.Document) bool, 0, len(m))
	for op, raw := range m {
		want, err := storage.FromAny(raw)
		if err != nil {
			return nil, err
		}
		switch op {
		case "$eq":
			conds = append(conds, func(d storage.Document) bool { return storage.Compare(d["_elem"], want) == 0 })
		case "$ne":
			conds = append(conds, func(d storage.Document) bool { return storage.Compare(d["_elem"], want) != 0 })
		case "$gt":
			conds = append(conds, func(d storage.Document) bool { return storage.Compare(d["_elem"], want) > 0 })
		case "$gte":
			conds = append(conds, func(d storage.Document) bool { return storage.Compare(d["_elem"], want) >= 0 })
		case "$lt":
			conds = append(conds, func(d storage.Document) bool { return storage.Compare(d["_elem"], want) < 0 })
		case "$lte":
			conds = append(conds, func(d storage.Document) bool { return storage.Compare(d["_elem"], want) <= 0 })
		default:
			return nil, util.Wrap(util.KindInvalidArgument, fmt.Sprintf("unsupported $pull operator %s", op), nil)
		}
	}
	return func(d storage.Document) bool {
		for _, c := range conds {
			if !c(d) {
				return false
			}
		}
		return true
	}, nil
}

func applyAddToSet(doc storage.Document, fields map[string]interface{}) error {
	for path, raw := range fields {
		v, err := storage.FromAny(raw)
		if err != nil {
			return err
		}
		existing, _ := storage.GetPath(doc, path)
		arr := arrayOrEmpty(existing)
		present := false
		for _, e := range arr {
			if storage.Equal(e, v) {
				present = true
				break
			}
		}
		if present {
			continue
		}
		arr = append(arr, v)
		storage.SetPath(doc, path, storage.Arr(arr))
	}
	return nil
}

func applyPop(doc storage.Document, fields map[string]interface{}) error {
	for path, raw := range fields {
		dir, err := toInt(raw)
		if err != nil {
			return err
		}
		existing, ok := storage.GetPath(doc, path)
		if !ok || existing.Kind() != storage.KindArray || len(existing.Array()) == 0 {
			continue
		}
		arr := existing.Array()
		if dir >= 0 {
			arr = arr[:len(arr)-1]
		} else {
			arr = arr[1:]
		}
		storage.SetPath(doc, path, storage.Arr(arr))
	}
	return nil
}

func arrayOrEmpty(v storage.Value) []storage.Value {
	if v.Kind() == storage.KindArray {
		return append([]storage.Value(nil), v.Array()...)
	}
	return nil
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
