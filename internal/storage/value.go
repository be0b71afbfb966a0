// Package storage implements the primary store file, the document value
// model, and the on-disk document catalog.
//
// The value model is grounded on Felmond13-novusdb's storage.Field /
// FieldType tagged design (a closed set of kinds dispatched by a type tag,
// not Go interface polymorphism) rather than the teacher's
// map[string]interface{} + encoding/json representation, because JSON
// numbers decode to float64 and cannot preserve the int/float distinction
// the value model requires.
package storage

import (
	"fmt"
	"sort"
	"strings"
)

// Kind tags the type of a Value, mirroring Felmond13's FieldType enum.
type Kind byte

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindArray
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// rank orders kinds for cross-kind comparisons per the value model's total
// order: null < bool < number < string < array < map.
func (k Kind) rank() int {
	switch k {
	case KindNull:
		return 0
	case KindBool:
		return 1
	case KindInt, KindFloat:
		return 2
	case KindString:
		return 3
	case KindArray:
		return 4
	case KindMap:
		return 5
	default:
		return 6
	}
}

// Value is a recursive document value: null, bool, int64, float64, string,
// array of values, or a mapping from string key to value.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	arr  []Value
	m    Document
}

// Document is a mapping from string key to Value. Every document carries a
// mandatory "_id" key once stored.
type Document map[string]Value

func Null() Value               { return Value{kind: KindNull} }
func Bool(b bool) Value         { return Value{kind: KindBool, b: b} }
func Int(i int64) Value         { return Value{kind: KindInt, i: i} }
func Float(f float64) Value     { return Value{kind: KindFloat, f: f} }
func Str(s string) Value        { return Value{kind: KindString, s: s} }
func Arr(a []Value) Value       { return Value{kind: KindArray, arr: a} }
func Map(m Document) Value      { return Value{kind: KindMap, m: m} }

func (v Value) Kind() Kind    { return v.kind }
func (v Value) IsNull() bool  { return v.kind == KindNull }
func (v Value) Bool() bool    { return v.b }
func (v Value) Int() int64    { return v.i }
func (v Value) Float() float64 {
	if v.kind == KindInt {
		return float64(v.i)
	}
	return v.f
}
func (v Value) Str() string       { return v.s }
func (v Value) Array() []Value    { return v.arr }
func (v Value) Map() Document     { return v.m }
func (v Value) IsNumber() bool    { return v.kind == KindInt || v.kind == KindFloat }

// FromAny converts a plain Go value (as produced by a binding layer) into a
// Value, the boundary conversion point between host code and the engine.
func FromAny(x interface{}) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case string:
		return Str(t), nil
	case []interface{}:
		out := make([]Value, len(t))
		for i, e := range t {
			ev, err := FromAny(e)
			if err != nil {
				return Value{}, err
			}
			out[i] = ev
		}
		return Arr(out), nil
	case []Value:
		return Arr(t), nil
	case map[string]interface{}:
		out := make(Document, len(t))
		for k, e := range t {
			ev, err := FromAny(e)
			if err != nil {
				return Value{}, err
			}
			out[k] = ev
		}
		return Map(out), nil
	case Document:
		return Map(t), nil
	case Value:
		return t, nil
	default:
		return Value{}, fmt.Errorf("storage: unsupported value type %T", x)
	}
}

// ToAny converts a Value back into a plain Go value, the inverse of FromAny.
func ToAny(v Value) interface{} {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindArray:
		out := make([]interface{}, len(v.arr))
		for i, e := range v.arr {
			out[i] = ToAny(e)
		}
		return out
	case KindMap:
		out := make(map[string]interface{}, len(v.m))
		for k, e := range v.m {
			out[k] = ToAny(e)
		}
		return out
	default:
		return nil
	}
}

// Clone deep-copies a Value, following the teacher's Document.Clone pattern.
func (v Value) Clone() Value {
	switch v.kind {
	case KindArray:
		cp := make([]Value, len(v.arr))
		for i, e := range v.arr {
			cp[i] = e.Clone()
		}
		return Arr(cp)
	case KindMap:
		return Map(v.m.Clone())
	default:
		return v
	}
}

// Clone deep-copies a Document.
func (d Document) Clone() Document {
	cp := make(Document, len(d))
	for k, v := range d {
		cp[k] = v.Clone()
	}
	return cp
}

// Equal reports deep equality, used by $addToSet and $pull value matching.
func Equal(a, b Value) bool {
	return Compare(a, b) == 0
}

// Compare implements the value model's total order: null < bool < number <
// string < array < map; numbers compare by numeric value regardless of
// int/float tag; strings by code-point (byte, since UTF-8 preserves code
// point order) order; arrays and maps lexicographically by element/key.
func Compare(a, b Value) int {
	ra, rb := a.kind.rank(), b.kind.rank()
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch a.kind {
	case KindNull:
		return 0
	case KindBool:
		if a.b == b.b {
			return 0
		}
		if !a.b {
			return -1
		}
		return 1
	case KindInt, KindFloat:
		af, bf := a.Float(), b.Float()
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	case KindString:
		return strings.Compare(a.s, b.s)
	case KindArray:
		for i := 0; i < len(a.arr) && i < len(b.arr); i++ {
			if c := Compare(a.arr[i], b.arr[i]); c != 0 {
				return c
			}
		}
		return len(a.arr) - len(b.arr)
	case KindMap:
		ak := make([]string, 0, len(a.m))
		for k := range a.m {
			ak = append(ak, k)
		}
		sort.Strings(ak)
		bk := make([]string, 0, len(b.m))
		for k := range b.m {
			bk = append(bk, k)
		}
		sort.Strings(bk)
		for i := 0; i < len(ak) && i < len(bk); i++ {
			if c := strings.Compare(ak[i], bk[i]); c != 0 {
				return c
			}
			if c := Compare(a.m[ak[i]], b.m[bk[i]]); c != 0 {
				return c
			}
		}
		return len(ak) - len(bk)
	default:
		return 0
	}
}
