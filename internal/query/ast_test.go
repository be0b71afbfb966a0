package query

import (
	"testing"

	"github.com/ironbase/ironbase/internal/storage"
)

func mustParse(t *testing.T, raw map[string]interface{}) Filter {
	t.Helper()
	f, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return f
}

func TestParseAndMatchEquality(t *testing.T) {
	f := mustParse(t, map[string]interface{}{"role": "admin"})
	doc1 := storage.Document{"role": storage.Str("admin"), "age": storage.Int(30)}
	doc2 := storage.Document{"role": storage.Str("user"), "age": storage.Int(25)}

	if !f.Match(doc1) {
		t.Errorf("doc1 should match")
	}
	if f.Match(doc2) {
		t.Errorf("doc2 should not match")
	}
}

func TestComparisonAndAnd(t *testing.T) {
	f := mustParse(t, map[string]interface{}{
		"role": "admin",
		"age":  map[string]interface{}{"$gt": 20},
	})
	doc1 := storage.Document{"role": storage.Str("admin"), "age": storage.Int(30)}
	doc2 := storage.Document{"role": storage.Str("admin"), "age": storage.Int(10)}

	if !f.Match(doc1) {
		t.Errorf("doc1 should match")
	}
	if f.Match(doc2) {
		t.Errorf("doc2 should not match")
	}
}

func TestNumericCrossKindEquality(t *testing.T) {
	f := mustParse(t, map[string]interface{}{"v": 1})
	if !f.Match(storage.Document{"v": storage.Float(1.0)}) {
		t.Errorf("1 == 1.0 must match")
	}
}

func TestExistsOnMissingField(t *testing.T) {
	notExists := mustParse(t, map[string]interface{}{"missing": map[string]interface{}{"$exists": false}})
	if !notExists.Match(storage.Document{"a": storage.Int(1)}) {
		t.Errorf("$exists:false should match a missing field")
	}

	eq := mustParse(t, map[string]interface{}{"missing": "x"})
	if eq.Match(storage.Document{"a": storage.Int(1)}) {
		t.Errorf("direct equality on a missing field must not match")
	}
}

func TestEmptyFilterMatchesEverything(t *testing.T) {
	f := mustParse(t, map[string]interface{}{})
	if !f.Match(storage.Document{}) {
		t.Errorf("empty filter should match any document")
	}
}

func TestArrayFanOut(t *testing.T) {
	f := mustParse(t, map[string]interface{}{"tags": "b"})
	doc := storage.Document{"tags": storage.Arr([]storage.Value{storage.Str("a"), storage.Str("b")})}
	if !f.Match(doc) {
		t.Errorf("equality against an array field should match if any element matches")
	}
}

func TestOrAndNot(t *testing.T) {
	f := mustParse(t, map[string]interface{}{
		"$or": []interface{}{
			map[string]interface{}{"a": 1},
			map[string]interface{}{"a": 2},
		},
	})
	if !f.Match(storage.Document{"a": storage.Int(2)}) {
		t.Errorf("$or should match either branch")
	}
	if f.Match(storage.Document{"a": storage.Int(3)}) {
		t.Errorf("$or should not match neither branch")
	}

	not := mustParse(t, map[string]interface{}{"$not": map[string]interface{}{"a": 1}})
	if !not.Match(storage.Document{"a": storage.Int(2)}) {
		t.Errorf("$not should invert its child")
	}
}

func TestElemMatch(t *testing.T) {
	f := mustParse(t, map[string]interface{}{
		"scores": map[string]interface{}{
			"$elemMatch": map[string]interface{}{"scores": map[string]interface{}{"$gt": 80}},
		},
	})
	doc := storage.Document{"scores": storage.Arr([]storage.Value{storage.Int(10), storage.Int(90)})}
	if !f.Match(doc) {
		t.Errorf("elemMatch should find the matching element")
	}
}
