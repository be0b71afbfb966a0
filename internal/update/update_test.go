package update

import (
	"testing"

	"github.com/ironbase/ironbase/internal/storage"
)

func TestPushAddToSetPullPop(t *testing.T) {
	doc := storage.Document{"tags": storage.Arr([]storage.Value{storage.Str("a"), storage.Str("b")})}

	changed, err := Apply(doc, map[string]interface{}{"$push": map[string]interface{}{"tags": "c"}})
	if err != nil || !changed {
		t.Fatalf("push: changed=%v err=%v", changed, err)
	}
	if n := len(doc["tags"].Array()); n != 3 {
		t.Fatalf("expected 3 tags, got %d", n)
	}

	changed, err = Apply(doc, map[string]interface{}{"$addToSet": map[string]interface{}{"tags": "c"}})
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Errorf("addToSet of an already-present value must report modified_count=0")
	}

	changed, err = Apply(doc, map[string]interface{}{"$pull": map[string]interface{}{"tags": "a"}})
	if err != nil || !changed {
		t.Fatalf("pull: changed=%v err=%v", changed, err)
	}
	got := doc["tags"].Array()
	if len(got) != 2 || got[0].Str() != "b" || got[1].Str() != "c" {
		t.Fatalf("unexpected tags after pull: %v", got)
	}

	changed, err = Apply(doc, map[string]interface{}{"$pop": map[string]interface{}{"tags": 1}})
	if err != nil || !changed {
		t.Fatalf("pop: changed=%v err=%v", changed, err)
	}
	if got := doc["tags"].Array(); len(got) != 1 || got[0].Str() != "b" {
		t.Fatalf("unexpected tags after pop: %v", got)
	}
}

func TestIncSetUnset(t *testing.T) {
	doc := storage.Document{"x": storage.Int(5)}

	if _, err := Apply(doc, map[string]interface{}{"$inc": map[string]interface{}{"x": 3}}); err != nil {
		t.Fatal(err)
	}
	if doc["x"].Int() != 8 {
		t.Fatalf("expected x=8, got %v", doc["x"].Int())
	}

	if _, err := Apply(doc, map[string]interface{}{"$set": map[string]interface{}{"y.z": "hi"}}); err != nil {
		t.Fatal(err)
	}
	if v, ok := storage.GetPath(doc, "y.z"); !ok || v.Str() != "hi" {
		t.Fatalf("expected nested set to create intermediate map")
	}

	if _, err := Apply(doc, map[string]interface{}{"$unset": map[string]interface{}{"x": ""}}); err != nil {
		t.Fatal(err)
	}
	if _, ok := doc["x"]; ok {
		t.Fatalf("expected x to be unset")
	}
}

func TestIncOnNonNumericFails(t *testing.T) {
	doc := storage.Document{"x": storage.Str("nope")}
	if _, err := Apply(doc, map[string]interface{}{"$inc": map[string]interface{}{"x": 1}}); err == nil {
		t.Fatalf("expected error incrementing a non-numeric field")
	}
}

func TestRepeatedSetIsIdempotent(t *testing.T) {
	doc := storage.Document{"x": storage.Int(1)}
	ops := map[string]interface{}{"$set": map[string]interface{}{"x": 5}}

	changed1, err := Apply(doc, ops)
	if err != nil || !changed1 {
		t.Fatalf("first set: changed=%v err=%v", changed1, err)
	}
	changed2, err := Apply(doc, ops)
	if err != nil {
		t.Fatal(err)
	}
	if changed2 {
		t.Errorf("second identical $set should report modified_count=0")
	}
}

// TestRepeatedSetIsIdempotentMultiKey repeats TestRepeatedSetIsIdempotent
// against a document with several top-level keys: re-encoding an unchanged
// multi-key document must not spuriously report a change purely from map
// iteration order.
func TestRepeatedSetIsIdempotentMultiKey(t *testing.T) {
	doc := storage.Document{
		"a": storage.Int(1),
		"b": storage.Str("hi"),
		"c": storage.Bool(true),
		"d": storage.Arr([]storage.Value{storage.Int(1), storage.Int(2)}),
		"e": storage.Int(1),
	}
	ops := map[string]interface{}{"$set": map[string]interface{}{"e": 5}}

	changed1, err := Apply(doc, ops)
	if err != nil || !changed1 {
		t.Fatalf("first set: changed=%v err=%v", changed1, err)
	}
	for i := 0; i < 20; i++ {
		changed2, err := Apply(doc, ops)
		if err != nil {
			t.Fatal(err)
		}
		if changed2 {
			t.Fatalf("iteration %d: repeated identical $set against a multi-key document should report modified_count=0", i)
		}
	}
}
