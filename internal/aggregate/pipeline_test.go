package aggregate

import (
	"testing"

	"github.com/ironbase/ironbase/internal/storage"
)

func doc(t *testing.T, m map[string]interface{}) storage.Document {
	t.Helper()
	v, err := storage.FromAny(m)
	if err != nil {
		t.Fatal(err)
	}
	return v.Map()
}

func TestMatchProjectSortSkipLimit(t *testing.T) {
	docs := []storage.Document{
		doc(t, map[string]interface{}{"name": "a", "score": 3}),
		doc(t, map[string]interface{}{"name": "b", "score": 1}),
		doc(t, map[string]interface{}{"name": "c", "score": 5}),
		doc(t, map[string]interface{}{"name": "d", "score": 0}),
	}

	p, err := Parse([]map[string]interface{}{
		{"$match": map[string]interface{}{"score": map[string]interface{}{"$gt": 0}}},
		{"$project": map[string]interface{}{"name": "$name", "double": map[string]interface{}{"$multiply": []interface{}{"$score", 2}}}},
		{"$sort": map[string]interface{}{"double": -1}},
		{"$skip": 1},
		{"$limit": 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	out, err := p.Run(docs)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 result, got %d", len(out))
	}
	if out[0]["name"].Str() != "a" {
		t.Fatalf("expected 'a' (second-highest double value), got %v", out[0]["name"].Str())
	}
	if out[0]["double"].Int() != 6 {
		t.Fatalf("expected double=6, got %v", out[0]["double"].Int())
	}
}

func TestGroupSumAvgMinMaxFirstLast(t *testing.T) {
	docs := []storage.Document{
		doc(t, map[string]interface{}{"cat": "x", "amount": 10}),
		doc(t, map[string]interface{}{"cat": "x", "amount": 20}),
		doc(t, map[string]interface{}{"cat": "y", "amount": 5}),
	}

	p, err := Parse([]map[string]interface{}{
		{"$group": map[string]interface{}{
			"_id":   "$cat",
			"total": map[string]interface{}{"$sum": "$amount"},
			"avg":   map[string]interface{}{"$avg": "$amount"},
			"min":   map[string]interface{}{"$min": "$amount"},
			"max":   map[string]interface{}{"$max": "$amount"},
			"first": map[string]interface{}{"$first": "$amount"},
			"last":  map[string]interface{}{"$last": "$amount"},
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	out, err := p.Run(docs)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(out))
	}

	byID := map[string]storage.Document{}
	for _, d := range out {
		byID[d["_id"].Str()] = d
	}

	x := byID["x"]
	if x["total"].Int() != 30 {
		t.Errorf("expected total=30 for x, got %v", x["total"].Int())
	}
	if x["avg"].Float() != 15 {
		t.Errorf("expected avg=15 for x, got %v", x["avg"].Float())
	}
	if x["min"].Int() != 10 || x["max"].Int() != 20 {
		t.Errorf("expected min=10 max=20 for x, got min=%v max=%v", x["min"].Int(), x["max"].Int())
	}
	if x["first"].Int() != 10 || x["last"].Int() != 20 {
		t.Errorf("expected first=10 last=20 for x, got first=%v last=%v", x["first"].Int(), x["last"].Int())
	}

	y := byID["y"]
	if y["total"].Int() != 5 {
		t.Errorf("expected total=5 for y, got %v", y["total"].Int())
	}
}

func TestGroupCountByLiteral(t *testing.T) {
	docs := []storage.Document{
		doc(t, map[string]interface{}{"cat": "x"}),
		doc(t, map[string]interface{}{"cat": "x"}),
		doc(t, map[string]interface{}{"cat": "y"}),
	}
	p, err := Parse([]map[string]interface{}{
		{"$group": map[string]interface{}{
			"_id":   "$cat",
			"count": map[string]interface{}{"$sum": 1},
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	out, err := p.Run(docs)
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range out {
		switch d["_id"].Str() {
		case "x":
			if d["count"].Int() != 2 {
				t.Errorf("expected count=2 for x, got %v", d["count"].Int())
			}
		case "y":
			if d["count"].Int() != 1 {
				t.Errorf("expected count=1 for y, got %v", d["count"].Int())
			}
		}
	}
}

func TestConcatRequiresStrings(t *testing.T) {
	d := doc(t, map[string]interface{}{"first": "Jane", "last": "Doe"})
	expr, err := ParseExpr(map[string]interface{}{"$concat": []interface{}{"$first", " ", "$last"}})
	if err != nil {
		t.Fatal(err)
	}
	v, err := expr.Eval(d)
	if err != nil {
		t.Fatal(err)
	}
	if v.Str() != "Jane Doe" {
		t.Fatalf("expected 'Jane Doe', got %q", v.Str())
	}

	nd := doc(t, map[string]interface{}{"first": "Jane", "age": 30})
	bad, err := ParseExpr(map[string]interface{}{"$concat": []interface{}{"$first", "$age"}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := bad.Eval(nd); err == nil {
		t.Fatalf("expected $concat with a non-string operand to fail")
	}
}
