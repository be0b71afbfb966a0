package aggregate

import (
	"fmt"

	"github.com/ironbase/ironbase/internal/query"
	"github.com/ironbase/ironbase/internal/storage"
	"github.com/ironbase/ironbase/internal/util"
)

// Stage is one pipeline step; Run consumes docs and produces the next
// stage's input.
type Stage interface {
	Run(docs []storage.Document) ([]storage.Document, error)
}

// Pipeline is an ordered list of stages, executed in declaration order.
type Pipeline struct {
	Stages []Stage
}

// Run streams docs through every stage.
func (p *Pipeline) Run(docs []storage.Document) ([]storage.Document, error) {
	cur := docs
	for _, s := range p.Stages {
		var err error
		cur, err = s.Run(cur)
		if err != nil {
			return nil, err
		}
	}
	return cur, nil
}

// Parse converts a public pipeline ([]map[string]interface{}, one stage
// operator per element) into a Pipeline.
func Parse(raw []map[string]interface{}) (*Pipeline, error) {
	stages := make([]Stage, 0, len(raw))
	for _, stageMap := range raw {
		if len(stageMap) != 1 {
			return nil, util.Wrap(util.KindInvalidArgument, "pipeline stage must have exactly one operator", nil)
		}
		for op, val := range stageMap {
			s, err := parseStage(op, val)
			if err != nil {
				return nil, err
			}
			stages = append(stages, s)
		}
	}
	return &Pipeline{Stages: stages}, nil
}

func parseStage(op string, val interface{}) (Stage, error) {
	switch op {
	case "$match":
		m, ok := val.(map[string]interface{})
		if !ok {
			return nil, util.Wrap(util.KindInvalidArgument, "$match requires an object", nil)
		}
		f, err := query.Parse(m)
		if err != nil {
			return nil, err
		}
		return &MatchStage{Filter: f}, nil
	case "$project":
		m, ok := val.(map[string]interface{})
		if !ok {
			return nil, util.Wrap(util.KindInvalidArgument, "$project requires an object", nil)
		}
		fields := make(map[string]Expr, len(m))
		for k, v := range m {
			e, err := ParseExpr(v)
			if err != nil {
				return nil, err
			}
			fields[k] = e
		}
		return &ProjectStage{Fields: fields}, nil
	case "$group":
		m, ok := val.(map[string]interface{})
		if !ok {
			return nil, util.Wrap(util.KindInvalidArgument, "$group requires an object", nil)
		}
		return parseGroupStage(m)
	case "$sort":
		m, ok := val.(map[string]interface{})
		if !ok {
			return nil, util.Wrap(util.KindInvalidArgument, "$sort requires an object", nil)
		}
		spec := make([]query.SortField, 0, len(m))
		for k, v := range m {
			desc := false
			if n, ok := toFloat(v); ok {
				desc = n < 0
			}
			spec = append(spec, query.SortField{Path: k, Desc: desc})
		}
		return &SortStage{Spec: spec}, nil
	case "$skip":
		n, ok := toFloat(val)
		if !ok {
			return nil, util.Wrap(util.KindInvalidArgument, "$skip requires a number", nil)
		}
		return &SkipStage{N: int(n)}, nil
	case "$limit":
		n, ok := toFloat(val)
		if !ok {
			return nil, util.Wrap(util.KindInvalidArgument, "$limit requires a number", nil)
		}
		return &LimitStage{N: int(n)}, nil
	default:
		return nil, util.Wrap(util.KindInvalidArgument, fmt.Sprintf("unknown pipeline stage %s", op), nil)
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}

// MatchStage filters using the same filter semantics as find.
type MatchStage struct{ Filter query.Filter }

func (s *MatchStage) Run(docs []storage.Document) ([]storage.Document, error) {
	out := make([]storage.Document, 0, len(docs))
	for _, d := range docs {
		if s.Filter.Match(d) {
			out = append(out, d)
		}
	}
	return out, nil
}

// ProjectStage computes expression-valued output fields.
type ProjectStage struct{ Fields map[string]Expr }

func (s *ProjectStage) Run(docs []storage.Document) ([]storage.Document, error) {
	out := make([]storage.Document, len(docs))
	for i, d := range docs {
		nd := storage.Document{}
		for name, expr := range s.Fields {
			v, err := expr.Eval(d)
			if err != nil {
				return nil, err
			}
			nd[name] = v
		}
		out[i] = nd
	}
	return out, nil
}

// SortStage reorders using find's sort semantics.
type SortStage struct{ Spec []query.SortField }

func (s *SortStage) Run(docs []storage.Document) ([]storage.Document, error) {
	query.Sort(docs, s.Spec)
	return docs, nil
}

// SkipStage drops the first N documents.
type SkipStage struct{ N int }

func (s *SkipStage) Run(docs []storage.Document) ([]storage.Document, error) {
	if s.N >= len(docs) {
		return nil, nil
	}
	if s.N <= 0 {
		return docs, nil
	}
	return docs[s.N:], nil
}

// LimitStage caps the result to the first N documents.
type LimitStage struct{ N int }

func (s *LimitStage) Run(docs []storage.Document) ([]storage.Document, error) {
	if s.N < 0 || s.N >= len(docs) {
		return docs, nil
	}
	return docs[:s.N], nil
}
