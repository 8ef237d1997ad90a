package patterns

import (
	"fmt"

	"github.com/liamashdown/insiderlens/internal/storage"
)

// Rule logic
const (
	LogicAnd = "AND"
	LogicOr  = "OR"
)

// Operators understood by Condition
const (
	OpGTE = ">="
	OpLTE = "<="
	OpGT  = ">"
	OpLT  = "<"
	OpEQ  = "=="
	OpNE  = "!="
)

var operators = map[string]bool{OpGTE: true, OpLTE: true, OpGT: true, OpLT: true, OpEQ: true, OpNE: true}

// Condition compares one context key against a constant
type Condition struct {
	Metric   string `json:"metric" yaml:"metric" validate:"required,contextkey"`
	Operator string `json:"operator" yaml:"operator" validate:"required,operator"`
	Value    Value  `json:"value" yaml:"value"`
}

// Holds reports whether the condition is satisfied. A missing key or a kind
// mismatch never matches.
func (c Condition) Holds(ctx Context) bool {
	actual, ok := ctx[c.Metric]
	if !ok || actual.kind != c.Value.kind {
		return false
	}

	switch actual.kind {
	case KindBool:
		switch c.Operator {
		case OpEQ:
			return actual.b == c.Value.b
		case OpNE:
			return actual.b != c.Value.b
		}
		return false
	case KindNumber:
		a, want := actual.num, c.Value.num
		switch c.Operator {
		case OpGTE:
			return a >= want
		case OpLTE:
			return a <= want
		case OpGT:
			return a > want
		case OpLT:
			return a < want
		case OpEQ:
			return a == want
		case OpNE:
			return a != want
		}
	}
	return false
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %s", c.Metric, c.Operator, c.Value)
}

// Pattern is the evaluable form of an InsiderPattern
type Pattern struct {
	Name           string
	Conditions     []Condition
	Logic          string
	MinMatches     int
	AlertThreshold float64
}

// Evaluate runs the pattern against a context. AND and plain OR patterns score
// AlertThreshold on a match; OR patterns with MinMatches score
// AlertThreshold * matched/total once at least MinMatches conditions hold.
func (p Pattern) Evaluate(ctx Context) (matched bool, score float64) {
	if len(p.Conditions) == 0 {
		return false, 0
	}

	hits := 0
	for _, c := range p.Conditions {
		if c.Holds(ctx) {
			hits++
		} else if p.Logic == LogicAnd {
			return false, 0
		}
	}

	switch {
	case p.Logic == LogicAnd:
		return true, p.AlertThreshold
	case p.MinMatches > 0:
		if hits < p.MinMatches {
			return false, 0
		}
		return true, p.AlertThreshold * float64(hits) / float64(len(p.Conditions))
	case hits > 0:
		return true, p.AlertThreshold
	}
	return false, 0
}

// Match evaluates every pattern and returns matched name -> score
func Match(patterns []Pattern, ctx Context) map[string]float64 {
	out := make(map[string]float64)
	for _, p := range patterns {
		if ok, score := p.Evaluate(ctx); ok {
			out[p.Name] = score
		}
	}
	return out
}

// Highest returns the best score in a match map, nil when empty
func Highest(matches map[string]float64) *float64 {
	if len(matches) == 0 {
		return nil
	}
	var best float64
	first := true
	for _, s := range matches {
		if first || s > best {
			best = s
			first = false
		}
	}
	return &best
}

// FromModel converts a persisted pattern into its evaluable form
func FromModel(m storage.InsiderPattern) (Pattern, error) {
	p := Pattern{
		Name:           m.Name,
		Logic:          m.Logic,
		MinMatches:     m.MinMatches,
		AlertThreshold: m.AlertThreshold,
		Conditions:     make([]Condition, 0, len(m.Conditions)),
	}
	for i, c := range m.Conditions {
		v, err := FromAny(c.Value)
		if err != nil {
			return Pattern{}, fmt.Errorf("pattern %s condition %d: %w", m.Name, i, err)
		}
		p.Conditions = append(p.Conditions, Condition{Metric: c.Metric, Operator: c.Operator, Value: v})
	}
	return p, nil
}

func toModelConditions(conds []Condition) []storage.PatternCondition {
	out := make([]storage.PatternCondition, 0, len(conds))
	for _, c := range conds {
		out = append(out, storage.PatternCondition{Metric: c.Metric, Operator: c.Operator, Value: c.Value.Any()})
	}
	return out
}
