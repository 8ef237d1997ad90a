package patterns

import (
	"encoding/json"
	"testing"

	"github.com/liamashdown/insiderlens/internal/storage"
	"gopkg.in/yaml.v3"
)

func TestConditionHolds(t *testing.T) {
	ctx := Context{
		"size_zscore":     Number(2.5),
		"trinity_pattern": Bool(true),
	}

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"gte true", Condition{"size_zscore", OpGTE, Number(2.5)}, true},
		{"gt false at boundary", Condition{"size_zscore", OpGT, Number(2.5)}, false},
		{"lt", Condition{"size_zscore", OpLT, Number(3)}, true},
		{"lte", Condition{"size_zscore", OpLTE, Number(2)}, false},
		{"eq number", Condition{"size_zscore", OpEQ, Number(2.5)}, true},
		{"ne number", Condition{"size_zscore", OpNE, Number(2.5)}, false},
		{"eq bool", Condition{"trinity_pattern", OpEQ, Bool(true)}, true},
		{"ne bool", Condition{"trinity_pattern", OpNE, Bool(true)}, false},
		{"ordered bool never holds", Condition{"trinity_pattern", OpGTE, Bool(true)}, false},
		{"missing key", Condition{"timing_zscore", OpGTE, Number(0)}, false},
		{"kind mismatch", Condition{"trinity_pattern", OpEQ, Number(1)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cond.Holds(ctx); got != tt.want {
				t.Errorf("%s: Holds() = %v, want %v", tt.cond, got, tt.want)
			}
		})
	}
}

func TestPatternEvaluate(t *testing.T) {
	conds := []Condition{
		{"size_zscore", OpGTE, Number(2)},
		{"timing_zscore", OpLTE, Number(-1.5)},
		{"wallet_age_zscore", OpLTE, Number(-1.5)},
		{"position_concentration", OpGTE, Number(0.9)},
	}
	// two of four hold; wallet_age_zscore is absent
	ctx := Context{
		"size_zscore":            Number(3),
		"timing_zscore":          Number(-2),
		"position_concentration": Number(0.5),
	}

	tests := []struct {
		name        string
		pattern     Pattern
		wantMatched bool
		wantScore   float64
	}{
		{"and fails", Pattern{Conditions: conds, Logic: LogicAnd, AlertThreshold: 0.8}, false, 0},
		{"and holds", Pattern{Conditions: conds[:2], Logic: LogicAnd, AlertThreshold: 0.8}, true, 0.8},
		{"plain or", Pattern{Conditions: conds, Logic: LogicOr, AlertThreshold: 0.6}, true, 0.6},
		{"min matches met is graded", Pattern{Conditions: conds, Logic: LogicOr, MinMatches: 2, AlertThreshold: 0.8}, true, 0.4},
		{"min matches not met", Pattern{Conditions: conds, Logic: LogicOr, MinMatches: 3, AlertThreshold: 0.8}, false, 0},
		{"or none hold", Pattern{Conditions: conds[2:], Logic: LogicOr, AlertThreshold: 0.6}, false, 0},
		{"empty never matches", Pattern{Logic: LogicAnd, AlertThreshold: 1}, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matched, score := tt.pattern.Evaluate(ctx)
			if matched != tt.wantMatched {
				t.Errorf("matched = %v, want %v", matched, tt.wantMatched)
			}
			if score != tt.wantScore {
				t.Errorf("score = %v, want %v", score, tt.wantScore)
			}
		})
	}
}

func TestMatchAndHighest(t *testing.T) {
	ps := []Pattern{
		{Name: "a", Conditions: []Condition{{"anomaly_score", OpGTE, Number(0.5)}}, Logic: LogicAnd, AlertThreshold: 0.7},
		{Name: "b", Conditions: []Condition{{"anomaly_score", OpGTE, Number(0.1)}}, Logic: LogicAnd, AlertThreshold: 0.9},
		{Name: "c", Conditions: []Condition{{"anomaly_score", OpGTE, Number(0.99)}}, Logic: LogicAnd, AlertThreshold: 1},
	}
	got := Match(ps, Context{"anomaly_score": Number(0.6)})
	if len(got) != 2 || got["a"] != 0.7 || got["b"] != 0.9 {
		t.Fatalf("Match() = %v", got)
	}
	if h := Highest(got); h == nil || *h != 0.9 {
		t.Errorf("Highest() = %v, want 0.9", h)
	}
	if Highest(map[string]float64{}) != nil {
		t.Error("Highest() of empty map should be nil")
	}
}

func TestValueDecoding(t *testing.T) {
	var conds []Condition
	if err := json.Unmarshal([]byte(`[{"metric":"size_zscore","operator":">=","value":2},{"metric":"was_correct","operator":"==","value":true}]`), &conds); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	if f, ok := conds[0].Value.Float(); !ok || f != 2 {
		t.Errorf("expected number 2, got %v", conds[0].Value)
	}
	if b, ok := conds[1].Value.BoolValue(); !ok || !b {
		t.Errorf("expected bool true, got %v", conds[1].Value)
	}
	if err := json.Unmarshal([]byte(`{"metric":"x","operator":">=","value":"high"}`), &Condition{}); err == nil {
		t.Error("string values should be rejected")
	}

	var c Condition
	if err := yaml.Unmarshal([]byte("{metric: trinity_pattern, operator: '==', value: false}"), &c); err != nil {
		t.Fatalf("yaml decode: %v", err)
	}
	if c.Value.Kind() != KindBool {
		t.Errorf("expected bool kind, got %v", c.Value.Kind())
	}
	if err := yaml.Unmarshal([]byte("{metric: x, operator: '==', value: maybe}"), &c); err == nil {
		t.Error("non-scalar-typed yaml value should be rejected")
	}

	out, _ := json.Marshal(Number(1.5))
	if string(out) != "1.5" {
		t.Errorf("Marshal(Number(1.5)) = %s", out)
	}
}

func TestFromModel(t *testing.T) {
	m := storage.InsiderPattern{
		Name:  "p",
		Logic: LogicAnd,
		Conditions: []storage.PatternCondition{
			{Metric: "size_zscore", Operator: OpGTE, Value: 2.0},
			{Metric: "trinity_pattern", Operator: OpEQ, Value: true},
		},
		AlertThreshold: 0.5,
	}
	p, err := FromModel(m)
	if err != nil {
		t.Fatalf("FromModel: %v", err)
	}
	if ok, _ := p.Evaluate(Context{"size_zscore": Number(2), "trinity_pattern": Bool(true)}); !ok {
		t.Error("converted pattern should match")
	}

	m.Conditions[0].Value = "two"
	if _, err := FromModel(m); err == nil {
		t.Error("string condition value should fail conversion")
	}
}
