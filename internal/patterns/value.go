package patterns

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Kind is the type tag of a Value
type Kind uint8

const (
	KindInvalid Kind = iota
	KindNumber
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	}
	return "invalid"
}

// Value is a rule operand: a number or a boolean. The zero Value is invalid.
type Value struct {
	kind Kind
	num  float64
	b    bool
}

// Number wraps a float
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Bool wraps a bool
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

func (v Value) Kind() Kind { return v.kind }

// Valid reports whether v holds a number or a boolean
func (v Value) Valid() bool { return v.kind != KindInvalid }

// Float returns the number held by v
func (v Value) Float() (float64, bool) { return v.num, v.kind == KindNumber }

// BoolValue returns the boolean held by v
func (v Value) BoolValue() (bool, bool) { return v.b, v.kind == KindBool }

// Any returns v as float64, bool or nil, the shape it takes in persisted JSON
func (v Value) Any() any {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	}
	return nil
}

func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	}
	return "<invalid>"
}

// FromAny converts a decoded JSON/YAML scalar into a Value
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("%w: value %q", ErrInvalidPattern, t)
		}
		return Number(f), nil
	case bool:
		return Bool(t), nil
	case Value:
		return t, nil
	}
	return Value{}, fmt.Errorf("%w: value %v of type %T is neither number nor bool", ErrInvalidPattern, x, x)
}

func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Valid() {
		return []byte("null"), nil
	}
	return json.Marshal(v.Any())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "true":
		*v = Bool(true)
		return nil
	case "false":
		*v = Bool(false)
		return nil
	case "null":
		*v = Value{}
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("%w: value %s is neither number nor bool", ErrInvalidPattern, data)
	}
	*v = Number(f)
	return nil
}

func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("%w: value at line %d is not a scalar", ErrInvalidPattern, node.Line)
	}
	switch node.Tag {
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return err
		}
		*v = Bool(b)
		return nil
	case "!!int", "!!float":
		var f float64
		if err := node.Decode(&f); err != nil {
			return err
		}
		*v = Number(f)
		return nil
	}
	return fmt.Errorf("%w: value %q at line %d is neither number nor bool", ErrInvalidPattern, node.Value, node.Line)
}
