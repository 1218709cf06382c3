// Package equation parses and evaluates construct scoring equations.
//
// The surface language covers decimal literals, null, item references
// ({qN}), arithmetic, comparisons, and/or/xor, if/elif/else expressions,
// assignments, and a small function set. Compilation validates the
// program against the owning construct's items; evaluation is pure.
package equation

import "strconv"

// Kind tags a runtime value.
type Kind uint8

const (
	KindNull Kind = iota
	KindNumber
	KindBool
)

// Value is the tagged variant all evaluation traffics in. Null propagates
// through arithmetic and comparisons; aggregate functions drop it.
type Value struct {
	Kind Kind
	Num  float64
	Bool bool
}

// Null returns the null value.
func Null() Value { return Value{Kind: KindNull} }

// Number wraps a float.
func Number(f float64) Value { return Value{Kind: KindNumber, Num: f} }

// Boolean wraps a bool.
func Boolean(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// NumberPtr converts a nullable input into a Value.
func NumberPtr(f *float64) Value {
	if f == nil {
		return Null()
	}
	return Number(*f)
}

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Truthy coerces for logic operators and if conditions: null is false,
// a number is true when non-zero.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindNumber:
		return v.Num != 0
	default:
		return false
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	default:
		return "null"
	}
}
