package equation

import (
	"fmt"
	"math"
	"strconv"
)

// EvalError is a runtime evaluation failure (division by zero, negative
// sqrt, non-numeric operands). The score computer records such scores as
// null and emits an observability event; the request still succeeds.
type EvalError struct {
	Pos Pos
	Msg string
}

func (e *EvalError) Error() string { return fmt.Sprintf("%s: %s", e.Pos, e.Msg) }

func evalErrf(pos Pos, format string, args ...interface{}) error {
	return &EvalError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// Evaluate runs the program against typed item inputs keyed by item
// number. Missing keys evaluate as null. Evaluation is pure and
// deterministic; the result is the last statement's value.
func (c *Compiled) Evaluate(inputs map[int]Value) (Value, error) {
	env := make(map[string]Value)
	var result Value
	for _, stmt := range c.prog.stmts {
		v, err := evalNode(stmt, inputs, env)
		if err != nil {
			return Null(), err
		}
		if a, ok := stmt.(assign); ok {
			env[a.name] = v
		}
		result = v
	}
	return result, nil
}

func evalNode(n Node, inputs map[int]Value, env map[string]Value) (Value, error) {
	switch x := n.(type) {
	case numberLit:
		return Number(x.v), nil
	case nullLit:
		return Null(), nil
	case itemRef:
		v, ok := inputs[x.n]
		if !ok {
			return Null(), nil
		}
		return v, nil
	case varRef:
		return env[x.name], nil
	case assign:
		return evalNode(x.expr, inputs, env)
	case unary:
		return evalUnary(x, inputs, env)
	case binary:
		return evalBinary(x, inputs, env)
	case call:
		return evalCall(x, inputs, env)
	case ifExpr:
		return evalIf(x, inputs, env)
	default:
		return Null(), evalErrf(n.nodePos(), "unhandled node %T", n)
	}
}

func evalUnary(x unary, inputs map[int]Value, env map[string]Value) (Value, error) {
	v, err := evalNode(x.x, inputs, env)
	if err != nil {
		return Null(), err
	}
	if v.IsNull() {
		return Null(), nil
	}
	if v.Kind != KindNumber {
		return Null(), evalErrf(x.p, "cannot negate a boolean")
	}
	return Number(-v.Num), nil
}

func evalBinary(x binary, inputs map[int]Value, env map[string]Value) (Value, error) {
	// Logic operators come first: and/or short-circuit, xor is strict.
	switch x.op {
	case tokAnd:
		l, err := evalNode(x.l, inputs, env)
		if err != nil {
			return Null(), err
		}
		if !l.Truthy() {
			return Boolean(false), nil
		}
		r, err := evalNode(x.r, inputs, env)
		if err != nil {
			return Null(), err
		}
		return Boolean(r.Truthy()), nil
	case tokOr:
		l, err := evalNode(x.l, inputs, env)
		if err != nil {
			return Null(), err
		}
		if l.Truthy() {
			return Boolean(true), nil
		}
		r, err := evalNode(x.r, inputs, env)
		if err != nil {
			return Null(), err
		}
		return Boolean(r.Truthy()), nil
	case tokXor:
		l, err := evalNode(x.l, inputs, env)
		if err != nil {
			return Null(), err
		}
		r, err := evalNode(x.r, inputs, env)
		if err != nil {
			return Null(), err
		}
		return Boolean(l.Truthy() != r.Truthy()), nil
	}

	l, err := evalNode(x.l, inputs, env)
	if err != nil {
		return Null(), err
	}
	r, err := evalNode(x.r, inputs, env)
	if err != nil {
		return Null(), err
	}

	// Null propagates through arithmetic and comparisons.
	if l.IsNull() || r.IsNull() {
		return Null(), nil
	}

	switch x.op {
	case tokEq, tokNe:
		if l.Kind == KindBool && r.Kind == KindBool {
			eq := l.Bool == r.Bool
			if x.op == tokNe {
				eq = !eq
			}
			return Boolean(eq), nil
		}
	}

	if l.Kind != KindNumber || r.Kind != KindNumber {
		return Null(), evalErrf(x.p, "operator %q needs numeric operands", opText(x.op))
	}

	switch x.op {
	case tokPlus:
		return Number(l.Num + r.Num), nil
	case tokMinus:
		return Number(l.Num - r.Num), nil
	case tokStar:
		return Number(l.Num * r.Num), nil
	case tokSlash:
		if r.Num == 0 {
			return Null(), evalErrf(x.p, "division by zero")
		}
		return Number(l.Num / r.Num), nil
	case tokCaret:
		out := math.Pow(l.Num, r.Num)
		if math.IsNaN(out) || math.IsInf(out, 0) {
			return Null(), evalErrf(x.p, "power produced a non-numeric result")
		}
		return Number(out), nil
	case tokEq:
		return Boolean(l.Num == r.Num), nil
	case tokNe:
		return Boolean(l.Num != r.Num), nil
	case tokLt:
		return Boolean(l.Num < r.Num), nil
	case tokLe:
		return Boolean(l.Num <= r.Num), nil
	case tokGt:
		return Boolean(l.Num > r.Num), nil
	case tokGe:
		return Boolean(l.Num >= r.Num), nil
	default:
		return Null(), evalErrf(x.p, "unknown operator")
	}
}

// A null condition selects the next branch; the selected branch's value
// is returned as-is, null included.
func evalIf(x ifExpr, inputs map[int]Value, env map[string]Value) (Value, error) {
	for _, b := range x.branches {
		cond, err := evalNode(b.cond, inputs, env)
		if err != nil {
			return Null(), err
		}
		if cond.Truthy() {
			return evalNode(b.then, inputs, env)
		}
	}
	return evalNode(x.els, inputs, env)
}

func evalCall(x call, inputs map[int]Value, env map[string]Value) (Value, error) {
	args := make([]Value, len(x.args))
	for i, a := range x.args {
		v, err := evalNode(a, inputs, env)
		if err != nil {
			return Null(), err
		}
		args[i] = v
	}

	switch x.name {
	case "abs":
		return mapNumber(x, args[0], math.Abs)
	case "sqrt":
		if args[0].IsNull() {
			return Null(), nil
		}
		if args[0].Kind != KindNumber {
			return Null(), evalErrf(x.p, "sqrt needs a numeric argument")
		}
		if args[0].Num < 0 {
			return Null(), evalErrf(x.p, "square root of a negative number")
		}
		return Number(math.Sqrt(args[0].Num)), nil
	case "round":
		return evalRound(x, args)
	case "count_available":
		n := 0
		for _, a := range args {
			if !a.IsNull() {
				n++
			}
		}
		return Number(float64(n)), nil
	case "sum", "min", "max", "mean":
		return evalAggregate(x, args)
	default:
		return Null(), evalErrf(x.p, "unknown function %q", x.name)
	}
}

func mapNumber(x call, v Value, f func(float64) float64) (Value, error) {
	if v.IsNull() {
		return Null(), nil
	}
	if v.Kind != KindNumber {
		return Null(), evalErrf(x.p, "%s needs a numeric argument", x.name)
	}
	return Number(f(v.Num)), nil
}

// round is half-to-even, with an optional digit count.
func evalRound(x call, args []Value) (Value, error) {
	if args[0].IsNull() {
		return Null(), nil
	}
	if args[0].Kind != KindNumber {
		return Null(), evalErrf(x.p, "round needs a numeric argument")
	}
	digits := 0
	if len(args) == 2 {
		if args[1].Kind != KindNumber {
			return Null(), evalErrf(x.p, "round digits must be numeric")
		}
		digits = int(math.Trunc(args[1].Num))
	}
	if digits < 0 {
		scale := math.Pow(10, float64(digits))
		return Number(math.RoundToEven(args[0].Num*scale) / scale), nil
	}
	// Rounding in decimal, not on the scaled binary value: 2.345 is
	// stored just below 2.345, so round(2.345, 2) must be 2.34.
	rounded, _ := strconv.ParseFloat(strconv.FormatFloat(args[0].Num, 'f', digits, 64), 64)
	return Number(rounded), nil
}

// sum/min/max/mean drop nulls; all-null input yields null.
func evalAggregate(x call, args []Value) (Value, error) {
	var nums []float64
	for _, a := range args {
		if a.IsNull() {
			continue
		}
		if a.Kind != KindNumber {
			return Null(), evalErrf(x.p, "%s needs numeric arguments", x.name)
		}
		nums = append(nums, a.Num)
	}
	if len(nums) == 0 {
		return Null(), nil
	}

	switch x.name {
	case "sum":
		total := 0.0
		for _, n := range nums {
			total += n
		}
		return Number(total), nil
	case "mean":
		total := 0.0
		for _, n := range nums {
			total += n
		}
		return Number(total / float64(len(nums))), nil
	case "min":
		out := nums[0]
		for _, n := range nums[1:] {
			if n < out {
				out = n
			}
		}
		return Number(out), nil
	case "max":
		out := nums[0]
		for _, n := range nums[1:] {
			if n > out {
				out = n
			}
		}
		return Number(out), nil
	default:
		return Null(), evalErrf(x.p, "unknown aggregate %q", x.name)
	}
}

func opText(t tokenType) string {
	switch t {
	case tokPlus:
		return "+"
	case tokMinus:
		return "-"
	case tokStar:
		return "*"
	case tokSlash:
		return "/"
	case tokCaret:
		return "^"
	case tokEq:
		return "=="
	case tokNe:
		return "!="
	case tokLt:
		return "<"
	case tokLe:
		return "<="
	case tokGt:
		return ">"
	case tokGe:
		return ">="
	default:
		return "?"
	}
}
