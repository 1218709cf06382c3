package equation

import "fmt"

// Builtin function arity, -1 meaning variadic with at least one argument.
var builtins = map[string]struct{ min, max int }{
	"abs":             {1, 1},
	"min":             {1, -1},
	"max":             {1, -1},
	"sum":             {1, -1},
	"mean":            {1, -1},
	"round":           {1, 2},
	"sqrt":            {1, 1},
	"count_available": {1, -1},
}

// Compiled is a validated, reusable equation program. It carries no
// mutable state; Evaluate may be called concurrently.
type Compiled struct {
	prog   *program
	source string
}

// Source returns the original equation text.
func (c *Compiled) Source() string { return c.source }

// Compile parses the equation and validates it against the construct's
// item numbers. Errors are definition-time: unknown functions, unknown
// item references, reserved-word assignment, use before assign. All
// messages carry a source location.
func Compile(src string, itemNumbers []int) (*Compiled, error) {
	prog, err := parse(src)
	if err != nil {
		return nil, err
	}

	items := make(map[int]bool, len(itemNumbers))
	for _, n := range itemNumbers {
		items[n] = true
	}

	defined := make(map[string]bool)
	for _, stmt := range prog.stmts {
		if a, ok := stmt.(assign); ok {
			if _, isFn := builtins[a.name]; isFn {
				return nil, syntaxErrf(a.p, "cannot assign to function name %q", a.name)
			}
			if err := checkNode(a.expr, items, defined); err != nil {
				return nil, err
			}
			defined[a.name] = true
			continue
		}
		if err := checkNode(stmt, items, defined); err != nil {
			return nil, err
		}
	}
	return &Compiled{prog: prog, source: src}, nil
}

func checkNode(n Node, items map[int]bool, defined map[string]bool) error {
	switch x := n.(type) {
	case numberLit, nullLit:
		return nil
	case itemRef:
		if !items[x.n] {
			return syntaxErrf(x.p, "unknown item reference {q%d}: not part of this construct", x.n)
		}
		return nil
	case varRef:
		if !defined[x.name] {
			if _, isFn := builtins[x.name]; isFn {
				return syntaxErrf(x.p, "function %q must be called with arguments", x.name)
			}
			return syntaxErrf(x.p, "variable %q used before assignment", x.name)
		}
		return nil
	case unary:
		return checkNode(x.x, items, defined)
	case binary:
		if err := checkNode(x.l, items, defined); err != nil {
			return err
		}
		return checkNode(x.r, items, defined)
	case call:
		sig, ok := builtins[x.name]
		if !ok {
			return syntaxErrf(x.p, "unknown function %q", x.name)
		}
		if len(x.args) < sig.min {
			return syntaxErrf(x.p, "function %q needs at least %d argument(s)", x.name, sig.min)
		}
		if sig.max >= 0 && len(x.args) > sig.max {
			return syntaxErrf(x.p, "function %q takes at most %d argument(s)", x.name, sig.max)
		}
		for _, a := range x.args {
			if err := checkNode(a, items, defined); err != nil {
				return err
			}
		}
		return nil
	case ifExpr:
		for _, b := range x.branches {
			if err := checkNode(b.cond, items, defined); err != nil {
				return err
			}
			if err := checkNode(b.then, items, defined); err != nil {
				return err
			}
		}
		return checkNode(x.els, items, defined)
	case assign:
		return syntaxErrf(x.p, "assignment is only allowed at statement level")
	default:
		return fmt.Errorf("unhandled node %T", n)
	}
}
