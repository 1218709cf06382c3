package equation

// Node is an expression tree node.
type Node interface {
	nodePos() Pos
}

type numberLit struct {
	p Pos
	v float64
}

type nullLit struct {
	p Pos
}

type itemRef struct {
	p Pos
	n int
}

type varRef struct {
	p    Pos
	name string
}

type assign struct {
	p    Pos
	name string
	expr Node
}

type unary struct {
	p  Pos
	op tokenType
	x  Node
}

type binary struct {
	p    Pos
	op   tokenType
	l, r Node
}

type call struct {
	p    Pos
	name string
	args []Node
}

type branch struct {
	cond Node
	then Node
}

type ifExpr struct {
	p        Pos
	branches []branch
	els      Node
}

type program struct {
	stmts []Node
}

func (n numberLit) nodePos() Pos { return n.p }
func (n nullLit) nodePos() Pos   { return n.p }
func (n itemRef) nodePos() Pos   { return n.p }
func (n varRef) nodePos() Pos    { return n.p }
func (n assign) nodePos() Pos    { return n.p }
func (n unary) nodePos() Pos     { return n.p }
func (n binary) nodePos() Pos    { return n.p }
func (n call) nodePos() Pos      { return n.p }
func (n ifExpr) nodePos() Pos    { return n.p }
