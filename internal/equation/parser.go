package equation

// Operator precedence, low to high. Power is right-associative and binds
// tighter than unary minus.
const (
	precLowest = iota
	precOr
	precXor
	precAnd
	precCompare
	precAdd
	precMul
	precUnary
	precPow
)

func binaryPrec(t tokenType) int {
	switch t {
	case tokOr:
		return precOr
	case tokXor:
		return precXor
	case tokAnd:
		return precAnd
	case tokEq, tokNe, tokLt, tokLe, tokGt, tokGe:
		return precCompare
	case tokPlus, tokMinus:
		return precAdd
	case tokStar, tokSlash:
		return precMul
	case tokCaret:
		return precPow
	default:
		return 0
	}
}

type parser struct {
	toks []token
	idx  int
}

func parse(src string) (*program, error) {
	toks, err := newLexer(src).lex()
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	return p.parseProgram()
}

func (p *parser) cur() token  { return p.toks[p.idx] }
func (p *parser) next() token { t := p.toks[p.idx]; p.idx++; return t }

func (p *parser) expect(t tokenType, what string) (token, error) {
	if p.cur().typ != t {
		return token{}, syntaxErrf(p.cur().pos, "expected %s, found %q", what, p.cur().text)
	}
	return p.next(), nil
}

func (p *parser) skipSeps() {
	for p.cur().typ == tokSep {
		p.next()
	}
}

// parseProgram reads separator-delimited statements; the program's value
// is the last statement's value.
func (p *parser) parseProgram() (*program, error) {
	prog := &program{}
	p.skipSeps()
	for p.cur().typ != tokEOF {
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		prog.stmts = append(prog.stmts, stmt)
		if p.cur().typ != tokEOF {
			if p.cur().typ != tokSep {
				return nil, syntaxErrf(p.cur().pos, "expected end of statement, found %q", p.cur().text)
			}
			p.skipSeps()
		}
	}
	if len(prog.stmts) == 0 {
		return nil, syntaxErrf(Pos{Line: 1, Col: 1}, "empty equation")
	}
	return prog, nil
}

// A statement is either `name = expr` or a bare expression.
func (p *parser) parseStatement() (Node, error) {
	if p.cur().typ == tokIdent && p.toks[p.idx+1].typ == tokAssign {
		name := p.next()
		p.next() // =
		expr, err := p.parseExpr(precLowest)
		if err != nil {
			return nil, err
		}
		return assign{p: name.pos, name: name.text, expr: expr}, nil
	}
	return p.parseExpr(precLowest)
}

func (p *parser) parseExpr(minPrec int) (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op := p.cur().typ
		prec := binaryPrec(op)
		if prec == 0 || prec <= minPrec {
			return left, nil
		}
		opTok := p.next()
		// Right associativity for ^ comes from reusing prec-1 as the floor.
		floor := prec
		if op == tokCaret {
			floor = prec - 1
		}
		right, err := p.parseExpr(floor)
		if err != nil {
			return nil, err
		}
		left = binary{p: opTok.pos, op: op, l: left, r: right}
	}
}

func (p *parser) parseUnary() (Node, error) {
	if p.cur().typ == tokMinus {
		tok := p.next()
		x, err := p.parseExpr(precUnary)
		if err != nil {
			return nil, err
		}
		return unary{p: tok.pos, op: tokMinus, x: x}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Node, error) {
	tok := p.cur()
	switch tok.typ {
	case tokNumber:
		p.next()
		return numberLit{p: tok.pos, v: tok.num}, nil
	case tokNull:
		p.next()
		return nullLit{p: tok.pos}, nil
	case tokItemRef:
		p.next()
		return itemRef{p: tok.pos, n: tok.ref}, nil
	case tokIdent:
		p.next()
		if p.cur().typ == tokLParen {
			return p.parseCall(tok)
		}
		return varRef{p: tok.pos, name: tok.text}, nil
	case tokLParen:
		p.next()
		inner, err := p.parseExpr(precLowest)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, `")"`); err != nil {
			return nil, err
		}
		return inner, nil
	case tokIf:
		return p.parseIf()
	default:
		return nil, syntaxErrf(tok.pos, "unexpected token %q", tok.text)
	}
}

func (p *parser) parseCall(name token) (Node, error) {
	p.next() // (
	c := call{p: name.pos, name: name.text}
	if p.cur().typ == tokRParen {
		p.next()
		return c, nil
	}
	for {
		arg, err := p.parseExpr(precLowest)
		if err != nil {
			return nil, err
		}
		c.args = append(c.args, arg)
		if p.cur().typ == tokComma {
			p.next()
			continue
		}
		if _, err := p.expect(tokRParen, `")"`); err != nil {
			return nil, err
		}
		return c, nil
	}
}

// if <cond> then <expr> (elif <cond> then <expr>)* else <expr>
func (p *parser) parseIf() (Node, error) {
	start := p.next() // if
	node := ifExpr{p: start.pos}

	for {
		cond, err := p.parseExpr(precLowest)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokThen, `"then"`); err != nil {
			return nil, err
		}
		then, err := p.parseExpr(precLowest)
		if err != nil {
			return nil, err
		}
		node.branches = append(node.branches, branch{cond: cond, then: then})

		switch p.cur().typ {
		case tokElif:
			p.next()
			continue
		case tokElse:
			p.next()
			els, err := p.parseExpr(precLowest)
			if err != nil {
				return nil, err
			}
			node.els = els
			return node, nil
		default:
			return nil, syntaxErrf(p.cur().pos, `expected "elif" or "else", found %q`, p.cur().text)
		}
	}
}
