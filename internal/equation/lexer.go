package equation

import (
	"fmt"
	"strconv"
	"strings"
)

type tokenType int

const (
	tokEOF tokenType = iota
	tokNumber
	tokNull
	tokIdent
	tokItemRef
	tokIf
	tokThen
	tokElif
	tokElse
	tokAnd
	tokOr
	tokXor
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokCaret
	tokLParen
	tokRParen
	tokComma
	tokSep // semicolon or newline
	tokAssign
	tokEq
	tokNe
	tokLt
	tokLe
	tokGt
	tokGe
)

var keywords = map[string]tokenType{
	"if":   tokIf,
	"then": tokThen,
	"elif": tokElif,
	"else": tokElse,
	"and":  tokAnd,
	"or":   tokOr,
	"xor":  tokXor,
	"null": tokNull,
}

// Pos locates a token in the equation source, 1-based.
type Pos struct {
	Line int
	Col  int
}

func (p Pos) String() string { return fmt.Sprintf("line %d, col %d", p.Line, p.Col) }

type token struct {
	typ  tokenType
	text string
	num  float64
	ref  int
	pos  Pos
}

// SyntaxError carries a human-readable message with a source location.
type SyntaxError struct {
	Pos Pos
	Msg string
}

func (e *SyntaxError) Error() string { return fmt.Sprintf("%s: %s", e.Pos, e.Msg) }

func syntaxErrf(pos Pos, format string, args ...interface{}) error {
	return &SyntaxError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

type lexer struct {
	src  string
	off  int
	line int
	col  int
}

func newLexer(src string) *lexer {
	return &lexer{src: src, line: 1, col: 1}
}

func (l *lexer) pos() Pos { return Pos{Line: l.line, Col: l.col} }

func (l *lexer) peek() byte {
	if l.off >= len(l.src) {
		return 0
	}
	return l.src[l.off]
}

func (l *lexer) advance() byte {
	c := l.src[l.off]
	l.off++
	if c == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return c
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool { return isIdentStart(c) || isDigit(c) }

// continuesLine reports whether a newline after a token of type t
// cannot end a statement, so the expression continues on the next line.
func continuesLine(t tokenType) bool {
	switch t {
	case tokPlus, tokMinus, tokStar, tokSlash, tokCaret,
		tokLParen, tokComma, tokAssign,
		tokEq, tokNe, tokLt, tokLe, tokGt, tokGe,
		tokAnd, tokOr, tokXor,
		tokIf, tokThen, tokElif, tokElse, tokSep:
		return true
	}
	return false
}

// lex tokenizes the whole source. A newline ends a statement unless the
// expression is evidently unfinished; all other whitespace is
// insignificant.
func (l *lexer) lex() ([]token, error) {
	var toks []token
	for l.off < len(l.src) {
		start := l.pos()
		c := l.peek()

		switch {
		case c == ' ' || c == '\t' || c == '\r':
			l.advance()
		case c == '\n':
			l.advance()
			if len(toks) == 0 || continuesLine(toks[len(toks)-1].typ) {
				// Mid-expression newline is a continuation, not a
				// statement separator.
				break
			}
			toks = append(toks, token{typ: tokSep, text: "\n", pos: start})
		case c == ';':
			l.advance()
			toks = append(toks, token{typ: tokSep, text: ";", pos: start})
		case isDigit(c):
			tok, err := l.lexNumber(start)
			if err != nil {
				return nil, err
			}
			toks = append(toks, tok)
		case isIdentStart(c):
			var sb strings.Builder
			for l.off < len(l.src) && isIdentPart(l.peek()) {
				sb.WriteByte(l.advance())
			}
			word := sb.String()
			if kw, ok := keywords[word]; ok {
				toks = append(toks, token{typ: kw, text: word, pos: start})
			} else {
				toks = append(toks, token{typ: tokIdent, text: word, pos: start})
			}
		case c == '{':
			tok, err := l.lexItemRef(start)
			if err != nil {
				return nil, err
			}
			toks = append(toks, tok)
		default:
			tok, err := l.lexOperator(start)
			if err != nil {
				return nil, err
			}
			toks = append(toks, tok)
		}
	}
	toks = append(toks, token{typ: tokEOF, pos: l.pos()})
	return toks, nil
}

// Numeric literals are [0-9]+(\.[0-9]+)?; exponent forms are rejected.
func (l *lexer) lexNumber(start Pos) (token, error) {
	var sb strings.Builder
	for l.off < len(l.src) && isDigit(l.peek()) {
		sb.WriteByte(l.advance())
	}
	if l.peek() == '.' {
		sb.WriteByte(l.advance())
		if !isDigit(l.peek()) {
			return token{}, syntaxErrf(start, "malformed number %q", sb.String())
		}
		for l.off < len(l.src) && isDigit(l.peek()) {
			sb.WriteByte(l.advance())
		}
	}
	if c := l.peek(); c == 'e' || c == 'E' {
		return token{}, syntaxErrf(start, "exponent literals are not supported")
	}
	n, err := strconv.ParseFloat(sb.String(), 64)
	if err != nil {
		return token{}, syntaxErrf(start, "malformed number %q", sb.String())
	}
	return token{typ: tokNumber, text: sb.String(), num: n, pos: start}, nil
}

// Item references are {qN} with a decimal digit span.
func (l *lexer) lexItemRef(start Pos) (token, error) {
	l.advance() // {
	if l.peek() != 'q' {
		return token{}, syntaxErrf(start, "item reference must look like {qN}")
	}
	l.advance() // q
	var sb strings.Builder
	for l.off < len(l.src) && isDigit(l.peek()) {
		sb.WriteByte(l.advance())
	}
	if sb.Len() == 0 {
		return token{}, syntaxErrf(start, "item reference must look like {qN}")
	}
	if l.peek() != '}' {
		return token{}, syntaxErrf(start, "unterminated item reference")
	}
	l.advance() // }
	n, err := strconv.Atoi(sb.String())
	if err != nil {
		return token{}, syntaxErrf(start, "item reference number too large")
	}
	return token{typ: tokItemRef, text: "{q" + sb.String() + "}", ref: n, pos: start}, nil
}

func (l *lexer) lexOperator(start Pos) (token, error) {
	c := l.advance()
	two := func(next byte, t tokenType, text string) (token, bool) {
		if l.peek() == next {
			l.advance()
			return token{typ: t, text: text, pos: start}, true
		}
		return token{}, false
	}

	switch c {
	case '+':
		return token{typ: tokPlus, text: "+", pos: start}, nil
	case '-':
		return token{typ: tokMinus, text: "-", pos: start}, nil
	case '*':
		return token{typ: tokStar, text: "*", pos: start}, nil
	case '/':
		return token{typ: tokSlash, text: "/", pos: start}, nil
	case '^':
		return token{typ: tokCaret, text: "^", pos: start}, nil
	case '(':
		return token{typ: tokLParen, text: "(", pos: start}, nil
	case ')':
		return token{typ: tokRParen, text: ")", pos: start}, nil
	case ',':
		return token{typ: tokComma, text: ",", pos: start}, nil
	case '=':
		if tok, ok := two('=', tokEq, "=="); ok {
			return tok, nil
		}
		return token{typ: tokAssign, text: "=", pos: start}, nil
	case '!':
		if tok, ok := two('=', tokNe, "!="); ok {
			return tok, nil
		}
		return token{}, syntaxErrf(start, "unexpected character %q", "!")
	case '<':
		if tok, ok := two('=', tokLe, "<="); ok {
			return tok, nil
		}
		return token{typ: tokLt, text: "<", pos: start}, nil
	case '>':
		if tok, ok := two('=', tokGe, ">="); ok {
			return tok, nil
		}
		return token{typ: tokGt, text: ">", pos: start}, nil
	default:
		return token{}, syntaxErrf(start, "unexpected character %q", string(c))
	}
}
