package actions

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"text/scanner"

	"github.com/shopspring/decimal"
)

var ErrSyntax = errors.New("syntax error")

type stmtKind int

const (
	stmtLet stmtKind = iota + 1
	stmtCall
	stmtAssert
	stmtPrint
)

type (
	expr interface{ isExpr() }

	lit struct{ val any }

	ident struct{ name string }

	member struct {
		x    expr
		name string
	}

	callExpr struct {
		fn   expr
		args []expr
	}

	// Stmt is one parsed action line.
	Stmt struct {
		Line int
		Text string

		kind  stmtKind
		name  string
		x, y  expr
		op    string
		value expr
		args  []expr
	}
)

func (lit) isExpr()      {}
func (ident) isExpr()    {}
func (member) isExpr()   {}
func (callExpr) isExpr() {}

// Parse splits a script into statements, one per non-empty line. Lines
// starting with '#' are comments.
func Parse(script string) ([]Stmt, error) {
	var stmts []Stmt
	for i, raw := range strings.Split(script, "\n") {
		text := strings.TrimSpace(raw)
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		st, err := parseLine(text)
		if err != nil {
			return nil, &Error{Line: i + 1, Text: text, Err: err}
		}
		st.Line, st.Text = i+1, text
		stmts = append(stmts, st)
	}
	return stmts, nil
}

type token struct {
	tok  rune
	text string
}

type parser struct {
	toks []token
	pos  int
}

func tokenize(line string) ([]token, error) {
	var (
		s    scanner.Scanner
		errs []string
		toks []token
	)
	s.Init(strings.NewReader(line))
	s.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanFloats | scanner.ScanStrings | scanner.ScanRawStrings
	s.Error = func(_ *scanner.Scanner, msg string) { errs = append(errs, msg) }
	for tok := s.Scan(); tok != scanner.EOF; tok = s.Scan() {
		text := s.TokenText()
		if (tok == '=' || tok == '!' || tok == '<' || tok == '>') && s.Peek() == '=' {
			s.Next()
			text += "="
		}
		toks = append(toks, token{tok: tok, text: text})
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrSyntax, strings.Join(errs, "; "))
	}
	return toks, nil
}

func parseLine(line string) (Stmt, error) {
	toks, err := tokenize(line)
	if err != nil {
		return Stmt{}, err
	}
	p := &parser{toks: toks}
	kw := p.next()
	var st Stmt
	switch kw.text {
	case "let":
		st.kind = stmtLet
		name := p.next()
		if name.tok != scanner.Ident {
			return st, fmt.Errorf("%w: let needs a name", ErrSyntax)
		}
		st.name = name.text
		if err := p.expect("="); err != nil {
			return st, err
		}
		if st.x, err = p.expr(); err != nil {
			return st, err
		}
	case "call":
		st.kind = stmtCall
		if st.x, err = p.expr(); err != nil {
			return st, err
		}
		if c, ok := st.x.(callExpr); !ok {
			return st, fmt.Errorf("%w: call needs CONTRACT.method(...)", ErrSyntax)
		} else if _, ok := c.fn.(member); !ok {
			return st, fmt.Errorf("%w: call needs CONTRACT.method(...)", ErrSyntax)
		}
		if p.peek().text == "value" {
			p.next()
			if st.value, err = p.expr(); err != nil {
				return st, err
			}
		}
	case "assert":
		st.kind = stmtAssert
		if st.x, err = p.expr(); err != nil {
			return st, err
		}
		switch op := p.peek().text; op {
		case "==", "!=", ">=", "<=", ">", "<":
			p.next()
			st.op = op
			if st.y, err = p.expr(); err != nil {
				return st, err
			}
		}
	case "print":
		st.kind = stmtPrint
		for {
			x, err := p.expr()
			if err != nil {
				return st, err
			}
			st.args = append(st.args, x)
			if p.peek().text != "," {
				break
			}
			p.next()
		}
	default:
		return st, fmt.Errorf("%w: unknown action %q", ErrSyntax, kw.text)
	}
	if !p.done() {
		return st, fmt.Errorf("%w: unexpected %q", ErrSyntax, p.peek().text)
	}
	return st, nil
}

func (p *parser) done() bool { return p.pos >= len(p.toks) }

func (p *parser) peek() token {
	if p.done() {
		return token{tok: scanner.EOF}
	}
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.peek()
	if !p.done() {
		p.pos++
	}
	return t
}

func (p *parser) expect(text string) error {
	if t := p.next(); t.text != text {
		return fmt.Errorf("%w: expected %q, got %q", ErrSyntax, text, t.text)
	}
	return nil
}

func (p *parser) expr() (expr, error) {
	x, err := p.primary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().text {
		case ".":
			p.next()
			name := p.next()
			if name.tok != scanner.Ident {
				return nil, fmt.Errorf("%w: expected a name after '.'", ErrSyntax)
			}
			x = member{x: x, name: name.text}
		case "(":
			p.next()
			args, err := p.args()
			if err != nil {
				return nil, err
			}
			x = callExpr{fn: x, args: args}
		default:
			return x, nil
		}
	}
}

func (p *parser) args() ([]expr, error) {
	var args []expr
	if p.peek().text == ")" {
		p.next()
		return args, nil
	}
	for {
		x, err := p.expr()
		if err != nil {
			return nil, err
		}
		args = append(args, x)
		switch t := p.next(); t.text {
		case ",":
		case ")":
			return args, nil
		default:
			return nil, fmt.Errorf("%w: expected ',' or ')', got %q", ErrSyntax, t.text)
		}
	}
}

func (p *parser) primary() (expr, error) {
	t := p.next()
	switch t.tok {
	case scanner.Ident:
		switch t.text {
		case "true":
			return lit{val: true}, nil
		case "false":
			return lit{val: false}, nil
		}
		return ident{name: t.text}, nil
	case scanner.String, scanner.RawString:
		s, err := strconv.Unquote(t.text)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
		}
		return lit{val: s}, nil
	case scanner.Int:
		if strings.HasPrefix(t.text, "0x") || strings.HasPrefix(t.text, "0X") {
			return lit{val: t.text}, nil
		}
		n, ok := new(big.Int).SetString(t.text, 10)
		if !ok {
			return nil, fmt.Errorf("%w: bad integer %q", ErrSyntax, t.text)
		}
		return lit{val: n}, nil
	case scanner.Float:
		d, err := decimal.NewFromString(t.text)
		if err != nil {
			return nil, fmt.Errorf("%w: bad number %q", ErrSyntax, t.text)
		}
		return lit{val: d}, nil
	case '-':
		x, err := p.primary()
		if err != nil {
			return nil, err
		}
		switch v := x.(type) {
		case lit:
			switch n := v.val.(type) {
			case *big.Int:
				return lit{val: n.Neg(n)}, nil
			case decimal.Decimal:
				return lit{val: n.Neg()}, nil
			}
		}
		return nil, fmt.Errorf("%w: '-' applies to number literals only", ErrSyntax)
	case scanner.EOF:
		return nil, fmt.Errorf("%w: unexpected end of line", ErrSyntax)
	}
	return nil, fmt.Errorf("%w: unexpected %q", ErrSyntax, t.text)
}
