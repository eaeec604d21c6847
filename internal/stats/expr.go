package stats

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// legacyStatsIdent is the dict name older formulas subscript into,
// e.g. gamemode_stats['wins_bedwars'].
const legacyStatsIdent = "gamemode_stats"

// Expr is a compiled formula. It is immutable and safe for concurrent use.
type Expr struct {
	src    string
	root   node
	fields []string
}

func (e *Expr) String() string { return e.src }

// Fields lists referenced field keys in first-use order.
func (e *Expr) Fields() []string { return append([]string(nil), e.fields...) }

// Eval evaluates the formula. Missing or non-numeric fields count as zero
// and division by zero yields zero.
func (e *Expr) Eval(s Snapshot) decimal.Decimal {
	if e == nil || e.root == nil {
		return decimal.Zero
	}
	return e.root.eval(s)
}

// Parse compiles src without checking field names.
func Parse(src string) (*Expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, seen: map[string]bool{}}
	root, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, t.text, t.pos)
	}
	return &Expr{src: strings.TrimSpace(src), root: root, fields: p.fields}, nil
}

// Compile parses src and rejects fields for which known returns false.
func Compile(src string, known func(key string) bool) (*Expr, error) {
	e, err := Parse(src)
	if err != nil {
		return nil, err
	}
	if known != nil {
		for _, f := range e.fields {
			if !known(f) {
				return nil, fmt.Errorf("%w: %q", ErrUnknownField, f)
			}
		}
	}
	return e, nil
}

// ---- lexer ----

type tokKind int

const (
	tokEOF tokKind = iota
	tokNum
	tokIdent
	tokStr
	tokOp // + - * / ( ) [ ] ,
)

type token struct {
	kind tokKind
	text string
	pos  int
}

func lex(src string) ([]token, error) {
	var out []token
	rs := []rune(src)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case unicode.IsDigit(r) || (r == '.' && i+1 < len(rs) && unicode.IsDigit(rs[i+1])):
			start := i
			dot := false
			for i < len(rs) && (unicode.IsDigit(rs[i]) || (rs[i] == '.' && !dot)) {
				if rs[i] == '.' {
					dot = true
				}
				i++
			}
			out = append(out, token{kind: tokNum, text: string(rs[start:i]), pos: start})
		case r == '_' || unicode.IsLetter(r):
			start := i
			for i < len(rs) && (rs[i] == '_' || unicode.IsLetter(rs[i]) || unicode.IsDigit(rs[i])) {
				i++
			}
			out = append(out, token{kind: tokIdent, text: string(rs[start:i]), pos: start})
		case r == '\'' || r == '"':
			start := i
			i++
			for i < len(rs) && rs[i] != r {
				i++
			}
			if i >= len(rs) {
				return nil, fmt.Errorf("%w: unterminated string at %d", ErrSyntax, start)
			}
			out = append(out, token{kind: tokStr, text: string(rs[start+1 : i]), pos: start})
			i++
		case strings.ContainsRune("+-*/()[],", r):
			out = append(out, token{kind: tokOp, text: string(r), pos: i})
			i++
		default:
			return nil, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, r, i)
		}
	}
	return append(out, token{kind: tokEOF, pos: len(rs)}), nil
}

// ---- parser ----

type parser struct {
	toks   []token
	i      int
	fields []string
	seen   map[string]bool
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) isOp(s string) bool {
	t := p.peek()
	return t.kind == tokOp && t.text == s
}

func (p *parser) expect(s string) error {
	if !p.isOp(s) {
		t := p.peek()
		return fmt.Errorf("%w: expected %q at %d", ErrSyntax, s, t.pos)
	}
	p.next()
	return nil
}

func (p *parser) addField(key string) node {
	if !p.seen[key] {
		p.seen[key] = true
		p.fields = append(p.fields, key)
	}
	return fieldNode(key)
}

func (p *parser) parseExpr() (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.isOp("+") || p.isOp("-") {
		op := p.next().text[0]
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = binNode{op: op, l: left, r: right}
	}
	return left, nil
}

func (p *parser) parseTerm() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isOp("*") || p.isOp("/") {
		op := p.next().text[0]
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = binNode{op: op, l: left, r: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.isOp("-") || p.isOp("+") {
		op := p.next().text[0]
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if op == '+' {
			return x, nil
		}
		return negNode{x: x}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNum:
		d, err := decimal.NewFromString(t.text)
		if err != nil {
			return nil, fmt.Errorf("%w: bad number %q", ErrSyntax, t.text)
		}
		return numNode{v: d}, nil
	case tokIdent:
		if p.isOp("(") {
			return p.parseCall(t)
		}
		if p.isOp("[") {
			if t.text != legacyStatsIdent {
				return nil, fmt.Errorf("%w: cannot subscript %q", ErrSyntax, t.text)
			}
			p.next()
			key := p.next()
			if key.kind != tokStr || key.text == "" {
				return nil, fmt.Errorf("%w: expected field name at %d", ErrSyntax, key.pos)
			}
			if err := p.expect("]"); err != nil {
				return nil, err
			}
			return p.addField(key.text), nil
		}
		return p.addField(t.text), nil
	case tokOp:
		if t.text == "(" {
			x, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			return x, nil
		}
	case tokEOF:
		return nil, fmt.Errorf("%w: unexpected end of formula", ErrSyntax)
	}
	return nil, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, t.text, t.pos)
}

var callArity = map[string][2]int{
	"round": {1, 2},
	"abs":   {1, 1},
	"min":   {2, -1},
	"max":   {2, -1},
}

func (p *parser) parseCall(name token) (node, error) {
	arity, ok := callArity[name.text]
	if !ok {
		return nil, fmt.Errorf("%w: unknown function %q", ErrSyntax, name.text)
	}
	p.next() // (
	var args []node
	if !p.isOp(")") {
		for {
			a, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			args = append(args, a)
			if !p.isOp(",") {
				break
			}
			p.next()
		}
	}
	if err := p.expect(")"); err != nil {
		return nil, err
	}
	if len(args) < arity[0] || (arity[1] >= 0 && len(args) > arity[1]) {
		return nil, fmt.Errorf("%w: %s takes %d..%d arguments, got %d", ErrSyntax, name.text, arity[0], arity[1], len(args))
	}
	if name.text == "round" && len(args) == 2 {
		if _, ok := args[1].(numNode); !ok {
			return nil, fmt.Errorf("%w: round places must be a literal", ErrSyntax)
		}
	}
	return callNode{fn: name.text, args: args}, nil
}

// ---- AST ----

type node interface {
	eval(s Snapshot) decimal.Decimal
}

type numNode struct{ v decimal.Decimal }

func (n numNode) eval(Snapshot) decimal.Decimal { return n.v }

type fieldNode string

func (n fieldNode) eval(s Snapshot) decimal.Decimal {
	d, _ := s.Number(string(n))
	return d
}

type negNode struct{ x node }

func (n negNode) eval(s Snapshot) decimal.Decimal { return n.x.eval(s).Neg() }

type binNode struct {
	op   byte
	l, r node
}

func (n binNode) eval(s Snapshot) decimal.Decimal {
	a, b := n.l.eval(s), n.r.eval(s)
	switch n.op {
	case '+':
		return a.Add(b)
	case '-':
		return a.Sub(b)
	case '*':
		return a.Mul(b)
	default:
		if b.IsZero() {
			return decimal.Zero
		}
		return a.Div(b)
	}
}

type callNode struct {
	fn   string
	args []node
}

func (n callNode) eval(s Snapshot) decimal.Decimal {
	x := n.args[0].eval(s)
	switch n.fn {
	case "round":
		places := int32(0)
		if len(n.args) == 2 {
			places = int32(n.args[1].(numNode).v.IntPart())
		}
		return x.RoundBank(places)
	case "abs":
		return x.Abs()
	case "min", "max":
		out := x
		for _, a := range n.args[1:] {
			v := a.eval(s)
			if (n.fn == "min" && v.LessThan(out)) || (n.fn == "max" && v.GreaterThan(out)) {
				out = v
			}
		}
		return out
	}
	return decimal.Zero
}
