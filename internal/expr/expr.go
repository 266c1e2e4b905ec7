// Package expr evaluates small arithmetic and boolean expressions against a
// record's fields.
//
// Grammar, lowest precedence first:
//
//	or      = and { ("||" | "or") and }
//	and     = not { ("&&" | "and") not }
//	not     = ("!" | "not") not | compare
//	compare = sum [ ("==" | "!=" | ">" | ">=" | "<" | "<=") sum ]
//	sum     = product { ("+" | "-") product }
//	product = unary { ("*" | "/" | "%") unary }
//	unary   = "-" unary | primary
//	primary = number | string | true | false | null | field | call | "(" or ")"
//
// Fields are looked up by name; dotted names reach nested values and a leading
// "row." or "record." prefix is accepted.
package expr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/types"
)

// Expr is a compiled expression, safe for concurrent use.
type Expr struct {
	src  string
	root node
}

// Compile parses src once so it can be evaluated against many records.
func Compile(src string) (*Expr, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("empty expression")
	}
	toks, err := tokenize(src)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", src, err)
	}
	p := &parser{toks: toks}
	root, err := p.parseOr()
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", src, err)
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("parse %q: unexpected %q at position %d", src, p.peek().text, p.peek().pos)
	}
	return &Expr{src: src, root: root}, nil
}

func (e *Expr) String() string { return e.src }

// Eval evaluates the expression against r.
func (e *Expr) Eval(r types.Record) (interface{}, error) {
	return e.root.eval(r)
}

// Test evaluates the expression and reports its truthiness. Errors are false.
func (e *Expr) Test(r types.Record) bool {
	v, err := e.root.eval(r)
	if err != nil {
		return false
	}
	return Truthy(v)
}

// Eval compiles and evaluates src in one step.
func Eval(src string, r types.Record) (interface{}, error) {
	e, err := Compile(src)
	if err != nil {
		return nil, err
	}
	return e.Eval(r)
}

// Truthy follows the usual scripting rules: nil, false, 0 and "" are false.
func Truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	}
	if f, ok := types.ToFloat(v); ok {
		return f != 0
	}
	return true
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) acceptOp(ops ...string) (string, bool) {
	t := p.peek()
	if t.kind != tokOp {
		return "", false
	}
	for _, op := range ops {
		if t.text == op {
			p.pos++
			return op, true
		}
	}
	return "", false
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("||"); !ok {
			return left, nil
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &logical{op: "||", l: left, r: right}
	}
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("&&"); !ok {
			return left, nil
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &logical{op: "&&", l: left, r: right}
	}
}

func (p *parser) parseNot() (node, error) {
	if _, ok := p.acceptOp("!"); ok {
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &not{x: x}, nil
	}
	return p.parseCompare()
}

func (p *parser) parseCompare() (node, error) {
	left, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	op, ok := p.acceptOp("===", "!==", "==", "!=", ">=", "<=", ">", "<")
	if !ok {
		return left, nil
	}
	right, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	switch op {
	case "===":
		op = "=="
	case "!==":
		op = "!="
	}
	return &compare{op: op, l: left, r: right}, nil
}

func (p *parser) parseSum() (node, error) {
	left, err := p.parseProduct()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("+", "-")
		if !ok {
			return left, nil
		}
		right, err := p.parseProduct()
		if err != nil {
			return nil, err
		}
		left = &arith{op: op, l: left, r: right}
	}
}

func (p *parser) parseProduct() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("*", "/", "%")
		if !ok {
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &arith{op: op, l: left, r: right}
	}
}

func (p *parser) parseUnary() (node, error) {
	if _, ok := p.acceptOp("-"); ok {
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &neg{x: x}, nil
	}
	if _, ok := p.acceptOp("+"); ok {
		return p.parseUnary()
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q at position %d", t.text, t.pos)
		}
		return literal{v: f}, nil
	case tokString:
		return literal{v: t.text}, nil
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.next().kind != tokRParen {
			return nil, fmt.Errorf("missing ) for ( at position %d", t.pos)
		}
		return inner, nil
	case tokIdent:
		switch strings.ToLower(t.text) {
		case "true":
			return literal{v: true}, nil
		case "false":
			return literal{v: false}, nil
		case "null", "nil", "undefined":
			return literal{v: nil}, nil
		}
		if p.peek().kind == tokLParen {
			return p.parseCall(t)
		}
		return field{path: t.text}, nil
	case tokEOF:
		return nil, fmt.Errorf("unexpected end of expression")
	}
	return nil, fmt.Errorf("unexpected %q at position %d", t.text, t.pos)
}

func (p *parser) parseCall(name token) (node, error) {
	fn, ok := functions[strings.ToLower(name.text)]
	if !ok {
		return nil, fmt.Errorf("unknown function %q at position %d", name.text, name.pos)
	}
	p.next() // (
	var args []node
	if p.peek().kind != tokRParen {
		for {
			arg, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	if p.next().kind != tokRParen {
		return nil, fmt.Errorf("missing ) after arguments to %s", name.text)
	}
	return &call{name: name.text, fn: fn, args: args}, nil
}
