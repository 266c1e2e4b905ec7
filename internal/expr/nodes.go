package expr

import (
	"fmt"
	"math"
	"strings"

	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/types"
)

type node interface {
	eval(r types.Record) (interface{}, error)
}

type literal struct{ v interface{} }

func (l literal) eval(types.Record) (interface{}, error) { return l.v, nil }

type field struct{ path string }

func (f field) eval(r types.Record) (interface{}, error) {
	if v, ok := r.Get(f.path); ok {
		return v, nil
	}
	for _, prefix := range []string{"row.", "record."} {
		if strings.HasPrefix(f.path, prefix) {
			v, _ := r.Get(strings.TrimPrefix(f.path, prefix))
			return v, nil
		}
	}
	return nil, nil
}

type not struct{ x node }

func (n *not) eval(r types.Record) (interface{}, error) {
	v, err := n.x.eval(r)
	if err != nil {
		return nil, err
	}
	return !Truthy(v), nil
}

type logical struct {
	op   string
	l, r node
}

func (n *logical) eval(r types.Record) (interface{}, error) {
	lv, err := n.l.eval(r)
	if err != nil {
		return nil, err
	}
	if n.op == "&&" && !Truthy(lv) {
		return false, nil
	}
	if n.op == "||" && Truthy(lv) {
		return true, nil
	}
	rv, err := n.r.eval(r)
	if err != nil {
		return nil, err
	}
	return Truthy(rv), nil
}

type compare struct {
	op   string
	l, r node
}

func (n *compare) eval(r types.Record) (interface{}, error) {
	lv, err := n.l.eval(r)
	if err != nil {
		return nil, err
	}
	rv, err := n.r.eval(r)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "==":
		return types.Equal(lv, rv), nil
	case "!=":
		return !types.Equal(lv, rv), nil
	}
	c, ok := types.Compare(lv, rv)
	if !ok {
		return false, nil
	}
	switch n.op {
	case ">":
		return c > 0, nil
	case ">=":
		return c >= 0, nil
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	}
	return nil, fmt.Errorf("unknown comparison %s", n.op)
}

type arith struct {
	op   string
	l, r node
}

func (n *arith) eval(r types.Record) (interface{}, error) {
	lv, err := n.l.eval(r)
	if err != nil {
		return nil, err
	}
	rv, err := n.r.eval(r)
	if err != nil {
		return nil, err
	}

	if n.op == "+" && (isText(lv) || isText(rv)) {
		return types.ToString(lv) + types.ToString(rv), nil
	}

	a, err := number(lv)
	if err != nil {
		return nil, err
	}
	b, err := number(rv)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/":
		if b == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return a / b, nil
	case "%":
		if b == 0 {
			return nil, fmt.Errorf("modulo by zero")
		}
		return math.Mod(a, b), nil
	}
	return nil, fmt.Errorf("unknown operator %s", n.op)
}

type neg struct{ x node }

func (n *neg) eval(r types.Record) (interface{}, error) {
	v, err := n.x.eval(r)
	if err != nil {
		return nil, err
	}
	f, err := number(v)
	if err != nil {
		return nil, err
	}
	return -f, nil
}

type call struct {
	name string
	fn   func(args []float64) (float64, error)
	args []node
}

func (n *call) eval(r types.Record) (interface{}, error) {
	args := make([]float64, 0, len(n.args))
	for _, a := range n.args {
		v, err := a.eval(r)
		if err != nil {
			return nil, err
		}
		f, err := number(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", n.name, err)
		}
		args = append(args, f)
	}
	return n.fn(args)
}

var functions = map[string]func(args []float64) (float64, error){
	"abs":   unary(math.Abs),
	"floor": unary(math.Floor),
	"ceil":  unary(math.Ceil),
	"sqrt":  unary(math.Sqrt),
	"round": func(args []float64) (float64, error) {
		switch len(args) {
		case 1:
			return math.Round(args[0]), nil
		case 2:
			p := math.Pow(10, args[1])
			return math.Round(args[0]*p) / p, nil
		}
		return 0, fmt.Errorf("round takes 1 or 2 arguments")
	},
	"min": func(args []float64) (float64, error) {
		if len(args) == 0 {
			return 0, fmt.Errorf("min needs arguments")
		}
		m := args[0]
		for _, a := range args[1:] {
			m = math.Min(m, a)
		}
		return m, nil
	},
	"max": func(args []float64) (float64, error) {
		if len(args) == 0 {
			return 0, fmt.Errorf("max needs arguments")
		}
		m := args[0]
		for _, a := range args[1:] {
			m = math.Max(m, a)
		}
		return m, nil
	},
	"pow": func(args []float64) (float64, error) {
		if len(args) != 2 {
			return 0, fmt.Errorf("pow takes 2 arguments")
		}
		return math.Pow(args[0], args[1]), nil
	},
}

func unary(fn func(float64) float64) func([]float64) (float64, error) {
	return func(args []float64) (float64, error) {
		if len(args) != 1 {
			return 0, fmt.Errorf("expected 1 argument, got %d", len(args))
		}
		return fn(args[0]), nil
	}
}

// missing fields count as zero in arithmetic
func number(v interface{}) (float64, error) {
	if v == nil {
		return 0, nil
	}
	if b, ok := v.(bool); ok {
		if b {
			return 1, nil
		}
		return 0, nil
	}
	f, ok := types.ToFloat(v)
	if !ok {
		return 0, fmt.Errorf("non-numeric operand %q", types.ToString(v))
	}
	return f, nil
}

func isText(v interface{}) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	_, numeric := types.ToFloat(s)
	return !numeric
}
