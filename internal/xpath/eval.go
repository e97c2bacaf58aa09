package xpath

import (
	"fmt"
	"regexp"
	"strings"
)

type node interface {
	Eval(c *evalCtx) (Value, error)
}

type axis int

const (
	axisChild axis = iota
	axisParent
	axisSelf
	axisAttr
	axisCurrent
)

type step struct {
	axis       axis
	name       string
	predicates []node
}

type locationPath struct {
	absolute bool
	steps    []step
}

func (lp *locationPath) Eval(c *evalCtx) (Value, error) {
	start := c.node
	if lp.absolute {
		for start.Parent() != nil {
			start = start.Parent()
		}
	}
	cur := []Node{start}
	for _, st := range lp.steps {
		var next []Node
		switch st.axis {
		case axisChild:
			for _, n := range cur {
				next = append(next, n.Children(st.name)...)
			}
		case axisParent:
			for _, n := range cur {
				if p := n.Parent(); p != nil {
					next = append(next, p)
				}
			}
		case axisSelf:
			next = cur
		case axisAttr:
			// Attributes aren't modelled as Node in this subset; an
			// attribute step yields no nodes, matching how when/must
			// over YANG data (which has no XML attributes of its own)
			// never actually needs this axis.
		case axisCurrent:
			next = []Node{c.cur}
		}
		if len(st.predicates) > 0 {
			filtered := next[:0:0]
			for i, n := range next {
				ok, err := evalPredicate(st.predicates, c, n, i, len(next))
				if err != nil {
					return Value{}, err
				}
				if ok {
					filtered = append(filtered, n)
				}
			}
			next = filtered
		}
		cur = next
		if len(cur) == 0 {
			break
		}
	}
	return nodesValue(cur), nil
}

func evalPredicate(preds []node, c *evalCtx, candidate Node, pos, size int) (bool, error) {
	sub := &evalCtx{node: candidate, cur: c.cur}
	for _, pred := range preds {
		v, err := pred.Eval(sub)
		if err != nil {
			return false, err
		}
		if v.Kind == KindNumber {
			if int(v.Num) != pos+1 {
				return false, nil
			}
			continue
		}
		if !v.Bool() {
			return false, nil
		}
	}
	return true, nil
}

type literal struct{ v Value }

func (l *literal) Eval(c *evalCtx) (Value, error) { return l.v, nil }

type boolOp struct {
	op       string
	lhs, rhs node
}

func (b *boolOp) Eval(c *evalCtx) (Value, error) {
	l, err := b.lhs.Eval(c)
	if err != nil {
		return Value{}, err
	}
	if b.op == "and" && !l.Bool() {
		return boolValue(false), nil
	}
	if b.op == "or" && l.Bool() {
		return boolValue(true), nil
	}
	r, err := b.rhs.Eval(c)
	if err != nil {
		return Value{}, err
	}
	return boolValue(r.Bool()), nil
}

type arithOp struct {
	op       string
	lhs, rhs node
}

func (a *arithOp) Eval(c *evalCtx) (Value, error) {
	l, err := a.lhs.Eval(c)
	if err != nil {
		return Value{}, err
	}
	if a.op == "neg" {
		return numValue(-l.Number()), nil
	}
	r, err := a.rhs.Eval(c)
	if err != nil {
		return Value{}, err
	}
	switch a.op {
	case "+":
		return numValue(l.Number() + r.Number()), nil
	case "-":
		return numValue(l.Number() - r.Number()), nil
	}
	return Value{}, fmt.Errorf("xpath: unknown arithmetic operator %q", a.op)
}

type cmpOp struct {
	op       string
	lhs, rhs node
}

// Eval applies XPath 1.0's node-set comparison rule: if either side is a
// node-set, the comparison is true if it holds for any node in the set
// against the other side's string value; otherwise string/number
// comparison follows the usual numeric coercion for ordering operators
// and string equality for "=" / "!=".
func (cp *cmpOp) Eval(c *evalCtx) (Value, error) {
	l, err := cp.lhs.Eval(c)
	if err != nil {
		return Value{}, err
	}
	r, err := cp.rhs.Eval(c)
	if err != nil {
		return Value{}, err
	}
	if l.Kind == KindNodeSet && r.Kind == KindNodeSet {
		for _, ln := range l.Nodes {
			for _, rn := range r.Nodes {
				if compareScalar(cp.op, strValue(ln.Value()), strValue(rn.Value())) {
					return boolValue(true), nil
				}
			}
		}
		return boolValue(false), nil
	}
	if l.Kind == KindNodeSet {
		for _, n := range l.Nodes {
			if compareScalar(cp.op, strValue(n.Value()), r) {
				return boolValue(true), nil
			}
		}
		return boolValue(false), nil
	}
	if r.Kind == KindNodeSet {
		for _, n := range r.Nodes {
			if compareScalar(cp.op, l, strValue(n.Value())) {
				return boolValue(true), nil
			}
		}
		return boolValue(false), nil
	}
	return boolValue(compareScalar(cp.op, l, r)), nil
}

func compareScalar(op string, l, r Value) bool {
	switch op {
	case "=":
		if l.Kind == KindString || r.Kind == KindString {
			return l.String() == r.String()
		}
		return l.Number() == r.Number()
	case "!=":
		return !compareScalar("=", l, r)
	case "<":
		return l.Number() < r.Number()
	case "<=":
		return l.Number() <= r.Number()
	case ">":
		return l.Number() > r.Number()
	case ">=":
		return l.Number() >= r.Number()
	}
	return false
}

type call struct {
	name string
	args []node
}

func (cl *call) Eval(c *evalCtx) (Value, error) {
	argv := make([]Value, len(cl.args))
	for i, a := range cl.args {
		v, err := a.Eval(c)
		if err != nil {
			return Value{}, err
		}
		argv[i] = v
	}
	switch cl.name {
	case "string":
		if len(argv) == 0 {
			return strValue(nodesValue([]Node{c.node}).String()), nil
		}
		return strValue(argv[0].String()), nil
	case "boolean":
		return boolValue(argv[0].Bool()), nil
	case "not":
		return boolValue(!argv[0].Bool()), nil
	case "count":
		if argv[0].Kind != KindNodeSet {
			return Value{}, fmt.Errorf("xpath: count() requires a node-set argument")
		}
		return numValue(float64(len(argv[0].Nodes))), nil
	case "string-length":
		s := ""
		if len(argv) > 0 {
			s = argv[0].String()
		} else {
			s = nodesValue([]Node{c.node}).String()
		}
		return numValue(float64(len([]rune(s)))), nil
	case "concat":
		var sb strings.Builder
		for _, a := range argv {
			sb.WriteString(a.String())
		}
		return strValue(sb.String()), nil
	case "starts-with":
		return boolValue(strings.HasPrefix(argv[0].String(), argv[1].String())), nil
	case "contains":
		return boolValue(strings.Contains(argv[0].String(), argv[1].String())), nil
	case "re-match":
		re, err := regexp.Compile("^(?:" + argv[1].String() + ")$")
		if err != nil {
			return Value{}, err
		}
		return boolValue(re.MatchString(argv[0].String())), nil
	}
	return Value{}, fmt.Errorf("xpath: unsupported function %q", cl.name)
}

// Eval runs the parsed expression against ctx/cur.
func (e *Expr) Eval(c *evalCtx) (Value, error) {
	return e.root.Eval(c)
}
