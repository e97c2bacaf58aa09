// Package xpath implements the subset of XPath 1.0 that when/must
// constraints, leafref paths, and changelog selectors actually use:
// absolute and relative location paths over named child steps, the
// parent and self axes, predicates, the common comparison and boolean
// operators, and a small function library (current(), string(),
// boolean(), not(), count(), concat(), starts-with(), contains(),
// re-match()). It does not attempt full XPath 1.0 conformance — no
// descendant-or-self axis, no node-set functions beyond count(), no
// namespace axis — mirroring clixon's own xpath_vec_ctx, which evaluates
// the same practical subset against YANG constraint expressions rather
// than a general-purpose document.
package xpath

import (
	"fmt"
)

// Node is the minimal tree interface an XPath expression evaluates
// against. Both the XML Object Model and a bare schema-default tree can
// satisfy it, so when/must checks run the same way during validation as
// they will against a live datastore tree.
type Node interface {
	Name() string
	Value() string
	Parent() Node
	Children(name string) []Node
	AllChildren() []Node
}

// Eval parses and evaluates expr against ctx, with cur bound to
// current() (RFC 7950 §9.3.4: inside a leaf's own constraints current()
// is that leaf; elsewhere it is the context node itself).
func Eval(expr string, ctx Node, cur Node) (Value, error) {
	e, err := Parse(expr)
	if err != nil {
		return Value{}, err
	}
	return e.Eval(&evalCtx{node: ctx, cur: cur})
}

// EvalBool evaluates expr and converts the result to a boolean, the form
// when/must statements need.
func EvalBool(expr string, ctx Node, cur Node) (bool, error) {
	v, err := Eval(expr, ctx, cur)
	if err != nil {
		return false, err
	}
	return v.Bool(), nil
}

type evalCtx struct {
	node Node
	cur  Node
}

// ValueKind distinguishes the four XPath 1.0 result types; comparisons
// and function arguments coerce between them per the spec's casting
// rules (string(), number(), boolean()).
type ValueKind int

const (
	KindNodeSet ValueKind = iota
	KindString
	KindNumber
	KindBool
)

type Value struct {
	Kind  ValueKind
	Nodes []Node
	Str   string
	Num   float64
	B     bool
}

func (v Value) Bool() bool {
	switch v.Kind {
	case KindBool:
		return v.B
	case KindNumber:
		return v.Num != 0
	case KindString:
		return v.Str != ""
	case KindNodeSet:
		return len(v.Nodes) > 0
	}
	return false
}

func (v Value) String() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindBool:
		if v.B {
			return "true"
		}
		return "false"
	case KindNumber:
		return fmt.Sprintf("%g", v.Num)
	case KindNodeSet:
		if len(v.Nodes) == 0 {
			return ""
		}
		return v.Nodes[0].Value()
	}
	return ""
}

func (v Value) Number() float64 {
	switch v.Kind {
	case KindNumber:
		return v.Num
	case KindBool:
		if v.B {
			return 1
		}
		return 0
	case KindString:
		var f float64
		if _, err := fmt.Sscanf(v.Str, "%g", &f); err != nil {
			return 0
		}
		return f
	case KindNodeSet:
		return Value{Kind: KindString, Str: v.String()}.Number()
	}
	return 0
}

func boolValue(b bool) Value   { return Value{Kind: KindBool, B: b} }
func numValue(n float64) Value { return Value{Kind: KindNumber, Num: n} }
func strValue(s string) Value  { return Value{Kind: KindString, Str: s} }
func nodesValue(n []Node) Value {
	return Value{Kind: KindNodeSet, Nodes: n}
}
