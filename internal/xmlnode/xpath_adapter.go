package xmlnode

import "github.com/meridianos/confd/internal/xpath"

// xpathNode wraps a *Node so the tree satisfies internal/xpath.Node
// without *Node itself needing a Parent() method that would collide
// with the exported Parent field callers already use for structural
// edits (AppendChild, RemoveChild, ApplyAncestor).
type xpathNode struct{ n *Node }

// AsXPathNode adapts n for use as the context or current() node in an
// xpath.Eval call — the bridge when/must and leafref checks use to run
// against a live configuration subtree.
func AsXPathNode(n *Node) xpath.Node {
	if n == nil {
		return nil
	}
	return xpathNode{n}
}

func (x xpathNode) Name() string  { return x.n.Name }
func (x xpathNode) Value() string { return x.n.Value() }

func (x xpathNode) Parent() xpath.Node {
	if x.n.Parent == nil {
		return nil
	}
	return xpathNode{x.n.Parent}
}

func (x xpathNode) Children(name string) []xpath.Node {
	kids := x.n.ChildrenNamed(name)
	out := make([]xpath.Node, len(kids))
	for i, k := range kids {
		out[i] = xpathNode{k}
	}
	return out
}

// Unwrap returns the underlying *Node, for callers (the changelog
// upgrader's selectors) that need to mutate what an xpath.Eval
// node-set result actually pointed at rather than only read it.
func (x xpathNode) Unwrap() *Node { return x.n }

func (x xpathNode) AllChildren() []xpath.Node {
	out := make([]xpath.Node, len(x.n.Children))
	for i, k := range x.n.Children {
		out[i] = xpathNode{k}
	}
	return out
}
