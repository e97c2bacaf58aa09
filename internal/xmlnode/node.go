// Package xmlnode implements the XML Object Model (spec §4.B): a
// labelled, ordered tree that the diff engine, validator and commit
// pipeline all operate on in place. Every node carries a small flag
// bitset (added/deleted/changed/marked/default) that diff computes and
// the plugin bus and validator read — the sole contract between those
// components, per §3's "Diff Flags" glossary entry.
package xmlnode

import "github.com/meridianos/confd/internal/yang/schema"

// Flag is a bitset of the per-node diff/validation markers. NONE is the
// zero value; a node can be both MARK and one of ADD/DEL/CHANGE at once
// (MARK records "an ancestor or descendant changed", independent of
// whether this exact node did).
type Flag uint8

const (
	FlagNone Flag = 0
	FlagAdd  Flag = 1 << iota
	FlagDel
	FlagChange
	FlagMark
	FlagDefault
)

// Attr is an XML attribute: name plus value. Namespace declarations
// (xmlns / xmlns:prefix) are held separately on Node since they scope a
// subtree rather than describing the element itself.
type Attr struct {
	Name  string
	Value string
}

// Node is one element of the XML Object Model. Leaf/leaf-list elements
// carry their value in Body; containers/lists carry it in Children.
type Node struct {
	Name      string
	Namespace string
	Prefix    string
	Attrs     []Attr
	Body      string

	Parent   *Node
	Children []*Node

	flags Flag
}

// New creates a detached node with the given name.
func New(name string) *Node {
	return &Node{Name: name}
}

func (n *Node) SetBody(s string) { n.Body = s }

func (n *Node) AddAttribute(name, value string) {
	n.Attrs = append(n.Attrs, Attr{Name: name, Value: value})
}

func (n *Node) Attribute(name string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// AppendChild links child under n, replacing any prior parent link.
func (n *Node) AppendChild(child *Node) {
	child.Parent = n
	n.Children = append(n.Children, child)
}

// RemoveChild unlinks child from n's children, if present.
func (n *Node) RemoveChild(child *Node) {
	for i, c := range n.Children {
		if c == child {
			n.Children = append(n.Children[:i], n.Children[i+1:]...)
			child.Parent = nil
			return
		}
	}
}

// PurgeSubtree detaches n from its parent entirely.
func (n *Node) PurgeSubtree() {
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

// CopySubtree deep-copies n (and everything below it) as a detached
// tree; diff and load routinely need an independent copy to compare
// against or to splice into another tree without aliasing.
func (n *Node) CopySubtree() *Node {
	cp := &Node{
		Name: n.Name, Namespace: n.Namespace, Prefix: n.Prefix,
		Body: n.Body, flags: n.flags,
	}
	cp.Attrs = append(cp.Attrs, n.Attrs...)
	for _, c := range n.Children {
		cc := c.CopySubtree()
		cp.AppendChild(cc)
	}
	return cp
}

func (n *Node) FlagSet(f Flag)        { n.flags |= f }
func (n *Node) FlagReset(f Flag)      { n.flags &^= f }
func (n *Node) FlagTest(f Flag) bool  { return n.flags&f != 0 }
func (n *Node) Flags() Flag           { return n.flags }
func (n *Node) SetFlags(f Flag)       { n.flags = f }

func (n *Node) Added() bool   { return n.FlagTest(FlagAdd) }
func (n *Node) Deleted() bool { return n.FlagTest(FlagDel) }
func (n *Node) Changed() bool { return n.FlagTest(FlagChange) }
func (n *Node) Marked() bool  { return n.FlagTest(FlagMark) }
func (n *Node) IsDefault() bool { return n.FlagTest(FlagDefault) }

// Apply runs fn over n and its descendants in pre-order, skipping a
// subtree entirely when fn returns false — the traversal shape
// merge_tree, validate and the plugin bus all share.
func (n *Node) Apply(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		c.Apply(fn)
	}
}

// ApplyAncestor walks from n up through every Parent, including n
// itself, invoking fn on each — used to propagate FlagMark up to the
// root once a leaf has changed (§4.E "flag propagation").
func (n *Node) ApplyAncestor(fn func(*Node)) {
	for cur := n; cur != nil; cur = cur.Parent {
		fn(cur)
	}
}

// Child returns the first child named name, or nil.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ChildrenNamed returns every child named name, in document order
// (the list/leaf-list instances of that name).
func (n *Node) ChildrenNamed(name string) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// KeyValues returns the values of key in document order, for a list node
// whose schema declares the given key leaf names.
func (n *Node) KeyValues(keys []string) []string {
	vals := make([]string, len(keys))
	for i, k := range keys {
		if c := n.Child(k); c != nil {
			vals[i] = c.Body
		}
	}
	return vals
}

// SortBySchema reorders n's children to match sn's declared child
// order, moving list/leaf-list instances as a contiguous block and
// leaving instance order within a "user"-ordered list/leaf-list
// untouched (RFC 7950 §7.8.6/§7.7.5 ordered-by user). System-ordered
// list instances are sorted by their key tuple, lexicographically.
func (n *Node) SortBySchema(sn *schema.Node) {
	if sn == nil {
		return
	}
	order := make(map[string]int, len(sn.Children))
	for i, c := range sn.Children {
		if _, exists := order[c.Name]; !exists {
			order[c.Name] = i
		}
	}
	sorted := make([]*Node, len(n.Children))
	copy(sorted, n.Children)
	stableSortByKey(sorted, func(x *Node) int {
		if idx, ok := order[x.Name]; ok {
			return idx
		}
		return len(order)
	})
	n.Children = sorted

	// group system-ordered list instances first (this reorders
	// n.Children), then recurse into every child
	for _, c := range sn.Children {
		if c.Kind == schema.KindList && c.OrderedBy != "user" {
			sortListInstances(n, c.Name, c.Keys)
		}
	}
	for _, c := range n.Children {
		child := sn.Descendant([]string{c.Name})
		if child == nil {
			continue
		}
		c.SortBySchema(child)
	}
}

func stableSortByKey(nodes []*Node, key func(*Node) int) {
	// insertion sort: the child counts this runs over are small, and
	// stability (preserving document order within an equal key) matters
	// for user-ordered leaf-lists.
	for i := 1; i < len(nodes); i++ {
		j := i
		for j > 0 && key(nodes[j-1]) > key(nodes[j]) {
			nodes[j-1], nodes[j] = nodes[j], nodes[j-1]
			j--
		}
	}
}

func sortListInstances(parent *Node, name string, keys []string) {
	var instances []*Node
	for _, c := range parent.Children {
		if c.Name == name {
			instances = append(instances, c)
		}
	}
	if len(instances) < 2 {
		return
	}
	for i := 1; i < len(instances); i++ {
		j := i
		for j > 0 && keyLess(instances[j], instances[j-1], keys) {
			instances[j-1], instances[j] = instances[j], instances[j-1]
			j--
		}
	}
	out := make([]*Node, 0, len(parent.Children))
	ii := 0
	for _, c := range parent.Children {
		if c.Name == name {
			out = append(out, instances[ii])
			ii++
		} else {
			out = append(out, c)
		}
	}
	parent.Children = out
}

func keyLess(a, b *Node, keys []string) bool {
	av, bv := a.KeyValues(keys), b.KeyValues(keys)
	for i := range av {
		if av[i] != bv[i] {
			return av[i] < bv[i]
		}
	}
	return false
}

// Value returns the node's body text; xpath string-value of an element
// with structured children is left empty, since when/must in this
// engine only ever string-compare leaf values.
func (n *Node) Value() string { return n.Body }
