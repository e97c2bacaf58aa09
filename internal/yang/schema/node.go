// Package schema is the Schema Store (spec §4.A): it parses YANG modules,
// resolves typedefs/imports/augments, records if-feature gates and the
// enabled feature set, and answers "what is the spec of this node" for
// every other component. Deviation statements are not applied.
package schema

// Kind identifies what a schema statement compiles to. The set mirrors
// RFC 7950's data-definition and meta statements that the rest of the
// engine needs to reason about.
type Kind int

const (
	KindModule Kind = iota
	KindSubmodule
	KindContainer
	KindList
	KindLeaf
	KindLeafList
	KindChoice
	KindCase
	KindRPC
	KindNotification
	KindAnyxml
	KindTypedef
	KindIdentity
	KindFeature
	KindExtension
	KindGrouping
)

func (k Kind) String() string {
	switch k {
	case KindModule:
		return "module"
	case KindSubmodule:
		return "submodule"
	case KindContainer:
		return "container"
	case KindList:
		return "list"
	case KindLeaf:
		return "leaf"
	case KindLeafList:
		return "leaf-list"
	case KindChoice:
		return "choice"
	case KindCase:
		return "case"
	case KindRPC:
		return "rpc"
	case KindNotification:
		return "notification"
	case KindAnyxml:
		return "anyxml"
	case KindTypedef:
		return "typedef"
	case KindIdentity:
		return "identity"
	case KindFeature:
		return "feature"
	case KindExtension:
		return "extension"
	case KindGrouping:
		return "grouping"
	}
	return "unknown"
}

// Must is a single must-statement: an XPath boolean expression and the
// error surfaced when it evaluates false (§4.D When/Must).
type Must struct {
	XPath        string
	ErrorMessage string
	ErrorAppTag  string
}

// Node is a Schema Node (spec §3 "Schema Node"): keyword, argument,
// children, parent back-reference, resolved type, and the bits the
// validator/diff engine need. A data node resolves to exactly one Node
// whose namespace matches its effective namespace (§3 invariant).
type Node struct {
	Kind      Kind
	Name      string // statement argument: the node identifier
	Namespace string // owning module's namespace
	Prefix    string // owning module's prefix
	Parent    *Node
	Children  []*Node

	Type *TypeSpec // resolved type descriptor; populated for Leaf/LeafList/Typedef

	ConfigFalse bool // config false (state data)
	Mandatory   bool
	Presence    bool     // container has presence
	HasDefault  bool
	Default     string
	Keys        []string   // list key leaf names, in declared order
	Unique      [][]string // each "unique" statement's leaf-name tuple
	MinElements int
	MaxElements int // 0 means unbounded
	OrderedBy   string // "system" (default) or "user"

	When        string
	Must        []Must
	IfFeatures  []string // raw if-feature expressions gating this node

	Description string

	module *Module // owning module, for namespace/prefix/feature lookups
}

// Descendant walks from n down path, matching node names, skipping
// transparent choice/case intermediaries. Returns nil if no such node.
func (n *Node) Descendant(path []string) *Node {
	cur := n
	for _, name := range path {
		next := cur.child(name)
		if next == nil {
			return nil
		}
		cur = next
	}
	return cur
}

func (n *Node) child(name string) *Node {
	for _, c := range n.Children {
		if c.Kind == KindChoice || c.Kind == KindCase {
			if found := c.child(name); found != nil {
				return found
			}
			continue
		}
		if c.Name == name {
			return c
		}
	}
	return nil
}

// IsKeyLeaf reports whether n is one of its parent list's key leaves.
func (n *Node) IsKeyLeaf() bool {
	if n.Parent == nil || n.Parent.Kind != KindList {
		return false
	}
	for _, k := range n.Parent.Keys {
		if k == n.Name {
			return true
		}
	}
	return false
}

// HasPresence reports whether a container must be explicitly instantiated
// (as opposed to being an organizational non-presence container, whose
// existence is implied by any configured descendant).
func (n *Node) HasPresence() bool {
	if n.Kind != KindContainer {
		return true
	}
	return n.Presence
}

// Module returns the YANG module that defined n.
func (n *Node) Module() *Module { return n.module }

// Path returns the node's schema path as a slice of names from the
// module down (excluding the module node itself).
func (n *Node) Path() []string {
	var rev []string
	for cur := n; cur != nil && cur.Kind != KindModule && cur.Kind != KindSubmodule; cur = cur.Parent {
		rev = append(rev, cur.Name)
	}
	out := make([]string, len(rev))
	for i, name := range rev {
		out[len(rev)-1-i] = name
	}
	return out
}
