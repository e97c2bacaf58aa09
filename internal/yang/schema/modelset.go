package schema

import "strings"

// ModelSet aggregates every compiled module into the single schema tree
// the rest of the engine queries (spec §4.A): datastore, validator, diff
// and XPath all resolve schema nodes through a ModelSet, never a single
// Module in isolation, since augment targets and leafref/identityref
// resolution routinely cross module boundaries.
type ModelSet struct {
	Modules    map[string]*Module
	Identities *IdentityRegistry
	Features   map[string]bool // "module:feature" -> enabled

	byNamespace       map[string]*Module
	pendingAugments   []pendingAugment
	defaultFeaturesOn bool
}

func NewModelSet() *ModelSet {
	return &ModelSet{
		Modules:     make(map[string]*Module),
		Identities:  NewIdentityRegistry(),
		Features:    make(map[string]bool),
		byNamespace: make(map[string]*Module),
	}
}

// EnableFeature turns on a feature declared by moduleName, per the
// capabilities file loaded at startup (see LoadCapabilities). Modules
// loaded after this call still see it take effect, since LoadModule
// keeps an already-enabled feature on and if-feature is evaluated
// against ms.Features at validation time rather than baked in at
// compile time.
func (ms *ModelSet) EnableFeature(moduleName, feature string) {
	ms.Features[moduleName+":"+feature] = true
	if mod, ok := ms.Modules[moduleName]; ok {
		mod.features[feature] = true
	}
}

// Finalize applies every augment recorded during LoadModule. It must run
// once after all modules of a schema set are loaded, since an augment's
// target node commonly lives in a module loaded later than the one
// declaring the augment.
func (ms *ModelSet) Finalize() error {
	ms.Identities.Link()
	for _, pa := range ms.pendingAugments {
		path := splitSchemaPath(pa.stmt.Argument)
		target := ms.descendantQualified(path, pa.ctx)
		if target == nil {
			return parseErr("SCHEMA_DEP", "augment target %q not found", pa.stmt.Argument)
		}
		for _, child := range pa.stmt.Children {
			if !isDataDefinition(child.Keyword) && child.Keyword != "uses" {
				continue
			}
			if child.Keyword == "uses" {
				if err := pa.ctx.inlineUses(child, target); err != nil {
					return err
				}
				continue
			}
			node, err := pa.ctx.compileNode(child, target)
			if err != nil {
				return err
			}
			if node != nil {
				target.Children = append(target.Children, node)
			}
		}
	}
	ms.pendingAugments = nil
	return nil
}

// splitSchemaPath splits an XPath-like absolute schema node-id
// ("/if:interfaces/if:interface") into its prefixed name components.
func splitSchemaPath(p string) []string {
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// descendantQualified walks an absolute path of (possibly prefixed) names
// starting from the matching top-level module root, resolving each
// prefix against ctx's import table.
func (ms *ModelSet) descendantQualified(path []string, ctx *compileCtx) *Node {
	if len(path) == 0 {
		return nil
	}
	first := path[0]
	prefix, name := ctx.mod.Prefix, first
	if idx := strings.IndexByte(first, ':'); idx >= 0 {
		prefix, name = first[:idx], first[idx+1:]
	}
	owner, ok := ctx.imports[prefix]
	if !ok {
		owner = ctx.mod
	}
	cur := owner.Root.child(name)
	if cur == nil {
		return nil
	}
	for _, seg := range path[1:] {
		segName := seg
		if idx := strings.IndexByte(seg, ':'); idx >= 0 {
			segName = seg[idx+1:]
		}
		cur = cur.child(segName)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Descendant resolves an unprefixed data path against every loaded
// module's top level, returning the first match. Most callers (session,
// datastore) work in a single combined tree and don't care which module
// a top-level name came from, mirroring how the old engine's ModelSet
// API was used from session_internal.go.
func (ms *ModelSet) Descendant(path []string) *Node {
	if len(path) == 0 {
		return nil
	}
	for _, mod := range ms.Modules {
		if n := mod.Root.child(path[0]); n != nil {
			return n.Descendant(path[1:])
		}
	}
	return nil
}

// Lookup finds the top-level node named path[0] belonging to the module
// owning namespace, then walks the remainder of path from there.
func (ms *ModelSet) Lookup(namespace string, path []string) *Node {
	mod, ok := ms.byNamespace[namespace]
	if !ok || len(path) == 0 {
		return nil
	}
	n := mod.Root.child(path[0])
	if n == nil {
		return nil
	}
	return n.Descendant(path[1:])
}

// IterIdentities returns every identity deriving from base (module-
// qualified, eg "iana-if-type:ethernetCsmacd" as base qname).
func (ms *ModelSet) IterIdentities(baseQName string) []*Identity {
	return ms.Identities.IterIdentities(baseQName)
}

// NormalizePath resolves a mixed prefixed/unprefixed path into the
// canonical unprefixed name sequence the diff and datastore engines key
// their trees on, validating each step exists in the schema.
func (ms *ModelSet) NormalizePath(path []string) ([]string, error) {
	out := make([]string, 0, len(path))
	cur := ms.rootFinder()
	for _, seg := range path {
		name := seg
		if idx := strings.IndexByte(seg, ':'); idx >= 0 {
			name = seg[idx+1:]
		}
		next := cur.child(name)
		if next == nil {
			return nil, parseErr("SCHEMA_DEP", "no such schema node %q", seg)
		}
		out = append(out, name)
		cur = next
	}
	return out, nil
}

// Root returns a synthetic top-level node whose children are the union
// of every loaded module's top-level data nodes, for callers (diff,
// validate) that need one schema.Node to recurse from instead of a
// ModelSet.
func (ms *ModelSet) Root() *Node { return ms.rootFinder() }

// rootFinder returns a synthetic node whose Children is the union of
// every module's top-level nodes, letting NormalizePath/FindOrWalk treat
// the whole schema set as one tree regardless of which module owns the
// first path segment.
func (ms *ModelSet) rootFinder() *Node {
	root := &Node{Kind: KindModule}
	for _, mod := range ms.Modules {
		root.Children = append(root.Children, mod.Root.Children...)
	}
	return root
}

// NodeFinder is the predicate FindOrWalk applies at each candidate node;
// it mirrors the callback shape session_internal.go's nodeFinder used to
// test path equality while tolerating incomplete paths during editing.
type NodeFinder func(n *Node, path []string) bool

// FindOrWalk walks the schema tree along path, invoking finder at the
// deepest node reached; it stops early and returns false the moment a
// path segment has no matching schema child, so partially-specified
// edit-config paths over unknown nodes fail fast rather than panicking.
func (ms *ModelSet) FindOrWalk(path []string, finder NodeFinder) bool {
	cur := ms.rootFinder()
	for i, seg := range path {
		name := seg
		if idx := strings.IndexByte(seg, ':'); idx >= 0 {
			name = seg[idx+1:]
		}
		next := cur.child(name)
		if next == nil {
			return false
		}
		cur = next
		if i == len(path)-1 {
			return finder(cur, path)
		}
	}
	return finder(cur, path)
}

// AttrsForPath resolves path and reports the node-status-relevant
// attributes the dispatcher needs without handing out the *Node itself:
// whether it exists, is config, and is a list key leaf.
type Attrs struct {
	Exists      bool
	ConfigFalse bool
	IsKeyLeaf   bool
	Kind        Kind
}

func (ms *ModelSet) AttrsForPath(path []string) Attrs {
	n := ms.Descendant(path)
	if n == nil {
		return Attrs{}
	}
	return Attrs{Exists: true, ConfigFalse: n.ConfigFalse, IsKeyLeaf: n.IsKeyLeaf(), Kind: n.Kind}
}
