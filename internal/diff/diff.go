// Package diff implements the Diff Engine (spec §4.E): given a source
// and a target tree sharing one schema, it produces the three
// collections a commit needs — nodes only in the source (deleted),
// nodes only in the target (added), and the pairs of nodes present in
// both whose subtree actually differs (changed) — and marks every
// touched node's flag bits (xmlnode.FlagAdd/Del/Change/Mark) so the
// rest of the pipeline (validator, plugin bus) never recomputes the
// comparison. Every ancestor of a touched node carries CHANGE (the
// plugin-facing contract of §4.E) alongside MARK, the engine's own
// touched-subtree marker.
package diff

import (
	"sort"

	"github.com/meridianos/confd/internal/xmlnode"
	"github.com/meridianos/confd/internal/yang/schema"
)

// ChangedPair is one node present on both sides of a diff (same name,
// and same key tuple for a list instance) whose content differs;
// Source and Target are both always set.
type ChangedPair struct {
	Source *xmlnode.Node
	Target *xmlnode.Node
}

// Result is the output of one Diff call, covering every depth of the
// recursion below the starting schema position. Deleted
// and Added are disjoint from ChangedPairs: a node counts as deleted or
// added only when its counterpart is entirely missing, not merely
// different.
type Result struct {
	Deleted      []*xmlnode.Node
	Added        []*xmlnode.Node
	ChangedPairs []ChangedPair
}

// Diff compares source against target at the schema position sn,
// flags every touched node, and recurses into children. The returned
// Result collects the deleted, added and changed nodes found at every
// level; the flags left on the trees record the same changes per node.
func Diff(sn *schema.Node, source, target *xmlnode.Node) Result {
	var res Result
	diffChildren(sn, source, target, &res)
	return res
}

// diffChildren compares the children of source and target (both may be
// nil, meaning "no such branch on this side") against schema node sn,
// appending what it finds to res and recursing (via compareMatched) for
// nested changes, so a single Result gathers the changes of every level.
func diffChildren(sn *schema.Node, source, target *xmlnode.Node, res *Result) {
	sourceChildren := childList(source)
	targetChildren := childList(target)

	matched := make(map[*xmlnode.Node]bool, len(sourceChildren))
	matchedTarget := make(map[*xmlnode.Node]bool, len(targetChildren))

	for _, sc := range sourceChildren {
		childSchema := childSchemaFor(sn, sc.Name)
		tc := findMatch(sc, targetChildren, childSchema)
		if tc == nil {
			// DEL marks the whole subtree; the collection carries
			// only its root
			sc.Apply(func(n *xmlnode.Node) bool {
				n.FlagSet(xmlnode.FlagDel)
				return true
			})
			if source != nil {
				source.ApplyAncestor(func(n *xmlnode.Node) { n.FlagSet(xmlnode.FlagChange | xmlnode.FlagMark) })
			}
			res.Deleted = append(res.Deleted, sc)
			continue
		}
		matched[sc] = true
		matchedTarget[tc] = true
		compareMatched(childSchema, sc, tc, res)
	}

	for _, tc := range targetChildren {
		if matchedTarget[tc] {
			continue
		}
		tc.Apply(func(n *xmlnode.Node) bool {
			n.FlagSet(xmlnode.FlagAdd)
			return true
		})
		if target != nil {
			target.ApplyAncestor(func(n *xmlnode.Node) { n.FlagSet(xmlnode.FlagChange | xmlnode.FlagMark) })
		}
		res.Added = append(res.Added, tc)
	}
}

// compareMatched handles one matched (same name, same key if a list)
// pair: leafs compare by body text, containers/lists recurse.
func compareMatched(childSchema *schema.Node, sc, tc *xmlnode.Node, res *Result) {
	if childSchema != nil && (childSchema.Kind == schema.KindLeaf || childSchema.Kind == schema.KindLeafList) {
		if sc.Body != tc.Body {
			sc.FlagSet(xmlnode.FlagChange)
			tc.FlagSet(xmlnode.FlagChange)
			sc.ApplyAncestor(func(n *xmlnode.Node) { n.FlagSet(xmlnode.FlagChange | xmlnode.FlagMark) })
			tc.ApplyAncestor(func(n *xmlnode.Node) { n.FlagSet(xmlnode.FlagChange | xmlnode.FlagMark) })
			res.ChangedPairs = append(res.ChangedPairs, ChangedPair{Source: sc, Target: tc})
		}
		return
	}
	before := len(res.Deleted) + len(res.Added) + len(res.ChangedPairs)
	diffChildren(childSchema, sc, tc, res)
	if len(res.Deleted)+len(res.Added)+len(res.ChangedPairs) != before {
		res.ChangedPairs = append(res.ChangedPairs, ChangedPair{Source: sc, Target: tc})
	}
}

func childList(n *xmlnode.Node) []*xmlnode.Node {
	if n == nil {
		return nil
	}
	return n.Children
}

func childSchemaFor(sn *schema.Node, name string) *schema.Node {
	if sn == nil {
		return nil
	}
	return sn.Descendant([]string{name})
}

// findMatch locates sc's counterpart among candidates: for a list
// instance that means matching every key leaf's value, for anything
// else the (unique, per invariant) name match is enough.
func findMatch(sc *xmlnode.Node, candidates []*xmlnode.Node, childSchema *schema.Node) *xmlnode.Node {
	isListInstance := childSchema != nil && childSchema.Kind == schema.KindList
	for _, tc := range candidates {
		if tc.Name != sc.Name {
			continue
		}
		if !isListInstance {
			return tc
		}
		if keysEqual(sc, tc, childSchema.Keys) {
			return tc
		}
	}
	return nil
}

func keysEqual(a, b *xmlnode.Node, keys []string) bool {
	av, bv := a.KeyValues(keys), b.KeyValues(keys)
	for i := range av {
		if av[i] != bv[i] {
			return false
		}
	}
	return true
}

// OrderedNames returns the distinct child names appearing across both
// deleted/added/changed collections, ordered by their position in sn's
// declared schema — the key-wise ordering §4.E requires for commit
// output and changelog replay, independent of insertion order.
func OrderedNames(sn *schema.Node, res Result) []string {
	seen := make(map[string]bool)
	add := func(n *xmlnode.Node) {
		if !seen[n.Name] {
			seen[n.Name] = true
		}
	}
	for _, n := range res.Deleted {
		add(n)
	}
	for _, n := range res.Added {
		add(n)
	}
	for _, p := range res.ChangedPairs {
		if p.Source != nil {
			add(p.Source)
		} else if p.Target != nil {
			add(p.Target)
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	if sn == nil {
		sort.Strings(names)
		return names
	}
	order := make(map[string]int, len(sn.Children))
	for i, c := range sn.Children {
		if _, ok := order[c.Name]; !ok {
			order[c.Name] = i
		}
	}
	sort.Slice(names, func(i, j int) bool {
		oi, iok := order[names[i]]
		oj, jok := order[names[j]]
		if iok && jok {
			return oi < oj
		}
		if iok != jok {
			return iok
		}
		return names[i] < names[j]
	})
	return names
}
