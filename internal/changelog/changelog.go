// Package changelog implements the Changelog Upgrader (spec §4.H): a
// declarative sequence of rename/replace/insert/delete/move steps that
// brings stored content up to the currently running schema revision.
//
// Grounded directly on clixon_xml_changelog.c's changelog_op dispatch
// (_examples/original_source/lib/src/clixon_xml_changelog.c) — the
// teacher repo (danos-configd) has no equivalent of this at all; it is
// a feature SPEC_FULL.md supplements back in from original_source/ per
// the task's "features the distillation dropped" instruction, written
// in the rest of this module's idiom (xmlnode for the tree, the
// internal xpath subset for selectors) rather than transliterated from
// C.
package changelog

import (
	"fmt"

	"github.com/meridianos/confd/internal/xmlnode"
	"github.com/meridianos/confd/internal/xpath"
)

// Op identifies one changelog step's operation (§4.H).
type Op int

const (
	OpRename Op = iota
	OpReplace
	OpInsert
	OpDelete
	OpMove
)

// Entry is one changelog step, bracketed to the module revision
// interval it applies to.
type Entry struct {
	Module string
	From   string // exclusive lower bound; "" means "the beginning of time"
	To     string // inclusive upper bound this entry belongs to

	Op    Op
	Where string // XPath selecting the nodes this step touches
	When  string // optional XPath filtering each match; "" means no filter

	Tag string       // OpRename: XPath whose string value is the new name
	New *xmlnode.Node // OpReplace/OpInsert: template node
	Dst string       // OpMove: XPath selecting the single destination parent
}

// Log is an ordered changelog: every Entry that might apply to any
// module, in declaration order. Applying a revision interval preserves
// that order among the entries whose bracket matches (§4.H "Ordering
// of ops within a revision is as declared").
type Log []Entry

// ForInterval returns, in Log order, every entry for module whose
// bracket intersects (from, to] — ie from < entry.To <= to (with ""
// treated as -inf on From and +inf on To comparisons are lexicographic
// over revision strings, the same ordering YANG revision dates sort
// correctly under).
func (l Log) ForInterval(module, from, to string) []Entry {
	var out []Entry
	for _, e := range l {
		if e.Module != module {
			continue
		}
		if e.To > to {
			continue
		}
		if e.From != "" && e.From >= to {
			continue
		}
		if e.To <= from {
			continue
		}
		out = append(out, e)
	}
	return out
}

// ctxOf lets an xmlnode.Node-rooted document serve as the xpath
// evaluation context changelog "where"/"when"/"tag"/"dst" expressions
// run against.
func ctxOf(n *xmlnode.Node) xpath.Node { return xmlnode.AsXPathNode(n) }

// Apply runs every entry in entries, in order, against root. Each
// entry selects a match set via Where (scoped under root), optionally
// filters it with When, then applies its operation to every surviving
// match. An error aborts the whole pass — partial changelog
// application would leave the tree in a shape no schema version
// validates against.
func Apply(root *xmlnode.Node, entries []Entry) error {
	for _, e := range entries {
		matches, err := selectNodes(root, e.Where)
		if err != nil {
			return fmt.Errorf("changelog: where %q: %w", e.Where, err)
		}
		if e.When != "" {
			matches = filterWhen(matches, e.When)
		}
		for _, m := range matches {
			if err := applyOp(root, e, m); err != nil {
				return fmt.Errorf("changelog: %s on %q: %w", opName(e.Op), e.Where, err)
			}
		}
	}
	return nil
}

func opName(op Op) string {
	switch op {
	case OpRename:
		return "rename"
	case OpReplace:
		return "replace"
	case OpInsert:
		return "insert"
	case OpDelete:
		return "delete"
	case OpMove:
		return "move"
	}
	return "unknown"
}

func selectNodes(root *xmlnode.Node, where string) ([]*xmlnode.Node, error) {
	val, err := xpath.Eval(where, ctxOf(root), ctxOf(root))
	if err != nil {
		return nil, err
	}
	out := make([]*xmlnode.Node, 0, len(val.Nodes))
	for _, n := range val.Nodes {
		if xn, ok := n.(interface{ Unwrap() *xmlnode.Node }); ok {
			out = append(out, xn.Unwrap())
		}
	}
	return out, nil
}

func filterWhen(matches []*xmlnode.Node, when string) []*xmlnode.Node {
	var out []*xmlnode.Node
	for _, m := range matches {
		ok, err := xpath.EvalBool(when, ctxOf(m), ctxOf(m))
		if err == nil && ok {
			out = append(out, m)
		}
	}
	return out
}

func applyOp(root *xmlnode.Node, e Entry, match *xmlnode.Node) error {
	switch e.Op {
	case OpRename:
		val, err := xpath.Eval(e.Tag, ctxOf(match), ctxOf(match))
		if err != nil {
			return err
		}
		name := val.String()
		if name == "" {
			return fmt.Errorf("invalid rename tag %q", e.Tag)
		}
		match.Name = name
		return nil

	case OpReplace:
		if e.New == nil || len(e.New.Children) != 1 {
			return fmt.Errorf("replace requires a single child under <new>")
		}
		for _, c := range append([]*xmlnode.Node(nil), match.Children...) {
			c.PurgeSubtree()
		}
		match.AppendChild(e.New.Children[0].CopySubtree())
		return nil

	case OpInsert:
		if e.New == nil {
			return fmt.Errorf("insert requires <new>")
		}
		for _, c := range e.New.Children {
			match.AppendChild(c.CopySubtree())
		}
		return nil

	case OpDelete:
		match.PurgeSubtree()
		return nil

	case OpMove:
		dstNodes, err := selectNodes(root, e.Dst)
		if err != nil {
			return err
		}
		if len(dstNodes) != 1 {
			return fmt.Errorf("move destination %q must select exactly one node, got %d", e.Dst, len(dstNodes))
		}
		match.PurgeSubtree()
		dstNodes[0].AppendChild(match)
		return nil
	}
	return fmt.Errorf("unknown changelog op %d", e.Op)
}
