// Copyright (c) 2019-2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package session

import (
	"github.com/meridianos/confd/internal/datastore"
	"github.com/meridianos/confd/internal/xmlnode"
)

// GetFullTree returns a copy of db's configuration tree with every
// plugin's operational state merged in: the read-path counterpart of
// the Plugin Bus's statedata callback. Configuration content is taken
// verbatim from the store; plugin subtrees are spliced in on top, one
// plugin at a time, in registration order. A plugin whose state
// callback fails contributes nothing (the bus logs it) — one broken
// state provider must not break reads of everyone else's data.
func (c *CommitMgr) GetFullTree(db, xpath string) (*xmlnode.Node, error) {
	tree, _, err := c.Store.Get0(db, datastore.BindModule)
	if err != nil {
		return nil, err
	}
	full := tree.CopySubtree()
	for _, sub := range c.Bus.StateData(xpath) {
		mergeState(full, sub)
	}
	return full, nil
}

// mergeState splices state's children into dst. Containers merge
// recursively; list entries match by shared leaf children with equal
// bodies failing which they append as new siblings; leaves overwrite.
func mergeState(dst, state *xmlnode.Node) {
	for _, sc := range state.Children {
		existing := matchStateSibling(dst, sc)
		if existing == nil {
			dst.AppendChild(sc.CopySubtree())
			continue
		}
		if len(sc.Children) == 0 {
			existing.SetBody(sc.Body)
			continue
		}
		mergeState(existing, sc)
	}
}

// matchStateSibling finds the child of dst that sc corresponds to: the
// same name, and — when both carry leaf children — no leaf present on
// both sides with differing bodies (the keyed-instance match, without
// needing schema access on an already-bound tree).
func matchStateSibling(dst, sc *xmlnode.Node) *xmlnode.Node {
	for _, dc := range dst.ChildrenNamed(sc.Name) {
		if stateKeysMatch(dc, sc) {
			return dc
		}
	}
	return nil
}

func stateKeysMatch(a, b *xmlnode.Node) bool {
	for _, bc := range b.Children {
		if len(bc.Children) != 0 {
			continue
		}
		ac := a.Child(bc.Name)
		if ac != nil && len(ac.Children) == 0 && ac.Body != bc.Body {
			return false
		}
	}
	return true
}
