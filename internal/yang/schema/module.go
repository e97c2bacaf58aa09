package schema

import "github.com/meridianos/confd/internal/yang/yparse"

// Module holds one compiled YANG module: its namespace/prefix, revision,
// the features it declares, and its root data-definition children. A
// submodule is compiled into a Module of its own name; it is not merged
// into its belonging module.
type Module struct {
	Name      string
	Namespace string
	Prefix    string
	Revision  string // latest (first-listed) revision date, "" if none

	Root *Node // synthetic container of top-level data-definition nodes

	typedefs map[string]*yparse.Statement // name -> typedef statement, module-local
	features map[string]bool              // feature name -> enabled
}

func newModule(name, namespace, prefix, revision string) *Module {
	m := &Module{
		Name:      name,
		Namespace: namespace,
		Prefix:    prefix,
		Revision:  revision,
		typedefs:  make(map[string]*yparse.Statement),
		features:  make(map[string]bool),
	}
	m.Root = &Node{Kind: KindModule, Name: name, Namespace: namespace, Prefix: prefix, module: m}
	return m
}
