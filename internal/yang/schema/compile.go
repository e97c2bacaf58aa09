package schema

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/meridianos/confd/internal/mgmterror"
	"github.com/meridianos/confd/internal/yang/yparse"
)

// ParseError kinds, per spec §4.A failure modes.
type ParseError struct {
	Kind    string // "SCHEMA_PARSE", "SCHEMA_DEP", "SCHEMA_TYPE"
	Message string
}

func (e *ParseError) Error() string { return e.Kind + ": " + e.Message }

func parseErr(kind, format string, args ...interface{}) error {
	return &ParseError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

var builtins = map[string]BaseType{
	"int8": Int8, "int16": Int16, "int32": Int32, "int64": Int64,
	"uint8": Uint8, "uint16": Uint16, "uint32": Uint32, "uint64": Uint64,
	"decimal64": Decimal64, "string": String, "boolean": Boolean,
	"enumeration": Enumeration, "bits": Bits, "binary": Binary,
	"leafref": Leafref, "identityref": Identityref,
	"instance-identifier": InstanceIdentifier, "empty": Empty, "union": Union,
}

// groupingScope carries groupings visible while compiling a module, so
// "uses" can inline them by name.
type groupingScope struct {
	groupings map[string]*yparse.Statement
}

// LoadModule parses and compiles a YANG module's source text, resolving
// imports against modules already present in ms, and registers the result.
// Augments found in the module are recorded and applied once Finalize
// runs, since their target may live in a module loaded afterwards.
func (ms *ModelSet) LoadModule(src string) error {
	top, err := yparse.Parse(src)
	if err != nil {
		return parseErr("SCHEMA_PARSE", "%s", err)
	}
	if top.Keyword != "module" && top.Keyword != "submodule" {
		return parseErr("SCHEMA_PARSE", "expected module or submodule, got %q", top.Keyword)
	}

	name := top.Argument
	var namespace, prefix string
	if ns := top.Find("namespace"); ns != nil {
		namespace = ns.Argument
	}
	if pfx := top.Find("prefix"); pfx != nil {
		prefix = pfx.Argument
	}
	revision := ""
	if rev := top.Find("revision"); rev != nil {
		revision = rev.Argument
	}

	mod := newModule(name, namespace, prefix, revision)

	// Import resolution: map a local prefix to an already-loaded module.
	imports := make(map[string]*Module)
	imports[prefix] = mod
	for _, imp := range top.FindAll("import") {
		depName := imp.Argument
		dep, ok := ms.Modules[depName]
		if !ok {
			return parseErr("SCHEMA_DEP", "unresolved import %q", depName)
		}
		localPrefix := dep.Prefix
		if p := imp.Find("prefix"); p != nil {
			localPrefix = p.Argument
		}
		imports[localPrefix] = dep
	}

	gs := &groupingScope{groupings: make(map[string]*yparse.Statement)}
	collectGroupings(top, gs)

	// Typedefs: single pass, allowing forward reference to sibling
	// typedefs declared later in the same module (common in real YANG).
	for _, td := range top.FindAll("typedef") {
		mod.typedefs[td.Argument] = td
	}

	for _, feat := range top.FindAll("feature") {
		key := mod.Name + ":" + feat.Argument
		enabled := ms.defaultFeaturesOn || ms.Features[key]
		mod.features[feat.Argument] = enabled
		ms.Features[key] = enabled
	}

	for _, id := range top.FindAll("identity") {
		identity := &Identity{Module: mod.Name, Name: id.Argument}
		for _, base := range id.FindAll("base") {
			identity.Bases = append(identity.Bases, qualify(base.Argument, mod, imports))
		}
		ms.Identities.Add(identity)
	}

	ctx := &compileCtx{ms: ms, mod: mod, imports: imports, gs: gs}
	for _, child := range top.Children {
		if !isDataDefinition(child.Keyword) {
			continue
		}
		node, err := ctx.compileNode(child, mod.Root)
		if err != nil {
			return err
		}
		if node != nil {
			mod.Root.Children = append(mod.Root.Children, node)
		}
	}

	for _, aug := range top.FindAll("augment") {
		ms.pendingAugments = append(ms.pendingAugments, pendingAugment{mod: mod, ctx: ctx, stmt: aug})
	}

	ms.Modules[mod.Name] = mod
	if mod.Namespace != "" {
		ms.byNamespace[mod.Namespace] = mod
	}
	return nil
}

func collectGroupings(stmt *yparse.Statement, gs *groupingScope) {
	for _, g := range stmt.FindAll("grouping") {
		gs.groupings[g.Argument] = g
	}
	for _, c := range stmt.Children {
		if c.Keyword == "container" || c.Keyword == "list" {
			collectGroupings(c, gs)
		}
	}
}

func isDataDefinition(keyword string) bool {
	switch keyword {
	case "container", "list", "leaf", "leaf-list", "choice", "anyxml", "rpc", "notification":
		return true
	}
	return false
}

type compileCtx struct {
	ms      *ModelSet
	mod     *Module
	imports map[string]*Module
	gs      *groupingScope
}

type pendingAugment struct {
	mod  *Module
	ctx  *compileCtx
	stmt *yparse.Statement
}

func qualify(prefixedName string, mod *Module, imports map[string]*Module) string {
	if idx := strings.IndexByte(prefixedName, ':'); idx >= 0 {
		prefix, name := prefixedName[:idx], prefixedName[idx+1:]
		if dep, ok := imports[prefix]; ok {
			return dep.Name + ":" + name
		}
		return prefix + ":" + name
	}
	return mod.Name + ":" + prefixedName
}

func localName(nameOrPrefixed string) string {
	if idx := strings.IndexByte(nameOrPrefixed, ':'); idx >= 0 {
		return nameOrPrefixed[idx+1:]
	}
	return nameOrPrefixed
}

func (c *compileCtx) compileNode(stmt *yparse.Statement, parent *Node) (*Node, error) {
	if stmt.Keyword == "uses" {
		return nil, c.inlineUses(stmt, parent)
	}

	var kind Kind
	switch stmt.Keyword {
	case "container":
		kind = KindContainer
	case "list":
		kind = KindList
	case "leaf":
		kind = KindLeaf
	case "leaf-list":
		kind = KindLeafList
	case "choice":
		kind = KindChoice
	case "case":
		kind = KindCase
	case "anyxml":
		kind = KindAnyxml
	case "rpc":
		kind = KindRPC
	case "notification":
		kind = KindNotification
	default:
		return nil, nil
	}

	n := &Node{
		Kind:      kind,
		Name:      localName(stmt.Argument),
		Namespace: c.mod.Namespace,
		Prefix:    c.mod.Prefix,
		Parent:    parent,
		module:    c.mod,
	}

	if cfg := stmt.Find("config"); cfg != nil && cfg.Argument == "false" {
		n.ConfigFalse = true
	} else if parent != nil {
		n.ConfigFalse = parent.ConfigFalse
	}

	if desc := stmt.Find("description"); desc != nil {
		n.Description = desc.Argument
	}
	if m := stmt.Find("mandatory"); m != nil && m.Argument == "true" {
		n.Mandatory = true
	}
	if p := stmt.Find("presence"); p != nil {
		n.Presence = true
	}
	if w := stmt.Find("when"); w != nil {
		n.When = w.Argument
	}
	for _, m := range stmt.FindAll("must") {
		must := Must{XPath: m.Argument}
		if em := m.Find("error-message"); em != nil {
			must.ErrorMessage = em.Argument
		}
		if et := m.Find("error-app-tag"); et != nil {
			must.ErrorAppTag = et.Argument
		}
		n.Must = append(n.Must, must)
	}
	for _, f := range stmt.FindAll("if-feature") {
		n.IfFeatures = append(n.IfFeatures, f.Argument)
	}

	switch kind {
	case KindLeaf, KindLeafList:
		typeStmt := stmt.Find("type")
		if typeStmt == nil {
			return nil, parseErr("SCHEMA_TYPE", "leaf %q has no type", n.Name)
		}
		ts, err := c.resolveType(typeStmt)
		if err != nil {
			return nil, err
		}
		n.Type = ts
		if d := stmt.Find("default"); d != nil {
			n.HasDefault = true
			n.Default = d.Argument
		}
		if kind == KindLeafList {
			if min := stmt.Find("min-elements"); min != nil {
				n.MinElements, _ = strconv.Atoi(min.Argument)
			}
			if max := stmt.Find("max-elements"); max != nil && max.Argument != "unbounded" {
				n.MaxElements, _ = strconv.Atoi(max.Argument)
			}
			if ob := stmt.Find("ordered-by"); ob != nil {
				n.OrderedBy = ob.Argument
			}
		}

	case KindList:
		if k := stmt.Find("key"); k != nil {
			n.Keys = strings.Fields(k.Argument)
		}
		for _, u := range stmt.FindAll("unique") {
			n.Unique = append(n.Unique, strings.Fields(u.Argument))
		}
		if min := stmt.Find("min-elements"); min != nil {
			n.MinElements, _ = strconv.Atoi(min.Argument)
		}
		if max := stmt.Find("max-elements"); max != nil && max.Argument != "unbounded" {
			n.MaxElements, _ = strconv.Atoi(max.Argument)
		}
		if ob := stmt.Find("ordered-by"); ob != nil {
			n.OrderedBy = ob.Argument
		}
		fallthrough
	case KindContainer, KindChoice, KindCase, KindRPC, KindNotification:
		children := stmt.Children
		if kind == KindRPC {
			if in := stmt.Find("input"); in != nil {
				children = in.Children
			}
		}
		for _, child := range children {
			if child.Keyword == "case" && kind == KindChoice {
				caseNode, err := c.compileNode(child, n)
				if err != nil {
					return nil, err
				}
				n.Children = append(n.Children, caseNode)
				continue
			}
			if !isDataDefinition(child.Keyword) && child.Keyword != "uses" {
				continue
			}
			if kind == KindChoice {
				// Shorthand case: a bare data-definition directly under
				// choice is an implicit single-node case.
				caseNode := &Node{Kind: KindCase, Name: localName(child.Argument),
					Namespace: c.mod.Namespace, Prefix: c.mod.Prefix, Parent: n, module: c.mod}
				grand, err := c.compileNode(child, caseNode)
				if err != nil {
					return nil, err
				}
				if grand != nil {
					caseNode.Children = append(caseNode.Children, grand)
				}
				n.Children = append(n.Children, caseNode)
				continue
			}
			kid, err := c.compileNode(child, n)
			if err != nil {
				return nil, err
			}
			if kid != nil {
				n.Children = append(n.Children, kid)
			} else if child.Keyword == "uses" {
				if err := c.inlineUses(child, n); err != nil {
					return nil, err
				}
			}
		}
	}

	return n, nil
}

// inlineUses copies a grouping's children in place, per RFC 7950 §7.13 —
// "uses" is macro expansion, not a reference.
func (c *compileCtx) inlineUses(stmt *yparse.Statement, parent *Node) error {
	name := localName(stmt.Argument)
	grouping, ok := c.gs.groupings[name]
	if !ok {
		return parseErr("SCHEMA_DEP", "unresolved grouping %q", stmt.Argument)
	}
	refines := make(map[string]*yparse.Statement)
	for _, r := range stmt.FindAll("refine") {
		refines[r.Argument] = r
	}
	for _, child := range grouping.Children {
		if !isDataDefinition(child.Keyword) {
			continue
		}
		kid, err := c.compileNode(child, parent)
		if err != nil {
			return err
		}
		if kid == nil {
			continue
		}
		if refine, ok := refines[kid.Name]; ok {
			applyRefine(kid, refine)
		}
		parent.Children = append(parent.Children, kid)
	}
	return nil
}

func applyRefine(n *Node, refine *yparse.Statement) {
	if d := refine.Find("description"); d != nil {
		n.Description = d.Argument
	}
	if d := refine.Find("default"); d != nil {
		n.HasDefault = true
		n.Default = d.Argument
	}
	if m := refine.Find("mandatory"); m != nil {
		n.Mandatory = m.Argument == "true"
	}
	if p := refine.Find("presence"); p != nil {
		n.Presence = true
	}
	for _, m := range refine.FindAll("must") {
		must := Must{XPath: m.Argument}
		if em := m.Find("error-message"); em != nil {
			must.ErrorMessage = em.Argument
		}
		n.Must = append(n.Must, must)
	}
}

// resolveType reduces a type statement through any number of typedef
// steps to a built-in type plus the union of every facet encountered
// (spec §4.A "Type resolution").
func (c *compileCtx) resolveType(stmt *yparse.Statement) (*TypeSpec, error) {
	name := stmt.Argument
	if base, ok := builtins[name]; ok {
		return c.resolveFacets(stmt, &TypeSpec{Base: base, TypeName: name})
	}

	prefix, localTd := "", name
	if idx := strings.IndexByte(name, ':'); idx >= 0 {
		prefix, localTd = name[:idx], name[idx+1:]
	}
	owner := c.mod
	if prefix != "" {
		dep, ok := c.imports[prefix]
		if !ok {
			return nil, parseErr("SCHEMA_DEP", "unresolved type prefix %q", prefix)
		}
		owner = dep
	}
	tdStmt, ok := owner.typedefs[localTd]
	if !ok {
		return nil, parseErr("SCHEMA_TYPE", "unresolved type %q", name)
	}
	innerTypeStmt := tdStmt.Find("type")
	if innerTypeStmt == nil {
		return nil, parseErr("SCHEMA_TYPE", "typedef %q has no type", name)
	}
	innerCtx := c
	if owner != c.mod {
		innerCtx = &compileCtx{ms: c.ms, mod: owner, imports: map[string]*Module{owner.Prefix: owner}, gs: c.gs}
	}
	base, err := innerCtx.resolveType(innerTypeStmt)
	if err != nil {
		return nil, err
	}
	base.TypeName = localTd
	// A typedef may itself carry a default, folded in by the leaf that
	// uses it only if the leaf doesn't declare its own (left to the
	// caller, since defaults are leaf-level in this engine's data model).
	return c.resolveFacets(stmt, base)
}

func (c *compileCtx) resolveFacets(stmt *yparse.Statement, ts *TypeSpec) (*TypeSpec, error) {
	if r := stmt.Find("range"); r != nil {
		ranges, err := parseRanges(r.Argument)
		if err != nil {
			return nil, parseErr("SCHEMA_TYPE", "%s", err)
		}
		ts.Ranges = ranges
	}
	if l := stmt.Find("length"); l != nil {
		lengths, err := parseLengths(l.Argument)
		if err != nil {
			return nil, parseErr("SCHEMA_TYPE", "%s", err)
		}
		ts.Lengths = lengths
	}
	for _, p := range stmt.FindAll("pattern") {
		re, err := translateXSDPattern(p.Argument)
		if err != nil {
			return nil, parseErr("SCHEMA_TYPE", "%s", err)
		}
		ts.Patterns = append(ts.Patterns, re)
	}
	if fd := stmt.Find("fraction-digits"); fd != nil {
		v, _ := strconv.Atoi(fd.Argument)
		ts.FractionDigits = uint8(v)
	}
	for i, e := range stmt.FindAll("enum") {
		val := i
		if v := e.Find("value"); v != nil {
			val, _ = strconv.Atoi(v.Argument)
		}
		ts.Enums = append(ts.Enums, EnumSpec{Name: e.Argument, Value: val})
	}
	for i, b := range stmt.FindAll("bit") {
		pos := i
		if p := b.Find("position"); p != nil {
			pos, _ = strconv.Atoi(p.Argument)
		}
		ts.BitLabels = append(ts.BitLabels, BitSpec{Name: b.Argument, Position: pos})
	}
	if p := stmt.Find("path"); p != nil {
		ts.LeafrefPath = p.Argument
		ts.RequireInstance = true
		if ri := stmt.Find("require-instance"); ri != nil && ri.Argument == "false" {
			ts.RequireInstance = false
		}
	}
	for _, b := range stmt.FindAll("base") {
		ts.IdentityBase = append(ts.IdentityBase, qualify(b.Argument, c.mod, c.imports))
	}
	if ts.Base == Union {
		for _, member := range stmt.FindAll("type") {
			mts, err := c.resolveType(member)
			if err != nil {
				return nil, err
			}
			ts.Union = append(ts.Union, mts)
		}
	}
	return ts, nil
}

func parseRanges(arg string) ([]RangeSpec, error) {
	var out []RangeSpec
	for _, part := range strings.Split(arg, "|") {
		part = strings.TrimSpace(part)
		bounds := strings.SplitN(part, "..", 2)
		min, err := strconv.ParseInt(strings.TrimSpace(bounds[0]), 10, 64)
		if err != nil {
			return nil, err
		}
		max := min
		if len(bounds) == 2 {
			b := strings.TrimSpace(bounds[1])
			if b == "max" {
				max = 1<<63 - 1
			} else {
				max, err = strconv.ParseInt(b, 10, 64)
				if err != nil {
					return nil, err
				}
			}
		}
		out = append(out, RangeSpec{Min: min, Max: max})
	}
	return out, nil
}

func parseLengths(arg string) ([]LengthSpec, error) {
	var out []LengthSpec
	for _, part := range strings.Split(arg, "|") {
		part = strings.TrimSpace(part)
		bounds := strings.SplitN(part, "..", 2)
		min, err := strconv.Atoi(strings.TrimSpace(bounds[0]))
		if err != nil {
			return nil, err
		}
		max := min
		if len(bounds) == 2 {
			b := strings.TrimSpace(bounds[1])
			if b == "max" {
				max = int(^uint(0) >> 1)
			} else {
				max, err = strconv.Atoi(b)
				if err != nil {
					return nil, err
				}
			}
		}
		out = append(out, LengthSpec{Min: min, Max: max})
	}
	return out, nil
}

// mgmtErrorFor maps a schema ParseError to the NETCONF error §7 specifies
// for SCHEMA_* kinds (surfaced only at load time, never mid-transaction).
func mgmtErrorFor(err error) error {
	pe, ok := err.(*ParseError)
	if !ok {
		return err
	}
	e := mgmterror.NewOperationFailedApplicationError()
	e.Message = pe.Message
	return e.Error
}
