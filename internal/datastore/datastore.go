// Package datastore implements the Datastore Manager (spec §4.C): a
// registry of named, persistent configuration trees (running,
// candidate, startup, failsafe, tmp, ...), each cached behind a single
// populated tree handle, mutated only through NETCONF edit-config
// semantics, and locked per session.
//
// Grounded on session.CommitMgr's single atomic *data.Node pointer
// (session/commitmgr.go in the teacher) generalized from one store
// ("running") to the full named-store registry §3's "Datastore" data
// model requires, and on the teacher's temp-file-rename save path for
// on-disk persistence.
package datastore

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/meridianos/confd/internal/mgmterror"
	"github.com/meridianos/confd/internal/xmlnode"
	"github.com/meridianos/confd/internal/yang/schema"
)

// BindMode selects how a loaded tree is attached to the schema (§4.C).
type BindMode int

const (
	BindNone BindMode = iota
	BindParent
	BindModule
	BindRPC
)

// EditOp is a NETCONF edit-config operation attribute (§4.C).
type EditOp int

const (
	EditMerge EditOp = iota
	EditReplace
	EditCreate
	EditDelete
	EditRemove
)

func (op EditOp) String() string {
	switch op {
	case EditMerge:
		return "merge"
	case EditReplace:
		return "replace"
	case EditCreate:
		return "create"
	case EditDelete:
		return "delete"
	case EditRemove:
		return "remove"
	}
	return "unknown"
}

// ModuleState is one {module, revision} tuple recorded alongside a
// store's content at the time it was last written (§3 "Module-State").
type ModuleState struct {
	Module   string
	Revision string
}

// ModuleStatus classifies how a module's on-disk revision compares to
// the module currently loaded in the schema (§3 "Module-State Diff").
type ModuleStatus int

const (
	ModuleUnchanged ModuleStatus = iota
	ModuleAdded
	ModuleRemoved
	ModuleRevisionChanged
)

// ModuleDiffEntry is one module's comparison result.
type ModuleDiffEntry struct {
	Module       string
	Status       ModuleStatus
	From, To     string
}

// ModuleStateDiff is the full per-module comparison produced by Get0
// when module-state recording is enabled (§3 "drives upgrade
// callbacks").
type ModuleStateDiff []ModuleDiffEntry

// HasChanges reports whether any module differs from what is loaded,
// the condition that should trigger the changelog upgrader (§4.H).
func (d ModuleStateDiff) HasChanges() bool {
	for _, e := range d {
		if e.Status != ModuleUnchanged {
			return true
		}
	}
	return false
}

type store struct {
	mu          sync.Mutex
	name        string
	tree        *xmlnode.Node
	cached      bool
	moduleState []ModuleState
	lockHolder  string
	dirty       bool
	persistent  bool // backed by a file, vs tmp-only in-memory store
}

// Manager is the Datastore Manager: a named-store registry bound to one
// schema (§4.C). A process has exactly one Manager, shared by every
// session, guarded per-store by store.mu so concurrent reads/writes to
// different stores never block each other (§5 "locking serialises
// writers per datastore").
type Manager struct {
	mu     sync.Mutex
	ms     *schema.ModelSet
	dir    string // directory holding one file per persistent store
	stores map[string]*store

	// RecordModuleState controls whether Put/persist writes a
	// <yang-library> module-state block next to the content, and
	// whether Get0 computes a ModuleStateDiff at all.
	RecordModuleState bool
}

// NewManager creates a Manager rooted at dir (created if absent) and
// bound to ms. The well-known stores (running/candidate/startup/
// failsafe/tmp) must still be registered with Create before use; the
// Manager itself holds no stores at construction, mirroring how the
// teacher's CommitMgr starts with a nil running pointer until Init.
func NewManager(ms *schema.ModelSet, dir string) (*Manager, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("datastore: %w", err)
		}
	}
	return &Manager{
		ms:                ms,
		dir:               dir,
		stores:            make(map[string]*store),
		RecordModuleState: true,
	}, nil
}

func (m *Manager) lookup(db string) (*store, error) {
	m.mu.Lock()
	s, ok := m.stores[db]
	m.mu.Unlock()
	if !ok {
		e := mgmterror.NewOperationFailedApplicationError()
		e.Message = "no such datastore: " + db
		return nil, e.Error
	}
	return s, nil
}

// Create registers db as a named store. persistent stores are backed by
// a file under the Manager's directory; non-persistent stores (eg
// `tmp`'s scratch use during restart_one) live only in memory for the
// process lifetime.
func (m *Manager) Create(db string, persistent bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stores[db]; ok {
		e := mgmterror.NewDataExistsError()
		e.Message = "datastore already exists: " + db
		return e.Error
	}
	m.stores[db] = &store{name: db, persistent: persistent, tree: xmlnode.New("config")}
	return nil
}

// Exists reports whether db has been registered with Create.
func (m *Manager) Exists(db string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.stores[db]
	return ok
}

// Delete removes db from the registry and its backing file, if any.
func (m *Manager) Delete(db string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stores[db]
	if !ok {
		e := mgmterror.NewDataMissingError()
		return e.Error
	}
	delete(m.stores, db)
	if s.persistent && m.dir != "" {
		os.Remove(m.path(db))
	}
	return nil
}

func (m *Manager) path(db string) string {
	return filepath.Join(m.dir, db+".xml")
}

// Get0 returns a cached, populated tree for db plus the module-state
// diff computed against the currently loaded schema (empty if
// RecordModuleState is off). A handle goes stale after any Put, Copy,
// Reset or Delete on the same store: those install a new tree in the
// cache (or drop the store), and the next Get0 returns that tree without
// re-reading disk. Only Get0Free forces a reload from disk.
func (m *Manager) Get0(db string, bind BindMode) (*xmlnode.Node, ModuleStateDiff, error) {
	s, err := m.lookup(db)
	if err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var diff ModuleStateDiff
	if !s.cached {
		if err := m.load(s); err != nil {
			return nil, nil, err
		}
		s.cached = true
	}
	if m.RecordModuleState {
		diff = m.diffModuleState(s.moduleState)
	}
	m.bind(s.tree, bind)
	return s.tree, diff, nil
}

// bind attaches data nodes to schema nodes per mode. BindNone performs
// no attachment (the raw-parse case); the others are distinguished for
// callers but this implementation resolves schema lazily via
// ModelSet.Descendant everywhere a schema link is needed, so there is
// no persistent per-node schema pointer to populate — matching how
// diff/validate already take the schema root alongside the tree rather
// than reading it off the node.
func (m *Manager) bind(tree *xmlnode.Node, mode BindMode) {
	_ = tree
	_ = mode
}

// Get0Clear strips synthesized defaults (FlagDefault) and every
// transient flag from tree, the step that keeps injected defaults from
// leaking into what gets persisted (§4.C "get0_clear").
func (m *Manager) Get0Clear(tree *xmlnode.Node) {
	if tree == nil {
		return
	}
	var strip func(n *xmlnode.Node)
	strip = func(n *xmlnode.Node) {
		kept := n.Children[:0]
		for _, c := range n.Children {
			if c.IsDefault() {
				continue
			}
			strip(c)
			kept = append(kept, c)
		}
		n.Children = kept
		n.SetFlags(xmlnode.FlagNone)
	}
	strip(tree)
}

// Get0Free drops db's cached handle, forcing the next Get0 to reload
// from disk.
func (m *Manager) Get0Free(db string) error {
	s, err := m.lookup(db)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = false
	s.tree = nil
	return nil
}

// Put applies a NETCONF edit-config operation to db's cached tree and
// persists the result; either the store advances as a whole or (on
// error) is left exactly as it was (§4.C "atomic per call").
func (m *Manager) Put(db string, op EditOp, edit *xmlnode.Node, user string) error {
	s, err := m.lookup(db)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cached {
		if err := m.load(s); err != nil {
			return err
		}
		s.cached = true
	}

	next := s.tree.CopySubtree()
	if err := applyEdit(next, edit, op); err != nil {
		return err
	}
	if s.persistent {
		if err := m.persist(db, next, s.moduleState); err != nil {
			return err
		}
	}
	s.tree = next
	s.dirty = true
	return nil
}

// applyEdit mutates target in place per RFC 6241 §7.2 edit-config
// operation semantics, matched against edit's children by name (and,
// for list instances, by key tuple via xmlnode's own matching rules —
// reused here at the single-level granularity edit-config needs).
func applyEdit(target, edit *xmlnode.Node, op EditOp) error {
	if edit == nil {
		return nil
	}
	for _, ec := range edit.Children {
		applyEditNode(target, ec, op)
	}
	return nil
}

func applyEditNode(parent, ec *xmlnode.Node, op EditOp) {
	existing := findSibling(parent, ec)
	switch op {
	case EditDelete, EditRemove:
		if existing != nil {
			existing.PurgeSubtree()
		} else if op == EditDelete {
			// data-missing is reported by the caller (edit-config
			// session layer), which already knows the full path;
			// applyEdit only has the local subtree.
		}
		return
	case EditCreate:
		if existing != nil {
			return
		}
		parent.AppendChild(ec.CopySubtree())
		return
	case EditReplace:
		if existing != nil {
			existing.PurgeSubtree()
		}
		parent.AppendChild(ec.CopySubtree())
		return
	default: // merge
		if existing == nil {
			parent.AppendChild(ec.CopySubtree())
			return
		}
		if len(ec.Children) == 0 {
			existing.Body = ec.Body
			return
		}
		for _, c := range ec.Children {
			applyEditNode(existing, c, op)
		}
	}
}

func findSibling(parent, like *xmlnode.Node) *xmlnode.Node {
	for _, c := range parent.Children {
		if c.Name != like.Name {
			continue
		}
		if len(like.Children) > 0 && isKeyedInstance(like) {
			if sameKeys(c, like) {
				return c
			}
			continue
		}
		return c
	}
	return nil
}

// isKeyedInstance is a heuristic used only by applyEdit's local,
// schema-free matching: a list instance in edit-config content always
// carries its key leaves as children, so two same-named nodes with
// overlapping leaf children are compared leaf-by-leaf rather than
// assumed to be the sole instance of a container.
func isKeyedInstance(n *xmlnode.Node) bool {
	for _, c := range n.Children {
		if len(c.Children) == 0 {
			return true
		}
	}
	return false
}

func sameKeys(a, b *xmlnode.Node) bool {
	for _, bc := range b.Children {
		if len(bc.Children) != 0 {
			continue
		}
		ac := a.Child(bc.Name)
		if ac == nil || ac.Body != bc.Body {
			return false
		}
	}
	return true
}

// Copy replaces dst's content with a deep copy of src's (RFC 6241
// copy-config); dst is persisted and its cached tree replaced by the copy.
func (m *Manager) Copy(srcDB, dstDB string) error {
	src, err := m.lookup(srcDB)
	if err != nil {
		return err
	}
	dst, err := m.lookup(dstDB)
	if err != nil {
		return err
	}
	src.mu.Lock()
	if !src.cached {
		if err := m.load(src); err != nil {
			src.mu.Unlock()
			return err
		}
		src.cached = true
	}
	srcTree := src.tree.CopySubtree()
	srcModState := append([]ModuleState(nil), src.moduleState...)
	src.mu.Unlock()

	// a copy transfers content, never transaction state: transient
	// flags stay behind on the source tree
	srcTree.Apply(func(n *xmlnode.Node) bool {
		n.SetFlags(xmlnode.FlagNone)
		return true
	})

	dst.mu.Lock()
	defer dst.mu.Unlock()
	if dst.persistent {
		if err := m.persist(dstDB, srcTree, srcModState); err != nil {
			return err
		}
	}
	dst.tree = srcTree
	dst.moduleState = srcModState
	dst.cached = true
	dst.dirty = true
	return nil
}

// Lock grants db to session, failing if another session already holds
// it (§4.C "Locking contract").
func (m *Manager) Lock(db, session string) error {
	s, err := m.lookup(db)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockHolder != "" && s.lockHolder != session {
		e := mgmterror.NewLockDeniedError(s.lockHolder)
		return e.Error
	}
	s.lockHolder = session
	return nil
}

// Unlock releases db, failing if session is not the current holder.
func (m *Manager) Unlock(db, session string) error {
	s, err := m.lookup(db)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockHolder == "" {
		e := mgmterror.NewOperationFailedApplicationError()
		e.Message = "datastore is not locked: " + db
		return e.Error
	}
	if s.lockHolder != session {
		e := mgmterror.NewLockDeniedError(s.lockHolder)
		return e.Error
	}
	s.lockHolder = ""
	return nil
}

// IsLocked returns the holding session id, or "" if unlocked.
func (m *Manager) IsLocked(db string) string {
	s, err := m.lookup(db)
	if err != nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockHolder
}

// UnlockAll releases every lock held by session, eg on session close
// (RFC 6241 §8.3.6: locks are released when the owning session ends).
func (m *Manager) UnlockAll(session string) {
	m.mu.Lock()
	stores := make([]*store, 0, len(m.stores))
	for _, s := range m.stores {
		stores = append(stores, s)
	}
	m.mu.Unlock()
	for _, s := range stores {
		s.mu.Lock()
		if s.lockHolder == session {
			s.lockHolder = ""
		}
		s.mu.Unlock()
	}
}

// ModifiedSet sets db's dirty bit explicitly (eg cleared after a
// successful copy(candidate, running), set when a client edits
// candidate without yet committing).
func (m *Manager) ModifiedSet(db string, bit bool) error {
	s, err := m.lookup(db)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = bit
	return nil
}

// Modified reports db's dirty bit.
func (m *Manager) Modified(db string) bool {
	s, err := m.lookup(db)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Reset replaces db's content with an empty <config/> tree (used to
// build the startup snapshot `load_failsafe` resets running to).
func (m *Manager) Reset(db string) error {
	s, err := m.lookup(db)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree = xmlnode.New("config")
	s.cached = true
	s.dirty = true
	if s.persistent {
		return m.persist(db, s.tree, nil)
	}
	return nil
}

// Dump writes db's current content as pretty XML to w (§4.C "dump").
func (m *Manager) Dump(db string, w io.Writer) error {
	tree, _, err := m.Get0(db, BindNone)
	if err != nil {
		return err
	}
	return xmlnode.Encode(w, tree, true)
}

// --- persistence ---

type onDiskModState struct {
	XMLName xml.Name         `xml:"yang-library"`
	Modules []onDiskModEntry `xml:"module"`
}

type onDiskModEntry struct {
	Name     string `xml:"name"`
	Revision string `xml:"revision"`
}

// load reads db's file (root <config> element, optional trailing
// <yang-library> block) from disk into s.tree/s.moduleState. A missing
// file is not an error: the store simply starts out empty, matching
// "when missing, emit a bootstrap warning but proceed" for a brand-new
// deployment.
func (m *Manager) load(s *store) error {
	if !s.persistent || m.dir == "" {
		if s.tree == nil {
			s.tree = xmlnode.New("config")
		}
		return nil
	}
	f, err := os.Open(m.path(s.name))
	if err != nil {
		if os.IsNotExist(err) {
			s.tree = xmlnode.New("config")
			s.moduleState = nil
			return nil
		}
		return fmt.Errorf("datastore: load %s: %w", s.name, err)
	}
	defer f.Close()

	dec := xml.NewDecoder(f)
	var (
		config *xmlnode.Node
		cur    *xmlnode.Node
		modlib onDiskModState
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("datastore: load %s: %w", s.name, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			// the module-state block sits after the closed <config>
			// root (§6 "Datastore on disk"); DecodeElement consumes
			// it whole, including its end element
			if t.Name.Local == "yang-library" && (cur == nil || cur == config) {
				var raw struct {
					XMLName xml.Name         `xml:"yang-library"`
					Modules []onDiskModEntry `xml:"module"`
				}
				if err := dec.DecodeElement(&raw, &t); err == nil {
					modlib.Modules = raw.Modules
				}
				continue
			}
			n := &xmlnode.Node{Name: t.Name.Local, Namespace: t.Name.Space}
			for _, a := range t.Attr {
				n.AddAttribute(a.Name.Local, a.Value)
			}
			if cur != nil {
				cur.AppendChild(n)
			}
			if config == nil {
				config = n
			}
			cur = n
		case xml.EndElement:
			if cur != nil {
				cur = cur.Parent
			}
		case xml.CharData:
			if cur != nil && cur != config {
				cur.Body += string(t)
			}
		}
	}
	if config == nil {
		config = xmlnode.New("config")
	}
	s.tree = config
	s.moduleState = nil
	for _, e := range modlib.Modules {
		s.moduleState = append(s.moduleState, ModuleState{Module: e.Name, Revision: e.Revision})
	}
	return nil
}

// persist writes tree plus modState to db's file via temp-file-then-
// rename, so a crash mid-write never leaves a half-written store
// (§6 "Write atomicity via temp-file + rename").
func (m *Manager) persist(db string, tree *xmlnode.Node, modState []ModuleState) error {
	if m.dir == "" {
		return nil
	}
	tmp, err := os.CreateTemp(m.dir, "."+db+"-*.tmp")
	if err != nil {
		return fmt.Errorf("datastore: persist %s: %w", db, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := xmlnode.Encode(tmp, tree, true); err != nil {
		tmp.Close()
		return fmt.Errorf("datastore: persist %s: %w", db, err)
	}
	if len(modState) > 0 {
		enc := xml.NewEncoder(tmp)
		lib := onDiskModState{}
		for _, ms := range modState {
			lib.Modules = append(lib.Modules, onDiskModEntry{Name: ms.Module, Revision: ms.Revision})
		}
		if err := enc.Encode(lib); err != nil {
			tmp.Close()
			return fmt.Errorf("datastore: persist %s: %w", db, err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("datastore: persist %s: %w", db, err)
	}
	if err := os.Rename(tmpName, m.path(db)); err != nil {
		return fmt.Errorf("datastore: persist %s: %w", db, err)
	}
	s := m.stores[db]
	if s != nil {
		s.moduleState = append([]ModuleState(nil), modState...)
	}
	return nil
}

// diffModuleState compares recorded against the Manager's currently
// loaded schema modules, producing one entry per module that appears on
// either side (§3 "Module-State Diff").
func (m *Manager) diffModuleState(recorded []ModuleState) ModuleStateDiff {
	if m.ms == nil {
		return nil
	}
	byName := make(map[string]string, len(recorded))
	for _, r := range recorded {
		byName[r.Module] = r.Revision
	}
	var diff ModuleStateDiff
	seen := make(map[string]bool)
	for name, mod := range m.ms.Modules {
		seen[name] = true
		rev, had := byName[name]
		switch {
		case !had:
			diff = append(diff, ModuleDiffEntry{Module: name, Status: ModuleAdded, To: mod.Revision})
		case rev != mod.Revision:
			diff = append(diff, ModuleDiffEntry{Module: name, Status: ModuleRevisionChanged, From: rev, To: mod.Revision})
		default:
			diff = append(diff, ModuleDiffEntry{Module: name, Status: ModuleUnchanged, From: rev, To: rev})
		}
	}
	for _, r := range recorded {
		if !seen[r.Module] {
			diff = append(diff, ModuleDiffEntry{Module: r.Module, Status: ModuleRemoved, From: r.Revision})
		}
	}
	return diff
}
