package schema

// Identity is a YANG identity statement: a named token optionally deriving
// from one or more base identities (used by identityref leaves).
type Identity struct {
	Module string // owning module name
	Name   string
	Bases  []string // module-qualified "module:name" of declared bases
}

// QName is the module-qualified name used as the identities map key and
// as the canonical identityref value form.
func (i *Identity) QName() string { return i.Module + ":" + i.Name }

// IdentityRegistry resolves identity derivation: for a base it returns the
// full transitive set of identities deriving from it (spec §4.A
// "Identityref support").
type IdentityRegistry struct {
	byQName map[string]*Identity
	// derivedBy maps a base qname to the qnames of identities whose Bases
	// list contains it, directly.
	derivedBy map[string][]string
}

func NewIdentityRegistry() *IdentityRegistry {
	return &IdentityRegistry{
		byQName:   make(map[string]*Identity),
		derivedBy: make(map[string][]string),
	}
}

func (r *IdentityRegistry) Add(id *Identity) {
	r.byQName[id.QName()] = id
}

// Link must be called once every identity has been added: it builds the
// reverse derivation index used by IterIdentities.
func (r *IdentityRegistry) Link() {
	for qname, id := range r.byQName {
		for _, base := range id.Bases {
			r.derivedBy[base] = append(r.derivedBy[base], qname)
		}
	}
}

func (r *IdentityRegistry) Get(qname string) *Identity {
	return r.byQName[qname]
}

// IterIdentities returns every identity (transitively) deriving from
// baseQName, including identities that derive from it via an intermediate
// identity. Order is unspecified beyond being deterministic for a given
// registry state.
func (r *IdentityRegistry) IterIdentities(baseQName string) []*Identity {
	seen := make(map[string]bool)
	var out []*Identity
	var walk func(string)
	walk = func(qname string) {
		for _, child := range r.derivedBy[qname] {
			if seen[child] {
				continue
			}
			seen[child] = true
			out = append(out, r.byQName[child])
			walk(child)
		}
	}
	walk(baseQName)
	return out
}

// DerivesFrom reports whether qname is baseQName itself or derives from it
// transitively — the predicate an identityref value must satisfy.
func (r *IdentityRegistry) DerivesFrom(qname, baseQName string) bool {
	if qname == baseQName {
		return true
	}
	for _, id := range r.IterIdentities(baseQName) {
		if id.QName() == qname {
			return true
		}
	}
	return false
}
