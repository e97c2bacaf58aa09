package schema

import (
	"fmt"
	"regexp"
)

// BaseType is one of the nineteen YANG built-in types (RFC 7950 §4.2.4)
// that a named type eventually reduces to through some number of
// typedef/derivation steps.
type BaseType int

const (
	Int8 BaseType = iota
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Decimal64
	String
	Boolean
	Enumeration
	Bits
	Binary
	Leafref
	Identityref
	InstanceIdentifier
	Empty
	Union
)

// RangeSpec is an inclusive numeric range facet.
type RangeSpec struct {
	Min, Max int64
}

type LengthSpec struct {
	Min, Max int
}

type EnumSpec struct {
	Name  string
	Value int
}

type BitSpec struct {
	Name     string
	Position int
}

// TypeSpec is the resolved type descriptor (spec §4.A): a built-in type
// plus the union of every facet encountered while reducing a named type
// through typedefs. Union member types are held as an ordered list, each
// resolved when the union itself is compiled.
type TypeSpec struct {
	Base     BaseType
	TypeName string // the final named type, eg "uint32" or a typedef name

	Ranges   []RangeSpec
	Lengths  []LengthSpec
	Patterns []*regexp.Regexp // XSD patterns translated to POSIX/RE2 syntax

	FractionDigits uint8
	Enums          []EnumSpec
	BitLabels      []BitSpec

	LeafrefPath    string
	RequireInstance bool

	IdentityBase []string // module-qualified {module}:{name} base identities

	Union []*TypeSpec
}

// translateXSDPattern compiles a YANG (XSD-regex) pattern as Go RE2
// syntax, anchored to match the whole value. No other rewriting is done:
// XSD-only constructs such as the \i and \c classes are not translated.
func translateXSDPattern(xsd string) (*regexp.Regexp, error) {
	// RE2 already accepts the common XSD constructs (character classes,
	// quantifiers, anchors implied by full-string match); the one
	// necessary rewrite is anchoring, since XSD patterns match the whole
	// value without needing explicit ^$.
	anchored := "^(?:" + xsd + ")$"
	re, err := regexp.Compile(anchored)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", xsd, err)
	}
	return re, nil
}

// MatchesRange reports whether v satisfies the declared ranges (ranges
// are a union of sub-ranges; any one matching is sufficient).
func (t *TypeSpec) MatchesRange(v int64) bool {
	if len(t.Ranges) == 0 {
		return true
	}
	for _, r := range t.Ranges {
		if v >= r.Min && v <= r.Max {
			return true
		}
	}
	return false
}

func (t *TypeSpec) MatchesLength(n int) bool {
	if len(t.Lengths) == 0 {
		return true
	}
	for _, l := range t.Lengths {
		if n >= l.Min && n <= l.Max {
			return true
		}
	}
	return false
}

// MatchesPatterns reports whether s matches every declared pattern (YANG
// semantics: all patterns must match, unlike ranges/lengths).
func (t *TypeSpec) MatchesPatterns(s string) bool {
	for _, p := range t.Patterns {
		if !p.MatchString(s) {
			return false
		}
	}
	return true
}

func (t *TypeSpec) EnumByName(name string) (EnumSpec, bool) {
	for _, e := range t.Enums {
		if e.Name == name {
			return e, true
		}
	}
	return EnumSpec{}, false
}

func (t *TypeSpec) BitByName(name string) (BitSpec, bool) {
	for _, b := range t.BitLabels {
		if b.Name == name {
			return b, true
		}
	}
	return BitSpec{}, false
}
