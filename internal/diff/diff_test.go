package diff

import (
	"testing"

	"github.com/meridianos/confd/internal/xmlnode"
	"github.com/meridianos/confd/internal/yang/schema"
)

const diffTestModule = `
module m {
  namespace "urn:m";
  prefix m;
  container system {
    leaf host-name { type string; }
    list user {
      key "name";
      leaf name { type string; }
      leaf password { type string; }
    }
  }
}`

func loadDiffSchema(t *testing.T) *schema.Node {
	t.Helper()
	ms := schema.NewModelSet()
	if err := ms.LoadModule(diffTestModule); err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	if err := ms.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return ms.Descendant([]string{"system"})
}

func buildTree(t *testing.T, hostName string, users map[string]string) *xmlnode.Node {
	t.Helper()
	sys := xmlnode.New("system")
	hn := xmlnode.New("host-name")
	hn.SetBody(hostName)
	sys.AppendChild(hn)
	for name, pw := range users {
		u := xmlnode.New("user")
		n := xmlnode.New("name")
		n.SetBody(name)
		p := xmlnode.New("password")
		p.SetBody(pw)
		u.AppendChild(n)
		u.AppendChild(p)
		sys.AppendChild(u)
	}
	return sys
}

func TestDiffDetectsLeafChange(t *testing.T) {
	sn := loadDiffSchema(t)
	src := buildTree(t, "r1", nil)
	dst := buildTree(t, "r2", nil)

	res := Diff(sn, src, dst)
	if len(res.ChangedPairs) != 1 {
		t.Fatalf("expected 1 changed pair, got %d", len(res.ChangedPairs))
	}
	if !res.ChangedPairs[0].Source.Changed() || !res.ChangedPairs[0].Target.Changed() {
		t.Fatal("both sides of a changed leaf should carry FlagChange")
	}
}

func TestDiffDetectsAddAndDelete(t *testing.T) {
	sn := loadDiffSchema(t)
	src := buildTree(t, "r1", map[string]string{"alice": "pw1"})
	dst := buildTree(t, "r1", map[string]string{"bob": "pw2"})

	res := Diff(sn, src, dst)
	if len(res.Deleted) != 1 || res.Deleted[0].Child("name").Body != "alice" {
		t.Fatalf("expected alice deleted, got %v", res.Deleted)
	}
	if len(res.Added) != 1 || res.Added[0].Child("name").Body != "bob" {
		t.Fatalf("expected bob added, got %v", res.Added)
	}
}

func TestDiffMatchesListByKeyNotPosition(t *testing.T) {
	sn := loadDiffSchema(t)
	src := buildTree(t, "r1", map[string]string{"alice": "pw1", "bob": "pw2"})
	dst := buildTree(t, "r1", map[string]string{"alice": "pw1-new", "bob": "pw2"})

	res := Diff(sn, src, dst)
	if len(res.Deleted) != 0 || len(res.Added) != 0 {
		t.Fatalf("expected no add/delete, only a password change: deleted=%v added=%v", res.Deleted, res.Added)
	}

	found := false
	for _, p := range res.ChangedPairs {
		if p.Source.Name == "password" && p.Source.Body == "pw1" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected alice's password change to be detected")
	}
}

func TestDiffMarksAncestors(t *testing.T) {
	sn := loadDiffSchema(t)
	src := buildTree(t, "r1", map[string]string{"alice": "pw1"})
	dst := buildTree(t, "r1", map[string]string{"alice": "pw1-new"})

	Diff(sn, src, dst)
	if !src.Marked() || !dst.Marked() {
		t.Fatal("root should be marked when a descendant changes")
	}
	if !src.Changed() || !dst.Changed() {
		t.Fatal("every ancestor of a touched node should carry FlagChange")
	}
}

func TestOrderedNamesFollowsSchemaOrder(t *testing.T) {
	sn := loadDiffSchema(t)
	src := buildTree(t, "r1", map[string]string{"alice": "pw1"})
	dst := buildTree(t, "r2", map[string]string{"alice": "pw1", "carl": "pw3"})

	res := Diff(sn, src, dst)
	names := OrderedNames(sn, res)
	if len(names) == 0 {
		t.Fatal("expected some changed names")
	}
	// host-name is declared before user in the schema, so it must sort first.
	if names[0] != "host-name" {
		t.Fatalf("expected host-name first, got %v", names)
	}
}
