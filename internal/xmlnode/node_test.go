package xmlnode

import (
	"strings"
	"testing"

	"github.com/meridianos/confd/internal/xpath"
	"github.com/meridianos/confd/internal/yang/schema"
)

func TestParseAndEncodeRoundTrip(t *testing.T) {
	src := `<system><host-name>router1</host-name><domain-name>example.com</domain-name></system>`
	root, err := ParseString(src)
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	if root.Name != "system" {
		t.Fatalf("root name = %q", root.Name)
	}
	hn := root.Child("host-name")
	if hn == nil || hn.Body != "router1" {
		t.Fatalf("host-name = %+v", hn)
	}

	out := String(root)
	if !strings.Contains(out, "<host-name>router1</host-name>") {
		t.Fatalf("encoded output missing host-name: %s", out)
	}
}

func TestParseRejectsDoctype(t *testing.T) {
	src := `<!DOCTYPE foo><system/>`
	if _, err := ParseString(src); err == nil {
		t.Fatal("expected DOCTYPE to be rejected")
	}
}

func TestEscaping(t *testing.T) {
	n := New("description")
	n.SetBody(`a < b & "c"`)
	out := String(n)
	if strings.Contains(out, "<b") || !strings.Contains(out, "&lt;") || !strings.Contains(out, "&amp;") {
		t.Fatalf("body not escaped: %s", out)
	}
}

func TestFlagsAndAncestorPropagation(t *testing.T) {
	root := New("system")
	iface := New("interface")
	root.AppendChild(iface)
	name := New("name")
	name.SetBody("eth0")
	iface.AppendChild(name)

	name.FlagSet(FlagChange)
	name.ApplyAncestor(func(n *Node) { n.FlagSet(FlagMark) })

	if !root.Marked() || !iface.Marked() || !name.Marked() {
		t.Fatal("FlagMark should propagate to every ancestor including self")
	}
	if !name.Changed() {
		t.Fatal("name should still report Changed")
	}
	if root.Changed() {
		t.Fatal("FlagMark propagation must not also set FlagChange on ancestors")
	}
}

func TestApplySkipsPrunedSubtree(t *testing.T) {
	root := New("system")
	a := New("a")
	b := New("b")
	root.AppendChild(a)
	root.AppendChild(b)
	a.AppendChild(New("deep"))

	var visited []string
	root.Apply(func(n *Node) bool {
		visited = append(visited, n.Name)
		return n.Name != "a"
	})
	for _, v := range visited {
		if v == "deep" {
			t.Fatal("Apply should not descend into a subtree whose callback returned false")
		}
	}
}

func TestPurgeSubtree(t *testing.T) {
	root := New("system")
	child := New("ssh")
	root.AppendChild(child)
	child.PurgeSubtree()
	if root.Child("ssh") != nil {
		t.Fatal("ssh should be gone after PurgeSubtree")
	}
	if child.Parent != nil {
		t.Fatal("purged node should have no parent")
	}
}

func TestCopySubtreeIsIndependent(t *testing.T) {
	root := New("system")
	hn := New("host-name")
	hn.SetBody("r1")
	root.AppendChild(hn)

	cp := root.CopySubtree()
	cp.Child("host-name").SetBody("r2")
	if root.Child("host-name").Body != "r1" {
		t.Fatal("copy should be independent of the original")
	}
}

func TestSortBySchemaOrdersSystemList(t *testing.T) {
	ms := schema.NewModelSet()
	if err := ms.LoadModule(`
module m {
  namespace "urn:m";
  prefix m;
  container system {
    list user {
      key "name";
      leaf name { type string; }
    }
  }
}`); err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	if err := ms.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	sysSchema := ms.Descendant([]string{"system"})

	sys := New("system")
	for _, name := range []string{"zed", "amy", "bob"} {
		u := New("user")
		n := New("name")
		n.SetBody(name)
		u.AppendChild(n)
		sys.AppendChild(u)
	}
	sys.SortBySchema(sysSchema)

	var got []string
	for _, u := range sys.ChildrenNamed("user") {
		got = append(got, u.Child("name").Body)
	}
	want := []string{"amy", "bob", "zed"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

// a list earlier in the child order must not stop later siblings from
// being normalized too
func TestSortBySchemaSortsSiblingsAfterList(t *testing.T) {
	ms := schema.NewModelSet()
	if err := ms.LoadModule(`
module m {
  namespace "urn:m";
  prefix m;
  container system {
    list user {
      key "name";
      leaf name { type string; }
    }
    container routes {
      list route {
        key "prefix";
        leaf prefix { type string; }
      }
    }
  }
}`); err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	if err := ms.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	sysSchema := ms.Descendant([]string{"system"})

	sys := New("system")
	routes := New("routes")
	for _, prefix := range []string{"10.2.0.0", "10.1.0.0"} {
		r := New("route")
		p := New("prefix")
		p.SetBody(prefix)
		r.AppendChild(p)
		routes.AppendChild(r)
	}
	sys.AppendChild(routes)
	u := New("user")
	n := New("name")
	n.SetBody("amy")
	u.AppendChild(n)
	sys.AppendChild(u)

	sys.SortBySchema(sysSchema)

	if sys.Children[0].Name != "user" {
		t.Fatalf("expected user ordered before routes, got %s first", sys.Children[0].Name)
	}
	var got []string
	for _, r := range sys.Child("routes").ChildrenNamed("route") {
		got = append(got, r.Child("prefix").Body)
	}
	want := []string{"10.1.0.0", "10.2.0.0"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("nested list not sorted: got %v, want %v", got, want)
		}
	}
}

func TestAsXPathNodeWalksParent(t *testing.T) {
	root := New("system")
	iface := New("interface")
	root.AppendChild(iface)
	mtu := New("mtu")
	mtu.SetBody("1500")
	iface.AppendChild(mtu)

	ok, err := xpath.EvalBool("../interface/mtu = 1500", AsXPathNode(iface), AsXPathNode(mtu))
	if err != nil {
		t.Fatalf("EvalBool: %v", err)
	}
	if !ok {
		t.Fatal("expected ../interface/mtu = 1500 to hold")
	}
}
