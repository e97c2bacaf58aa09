package changelog

import (
	"strings"
	"testing"

	"github.com/meridianos/confd/internal/xmlnode"
)

func parseTree(t *testing.T, s string) *xmlnode.Node {
	t.Helper()
	n, err := xmlnode.ParseString(s)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return n
}

func TestRenameOp(t *testing.T) {
	root := parseTree(t, `<config><old>v1</old></config>`)
	entries := []Entry{{
		Module: "m", To: "2023-01-01",
		Op: OpRename, Where: "/old", Tag: "'new'",
	}}
	if err := Apply(root, entries); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if root.Child("new") == nil || root.Child("new").Body != "v1" {
		t.Fatalf("rename failed: %s", xmlnode.String(root))
	}
	if root.Child("old") != nil {
		t.Fatalf("old name survived rename: %s", xmlnode.String(root))
	}
}

func TestDeleteOp(t *testing.T) {
	root := parseTree(t, `<config><a>1</a><b>2</b></config>`)
	entries := []Entry{{
		Module: "m", To: "2023-01-01",
		Op: OpDelete, Where: "/a",
	}}
	if err := Apply(root, entries); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if root.Child("a") != nil {
		t.Fatalf("delete left the node: %s", xmlnode.String(root))
	}
	if root.Child("b") == nil {
		t.Fatalf("delete removed an unmatched sibling")
	}
}

func TestReplaceOp(t *testing.T) {
	root := parseTree(t, `<config><box><inner>old</inner></box></config>`)
	tmpl := parseTree(t, `<new><fresh>x</fresh></new>`)
	entries := []Entry{{
		Module: "m", To: "2023-01-01",
		Op: OpReplace, Where: "/box", New: tmpl,
	}}
	if err := Apply(root, entries); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	box := root.Child("box")
	if box == nil || box.Child("fresh") == nil || box.Child("inner") != nil {
		t.Fatalf("replace failed: %s", xmlnode.String(root))
	}
}

func TestInsertOp(t *testing.T) {
	root := parseTree(t, `<config><box><a>1</a></box></config>`)
	tmpl := parseTree(t, `<new><b>2</b><c>3</c></new>`)
	entries := []Entry{{
		Module: "m", To: "2023-01-01",
		Op: OpInsert, Where: "/box", New: tmpl,
	}}
	if err := Apply(root, entries); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	box := root.Child("box")
	if box.Child("a") == nil || box.Child("b") == nil || box.Child("c") == nil {
		t.Fatalf("insert failed: %s", xmlnode.String(root))
	}
}

func TestMoveOp(t *testing.T) {
	root := parseTree(t, `<config><src><item>v</item></src><dst/></config>`)
	entries := []Entry{{
		Module: "m", To: "2023-01-01",
		Op: OpMove, Where: "/src/item", Dst: "/dst",
	}}
	if err := Apply(root, entries); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if root.Child("src").Child("item") != nil {
		t.Fatalf("move left the source: %s", xmlnode.String(root))
	}
	dst := root.Child("dst")
	if dst == nil || dst.Child("item") == nil || dst.Child("item").Body != "v" {
		t.Fatalf("move failed: %s", xmlnode.String(root))
	}
}

func TestWhenFiltersMatches(t *testing.T) {
	root := parseTree(t,
		`<config><item><flag>yes</flag></item><item><flag>no</flag></item></config>`)
	entries := []Entry{{
		Module: "m", To: "2023-01-01",
		Op: OpDelete, Where: "/item", When: "flag = 'yes'",
	}}
	if err := Apply(root, entries); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	items := root.ChildrenNamed("item")
	if len(items) != 1 || items[0].Child("flag").Body != "no" {
		t.Fatalf("when filter applied wrongly: %s", xmlnode.String(root))
	}
}

func TestForIntervalBrackets(t *testing.T) {
	log := Log{
		{Module: "m", To: "2021-01-01", Op: OpDelete, Where: "/a"},
		{Module: "m", To: "2022-01-01", Op: OpDelete, Where: "/b"},
		{Module: "m", To: "2023-01-01", Op: OpDelete, Where: "/c"},
		{Module: "other", To: "2022-01-01", Op: OpDelete, Where: "/d"},
	}
	got := log.ForInterval("m", "2021-01-01", "2023-01-01")
	if len(got) != 2 || got[0].Where != "/b" || got[1].Where != "/c" {
		t.Fatalf("ForInterval picked wrong entries: %+v", got)
	}
}

func TestParse(t *testing.T) {
	doc := `<changelog>
  <step module="m" revision="2023-01-01" from="2020-01-01" op="rename" where="/old" tag="'new'"/>
  <step module="m" revision="2023-01-01" op="replace" where="/x">
    <new><x><y>1</y></x></new>
  </step>
</changelog>`
	log, err := Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(log) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(log))
	}
	if log[0].Op != OpRename || log[0].From != "2020-01-01" || log[0].Tag != "'new'" {
		t.Fatalf("step 0 mis-parsed: %+v", log[0])
	}
	if log[1].Op != OpReplace || log[1].New == nil {
		t.Fatalf("step 1 mis-parsed: %+v", log[1])
	}
}

func TestParseRejectsBadSteps(t *testing.T) {
	for _, doc := range []string{
		`<changelog><step module="m" revision="r" op="explode" where="/a"/></changelog>`,
		`<changelog><step module="m" revision="r" op="rename" where="/a"/></changelog>`,
		`<changelog><step module="m" revision="r" op="replace" where="/a"/></changelog>`,
		`<changelog><step op="delete" where="/a"/></changelog>`,
	} {
		if _, err := Parse(strings.NewReader(doc)); err == nil {
			t.Fatalf("expected parse error for %s", doc)
		}
	}
}
