package datastore

import (
	"bytes"
	"strings"
	"testing"

	"github.com/meridianos/confd/internal/xmlnode"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(nil, t.TempDir())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	m.RecordModuleState = false
	if err := m.Create("running", true); err != nil {
		t.Fatalf("Create running: %v", err)
	}
	if err := m.Create("candidate", true); err != nil {
		t.Fatalf("Create candidate: %v", err)
	}
	return m
}

func TestPutMergeThenGet0(t *testing.T) {
	m := newTestManager(t)
	edit, err := xmlnode.ParseString(`<config><interfaces><name>eth0</name></interfaces></config>`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := m.Put("candidate", EditMerge, edit, "op"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	tree, _, err := m.Get0("candidate", BindNone)
	if err != nil {
		t.Fatalf("Get0: %v", err)
	}
	if tree.Child("interfaces") == nil {
		t.Fatalf("expected interfaces node, got %s", xmlnode.String(tree))
	}
}

func TestPutIsAtomicOnFailure(t *testing.T) {
	m := newTestManager(t)
	if _, _, err := m.Get0("candidate", BindNone); err != nil {
		t.Fatalf("Get0: %v", err)
	}
	before, _, _ := m.Get0("candidate", BindNone)
	beforeStr := xmlnode.String(before)

	// Put against an unknown store must fail and leave candidate alone.
	if err := m.Put("nope", EditMerge, xmlnode.New("config"), "op"); err == nil {
		t.Fatalf("expected error for unknown store")
	}
	after, _, _ := m.Get0("candidate", BindNone)
	if xmlnode.String(after) != beforeStr {
		t.Fatalf("candidate mutated by unrelated failure")
	}
}

func TestLockExclusivity(t *testing.T) {
	m := newTestManager(t)
	if err := m.Lock("running", "sess1"); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := m.Lock("running", "sess2"); err == nil {
		t.Fatalf("expected lock-denied for second session")
	}
	if err := m.Unlock("running", "sess2"); err == nil {
		t.Fatalf("expected error unlocking by non-holder")
	}
	if err := m.Unlock("running", "sess1"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if m.IsLocked("running") != "" {
		t.Fatalf("expected unlocked")
	}
}

func TestCopyPersistsAcrossReload(t *testing.T) {
	m := newTestManager(t)
	edit, _ := xmlnode.ParseString(`<config><hostname>r1</hostname></config>`)
	if err := m.Put("candidate", EditMerge, edit, "op"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := m.Copy("candidate", "running"); err != nil {
		t.Fatalf("Copy: %v", err)
	}

	m.Get0Free("running")
	tree, _, err := m.Get0("running", BindNone)
	if err != nil {
		t.Fatalf("Get0: %v", err)
	}
	if tree.Child("hostname") == nil || tree.Child("hostname").Body != "r1" {
		t.Fatalf("expected persisted hostname, got %s", xmlnode.String(tree))
	}
}

func TestDumpWritesXML(t *testing.T) {
	m := newTestManager(t)
	var buf bytes.Buffer
	if err := m.Dump("running", &buf); err != nil {
		t.Fatalf("Dump: %v", err)
	}
	if !strings.Contains(buf.String(), "<config") {
		t.Fatalf("expected <config> root in dump, got %q", buf.String())
	}
}

func TestGet0ClearStripsDefaultsAndFlags(t *testing.T) {
	tree := xmlnode.New("config")
	d := xmlnode.New("mtu")
	d.SetBody("1500")
	d.FlagSet(xmlnode.FlagDefault)
	tree.AppendChild(d)
	kept := xmlnode.New("name")
	kept.SetBody("eth0")
	kept.FlagSet(xmlnode.FlagAdd)
	tree.AppendChild(kept)

	m := newTestManager(t)
	m.Get0Clear(tree)

	if tree.Child("mtu") != nil {
		t.Fatalf("expected default node stripped")
	}
	if tree.Child("name").FlagTest(xmlnode.FlagAdd) {
		t.Fatalf("expected flags cleared")
	}
}
