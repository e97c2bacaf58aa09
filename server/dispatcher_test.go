// Copyright (c) 2019-2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package server

import (
	"io/ioutil"
	"log"
	"strings"
	"testing"

	configd "github.com/meridianos/confd"
	"github.com/meridianos/confd/internal/datastore"
	"github.com/meridianos/confd/internal/txn"
	"github.com/meridianos/confd/internal/xmlnode"
	"github.com/meridianos/confd/internal/yang/schema"
	"github.com/meridianos/confd/rpc"
	"github.com/meridianos/confd/session"
)

const testModule = `
module test-interfaces {
  namespace "urn:test:if";
  prefix if;
  container interfaces {
    list interface {
      key name;
      leaf name { type string; }
      leaf mtu { type uint16; }
    }
  }
  container system {
    container login {
      list user {
        key name;
        leaf name { type string; }
        container authentication {
          list public-keys {
            key name;
            leaf name { type string; }
            leaf type { type string; }
            leaf key { type string; }
            leaf options { type string; }
          }
        }
      }
    }
  }
}`

func newTestDisp(t *testing.T) *Disp {
	t.Helper()
	ms := schema.NewModelSet()
	if err := ms.LoadModule(testModule); err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	if err := ms.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	store, err := datastore.NewManager(ms, t.TempDir())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	for _, db := range []string{
		session.DBRunning, session.DBCandidate,
		session.DBStartup, session.DBFailsafe,
	} {
		if err := store.Create(db, true); err != nil {
			t.Fatalf("Create %s: %v", db, err)
		}
	}
	for _, db := range []string{session.DBTmp, "rollback"} {
		if err := store.Create(db, false); err != nil {
			t.Fatalf("Create %s: %v", db, err)
		}
	}

	nolog := log.New(ioutil.Discard, "", 0)
	bus := txn.NewBus(nil)
	cmgr := session.NewCommitMgr(ms, store, bus, nil, nolog, nolog)

	return &Disp{
		smgr:  session.NewMgr(store),
		cmgr:  cmgr,
		ms:    ms,
		store: store,
		ctx: &configd.Context{
			User: "tester",
			Elog: nolog,
			Dlog: nolog,
			Wlog: nolog,
		},
	}
}

func setupSession(t *testing.T, d *Disp, sid string) {
	t.Helper()
	if _, err := d.SessionSetup(sid); err != nil {
		t.Fatalf("SessionSetup: %v", err)
	}
}

func TestSetCommitAddsListEntry(t *testing.T) {
	d := newTestDisp(t)
	setupSession(t, d, "s1")

	if _, err := d.Set("s1", "interfaces/interface/eth0/mtu/1500"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if changed, _ := d.SessionChanged("s1"); !changed {
		t.Fatalf("candidate not marked modified after Set")
	}

	if _, err := d.Commit("s1", "", false); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	out, err := d.TreeGet(rpc.RUNNING, "s1", "interfaces/interface/eth0")
	if err != nil {
		t.Fatalf("TreeGet: %v", err)
	}
	if !strings.Contains(out, "eth0") || !strings.Contains(out, "1500") {
		t.Fatalf("running missing committed entry:\n%s", out)
	}
	if changed, _ := d.SessionChanged("s1"); changed {
		t.Fatalf("candidate dirty bit not cleared by commit")
	}
}

func TestCommitIsIdempotent(t *testing.T) {
	d := newTestDisp(t)
	setupSession(t, d, "s1")

	if _, err := d.Set("s1", "interfaces/interface/eth0/mtu/1500"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := d.Commit("s1", "", false); err != nil {
		t.Fatalf("first Commit: %v", err)
	}
	first, err := d.TreeGet(rpc.RUNNING, "s1", "")
	if err != nil {
		t.Fatalf("TreeGet: %v", err)
	}

	// second commit of the same candidate must be a no-op
	if _, err := d.Commit("s1", "", false); err != nil {
		t.Fatalf("second Commit: %v", err)
	}
	second, err := d.TreeGet(rpc.RUNNING, "s1", "")
	if err != nil {
		t.Fatalf("TreeGet: %v", err)
	}
	if first != second {
		t.Fatalf("running changed on idempotent commit:\n%s\nvs\n%s", first, second)
	}
	if out, _ := d.CompareSessionChanges("s1"); out != "" {
		t.Fatalf("expected empty diff after commit, got:\n%s", out)
	}
}

func TestLockExclusivity(t *testing.T) {
	d := newTestDisp(t)
	setupSession(t, d, "s1")

	if _, err := d.Lock(rpc.CANDIDATE, "s1"); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if _, err := d.Lock(rpc.CANDIDATE, "s2"); err == nil {
		t.Fatalf("expected lock-denied for second session")
	}
	if _, err := d.Unlock(rpc.CANDIDATE, "s2"); err == nil {
		t.Fatalf("expected unlock by non-holder to fail")
	}
	holder, _ := d.Locked(rpc.CANDIDATE)
	if holder != "s1" {
		t.Fatalf("expected holder s1, got %q", holder)
	}
	if _, err := d.Unlock(rpc.CANDIDATE, "s1"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if holder, _ := d.Locked(rpc.CANDIDATE); holder != "" {
		t.Fatalf("expected unlocked, got %q", holder)
	}
}

func TestEditBlockedByForeignLock(t *testing.T) {
	d := newTestDisp(t)
	setupSession(t, d, "s1")

	if err := d.smgr.Lock(session.DBCandidate, "other"); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if _, err := d.Set("s1", "interfaces/interface/eth0"); err == nil {
		t.Fatalf("expected edit to fail under foreign lock")
	}
	if _, err := d.Commit("s1", "", false); err == nil {
		t.Fatalf("expected commit to fail under foreign lock")
	}
}

func TestSessionTeardownReleasesLocks(t *testing.T) {
	d := newTestDisp(t)
	setupSession(t, d, "s1")

	if _, err := d.Lock(rpc.CANDIDATE, "s1"); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if _, err := d.SessionTeardown("s1"); err != nil {
		t.Fatalf("SessionTeardown: %v", err)
	}
	if holder, _ := d.Locked(rpc.CANDIDATE); holder != "" {
		t.Fatalf("teardown left candidate locked by %q", holder)
	}
}

func TestKillSessionReleasesLocks(t *testing.T) {
	d := newTestDisp(t)
	setupSession(t, d, "victim")
	if _, err := d.Lock(rpc.CANDIDATE, "victim"); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	if _, err := d.KillSession("victim", "victim"); err == nil {
		t.Fatalf("expected self-kill to be rejected")
	}
	if _, err := d.KillSession("admin", "nobody"); err == nil {
		t.Fatalf("expected kill of unknown session to fail")
	}
	if _, err := d.KillSession("admin", "victim"); err != nil {
		t.Fatalf("KillSession: %v", err)
	}
	if holder, _ := d.Locked(rpc.CANDIDATE); holder != "" {
		t.Fatalf("kill-session left lock held by %q", holder)
	}
	if exists, _ := d.SessionExists("victim"); exists {
		t.Fatalf("killed session still registered")
	}
}

func TestDiscardRevertsCandidate(t *testing.T) {
	d := newTestDisp(t)
	setupSession(t, d, "s1")

	if _, err := d.Set("s1", "interfaces/interface/eth0/mtu/1500"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := d.Discard("s1"); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if changed, _ := d.SessionChanged("s1"); changed {
		t.Fatalf("candidate still dirty after discard")
	}
	if out, _ := d.CompareSessionChanges("s1"); out != "" {
		t.Fatalf("expected empty diff after discard, got:\n%s", out)
	}
}

func TestCopyConfigToRunningDenied(t *testing.T) {
	d := newTestDisp(t)
	setupSession(t, d, "s1")
	if _, err := d.CopyConfig("s1", rpc.CANDIDATE, rpc.RUNNING); err == nil {
		t.Fatalf("expected copy-config to running to be denied")
	}
}

func TestDeleteConfigProtectedStores(t *testing.T) {
	d := newTestDisp(t)
	setupSession(t, d, "s1")
	if _, err := d.DeleteConfig("s1", rpc.RUNNING); err == nil {
		t.Fatalf("expected delete-config running to be denied")
	}
	if _, err := d.DeleteConfig("s1", rpc.CANDIDATE); err == nil {
		t.Fatalf("expected delete-config candidate to be denied")
	}
	if _, err := d.DeleteConfig("s1", rpc.STARTUP); err != nil {
		t.Fatalf("delete-config startup: %v", err)
	}
}

func TestEditConfigXMLMerge(t *testing.T) {
	d := newTestDisp(t)
	setupSession(t, d, "s1")

	config := `<config><interfaces><interface><name>eth1</name><mtu>9000</mtu></interface></interfaces></config>`
	if _, err := d.EditConfigXML("s1", session.DBCandidate, "merge", "test-then-set", config); err != nil {
		t.Fatalf("EditConfigXML: %v", err)
	}
	exists, err := d.Exists(rpc.CANDIDATE, "s1", "interfaces/interface/eth1")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists {
		t.Fatalf("edit-config merge did not create the entry")
	}
}

func TestNodeGetStatus(t *testing.T) {
	d := newTestDisp(t)
	setupSession(t, d, "s1")

	if _, err := d.Set("s1", "interfaces/interface/eth0/mtu/1500"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	status, err := d.NodeGetStatus(rpc.CANDIDATE, "s1", "interfaces/interface/eth0")
	if err != nil {
		t.Fatalf("NodeGetStatus: %v", err)
	}
	if status != rpc.ADDED {
		t.Fatalf("expected ADDED, got %s", status)
	}

	if _, err := d.Commit("s1", "", false); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	status, err = d.NodeGetStatus(rpc.CANDIDATE, "s1", "interfaces/interface/eth0")
	if err != nil {
		t.Fatalf("NodeGetStatus: %v", err)
	}
	if status != rpc.UNCHANGED {
		t.Fatalf("expected UNCHANGED after commit, got %s", status)
	}
}

func TestTreeGetUnknownPath(t *testing.T) {
	d := newTestDisp(t)
	setupSession(t, d, "s1")
	if _, err := d.TreeGet(rpc.RUNNING, "s1", "no/such/thing"); err == nil {
		t.Fatalf("expected unknown-element error")
	}
}

func TestNewCommitInfoTimeoutValidation(t *testing.T) {
	if _, err := newCommitInfo(true, "0", "", ""); err == nil {
		t.Fatalf("expected zero timeout to be rejected")
	}
	if _, err := newCommitInfo(true, "bogus", "", ""); err == nil {
		t.Fatalf("expected malformed timeout to be rejected")
	}
	cmt, err := newCommitInfo(true, "", "tok", "")
	if err != nil {
		t.Fatalf("newCommitInfo: %v", err)
	}
	if cmt.timeout != 600 {
		t.Fatalf("expected default timeout 600, got %d", cmt.timeout)
	}
	if !cmt.params().Confirmed || cmt.params().Persist != "tok" {
		t.Fatalf("params round-trip lost fields: %+v", cmt.params())
	}
}

func TestConfirmWithoutPendingFails(t *testing.T) {
	d := newTestDisp(t)
	setupSession(t, d, "s1")
	if _, err := d.Confirm("s1"); err == nil {
		t.Fatalf("expected confirm with no pending commit to fail")
	}
}

type operStatePlugin struct{}

func (operStatePlugin) Name() string { return "oper" }

func (operStatePlugin) StateData(xpath string) (*xmlnode.Node, error) {
	return xmlnode.ParseString(
		`<state><interfaces><interface><name>eth0</name><oper-status>up</oper-status></interface></interfaces></state>`)
}

func TestTreeGetFullMergesPluginState(t *testing.T) {
	d := newTestDisp(t)
	setupSession(t, d, "s1")
	d.cmgr.Bus.Register(operStatePlugin{})

	if _, err := d.Set("s1", "interfaces/interface/eth0/mtu/1500"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := d.Commit("s1", "", false); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	out, err := d.TreeGetFull(rpc.RUNNING, "s1", "interfaces/interface/eth0")
	if err != nil {
		t.Fatalf("TreeGetFull: %v", err)
	}
	if !strings.Contains(out, "oper-status") || !strings.Contains(out, "1500") {
		t.Fatalf("expected merged config+state, got:\n%s", out)
	}

	// plain TreeGet must stay pure configuration
	out, err = d.TreeGet(rpc.RUNNING, "s1", "interfaces/interface/eth0")
	if err != nil {
		t.Fatalf("TreeGet: %v", err)
	}
	if strings.Contains(out, "oper-status") {
		t.Fatalf("plugin state leaked into the configuration read:\n%s", out)
	}
}

func TestCallRpcDispatch(t *testing.T) {
	d := newTestDisp(t)
	if _, err := d.CallRpc("no-such-rpc", ""); err == nil {
		t.Fatalf("expected operation-not-supported for unhandled rpc")
	}
}

func TestLoadKeysParseReader(t *testing.T) {
	keys, err := loadKeysParseReader(strings.NewReader("# comment\n\n"))
	if err != nil {
		t.Fatalf("expected comments and blanks to be skipped: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("expected no keys, got %d", len(keys))
	}

	if _, err := loadKeysParseReader(strings.NewReader("not a key\n")); err == nil {
		t.Fatalf("expected parse error for malformed line")
	}
}
