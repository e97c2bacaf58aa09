// Copyright (c) 2019-2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package session

import (
	"io/ioutil"
	"log"
	"os"
	"strings"
	"testing"

	"github.com/meridianos/confd/internal/changelog"
	"github.com/meridianos/confd/internal/confirm"
	"github.com/meridianos/confd/internal/datastore"
	"github.com/meridianos/confd/internal/txn"
	"github.com/meridianos/confd/internal/xmlnode"
	"github.com/meridianos/confd/internal/yang/schema"
)

const cmgrTestModule = `
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
}`

func newTestCommitMgr(t *testing.T) *CommitMgr {
	t.Helper()
	ms := schema.NewModelSet()
	if err := ms.LoadModule(cmgrTestModule); err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	if err := ms.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	store, err := datastore.NewManager(ms, t.TempDir())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	for _, db := range []string{DBRunning, DBCandidate, DBStartup, DBFailsafe} {
		if err := store.Create(db, true); err != nil {
			t.Fatalf("Create %s: %v", db, err)
		}
	}
	for _, db := range []string{DBTmp, dbRollback} {
		if err := store.Create(db, false); err != nil {
			t.Fatalf("Create %s: %v", db, err)
		}
	}

	nolog := log.New(ioutil.Discard, "", 0)
	return NewCommitMgr(ms, store, txn.NewBus(nil), nil, nolog, nolog)
}

func putInterface(t *testing.T, c *CommitMgr, db, name, mtu string) {
	t.Helper()
	edit, err := xmlnode.ParseString(
		`<config><interfaces><interface><name>` + name +
			`</name><mtu>` + mtu + `</mtu></interface></interfaces></config>`)
	if err != nil {
		t.Fatalf("parse edit: %v", err)
	}
	if err := c.Store.Put(db, datastore.EditMerge, edit, "test"); err != nil {
		t.Fatalf("Put %s: %v", db, err)
	}
}

func dump(t *testing.T, c *CommitMgr, db string) string {
	t.Helper()
	var b strings.Builder
	if err := c.Store.Dump(db, &b); err != nil {
		t.Fatalf("Dump %s: %v", db, err)
	}
	return b.String()
}

func TestCandidateCommitSwapsRunning(t *testing.T) {
	c := newTestCommitMgr(t)
	putInterface(t, c, DBCandidate, "eth0", "1500")

	merr, err := c.CandidateCommit("s1", confirm.Params{}, false)
	if err != nil {
		t.Fatalf("CandidateCommit: %v", err)
	}
	if merr != nil {
		t.Fatalf("CandidateCommit invalid: %v", merr)
	}

	running := dump(t, c, DBRunning)
	if !strings.Contains(running, "eth0") {
		t.Fatalf("running missing committed entry:\n%s", running)
	}
	if c.Store.Modified(DBCandidate) {
		t.Fatalf("candidate dirty bit not cleared")
	}
}

func TestCandidateCommitInvalidLeavesRunningUntouched(t *testing.T) {
	c := newTestCommitMgr(t)
	putInterface(t, c, DBCandidate, "eth0", "notanumber")

	before := dump(t, c, DBRunning)
	merr, err := c.CandidateCommit("s1", confirm.Params{}, false)
	if err != nil {
		t.Fatalf("CandidateCommit internal error: %v", err)
	}
	if merr == nil {
		t.Fatalf("expected validation failure for bad mtu")
	}
	if after := dump(t, c, DBRunning); after != before {
		t.Fatalf("running mutated by failed commit:\n%s\nvs\n%s", before, after)
	}
}

func TestCandidateValidateDoesNotTouchRunning(t *testing.T) {
	c := newTestCommitMgr(t)
	putInterface(t, c, DBCandidate, "eth0", "1500")

	merr, err := c.CandidateValidate()
	if err != nil {
		t.Fatalf("CandidateValidate: %v", err)
	}
	if merr != nil {
		t.Fatalf("CandidateValidate invalid: %v", merr)
	}
	if running := dump(t, c, DBRunning); strings.Contains(running, "eth0") {
		t.Fatalf("validate mutated running:\n%s", running)
	}
}

func TestStartupCommit(t *testing.T) {
	c := newTestCommitMgr(t)
	putInterface(t, c, DBStartup, "eth0", "1500")

	if err := c.StartupCommit(); err != nil {
		t.Fatalf("StartupCommit: %v", err)
	}
	if running := dump(t, c, DBRunning); !strings.Contains(running, "eth0") {
		t.Fatalf("running missing startup entry:\n%s", running)
	}
}

func TestStartupFailureRecoversFromFailsafe(t *testing.T) {
	c := newTestCommitMgr(t)
	putInterface(t, c, DBStartup, "eth0", "notanumber")
	putInterface(t, c, DBFailsafe, "lo", "1500")

	if err := c.StartupCommit(); err != nil {
		t.Fatalf("StartupCommit with failsafe recovery: %v", err)
	}
	running := dump(t, c, DBRunning)
	if !strings.Contains(running, "lo") {
		t.Fatalf("running not recovered from failsafe:\n%s", running)
	}
	if strings.Contains(running, "eth0") {
		t.Fatalf("corrupt startup content leaked into running:\n%s", running)
	}
}

func TestCancelCommitRevertsToPreArmSnapshot(t *testing.T) {
	c := newTestCommitMgr(t)
	putInterface(t, c, DBCandidate, "eth0", "1500")
	if merr, err := c.CandidateCommit("s1", confirm.Params{}, false); err != nil || merr != nil {
		t.Fatalf("baseline commit: err=%v invalid=%v", err, merr)
	}

	putInterface(t, c, DBCandidate, "eth0", "2000")
	p := confirm.Params{Confirmed: true, Persist: "tok"}
	if merr, err := c.CandidateCommit("s1", p, false); err != nil || merr != nil {
		t.Fatalf("confirmed commit: err=%v invalid=%v", err, merr)
	}
	if !strings.Contains(dump(t, c, DBRunning), "2000") {
		t.Fatalf("confirmed commit did not update running")
	}
	if c.Confirm.State() != confirm.StatePending {
		t.Fatalf("expected pending confirmed commit, got %s", c.Confirm.State())
	}

	if err := c.CancelCommit("tok"); err != nil {
		t.Fatalf("CancelCommit: %v", err)
	}
	running := dump(t, c, DBRunning)
	if !strings.Contains(running, "1500") || strings.Contains(running, "2000") {
		t.Fatalf("running not reverted to pre-arm snapshot:\n%s", running)
	}
	if c.Confirm.State() != confirm.StateIdle {
		t.Fatalf("expected idle after cancel, got %s", c.Confirm.State())
	}
}

const cmgrUpgradeModule = `
module test-system {
  namespace "urn:test:sys";
  prefix sys;
  revision 2023-01-01;
  leaf domain { type string; }
}`

// Startup content written under an older schema revision is upgraded
// by the changelog before validation, so the renamed node lands in
// running under its current name.
func TestStartupUpgradesViaChangelog(t *testing.T) {
	ms := schema.NewModelSet()
	if err := ms.LoadModule(cmgrUpgradeModule); err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	if err := ms.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	dir := t.TempDir()
	startupXML := `<config>
<olddomain>corp</olddomain>
</config>
<yang-library><module><name>test-system</name><revision>2020-01-01</revision></module></yang-library>
`
	if err := os.WriteFile(dir+"/startup.xml", []byte(startupXML), 0644); err != nil {
		t.Fatalf("write startup: %v", err)
	}

	store, err := datastore.NewManager(ms, dir)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	for _, db := range []string{DBRunning, DBCandidate, DBStartup, DBFailsafe} {
		if err := store.Create(db, true); err != nil {
			t.Fatalf("Create %s: %v", db, err)
		}
	}
	for _, db := range []string{DBTmp, dbRollback} {
		if err := store.Create(db, false); err != nil {
			t.Fatalf("Create %s: %v", db, err)
		}
	}

	cl := changelog.Log{{
		Module: "test-system", To: "2023-01-01",
		Op: changelog.OpRename, Where: "/olddomain", Tag: "'domain'",
	}}

	nolog := log.New(ioutil.Discard, "", 0)
	c := NewCommitMgr(ms, store, txn.NewBus(nil), cl, nolog, nolog)

	if err := c.StartupCommit(); err != nil {
		t.Fatalf("StartupCommit: %v", err)
	}
	running := dump(t, c, DBRunning)
	if !strings.Contains(running, "<domain>") || !strings.Contains(running, "corp") {
		t.Fatalf("running missing upgraded node:\n%s", running)
	}
	if strings.Contains(running, "olddomain") {
		t.Fatalf("old name survived the upgrade:\n%s", running)
	}
}

func TestDiscardChanges(t *testing.T) {
	c := newTestCommitMgr(t)
	putInterface(t, c, DBCandidate, "eth0", "1500")

	if err := c.DiscardChanges(); err != nil {
		t.Fatalf("DiscardChanges: %v", err)
	}
	if candidate := dump(t, c, DBCandidate); strings.Contains(candidate, "eth0") {
		t.Fatalf("discard left candidate edits:\n%s", candidate)
	}
	if c.Store.Modified(DBCandidate) {
		t.Fatalf("candidate dirty after discard")
	}
}
