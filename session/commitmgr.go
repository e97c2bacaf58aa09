// Copyright (c) 2018-2021, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2014-2017 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package session

import (
	"fmt"
	"log"

	"github.com/meridianos/confd/internal/changelog"
	"github.com/meridianos/confd/internal/confirm"
	"github.com/meridianos/confd/internal/datastore"
	"github.com/meridianos/confd/internal/mgmterror"
	"github.com/meridianos/confd/internal/txn"
	"github.com/meridianos/confd/internal/xmlnode"
	"github.com/meridianos/confd/internal/yang/schema"
)

// Well-known datastore names (§3 "Datastore"). Rollback is an auxiliary
// store, not one of the spec's named datastores, holding the
// pre-arm snapshot a confirmed commit reverts to (§4.G).
const (
	DBRunning   = "running"
	DBCandidate = "candidate"
	DBStartup   = "startup"
	DBFailsafe  = "failsafe"
	DBTmp       = "tmp"
	dbRollback  = "rollback"
)

// CommitMgr is the Transaction Engine's (§4.F) process-wide driver. One
// instance per daemon owns the schema, the datastore registry, the
// Plugin Bus and the Confirmed-Commit state machine, and wires them
// together exactly as candidate_commit/candidate_validate/
// startup_commit/restart_one specify.
//
// Grounded on CommitMgr.commit's phase sequence in the teacher
// (session/commitmgr.go: validate -> component SetRunning -> commit ->
// write running -> hooks), generalized onto internal/txn's typed state
// machine in place of the teacher's hook-script dispatch, and on
// apps/backend/backend_commit.c (original_source/) for the startup/
// failsafe recovery ordering.
type CommitMgr struct {
	ms        *schema.ModelSet
	Store     *datastore.Manager
	Bus       *txn.Bus
	Confirm   *confirm.Manager
	Changelog changelog.Log

	Elog *log.Logger
	Dlog *log.Logger
}

// NewCommitMgr wires a CommitMgr together and starts its Confirmed-
// Commit manager idle.
func NewCommitMgr(
	ms *schema.ModelSet,
	store *datastore.Manager,
	bus *txn.Bus,
	cl changelog.Log,
	elog, dlog *log.Logger,
) *CommitMgr {
	c := &CommitMgr{ms: ms, Store: store, Bus: bus, Changelog: cl, Elog: elog, Dlog: dlog}
	c.Confirm = confirm.NewManager(c.rollbackRunning, c.onConfirmTimeout)
	return c
}

func (c *CommitMgr) logf(format string, args ...interface{}) {
	if c.Elog != nil {
		c.Elog.Printf(format, args...)
	}
}

func asMgmtError(err error) *mgmterror.Error {
	if err == nil {
		return nil
	}
	if me, ok := err.(*mgmterror.Error); ok {
		return me
	}
	e := mgmterror.NewOperationFailedApplicationError()
	e.Message = err.Error()
	return e.Error
}

// CandidateCommit drives candidate_commit (§4.F steps 1-9): diff
// candidate against running, run generic + plugin validation,
// optionally arm/extend/confirm a confirmed commit (§4.G), commit,
// swap candidate into running, and end the transaction. Any failure
// prior to the datastore swap leaves running untouched.
//
// isRollbackEvent is true only when this call is itself the
// confirmed-commit timeout's own reversion pass (§4.G "Timer fires"),
// which must not re-arm another confirmed commit.
func (c *CommitMgr) CandidateCommit(
	sid string, p confirm.Params, isRollbackEvent bool,
) (*mgmterror.Error, error) {
	wasPending := c.Confirm.State() == confirm.StatePending
	if !isRollbackEvent {
		if err := c.Confirm.IsAllowed(sid, &p); err != nil {
			return asMgmtError(err), nil
		}
	}

	target, _, err := c.Store.Get0(DBCandidate, datastore.BindModule)
	if err != nil {
		return nil, err
	}
	src, _, err := c.Store.Get0(DBRunning, datastore.BindModule)
	if err != nil {
		return nil, err
	}
	txn.ClearFlags(target)
	txn.ClearFlags(src)
	// flags set by the diff below are owned by this transaction and
	// must not outlive it, whichever way it ends (§8 property 4)
	defer txn.ClearFlags(target)
	defer txn.ClearFlags(src)

	t, res := txn.Commit(c.Bus, c.ms, c.ms.Root(), src, target)
	if !res.OK() {
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Invalid[0], nil
	}

	if p.Confirmed && !isRollbackEvent {
		if !wasPending {
			if err := c.Store.Copy(DBRunning, dbRollback); err != nil {
				return nil, err
			}
		}
		if err := c.Confirm.Arm(sid, p); err != nil {
			return asMgmtError(err), nil
		}
	}

	if err := c.Store.Copy(DBCandidate, DBRunning); err != nil {
		return nil, err
	}
	c.Store.ModifiedSet(DBCandidate, false)
	c.Bus.End(t)

	return nil, nil
}

// CandidateValidate runs candidate_commit's steps 1-4 only (diff +
// generic + plugin validation) and releases its caches without
// touching running (§4.F "candidate_validate").
func (c *CommitMgr) CandidateValidate() (*mgmterror.Error, error) {
	target, _, err := c.Store.Get0(DBCandidate, datastore.BindModule)
	if err != nil {
		return nil, err
	}
	src, _, err := c.Store.Get0(DBRunning, datastore.BindModule)
	if err != nil {
		return nil, err
	}
	txn.ClearFlags(target)
	txn.ClearFlags(src)
	defer txn.ClearFlags(target)
	defer txn.ClearFlags(src)

	_, res := txn.Validate(c.Bus, c.ms, c.ms.Root(), src, target)
	if !res.OK() {
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Invalid[0], nil
	}
	return nil, nil
}

// StartupCommit drives startup_commit (§4.F): the source side is
// empty (the diff degenerates to all-adds), and a changelog upgrade
// pass (§4.H) runs between load and validate whenever the startup
// store's module-state diff shows a revision change.
func (c *CommitMgr) StartupCommit() error {
	target, diff, err := c.Store.Get0(DBStartup, datastore.BindModule)
	if err != nil {
		return err
	}

	if diff.HasChanges() {
		if err := c.applyChangelog(target, diff); err != nil {
			c.logf("startup: changelog upgrade failed: %v", err)
			return c.LoadFailsafe()
		}
	}

	txn.ClearFlags(target)
	defer txn.ClearFlags(target)
	empty := xmlnode.New("config")

	t, res := txn.Commit(c.Bus, c.ms, c.ms.Root(), empty, target)
	if !res.OK() {
		c.logf("startup: validation failed: invalid=%v err=%v", res.Invalid, res.Err)
		return c.LoadFailsafe()
	}

	if err := c.Store.Copy(DBStartup, DBRunning); err != nil {
		return err
	}
	c.Bus.End(t)
	return nil
}

func (c *CommitMgr) applyChangelog(tree *xmlnode.Node, diff datastore.ModuleStateDiff) error {
	for _, d := range diff {
		if d.Status != datastore.ModuleRevisionChanged {
			continue
		}
		entries := c.Changelog.ForInterval(d.Module, d.From, d.To)
		if len(entries) == 0 {
			continue
		}
		if err := changelog.Apply(tree, entries); err != nil {
			return fmt.Errorf("changelog: module %s: %w", d.Module, err)
		}
	}
	return nil
}

// RestartOne drives restart_one (§4.F): the full state machine against
// a single plugin, using `tmp` (a copy of running) as the target so the
// plugin can be brought back up to date with current state without
// perturbing any other plugin's view.
func (c *CommitMgr) RestartOne(p txn.Plugin) (*mgmterror.Error, error) {
	if err := c.Store.Copy(DBRunning, DBTmp); err != nil {
		return nil, err
	}
	target, _, err := c.Store.Get0(DBTmp, datastore.BindModule)
	if err != nil {
		return nil, err
	}
	src, _, err := c.Store.Get0(DBRunning, datastore.BindModule)
	if err != nil {
		return nil, err
	}
	txn.ClearFlags(target)
	txn.ClearFlags(src)
	defer txn.ClearFlags(target)
	defer txn.ClearFlags(src)

	_, res := txn.RestartOne(c.Bus, p, c.ms.Root(), src, target)
	if !res.OK() {
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Invalid[0], nil
	}
	return nil, nil
}

// LoadFailsafe implements §4.F's load_failsafe: back up running to
// `tmp`, reset running, and attempt to commit the failsafe store in
// its place. A non-nil return is unrecoverable — the caller (main, or
// StartupCommit above) is expected to treat it as fatal (§6 exit code
// 1, "startup validation failure without failsafe").
func (c *CommitMgr) LoadFailsafe() error {
	if err := c.Store.Copy(DBRunning, DBTmp); err != nil {
		return fmt.Errorf("load_failsafe: backup running: %w", err)
	}
	if err := c.Store.Reset(DBRunning); err != nil {
		return fmt.Errorf("load_failsafe: reset running: %w", err)
	}
	c.Bus.Reset(DBRunning)

	target, _, err := c.Store.Get0(DBFailsafe, datastore.BindModule)
	if err != nil {
		return fmt.Errorf("load_failsafe: load failsafe store: %w", err)
	}
	txn.ClearFlags(target)
	defer txn.ClearFlags(target)
	empty := xmlnode.New("config")

	t, res := txn.Commit(c.Bus, c.ms, c.ms.Root(), empty, target)
	if !res.OK() {
		return fmt.Errorf("load_failsafe: failsafe store failed to validate: invalid=%v err=%v",
			res.Invalid, res.Err)
	}
	if err := c.Store.Copy(DBFailsafe, DBRunning); err != nil {
		return err
	}
	c.Bus.End(t)
	c.logf("WARNING: running failed validation at startup; recovered from failsafe")
	return nil
}

// DiscardChanges implements <discard-changes> (§6): candidate reverts
// to running's current content.
func (c *CommitMgr) DiscardChanges() error {
	if err := c.Store.Copy(DBRunning, DBCandidate); err != nil {
		return err
	}
	return c.Store.ModifiedSet(DBCandidate, false)
}

// CancelCommit implements <cancel-commit persist-id="..."> (§4.G
// "Cancel"): cancel the pending timer, then revert running from the
// rollback snapshot.
func (c *CommitMgr) CancelCommit(persistID string) error {
	if err := c.Confirm.Cancel(persistID); err != nil {
		return err
	}
	return c.Store.Copy(dbRollback, DBRunning)
}

// rollbackRunning is the confirm.Manager's RollbackFunc: it drives
// candidate_commit with the rollback snapshot as the source content
// (§4.G "Timer fires"), falling back to load_failsafe if that itself
// fails to commit cleanly.
func (c *CommitMgr) rollbackRunning() error {
	if err := c.Store.Copy(dbRollback, DBCandidate); err != nil {
		c.logf("confirmed-commit rollback: copy rollback->candidate failed: %v", err)
		return c.LoadFailsafe()
	}
	if merr, err := c.CandidateCommit("", confirm.Params{}, true); err != nil || merr != nil {
		c.logf("confirmed-commit rollback: commit failed (err=%v invalid=%v), falling back to failsafe", err, merr)
		return c.LoadFailsafe()
	}
	return nil
}

func (c *CommitMgr) onConfirmTimeout() {
	c.logf("confirmed-commit: timer fired, running reverted to pre-arm snapshot")
}
