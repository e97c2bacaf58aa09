// Copyright (c) 2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package server

import (
	"strconv"

	"github.com/meridianos/confd/internal/confirm"
	"github.com/meridianos/confd/internal/mgmterror"
	"github.com/meridianos/confd/session"
)

// commitInfo carries the RFC 6241 §8.4 commit parameters as they
// arrive on the wire, before they are validated into confirm.Params.
type commitInfo struct {
	confirmed bool
	timeout   uint32
	persist   string
	persistId string
}

func newCommitInfo(confirmed bool, timeout, persist, persistid string) (*commitInfo, error) {
	cmt := &commitInfo{}
	if timeout != "" {
		seconds, err := strconv.ParseUint(timeout, 10, 32)
		if err != nil {
			merr := mgmterror.NewInvalidValueProtocolError()
			merr.Message = err.Error()
			return cmt, merr.Error
		}
		if seconds == 0 {
			merr := mgmterror.NewInvalidValueProtocolError()
			merr.Message = "timeout value out of range, 0 is not permitted"
			return cmt, merr.Error
		}
		cmt.timeout = uint32(seconds)
	} else {
		cmt.timeout = confirm.DefaultTimeoutSeconds
	}

	cmt.persist = persist
	cmt.persistId = persistid
	cmt.confirmed = confirmed
	return cmt, nil
}

func (c *commitInfo) params() confirm.Params {
	return confirm.Params{
		Confirmed:      c.confirmed,
		TimeoutSeconds: c.timeout,
		Persist:        c.persist,
		PersistID:      c.persistId,
	}
}

// Commit drives candidate_commit for sid without confirmed-commit
// semantics (§4.F). The returned string is the rendered change summary.
func (d *Disp) Commit(sid string, comment string, debug bool) (string, error) {
	return d.commitInternal(sid, &commitInfo{})
}

// ConfirmedCommit is <commit> carrying any of the confirmed-commit
// parameters (§4.G): confirmed/confirm-timeout/persist/persist-id.
func (d *Disp) ConfirmedCommit(
	sid string,
	comment string,
	confirmed bool,
	timeout string,
	persist string,
	persistid string,
	debug bool,
) (string, error) {
	cmt, err := newCommitInfo(confirmed, timeout, persist, persistid)
	if err != nil {
		return "", err
	}
	return d.commitInternal(sid, cmt)
}

func (d *Disp) commitInternal(sid string, cmt *commitInfo) (string, error) {
	if err := d.checkEditAllowed(session.DBCandidate, sid); err != nil {
		return "", err
	}
	if err := d.smgr.CheckLock(session.DBRunning, sid); err != nil {
		return "", err
	}

	out, err := d.CompareSessionChanges(sid)
	if err != nil {
		out = ""
	}

	merr, err := d.cmgr.CandidateCommit(sid, cmt.params(), false)
	if err != nil {
		return "", err
	}
	if merr != nil {
		return "", merr
	}
	if cmt.confirmed {
		d.logConfirmedCommitEvent("armed, timeout " +
			strconv.FormatUint(uint64(cmt.timeout), 10) + "s")
	}
	return out, nil
}

// Confirm accepts a pending confirmed commit from its originating
// session: the rollback timer is cancelled and the snapshot dropped
// (§4.G "Confirming commit").
func (d *Disp) Confirm(sid string) (string, error) {
	return d.confirmInternal(sid, "")
}

// ConfirmPersistId accepts a pending confirmed commit from any session
// presenting the matching persist token (§4.G, §9(b): persist is
// authoritative).
func (d *Disp) ConfirmPersistId(persistid string) (string, error) {
	return d.confirmInternal("", persistid)
}

// ConfirmingCommit accepts whatever confirmed commit is pending, used
// on the internal path where a follow-up plain commit implicitly
// confirms its predecessor (RFC 6241 §8.4.1).
func (d *Disp) ConfirmingCommit() (string, error) {
	return d.confirmInternal(d.ctx.Sid, "")
}

func (d *Disp) confirmInternal(sid, persistid string) (string, error) {
	if d.cmgr.Confirm.State() != confirm.StatePending {
		merr := mgmterror.NewOperationFailedApplicationError()
		merr.Message = "no confirmed commit pending"
		return "", merr.Error
	}
	if err := d.cmgr.Confirm.Confirm(sid, persistid); err != nil {
		return "", err
	}
	d.logConfirmedCommitEvent("confirmed")
	return "confirmed", nil
}

// CancelCommit is <cancel-commit> (§4.G "Cancel"): cancel the pending
// timer, then revert running from the rollback snapshot.
func (d *Disp) CancelCommit(
	sid string,
	comment string,
	persistid string,
	force bool,
	debug bool,
) (string, error) {
	if err := d.cmgr.CancelCommit(persistid); err != nil {
		return "", err
	}
	d.logConfirmedCommitEvent("cancelled, running reverted")
	return "", nil
}
