// Copyright (c) 2017-2021, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2014-2017 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package server

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"strings"

	configd "github.com/meridianos/confd"
	"github.com/meridianos/confd/common"
	"github.com/meridianos/confd/internal/datastore"
	"github.com/meridianos/confd/internal/diff"
	"github.com/meridianos/confd/internal/mgmterror"
	"github.com/meridianos/confd/internal/txn"
	"github.com/meridianos/confd/internal/xmlnode"
	"github.com/meridianos/confd/internal/yang/schema"
	"github.com/meridianos/confd/rpc"
	"github.com/meridianos/confd/session"
)

// Disp is the per-connection RPC dispatcher. Every exported method
// with a (result, error) signature is callable over the wire; the
// method table is built by reflection in NewSrv.
type Disp struct {
	smgr  *session.Mgr
	cmgr  *session.CommitMgr
	ms    *schema.ModelSet
	store *datastore.Manager
	ctx   *configd.Context
}

func (d *Disp) dbName(db rpc.DB) string {
	return db.String()
}

// makePath splits a '/'-separated path string into its elements,
// tolerating a leading slash and collapsing empty segments.
func makePath(path string) []string {
	out := make([]string, 0)
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

func (d *Disp) normalizePath(ps []string) ([]string, error) {
	return d.ms.NormalizePath(ps)
}

func (d *Disp) getPathError(ps []string, unexpected string) error {
	err := mgmterror.NewUnknownElementApplicationError(ps[len(ps)-1])
	err.Path = strings.Join(ps[:len(ps)-1], "/")
	err.Message = unexpected
	return err.Error
}

// pathToEdit turns a data path (schema names interleaved with list key
// values and an optional trailing leaf value) into an edit-config
// document rooted at <config>, the shape datastore.Put consumes.
func (d *Disp) pathToEdit(ps []string) (*xmlnode.Node, error) {
	root := xmlnode.New("config")
	parent := root
	sn := d.ms.Root()
	i := 0
	for i < len(ps) {
		child := childSchema(sn, ps[i])
		if child == nil {
			return nil, d.getPathError(ps[:i+1], "path is not valid")
		}
		n := xmlnode.New(child.Name)
		parent.AppendChild(n)
		i++
		switch child.Kind {
		case schema.KindList:
			for _, k := range child.Keys {
				if i >= len(ps) {
					break
				}
				kn := xmlnode.New(k)
				kn.SetBody(ps[i])
				n.AppendChild(kn)
				i++
			}
		case schema.KindLeaf, schema.KindLeafList:
			if i < len(ps) {
				n.SetBody(ps[i])
				i++
			}
		}
		parent = n
		sn = child
	}
	return root, nil
}

func childSchema(sn *schema.Node, seg string) *schema.Node {
	name := seg
	if idx := strings.IndexByte(seg, ':'); idx >= 0 {
		name = seg[idx+1:]
	}
	return sn.Descendant([]string{name})
}

// findDataNode walks tree along ps, matching list entries by their key
// values in declared key order, the same addressing pathToEdit uses to
// build edits.
func (d *Disp) findDataNode(tree *xmlnode.Node, ps []string) (*xmlnode.Node, error) {
	cur := tree
	sn := d.ms.Root()
	i := 0
	for i < len(ps) {
		child := childSchema(sn, ps[i])
		if child == nil {
			return nil, d.getPathError(ps[:i+1], "path is not valid")
		}
		name := child.Name
		i++
		switch child.Kind {
		case schema.KindList:
			keyVals := make([]string, 0, len(child.Keys))
			for range child.Keys {
				if i >= len(ps) {
					break
				}
				keyVals = append(keyVals, ps[i])
				i++
			}
			var match *xmlnode.Node
			for _, inst := range cur.ChildrenNamed(name) {
				if equalStrings(inst.KeyValues(child.Keys), keyVals) {
					match = inst
					break
				}
			}
			cur = match
		case schema.KindLeafList:
			var val string
			if i < len(ps) {
				val = ps[i]
				i++
			}
			var match *xmlnode.Node
			for _, inst := range cur.ChildrenNamed(name) {
				if val == "" || inst.Body == val {
					match = inst
					break
				}
			}
			cur = match
		default:
			cur = cur.Child(name)
		}
		if cur == nil {
			return nil, nil
		}
		sn = child
	}
	return cur, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// GetConfigSystemFeatures reports the feature set enabled via the
// capabilities file, plus the compiled-in config system features.
func (d *Disp) GetConfigSystemFeatures() (map[string]struct{}, error) {
	features := map[string]struct{}{
		common.ConfigManagementFeature: struct{}{},
		common.LoadKeysFeature:         struct{}{},
		common.ConfirmedCommitFeature:  struct{}{},
	}
	for f, on := range d.ms.Features {
		if on {
			features[f] = struct{}{}
		}
	}
	return features, nil
}

func (d *Disp) SessionExists(sid string) (bool, error) {
	return d.smgr.Exists(sid), nil
}

func (d *Disp) SessionSetup(sid string) (bool, error) {
	d.smgr.Create(sid, d.ctx.Pid, d.ctx.Uid, d.ctx.User)
	d.ctx.Sid = sid
	return true, nil
}

func (d *Disp) SessionTeardown(sid string) (bool, error) {
	d.smgr.Destroy(sid)
	return true, nil
}

// KillSession forcibly tears down another session, releasing its locks
// (RFC 6241 §7.9 <kill-session>). A session cannot kill itself — that
// is what <close-session> is for.
func (d *Disp) KillSession(sid, target string) (bool, error) {
	if sid == target {
		err := mgmterror.NewInvalidValueProtocolError()
		err.Message = "cannot kill own session; use close-session"
		return false, err.Error
	}
	if !d.smgr.Exists(target) {
		err := mgmterror.NewInvalidValueProtocolError()
		err.Message = "no such session: " + target
		return false, err.Error
	}
	d.smgr.Destroy(target)
	return true, nil
}

// SessionChanged reports whether candidate has uncommitted changes
// (the candidate dirty bit, §4.C "modified").
func (d *Disp) SessionChanged(sid string) (bool, error) {
	return d.store.Modified(session.DBCandidate), nil
}

func (d *Disp) SessionLock(sid string) (bool, error) {
	if err := d.smgr.Lock(session.DBCandidate, sid); err != nil {
		return false, err
	}
	return true, nil
}

func (d *Disp) SessionUnlock(sid string) (bool, error) {
	if err := d.smgr.Unlock(session.DBCandidate, sid); err != nil {
		return false, err
	}
	return true, nil
}

func (d *Disp) SessionLocked(sid string) (string, error) {
	return d.smgr.Locked(session.DBCandidate), nil
}

// Lock acquires the lock on db for sid (§6 "lock", RFC 6241 §7.5).
func (d *Disp) Lock(db rpc.DB, sid string) (bool, error) {
	if err := d.smgr.Lock(d.dbName(db), sid); err != nil {
		return false, err
	}
	return true, nil
}

func (d *Disp) Unlock(db rpc.DB, sid string) (bool, error) {
	if err := d.smgr.Unlock(d.dbName(db), sid); err != nil {
		return false, err
	}
	return true, nil
}

// Locked reports the session holding db's lock, or "" when unlocked.
func (d *Disp) Locked(db rpc.DB) (string, error) {
	return d.smgr.Locked(d.dbName(db)), nil
}

func (d *Disp) treeFor(db rpc.DB) (*xmlnode.Node, error) {
	tree, _, err := d.store.Get0(d.dbName(db), datastore.BindModule)
	return tree, err
}

// Exists reports whether path names a present node in db.
func (d *Disp) Exists(db rpc.DB, sid string, path string) (bool, error) {
	tree, err := d.treeFor(db)
	if err != nil {
		return false, err
	}
	n, err := d.findDataNode(tree, makePath(path))
	if err != nil {
		return false, err
	}
	return n != nil, nil
}

// TreeGet returns the XML rendering of the subtree at path in db, or
// the whole store when path is empty (§6 "get-config").
func (d *Disp) TreeGet(db rpc.DB, sid, path string) (string, error) {
	tree, err := d.treeFor(db)
	if err != nil {
		return "", err
	}
	n := tree
	if ps := makePath(path); len(ps) > 0 {
		n, err = d.findDataNode(tree, ps)
		if err != nil {
			return "", err
		}
		if n == nil {
			err := mgmterror.NewDataMissingError()
			err.Path = path
			return "", err.Error
		}
	}
	var b bytes.Buffer
	if err := xmlnode.Encode(&b, n, true); err != nil {
		return "", err
	}
	return b.String(), nil
}

// NodeGetStatus classifies path's node against the candidate/running
// diff: ADDED, DELETED, CHANGED or UNCHANGED (§4.E's flag contract
// surfaced per node).
func (d *Disp) NodeGetStatus(db rpc.DB, sid, path string) (rpc.NodeStatus, error) {
	target, err := d.treeFor(rpc.CANDIDATE)
	if err != nil {
		return rpc.UNCHANGED, err
	}
	src, err := d.treeFor(rpc.RUNNING)
	if err != nil {
		return rpc.UNCHANGED, err
	}
	txn.ClearFlags(target)
	txn.ClearFlags(src)
	diff.Diff(d.ms.Root(), src, target)
	defer txn.ClearFlags(target)
	defer txn.ClearFlags(src)

	ps := makePath(path)
	if n, err := d.findDataNode(target, ps); err != nil {
		return rpc.UNCHANGED, err
	} else if n != nil {
		switch {
		case n.Added():
			return rpc.ADDED, nil
		case n.Changed():
			return rpc.CHANGED, nil
		case n.Marked():
			return rpc.CHANGED, nil
		}
		return rpc.UNCHANGED, nil
	}
	if n, err := d.findDataNode(src, ps); err != nil {
		return rpc.UNCHANGED, err
	} else if n != nil && n.Deleted() {
		return rpc.DELETED, nil
	}
	return rpc.UNCHANGED, nil
}

func (d *Disp) checkEditAllowed(db, sid string) error {
	if !d.smgr.Exists(sid) && !d.ctx.Configd {
		err := mgmterror.NewOperationFailedApplicationError()
		err.Message = "session not established: " + sid
		return err.Error
	}
	return d.smgr.CheckLock(db, sid)
}

// Set merges the value named by path into candidate.
func (d *Disp) Set(sid string, path string) (string, error) {
	if err := d.checkEditAllowed(session.DBCandidate, sid); err != nil {
		return "", err
	}
	edit, err := d.pathToEdit(makePath(path))
	if err != nil {
		return "", err
	}
	return "", d.store.Put(session.DBCandidate, datastore.EditMerge, edit, d.ctx.User)
}

// Delete removes the subtree named by path from candidate.
func (d *Disp) Delete(sid string, path string) (bool, error) {
	if err := d.checkEditAllowed(session.DBCandidate, sid); err != nil {
		return false, err
	}
	edit, err := d.pathToEdit(makePath(path))
	if err != nil {
		return false, err
	}
	if err := d.store.Put(session.DBCandidate, datastore.EditDelete, edit, d.ctx.User); err != nil {
		return false, err
	}
	return true, nil
}

// EditConfigXML applies a NETCONF <edit-config> payload to target
// (§6 "edit-config"). defop is the default-operation, testopt one of
// test-then-set/set/test-only per RFC 6241 §7.2.
func (d *Disp) EditConfigXML(sid, target, defop, testopt, config string) (bool, error) {
	if err := d.checkEditAllowed(target, sid); err != nil {
		return false, err
	}
	op := session.EditOpFromString(defop)
	if err := session.EditConfig(d.store, d.ms, target, op, testopt, config); err != nil {
		return false, err
	}
	return true, nil
}

// CopyConfig replaces dst's content with src's (§6 "copy-config").
func (d *Disp) CopyConfig(sid string, src, dst rpc.DB) (bool, error) {
	if dst == rpc.RUNNING {
		// running is read-only; it only changes through commit
		err := mgmterror.NewAccessDeniedApplicationError()
		err.Message = "cannot copy-config directly to running; commit instead"
		return false, err.Error
	}
	if err := d.checkEditAllowed(d.dbName(dst), sid); err != nil {
		return false, err
	}
	if err := d.store.Copy(d.dbName(src), d.dbName(dst)); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteConfig clears db's content (§6 "delete-config"). running and
// candidate cannot be deleted, per RFC 6241 §7.4.
func (d *Disp) DeleteConfig(sid string, db rpc.DB) (bool, error) {
	if db == rpc.RUNNING || db == rpc.CANDIDATE {
		err := mgmterror.NewAccessDeniedApplicationError()
		err.Message = "cannot delete the " + d.dbName(db) + " datastore"
		return false, err.Error
	}
	if err := d.checkEditAllowed(d.dbName(db), sid); err != nil {
		return false, err
	}
	if err := d.store.Reset(d.dbName(db)); err != nil {
		return false, err
	}
	d.cmgr.Bus.Reset(d.dbName(db))
	return true, nil
}

// Validate runs candidate_validate: generic plus plugin validation of
// candidate against running, with no datastore mutation (§4.F).
func (d *Disp) Validate(sid string) (string, error) {
	merr, err := d.cmgr.CandidateValidate()
	if err != nil {
		return "", err
	}
	if merr != nil {
		return "", merr
	}
	return "", nil
}

// Discard reverts candidate to running's content (§6
// "discard-changes").
func (d *Disp) Discard(sid string) (bool, error) {
	if err := d.checkEditAllowed(session.DBCandidate, sid); err != nil {
		return false, err
	}
	if err := d.cmgr.DiscardChanges(); err != nil {
		return false, err
	}
	return true, nil
}

// Save persists running into the startup store, so the current
// configuration survives a daemon restart (§6 "Command surface" -s
// startup).
func (d *Disp) Save(sid string) (bool, error) {
	if err := d.store.Copy(session.DBRunning, session.DBStartup); err != nil {
		return false, err
	}
	return true, nil
}

// Load replaces candidate's content with the configuration file's.
func (d *Disp) Load(sid string, file string) (bool, error) {
	return d.loadFile(sid, file, datastore.EditReplace)
}

// Merge merges the configuration file's content into candidate.
func (d *Disp) Merge(sid string, file string) (bool, error) {
	return d.loadFile(sid, file, datastore.EditMerge)
}

func (d *Disp) loadFile(sid, file string, op datastore.EditOp) (bool, error) {
	if err := d.checkEditAllowed(session.DBCandidate, sid); err != nil {
		return false, err
	}
	data, err := ioutil.ReadFile(file)
	if err != nil {
		merr := mgmterror.NewOperationFailedApplicationError()
		merr.Message = err.Error()
		return false, merr.Error
	}
	edit, err := xmlnode.ParseString(string(data))
	if err != nil {
		merr := mgmterror.NewMalformedMessageError()
		merr.Message = err.Error()
		return false, merr.Error
	}
	if op == datastore.EditReplace {
		if err := d.store.Reset(session.DBCandidate); err != nil {
			return false, err
		}
		op = datastore.EditMerge
	}
	if err := d.store.Put(session.DBCandidate, op, edit, d.ctx.User); err != nil {
		return false, err
	}
	return true, nil
}

// Compare diffs two XML configuration documents and renders the
// differences, optionally restricted to the subtree at spath.
func (d *Disp) Compare(old, new, spath string, ctxdiff bool) (string, error) {
	oldTree, err := xmlnode.ParseString(old)
	if err != nil {
		merr := mgmterror.NewMalformedMessageError()
		merr.Message = err.Error()
		return "", merr.Error
	}
	newTree, err := xmlnode.ParseString(new)
	if err != nil {
		merr := mgmterror.NewMalformedMessageError()
		merr.Message = err.Error()
		return "", merr.Error
	}
	sn := d.ms.Root()
	if ps := makePath(spath); len(ps) > 0 {
		if sub, err := d.normalizePath(ps); err == nil {
			if n, err2 := d.findDataNode(oldTree, sub); err2 == nil && n != nil {
				oldTree = n
			}
			if n, err2 := d.findDataNode(newTree, sub); err2 == nil && n != nil {
				newTree = n
			}
			sn = d.ms.Descendant(sub)
		}
	}
	txn.ClearFlags(oldTree)
	txn.ClearFlags(newTree)
	res := diff.Diff(sn, oldTree, newTree)
	out := renderDiff(res)
	txn.ClearFlags(oldTree)
	txn.ClearFlags(newTree)
	return out, nil
}

// CompareSessionChanges renders the candidate-versus-running diff —
// "what would this commit do".
func (d *Disp) CompareSessionChanges(sid string) (string, error) {
	target, err := d.treeFor(rpc.CANDIDATE)
	if err != nil {
		return "", err
	}
	src, err := d.treeFor(rpc.RUNNING)
	if err != nil {
		return "", err
	}
	txn.ClearFlags(target)
	txn.ClearFlags(src)
	res := diff.Diff(d.ms.Root(), src, target)
	out := renderDiff(res)
	txn.ClearFlags(target)
	txn.ClearFlags(src)
	return out, nil
}

func renderDiff(res diff.Result) string {
	var b strings.Builder
	for _, n := range res.Deleted {
		writePrefixed(&b, "-", n)
	}
	for _, n := range res.Added {
		writePrefixed(&b, "+", n)
	}
	for _, p := range res.ChangedPairs {
		fmt.Fprintf(&b, "~ %s: %s -> %s\n",
			strings.Join(dataPathOf(p.Target), "/"), p.Source.Body, p.Target.Body)
	}
	return b.String()
}

func writePrefixed(b *strings.Builder, prefix string, n *xmlnode.Node) {
	for _, line := range strings.Split(strings.TrimRight(xmlnode.String(n), "\n"), "\n") {
		b.WriteString(prefix)
		b.WriteByte(' ')
		b.WriteString(line)
		b.WriteByte('\n')
	}
}

func dataPathOf(n *xmlnode.Node) []string {
	var ps []string
	n.ApplyAncestor(func(a *xmlnode.Node) {
		if a.Name != "config" {
			ps = append([]string{a.Name}, ps...)
		}
	})
	return ps
}

// TreeGetFull is TreeGet plus plugin-supplied operational state
// merged in via the bus's statedata callbacks.
func (d *Disp) TreeGetFull(db rpc.DB, sid, path string) (string, error) {
	full, err := d.cmgr.GetFullTree(d.dbName(db), path)
	if err != nil {
		return "", err
	}
	n := full
	if ps := makePath(path); len(ps) > 0 {
		n, err = d.findDataNode(full, ps)
		if err != nil {
			return "", err
		}
		if n == nil {
			err := mgmterror.NewDataMissingError()
			err.Path = path
			return "", err.Error
		}
	}
	var b bytes.Buffer
	if err := xmlnode.Encode(&b, n, true); err != nil {
		return "", err
	}
	return b.String(), nil
}

// RestartPlugin re-runs the full transaction state machine against a
// single named plugin, using the tmp store as target (§4.F
// restart_one) — used to bring one component back in sync after it
// restarted out from under the daemon.
func (d *Disp) RestartPlugin(name string) (bool, error) {
	p := d.cmgr.Bus.PluginByName(name)
	if p == nil {
		err := mgmterror.NewOperationFailedApplicationError()
		err.Message = "no such plugin: " + name
		return false, err.Error
	}
	merr, err := d.cmgr.RestartOne(p)
	if err != nil {
		return false, err
	}
	if merr != nil {
		return false, merr
	}
	return true, nil
}

// CallRpc dispatches a YANG-declared RPC to whichever plugin registered
// a handler for it (§4.I rpc_handler).
func (d *Disp) CallRpc(name, inputXML string) (string, error) {
	fn := d.cmgr.Bus.RPC(name)
	if fn == nil {
		err := mgmterror.NewOperationNotSupportedApplicationError()
		err.Message = "no handler for rpc " + name
		return "", err.Error
	}
	var input *xmlnode.Node
	if inputXML != "" {
		var err error
		input, err = xmlnode.ParseString(inputXML)
		if err != nil {
			merr := mgmterror.NewMalformedMessageError()
			merr.Message = err.Error()
			return "", merr.Error
		}
	}
	output, err := fn(input)
	if err != nil {
		return "", err
	}
	if output == nil {
		return "", nil
	}
	var b bytes.Buffer
	if err := xmlnode.Encode(&b, output, true); err != nil {
		return "", err
	}
	return b.String(), nil
}

// GetSchemas lists the loaded YANG modules and their revisions (§6
// yang-library surface).
func (d *Disp) GetSchemas() (map[string]string, error) {
	out := make(map[string]string)
	for name, mod := range d.ms.Modules {
		out[name] = mod.Revision
	}
	return out, nil
}

// SetConfigDebug adjusts per-subsystem debug logging at runtime.
func (d *Disp) SetConfigDebug(logName, level string) (string, error) {
	return common.SetConfigDebug(logName, level)
}

func (d *Disp) logConfirmedCommitEvent(msg string) {
	d.logEvent("confirmed-commit", msg)
}

func (d *Disp) logEvent(pfx, msg string) {
	if common.LoggingIsEnabledAtLevel(common.LevelError, common.TypeCommit) {
		d.ctx.Elog.Printf("%s: %s\n", pfx, msg)
	}
}

// sessionTermination releases everything the connection's identity
// holds; it runs when the transport drops, matching RFC 6241 §8.3.1's
// implicit unlock-on-close.
func (d *Disp) sessionTermination() error {
	d.store.UnlockAll(d.ctx.Sid)
	if d.ctx.Sid != "" {
		d.smgr.Destroy(d.ctx.Sid)
	}
	return nil
}
