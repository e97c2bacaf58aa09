// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2014-2017 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package session

import (
	"sync"

	"github.com/meridianos/confd/internal/datastore"
)

// Session is a single client's bookkeeping record: who they are and
// what they currently hold locked. NETCONF sessions (unlike the
// teacher's CLI sessions) have no private datastore of their own —
// candidate is a single datastore shared by every session (§3
// "Datastore") — so Session carries only identity, not a working copy.
type Session struct {
	Id   string
	Pid  int32
	Uid  uint32
	User string
}

// Mgr tracks live sessions. It replaces the old actor-model session
// loop (one goroutine + channel per session): since NETCONF's
// candidate is shared rather than per-session, there is no per-session
// state worth serializing through a private goroutine, so Mgr is a
// plain mutex-guarded map instead. Lock arbitration lives in the
// datastore manager — Mgr only forwards, so there is exactly one lock
// registry in the process.
type Mgr struct {
	mu       sync.Mutex
	sessions map[string]*Session
	store    *datastore.Manager
}

func NewMgr(store *datastore.Manager) *Mgr {
	return &Mgr{
		sessions: make(map[string]*Session),
		store:    store,
	}
}

// Create registers a new session (a <hello> exchange or an equivalent
// transport-level accept in this module's scope). Re-creating an
// existing id replaces its identity but leaves any locks it holds
// untouched.
func (m *Mgr) Create(sid string, pid int32, uid uint32, user string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &Session{Id: sid, Pid: pid, Uid: uid, User: user}
	m.sessions[sid] = s
	return s
}

func (m *Mgr) Get(sid string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sid]
	return s, ok
}

func (m *Mgr) Exists(sid string) bool {
	_, ok := m.Get(sid)
	return ok
}

// Destroy tears down a session (<close-session>/<kill-session>) and
// releases every lock it held, the way closing a NETCONF transport
// implicitly releases that session's locks (RFC 6241 §8.3.1).
func (m *Mgr) Destroy(sid string) {
	m.mu.Lock()
	delete(m.sessions, sid)
	m.mu.Unlock()
	m.store.UnlockAll(sid)
}

// Lock acquires db's lock for sid. Fails with a lock-denied error
// naming the current holder if another session already holds it.
func (m *Mgr) Lock(db, sid string) error {
	return m.store.Lock(db, sid)
}

// Unlock releases db's lock, which must currently be held by sid.
func (m *Mgr) Unlock(db, sid string) error {
	return m.store.Unlock(db, sid)
}

// Locked reports the session id holding db's lock, or "" if unlocked.
func (m *Mgr) Locked(db string) string {
	return m.store.IsLocked(db)
}

// CheckLock returns a lock-denied error if db is locked by anyone
// other than sid. Used to gate edit-config/commit/discard against a
// lock held by a different session (RFC 6241 §8.3.1).
func (m *Mgr) CheckLock(db, sid string) error {
	if owner := m.store.IsLocked(db); owner != "" && owner != sid {
		return lockDenied(owner)
	}
	return nil
}
