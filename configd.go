// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2014-2017 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package configd holds the process-wide context threaded through every
// session and RPC entry point: the immutable options snapshot, the
// per-caller identity, and the three syslog-backed loggers (§9 "Global
// state" redesign note — no hidden singletons, everything here is
// passed explicitly).
package configd

import (
	"log"
	"log/syslog"
	"os"
	"path/filepath"
)

// LockId names one of the two pseudo-sessions that can hold a datastore
// lock without being a real client session.
type LockId int32

const (
	COMMIT LockId = -1
	SYSTEM LockId = -2
)

func (l LockId) String() string {
	switch l {
	case COMMIT:
		return "commit"
	case SYSTEM:
		return "system"
	}
	return "unknown"
}

// Context is the per-call identity and logging handle threaded through
// session/server: who is calling, under what session, and where their
// diagnostics go. It replaces the "grab-bag" global handle the original
// clixon/configd process kept, per §9's redesign note.
type Context struct {
	Configd   bool
	Sid       string
	Pid       int32
	Uid       uint32
	User      string
	UserHome  string
	Groups    []string
	Superuser bool
	Config    *Config
	Dlog      *log.Logger
	Elog      *log.Logger
	Wlog      *log.Logger
	Noexec    bool
}

// RaisePrivileges marks the context as acting with daemon-internal
// privilege (startup/failsafe recovery, confirmed-commit timeout), which
// bypasses per-session datastore locking checks. Used sparingly.
func (c *Context) RaisePrivileges() {
	c.Configd = true
}

func (c *Context) DropPrivileges() {
	c.Configd = false
}

// Config is the immutable options snapshot parsed from the command line
// and CLIXON_CONFIGFILE (§6 "Command surface", "Environment").
type Config struct {
	Yangdir      string
	XMLDBDir     string
	Socket       string
	Capabilities string
	Changelog    string
	StartupMode  string // none | running | startup | init
	Logdest      string
	Loglevel     string
}

// NewLogger mirrors syslog.NewLogger but tags every record with the
// program's base name, the way the teacher's daemon does.
func NewLogger(p syslog.Priority, logFlag int) (*log.Logger, error) {
	tag := filepath.Base(os.Args[0])
	s, err := syslog.New(p, tag)
	if err != nil {
		return nil, err
	}
	return log.New(s, "", logFlag), nil
}
