// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2014-2017 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package server

import (
	"encoding/json"
	"io/ioutil"
	"log"
	"log/syslog"
	"net"
	"reflect"
	"sync"
	"time"
	"unicode"

	configd "github.com/meridianos/confd"
	"github.com/meridianos/confd/internal/changelog"
	"github.com/meridianos/confd/internal/datastore"
	"github.com/meridianos/confd/internal/txn"
	"github.com/meridianos/confd/internal/yang/schema"
	"github.com/meridianos/confd/session"
)

type Srv struct {
	*net.UnixListener
	ms     *schema.ModelSet
	store  *datastore.Manager
	m      map[string]reflect.Method
	smgr   *session.Mgr
	cmgr   *session.CommitMgr
	Dlog   *log.Logger
	Elog   *log.Logger
	Wlog   *log.Logger
	Config *configd.Config
}

// NewSrv wires a server together: the schema, the datastore registry,
// the session manager, the commit manager, and the reflection-dispatched
// RPC method table built from Disp's exported methods.
func NewSrv(
	l *net.UnixListener,
	ms *schema.ModelSet,
	store *datastore.Manager,
	bus *txn.Bus,
	cl changelog.Log,
	config *configd.Config,
	elog *log.Logger,
) *Srv {
	dlog, err := configd.NewLogger(syslog.LOG_DEBUG|syslog.LOG_DAEMON, 0)
	if err != nil {
		elog.Println(err)
		dlog = log.New(ioutil.Discard, "", 0)
	}

	wlog, err := configd.NewLogger(syslog.LOG_WARNING|syslog.LOG_DAEMON, 0)
	if err != nil {
		elog.Println(err)
		wlog = log.New(ioutil.Discard, "", 0)
	}

	s := &Srv{
		UnixListener: l,
		ms:           ms,
		store:        store,
		m:            make(map[string]reflect.Method),
		smgr:         session.NewMgr(store),
		cmgr:         session.NewCommitMgr(ms, store, bus, cl, elog, dlog),
		Dlog:         dlog,
		Elog:         elog,
		Wlog:         wlog,
		Config:       config,
	}

	t := reflect.TypeOf(new(Disp))
	for m := 0; m < t.NumMethod(); m++ {
		meth := t.Method(m)
		ftype := meth.Func.Type()
		if unicode.IsLower(rune(meth.Name[0])) {
			//only exported methods
			continue
		}
		if ftype.NumOut() != 2 {
			//with 2 return values
			continue
		}
		if ftype.Out(1).Name() != "error" {
			//whose second return value is an error
			continue
		}

		s.m[meth.Name] = meth
	}
	return s
}

// CommitMgr exposes the commit manager so main can drive startup_commit
// before the accept loop starts.
func (s *Srv) CommitMgr() *session.CommitMgr {
	return s.cmgr
}

//Serve is the server main loop. It accepts connections and spawns a goroutine to handle that connection.
func (s *Srv) Serve() error {
	var err error
	for {
		conn, err := s.AcceptUnix()
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			s.LogError(err)
			break
		}
		sconn := s.NewConn(conn)

		go sconn.Handle()
	}
	return err
}

//NewConn creates a new SrvConn and returns a reference to it.
func (s *Srv) NewConn(conn *net.UnixConn) *SrvConn {
	enc := json.NewEncoder(conn)
	dec := json.NewDecoder(conn)
	c := &SrvConn{
		UnixConn: conn,
		srv:      s,
		uid:      0,
		enc:      enc,
		dec:      dec,
		sending:  new(sync.Mutex),
	}
	return c
}

//Log is a common place to do logging so that the implementation may change in the future.
func (d *Srv) Log(fmt string, v ...interface{}) {
	d.Dlog.Printf(fmt, v...)
}

//LogError logs an error if the passed in value is non nil
func (d *Srv) LogError(err error) {
	if err != nil {
		d.Elog.Printf("%s", err)
	}
}

func (d *Srv) LogFatal(err error) {
	if err != nil {
		d.Elog.Fatal(err)
	}
}
