// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2014-2015,2017 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package server

import (
	"encoding/json"
	"io"
	"net"
	"os"
	"os/user"
	"reflect"
	"strconv"
	"sync"
	"syscall"

	configd "github.com/meridianos/confd"
	"github.com/meridianos/confd/internal/mgmterror"
	"github.com/meridianos/confd/rpc"
)

type any interface{}

func newResponse(result any, err error, id int) *rpc.Response {
	var resp rpc.Response
	if err != nil {
		switch val := err.(type) {
		case *mgmterror.Error:
			resp = rpc.Response{Error: val.Error(), Id: id}
		default:
			resp = rpc.Response{Error: err.Error(), Id: id}
		}
	} else {
		resp = rpc.Response{Result: result, Id: id}
	}
	return &resp
}

type SrvConn struct {
	*net.UnixConn
	srv     *Srv
	uid     uint32
	pid     int
	cred    *syscall.Ucred
	enc     *json.Encoder
	dec     *json.Decoder
	sending *sync.Mutex
}

//Send an rpc response with appropriate data or an error
func (conn *SrvConn) sendResponse(resp *rpc.Response) error {
	conn.sending.Lock()
	err := conn.enc.Encode(&resp)
	conn.sending.Unlock()
	return err

}

//Receive an rpc request and do some preprocessing.
func (conn *SrvConn) readRequest() (*rpc.Request, error) {
	var req = new(rpc.Request)
	err := conn.dec.Decode(req)
	if err != nil {
		return nil, err
	}

	return req, nil
}

//Grab the credentials off of the unix socket using SO_PEERCRED and store them in the SrvConn
func (conn *SrvConn) getCreds() (*syscall.Ucred, error) {
	uf, err := conn.File()
	if err != nil {
		return nil, err
	}
	cred, err := syscall.GetsockoptUcred(
		int(uf.Fd()),
		syscall.SOL_SOCKET,
		syscall.SO_PEERCRED)
	if err != nil {
		conn.srv.LogError(err)
		return nil, err
	}
	uf.Close()

	return cred, nil
}

// Handle is the main loop for a connection. It receives the requests,
// calls the request method and returns the response to the client.
func (conn *SrvConn) Handle() {

	var err error

	conn.cred, err = conn.getCreds()
	if err != nil {
		if !os.IsNotExist(err) {
			conn.srv.LogError(err)
		}
		conn.Close()
		return
	}

	disp := &Disp{
		smgr:  conn.srv.smgr,
		cmgr:  conn.srv.cmgr,
		ms:    conn.srv.ms,
		store: conn.srv.store,
		ctx: &configd.Context{
			Uid:    conn.cred.Uid,
			Pid:    conn.cred.Pid,
			Config: conn.srv.Config,
			Elog:   conn.srv.Elog,
			Dlog:   conn.srv.Dlog,
			Wlog:   conn.srv.Wlog,
		},
	}
	disp.ctx.Superuser = conn.cred.Uid == 0

	u, err := user.LookupId(strconv.Itoa(int(disp.ctx.Uid)))
	if err != nil {
		conn.srv.LogError(err)
		conn.Close()
		return
	}
	disp.ctx.User = u.Username
	disp.ctx.UserHome = u.HomeDir

	//Unlock all datastores this connection's sessions may have locked
	//on return
	defer disp.sessionTermination()
	for {
		req, err := conn.readRequest()
		if err != nil {
			if err != io.EOF {
				conn.srv.LogError(err)
			}
			break
		}

		result, err := conn.Call(disp, req.Method, req.Args)
		err = conn.sendResponse(newResponse(result, err, req.Id))
		if err != nil {
			break
		}
	}
	conn.Close()
}

func (conn *SrvConn) Call(
	disp *Disp,
	method string,
	args []interface{},
) (any, error) {

	m, ok := conn.srv.m[method]
	if !ok {
		return nil, &rpc.MethErr{Name: method}
	}

	typ := m.Func.Type()

	//Number of args are equal?
	if len(args) != typ.NumIn()-1 {
		return nil, &rpc.ArgNErr{Method: method, Len: len(args), Elen: typ.NumIn() - 1}
	}

	//validate arguments
	//prepending the first argument *Disp
	vals := make([]reflect.Value, len(args)+1)
	vals[0] = reflect.ValueOf(disp)
	for i, v := range args {
		t1 := reflect.TypeOf(v)
		t2 := typ.In(i + 1)
		if t1 != t2 {
			if t1 == nil || !t1.ConvertibleTo(t2) {
				return nil, &rpc.ArgErr{Method: method, Farg: v, Typ: typeName(t1), Etyp: t2.Name()}
			}
			vals[i+1] = reflect.ValueOf(v).Convert(t2)
		} else {
			vals[i+1] = reflect.ValueOf(v)
		}
	}

	//call the function
	rets := m.Func.Call(vals)
	err, ok := rets[1].Interface().(error)
	if ok {
		return rets[0].Interface(), err
	}

	return rets[0].Interface(), nil
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "nil"
	}
	return t.Name()
}
