// Copyright (c) 2017-2020, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2014-2017 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: MPL-2.0

package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"runtime"
	"strings"

	"github.com/meridianos/confd/rpc"
)

//GetFuncName() returns the unqualified name of the caller
func GetFuncName() string {
	pc, _, _, ok := runtime.Caller(1)
	if !ok {
		return "invalid"
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "invalid"
	}
	name := fn.Name()
	i := strings.LastIndex(name, ".")
	return name[i+1:]
}

type Client struct {
	conn net.Conn
	sid  string
	enc  *json.Encoder
	dec  *json.Decoder
	id   int
}

func Dial(network, address, sid string) (*Client, error) {
	c, e := net.Dial(network, address)
	if e != nil {
		return nil, e
	}

	client := &Client{
		conn: c,
		enc:  json.NewEncoder(c),
		dec:  json.NewDecoder(c),
		id:   0,
		sid:  sid,
	}

	return client, nil
}

func (c *Client) Close() {
	if c.conn == nil {
		return
	}
	c.conn.Close()
}

func (c *Client) call(method string, args ...interface{}) (interface{}, error) {
	var rep rpc.Response
	c.id++
	c.enc.Encode(&rpc.Request{Method: method, Args: args, Id: c.id})
	c.dec.Decode(&rep)
	if err, ok := rep.Error.(string); ok && err != "" {
		return rep.Result, errors.New(err)
	}
	return rep.Result, nil
}

//Per JSON RPC spec we must return a value upon success. This is not idiomatic
//for go, so if the method will only return an error just ignore the bool.
func (c *Client) callBoolIgnore(method string, args ...interface{}) error {
	i, err := c.call(method, args...)
	if err != nil {
		return err
	}
	if _, ok := i.(bool); ok {
		return nil
	}
	return fmt.Errorf("wrong return type for %s got %T expecting bool", method, i)
}

func (c *Client) callBool(method string, args ...interface{}) (bool, error) {
	i, err := c.call(method, args...)
	if err != nil {
		return false, err
	}
	if v, ok := i.(bool); ok {
		return v, nil
	}
	return false, fmt.Errorf("wrong return type for %s got %T expecting bool", method, i)
}

func (c *Client) callString(method string, args ...interface{}) (string, error) {
	i, err := c.call(method, args...)
	if err != nil {
		return "", err
	}
	if v, ok := i.(string); ok {
		return v, nil
	}
	return "", fmt.Errorf("wrong return type for %s got %T expecting string", method, i)
}

func (c *Client) callMapStringString(method string, args ...interface{}) (map[string]string, error) {
	i, err := c.call(method, args...)
	if err != nil {
		return nil, err
	}
	m, ok := i.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("wrong return type for %s got %T expecting map", method, i)
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("wrong value type for %s got %T expecting string", method, v)
		}
		out[k] = s
	}
	return out, nil
}

func (c *Client) SessionExists() (bool, error) {
	return c.callBool(GetFuncName(), c.sid)
}

func (c *Client) SessionSetup() error {
	return c.callBoolIgnore(GetFuncName(), c.sid)
}

func (c *Client) SessionTeardown() error {
	return c.callBoolIgnore(GetFuncName(), c.sid)
}

func (c *Client) KillSession(target string) error {
	return c.callBoolIgnore(GetFuncName(), c.sid, target)
}

func (c *Client) SessionChanged() (bool, error) {
	return c.callBool(GetFuncName(), c.sid)
}

func (c *Client) SessionLock() error {
	return c.callBoolIgnore(GetFuncName(), c.sid)
}

func (c *Client) SessionUnlock() error {
	return c.callBoolIgnore(GetFuncName(), c.sid)
}

func (c *Client) SessionLocked() (string, error) {
	return c.callString(GetFuncName(), c.sid)
}

func (c *Client) Lock(db rpc.DB) error {
	return c.callBoolIgnore(GetFuncName(), db, c.sid)
}

func (c *Client) Unlock(db rpc.DB) error {
	return c.callBoolIgnore(GetFuncName(), db, c.sid)
}

func (c *Client) Locked(db rpc.DB) (string, error) {
	return c.callString(GetFuncName(), db)
}

func (c *Client) Exists(db rpc.DB, path string) (bool, error) {
	return c.callBool(GetFuncName(), db, c.sid, path)
}

func (c *Client) TreeGet(db rpc.DB, path string) (string, error) {
	return c.callString(GetFuncName(), db, c.sid, path)
}

func (c *Client) TreeGetFull(db rpc.DB, path string) (string, error) {
	return c.callString(GetFuncName(), db, c.sid, path)
}

func (c *Client) RestartPlugin(name string) error {
	return c.callBoolIgnore(GetFuncName(), name)
}

func (c *Client) CallRpc(name, input string) (string, error) {
	return c.callString(GetFuncName(), name, input)
}

func (c *Client) NodeGetStatus(db rpc.DB, path string) (rpc.NodeStatus, error) {
	i, err := c.call(GetFuncName(), db, c.sid, path)
	if err != nil {
		return rpc.UNCHANGED, err
	}
	if v, ok := i.(float64); ok {
		return rpc.NodeStatus(v), nil
	}
	return rpc.UNCHANGED, fmt.Errorf("wrong return type for NodeGetStatus got %T", i)
}

func (c *Client) Set(path string) (string, error) {
	return c.callString(GetFuncName(), c.sid, path)
}

func (c *Client) Delete(path string) error {
	return c.callBoolIgnore(GetFuncName(), c.sid, path)
}

func (c *Client) EditConfigXML(target, defop, testopt, config string) error {
	return c.callBoolIgnore(GetFuncName(), c.sid, target, defop, testopt, config)
}

func (c *Client) CopyConfig(src, dst rpc.DB) error {
	return c.callBoolIgnore(GetFuncName(), c.sid, src, dst)
}

func (c *Client) DeleteConfig(db rpc.DB) error {
	return c.callBoolIgnore(GetFuncName(), c.sid, db)
}

func (c *Client) Validate() (string, error) {
	return c.callString(GetFuncName(), c.sid)
}

func (c *Client) Commit(comment string, debug bool) (string, error) {
	return c.callString(GetFuncName(), c.sid, comment, debug)
}

func (c *Client) ConfirmedCommit(
	comment string,
	confirmed bool,
	timeout, persist, persistid string,
	debug bool,
) (string, error) {
	return c.callString(GetFuncName(), c.sid, comment, confirmed, timeout,
		persist, persistid, debug)
}

func (c *Client) Confirm() (string, error) {
	return c.callString(GetFuncName(), c.sid)
}

func (c *Client) ConfirmPersistId(persistid string) (string, error) {
	return c.callString(GetFuncName(), persistid)
}

func (c *Client) CancelCommit(comment, persistid string, force, debug bool) (string, error) {
	return c.callString(GetFuncName(), c.sid, comment, persistid, force, debug)
}

func (c *Client) Discard() error {
	return c.callBoolIgnore(GetFuncName(), c.sid)
}

func (c *Client) Save() error {
	return c.callBoolIgnore(GetFuncName(), c.sid)
}

func (c *Client) Load(file string) error {
	return c.callBoolIgnore(GetFuncName(), c.sid, file)
}

func (c *Client) Merge(file string) error {
	return c.callBoolIgnore(GetFuncName(), c.sid, file)
}

func (c *Client) Compare(old, new, spath string, ctxdiff bool) (string, error) {
	return c.callString(GetFuncName(), old, new, spath, ctxdiff)
}

func (c *Client) CompareSessionChanges() (string, error) {
	return c.callString(GetFuncName(), c.sid)
}

func (c *Client) GetSchemas() (map[string]string, error) {
	return c.callMapStringString(GetFuncName())
}

func (c *Client) SetConfigDebug(logName, level string) (string, error) {
	return c.callString(GetFuncName(), logName, level)
}

func (c *Client) LoadKeys(user, source string) (string, error) {
	return c.callString(GetFuncName(), c.sid, user, source)
}

func (c *Client) GetConfigSystemFeatures() (map[string]struct{}, error) {
	i, err := c.call(GetFuncName())
	if err != nil {
		return nil, err
	}
	m, ok := i.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("wrong return type for GetConfigSystemFeatures got %T", i)
	}
	out := make(map[string]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out, nil
}
