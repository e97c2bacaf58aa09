// Copyright (c) 2017,2019, AT&T Intellectual Property.
// All rights reserved.
//
// Copyright (c) 2015 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package main

import (
	"flag"
	"fmt"
	"os"

	client "github.com/meridianos/confd/client"
	"github.com/meridianos/confd/rpc"
)

var socketpath = flag.String("socket", "/run/confd/main.sock",
	"Path to the confd socket")

var db = flag.String("db", "running",
	"Datastore to read: running, candidate, startup or failsafe")

var full = flag.Bool("full", false,
	"Merge plugin-supplied operational state into the output")

func handleError(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(2)
}

func dbFromString(name string) (rpc.DB, error) {
	switch name {
	case "running":
		return rpc.RUNNING, nil
	case "candidate":
		return rpc.CANDIDATE, nil
	case "startup":
		return rpc.STARTUP, nil
	case "failsafe":
		return rpc.FAILSAFE, nil
	}
	return rpc.RUNNING, fmt.Errorf("invalid datastore %q", name)
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] [path]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	path := ""
	if flag.NArg() > 0 {
		path = flag.Arg(0)
	}

	store, err := dbFromString(*db)
	handleError(err)

	cl, err := client.Dial("unix", *socketpath, "")
	handleError(err)
	defer cl.Close()

	var out string
	if *full {
		out, err = cl.TreeGetFull(store, path)
	} else {
		out, err = cl.TreeGet(store, path)
	}
	handleError(err)
	fmt.Println(out)
}
