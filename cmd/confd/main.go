// Copyright (c) 2019-2020, AT&T Intellectual Property. All rights reserved.
// Copyright (c) 2014-2017 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

/*
confd is a daemon that manages run-time configuration based on YANG
definition files.

Usage:

	-f <file>
		Main configuration file. Defaults to $CLIXON_CONFIGFILE.

	-D <level>
		Debug level: none, error or debug.

	-l <dest>
		Log destination: syslog or stderr.

	-o <opt=val>
		Override a configuration file option.

	-s <mode>
		Startup mode: none, running, startup or init.

	-q
		Quit after the datastore upgrade pass, leaving the upgraded
		startup content on stdout for inspection.

Exit codes: 0 normal, 1 startup validation failure without failsafe,
2 configuration parse error, 255 fatal internal error.
*/
package main

import (
	"flag"
	"fmt"
	"log"
	"log/syslog"
	"net"
	"os"
	"strings"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/go-ini/ini"

	configd "github.com/meridianos/confd"
	"github.com/meridianos/confd/internal/changelog"
	"github.com/meridianos/confd/internal/datastore"
	"github.com/meridianos/confd/internal/txn"
	"github.com/meridianos/confd/internal/yang/schema"
	"github.com/meridianos/confd/server"
	"github.com/meridianos/confd/session"
)

const (
	exitOK       = 0
	exitStartup  = 1
	exitConfig   = 2
	exitInternal = 255
)

var elog *log.Logger

/* Command line options */
var configfile = flag.String("f", os.Getenv("CLIXON_CONFIGFILE"),
	"Main configuration file.")

var debuglevel = flag.String("D", "error",
	"Debug level: none, error or debug.")

var logdest = flag.String("l", "syslog",
	"Log destination: syslog or stderr.")

var startupmode = flag.String("s", "startup",
	"Startup mode: none, running, startup or init.")

var upgradeQuit = flag.Bool("q", false,
	"Quit after the datastore upgrade pass.")

type optOverrides []string

func (o *optOverrides) String() string { return strings.Join(*o, ",") }
func (o *optOverrides) Set(v string) error {
	*o = append(*o, v)
	return nil
}

var overrides optOverrides

func init() {
	flag.Var(&overrides, "o", "Override a configuration file option (opt=val).")
}

func fatal(err error) {
	if err != nil {
		log.Println(err)
		elog.Println(err)
		os.Exit(exitInternal)
	}
}

func initialiseLogging() {
	var err error
	if *logdest == "stderr" {
		elog = log.New(os.Stderr, "", 0)
		return
	}
	elog, err = configd.NewLogger(syslog.LOG_ERR|syslog.LOG_DAEMON, 0)
	if err != nil {
		//give up and log to stderr
		elog = log.New(os.Stderr, "", 0)
	}
}

// loadConfig reads the main configuration file, applies -o overrides,
// and folds in the environment (§6 "Environment").
func loadConfig() (*configd.Config, error) {
	config := &configd.Config{
		Yangdir:     "/usr/share/confd/yang",
		XMLDBDir:    "/var/lib/confd/db",
		Socket:      "/run/confd/main.sock",
		StartupMode: *startupmode,
		Logdest:     *logdest,
		Loglevel:    *debuglevel,
	}

	opts := make(map[string]string)
	if *configfile != "" {
		f, err := ini.Load(*configfile)
		if err != nil {
			return nil, err
		}
		for _, key := range f.Section("").Keys() {
			opts[key.Name()] = key.Value()
		}
	}
	for _, o := range overrides {
		idx := strings.IndexByte(o, '=')
		if idx < 0 {
			return nil, fmt.Errorf("malformed -o option %q, expected opt=val", o)
		}
		opts[o[:idx]] = o[idx+1:]
	}

	for opt, val := range opts {
		switch opt {
		case "yangdir":
			config.Yangdir = val
		case "xmldb_dir", "CLICON_XMLDB_DIR":
			config.XMLDBDir = val
		case "socket":
			config.Socket = val
		case "capabilities":
			config.Capabilities = val
		case "changelog":
			config.Changelog = val
		default:
			return nil, fmt.Errorf("unknown option %q", opt)
		}
	}
	if dir := os.Getenv("CLICON_XMLDB_DIR"); dir != "" {
		config.XMLDBDir = dir
	}
	return config, nil
}

// loadSchema parses and compiles every .yang file under yangdir into
// one model set.
func loadSchema(config *configd.Config) (*schema.ModelSet, error) {
	ms := schema.NewModelSet()
	entries, err := os.ReadDir(config.Yangdir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yang") {
			continue
		}
		src, err := os.ReadFile(config.Yangdir + "/" + e.Name())
		if err != nil {
			return nil, err
		}
		if err := ms.LoadModule(string(src)); err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
	}
	if err := ms.Finalize(); err != nil {
		return nil, err
	}
	if config.Capabilities != "" {
		if err := schema.LoadCapabilities(ms, config.Capabilities); err != nil {
			return nil, err
		}
	}
	return ms, nil
}

// createStores registers the named datastores §3 requires: the
// persistent ones backed by files under the XMLDB directory, plus the
// in-memory scratch stores.
func createStores(store *datastore.Manager) error {
	for _, db := range []string{
		session.DBRunning, session.DBCandidate,
		session.DBStartup, session.DBFailsafe,
	} {
		if err := store.Create(db, true); err != nil {
			return err
		}
	}
	for _, db := range []string{session.DBTmp, "rollback"} {
		if err := store.Create(db, false); err != nil {
			return err
		}
	}
	return nil
}

// bootDatastores drives the -s startup mode (§6 "Command surface").
func bootDatastores(cmgr *session.CommitMgr, store *datastore.Manager, mode string) error {
	switch mode {
	case "none":
		// leave running as loaded from disk
		return nil
	case "init":
		if err := store.Reset(session.DBRunning); err != nil {
			return err
		}
	case "running":
		// re-commit the persisted running config through the full
		// transaction pipeline
		if err := store.Copy(session.DBRunning, session.DBStartup); err != nil {
			return err
		}
		fallthrough
	case "startup":
		if err := cmgr.StartupCommit(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown startup mode %q", mode)
	}
	return store.Copy(session.DBRunning, session.DBCandidate)
}

func getListener(socket string) *net.UnixListener {
	listeners, err := activation.Listeners()
	fatal(err)
	for _, l := range listeners {
		if ul, ok := l.(*net.UnixListener); ok {
			return ul
		}
	}

	if err := os.Remove(socket); err != nil && !os.IsNotExist(err) {
		fatal(err)
	}

	ua, err := net.ResolveUnixAddr("unix", socket)
	fatal(err)

	l, err := net.ListenUnix("unix", ua)
	fatal(err)

	fatal(os.Chmod(socket, 0770))
	return l
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	initialiseLogging()

	config, err := loadConfig()
	if err != nil {
		elog.Println(err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfig)
	}

	ms, err := loadSchema(config)
	if err != nil {
		elog.Println(err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfig)
	}

	store, err := datastore.NewManager(ms, config.XMLDBDir)
	fatal(err)
	fatal(createStores(store))

	cl, err := changelog.ParseFile(config.Changelog)
	if err != nil {
		elog.Println(err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfig)
	}

	bus := txn.NewBus(elog.Printf)
	fatal(bus.Init())

	l := getListener(config.Socket)
	srv := server.NewSrv(l, ms, store, bus, cl, config, elog)

	if err := bootDatastores(srv.CommitMgr(), store, config.StartupMode); err != nil {
		elog.Printf("startup failed: %s", err)
		os.Exit(exitStartup)
	}
	fatal(bus.Start())

	if *upgradeQuit {
		fatal(store.Dump(session.DBRunning, os.Stdout))
		os.Exit(exitOK)
	}

	daemon.SdNotify(false, daemon.SdNotifyReady)

	fatal(srv.Serve())
}
