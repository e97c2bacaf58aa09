// Copyright (c) 2019-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package server

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/meridianos/confd/internal/datastore"
	"github.com/meridianos/confd/internal/mgmterror"
	"github.com/meridianos/confd/internal/xmlnode"
	"github.com/meridianos/confd/rpc"
	"github.com/meridianos/confd/session"

	"golang.org/x/crypto/ssh"
)

func loginSchemaPathForUser(user string) []string {
	return []string{"system", "login", "user", user}
}

func publicKeysSchemaPathForUser(user string) []string {
	return append(loginSchemaPathForUser(user), "authentication", "public-keys")
}

type sshPublicKey struct {
	key     ssh.PublicKey
	Comment string
	Options []string
}

func (k *sshPublicKey) Type() string {
	return k.key.Type()
}

func (k *sshPublicKey) Base64Key() string {
	key := ssh.MarshalAuthorizedKey(k.key)
	key = bytes.TrimPrefix(key, []byte(k.Type()+" "))
	return strings.TrimRight(string(key), "\n")
}

func (k *sshPublicKey) OptionsStr() string {
	return strings.Join(k.Options, ",")
}

// editSubtree renders the key as the public-keys list entry an
// edit-config merge consumes: the entry is keyed by the key's comment
// (its name in authorized_keys terms).
func (k *sshPublicKey) editSubtree() *xmlnode.Node {
	entry := xmlnode.New("public-keys")

	name := xmlnode.New("name")
	name.SetBody(k.Comment)
	entry.AppendChild(name)

	typ := xmlnode.New("type")
	typ.SetBody(k.Type())
	entry.AppendChild(typ)

	key := xmlnode.New("key")
	key.SetBody(k.Base64Key())
	entry.AppendChild(key)

	if opts := k.OptionsStr(); opts != "" {
		o := xmlnode.New("options")
		o.SetBody(opts)
		entry.AppendChild(o)
	}
	return entry
}

// Wrapper around ssh.ParseAuthorizedKey() which parses authorized_keys data
// See sshd(8) AUTHORIZED_KEYS FILE FORMAT
func loadKeysParseReader(reader io.Reader) ([]*sshPublicKey, error) {
	keys := make([]*sshPublicKey, 0)

	lineNum := 0
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := scanner.Bytes()
		lineNum += 1

		// Skip blank or commented lines since ssh.ParseAuthorizedKeys()
		// returns an error for those
		if len(line) == 0 || bytes.HasPrefix(line, []byte("#")) {
			continue
		}

		var err error
		pubKey := &sshPublicKey{}
		pubKey.key, pubKey.Comment, pubKey.Options, _, err = ssh.ParseAuthorizedKey(line)
		if err != nil {
			return nil, fmt.Errorf("On line %v: %v", lineNum, err)
		}

		keys = append(keys, pubKey)
	}
	if err := scanner.Err(); err != nil {
		return keys, err
	}

	return keys, nil
}

func (d *Disp) loadKeysParse(file string) ([]*sshPublicKey, error) {
	f, err := os.Open(file)
	if err != nil {
		operr := mgmterror.NewOperationFailedApplicationError()
		operr.Message = err.Error()
		return nil, operr.Error
	}
	defer f.Close()

	keys, err := loadKeysParseReader(f)
	if err != nil {
		operr := mgmterror.NewOperationFailedApplicationError()
		operr.Message = "Parsing key file failed\n" + err.Error()
		return keys, operr.Error
	}
	return keys, nil
}

func (d *Disp) setPublicKeyForUser(sid, user string, key *sshPublicKey) error {
	edit, err := d.pathToEdit(loginSchemaPathForUser(user))
	if err != nil {
		return err
	}
	// attach the public-keys entry under the user entry's
	// authentication container
	userEntry := edit
	for _, name := range []string{"system", "login", "user"} {
		userEntry = userEntry.Child(name)
	}
	auth := xmlnode.New("authentication")
	auth.AppendChild(key.editSubtree())
	userEntry.AppendChild(auth)

	return d.store.Put(session.DBCandidate, datastore.EditMerge, edit, d.ctx.User)
}

func (d *Disp) userIsConfigured(sid, user string) error {
	userPath := strings.Join(loginSchemaPathForUser(user), "/")
	userExists, err := d.Exists(rpc.CANDIDATE, sid, userPath)
	if err != nil {
		return err
	}
	if !userExists {
		operr := mgmterror.NewOperationFailedApplicationError()
		operr.Message = "User " + user + " does not exist in the configuration"
		return operr.Error
	}
	return nil
}

func (d *Disp) loadKeysIsSupported() bool {
	// The LoadKeys RPC functionality is tightly tied to a particular
	// schema so check for the base path provided by that schema.
	_, err := d.normalizePath(publicKeysSchemaPathForUser("user")[:3])
	return err == nil
}

func (d *Disp) loadKeysInternal(sid, user, source string) (string, error) {
	if err := d.userIsConfigured(sid, user); err != nil {
		return "", err
	}

	keys, err := d.loadKeysParse(source)
	if err != nil {
		return "", err
	}

	for _, key := range keys {
		if err := d.setPublicKeyForUser(sid, user, key); err != nil {
			return "", err
		}
	}

	if changed, _ := d.SessionChanged(sid); !changed {
		return "No keys were loaded from '" + source + "'", nil
	}

	out, err := d.Commit(sid, "loadkey "+user, false)
	if err == nil {
		if out != "" {
			out = strings.TrimRight(out, "\n") + "\n\n"
		}
		out += "Loaded keys from '" + source + "'"
	}
	return out, err
}

// LoadKeys reads an authorized_keys file and merges its entries into
// the named user's public-keys configuration, then commits.
func (d *Disp) LoadKeys(sid, user, source string) (string, error) {
	if !d.loadKeysIsSupported() {
		merr := mgmterror.NewOperationNotSupportedApplicationError()
		return "", merr.Error
	}
	if err := d.checkEditAllowed(session.DBCandidate, sid); err != nil {
		return "", err
	}
	return d.loadKeysInternal(sid, user, source)
}
