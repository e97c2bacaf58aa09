// Copyright (c) 2018-2019, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2014-2017 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package session

import (
	"strings"

	"github.com/meridianos/confd/internal/datastore"
	"github.com/meridianos/confd/internal/mgmterror"
	"github.com/meridianos/confd/internal/validate"
	"github.com/meridianos/confd/internal/xmlnode"
	"github.com/meridianos/confd/internal/yang/schema"
)

// EditOpFromString maps an RFC 6241 <edit-config> operation attribute
// to the datastore package's EditOp (§4.C, §6 "edit-config").
func EditOpFromString(s string) datastore.EditOp {
	switch strings.ToLower(s) {
	case "replace":
		return datastore.EditReplace
	case "create":
		return datastore.EditCreate
	case "delete":
		return datastore.EditDelete
	case "remove":
		return datastore.EditRemove
	default:
		return datastore.EditMerge
	}
}

// EditConfig applies a NETCONF <edit-config> request to target (§6
// "edit-config", §4.C "put"). testOption follows RFC 6241 §8.3.4:
// "test-only" never mutates target; "set" applies the edit directly;
// anything else ("test-then-set", the default) first previews the
// edit against the `tmp` scratch store and runs the key-correctness
// fast-path (§4.D validate_list_keys_only) before touching target for
// real, so a structurally broken edit never reaches a live store.
func EditConfig(
	store *datastore.Manager,
	ms *schema.ModelSet,
	target string,
	op datastore.EditOp,
	testOption string,
	configXML string,
) error {
	edit, err := xmlnode.ParseString(configXML)
	if err != nil {
		e := mgmterror.NewMalformedMessageError()
		e.Message = err.Error()
		return e.Error
	}

	switch testOption {
	case "test-only":
		return previewEdit(store, ms, target, op, edit)
	case "set":
		return store.Put(target, op, edit, "")
	default:
		if err := previewEdit(store, ms, target, op, edit); err != nil {
			return err
		}
		return store.Put(target, op, edit, "")
	}
}

// previewEdit copies target into the `tmp` scratch store, applies the
// edit there, and validates list-key correctness only — a cheap
// preflight, not a full semantic validation (that happens for real at
// commit time per §4.F).
func previewEdit(
	store *datastore.Manager,
	ms *schema.ModelSet,
	target string,
	op datastore.EditOp,
	edit *xmlnode.Node,
) error {
	if err := store.Copy(target, "tmp"); err != nil {
		return err
	}
	if err := store.Put("tmp", op, edit, ""); err != nil {
		return err
	}
	tree, _, err := store.Get0("tmp", datastore.BindModule)
	if err != nil {
		return err
	}
	res := validate.ValidateListKeysOnly(ms.Root(), tree)
	if !res.OK() {
		return res.Errors[0]
	}
	return nil
}
