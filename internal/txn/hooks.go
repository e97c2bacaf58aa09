package txn

import (
	"fmt"

	"github.com/meridianos/confd/internal/xmlnode"
)

// Lifecycle hooks outside the transaction state machine (§4.I): init,
// start, reset, statedata and rpc_handler. Like the phase hooks, each
// is optional — a plugin implements only what it needs.
type InitHook interface{ Init() error }
type StartHook interface{ Start() error }
type ResetHook interface{ Reset(db string) error }

// StateDataHook supplies a plugin's operational (config false) state
// for the subtree addressed by xpath; "" means "everything you have".
type StateDataHook interface {
	StateData(xpath string) (*xmlnode.Node, error)
}

// RPCFunc handles one YANG-declared RPC: input in, output out.
type RPCFunc func(input *xmlnode.Node) (*xmlnode.Node, error)

// RPCHook resolves a YANG-declared RPC by name; nil means "not mine".
type RPCHook interface {
	RPCHandler(name string) RPCFunc
}

// Init fans init out to every plugin, registration order, stopping at
// the first failure — a plugin that cannot initialise keeps the daemon
// from starting.
func (b *Bus) Init() error {
	for _, p := range b.plugins {
		if h, ok := p.(InitHook); ok {
			if err := h.Init(); err != nil {
				return fmt.Errorf("%s: init: %w", p.Name(), err)
			}
		}
	}
	return nil
}

// Start fans start out after the startup commit has established
// running, registration order.
func (b *Bus) Start() error {
	for _, p := range b.plugins {
		if h, ok := p.(StartHook); ok {
			if err := h.Start(); err != nil {
				return fmt.Errorf("%s: start: %w", p.Name(), err)
			}
		}
	}
	return nil
}

// Reset notifies every plugin that db has been reset out from under it
// (failsafe recovery, delete-config). Errors are logged, not
// propagated — reset is advisory.
func (b *Bus) Reset(db string) {
	for _, p := range b.plugins {
		if h, ok := p.(ResetHook); ok {
			if err := h.Reset(db); err != nil {
				b.logger("txn: %s: reset(%s): %v", p.Name(), db, err)
			}
		}
	}
}

// StateData collects every plugin's operational state for xpath. A
// failing plugin contributes nothing and is logged; one broken state
// provider must not take down the whole read (§4.I, state merge).
func (b *Bus) StateData(xpath string) []*xmlnode.Node {
	var out []*xmlnode.Node
	for _, p := range b.plugins {
		h, ok := p.(StateDataHook)
		if !ok {
			continue
		}
		sub, err := h.StateData(xpath)
		if err != nil {
			b.logger("txn: %s: statedata(%q): %v", p.Name(), xpath, err)
			continue
		}
		if sub != nil {
			out = append(out, sub)
		}
	}
	return out
}

// RPC resolves name against each plugin's rpc_handler in registration
// order, returning the first match.
func (b *Bus) RPC(name string) RPCFunc {
	for _, p := range b.plugins {
		if h, ok := p.(RPCHook); ok {
			if fn := h.RPCHandler(name); fn != nil {
				return fn
			}
		}
	}
	return nil
}

// PluginByName returns the registered plugin with the given name, or
// nil — the handle restart_one needs to target a single plugin.
func (b *Bus) PluginByName(name string) Plugin {
	for _, p := range b.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}
