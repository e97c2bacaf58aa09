// Package txn implements the Transaction Engine (spec §4.F) and the
// Plugin Bus (spec §4.I): the state machine that walks registered
// plugins through begin/validate/complete/commit/commit-done/end (or
// aborts), and the candidate_commit/candidate_validate/startup_commit/
// restart_one entry points that drive it.
//
// Grounded on CommitMgr.commit's phase sequence (validate -> component
// SetRunning -> commit -> write running -> hooks, session/commitmgr.go
// in the teacher) and on apps/backend/backend_commit.c's phase ordering
// in original_source/ (the clixon implementation this spec distills),
// generalized from the teacher's hook-script callbacks to a typed
// plugin interface per §4.I (in-process Go registration replaces the
// shared-library plugin ABI, which §1 puts out of scope).
package txn

import (
	"fmt"

	"github.com/meridianos/confd/internal/diff"
	"github.com/meridianos/confd/internal/mgmterror"
	"github.com/meridianos/confd/internal/validate"
	"github.com/meridianos/confd/internal/xmlnode"
	"github.com/meridianos/confd/internal/yang/schema"
)

// Phase names the transaction's state machine positions (§4.F).
type Phase int

const (
	PhaseCreated Phase = iota
	PhaseBegin
	PhaseValidate
	PhaseComplete
	PhaseCommit
	PhaseCommitDone
	PhaseEnd
	PhaseAbort
)

func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "CREATED"
	case PhaseBegin:
		return "BEGIN"
	case PhaseValidate:
		return "VALIDATE"
	case PhaseComplete:
		return "COMPLETE"
	case PhaseCommit:
		return "COMMIT"
	case PhaseCommitDone:
		return "COMMIT_DONE"
	case PhaseEnd:
		return "END"
	case PhaseAbort:
		return "ABORT"
	}
	return "UNKNOWN"
}

// Transaction holds everything one validate/commit/startup pass needs
// (§3 "Transaction"): the source/target trees, the three diff
// collections, and a per-plugin user-data slot. It never outlives one
// RPC (§3 "Lifecycle").
type Transaction struct {
	Source *xmlnode.Node
	Target *xmlnode.Node
	Schema *schema.Node

	Deleted      []*xmlnode.Node
	Added        []*xmlnode.Node
	ChangedSrc   []*xmlnode.Node
	ChangedTgt   []*xmlnode.Node

	phase    Phase
	userData map[Plugin]interface{}
	observed map[Plugin]bool // plugins that have seen BEGIN, per §4.I
}

func newTransaction(sn *schema.Node, src, tgt *xmlnode.Node) *Transaction {
	return &Transaction{
		Source:   src,
		Target:   tgt,
		Schema:   sn,
		phase:    PhaseCreated,
		userData: make(map[Plugin]interface{}),
		observed: make(map[Plugin]bool),
	}
}

// Phase reports the transaction's current state-machine position.
func (t *Transaction) Phase() Phase { return t.phase }

// UserData returns p's private slot for this transaction, nil until p
// sets one with SetUserData.
func (t *Transaction) UserData(p Plugin) interface{} { return t.userData[p] }

// SetUserData stores p's private per-transaction state.
func (t *Transaction) SetUserData(p Plugin, v interface{}) { t.userData[p] = v }

// Plugin is what a component registers with the Bus (§4.I). Name is
// its only required method; the phase callbacks are the optional hook
// interfaces below, and the Bus calls only those a plugin implements.
type Plugin interface {
	Name() string
}

// Each hook interface below is the Go analogue of the teacher's
// "loader tolerates any null entry" (§6 "Plugin ABI"): the Bus checks
// a Plugin for each via a type assertion, so a plugin implements only
// the phases it cares about.
type BeginHook interface{ Begin(*Transaction) error }
type ValidateHook interface{ Validate(*Transaction) error }
type CompleteHook interface{ Complete(*Transaction) error }
type CommitHook interface{ Commit(*Transaction) error }
type CommitDoneHook interface{ CommitDone(*Transaction) error }
type EndHook interface{ End(*Transaction) }
type AbortHook interface{ Abort(*Transaction) }

// Bus dispatches transaction-phase callbacks to every registered
// Plugin, in registration order, or to a single plugin in restart-one
// mode (§4.I). The plugin list is append-only after Init, per §5
// "Shared resources".
type Bus struct {
	plugins []Plugin
	logger  func(format string, args ...interface{})
}

// NewBus creates an empty Plugin Bus. log receives operational
// diagnostics (consistency warnings, logged plugin abort errors); it
// may be nil.
func NewBus(log func(format string, args ...interface{})) *Bus {
	if log == nil {
		log = func(string, ...interface{}) {}
	}
	return &Bus{logger: log}
}

// Register appends p to the plugin list. Must only be called during
// startup, before any transaction runs (§5).
func (b *Bus) Register(p Plugin) { b.plugins = append(b.plugins, p) }

func begin(p Plugin, t *Transaction) error {
	if h, ok := p.(BeginHook); ok {
		return h.Begin(t)
	}
	return nil
}
func validatePhase(p Plugin, t *Transaction) error {
	if h, ok := p.(ValidateHook); ok {
		return h.Validate(t)
	}
	return nil
}
func complete(p Plugin, t *Transaction) error {
	if h, ok := p.(CompleteHook); ok {
		return h.Complete(t)
	}
	return nil
}
func commitHook(p Plugin, t *Transaction) error {
	if h, ok := p.(CommitHook); ok {
		return h.Commit(t)
	}
	return nil
}
func commitDone(p Plugin, t *Transaction) error {
	if h, ok := p.(CommitDoneHook); ok {
		return h.CommitDone(t)
	}
	return nil
}
func end(p Plugin, t *Transaction) {
	if h, ok := p.(EndHook); ok {
		h.End(t)
	}
}
func abort(p Plugin, t *Transaction) {
	if h, ok := p.(AbortHook); ok {
		h.Abort(t)
	}
}

// runPhases drives t through BEGIN -> user VALIDATE -> COMPLETE over
// the given plugin set, recording which plugins observed BEGIN so a
// later ABORT fan-out only visits those (§4.I "a plugin which did not
// observe begin is not asked to abort"). On the first failing
// callback it stops and returns the phase at which it failed plus the
// error.
func (b *Bus) runPhases(t *Transaction, plugins []Plugin) (Phase, error) {
	t.phase = PhaseBegin
	for _, p := range plugins {
		if err := begin(p, t); err != nil {
			return PhaseBegin, fmt.Errorf("%s: begin: %w", p.Name(), err)
		}
		t.observed[p] = true
	}

	t.phase = PhaseValidate
	for _, p := range plugins {
		if err := validatePhase(p, t); err != nil {
			return PhaseValidate, fmt.Errorf("%s: validate: %w", p.Name(), err)
		}
	}

	t.phase = PhaseComplete
	for _, p := range plugins {
		if err := complete(p, t); err != nil {
			return PhaseComplete, fmt.Errorf("%s: complete: %w", p.Name(), err)
		}
	}
	return PhaseComplete, nil
}

// runCommit drives COMMIT and COMMIT_DONE. Per §4.F "Failure
// semantics": if any COMMIT callback fails, every remaining plugin
// still runs (best-effort), COMMIT_DONE still fans out to all
// plugins, and the first COMMIT error is returned to the caller (later
// COMMIT errors are not reported) — the
// engine never silently swallows a mid-commit failure, but it also
// never half-applies plugin side effects it can still deliver.
func (b *Bus) runCommit(t *Transaction, plugins []Plugin) error {
	t.phase = PhaseCommit
	var commitErr error
	for _, p := range plugins {
		if err := commitHook(p, t); err != nil && commitErr == nil {
			commitErr = fmt.Errorf("%s: commit: %w", p.Name(), err)
		}
	}

	t.phase = PhaseCommitDone
	for _, p := range plugins {
		if err := commitDone(p, t); err != nil {
			b.logger("txn: %s: commit-done error (best-effort, ignored): %v", p.Name(), err)
		}
	}

	if commitErr != nil {
		b.logger("txn: commit failed mid-phase, running may have diverged from plugin-side state: %v", commitErr)
	}
	return commitErr
}

// runEnd fans END out to every plugin (registration order).
func (b *Bus) runEnd(t *Transaction, plugins []Plugin) {
	t.phase = PhaseEnd
	for _, p := range plugins {
		end(p, t)
	}
}

// runAbort fans ABORT out, reverse registration order, to every plugin
// that observed BEGIN (§4.F "reverse-invoke ABORT on every plugin that
// has observed BEGIN"). Plugin abort errors are logged, never
// propagated (§4.F "Plugin abort callbacks must never fail the
// transaction").
func (b *Bus) runAbort(t *Transaction, plugins []Plugin) {
	t.phase = PhaseAbort
	for i := len(plugins) - 1; i >= 0; i-- {
		p := plugins[i]
		if !t.observed[p] {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger("txn: %s: abort panic (logged, ignored): %v", p.Name(), r)
				}
			}()
			abort(p, t)
		}()
	}
}

// Result is what a commit/validate entry point hands back to the
// NETCONF/RESTCONF front-end: either OK, a client-visible validation
// failure (Invalid), or an operational error (Err) — the three-way
// split §9 "Exceptions / multi-value returns" calls for.
type Result struct {
	Invalid []*mgmterror.Error // nil unless validation found problems
	Err     error              // non-nil when a plugin callback failed
}

func (r Result) OK() bool { return len(r.Invalid) == 0 && r.Err == nil }

// Validate runs diff + generic validation + plugin BEGIN/VALIDATE/
// COMPLETE against src/tgt, without touching any datastore — shared by
// candidate_validate and the first half of candidate_commit (§4.F
// steps 1-4).
func Validate(bus *Bus, ms *schema.ModelSet, sn *schema.Node, src, tgt *xmlnode.Node) (*Transaction, Result) {
	t := newTransaction(sn, src, tgt)
	d := diff.Diff(sn, src, tgt)
	t.Deleted = d.Deleted
	t.Added = d.Added
	for _, p := range d.ChangedPairs {
		t.ChangedSrc = append(t.ChangedSrc, p.Source)
		t.ChangedTgt = append(t.ChangedTgt, p.Target)
	}

	// generic validation runs against a default-injected copy (§4.D
	// "Defaults"): mandatory/when/leafref checks see the effective
	// configuration, while the stored tree never picks up synthesized
	// default leaves
	vt := tgt.CopySubtree()
	validate.InjectDefaults(sn, vt)
	genericRes := validate.ValidateAll(ms, sn, vt)
	if !genericRes.OK() {
		return t, Result{Invalid: genericRes.Errors}
	}

	if _, err := bus.runPhases(t, bus.plugins); err != nil {
		bus.runAbort(t, bus.plugins)
		return t, Result{Err: err}
	}
	return t, Result{}
}

// Commit runs Validate, and on success additionally drives COMMIT and
// COMMIT_DONE (§4.F candidate_commit steps 4-7, sans the datastore
// copy itself — callers own that, since only they know the target
// store name). END is the caller's responsibility too, run once the
// datastore swap has actually happened (§5 "Ordering"). If a COMMIT
// callback fails, ABORT fans out after COMMIT_DONE to every plugin that
// observed BEGIN, and the error is returned in Result.Err.
func Commit(bus *Bus, ms *schema.ModelSet, sn *schema.Node, src, tgt *xmlnode.Node) (*Transaction, Result) {
	t, res := Validate(bus, ms, sn, src, tgt)
	if !res.OK() {
		return t, res
	}
	if err := bus.runCommit(t, bus.plugins); err != nil {
		bus.runAbort(t, bus.plugins)
		return t, Result{Err: err}
	}
	return t, Result{}
}

// End fans END out across every plugin (§4.F step 9).
func (b *Bus) End(t *Transaction)   { b.runEnd(t, b.plugins) }

// Abort fans ABORT out, reverse order, to every plugin that observed
// BEGIN.
func (b *Bus) Abort(t *Transaction) { b.runAbort(t, b.plugins) }

// RestartOne runs the full state machine against a single plugin only
// (§4.F restart_one), typically against the `tmp` datastore as target.
func RestartOne(bus *Bus, p Plugin, sn *schema.Node, src, tgt *xmlnode.Node) (*Transaction, Result) {
	t := newTransaction(sn, src, tgt)
	d := diff.Diff(sn, src, tgt)
	t.Deleted, t.Added = d.Deleted, d.Added
	for _, pair := range d.ChangedPairs {
		t.ChangedSrc = append(t.ChangedSrc, pair.Source)
		t.ChangedTgt = append(t.ChangedTgt, pair.Target)
	}
	single := []Plugin{p}
	if _, err := bus.runPhases(t, single); err != nil {
		bus.runAbort(t, single)
		return t, Result{Err: err}
	}
	if err := bus.runCommit(t, single); err != nil {
		return t, Result{Err: err}
	}
	bus.runEnd(t, single)
	return t, Result{}
}

// ClearFlags resets every transient flag on tree, restoring the
// invariant that no datastore node carries ADD/DEL/CHANGE/MARK once a
// transaction ends (§3 invariant, §8 property 4).
func ClearFlags(tree *xmlnode.Node) {
	if tree == nil {
		return
	}
	tree.Apply(func(n *xmlnode.Node) bool {
		n.SetFlags(xmlnode.FlagNone)
		return true
	})
}
