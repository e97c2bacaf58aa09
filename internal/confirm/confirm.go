// Package confirm implements Confirmed-Commit (spec §4.G), RFC 6241
// §8.4: a commit that is automatically reverted unless confirmed
// within a timeout, keyed on an opaque persist token that survives
// across sessions.
//
// Grounded on server/confirmed_commit.go's commitInfo/isCommitAllowed
// state checks in the teacher, generalized from its external-process
// job-file implementation (spawning a helper binary against
// /config/confirmed_commit.job) into the in-process timer-driven state
// machine §4.G specifies directly.
package confirm

import (
	"sync"
	"time"

	"github.com/meridianos/confd/internal/mgmterror"
)

// State is one of the three Confirmed-Commit Machine States (§3).
type State int

const (
	StateIdle State = iota
	StatePending
	StateRollback
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StatePending:
		return "PENDING"
	case StateRollback:
		return "ROLLBACK"
	}
	return "UNKNOWN"
}

// DefaultTimeoutSeconds is confirm-timeout's default per RFC 6241 §8.4.1.
const DefaultTimeoutSeconds = 600

// Params is the set of recognised commit parameters (§4.G).
type Params struct {
	Confirmed      bool
	TimeoutSeconds uint32 // confirm-timeout; 0 means DefaultTimeoutSeconds
	Persist        string
	PersistID      string
}

// RollbackFunc restores running from the rollback snapshot (the
// Manager calls this instead of owning datastore details itself —
// kept decoupled so confirm can be unit tested without a real
// datastore.Manager).
type RollbackFunc func() error

// Manager is the Confirmed-Commit state machine: one instance guards
// the whole process (RFC 6241 confirmed-commit is not per-session),
// driven by a single-shot timer.
type Manager struct {
	mu sync.Mutex

	state    State
	persist  string
	session  string
	deadline time.Time
	timer    *time.Timer

	rollback RollbackFunc
	onFire   func() // invoked (without m.mu held) when the timer fires
}

// NewManager creates an idle Confirmed-Commit Manager. rollback is
// called when the timer fires and no confirming commit arrived; onFire
// additionally lets the caller (the transaction engine) run the actual
// candidate_commit(rollback-store-as-source) pass §4.G's "Timer fires"
// transition calls for.
func NewManager(rollback RollbackFunc, onFire func()) *Manager {
	return &Manager{state: StateIdle, rollback: rollback, onFire: onFire}
}

// State reports the current machine state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Arm starts a new confirmed commit (§4.G "New confirmed commit"):
// snapshotting running is the caller's job (it happens before Arm, via
// datastore.Manager.Copy(running, <rollback store>)); Arm only owns the
// timer/persist-token bookkeeping.
func (m *Manager) Arm(session string, p Params) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StatePending {
		return m.extendLocked(session, p)
	}
	m.state = StatePending
	m.session = session
	m.persist = p.Persist
	m.startTimerLocked(timeoutOf(p))
	return nil
}

func (m *Manager) extendLocked(session string, p Params) error {
	if err := m.matchLocked(session, p.PersistID); err != nil {
		return err
	}
	if p.Persist != "" {
		m.persist = p.Persist
	}
	m.startTimerLocked(timeoutOf(p))
	return nil
}

func timeoutOf(p Params) time.Duration {
	secs := p.TimeoutSeconds
	if secs == 0 {
		secs = DefaultTimeoutSeconds
	}
	return time.Duration(secs) * time.Second
}

func (m *Manager) startTimerLocked(d time.Duration) {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.deadline = time.Now().Add(d)
	m.timer = time.AfterFunc(d, m.fire)
}

func (m *Manager) fire() {
	m.mu.Lock()
	if m.state != StatePending {
		m.mu.Unlock()
		return
	}
	m.state = StateRollback
	m.mu.Unlock()

	if m.rollback != nil {
		m.rollback()
	}

	m.mu.Lock()
	m.state = StateIdle
	m.persist, m.session = "", ""
	m.mu.Unlock()

	if m.onFire != nil {
		m.onFire()
	}
}

// matchLocked verifies that session (or persistID, which must match
// the armed persist token and takes priority once either side has set
// one — §9(b)) is authorised to act on the current pending commit.
func (m *Manager) matchLocked(session, persistID string) error {
	if m.persist != "" || persistID != "" {
		if persistID != m.persist {
			e := mgmterror.NewInvalidValueProtocolError()
			e.Message = "persist-id does not match outstanding confirmed commit"
			return e.Error
		}
		return nil
	}
	if session != m.session {
		e := mgmterror.NewOperationFailedApplicationError()
		e.Message = "operation blocked by outstanding confirmed commit"
		return e.Error
	}
	return nil
}

// Confirm handles an inbound <commit> with no `confirmed` parameter
// while PENDING (§4.G "Confirming commit"): cancels the timer, clears
// state, returns to IDLE. The rollback store itself is the caller's to
// delete (again, to keep this package datastore-agnostic).
func (m *Manager) Confirm(session, persistID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StatePending {
		return nil
	}
	if err := m.matchLocked(session, persistID); err != nil {
		return err
	}
	m.stopLocked()
	return nil
}

// Cancel handles <cancel-commit persist-id="..."> (§4.G "Cancel"):
// same preconditions as Confirm, but the caller additionally reverts
// running from the rollback snapshot afterward.
func (m *Manager) Cancel(persistID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StatePending {
		e := mgmterror.NewOperationFailedApplicationError()
		e.Message = "no confirmed commit in progress"
		return e.Error
	}
	if err := m.matchLocked("", persistID); err != nil {
		return err
	}
	m.stopLocked()
	return nil
}

func (m *Manager) stopLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.state = StateIdle
	m.persist, m.session = "", ""
}

// IsAllowed checks whether a plain (possibly non-confirmed) commit from
// session may proceed given any outstanding confirmed commit (§4.G,
// mirroring the teacher's isCommitAllowed): a commit with no persist-id
// from a different session is blocked; one whose parameters match
// acts as the confirming commit.
func (m *Manager) IsAllowed(session string, p *Params) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StatePending {
		return nil
	}
	if p == nil {
		e := mgmterror.NewAccessDeniedApplicationError()
		e.Message = "Operation blocked by outstanding confirmed commit"
		return e.Error
	}
	if err := m.matchLocked(session, p.PersistID); err != nil {
		return err
	}
	if !p.Confirmed {
		m.stopLocked()
	}
	return nil
}

// Deadline reports when the current pending commit's timer fires (the
// zero Time if not PENDING) — used to answer <get> queries against
// ietf-netconf-monitoring-style session state.
func (m *Manager) Deadline() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StatePending {
		return time.Time{}
	}
	return m.deadline
}
