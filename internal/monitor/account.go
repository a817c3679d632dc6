// Package monitor polls accounts for new posts and dispatches them.
//
// The pieces are small on purpose: a Queue gives round-robin fairness, the
// tracker turns feed pages into "new since last time", a cycle runner drains
// the queue with bounded concurrency, a Scheduler re-arms itself after every
// cycle, and a Dispatcher hands new posts to the formatter and delivery.
// Service wires them together and owns hot reload.
package monitor

import (
	"slices"
	"sync"
	"time"

	"dynpush/internal/storage"
	kit "dynpush/internal/transport"
)

// legacyUnset is the uninitialised cursor written by older state files.
const legacyUnset = "-1"

// Account is one monitored uid.
//
// checkMu serialises checks of the same account (scheduled cycle vs manual
// check) from the first fetch through the last delivery. mu guards the fields
// below it so status readers never wait on a slow fetch.
type Account struct {
	UID int64

	checkMu sync.Mutex

	mu          sync.RWMutex
	targets     []kit.ChatTarget
	cursor      string
	displayName string
	lastCheck   time.Time
}

func newAccount(uid int64, targets []kit.ChatTarget, st storage.AccountState) *Account {
	a := &Account{UID: uid, targets: slices.Clone(targets)}
	a.restore(st)
	return a
}

func (a *Account) restore(st storage.AccountState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cursor = st.Cursor
	if a.cursor == legacyUnset {
		a.cursor = ""
	}
	a.displayName = st.DisplayName
	a.lastCheck = st.LastCheck
}

// State returns a copy of the account's durable state.
func (a *Account) State() storage.AccountState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return storage.AccountState{UID: a.UID, Cursor: a.cursor, DisplayName: a.displayName, LastCheck: a.lastCheck}
}

func (a *Account) Targets() []kit.ChatTarget {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.targets)
}

func (a *Account) setTargets(t []kit.ChatTarget) {
	a.mu.Lock()
	a.targets = slices.Clone(t)
	a.mu.Unlock()
}

// Name is the cached display name, or "" when unknown.
func (a *Account) Name() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.displayName
}

func (a *Account) commit(st storage.AccountState) {
	a.mu.Lock()
	a.cursor = st.Cursor
	a.displayName = st.DisplayName
	a.lastCheck = st.LastCheck
	a.mu.Unlock()
}
