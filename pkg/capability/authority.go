package capability

import (
	"errors"
	"fmt"
	"sync"
)

// Actions protected on the Root Authority itself and on the resources it
// governs.
const (
	// ActionRootAdmin is full self-administration of the authority. Held
	// only by the authority on itself after provisioning.
	ActionRootAdmin ActionID = "authority.root.admin"

	// ActionApplyInstall is the scoped installation capability the
	// orchestrator holds temporarily: it authorizes applying installer
	// permission diffs, never broader administration.
	ActionApplyInstall ActionID = "authority.install.apply"

	// ActionExecute authorizes executing approved actions through the
	// authority (held by the admin plugin / pipeline engine per config).
	ActionExecute ActionID = "authority.execute"

	// ActionManagePermissions is narrow per-resource permission
	// administration, used by the cross-wiring micro-sequence.
	ActionManagePermissions ActionID = "capability.manage"
)

// ErrNotPermitted is returned when a caller lacks the capability a
// checked Authority call requires.
var ErrNotPermitted = errors.New("capability: caller not permitted")

// Authority is the Root Authority: the central permission-holding entity of
// a provisioned organization. All grant/revoke traffic flows through its
// capability checks; the ledger itself never decides who may write.
type Authority struct {
	mu     sync.Mutex
	addr   Address
	ledger *MemoryLedger
}

// NewAuthority creates the Root Authority and seeds its self-administration
// grant. Called exactly once per deployment, by the orchestrator.
func NewAuthority(ledger *MemoryLedger) (*Authority, error) {
	if ledger == nil {
		return nil, errors.New("capability: authority requires a ledger")
	}
	a := &Authority{
		addr:   NewAddress("authority"),
		ledger: ledger,
	}
	// The authority administers itself. This is the only grant written
	// without a capability check; everything after goes through Grant/Revoke.
	if err := ledger.Grant(Grant{Resource: a.addr, Principal: a.addr, Action: ActionRootAdmin}); err != nil {
		return nil, err
	}
	return a, nil
}

// Address returns the authority's identity.
func (a *Authority) Address() Address { return a.addr }

// Ledger exposes the authority's capability ledger for read-side consumers
// (the pipeline engine's create checks, tests).
func (a *Authority) Ledger() *MemoryLedger { return a.ledger }

// Grant applies a grant on behalf of caller. The caller must hold either the
// install-application capability on the authority, narrow permission
// management on the grant's resource, or be the authority itself.
func (a *Authority) Grant(caller Address, g Grant) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.mayAdminister(caller, g.Resource) {
		return fmt.Errorf("%w: %s may not grant %s", ErrNotPermitted, caller, g.Key())
	}
	return a.ledger.Grant(g)
}

// Revoke removes a grant on behalf of caller, under the same authorization
// rule as Grant.
func (a *Authority) Revoke(caller Address, g Grant) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.mayAdminister(caller, g.Resource) {
		return fmt.Errorf("%w: %s may not revoke %s", ErrNotPermitted, caller, g.Key())
	}
	return a.ledger.Revoke(g)
}

func (a *Authority) mayAdminister(caller, resource Address) bool {
	if caller == a.addr {
		return true
	}
	if a.ledger.Has(a.addr, caller, ActionRootAdmin, nil) {
		return true
	}
	if a.ledger.Has(a.addr, caller, ActionApplyInstall, nil) {
		return true
	}
	return a.ledger.Has(resource, caller, ActionManagePermissions, nil)
}
