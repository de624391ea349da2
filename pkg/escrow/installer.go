package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/stagegate-labs/stagegate/pkg/capability"
	"github.com/stagegate-labs/stagegate/pkg/installer"
)

// Config parameterizes the escrow subsystem install.
type Config struct {
	// ExitCooldown is how long a withdrawal waits in the exit queue.
	ExitCooldown time.Duration
}

// Subsystem holds the live escrow component instances after install.
type Subsystem struct {
	Clock   *Clock
	Ledger  *BalanceLedger
	Curve   *Curve
	Queue   *ExitQueue
	Tracker *TokenTracker
	Adapter *DelegationAdapter
}

// Installer installs the voting-power subsystem. The balance ledger is the
// primary instance; clock, curve, exit queue, token tracker and delegation
// adapter are auxiliary.
type Installer struct {
	cfg       Config
	now       func() time.Time
	subsystem *Subsystem
}

// NewInstaller creates an escrow installer.
func NewInstaller(cfg Config) *Installer {
	return &Installer{cfg: cfg, now: time.Now}
}

// WithNow overrides the installed clock's time source.
func (i *Installer) WithNow(now func() time.Time) *Installer {
	i.now = now
	return i
}

// Subsystem returns the live instances. Nil before Install.
func (i *Installer) Subsystem() *Subsystem { return i.subsystem }

// Install allocates the subsystem and computes its internal trust diff.
//
// The mutual ledger↔tracker trust (ActionRecordLock / ActionSyncOwnership)
// is deliberately absent from the diff: it is cross-wired by the
// orchestrator under a narrow, immediately revoked elevation.
func (i *Installer) Install(_ context.Context, authority *capability.Authority) (installer.Result, error) {
	caps := authority.Ledger()

	clock := NewClock().WithNow(i.now)
	ledger := NewBalanceLedger(caps)
	curve := NewCurve(caps, ledger)
	queue := NewExitQueue(caps, i.cfg.ExitCooldown)
	tracker := NewTokenTracker(caps)
	adapter := NewDelegationAdapter(tracker)

	ledger.wire(queue, tracker)
	tracker.wire(ledger)

	i.subsystem = &Subsystem{
		Clock:   clock,
		Ledger:  ledger,
		Curve:   curve,
		Queue:   queue,
		Tracker: tracker,
		Adapter: adapter,
	}

	return installer.Result{
		Primary: ledger.Address(),
		Aux: []capability.Address{
			clock.Address(),
			curve.Address(),
			queue.Address(),
			tracker.Address(),
			adapter.Address(),
		},
		Diff: structuralDiff(ledger.Address(), curve.Address(), queue.Address(), tracker.Address(), adapter.Address()),
	}, nil
}

// Uninstall returns the exact structural inverse of the install diff for the
// same instance set.
func (i *Installer) Uninstall(_ context.Context, _ *capability.Authority, instances []capability.Address) (installer.Diff, error) {
	if len(instances) != 6 {
		return nil, fmt.Errorf("escrow: expected 6 instances, got %d", len(instances))
	}
	// Instance order matches Result.Instances():
	// ledger, clock, curve, queue, tracker, adapter.
	ledger, curve, queue, tracker, adapter := instances[0], instances[2], instances[3], instances[4], instances[5]
	return structuralDiff(ledger, curve, queue, tracker, adapter).Invert(), nil
}

func structuralDiff(ledger, curve, queue, tracker, adapter capability.Address) installer.Diff {
	return installer.Diff{
		// The curve reads locked balances.
		installer.GrantEntry(capability.Grant{Resource: ledger, Principal: curve, Action: ActionReadBalance}),
		// The balance ledger enqueues withdrawals.
		installer.GrantEntry(capability.Grant{Resource: queue, Principal: ledger, Action: ActionEnqueueExit}),
		// The delegation adapter reads token ownership.
		installer.GrantEntry(capability.Grant{Resource: tracker, Principal: adapter, Action: ActionReadOwnership}),
	}
}

// CrossTrust returns the mutual ledger↔tracker grants the orchestrator
// applies during its scoped cross-wiring micro-sequence.
func (s *Subsystem) CrossTrust() []capability.Grant {
	return []capability.Grant{
		{Resource: s.Ledger.Address(), Principal: s.Tracker.Address(), Action: ActionRecordLock},
		{Resource: s.Tracker.Address(), Principal: s.Ledger.Address(), Action: ActionSyncOwnership},
	}
}
