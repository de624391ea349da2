package escrow

import (
	"fmt"
	"sync"
	"time"

	"github.com/stagegate-labs/stagegate/pkg/capability"
)

// Capability-protected actions between escrow components.
const (
	// ActionRecordLock lets the token tracker record locked balances on the
	// balance ledger. Granted by the orchestrator's cross-wiring step, not
	// by the install diff (the tracker exists only after the ledger does).
	ActionRecordLock capability.ActionID = "escrow.ledger.record"

	// ActionReadBalance lets the curve read locked balances.
	ActionReadBalance capability.ActionID = "escrow.ledger.read"

	// ActionEnqueueExit lets the balance ledger enqueue withdrawals.
	ActionEnqueueExit capability.ActionID = "escrow.queue.enqueue"

	// ActionSyncOwnership lets the balance ledger release ownership tokens.
	// The counterpart of ActionRecordLock in the mutual trust pair.
	ActionSyncOwnership capability.ActionID = "escrow.tracker.sync"

	// ActionReadOwnership lets the delegation adapter read token ownership.
	ActionReadOwnership capability.ActionID = "escrow.tracker.read"

	// ActionReadPower lets the voting plugin query the curve.
	ActionReadPower capability.ActionID = "escrow.curve.read"
)

// BalanceLedger tracks locked balances per holder. It accepts state-changing
// calls only from principals the capability ledger trusts.
type BalanceLedger struct {
	addr    capability.Address
	caps    *capability.MemoryLedger
	mu      sync.RWMutex
	locked  map[capability.Address]uint64
	queue   *ExitQueue
	tracker *TokenTracker
}

// NewBalanceLedger creates an empty balance ledger bound to the capability
// ledger caps.
func NewBalanceLedger(caps *capability.MemoryLedger) *BalanceLedger {
	return &BalanceLedger{
		addr:   capability.NewAddress("balance-ledger"),
		caps:   caps,
		locked: make(map[capability.Address]uint64),
	}
}

// Address returns the ledger's instance address.
func (b *BalanceLedger) Address() capability.Address { return b.addr }

// wire connects the ledger to its exit queue and tracker. Called by the
// installer once all instances exist.
func (b *BalanceLedger) wire(queue *ExitQueue, tracker *TokenTracker) {
	b.queue = queue
	b.tracker = tracker
}

// Record adds amount to holder's locked balance. The caller must hold
// ActionRecordLock on the ledger (the tracker, after cross-wiring).
func (b *BalanceLedger) Record(caller, holder capability.Address, amount uint64) error {
	if !b.caps.Has(b.addr, caller, ActionRecordLock, nil) {
		return fmt.Errorf("%w: %s may not record locks", capability.ErrNotPermitted, caller)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.locked[holder] += amount
	return nil
}

// LockedAt returns holder's locked balance as of t. The caller must hold
// ActionReadBalance.
func (b *BalanceLedger) LockedAt(caller, holder capability.Address, _ time.Time) (uint64, error) {
	if !b.caps.Has(b.addr, caller, ActionReadBalance, nil) {
		return 0, fmt.Errorf("%w: %s may not read balances", capability.ErrNotPermitted, caller)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.locked[holder], nil
}

// BeginExit moves holder's full locked balance into the exit queue and
// releases the corresponding ownership tokens. Exercises both directions of
// the mutual ledger↔tracker trust.
func (b *BalanceLedger) BeginExit(holder capability.Address, at time.Time) error {
	b.mu.Lock()
	amount := b.locked[holder]
	if amount == 0 {
		b.mu.Unlock()
		return fmt.Errorf("escrow: %s has no locked balance", holder)
	}
	delete(b.locked, holder)
	b.mu.Unlock()

	if err := b.queue.Enqueue(b.addr, holder, amount, at); err != nil {
		return err
	}
	return b.tracker.Release(b.addr, holder)
}

// Curve derives voting power from locked balances. The concrete curve shape
// is out of scope; power equals the locked balance.
type Curve struct {
	addr   capability.Address
	caps   *capability.MemoryLedger
	ledger *BalanceLedger
}

// NewCurve creates a curve reading from ledger.
func NewCurve(caps *capability.MemoryLedger, ledger *BalanceLedger) *Curve {
	return &Curve{addr: capability.NewAddress("curve"), caps: caps, ledger: ledger}
}

// Address returns the curve's instance address.
func (c *Curve) Address() capability.Address { return c.addr }

// VotingPowerAt returns holder's voting power as of t. The caller must hold
// ActionReadPower on the curve; the curve in turn reads the balance ledger
// under its own install-diff grant.
func (c *Curve) VotingPowerAt(caller, holder capability.Address, t time.Time) (uint64, error) {
	if !c.caps.Has(c.addr, caller, ActionReadPower, nil) {
		return 0, fmt.Errorf("%w: %s may not read voting power", capability.ErrNotPermitted, caller)
	}
	return c.ledger.LockedAt(c.addr, holder, t)
}

// ExitQueue meters withdrawals with a cooldown. Fee accounting is out of
// scope; entries only remember who exits what, and when it unlocks.
type ExitQueue struct {
	addr     capability.Address
	caps     *capability.MemoryLedger
	cooldown time.Duration
	mu       sync.Mutex
	pending  map[capability.Address]exitTicket
}

type exitTicket struct {
	amount   uint64
	unlockAt time.Time
}

// NewExitQueue creates an exit queue with the given cooldown.
func NewExitQueue(caps *capability.MemoryLedger, cooldown time.Duration) *ExitQueue {
	return &ExitQueue{
		addr:     capability.NewAddress("exit-queue"),
		caps:     caps,
		cooldown: cooldown,
		pending:  make(map[capability.Address]exitTicket),
	}
}

// Address returns the queue's instance address.
func (q *ExitQueue) Address() capability.Address { return q.addr }

// Enqueue records a pending withdrawal. Only the balance ledger may call.
func (q *ExitQueue) Enqueue(caller, holder capability.Address, amount uint64, at time.Time) error {
	if !q.caps.Has(q.addr, caller, ActionEnqueueExit, nil) {
		return fmt.Errorf("%w: %s may not enqueue exits", capability.ErrNotPermitted, caller)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending[holder] = exitTicket{amount: amount, unlockAt: at.Add(q.cooldown)}
	return nil
}

// Pending returns holder's queued amount and unlock time.
func (q *ExitQueue) Pending(holder capability.Address) (uint64, time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.pending[holder]
	return t.amount, t.unlockAt, ok
}

// TokenTracker tracks ownership tokens minted against locked balances.
type TokenTracker struct {
	addr   capability.Address
	caps   *capability.MemoryLedger
	ledger *BalanceLedger
	mu     sync.Mutex
	nextID uint64
	owners map[uint64]capability.Address
}

// NewTokenTracker creates an empty tracker.
func NewTokenTracker(caps *capability.MemoryLedger) *TokenTracker {
	return &TokenTracker{
		addr:   capability.NewAddress("token-tracker"),
		caps:   caps,
		nextID: 1,
		owners: make(map[uint64]capability.Address),
	}
}

// Address returns the tracker's instance address.
func (t *TokenTracker) Address() capability.Address { return t.addr }

// wire connects the tracker to the balance ledger.
func (t *TokenTracker) wire(ledger *BalanceLedger) { t.ledger = ledger }

// Deposit mints an ownership token for owner and records the locked balance
// on the ledger. Fails until the orchestrator cross-wires the mutual
// tracker↔ledger trust.
func (t *TokenTracker) Deposit(owner capability.Address, amount uint64) (uint64, error) {
	if err := t.ledger.Record(t.addr, owner, amount); err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.owners[id] = owner
	return id, nil
}

// Release burns owner's ownership tokens. Only the balance ledger may call.
func (t *TokenTracker) Release(caller, owner capability.Address) error {
	if !t.caps.Has(t.addr, caller, ActionSyncOwnership, nil) {
		return fmt.Errorf("%w: %s may not release tokens", capability.ErrNotPermitted, caller)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, o := range t.owners {
		if o == owner {
			delete(t.owners, id)
		}
	}
	return nil
}

// OwnerOf returns the owner of token id. The caller must hold
// ActionReadOwnership (the delegation adapter).
func (t *TokenTracker) OwnerOf(caller capability.Address, id uint64) (capability.Address, error) {
	if !t.caps.Has(t.addr, caller, ActionReadOwnership, nil) {
		return "", fmt.Errorf("%w: %s may not read ownership", capability.ErrNotPermitted, caller)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	owner, ok := t.owners[id]
	if !ok {
		return "", fmt.Errorf("escrow: token %d not found", id)
	}
	return owner, nil
}

// DelegationAdapter maps holders to delegates for voting.
type DelegationAdapter struct {
	addr      capability.Address
	tracker   *TokenTracker
	mu        sync.RWMutex
	delegates map[capability.Address]capability.Address
}

// NewDelegationAdapter creates an empty adapter over tracker.
func NewDelegationAdapter(tracker *TokenTracker) *DelegationAdapter {
	return &DelegationAdapter{
		addr:      capability.NewAddress("delegation-adapter"),
		tracker:   tracker,
		delegates: make(map[capability.Address]capability.Address),
	}
}

// Address returns the adapter's instance address.
func (d *DelegationAdapter) Address() capability.Address { return d.addr }

// Delegate routes from's voting power to to.
func (d *DelegationAdapter) Delegate(from, to capability.Address) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delegates[from] = to
}

// DelegateOf resolves holder's effective voter (itself when undelegated).
func (d *DelegationAdapter) DelegateOf(holder capability.Address) capability.Address {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if to, ok := d.delegates[holder]; ok {
		return to
	}
	return holder
}
