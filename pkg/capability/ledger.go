package capability

import (
	"errors"
	"sort"
	"sync"
)

// ErrGrantNotFound is returned by Revoke when the exact entry is absent.
var ErrGrantNotFound = errors.New("capability: grant not found")

// MemoryLedger is the in-memory capability relation. The host execution
// environment serializes state-changing calls against a given authority;
// the mutex mirrors that guarantee for in-process use.
//
// Snapshot/Restore emulate the host's atomic-call semantics: the orchestrator
// snapshots before provisioning and restores on any mid-sequence failure, so
// a failed run leaves no partial state.
type MemoryLedger struct {
	mu        sync.RWMutex
	entries   map[string]Grant
	evaluator Evaluator
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]Grant)}
}

// WithEvaluator sets the condition evaluator. Conditional grants deny until
// one is registered (fail-closed).
func (l *MemoryLedger) WithEvaluator(ev Evaluator) *MemoryLedger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evaluator = ev
	return l
}

// Grant records an entry. Idempotent.
func (l *MemoryLedger) Grant(g Grant) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[g.Key()] = g
	return nil
}

// Revoke removes the exact entry, condition included.
func (l *MemoryLedger) Revoke(g Grant) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := g.Key()
	if _, ok := l.entries[key]; !ok {
		return ErrGrantNotFound
	}
	delete(l.entries, key)
	return nil
}

// Has reports whether principal may perform action on resource. It checks,
// in order: the direct unconditional entry, the wildcard unconditional entry,
// then every conditional entry for the principal or the wildcard, evaluating
// each condition fail-closed.
func (l *MemoryLedger) Has(resource, principal Address, action ActionID, evalCtx Context) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	direct := Grant{Resource: resource, Principal: principal, Action: action}
	if _, ok := l.entries[direct.Key()]; ok {
		return true
	}
	wild := Grant{Resource: resource, Principal: AnyPrincipal, Action: action}
	if _, ok := l.entries[wild.Key()]; ok {
		return true
	}

	for _, g := range l.entries {
		if g.Resource != resource || g.Action != action || g.Condition == Unconditional {
			continue
		}
		if g.Principal != principal && g.Principal != AnyPrincipal {
			continue
		}
		if l.evaluator == nil {
			continue
		}
		ok, err := l.evaluator.IsEligible(principal, g.Condition, evalCtx)
		if err != nil {
			continue // fail-closed
		}
		if ok {
			return true
		}
	}
	return false
}

// GrantsFor returns every entry naming principal, sorted deterministically.
// Wildcard entries are not attributed to any concrete principal.
func (l *MemoryLedger) GrantsFor(principal Address) []Grant {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Grant
	for _, g := range l.entries {
		if g.Principal == principal {
			out = append(out, g)
		}
	}
	sortGrants(out)
	return out
}

// Entries returns every ledger entry, sorted deterministically.
func (l *MemoryLedger) Entries() []Grant {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Grant, 0, len(l.entries))
	for _, g := range l.entries {
		out = append(out, g)
	}
	sortGrants(out)
	return out
}

// Len returns the number of entries.
func (l *MemoryLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Snapshot captures the current entry set.
func (l *MemoryLedger) Snapshot() map[string]Grant {
	l.mu.RLock()
	defer l.mu.RUnlock()

	snap := make(map[string]Grant, len(l.entries))
	for k, v := range l.entries {
		snap[k] = v
	}
	return snap
}

// Restore replaces the entry set with a previously captured snapshot.
func (l *MemoryLedger) Restore(snap map[string]Grant) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = make(map[string]Grant, len(snap))
	for k, v := range snap {
		l.entries[k] = v
	}
}

func sortGrants(gs []Grant) {
	sort.Slice(gs, func(i, j int) bool { return sortKey(gs[i]) < sortKey(gs[j]) })
}
