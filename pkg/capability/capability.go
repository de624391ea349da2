// Package capability implements the permission ledger at the heart of a
// provisioned organization: a keyed relation
// (resource, principal, action, optional condition) → granted.
//
// The ledger is the only shared mutable state in the provisioning core.
// Grants are data; who may apply them is decided by the Authority, not here.
package capability

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Address identifies a principal or a resource. Freshly installed component
// instances are minted as "kind:uuid"; external principals may be any opaque
// string (e.g. a hex account address).
type Address string

// AnyPrincipal is the wildcard principal used by condition-gated grants:
// paired with a condition it means "anyone who passes the predicate".
const AnyPrincipal Address = "principal:any"

// NewAddress mints a fresh instance address of the given kind.
func NewAddress(kind string) Address {
	return Address(kind + ":" + uuid.New().String())
}

// ActionID names a capability-protected action on a resource.
type ActionID string

// ConditionRef references an externally-evaluated eligibility predicate.
// The empty ref means the grant is unconditional.
type ConditionRef string

// Unconditional is the zero condition.
const Unconditional ConditionRef = ""

// Grant is one ledger entry. A grant with a condition and one without, over
// the same (resource, principal, action), are distinct entries; presence of
// either is sufficient for authorization.
type Grant struct {
	Resource  Address      `json:"resource"`
	Principal Address      `json:"principal"`
	Action    ActionID     `json:"action"`
	Condition ConditionRef `json:"condition,omitempty"`
}

// Key returns the canonical ledger key for the grant, in the form
// resource#action@principal[?condition].
func (g Grant) Key() string {
	key := fmt.Sprintf("%s#%s@%s", g.Resource, g.Action, g.Principal)
	if g.Condition != Unconditional {
		key += "?" + string(g.Condition)
	}
	return key
}

func (g Grant) String() string { return g.Key() }

// Context carries evaluation inputs for conditional grants (e.g. the calling
// principal under "principal"). Nil is a valid empty context.
type Context map[string]any

// Evaluator decides conditional grants. Implementations live outside this
// package (role-credential registries, expression engines); the ledger only
// holds the reference.
type Evaluator interface {
	// IsEligible reports whether principal satisfies the predicate behind ref.
	// Evaluation failures must deny (fail-closed).
	IsEligible(principal Address, ref ConditionRef, evalCtx Context) (bool, error)
}

// Ledger is the capability relation consumed by the orchestrator and the
// pipeline engine.
type Ledger interface {
	// Grant records an entry. Granting an existing entry is idempotent.
	Grant(g Grant) error

	// Revoke removes the exact entry (condition included in the key).
	// Revoking an absent entry returns ErrGrantNotFound.
	Revoke(g Grant) error

	// Has reports whether principal may perform action on resource, through
	// a direct unconditional grant, a satisfied conditional grant, or either
	// form of wildcard grant.
	Has(resource, principal Address, action ActionID, evalCtx Context) bool
}

// sortKey orders grants deterministically for snapshots and artifacts.
func sortKey(g Grant) string {
	return strings.Join([]string{string(g.Resource), string(g.Action), string(g.Principal), string(g.Condition)}, "\x00")
}
