// Package eligibility implements the role-credential registry and the
// condition evaluators behind condition-gated capability grants.
//
// A condition reference has the form "<scheme>:<body>". Two schemes are
// supported: "credential:<id>" is a registry lookup, "cel:<expr>" evaluates
// a CEL expression against the call context. Unknown schemes deny.
package eligibility

import (
	"sync"

	"github.com/stagegate-labs/stagegate/pkg/capability"
)

// CredentialID names a role credential in the registry.
type CredentialID string

// Registry is the in-memory role-credential registry. Production deployments
// would back this with an external identity system; the interface consumed by
// the ledger is unchanged either way.
type Registry struct {
	mu      sync.RWMutex
	holders map[CredentialID]map[capability.Address]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{holders: make(map[CredentialID]map[capability.Address]struct{})}
}

// Issue records that principal holds credential. Idempotent.
func (r *Registry) Issue(principal capability.Address, credential CredentialID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.holders[credential] == nil {
		r.holders[credential] = make(map[capability.Address]struct{})
	}
	r.holders[credential][principal] = struct{}{}
}

// Retract removes a credential from principal.
func (r *Registry) Retract(principal capability.Address, credential CredentialID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.holders[credential], principal)
}

// IsEligible reports whether principal currently holds credential.
func (r *Registry) IsEligible(principal capability.Address, credential CredentialID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.holders[credential][principal]
	return ok
}
