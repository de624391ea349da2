// Package installer defines the component installer contract: each
// installable subsystem computes the capability diff its internal trust
// requires, and only the orchestrator applies it.
package installer

import (
	"context"

	"github.com/stagegate-labs/stagegate/pkg/capability"
)

// Op is a diff operation.
type Op string

const (
	OpGrant  Op = "grant"
	OpRevoke Op = "revoke"
)

// Entry is one diff element: an operation over a grant tuple.
type Entry struct {
	Op    Op               `json:"op"`
	Grant capability.Grant `json:"grant"`
}

// Diff is an ordered list of capability mutations. Installers return diffs;
// they never touch the ledger themselves.
type Diff []Entry

// Invert returns the exact structural inverse of d: same tuples, same order,
// each operation flipped. Uninstall diffs must equal Invert(install diff)
// for the same instance set.
func (d Diff) Invert() Diff {
	inv := make(Diff, len(d))
	for i, e := range d {
		flipped := e
		switch e.Op {
		case OpGrant:
			flipped.Op = OpRevoke
		case OpRevoke:
			flipped.Op = OpGrant
		}
		inv[i] = flipped
	}
	return inv
}

// GrantEntry builds a grant entry.
func GrantEntry(g capability.Grant) Entry {
	return Entry{Op: OpGrant, Grant: g}
}

// RevokeEntry builds a revoke entry.
func RevokeEntry(g capability.Grant) Entry {
	return Entry{Op: OpRevoke, Grant: g}
}

// Result is the output of a successful install: the subsystem's primary
// instance, any auxiliary instances, the trust diff to apply, and side
// artifacts other components may reuse (e.g. an eligibility condition ref
// emitted by the voting plugin installer).
type Result struct {
	Primary   capability.Address
	Aux       []capability.Address
	Diff      Diff
	Artifacts map[string]string
}

// Instances returns the primary followed by the auxiliary addresses.
func (r Result) Instances() []capability.Address {
	out := make([]capability.Address, 0, 1+len(r.Aux))
	out = append(out, r.Primary)
	return append(out, r.Aux...)
}

// Installer is the contract every installable subsystem implements.
//
// Install must be invoked exactly once per subsystem instance; re-invocation
// is rejected by the orchestrator's idempotency guard, not here. Uninstall
// must return the exact structural inverse of the diff Install produced for
// the same instances.
type Installer interface {
	Install(ctx context.Context, authority *capability.Authority) (Result, error)
	Uninstall(ctx context.Context, authority *capability.Authority, instances []capability.Address) (Diff, error)
}
