package bootstrap

import (
	"github.com/stagegate-labs/stagegate/pkg/capability"
)

// elevation is a temporary capability held by a principal during one
// provisioning step. Drop is idempotent so it can run deferred on every exit
// path and explicitly at the end of the happy path; either way the grant is
// gone before the orchestrator returns.
type elevation struct {
	authority *capability.Authority
	grant     capability.Grant
	dropped   bool
}

// elevate grants g through the authority on behalf of granter and returns the
// guard that revokes it.
func elevate(authority *capability.Authority, granter capability.Address, g capability.Grant) (*elevation, error) {
	if err := authority.Grant(granter, g); err != nil {
		return nil, err
	}
	return &elevation{authority: authority, grant: g}, nil
}

// Drop revokes the elevation. Safe to call more than once.
func (e *elevation) Drop(revoker capability.Address) error {
	if e == nil || e.dropped {
		return nil
	}
	if err := e.authority.Revoke(revoker, e.grant); err != nil {
		return err
	}
	e.dropped = true
	return nil
}
