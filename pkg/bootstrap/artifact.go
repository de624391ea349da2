package bootstrap

import (
	"github.com/stagegate-labs/stagegate/pkg/canonicalize"
	"github.com/stagegate-labs/stagegate/pkg/capability"
	"github.com/stagegate-labs/stagegate/pkg/pipeline"
)

// Artifact is the frozen record of a successful provisioning run: the
// addresses of everything installed, the initiation policy in force, and the
// complete final grant set, sealed under a canonical content hash. It is
// immutable once published.
type Artifact struct {
	OrgName   string               `json:"org_name"`
	Mode      pipeline.Mode        `json:"mode"`
	Authority capability.Address   `json:"authority"`
	Pipeline  capability.Address   `json:"pipeline"`
	Voting    capability.Address   `json:"voting"`
	Escrow    []capability.Address `json:"escrow"`
	Admin     capability.Address   `json:"admin,omitempty"`

	// Initiation describes the stage-0 create policy as applied.
	Initiation string `json:"initiation"`

	// Grants is the organization's complete permission set at freeze time,
	// deterministically ordered.
	Grants []capability.Grant `json:"grants"`

	// Hash seals every other field. Computed over the canonical JSON form
	// of the artifact with Hash itself empty.
	Hash string `json:"hash"`
}

// Empty reports whether the artifact has been published.
func (a Artifact) Empty() bool { return a.Hash == "" }

// seal computes and stamps the artifact's content hash.
func (a *Artifact) seal() error {
	unsealed := *a
	unsealed.Hash = ""
	h, err := canonicalize.Hash(unsealed)
	if err != nil {
		return err
	}
	a.Hash = h
	return nil
}

// Verify recomputes the seal and reports whether it matches.
func (a Artifact) Verify() bool {
	unsealed := a
	unsealed.Hash = ""
	h, err := canonicalize.Hash(unsealed)
	return err == nil && h == a.Hash
}
