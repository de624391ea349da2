// Package bootstrap implements the one-shot provisioning orchestrator: it
// creates the Root Authority, installs the subsystems in dependency order
// under a temporary, scoped elevation, wires cross-component trust, applies
// the stage configurator's grants, and permanently surrenders its own
// privilege before publishing the deployment artifact.
package bootstrap

import (
	"errors"
	"fmt"
	"time"

	"github.com/stagegate-labs/stagegate/pkg/capability"
	"github.com/stagegate-labs/stagegate/pkg/eligibility"
	"github.com/stagegate-labs/stagegate/pkg/pipeline"
)

// Orchestrator failure taxonomy. All are permanent for the failing caller or
// orchestrator instance; mid-sequence failures abort atomically and may be
// retried from scratch.
var (
	// ErrUnauthorized: the caller is not the deploying principal.
	ErrUnauthorized = errors.New("bootstrap: caller is not the deployer")

	// ErrAlreadyDeployed: this orchestrator instance already provisioned.
	ErrAlreadyDeployed = errors.New("bootstrap: already provisioned")

	// ErrConfig: the deployment parameters are unusable; fix them and
	// construct a new orchestrator.
	ErrConfig = errors.New("bootstrap: invalid deployment parameters")
)

// Params is the frozen deployment configuration. It is read-only for the
// orchestrator's entire lifetime.
type Params struct {
	// OrgName labels the deployment artifact.
	OrgName string `yaml:"org_name"`

	// Mode selects stage-0 semantics: "veto" or "approve".
	Mode pipeline.Mode `yaml:"mode"`

	// Controller is the stage-0 participant: sole initiator and vetoer in
	// veto mode, sole approver in approve mode.
	Controller capability.Address `yaml:"controller"`

	// ProposerCredential gates initiation in approve mode: any principal
	// holding it may create proposals.
	ProposerCredential eligibility.CredentialID `yaml:"proposer_credential"`

	// Executors may execute executable proposals.
	Executors []capability.Address `yaml:"executors"`

	// ExitCooldown is the escrow exit queue delay.
	ExitCooldown time.Duration `yaml:"exit_cooldown"`

	// Stage windows. Stage 1 doubles as the sub-vote window.
	Stage0MinAdvance time.Duration `yaml:"stage0_min_advance"`
	Stage0MaxAdvance time.Duration `yaml:"stage0_max_advance"`
	Stage1MinAdvance time.Duration `yaml:"stage1_min_advance"`
	Stage1MaxAdvance time.Duration `yaml:"stage1_max_advance"`
	Stage1VoteWindow time.Duration `yaml:"stage1_vote_window"`
}

// Validate reports configuration failures. These are permanent until the
// configuration is corrected and a new orchestrator is constructed.
func (p Params) Validate() error {
	if p.OrgName == "" {
		return fmt.Errorf("%w: org name unset", ErrConfig)
	}
	if p.Controller == "" {
		return fmt.Errorf("%w: controller unset", ErrConfig)
	}
	switch p.Mode {
	case pipeline.ModeVeto:
	case pipeline.ModeApprove:
		if p.ProposerCredential == "" {
			return fmt.Errorf("%w: approve mode requires a proposer credential", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrConfig, p.Mode)
	}
	if p.Stage1VoteWindow <= 0 {
		return fmt.Errorf("%w: stage 1 vote window must be positive", ErrConfig)
	}
	return nil
}
