package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/stagegate-labs/stagegate/pkg/capability"
	"github.com/stagegate-labs/stagegate/pkg/installer"
)

// Mode is the deployment's binary policy switch for stage 0.
type Mode string

const (
	// ModeVeto: stage 0 default-allows; the controller is both the sole
	// initiating principal and the sole veto-capable participant.
	ModeVeto Mode = "veto"

	// ModeApprove: stage 0 default-blocks; initiation is condition-gated
	// and the controller is the sole participant whose approval advances.
	ModeApprove Mode = "approve"
)

// ErrBadStageConfig reports an unusable configurator input.
var ErrBadStageConfig = errors.New("pipeline: bad stage configuration")

// StageConfig is the declarative input the configurator translates into
// stage descriptors and initiation grants.
type StageConfig struct {
	Mode       Mode
	Controller capability.Address
	VotingBody capability.Address

	// ProposerCondition gates initiation in approve mode. Typically the
	// eligibility condition the voting plugin installer emitted.
	ProposerCondition capability.ConditionRef

	Stage0MinAdvance time.Duration
	Stage0MaxAdvance time.Duration
	Stage0VoteWindow time.Duration

	Stage1MinAdvance time.Duration
	Stage1MaxAdvance time.Duration
	Stage1VoteWindow time.Duration
}

func (c StageConfig) validate() error {
	if c.Controller == "" {
		return fmt.Errorf("%w: controller unset", ErrBadStageConfig)
	}
	if c.VotingBody == "" {
		return fmt.Errorf("%w: voting body unset", ErrBadStageConfig)
	}
	switch c.Mode {
	case ModeVeto:
	case ModeApprove:
		if c.ProposerCondition == capability.Unconditional {
			return fmt.Errorf("%w: approve mode requires a proposer condition", ErrBadStageConfig)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrBadStageConfig, c.Mode)
	}
	return nil
}

// BuildStages translates the config into the two-stage descriptor list.
//
// Stage 1 is always an automatic veto stage whose single participant is the
// voting plugin: the engine opens a sub-vote there, and any nonzero-weight
// "yes" crosses the zero support threshold and vetoes the parent. Single-
// voter veto is intended behavior, not a defect.
func BuildStages(cfg StageConfig) ([]StageDescriptor, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	stage0 := StageDescriptor{
		Participants:    []capability.Address{cfg.Controller},
		IsManual:        true,
		AdvanceOnResult: true,
		MinAdvance:      cfg.Stage0MinAdvance,
		MaxAdvance:      cfg.Stage0MaxAdvance,
		VoteWindow:      cfg.Stage0VoteWindow,
		Cancelable:      true,
		Editable:        true,
	}
	switch cfg.Mode {
	case ModeVeto:
		stage0.ResultType = ResultVeto
		stage0.VetoThreshold = 1
		stage0.ApprovalThreshold = 0
	case ModeApprove:
		stage0.ResultType = ResultApproval
		stage0.ApprovalThreshold = 1
		stage0.VetoThreshold = 0
	}

	stage1 := StageDescriptor{
		Participants:      []capability.Address{cfg.VotingBody},
		IsManual:          false,
		AdvanceOnResult:   true,
		ResultType:        ResultVeto,
		VetoThreshold:     1,
		ApprovalThreshold: 0,
		MinAdvance:        cfg.Stage1MinAdvance,
		MaxAdvance:        cfg.Stage1MaxAdvance,
		VoteWindow:        cfg.Stage1VoteWindow,
	}

	return []StageDescriptor{stage0, stage1}, nil
}

// InitiationPolicy is the pluggable authorization strategy for the stage 0
// create capability. A tagged variant, not two divergent code paths: a
// single routine consumes it.
type InitiationPolicy interface {
	isInitiationPolicy()
}

// DirectGrant authorizes exactly one fixed principal to create proposals.
type DirectGrant struct {
	Principal capability.Address
}

func (DirectGrant) isInitiationPolicy() {}

// ConditionGated authorizes any principal satisfying an externally-verified
// eligibility predicate.
type ConditionGated struct {
	Condition capability.ConditionRef
}

func (ConditionGated) isInitiationPolicy() {}

// InitiationPolicyFor selects the policy variant for the config.
func InitiationPolicyFor(cfg StageConfig) (InitiationPolicy, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	switch cfg.Mode {
	case ModeApprove:
		return ConditionGated{Condition: cfg.ProposerCondition}, nil
	default:
		return DirectGrant{Principal: cfg.Controller}, nil
	}
}

// InitiationDiff produces the capability mutations implementing the policy
// on engine: revoke the installer's default open grant, then install the
// narrowed entry the variant describes.
func InitiationDiff(engine capability.Address, policy InitiationPolicy) (installer.Diff, error) {
	diff := installer.Diff{
		installer.RevokeEntry(DefaultCreateGrant(engine)),
	}
	switch p := policy.(type) {
	case DirectGrant:
		diff = append(diff, installer.GrantEntry(capability.Grant{
			Resource: engine, Principal: p.Principal, Action: ActionCreate,
		}))
	case ConditionGated:
		diff = append(diff, installer.GrantEntry(capability.Grant{
			Resource: engine, Principal: capability.AnyPrincipal, Action: ActionCreate, Condition: p.Condition,
		}))
	default:
		return nil, fmt.Errorf("%w: unknown initiation policy %T", ErrBadStageConfig, policy)
	}
	return diff, nil
}
