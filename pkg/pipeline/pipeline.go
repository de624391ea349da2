// Package pipeline implements the staged approval pipeline: the proposal
// state machine that moves a proposal through sequential decision stages,
// and the configurator that builds stage descriptors and initiation grants
// for a deployment.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/stagegate-labs/stagegate/pkg/capability"
)

// Capability-protected actions on the pipeline engine.
const (
	// ActionCreate authorizes creating proposals.
	ActionCreate capability.ActionID = "pipeline.proposal.create"

	// ActionExecuteProposal authorizes executing an executable proposal.
	ActionExecuteProposal capability.ActionID = "pipeline.proposal.execute"
)

// ResultType is the kind of result a stage collects.
type ResultType int

const (
	// ResultApproval moves a default-blocking stage forward.
	ResultApproval ResultType = iota + 1
	// ResultVeto blocks a default-allowing stage.
	ResultVeto
)

func (r ResultType) String() string {
	switch r {
	case ResultApproval:
		return "approval"
	case ResultVeto:
		return "veto"
	default:
		return "unknown"
	}
}

// StageDescriptor declares one sequential phase of the pipeline. Exactly one
// of ApprovalThreshold/VetoThreshold is meaningfully nonzero per stage:
// veto-stage and approval-stage semantics are mutually exclusive.
type StageDescriptor struct {
	Participants      []capability.Address `json:"participants"`
	IsManual          bool                 `json:"is_manual"`
	AdvanceOnResult   bool                 `json:"advance_on_result"`
	ResultType        ResultType           `json:"result_type"`
	ApprovalThreshold uint32               `json:"approval_threshold"`
	VetoThreshold     uint32               `json:"veto_threshold"`
	MinAdvance        time.Duration        `json:"min_advance"`
	MaxAdvance        time.Duration        `json:"max_advance"`
	VoteWindow        time.Duration        `json:"vote_window"`
	Cancelable        bool                 `json:"cancelable"`
	Editable          bool                 `json:"editable"`
}

// hasParticipant reports whether addr participates in the stage.
func (s StageDescriptor) hasParticipant(addr capability.Address) bool {
	for _, p := range s.Participants {
		if p == addr {
			return true
		}
	}
	return false
}

// Status is a proposal lifecycle state.
type Status string

const (
	StatusActive     Status = "active"
	StatusExecutable Status = "executable"
	StatusExecuted   Status = "executed"
	StatusRejected   Status = "rejected"
)

// terminal reports whether no further transition is possible.
func (s Status) terminal() bool { return s == StatusExecuted || s == StatusRejected }

// Action is one opaque action a proposal carries for execution.
type Action struct {
	Target capability.Address `json:"target"`
	Method string             `json:"method"`
	Data   []byte             `json:"data,omitempty"`
}

// Proposal is the engine's record of one in-flight decision. CurrentStage is
// non-decreasing over the proposal's lifetime; Rejected and Executed are
// terminal.
type Proposal struct {
	ID             string
	Metadata       map[string]string
	Actions        []Action
	Creator        capability.Address
	CreatedAt      time.Time
	CurrentStage   int
	StageEnteredAt time.Time
	Status         Status

	results      map[int]map[capability.Address]ResultType
	subProposals map[string]string
}

// Body is an automated stage participant (e.g. the voting plugin). When the
// engine enters a non-manual stage, it asks each participating body to open
// a sub-proposal.
type Body interface {
	Address() capability.Address
	CreateSubProposal(ctx context.Context, parentID string, stage int, window time.Duration) (string, error)
}

// Engine errors.
var (
	ErrProposalNotFound = errors.New("pipeline: proposal not found")
	ErrTerminal         = errors.New("pipeline: proposal is terminal")
	ErrNotAdvanceable   = errors.New("pipeline: stage cannot advance yet")
	ErrNotParticipant   = errors.New("pipeline: caller is not a stage participant")
	ErrWrongStage       = errors.New("pipeline: result targets a stage that is not current")
	ErrWrongResultType  = errors.New("pipeline: result type does not match stage")
	ErrNotExecutable    = errors.New("pipeline: proposal is not executable")
	ErrNotCancelable    = errors.New("pipeline: stage does not allow cancellation")
	ErrNotEditable      = errors.New("pipeline: stage does not allow edits")
	ErrNoSubProposal    = errors.New("pipeline: no sub-proposal for stage and body")
)
