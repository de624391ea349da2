package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stagegate-labs/stagegate/pkg/capability"
)

// Engine executes proposals against a fixed stage configuration. State-
// changing calls are serialized per engine, mirroring the host environment's
// single-threaded-per-call guarantee.
type Engine struct {
	addr   capability.Address
	caps   *capability.MemoryLedger
	stages []StageDescriptor
	clock  func() time.Time
	logger *slog.Logger

	mu        sync.Mutex
	bodies    map[capability.Address]Body
	proposals map[string]*Proposal
}

// NewEngine creates an engine over the given capability ledger and stages.
func NewEngine(caps *capability.MemoryLedger, stages []StageDescriptor) *Engine {
	return &Engine{
		addr:      capability.NewAddress("pipeline"),
		caps:      caps,
		stages:    stages,
		clock:     time.Now,
		logger:    slog.Default().With("component", "pipeline"),
		bodies:    make(map[capability.Address]Body),
		proposals: make(map[string]*Proposal),
	}
}

// WithClock overrides the clock for deterministic testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// Address returns the engine's instance address.
func (e *Engine) Address() capability.Address { return e.addr }

// Stages returns the engine's stage configuration.
func (e *Engine) Stages() []StageDescriptor { return e.stages }

// RegisterBody makes an automated participant available for sub-proposals.
func (e *Engine) RegisterBody(b Body) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bodies[b.Address()] = b
}

// CreateProposal starts a proposal at stage 0. The caller must hold
// ActionCreate on the engine; conditional grants see the caller as the
// evaluation principal.
func (e *Engine) CreateProposal(ctx context.Context, caller capability.Address, metadata map[string]string, actions []Action) (string, error) {
	if !e.caps.Has(e.addr, caller, ActionCreate, capability.Context{"principal": string(caller)}) {
		return "", fmt.Errorf("%w: %s may not create proposals", capability.ErrNotPermitted, caller)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock()
	p := &Proposal{
		ID:           uuid.New().String(),
		Metadata:     metadata,
		Actions:      actions,
		Creator:      caller,
		CreatedAt:    now,
		Status:       StatusActive,
		results:      make(map[int]map[capability.Address]ResultType),
		subProposals: make(map[string]string),
	}
	e.proposals[p.ID] = p
	if err := e.enterStage(ctx, p, 0); err != nil {
		delete(e.proposals, p.ID)
		return "", err
	}

	e.logger.InfoContext(ctx, "proposal created", "proposal", p.ID, "creator", caller)
	return p.ID, nil
}

// enterStage moves p into stage idx and opens sub-proposals with every
// registered body participating in a non-manual stage.
func (e *Engine) enterStage(ctx context.Context, p *Proposal, idx int) error {
	p.CurrentStage = idx
	p.StageEnteredAt = e.clock()

	st := e.stages[idx]
	if st.IsManual {
		return nil
	}
	for _, participant := range st.Participants {
		body, ok := e.bodies[participant]
		if !ok {
			continue
		}
		subID, err := body.CreateSubProposal(ctx, p.ID, idx, st.VoteWindow)
		if err != nil {
			return fmt.Errorf("pipeline: sub-proposal at stage %d: %w", idx, err)
		}
		p.subProposals[subKey(idx, participant)] = subID
	}
	return nil
}

// ReportResult records a participant's result for the proposal's current
// stage. With tryAdvance the engine attempts to advance immediately,
// swallowing only the not-ready condition.
func (e *Engine) ReportResult(ctx context.Context, caller capability.Address, proposalID string, stage int, rt ResultType, tryAdvance bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.proposals[proposalID]
	if !ok {
		return ErrProposalNotFound
	}
	if p.Status.terminal() {
		return ErrTerminal
	}
	if stage != p.CurrentStage {
		return fmt.Errorf("%w: reported %d, current %d", ErrWrongStage, stage, p.CurrentStage)
	}

	st := e.stages[stage]
	if !st.hasParticipant(caller) {
		return fmt.Errorf("%w: %s at stage %d", ErrNotParticipant, caller, stage)
	}
	if rt != st.ResultType {
		return fmt.Errorf("%w: stage %d collects %s", ErrWrongResultType, stage, st.ResultType)
	}

	if p.results[stage] == nil {
		p.results[stage] = make(map[capability.Address]ResultType)
	}
	p.results[stage][caller] = rt
	e.logger.InfoContext(ctx, "result reported",
		"proposal", proposalID, "stage", stage, "participant", caller, "result", rt.String())

	if tryAdvance && st.AdvanceOnResult {
		if err := e.advanceLocked(ctx, p); err != nil && !isNotReady(err) {
			return err
		}
	}
	return nil
}

// Advance attempts to move the proposal past its current stage.
func (e *Engine) Advance(ctx context.Context, proposalID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.proposals[proposalID]
	if !ok {
		return ErrProposalNotFound
	}
	return e.advanceLocked(ctx, p)
}

func (e *Engine) advanceLocked(ctx context.Context, p *Proposal) error {
	if p.Status.terminal() {
		return ErrTerminal
	}
	if p.Status != StatusActive {
		return ErrNotAdvanceable
	}

	st := e.stages[p.CurrentStage]
	elapsed := e.clock().Sub(p.StageEnteredAt)
	approvals, vetoes := tally(p.results[p.CurrentStage])

	switch {
	case st.VetoThreshold > 0:
		// Default-allow stage: any veto crossing the threshold rejects,
		// regardless of how the remaining weight leaned.
		if vetoes >= st.VetoThreshold {
			e.reject(ctx, p, "vetoed")
			return nil
		}
		if st.MaxAdvance > 0 && elapsed > st.MaxAdvance {
			e.reject(ctx, p, "advance window expired")
			return nil
		}
		// The stage cannot be left while its sub-vote window is still open:
		// a veto cast inside the window must always be able to land.
		if elapsed < st.MinAdvance || elapsed < st.VoteWindow {
			return ErrNotAdvanceable
		}
	case st.ApprovalThreshold > 0:
		// Default-block stage: advancing needs approvals inside the window.
		if st.MaxAdvance > 0 && elapsed > st.MaxAdvance {
			e.reject(ctx, p, "approval window expired")
			return nil
		}
		if approvals < st.ApprovalThreshold || elapsed < st.MinAdvance {
			return ErrNotAdvanceable
		}
	default:
		return fmt.Errorf("pipeline: stage %d has no meaningful threshold", p.CurrentStage)
	}

	if p.CurrentStage == len(e.stages)-1 {
		p.Status = StatusExecutable
		e.logger.InfoContext(ctx, "proposal executable", "proposal", p.ID)
		return nil
	}
	return e.enterStage(ctx, p, p.CurrentStage+1)
}

// Execute runs an executable proposal. Terminal and idempotent-guarded:
// a second call fails.
func (e *Engine) Execute(ctx context.Context, caller capability.Address, proposalID string) error {
	if !e.caps.Has(e.addr, caller, ActionExecuteProposal, nil) {
		return fmt.Errorf("%w: %s may not execute proposals", capability.ErrNotPermitted, caller)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.proposals[proposalID]
	if !ok {
		return ErrProposalNotFound
	}
	if p.Status.terminal() {
		return ErrTerminal
	}
	if p.Status != StatusExecutable {
		return ErrNotExecutable
	}

	p.Status = StatusExecuted
	e.logger.InfoContext(ctx, "proposal executed", "proposal", proposalID, "actions", len(p.Actions))
	return nil
}

// Cancel rejects an active proposal when the current stage allows it and
// the caller created the proposal.
func (e *Engine) Cancel(ctx context.Context, caller capability.Address, proposalID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.proposals[proposalID]
	if !ok {
		return ErrProposalNotFound
	}
	if p.Status.terminal() {
		return ErrTerminal
	}
	if !e.stages[p.CurrentStage].Cancelable || caller != p.Creator {
		return ErrNotCancelable
	}
	e.reject(ctx, p, "canceled by creator")
	return nil
}

// UpdateMetadata edits an active proposal's metadata when the current stage
// allows it and the caller created the proposal.
func (e *Engine) UpdateMetadata(caller capability.Address, proposalID string, metadata map[string]string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.proposals[proposalID]
	if !ok {
		return ErrProposalNotFound
	}
	if p.Status.terminal() {
		return ErrTerminal
	}
	if !e.stages[p.CurrentStage].Editable || caller != p.Creator {
		return ErrNotEditable
	}
	p.Metadata = metadata
	return nil
}

// SubProposalID returns the sub-proposal a body opened for a stage.
func (e *Engine) SubProposalID(proposalID string, stage int, body capability.Address) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.proposals[proposalID]
	if !ok {
		return "", ErrProposalNotFound
	}
	id, ok := p.subProposals[subKey(stage, body)]
	if !ok {
		return "", ErrNoSubProposal
	}
	return id, nil
}

// Proposal returns a copy of the proposal's public state.
func (e *Engine) Proposal(proposalID string) (Proposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.proposals[proposalID]
	if !ok {
		return Proposal{}, ErrProposalNotFound
	}
	return *p, nil
}

func (e *Engine) reject(ctx context.Context, p *Proposal, reason string) {
	p.Status = StatusRejected
	e.logger.InfoContext(ctx, "proposal rejected", "proposal", p.ID, "stage", p.CurrentStage, "reason", reason)
}

func tally(results map[capability.Address]ResultType) (approvals, vetoes uint32) {
	for _, rt := range results {
		switch rt {
		case ResultApproval:
			approvals++
		case ResultVeto:
			vetoes++
		}
	}
	return approvals, vetoes
}

func isNotReady(err error) bool {
	return errors.Is(err, ErrNotAdvanceable)
}

func subKey(stage int, body capability.Address) string {
	return fmt.Sprintf("%d#%s", stage, body)
}
