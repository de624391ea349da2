// Package voting implements the weighted yes/no voting plugin. As the
// pipeline's stage-1 body it opens veto sub-votes with a zero support
// threshold, so any nonzero-weight "yes" vetoes the parent proposal.
package voting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stagegate-labs/stagegate/pkg/capability"
	"github.com/stagegate-labs/stagegate/pkg/pipeline"
)

// ratioBase scales support thresholds: thresholds are parts-per-million.
const ratioBase = 1_000_000

// PowerSource supplies voting power at a point in time (the escrow curve).
type PowerSource interface {
	VotingPowerAt(caller, holder capability.Address, t time.Time) (uint64, error)
}

// Reporter receives the plugin's stage results (the pipeline engine).
type Reporter interface {
	ReportResult(ctx context.Context, caller capability.Address, proposalID string, stage int, rt pipeline.ResultType, tryAdvance bool) error
}

// Plugin errors.
var (
	ErrVoteNotFound  = errors.New("voting: vote not found")
	ErrVoteClosed    = errors.New("voting: vote window closed")
	ErrVoteFinalized = errors.New("voting: vote already finalized")
	ErrAlreadyVoted  = errors.New("voting: voter already voted")
	ErrNoPower       = errors.New("voting: voter has no voting power")
)

// VoteStatus is a sub-vote lifecycle state.
type VoteStatus string

const (
	VoteOpen     VoteStatus = "open"
	VotePassed   VoteStatus = "passed"
	VoteDefeated VoteStatus = "defeated"
)

// Vote is one weighted yes/no sub-vote.
type Vote struct {
	ID          string
	ParentID    string
	ParentStage int
	Yes         uint64
	No          uint64
	EndsAt      time.Time
	Status      VoteStatus

	voters map[capability.Address]bool
}

// Plugin tallies weighted votes over escrow voting power.
type Plugin struct {
	addr       capability.Address
	power      PowerSource
	supportPPM uint32
	clock      func() time.Time
	logger     *slog.Logger

	mu       sync.Mutex
	reporter Reporter
	votes    map[string]*Vote
}

// NewPlugin creates a voting plugin. supportPPM is the support threshold in
// parts per million; zero means any nonzero "yes" weight passes.
func NewPlugin(power PowerSource, supportPPM uint32) *Plugin {
	return &Plugin{
		addr:       capability.NewAddress("voting"),
		power:      power,
		supportPPM: supportPPM,
		clock:      time.Now,
		logger:     slog.Default().With("component", "voting"),
		votes:      make(map[string]*Vote),
	}
}

// WithClock overrides the clock for deterministic testing.
func (p *Plugin) WithClock(clock func() time.Time) *Plugin {
	p.clock = clock
	return p
}

// SetReporter wires the pipeline engine the plugin reports vetoes to.
func (p *Plugin) SetReporter(r Reporter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reporter = r
}

// Address returns the plugin's instance address.
func (p *Plugin) Address() capability.Address { return p.addr }

// CreateSubProposal implements pipeline.Body: it opens a sub-vote bound to
// the parent proposal's stage.
func (p *Plugin) CreateSubProposal(_ context.Context, parentID string, stage int, window time.Duration) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	v := &Vote{
		ID:          uuid.New().String(),
		ParentID:    parentID,
		ParentStage: stage,
		EndsAt:      p.clock().Add(window),
		Status:      VoteOpen,
		voters:      make(map[capability.Address]bool),
	}
	p.votes[v.ID] = v
	return v.ID, nil
}

// Cast records voter's weighted vote. Weight is the voter's escrow voting
// power at cast time; zero-power voters are rejected.
func (p *Plugin) Cast(_ context.Context, voteID string, voter capability.Address, yes bool) error {
	now := p.clock()
	weight, err := p.power.VotingPowerAt(p.addr, voter, now)
	if err != nil {
		return fmt.Errorf("voting: power lookup for %s: %w", voter, err)
	}
	if weight == 0 {
		return fmt.Errorf("%w: %s", ErrNoPower, voter)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	v, ok := p.votes[voteID]
	if !ok {
		return ErrVoteNotFound
	}
	if v.Status != VoteOpen {
		return ErrVoteFinalized
	}
	if now.After(v.EndsAt) {
		return ErrVoteClosed
	}
	if v.voters[voter] {
		return fmt.Errorf("%w: %s", ErrAlreadyVoted, voter)
	}

	v.voters[voter] = true
	if yes {
		v.Yes += weight
	} else {
		v.No += weight
	}
	return nil
}

// Finalize closes the vote and, when it passed and the vote backs a parent
// stage, reports a veto to the pipeline engine.
func (p *Plugin) Finalize(ctx context.Context, voteID string) (bool, error) {
	p.mu.Lock()
	v, ok := p.votes[voteID]
	if !ok {
		p.mu.Unlock()
		return false, ErrVoteNotFound
	}
	if v.Status != VoteOpen {
		p.mu.Unlock()
		return false, ErrVoteFinalized
	}

	passed := passes(v.Yes, v.No, p.supportPPM)
	if passed {
		v.Status = VotePassed
	} else {
		v.Status = VoteDefeated
	}
	reporter := p.reporter
	parentID, parentStage := v.ParentID, v.ParentStage
	p.mu.Unlock()

	p.logger.InfoContext(ctx, "vote finalized",
		"vote", voteID, "yes", v.Yes, "no", v.No, "passed", passed)

	if passed && reporter != nil {
		if err := reporter.ReportResult(ctx, p.addr, parentID, parentStage, pipeline.ResultVeto, true); err != nil {
			return passed, fmt.Errorf("voting: report veto: %w", err)
		}
	}
	return passed, nil
}

// Vote returns a copy of the vote's state.
func (p *Plugin) Vote(voteID string) (Vote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	v, ok := p.votes[voteID]
	if !ok {
		return Vote{}, ErrVoteNotFound
	}
	return *v, nil
}

// passes applies the support threshold: yes/(yes+no) must strictly exceed
// supportPPM/ratioBase. A zero threshold passes on any nonzero yes weight.
// Cross-multiplication runs in 128-bit so large locked balances cannot wrap
// the comparison.
func passes(yes, no uint64, supportPPM uint32) bool {
	lhsHi, lhsLo := bits.Mul64(yes, ratioBase)

	total, carry := bits.Add64(yes, no, 0)
	rhsHi, rhsLo := bits.Mul64(uint64(supportPPM), total)
	rhsHi += uint64(supportPPM) * carry

	return lhsHi > rhsHi || (lhsHi == rhsHi && lhsLo > rhsLo)
}
