package voting

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagegate-labs/stagegate/pkg/capability"
	"github.com/stagegate-labs/stagegate/pkg/escrow"
	"github.com/stagegate-labs/stagegate/pkg/pipeline"
)

type fakeClock struct{ t time.Time }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

// stubPower hands out fixed weights without the escrow subsystem.
type stubPower struct {
	weights map[capability.Address]uint64
}

func (s *stubPower) VotingPowerAt(_, holder capability.Address, _ time.Time) (uint64, error) {
	return s.weights[holder], nil
}

func newPlugin(weights map[capability.Address]uint64) (*Plugin, *fakeClock) {
	clk := newFakeClock()
	p := NewPlugin(&stubPower{weights: weights}, 0).WithClock(clk.Now)
	return p, clk
}

func openVote(t *testing.T, p *Plugin) string {
	t.Helper()
	id, err := p.CreateSubProposal(context.Background(), "parent-1", 1, time.Hour)
	require.NoError(t, err)
	return id
}

func TestCastAccumulatesWeight(t *testing.T) {
	p, _ := newPlugin(map[capability.Address]uint64{"a": 10, "b": 5})
	id := openVote(t, p)

	require.NoError(t, p.Cast(context.Background(), id, "a", true))
	require.NoError(t, p.Cast(context.Background(), id, "b", false))

	v, err := p.Vote(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), v.Yes)
	assert.Equal(t, uint64(5), v.No)
}

func TestCastRejectsZeroPower(t *testing.T) {
	p, _ := newPlugin(map[capability.Address]uint64{"a": 10})
	id := openVote(t, p)

	err := p.Cast(context.Background(), id, "nobody", true)
	assert.ErrorIs(t, err, ErrNoPower)
}

func TestCastRejectsDoubleVote(t *testing.T) {
	p, _ := newPlugin(map[capability.Address]uint64{"a": 10})
	id := openVote(t, p)

	require.NoError(t, p.Cast(context.Background(), id, "a", true))
	err := p.Cast(context.Background(), id, "a", true)
	assert.ErrorIs(t, err, ErrAlreadyVoted)
}

func TestCastRejectsAfterWindow(t *testing.T) {
	p, clk := newPlugin(map[capability.Address]uint64{"a": 10})
	id := openVote(t, p)

	clk.Advance(2 * time.Hour)
	err := p.Cast(context.Background(), id, "a", true)
	assert.ErrorIs(t, err, ErrVoteClosed)
}

func TestZeroThresholdPassesOnAnyYes(t *testing.T) {
	p, _ := newPlugin(map[capability.Address]uint64{"a": 1, "b": 1000, "c": 1000})
	id := openVote(t, p)

	require.NoError(t, p.Cast(context.Background(), id, "a", true))
	require.NoError(t, p.Cast(context.Background(), id, "b", false))
	require.NoError(t, p.Cast(context.Background(), id, "c", false))

	passed, err := p.Finalize(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, passed)
}

func TestZeroThresholdDefeatedWithoutYes(t *testing.T) {
	p, _ := newPlugin(map[capability.Address]uint64{"b": 1000})
	id := openVote(t, p)

	require.NoError(t, p.Cast(context.Background(), id, "b", false))

	passed, err := p.Finalize(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, passed)

	v, err := p.Vote(id)
	require.NoError(t, err)
	assert.Equal(t, VoteDefeated, v.Status)
}

func TestMajorityThreshold(t *testing.T) {
	clk := newFakeClock()
	p := NewPlugin(&stubPower{weights: map[capability.Address]uint64{"a": 40, "b": 60}}, 500_000).WithClock(clk.Now)
	id := openVote(t, p)

	require.NoError(t, p.Cast(context.Background(), id, "a", true))
	require.NoError(t, p.Cast(context.Background(), id, "b", false))

	passed, err := p.Finalize(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, passed)
}

func TestThresholdSurvivesHugeWeights(t *testing.T) {
	// Weights near the uint64 ceiling must not wrap the cross-multiplied
	// threshold comparison.
	half := uint64(1) << 63

	// Exactly 50% support against a strict majority threshold: defeated.
	assert.False(t, passes(half, half, 500_000))

	// 75% support: passes.
	assert.True(t, passes(3*(uint64(1)<<62), uint64(1)<<62, 500_000))

	// Zero threshold still passes on any nonzero yes weight.
	assert.True(t, passes(math.MaxUint64, 0, 0))
	assert.False(t, passes(0, math.MaxUint64, 0))
}

func TestFinalizeTwiceFails(t *testing.T) {
	p, _ := newPlugin(map[capability.Address]uint64{"a": 1})
	id := openVote(t, p)

	_, err := p.Finalize(context.Background(), id)
	require.NoError(t, err)
	_, err = p.Finalize(context.Background(), id)
	assert.ErrorIs(t, err, ErrVoteFinalized)
}

// TestVetoAsymmetryEndToEnd drives escrow power, the voting plugin, and the
// pipeline engine together: a 1-weight veto against 2000 units of "no-veto"
// still rejects the parent proposal.
func TestVetoAsymmetryEndToEnd(t *testing.T) {
	ctx := context.Background()
	caps := capability.NewMemoryLedger()
	authority, err := capability.NewAuthority(caps)
	require.NoError(t, err)
	clk := newFakeClock()

	// Escrow with locked balances: A=1, B=1000, C=1000.
	escrowInst := escrow.NewInstaller(escrow.Config{ExitCooldown: time.Hour}).WithNow(clk.Now)
	escrowRes, err := escrowInst.Install(ctx, authority)
	require.NoError(t, err)
	for _, e := range escrowRes.Diff {
		require.NoError(t, caps.Grant(e.Grant))
	}
	sub := escrowInst.Subsystem()
	for _, g := range sub.CrossTrust() {
		require.NoError(t, caps.Grant(g))
	}
	_, err = sub.Tracker.Deposit("0xA", 1)
	require.NoError(t, err)
	_, err = sub.Tracker.Deposit("0xB", 1000)
	require.NoError(t, err)
	_, err = sub.Tracker.Deposit("0xC", 1000)
	require.NoError(t, err)

	// Voting plugin over the curve, zero support threshold.
	votingInst := NewInstaller(Config{
		Power:         sub.Curve,
		PowerResource: sub.Curve.Address(),
		Now:           clk.Now,
	})
	votingRes, err := votingInst.Install(ctx, authority)
	require.NoError(t, err)
	for _, e := range votingRes.Diff {
		require.NoError(t, caps.Grant(e.Grant))
	}
	plugin := votingInst.Plugin()

	// Two-stage pipeline with the plugin as the stage-1 body.
	stages, err := pipeline.BuildStages(pipeline.StageConfig{
		Mode:             pipeline.ModeVeto,
		Controller:       "0xC1",
		VotingBody:       plugin.Address(),
		Stage0MinAdvance: time.Hour,
		Stage1MinAdvance: time.Hour,
		Stage1VoteWindow: time.Hour,
	})
	require.NoError(t, err)
	engine := pipeline.NewEngine(caps, stages).WithClock(clk.Now)
	engine.RegisterBody(plugin)
	plugin.SetReporter(engine)
	require.NoError(t, caps.Grant(capability.Grant{Resource: engine.Address(), Principal: "0xC1", Action: pipeline.ActionCreate}))

	id, err := engine.CreateProposal(ctx, "0xC1", nil, nil)
	require.NoError(t, err)

	clk.Advance(time.Hour)
	require.NoError(t, engine.Advance(ctx, id))

	voteID, err := engine.SubProposalID(id, 1, plugin.Address())
	require.NoError(t, err)

	// A (weight 1) vetoes; B and C (combined weight 2000) vote no-veto.
	require.NoError(t, plugin.Cast(ctx, voteID, "0xA", true))
	require.NoError(t, plugin.Cast(ctx, voteID, "0xB", false))
	require.NoError(t, plugin.Cast(ctx, voteID, "0xC", false))

	passed, err := plugin.Finalize(ctx, voteID)
	require.NoError(t, err)
	assert.True(t, passed)

	p, err := engine.Proposal(id)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusRejected, p.Status)
}

func TestInstallerEmitsEligibilityArtifact(t *testing.T) {
	caps := capability.NewMemoryLedger()
	authority, err := capability.NewAuthority(caps)
	require.NoError(t, err)

	inst := NewInstaller(Config{
		Power:              &stubPower{},
		PowerResource:      "curve:x",
		ProposerCredential: "H",
	})
	res, err := inst.Install(context.Background(), authority)
	require.NoError(t, err)

	assert.Equal(t, "credential:H", res.Artifacts[ArtifactEligibilityCondition])
}

func TestInstallerRequiresPowerSource(t *testing.T) {
	caps := capability.NewMemoryLedger()
	authority, err := capability.NewAuthority(caps)
	require.NoError(t, err)

	_, err = NewInstaller(Config{}).Install(context.Background(), authority)
	assert.Error(t, err)
}

func TestInstallerDiffSymmetry(t *testing.T) {
	caps := capability.NewMemoryLedger()
	authority, err := capability.NewAuthority(caps)
	require.NoError(t, err)

	inst := NewInstaller(Config{Power: &stubPower{}, PowerResource: "curve:x"})
	res, err := inst.Install(context.Background(), authority)
	require.NoError(t, err)

	undo, err := inst.Uninstall(context.Background(), authority, res.Instances())
	require.NoError(t, err)
	assert.Equal(t, res.Diff.Invert(), undo)
}
