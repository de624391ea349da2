package capability

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEvaluator struct {
	eligible map[Address]bool
	err      error
}

func (s *stubEvaluator) IsEligible(principal Address, ref ConditionRef, _ Context) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.eligible[principal], nil
}

func TestLedgerGrantAndHas(t *testing.T) {
	l := NewMemoryLedger()
	g := Grant{Resource: "pipeline:1", Principal: "0xC1", Action: "proposal.create"}

	require.NoError(t, l.Grant(g))
	assert.True(t, l.Has("pipeline:1", "0xC1", "proposal.create", nil))
	assert.False(t, l.Has("pipeline:1", "0xC2", "proposal.create", nil))
	assert.False(t, l.Has("pipeline:2", "0xC1", "proposal.create", nil))
}

func TestLedgerGrantIdempotent(t *testing.T) {
	l := NewMemoryLedger()
	g := Grant{Resource: "r", Principal: "p", Action: "a"}

	require.NoError(t, l.Grant(g))
	require.NoError(t, l.Grant(g))
	assert.Equal(t, 1, l.Len())
}

func TestLedgerRevoke(t *testing.T) {
	l := NewMemoryLedger()
	g := Grant{Resource: "r", Principal: "p", Action: "a"}

	require.NoError(t, l.Grant(g))
	require.NoError(t, l.Revoke(g))
	assert.False(t, l.Has("r", "p", "a", nil))

	err := l.Revoke(g)
	assert.ErrorIs(t, err, ErrGrantNotFound)
}

func TestConditionalAndUnconditionalAreDistinctEntries(t *testing.T) {
	l := NewMemoryLedger()
	plain := Grant{Resource: "r", Principal: "p", Action: "a"}
	gated := Grant{Resource: "r", Principal: "p", Action: "a", Condition: "credential:H"}

	require.NoError(t, l.Grant(plain))
	require.NoError(t, l.Grant(gated))
	assert.Equal(t, 2, l.Len())

	// Revoking the conditional entry leaves the unconditional one intact.
	require.NoError(t, l.Revoke(gated))
	assert.True(t, l.Has("r", "p", "a", nil))
}

func TestConditionalGrantDeniesWithoutEvaluator(t *testing.T) {
	l := NewMemoryLedger()
	require.NoError(t, l.Grant(Grant{Resource: "r", Principal: AnyPrincipal, Action: "a", Condition: "credential:H"}))

	assert.False(t, l.Has("r", "anyone", "a", nil))
}

func TestConditionalWildcardGrant(t *testing.T) {
	l := NewMemoryLedger().WithEvaluator(&stubEvaluator{eligible: map[Address]bool{"holder": true}})
	require.NoError(t, l.Grant(Grant{Resource: "r", Principal: AnyPrincipal, Action: "a", Condition: "credential:H"}))

	assert.True(t, l.Has("r", "holder", "a", nil))
	assert.False(t, l.Has("r", "stranger", "a", nil))
}

func TestConditionalGrantFailClosedOnEvaluatorError(t *testing.T) {
	l := NewMemoryLedger().WithEvaluator(&stubEvaluator{err: errors.New("registry down")})
	require.NoError(t, l.Grant(Grant{Resource: "r", Principal: AnyPrincipal, Action: "a", Condition: "credential:H"}))

	assert.False(t, l.Has("r", "holder", "a", nil))
}

func TestSnapshotRestore(t *testing.T) {
	l := NewMemoryLedger()
	require.NoError(t, l.Grant(Grant{Resource: "r", Principal: "p", Action: "a"}))

	snap := l.Snapshot()
	require.NoError(t, l.Grant(Grant{Resource: "r2", Principal: "p2", Action: "a2"}))
	require.NoError(t, l.Revoke(Grant{Resource: "r", Principal: "p", Action: "a"}))

	l.Restore(snap)
	assert.Equal(t, 1, l.Len())
	assert.True(t, l.Has("r", "p", "a", nil))
	assert.False(t, l.Has("r2", "p2", "a2", nil))
}

func TestGrantsForExcludesWildcard(t *testing.T) {
	l := NewMemoryLedger()
	require.NoError(t, l.Grant(Grant{Resource: "r", Principal: "p", Action: "a"}))
	require.NoError(t, l.Grant(Grant{Resource: "r", Principal: AnyPrincipal, Action: "a", Condition: "credential:H"}))

	assert.Len(t, l.GrantsFor("p"), 1)
	assert.Len(t, l.GrantsFor(AnyPrincipal), 1)
}
