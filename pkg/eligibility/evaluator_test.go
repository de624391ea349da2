package eligibility

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagegate-labs/stagegate/pkg/capability"
)

func TestRegistryIssueRetract(t *testing.T) {
	r := NewRegistry()
	r.Issue("0xA1", "proposer")

	assert.True(t, r.IsEligible("0xA1", "proposer"))
	assert.False(t, r.IsEligible("0xA2", "proposer"))
	assert.False(t, r.IsEligible("0xA1", "operator"))

	r.Retract("0xA1", "proposer")
	assert.False(t, r.IsEligible("0xA1", "proposer"))
}

func TestEvaluatorCredentialScheme(t *testing.T) {
	r := NewRegistry()
	r.Issue("0xA1", "H")
	ev := NewEvaluator(r, nil)

	ok, err := ev.IsEligible("0xA1", CredentialCondition("H"), nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ev.IsEligible("0xA2", CredentialCondition("H"), nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluatorCELScheme(t *testing.T) {
	celEval, err := NewCELEvaluator()
	require.NoError(t, err)
	ev := NewEvaluator(nil, celEval)

	ref := CELCondition(`principal.startsWith("member:")`)

	ok, err := ev.IsEligible("member:42", ref, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ev.IsEligible("stranger:1", ref, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluatorCELSeesContext(t *testing.T) {
	celEval, err := NewCELEvaluator()
	require.NoError(t, err)
	ev := NewEvaluator(nil, celEval)

	ref := CELCondition(`context["tier"] == "gold"`)

	ok, err := ev.IsEligible("p", ref, capability.Context{"tier": "gold"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ev.IsEligible("p", ref, capability.Context{"tier": "bronze"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluatorDeniesUnknownScheme(t *testing.T) {
	ev := NewEvaluator(NewRegistry(), nil)

	ok, err := ev.IsEligible("p", "magic:anything", nil)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestEvaluatorDeniesMalformedRef(t *testing.T) {
	ev := NewEvaluator(NewRegistry(), nil)

	ok, err := ev.IsEligible("p", "not-a-ref", nil)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestCELEvaluatorCachesPrograms(t *testing.T) {
	celEval, err := NewCELEvaluator()
	require.NoError(t, err)

	expr := `principal == "p"`
	_, err = celEval.Eval(expr, "p", nil)
	require.NoError(t, err)

	celEval.mu.RLock()
	_, cached := celEval.cache[expr]
	celEval.mu.RUnlock()
	assert.True(t, cached)
}

func TestCELEvaluatorRejectsNonBoolean(t *testing.T) {
	celEval, err := NewCELEvaluator()
	require.NoError(t, err)

	_, err = celEval.Eval(`principal`, "p", nil)
	assert.Error(t, err)
}
