package eligibility

import (
	"fmt"
	"strings"

	"github.com/stagegate-labs/stagegate/pkg/capability"
)

// Condition reference schemes.
const (
	schemeCredential = "credential"
	schemeCEL        = "cel"
)

// CredentialCondition builds the condition reference for a registry lookup.
func CredentialCondition(id CredentialID) capability.ConditionRef {
	return capability.ConditionRef(schemeCredential + ":" + string(id))
}

// CELCondition builds the condition reference for a CEL expression.
func CELCondition(expr string) capability.ConditionRef {
	return capability.ConditionRef(schemeCEL + ":" + expr)
}

// Evaluator routes condition references to the registry or the CEL engine.
// It implements capability.Evaluator and denies on anything it cannot
// positively verify.
type Evaluator struct {
	registry *Registry
	cel      *CELEvaluator
}

// NewEvaluator wires the composite evaluator. Either backend may be nil;
// references for a missing backend deny.
func NewEvaluator(registry *Registry, cel *CELEvaluator) *Evaluator {
	return &Evaluator{registry: registry, cel: cel}
}

// IsEligible implements capability.Evaluator.
func (e *Evaluator) IsEligible(principal capability.Address, ref capability.ConditionRef, evalCtx capability.Context) (bool, error) {
	scheme, body, ok := strings.Cut(string(ref), ":")
	if !ok {
		return false, fmt.Errorf("eligibility: malformed condition ref %q", ref)
	}

	switch scheme {
	case schemeCredential:
		if e.registry == nil {
			return false, fmt.Errorf("eligibility: no credential registry for %q", ref)
		}
		return e.registry.IsEligible(principal, CredentialID(body)), nil
	case schemeCEL:
		if e.cel == nil {
			return false, fmt.Errorf("eligibility: no cel evaluator for %q", ref)
		}
		return e.cel.Eval(body, principal, evalCtx)
	default:
		return false, fmt.Errorf("eligibility: unknown condition scheme %q", scheme)
	}
}
