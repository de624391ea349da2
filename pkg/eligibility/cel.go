package eligibility

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/stagegate-labs/stagegate/pkg/capability"
)

// CELEvaluator evaluates "cel:" conditions. Programs are compiled once and
// cached by expression.
type CELEvaluator struct {
	env   *cel.Env
	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewCELEvaluator creates an evaluator whose expressions see the calling
// principal and the call context.
func NewCELEvaluator() (*CELEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("principal", cel.StringType),
		cel.Variable("context", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("eligibility: cel environment: %w", err)
	}
	return &CELEvaluator{env: env, cache: make(map[string]cel.Program)}, nil
}

// Eval compiles (or reuses) expr and evaluates it for principal. Any
// compilation or evaluation failure denies.
func (e *CELEvaluator) Eval(expr string, principal capability.Address, evalCtx capability.Context) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}

	input := map[string]any{
		"principal": string(principal),
		"context":   map[string]any(evalCtx),
	}
	if evalCtx == nil {
		input["context"] = map[string]any{}
	}

	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eligibility: cel evaluation: %w", err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("eligibility: cel expression %q is not boolean", expr)
	}
	return allowed, nil
}

func (e *CELEvaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.cache[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("eligibility: cel compile %q: %w", expr, issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("eligibility: cel program %q: %w", expr, err)
	}

	e.mu.Lock()
	e.cache[expr] = prg
	e.mu.Unlock()
	return prg, nil
}
