package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/stagegate-labs/stagegate/pkg/capability"
	"github.com/stagegate-labs/stagegate/pkg/installer"
)

// Installer installs the pipeline engine. Its diff defaults initiation to an
// open, unconditional wildcard create grant; the configurator narrows that
// default per deployment mode.
type Installer struct {
	stages []StageDescriptor
	clock  func() time.Time
	engine *Engine
}

// NewInstaller creates a pipeline installer for the given stages.
func NewInstaller(stages []StageDescriptor, clock func() time.Time) *Installer {
	return &Installer{stages: stages, clock: clock}
}

// Engine returns the live engine. Nil before Install.
func (i *Installer) Engine() *Engine { return i.engine }

// DefaultCreateGrant is the open initiation grant the installer defaults to.
func DefaultCreateGrant(engine capability.Address) capability.Grant {
	return capability.Grant{Resource: engine, Principal: capability.AnyPrincipal, Action: ActionCreate}
}

// Install allocates the engine and computes its trust diff: open initiation
// plus the engine's execute capability on the authority.
func (i *Installer) Install(_ context.Context, authority *capability.Authority) (installer.Result, error) {
	engine := NewEngine(authority.Ledger(), i.stages)
	if i.clock != nil {
		engine.WithClock(i.clock)
	}
	i.engine = engine

	return installer.Result{
		Primary: engine.Address(),
		Diff:    structuralDiff(authority.Address(), engine.Address()),
	}, nil
}

// Uninstall returns the exact structural inverse of the install diff for the
// same instance set.
func (i *Installer) Uninstall(_ context.Context, authority *capability.Authority, instances []capability.Address) (installer.Diff, error) {
	if len(instances) != 1 {
		return nil, fmt.Errorf("pipeline: expected 1 instance, got %d", len(instances))
	}
	return structuralDiff(authority.Address(), instances[0]).Invert(), nil
}

func structuralDiff(authority, engine capability.Address) installer.Diff {
	return installer.Diff{
		// Default-open initiation; narrowed by the configurator.
		installer.GrantEntry(DefaultCreateGrant(engine)),
		// The engine executes approved actions through the authority.
		installer.GrantEntry(capability.Grant{Resource: authority, Principal: engine, Action: capability.ActionExecute}),
	}
}
