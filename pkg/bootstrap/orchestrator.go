package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/stagegate-labs/stagegate/pkg/admin"
	"github.com/stagegate-labs/stagegate/pkg/capability"
	"github.com/stagegate-labs/stagegate/pkg/eligibility"
	"github.com/stagegate-labs/stagegate/pkg/escrow"
	"github.com/stagegate-labs/stagegate/pkg/installer"
	"github.com/stagegate-labs/stagegate/pkg/observability"
	"github.com/stagegate-labs/stagegate/pkg/pipeline"
	"github.com/stagegate-labs/stagegate/pkg/voting"
)

// Runtime holds the live component instances of a provisioned organization.
type Runtime struct {
	Authority *capability.Authority
	Escrow    *escrow.Subsystem
	Voting    *voting.Plugin
	Pipeline  *pipeline.Engine
	Admin     *admin.Plugin
}

// Orchestrator provisions exactly one organization. It holds elevated
// capability only between its self-elevation and its final de-elevation
// inside a single Provision call; afterwards it appears nowhere in the
// ledger.
type Orchestrator struct {
	addr     capability.Address
	deployer capability.Address
	params   Params
	ledger   *capability.MemoryLedger
	registry *eligibility.Registry
	now      func() time.Time
	obs      *observability.Provider
	logger   *slog.Logger

	provisioned bool
	artifact    Artifact
	runtime     *Runtime

	// installHook, when set, runs before each install step. Tests use it to
	// inject mid-sequence failures.
	installHook func(step string) error
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the clock every installed component inherits.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithObservability attaches a telemetry provider.
func WithObservability(p *observability.Provider) Option {
	return func(o *Orchestrator) { o.obs = p }
}

// WithCredentialRegistry overrides the credential registry backing
// condition-gated grants.
func WithCredentialRegistry(r *eligibility.Registry) Option {
	return func(o *Orchestrator) { o.registry = r }
}

// New creates an orchestrator for one deployment. Only deployer may invoke
// Provision. The ledger's condition evaluator is wired here: credential
// lookups against the registry plus CEL expressions.
func New(deployer capability.Address, params Params, opts ...Option) (*Orchestrator, error) {
	if deployer == "" {
		return nil, fmt.Errorf("%w: deployer unset", ErrConfig)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		addr:     capability.NewAddress("orchestrator"),
		deployer: deployer,
		params:   params,
		ledger:   capability.NewMemoryLedger(),
		registry: eligibility.NewRegistry(),
		now:      time.Now,
		logger:   slog.Default().With("component", "bootstrap"),
	}
	for _, opt := range opts {
		opt(o)
	}

	celEval, err := eligibility.NewCELEvaluator()
	if err != nil {
		return nil, fmt.Errorf("bootstrap: cel evaluator: %w", err)
	}
	o.ledger.WithEvaluator(eligibility.NewEvaluator(o.registry, celEval))
	return o, nil
}

// Address returns the orchestrator's identity.
func (o *Orchestrator) Address() capability.Address { return o.addr }

// Ledger exposes the deployment's capability ledger.
func (o *Orchestrator) Ledger() *capability.MemoryLedger { return o.ledger }

// Params returns the frozen deployment parameters.
func (o *Orchestrator) Params() Params { return o.params }

// Registry exposes the credential registry backing conditional grants.
func (o *Orchestrator) Registry() *eligibility.Registry { return o.registry }

// Artifact returns the published deployment artifact. Empty until a
// Provision call succeeds.
func (o *Orchestrator) Artifact() Artifact { return o.artifact }

// Runtime returns the live instances. Nil until a Provision call succeeds.
func (o *Orchestrator) Runtime() *Runtime { return o.runtime }

// Provision runs the one-shot provisioning sequence: create the authority,
// self-elevate with scoped install rights, install the subsystems in
// dependency order, cross-wire mutual trust under narrow immediately-revoked
// elevations, narrow proposal initiation per the deployment mode, then
// permanently de-elevate and publish the sealed artifact.
//
// A failure at any step restores the ledger to its pre-call state and leaves
// the orchestrator retryable. A successful call is final: every later call
// returns ErrAlreadyDeployed.
func (o *Orchestrator) Provision(ctx context.Context, caller capability.Address) (*Runtime, Artifact, error) {
	if caller != o.deployer {
		return nil, Artifact{}, fmt.Errorf("%w: %s", ErrUnauthorized, caller)
	}
	if o.provisioned {
		return nil, Artifact{}, ErrAlreadyDeployed
	}

	var done func(error)
	if o.obs != nil {
		ctx, done = o.obs.TrackOperation(ctx, "bootstrap.provision",
			attribute.String("org", o.params.OrgName),
			attribute.String("mode", string(o.params.Mode)))
	}

	snapshot := o.ledger.Snapshot()
	runtime, artifact, err := o.provision(ctx)
	if err != nil {
		o.ledger.Restore(snapshot)
		o.logger.ErrorContext(ctx, "provisioning aborted", "org", o.params.OrgName, "error", err)
		if done != nil {
			done(err)
		}
		return nil, Artifact{}, err
	}

	o.provisioned = true
	o.runtime = runtime
	o.artifact = artifact
	if o.obs != nil {
		o.obs.RecordProvisionRun(ctx, attribute.String("mode", string(o.params.Mode)))
		done(nil)
	}
	o.logger.InfoContext(ctx, "organization provisioned",
		"org", o.params.OrgName, "authority", runtime.Authority.Address(), "hash", artifact.Hash)
	return runtime, artifact, nil
}

func (o *Orchestrator) provision(ctx context.Context) (*Runtime, Artifact, error) {
	authority, err := capability.NewAuthority(o.ledger)
	if err != nil {
		return nil, Artifact{}, err
	}

	// Self-elevation. Authorized by construction: the orchestrator just
	// created the authority, so the grant is written as the authority itself.
	// The capability is install application only, never root administration.
	selfGrant := capability.Grant{Resource: authority.Address(), Principal: o.addr, Action: capability.ActionApplyInstall}
	selfElev, err := elevate(authority, authority.Address(), selfGrant)
	if err != nil {
		return nil, Artifact{}, err
	}
	defer selfElev.Drop(o.addr)

	// The helper applies installer diffs on the orchestrator's behalf. It is
	// a distinct principal so the final grant audit covers both.
	helper := capability.NewAddress("installer")
	helperGrant := capability.Grant{Resource: authority.Address(), Principal: helper, Action: capability.ActionApplyInstall}
	helperElev, err := elevate(authority, o.addr, helperGrant)
	if err != nil {
		return nil, Artifact{}, err
	}
	defer helperElev.Drop(o.addr)

	// Install in dependency order. Each installer returns its trust diff;
	// only the helper applies diffs to the ledger.
	escrowInst := escrow.NewInstaller(escrow.Config{ExitCooldown: o.params.ExitCooldown}).WithNow(o.now)
	escrowRes, err := o.install(ctx, "escrow", escrowInst, authority, helper)
	if err != nil {
		return nil, Artifact{}, err
	}
	sub := escrowInst.Subsystem()

	votingInst := voting.NewInstaller(voting.Config{
		Power:               sub.Curve,
		PowerResource:       sub.Curve.Address(),
		SupportThresholdPPM: 0,
		ProposerCredential:  o.params.ProposerCredential,
		Now:                 o.now,
	})
	votingRes, err := o.install(ctx, "voting", votingInst, authority, helper)
	if err != nil {
		return nil, Artifact{}, err
	}
	plugin := votingInst.Plugin()

	stageCfg := pipeline.StageConfig{
		Mode:              o.params.Mode,
		Controller:        o.params.Controller,
		VotingBody:        plugin.Address(),
		ProposerCondition: capability.ConditionRef(votingRes.Artifacts[voting.ArtifactEligibilityCondition]),
		Stage0MinAdvance:  o.params.Stage0MinAdvance,
		Stage0MaxAdvance:  o.params.Stage0MaxAdvance,
		Stage1MinAdvance:  o.params.Stage1MinAdvance,
		Stage1MaxAdvance:  o.params.Stage1MaxAdvance,
		Stage1VoteWindow:  o.params.Stage1VoteWindow,
	}
	stages, err := pipeline.BuildStages(stageCfg)
	if err != nil {
		return nil, Artifact{}, err
	}

	pipelineInst := pipeline.NewInstaller(stages, o.now)
	if _, err := o.install(ctx, "pipeline", pipelineInst, authority, helper); err != nil {
		return nil, Artifact{}, err
	}
	engine := pipelineInst.Engine()
	engine.RegisterBody(plugin)
	plugin.SetReporter(engine)

	var adminPlugin *admin.Plugin
	var adminAddr capability.Address
	if o.params.Mode == pipeline.ModeVeto {
		adminInst := admin.NewInstaller(admin.Config{Controller: o.params.Controller})
		adminRes, err := o.install(ctx, "admin", adminInst, authority, helper)
		if err != nil {
			return nil, Artifact{}, err
		}
		adminPlugin = adminInst.Plugin()
		adminAddr = adminRes.Primary
	}

	// Cross-wire the escrow's mutual trust. Each grant runs under a fresh
	// principal holding permission management on that one resource, revoked
	// the moment the grant lands.
	if err := o.crossWire(ctx, authority, sub.CrossTrust()); err != nil {
		return nil, Artifact{}, err
	}

	// Narrow initiation from the installer's open default to the mode's
	// policy, then grant execution to the configured executors.
	policy, err := pipeline.InitiationPolicyFor(stageCfg)
	if err != nil {
		return nil, Artifact{}, err
	}
	initDiff, err := pipeline.InitiationDiff(engine.Address(), policy)
	if err != nil {
		return nil, Artifact{}, err
	}
	if err := o.applyDiff(ctx, authority, helper, initDiff); err != nil {
		return nil, Artifact{}, fmt.Errorf("bootstrap: initiation policy: %w", err)
	}
	for _, executor := range o.params.Executors {
		g := capability.Grant{Resource: engine.Address(), Principal: executor, Action: pipeline.ActionExecuteProposal}
		if err := authority.Grant(helper, g); err != nil {
			return nil, Artifact{}, fmt.Errorf("bootstrap: executor grant: %w", err)
		}
	}

	// Permanent de-elevation: helper first, then self, while the self grant
	// still authorizes both revocations.
	if err := helperElev.Drop(o.addr); err != nil {
		return nil, Artifact{}, err
	}
	if err := selfElev.Drop(o.addr); err != nil {
		return nil, Artifact{}, err
	}
	if err := o.auditLeastPrivilege(helper); err != nil {
		return nil, Artifact{}, err
	}

	runtime := &Runtime{
		Authority: authority,
		Escrow:    sub,
		Voting:    plugin,
		Pipeline:  engine,
		Admin:     adminPlugin,
	}

	artifact := Artifact{
		OrgName:    o.params.OrgName,
		Mode:       o.params.Mode,
		Authority:  authority.Address(),
		Pipeline:   engine.Address(),
		Voting:     plugin.Address(),
		Escrow:     escrowRes.Instances(),
		Admin:      adminAddr,
		Initiation: describePolicy(policy),
		Grants:     o.ledger.Entries(),
	}
	if err := artifact.seal(); err != nil {
		return nil, Artifact{}, err
	}
	return runtime, artifact, nil
}

// install runs one installer and applies its diff as the helper principal.
func (o *Orchestrator) install(ctx context.Context, step string, inst installer.Installer, authority *capability.Authority, helper capability.Address) (installer.Result, error) {
	if o.installHook != nil {
		if err := o.installHook(step); err != nil {
			return installer.Result{}, fmt.Errorf("bootstrap: install %s: %w", step, err)
		}
	}
	res, err := inst.Install(ctx, authority)
	if err != nil {
		return installer.Result{}, fmt.Errorf("bootstrap: install %s: %w", step, err)
	}
	if err := o.applyDiff(ctx, authority, helper, res.Diff); err != nil {
		return installer.Result{}, fmt.Errorf("bootstrap: install %s: %w", step, err)
	}
	o.logger.InfoContext(ctx, "subsystem installed", "step", step, "primary", res.Primary, "grants", len(res.Diff))
	return res, nil
}

// applyDiff writes a diff through the authority on behalf of caller.
func (o *Orchestrator) applyDiff(ctx context.Context, authority *capability.Authority, caller capability.Address, diff installer.Diff) error {
	for _, entry := range diff {
		var err error
		switch entry.Op {
		case installer.OpGrant:
			err = authority.Grant(caller, entry.Grant)
		case installer.OpRevoke:
			err = authority.Revoke(caller, entry.Grant)
		default:
			err = fmt.Errorf("bootstrap: unknown diff op %q", entry.Op)
		}
		if err != nil {
			return err
		}
	}
	if o.obs != nil {
		o.obs.RecordMutations(ctx, len(diff))
	}
	return nil
}

// crossWire applies mutual-trust grants under per-resource elevations that
// exist only for the one write they authorize.
func (o *Orchestrator) crossWire(ctx context.Context, authority *capability.Authority, grants []capability.Grant) error {
	for _, g := range grants {
		wirer := capability.NewAddress("crosswire")
		elev, err := elevate(authority, o.addr, capability.Grant{
			Resource: g.Resource, Principal: wirer, Action: capability.ActionManagePermissions,
		})
		if err != nil {
			return fmt.Errorf("bootstrap: cross-wire elevate: %w", err)
		}
		if err := authority.Grant(wirer, g); err != nil {
			elev.Drop(o.addr)
			return fmt.Errorf("bootstrap: cross-wire %s: %w", g.Key(), err)
		}
		if err := elev.Drop(o.addr); err != nil {
			return fmt.Errorf("bootstrap: cross-wire de-elevate: %w", err)
		}
		o.logger.DebugContext(ctx, "trust cross-wired", "grant", g.Key())
	}
	return nil
}

// auditLeastPrivilege verifies the de-elevation post-condition: neither the
// orchestrator nor its helper principals appear anywhere in the final ledger.
func (o *Orchestrator) auditLeastPrivilege(helper capability.Address) error {
	if n := len(o.ledger.GrantsFor(o.addr)); n != 0 {
		return fmt.Errorf("bootstrap: orchestrator retains %d grants after de-elevation", n)
	}
	if n := len(o.ledger.GrantsFor(helper)); n != 0 {
		return fmt.Errorf("bootstrap: install helper retains %d grants after de-elevation", n)
	}
	return nil
}

func describePolicy(p pipeline.InitiationPolicy) string {
	switch v := p.(type) {
	case pipeline.DirectGrant:
		return "direct:" + string(v.Principal)
	case pipeline.ConditionGated:
		return "condition:" + string(v.Condition)
	default:
		return "unknown"
	}
}
