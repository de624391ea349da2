package voting

import (
	"context"
	"fmt"
	"time"

	"github.com/stagegate-labs/stagegate/pkg/capability"
	"github.com/stagegate-labs/stagegate/pkg/eligibility"
	"github.com/stagegate-labs/stagegate/pkg/escrow"
	"github.com/stagegate-labs/stagegate/pkg/installer"
)

// ArtifactEligibilityCondition keys the installer artifact carrying the
// proposer-eligibility condition reference, reused by the stage pipeline
// configurator for condition-gated initiation.
const ArtifactEligibilityCondition = "eligibility_condition"

// Config parameterizes the voting plugin install.
type Config struct {
	// Power is the voting-power source; PowerResource is its capability
	// address (the escrow curve).
	Power         PowerSource
	PowerResource capability.Address

	// SupportThresholdPPM is the tally's support threshold. Zero is the
	// veto sub-vote configuration: any nonzero yes weight passes.
	SupportThresholdPPM uint32

	// ProposerCredential, when set, is emitted as the eligibility condition
	// artifact consumed by the configurator.
	ProposerCredential eligibility.CredentialID

	// Now overrides the plugin clock; nil means wall clock.
	Now func() time.Time
}

// Installer installs the voting plugin.
type Installer struct {
	cfg    Config
	plugin *Plugin
}

// NewInstaller creates a voting installer.
func NewInstaller(cfg Config) *Installer {
	return &Installer{cfg: cfg}
}

// Plugin returns the live plugin. Nil before Install.
func (i *Installer) Plugin() *Plugin { return i.plugin }

// Install allocates the plugin and computes its trust diff: the plugin may
// read voting power from the curve.
func (i *Installer) Install(_ context.Context, _ *capability.Authority) (installer.Result, error) {
	if i.cfg.Power == nil || i.cfg.PowerResource == "" {
		return installer.Result{}, fmt.Errorf("voting: voting-power source unset")
	}

	plugin := NewPlugin(i.cfg.Power, i.cfg.SupportThresholdPPM)
	if i.cfg.Now != nil {
		plugin.WithClock(i.cfg.Now)
	}
	i.plugin = plugin

	res := installer.Result{
		Primary:   plugin.Address(),
		Diff:      structuralDiff(i.cfg.PowerResource, plugin.Address()),
		Artifacts: map[string]string{},
	}
	if i.cfg.ProposerCredential != "" {
		res.Artifacts[ArtifactEligibilityCondition] = string(eligibility.CredentialCondition(i.cfg.ProposerCredential))
	}
	return res, nil
}

// Uninstall returns the exact structural inverse of the install diff for the
// same instance set.
func (i *Installer) Uninstall(_ context.Context, _ *capability.Authority, instances []capability.Address) (installer.Diff, error) {
	if len(instances) != 1 {
		return nil, fmt.Errorf("voting: expected 1 instance, got %d", len(instances))
	}
	return structuralDiff(i.cfg.PowerResource, instances[0]).Invert(), nil
}

func structuralDiff(curve, plugin capability.Address) installer.Diff {
	return installer.Diff{
		installer.GrantEntry(capability.Grant{Resource: curve, Principal: plugin, Action: escrow.ActionReadPower}),
	}
}
