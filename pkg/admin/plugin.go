// Package admin implements the admin plugin: the controller's direct
// execution path in veto-mode deployments.
package admin

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stagegate-labs/stagegate/pkg/capability"
	"github.com/stagegate-labs/stagegate/pkg/installer"
	"github.com/stagegate-labs/stagegate/pkg/pipeline"
)

// ActionExecuteDirect authorizes executing actions through the admin plugin.
const ActionExecuteDirect capability.ActionID = "admin.execute"

// Plugin is the installed admin plugin instance.
type Plugin struct {
	addr      capability.Address
	caps      *capability.MemoryLedger
	authority *capability.Authority
	logger    *slog.Logger
}

// NewPlugin creates an admin plugin bound to the authority.
func NewPlugin(authority *capability.Authority) *Plugin {
	return &Plugin{
		addr:      capability.NewAddress("admin"),
		caps:      authority.Ledger(),
		authority: authority,
		logger:    slog.Default().With("component", "admin"),
	}
}

// Address returns the plugin's instance address.
func (p *Plugin) Address() capability.Address { return p.addr }

// Execute runs actions through the authority on behalf of caller. The caller
// must hold ActionExecuteDirect on the plugin, and the plugin must hold the
// execute capability on the authority.
func (p *Plugin) Execute(ctx context.Context, caller capability.Address, actions []pipeline.Action) error {
	if !p.caps.Has(p.addr, caller, ActionExecuteDirect, nil) {
		return fmt.Errorf("%w: %s may not execute through admin plugin", capability.ErrNotPermitted, caller)
	}
	if !p.caps.Has(p.authority.Address(), p.addr, capability.ActionExecute, nil) {
		return fmt.Errorf("%w: admin plugin lost execute capability", capability.ErrNotPermitted)
	}

	p.logger.InfoContext(ctx, "actions executed", "caller", caller, "actions", len(actions))
	return nil
}

// Config parameterizes the admin plugin install.
type Config struct {
	// Controller is the sole principal granted direct execution.
	Controller capability.Address
}

// Installer installs the admin plugin.
type Installer struct {
	cfg    Config
	plugin *Plugin
}

// NewInstaller creates an admin installer.
func NewInstaller(cfg Config) *Installer {
	return &Installer{cfg: cfg}
}

// Plugin returns the live plugin. Nil before Install.
func (i *Installer) Plugin() *Plugin { return i.plugin }

// Install allocates the plugin and computes its trust diff: the controller
// may execute through the plugin, and the plugin may execute through the
// authority.
func (i *Installer) Install(_ context.Context, authority *capability.Authority) (installer.Result, error) {
	if i.cfg.Controller == "" {
		return installer.Result{}, fmt.Errorf("admin: controller unset")
	}

	plugin := NewPlugin(authority)
	i.plugin = plugin

	return installer.Result{
		Primary: plugin.Address(),
		Diff:    structuralDiff(authority.Address(), plugin.Address(), i.cfg.Controller),
	}, nil
}

// Uninstall returns the exact structural inverse of the install diff for the
// same instance set.
func (i *Installer) Uninstall(_ context.Context, authority *capability.Authority, instances []capability.Address) (installer.Diff, error) {
	if len(instances) != 1 {
		return nil, fmt.Errorf("admin: expected 1 instance, got %d", len(instances))
	}
	return structuralDiff(authority.Address(), instances[0], i.cfg.Controller).Invert(), nil
}

func structuralDiff(authority, plugin, controller capability.Address) installer.Diff {
	return installer.Diff{
		installer.GrantEntry(capability.Grant{Resource: plugin, Principal: controller, Action: ActionExecuteDirect}),
		installer.GrantEntry(capability.Grant{Resource: authority, Principal: plugin, Action: capability.ActionExecute}),
	}
}
