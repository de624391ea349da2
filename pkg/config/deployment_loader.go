package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stagegate-labs/stagegate/pkg/bootstrap"
	"github.com/stagegate-labs/stagegate/pkg/capability"
	"github.com/stagegate-labs/stagegate/pkg/eligibility"
	"github.com/stagegate-labs/stagegate/pkg/pipeline"
)

// Deployment is the YAML form of the provisioning parameters. Durations are
// Go duration strings ("72h", "30m").
type Deployment struct {
	OrgName            string   `yaml:"org_name" json:"org_name"`
	Mode               string   `yaml:"mode" json:"mode"`
	Controller         string   `yaml:"controller" json:"controller"`
	ProposerCredential string   `yaml:"proposer_credential,omitempty" json:"proposer_credential,omitempty"`
	Executors          []string `yaml:"executors" json:"executors"`
	ExitCooldown       string   `yaml:"exit_cooldown" json:"exit_cooldown"`

	Stages StageWindows `yaml:"stages" json:"stages"`
}

// StageWindows holds the per-stage timing configuration.
type StageWindows struct {
	Stage0MinAdvance string `yaml:"stage0_min_advance" json:"stage0_min_advance"`
	Stage0MaxAdvance string `yaml:"stage0_max_advance,omitempty" json:"stage0_max_advance,omitempty"`
	Stage1MinAdvance string `yaml:"stage1_min_advance" json:"stage1_min_advance"`
	Stage1MaxAdvance string `yaml:"stage1_max_advance,omitempty" json:"stage1_max_advance,omitempty"`
	Stage1VoteWindow string `yaml:"stage1_vote_window" json:"stage1_vote_window"`
}

// LoadDeployment loads a deployment YAML file.
func LoadDeployment(path string) (*Deployment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load deployment %q: %w", path, err)
	}

	var d Deployment
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse deployment %q: %w", path, err)
	}
	return &d, nil
}

// Params converts the file form into provisioning parameters.
func (d *Deployment) Params() (bootstrap.Params, error) {
	p := bootstrap.Params{
		OrgName:            d.OrgName,
		Mode:               pipeline.Mode(d.Mode),
		Controller:         capability.Address(d.Controller),
		ProposerCredential: eligibility.CredentialID(d.ProposerCredential),
	}
	for _, e := range d.Executors {
		p.Executors = append(p.Executors, capability.Address(e))
	}

	var err error
	if p.ExitCooldown, err = parseDuration("exit_cooldown", d.ExitCooldown); err != nil {
		return bootstrap.Params{}, err
	}
	if p.Stage0MinAdvance, err = parseDuration("stage0_min_advance", d.Stages.Stage0MinAdvance); err != nil {
		return bootstrap.Params{}, err
	}
	if p.Stage0MaxAdvance, err = parseDuration("stage0_max_advance", d.Stages.Stage0MaxAdvance); err != nil {
		return bootstrap.Params{}, err
	}
	if p.Stage1MinAdvance, err = parseDuration("stage1_min_advance", d.Stages.Stage1MinAdvance); err != nil {
		return bootstrap.Params{}, err
	}
	if p.Stage1MaxAdvance, err = parseDuration("stage1_max_advance", d.Stages.Stage1MaxAdvance); err != nil {
		return bootstrap.Params{}, err
	}
	if p.Stage1VoteWindow, err = parseDuration("stage1_vote_window", d.Stages.Stage1VoteWindow); err != nil {
		return bootstrap.Params{}, err
	}
	return p, p.Validate()
}

// parseDuration parses a duration field; empty means zero.
func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("deployment field %s: %w", field, err)
	}
	return dur, nil
}
