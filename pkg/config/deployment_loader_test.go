package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagegate-labs/stagegate/pkg/bootstrap"
	"github.com/stagegate-labs/stagegate/pkg/pipeline"
)

const sampleDeployment = `
org_name: acme
mode: approve
controller: "0xC1"
proposer_credential: proposer
executors: ["0xE1", "0xE2"]
exit_cooldown: 72h
stages:
  stage0_min_advance: 1h
  stage0_max_advance: 168h
  stage1_min_advance: 24h
  stage1_vote_window: 24h
`

func writeDeployment(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deployment.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDeployment(t *testing.T) {
	d, err := LoadDeployment(writeDeployment(t, sampleDeployment))
	require.NoError(t, err)

	p, err := d.Params()
	require.NoError(t, err)

	assert.Equal(t, "acme", p.OrgName)
	assert.Equal(t, pipeline.ModeApprove, p.Mode)
	assert.Len(t, p.Executors, 2)
	assert.Equal(t, 72*time.Hour, p.ExitCooldown)
	assert.Equal(t, 7*24*time.Hour, p.Stage0MaxAdvance)
	assert.Zero(t, p.Stage1MaxAdvance)
	assert.Equal(t, 24*time.Hour, p.Stage1VoteWindow)
}

func TestLoadDeploymentMissingFile(t *testing.T) {
	_, err := LoadDeployment(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestDeploymentBadDuration(t *testing.T) {
	d, err := LoadDeployment(writeDeployment(t, `
org_name: acme
mode: veto
controller: "0xC1"
exit_cooldown: "three days"
stages:
  stage1_vote_window: 24h
`))
	require.NoError(t, err)

	_, err = d.Params()
	assert.ErrorContains(t, err, "exit_cooldown")
}

func TestDeploymentValidation(t *testing.T) {
	d, err := LoadDeployment(writeDeployment(t, `
org_name: acme
mode: approve
controller: "0xC1"
stages:
  stage1_vote_window: 24h
`))
	require.NoError(t, err)

	_, err = d.Params()
	assert.ErrorIs(t, err, bootstrap.ErrConfig, "approve mode without a proposer credential")
}

func TestLoadSettingsDefaults(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("DEPLOYMENT_FILE", "")
	t.Setenv("TELEMETRY_ENABLED", "")
	t.Setenv("OTLP_ENDPOINT", "")

	s := Load()
	assert.Equal(t, "INFO", s.LogLevel)
	assert.Equal(t, "deployment.yaml", s.DeploymentFile)
	assert.False(t, s.TelemetryEnabled)
	assert.Equal(t, "localhost:4317", s.OTLPEndpoint)
}
