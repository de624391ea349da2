package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagegate-labs/stagegate/pkg/bootstrap"
)

const testDeployment = `
org_name: acme
mode: veto
controller: "0xC1"
executors: ["0xE1"]
exit_cooldown: 72h
stages:
  stage0_min_advance: 1h
  stage1_min_advance: 24h
  stage1_vote_window: 24h
`

func TestRunProvisions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deployment.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testDeployment), 0o600))

	var stdout, stderr bytes.Buffer
	code := Run([]string{"-deployment", path, "-deployer", "0xDE91"}, &stdout, &stderr)
	require.Equal(t, 0, code, "stderr: %s", stderr.String())

	var art bootstrap.Artifact
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &art))
	assert.Equal(t, "acme", art.OrgName)
	assert.True(t, art.Verify())
}

func TestRunRequiresDeployer(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"-deployment", "whatever.yaml"}, &stdout, &stderr)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "-deployer")
}

func TestRunMissingDeploymentFile(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"-deployment", filepath.Join(t.TempDir(), "nope.yaml"), "-deployer", "0xDE91"}, &stdout, &stderr)
	assert.Equal(t, 1, code)
}
