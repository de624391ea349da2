// Package config loads service settings from the environment and deployment
// parameters from YAML files.
package config

import "os"

// Settings holds process-level configuration.
type Settings struct {
	LogLevel         string
	DeploymentFile   string
	TelemetryEnabled bool
	OTLPEndpoint     string
}

// Load loads settings from environment variables.
func Load() *Settings {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	deploymentFile := os.Getenv("DEPLOYMENT_FILE")
	if deploymentFile == "" {
		deploymentFile = "deployment.yaml"
	}

	otlpEndpoint := os.Getenv("OTLP_ENDPOINT")
	if otlpEndpoint == "" {
		otlpEndpoint = "localhost:4317"
	}

	return &Settings{
		LogLevel:         logLevel,
		DeploymentFile:   deploymentFile,
		TelemetryEnabled: os.Getenv("TELEMETRY_ENABLED") == "true",
		OTLPEndpoint:     otlpEndpoint,
	}
}
