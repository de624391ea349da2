// Command stagegate provisions a permission-governed organization from a
// deployment YAML file and prints the sealed deployment artifact.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/stagegate-labs/stagegate/pkg/bootstrap"
	"github.com/stagegate-labs/stagegate/pkg/capability"
	"github.com/stagegate-labs/stagegate/pkg/config"
	"github.com/stagegate-labs/stagegate/pkg/observability"
)

func main() {
	os.Exit(Run(os.Args[1:], os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	settings := config.Load()
	initLogging(stderr, settings.LogLevel)

	fs := flag.NewFlagSet("stagegate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	deploymentPath := fs.String("deployment", settings.DeploymentFile, "deployment YAML file")
	deployerAddr := fs.String("deployer", "", "deploying principal address")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *deployerAddr == "" {
		fmt.Fprintln(stderr, "stagegate: -deployer is required")
		return 2
	}

	ctx := context.Background()

	deployment, err := config.LoadDeployment(*deploymentPath)
	if err != nil {
		slog.Error("deployment load failed", "error", err)
		return 1
	}
	params, err := deployment.Params()
	if err != nil {
		slog.Error("deployment parameters invalid", "error", err)
		return 1
	}

	opts := []bootstrap.Option{}
	if settings.TelemetryEnabled {
		cfg := observability.DefaultConfig()
		cfg.Enabled = true
		cfg.OTLPEndpoint = settings.OTLPEndpoint
		provider, err := observability.New(ctx, cfg)
		if err != nil {
			slog.Error("telemetry init failed", "error", err)
			return 1
		}
		defer func() { _ = provider.Shutdown(ctx) }()
		opts = append(opts, bootstrap.WithObservability(provider))
	}

	deployer := capability.Address(*deployerAddr)
	orch, err := bootstrap.New(deployer, params, opts...)
	if err != nil {
		slog.Error("orchestrator setup failed", "error", err)
		return 1
	}

	_, artifact, err := orch.Provision(ctx, deployer)
	if err != nil {
		slog.Error("provisioning failed", "org", params.OrgName, "error", err)
		return 1
	}

	out, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		slog.Error("artifact encoding failed", "error", err)
		return 1
	}
	fmt.Fprintln(stdout, string(out))
	return 0
}

func initLogging(w io.Writer, level string) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})))
}
