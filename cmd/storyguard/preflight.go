package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/storyguard/internal/config"
	"github.com/fyrsmithlabs/storyguard/internal/generate"
)

var preflightCmd = &cobra.Command{
	Use:   "preflight",
	Short: "Send the canary prompt to the configured provider",
	Long: `Send a small canary prompt through the stop-sentinel contract and
report what came back: errors, empty output, contract leakage, or assistant
preamble. Findings are informational; a failed canary never blocks a run.

Examples:
  storyguard preflight --config storyguard.yaml`,
	RunE: runPreflight,
}

func runPreflight(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, _, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	provider, err := generate.NewAnthropicProvider(generate.AnthropicConfig{
		APIKey:    cfg.Provider.APIKey,
		BaseURL:   cfg.Provider.BaseURL,
		Model:     cfg.Provider.Model,
		Timeout:   cfg.Provider.Timeout,
		RateLimit: cfg.Provider.RateLimit,
		Burst:     cfg.Provider.Burst,
	})
	if err != nil {
		return fmt.Errorf("creating provider: %w", err)
	}

	findings := generate.Preflight(ctx, []generate.Provider{provider}, generate.NewStopContract(), logger)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(findings)
}
