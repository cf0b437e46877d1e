// Package main implements the storyguard CLI.
//
// storyguard runs multi-stage text generation under a defense layer:
// a stop-sentinel generation gateway, a critic gate with one scored
// semantic retry, a deterministic repair pipeline, and an orchestrator
// with snapshot/rollback integrity checks and a circuit breaker.
//
// Usage:
//
//	# Execute a run plan
//	storyguard run --config storyguard.yaml plan.yaml
//
//	# Send the canary prompt to the configured provider
//	storyguard preflight --config storyguard.yaml
//
//	# Show version information
//	storyguard version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// configPath is the --config flag shared by all commands.
var configPath string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "storyguard",
	Short: "Defense layer for multi-stage LLM text generation",
	Long: `storyguard executes multi-stage generation runs with integrity
protection: every model call goes through a stop-sentinel contract and a
critic gate, accepted output through a deterministic repair pipeline, and
every mutating stage through aggregate integrity checks with rollback.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(preflightCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("storyguard\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}
