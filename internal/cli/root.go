// Package cli implements the promptgate command-line interface using cobra.
package cli

import (
	"github.com/spf13/cobra"
)

// Build metadata, set at build time via ldflags.
var (
	Version   = "0.1.0-dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// Execute runs the root command.
func Execute() error {
	return rootCmd().Execute()
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "promptgate",
		Short: "Policy gate for LLM prompts",
		Long: `Promptgate sits between prompt submission and the model, screening
every prompt before it is forwarded: oversized or banned content is
blocked, sensitive substrings are redacted, and every decision is
recorded for audit.

Stages, in order:
  length    - prompts over the configured limit are blocked outright
  keywords  - case-insensitive substring match against the banned list
  semantic  - similarity to banned phrases via an embedding oracle
  redaction - emails, phone numbers, secrets and card numbers masked

Quick start:
  promptgate run --config policy.yaml
  promptgate demo
  promptgate check --config policy.yaml`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		runCmd(),
		checkCmd(),
		demoCmd(),
		historyCmd(),
		healthcheckCmd(),
		versionCmd(),
	)

	return cmd
}
