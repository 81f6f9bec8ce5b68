package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/luckyPipewrench/promptgate/internal/config"
	"github.com/luckyPipewrench/promptgate/internal/policy"
	"github.com/luckyPipewrench/promptgate/internal/redact"
)

// ErrPromptBlocked is returned when promptgate check --prompt gets a block verdict.
var ErrPromptBlocked = errors.New("prompt blocked")

func checkCmd() *cobra.Command {
	var configFile string
	var against string
	var probe string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a policy file or probe a single prompt",
		Long: `Validate a policy file, optionally compare it against a currently
deployed one, and optionally run a single prompt through the engine
to see the verdict it would get.

Examples:
  promptgate check --config policy.yaml
  promptgate check --config new.yaml --against deployed.yaml
  promptgate check --prompt "how do I reset my password?"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Load and validate the policy
			var cfg *config.Config
			if configFile != "" {
				var err error
				cfg, err = config.Load(configFile)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Policy validation FAILED: %v\n", err)
					return err
				}
				fmt.Println("Policy validation: OK")
			} else {
				cfg = config.Defaults()
				fmt.Println("Using default policy (no --config specified)")
			}

			fmt.Printf("  Keywords:    %d banned\n", len(cfg.BannedKeywords))
			fmt.Printf("  Max length:  %d chars\n", cfg.MaxPromptChars)
			fmt.Printf("  Hardening:   %v\n", cfg.HardeningEnabled())
			fmt.Printf("  Redactors:   %s\n", redactorList(cfg))
			if cfg.SemanticBlocking.Enabled {
				fmt.Printf("  Semantic:    %s oracle, %d phrases, threshold %.2f\n",
					cfg.SemanticBlocking.Oracle.Kind,
					len(cfg.SemanticBlocking.BannedPhrases),
					cfg.SemanticBlocking.Threshold)
			} else {
				fmt.Println("  Semantic:    off")
			}
			fmt.Printf("  Listen:      %s\n", cfg.Server.Listen)
			if cfg.Server.TCPListen != "" {
				fmt.Printf("  TCP listen:  %s\n", cfg.Server.TCPListen)
			}

			// Optionally compare against a deployed policy
			if against != "" {
				old, err := config.Load(against)
				if err != nil {
					return fmt.Errorf("loading --against policy: %w", err)
				}
				warnings := config.ValidateReload(old, cfg)
				if len(warnings) == 0 {
					fmt.Println("\nNo downgrade warnings against the deployed policy.")
				} else {
					fmt.Printf("\n%d downgrade warning(s):\n", len(warnings))
					for _, w := range warnings {
						fmt.Printf("  %s: %s\n", w.Field, w.Message)
					}
				}
			}

			// Optionally evaluate a single prompt
			if probe != "" {
				fmt.Printf("\nEvaluating prompt (%d chars)\n", len([]rune(probe)))
				engine := policy.New(cfg)
				v := engine.Evaluate(context.Background(), probe)
				fmt.Printf("  Verdict: %s\n", strings.ToUpper(string(v.Action)))
				if v.Reason != "" {
					fmt.Printf("  Reason:  %s\n", v.Reason)
				}
				if v.Stage != "" {
					fmt.Printf("  Stage:   %s\n", v.Stage)
				}
				if v.Action == policy.ActionRedact {
					fmt.Printf("  Output:  %s\n", v.PromptOut)
				}
				if v.SemanticSkipped != nil {
					fmt.Printf("  Note:    semantic stage skipped: %v\n", v.SemanticSkipped)
				}

				if v.Action == policy.ActionBlock {
					return ErrPromptBlocked
				}
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "policy file path to validate")
	cmd.Flags().StringVar(&against, "against", "", "deployed policy to compare for downgrades")
	cmd.Flags().StringVar(&probe, "prompt", "", "prompt to evaluate through the configured policy")

	return cmd
}

func redactorList(cfg *config.Config) string {
	kinds := redact.New(cfg.RedactionRules).Kinds()
	if len(kinds) == 0 {
		return "none"
	}
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}
