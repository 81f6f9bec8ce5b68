package cli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/luckyPipewrench/promptgate/internal/config"
)

func healthcheckCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check if the gate is healthy (for Docker HEALTHCHECK)",
		Long: `Sends a GET request to the gate's /healthz endpoint and exits
with code 0 if healthy, 1 otherwise. Designed for use as a Docker HEALTHCHECK command.

Examples:
  promptgate healthcheck
  promptgate healthcheck --addr 0.0.0.0:8000`,
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s/healthz", addr), nil)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", config.DefaultListen, "gate address to check")

	return cmd
}
