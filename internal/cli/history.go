package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/luckyPipewrench/promptgate/internal/audit"
	"github.com/luckyPipewrench/promptgate/internal/config"
)

func historyCmd() *cobra.Command {
	var addr string
	var last int
	var action string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent decisions from a running gate",
		Long: `Query a running gate's /history endpoint and print the most recent
decisions, oldest first.

Examples:
  promptgate history
  promptgate history --last 50
  promptgate history --action block`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()

			u := url.URL{Scheme: "http", Host: addr, Path: "/history"}
			if last > 0 {
				u.RawQuery = "n=" + strconv.Itoa(last)
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
			if err != nil {
				return fmt.Errorf("querying history: %w", err)
			}

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("querying history: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("history request failed: status %d", resp.StatusCode)
			}

			var body struct {
				Count   int            `json:"count"`
				Records []audit.Record `json:"records"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				return fmt.Errorf("decoding history: %w", err)
			}

			shown := 0
			for _, r := range body.Records {
				if action != "" && r.Action != action {
					continue
				}
				detail := r.Reason
				if detail == "" {
					detail = preview(r.PromptIn)
				}
				cmd.Printf("%s  %-4s  %-6s  %-12s  %s\n",
					r.Time.Format(time.RFC3339), r.Source, r.Action, r.UserID, detail)
				shown++
			}
			if shown == 0 {
				cmd.Println("No decisions recorded.")
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", config.DefaultListen, "gate address to query")
	cmd.Flags().IntVarP(&last, "last", "n", 0, "how many records to fetch (0 = server default)")
	cmd.Flags().StringVar(&action, "action", "", "only show one action (allow, redact, block)")

	return cmd
}
