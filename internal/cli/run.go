package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"

	"github.com/luckyPipewrench/promptgate/internal/audit"
	"github.com/luckyPipewrench/promptgate/internal/config"
	"github.com/luckyPipewrench/promptgate/internal/emit"
	"github.com/luckyPipewrench/promptgate/internal/gateway"
	"github.com/luckyPipewrench/promptgate/internal/metrics"
	"github.com/luckyPipewrench/promptgate/internal/policy"
)

func runCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the prompt gate",
		Long: `Start the gate: the HTTP JSON surface and, when configured, the
PGATE/1.0 TCP listener. Both speak to the same policy engine and
produce identical verdicts for identical prompts.

Startup is fail-closed: a policy file that does not validate refuses
to start rather than serving with a partial policy. While running,
the policy file is watched and SIGHUP forces a reload; a reload that
does not validate is rejected and the active policy stays in effect.

Examples:
  promptgate run --config policy.yaml
  promptgate run                        # built-in default policy`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Load config
			var cfg *config.Config
			var err error

			if configFile != "" {
				cfg, err = config.Load(configFile)
				if err != nil {
					return fmt.Errorf("loading config: %w", err)
				}
			} else {
				cfg = config.Defaults()
			}

			// Set up the decision logger
			logger, err := audit.New(
				cfg.Logging.Format,
				cfg.Logging.Output,
				cfg.Logging.File,
				cfg.Logging.IncludeAllowed,
				cfg.Logging.IncludeBlocked,
			)
			if err != nil {
				return fmt.Errorf("creating decision logger: %w", err)
			}
			defer logger.Close()

			// Error tracking is opt-in via environment
			if dsn := os.Getenv("PROMPTGATE_SENTRY_DSN"); dsn != "" {
				if err := sentry.Init(sentry.ClientOptions{
					Dsn:     dsn,
					Release: "promptgate@" + Version,
				}); err != nil {
					return fmt.Errorf("initializing sentry: %w", err)
				}
				defer sentry.Flush(2 * time.Second)
			}

			// Event sinks for operator notification
			sinks, err := buildSinks(cfg)
			if err != nil {
				return fmt.Errorf("configuring event sinks: %w", err)
			}
			emitter := emit.NewEmitter(emit.DefaultInstanceID(), sinks...)
			defer func() { _ = emitter.Close() }()

			// Set up engine, audit store, metrics, and the gateway
			engine := policy.New(cfg)
			store := audit.NewStore()
			m := metrics.New()

			var gw *gateway.Gateway
			opts := []gateway.Option{gateway.WithEmitter(emitter)}
			if configFile != "" {
				// The closure runs when /-/reload is hit, well after gw is set.
				opts = append(opts, gateway.WithReloadFunc(func() error {
					next, err := config.Load(configFile)
					if err != nil {
						return err
					}
					gw.Reload(next)
					return nil
				}))
			}
			gw = gateway.New(cfg, engine, store, logger, m, opts...)

			// Context with signal handling for graceful shutdown
			ctx, stop := signal.NotifyContext(
				context.Background(),
				syscall.SIGINT,
				syscall.SIGTERM,
			)
			defer stop()

			// Watch the policy file while the configured path exists
			if configFile != "" {
				rl := config.NewReloader(configFile)
				go func() {
					if err := rl.Start(ctx); err != nil {
						logger.LogError("reloader", "", err)
						sentry.CaptureException(err)
					}
				}()
				go func() {
					for {
						select {
						case next, ok := <-rl.Changes():
							if !ok {
								return
							}
							gw.Reload(next)
						case err, ok := <-rl.Failures():
							if !ok {
								return
							}
							gw.ReloadFailed(err)
							sentry.CaptureException(err)
						}
					}
				}()
			}

			printBanner(cfg, configFile)
			logger.LogStartup(cfg.Server.Listen, cfg.Server.TCPListen)

			// Both servers report here; a disabled TCP listener reports nil
			// immediately.
			errc := make(chan error, 2)
			go func() { errc <- gw.StartHTTP(ctx) }()
			go func() { errc <- gw.StartTCP(ctx) }()

			var firstErr error
			for i := 0; i < 2; i++ {
				if err := <-errc; err != nil {
					if firstErr == nil {
						firstErr = err
					}
					sentry.CaptureException(err)
					stop()
				}
			}
			if firstErr != nil {
				return fmt.Errorf("server error: %w", firstErr)
			}

			logger.LogShutdown("signal received")
			fmt.Fprintln(os.Stderr, "\npromptgate stopped.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "policy file path")

	return cmd
}

func printBanner(cfg *config.Config, configFile string) {
	fmt.Fprintf(os.Stderr, "promptgate v%s starting\n", Version)
	if configFile != "" {
		fmt.Fprintf(os.Stderr, "  Policy:   %s (watched, SIGHUP reloads)\n", configFile)
	} else {
		fmt.Fprintf(os.Stderr, "  Policy:   built-in defaults\n")
	}
	fmt.Fprintf(os.Stderr, "  Keywords: %d banned\n", len(cfg.BannedKeywords))
	if cfg.SemanticBlocking.Enabled {
		fmt.Fprintf(os.Stderr, "  Semantic: %s oracle, %d phrases, threshold %.2f\n",
			cfg.SemanticBlocking.Oracle.Kind,
			len(cfg.SemanticBlocking.BannedPhrases),
			cfg.SemanticBlocking.Threshold)
	} else {
		fmt.Fprintf(os.Stderr, "  Semantic: off\n")
	}
	fmt.Fprintf(os.Stderr, "  Mitigate: http://%s/mitigate\n", cfg.Server.Listen)
	if cfg.Server.TCPListen != "" {
		fmt.Fprintf(os.Stderr, "  TCP:      %s (PGATE/1.0)\n", cfg.Server.TCPListen)
	}
	fmt.Fprintf(os.Stderr, "  Health:   http://%s/healthz\n", cfg.Server.Listen)
	fmt.Fprintf(os.Stderr, "  Stats:    http://%s/stats\n", cfg.Server.Listen)
}

// buildSinks assembles the event sinks named in the events config section.
// Credentials come from the environment so tokens stay out of policy files.
func buildSinks(cfg *config.Config) ([]emit.Sink, error) {
	var sinks []emit.Sink

	if cfg.Events.WebhookURL != "" {
		opts := []emit.WebhookOption{
			emit.WithWebhookTimeout(time.Duration(cfg.Events.WebhookTimeoutMS) * time.Millisecond),
			emit.WithMinSeverity(emit.ParseSeverity(cfg.Events.MinSeverity)),
		}
		if tok := os.Getenv("PROMPTGATE_WEBHOOK_TOKEN"); tok != "" {
			opts = append(opts, emit.WithBearerToken(tok))
		}
		sinks = append(sinks, emit.NewWebhookSink(cfg.Events.WebhookURL, opts...))
	}

	if cfg.Events.Syslog {
		sink, err := emit.NewSyslogSinkFromConfig(
			os.Getenv("PROMPTGATE_SYSLOG_ADDR"),
			cfg.Events.SyslogTag,
			cfg.Events.MinSeverity,
		)
		if err != nil {
			return nil, fmt.Errorf("syslog sink: %w", err)
		}
		sinks = append(sinks, sink)
	}

	return sinks, nil
}
