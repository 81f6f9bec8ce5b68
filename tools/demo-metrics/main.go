// demo-metrics generates fake Prometheus metrics that simulate a small fleet
// of promptgate instances. Run it, point Prometheus at the three ports, wait
// ~10 minutes, and screenshot the Grafana dashboard for demo material.
//
// Usage:
//
//	go run . [-duration 15m]
//
// Ports:
//
//	:19091 - prod-chat       (high-volume, mostly clean traffic)
//	:19092 - support-desk    (moderate, redaction-heavy, mixed transports)
//	:19093 - abuse-incident  (repeating attack arc with oracle degradation)
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	duration := flag.Duration("duration", 15*time.Minute, "how long to run before auto-exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	gates := []struct {
		name     string
		port     int
		scenario func(context.Context, *gateMetrics)
	}{
		{"prod-chat", 19091, scenarioProdChat},
		{"support-desk", 19092, scenarioSupportDesk},
		{"abuse-incident", 19093, scenarioAbuseIncident},
	}

	var wg sync.WaitGroup
	for _, g := range gates {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runGate(ctx, g.name, g.port, g.scenario)
		}()
	}

	fmt.Println("Promptgate demo metrics running:")
	for _, g := range gates {
		fmt.Printf("  %-16s http://localhost:%d/metrics\n", g.name, g.port)
	}
	if *duration > 0 {
		fmt.Printf("\nWill run for %s. Press Ctrl+C to stop early.\n", *duration)
	} else {
		fmt.Println("\nRunning until Ctrl+C (no timeout).")
	}
	fmt.Println("\nAdd to Prometheus scrape config:")
	fmt.Println("  - job_name: promptgate-demo")
	fmt.Println("    static_configs:")
	fmt.Println("      - targets:")
	for _, g := range gates {
		fmt.Printf("          - 'localhost:%d'  # %s\n", g.port, g.name)
	}

	<-ctx.Done()
	wg.Wait()
	fmt.Println("\nDone.")
}

// ---------------------------------------------------------------------------
// Gate runner
// ---------------------------------------------------------------------------

func runGate(ctx context.Context, name string, port int, scenario func(context.Context, *gateMetrics)) {
	m := newGateMetrics()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("%s: %v", name, err)
		}
	}()

	scenario(ctx, m)
	_ = srv.Shutdown(context.Background())
}

// ---------------------------------------------------------------------------
// Metric registration: mirrors internal/metrics/metrics.go exactly
// ---------------------------------------------------------------------------

type gateMetrics struct {
	registry *prometheus.Registry

	decisionsTotal    *prometheus.CounterVec
	blocksTotal       *prometheus.CounterVec
	redactionsTotal   *prometheus.CounterVec
	evalLatency       prometheus.Histogram
	oracleRequests    *prometheus.CounterVec
	configReloads     *prometheus.CounterVec
	semanticAvailable prometheus.Gauge
}

func newGateMetrics() *gateMetrics {
	reg := prometheus.NewRegistry()
	m := &gateMetrics{registry: reg}

	m.decisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "promptgate", Name: "decisions_total",
		Help: "Total prompt decisions by action and source.",
	}, []string{"action", "source"})

	m.blocksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "promptgate", Name: "blocks_total",
		Help: "Total blocked prompts by deciding stage.",
	}, []string{"stage"})

	m.redactionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "promptgate", Name: "redactions_total",
		Help: "Total redactions applied by kind.",
	}, []string{"kind"})

	m.evalLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "promptgate", Name: "evaluate_duration_seconds",
		Help:    "Prompt evaluation latency in seconds.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
	})

	m.oracleRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "promptgate", Name: "oracle_requests_total",
		Help: "Total embedding oracle calls by outcome.",
	}, []string{"outcome"})

	m.configReloads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "promptgate", Name: "config_reloads_total",
		Help: "Total configuration reload attempts by outcome.",
	}, []string{"outcome"})

	m.semanticAvailable = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "promptgate", Name: "semantic_available",
		Help: "Whether the semantic stage currently has a working oracle (1 or 0).",
	})

	reg.MustRegister(
		m.decisionsTotal, m.blocksTotal, m.redactionsTotal, m.evalLatency,
		m.oracleRequests, m.configReloads, m.semanticAvailable,
	)

	return m
}

// Convenience recorders so the scenarios read like decision streams.

func (m *gateMetrics) allow(source string, meanLat float64) {
	m.decisionsTotal.WithLabelValues("allow", source).Inc()
	m.observeLatency(meanLat)
}

func (m *gateMetrics) redact(source string, kinds ...string) {
	m.decisionsTotal.WithLabelValues("redact", source).Inc()
	for _, k := range kinds {
		m.redactionsTotal.WithLabelValues(k).Inc()
	}
	m.observeLatency(0.0018)
}

func (m *gateMetrics) block(source, stage string, meanLat float64) {
	m.decisionsTotal.WithLabelValues("block", source).Inc()
	m.blocksTotal.WithLabelValues(stage).Inc()
	m.observeLatency(meanLat)
}

func (m *gateMetrics) observeLatency(mean float64) {
	v := mean + mean*0.4*rand.NormFloat64()
	if v < 0.0001 {
		v = 0.0001
	}
	m.evalLatency.Observe(v)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// jitter returns v ± up to frac*v (e.g., jitter(10, 0.2) → 8..12).
func jitter(v, frac float64) float64 {
	return v * (1 + frac*(2*rand.Float64()-1))
}

// maybe returns true with the given probability per second (called once/sec).
func maybe(probPerSec float64) bool {
	return rand.Float64() < probPerSec
}

// sinWave returns a value that oscillates between base±amplitude over period seconds.
func sinWave(elapsed, base, amplitude, period float64) float64 {
	return base + amplitude*math.Sin(2*math.Pi*elapsed/period)
}

// tick runs fn every second until ctx is cancelled.
func tick(ctx context.Context, fn func(elapsed float64)) {
	start := time.Now()
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn(time.Since(start).Seconds())
		}
	}
}

// pickKind draws a redaction kind with helpdesk-ish weights.
func pickKind() string {
	r := rand.Float64()
	switch {
	case r < 0.50:
		return "email"
	case r < 0.80:
		return "phone"
	case r < 0.95:
		return "secret"
	default:
		return "card"
	}
}

// ---------------------------------------------------------------------------
// Scenario 1: prod-chat, a high-volume consumer chat frontend
//
// Steady allow-heavy traffic with semantic blocking on and healthy.
// Occasional email redaction, rare keyword block. The "boring but
// healthy" gate.
// ---------------------------------------------------------------------------

func scenarioProdChat(ctx context.Context, m *gateMetrics) {
	m.semanticAvailable.Set(1)

	tick(ctx, func(elapsed float64) {
		// ~2-4 decisions/sec following a slow daily-ish wave.
		n := int(math.Max(0, jitter(sinWave(elapsed, 3, 1, 120), 0.2)))
		for range n {
			m.allow("http", 0.0012)
			// Every allow that got past the keyword stage consulted the oracle.
			m.oracleRequests.WithLabelValues("ok").Inc()
		}

		if maybe(0.08) {
			m.redact("http", "email")
		}
		if maybe(0.02) {
			m.block("http", "keyword", 0.0004)
		}
		if maybe(0.004) {
			m.block("http", "length", 0.0002)
		}
	})
}

// ---------------------------------------------------------------------------
// Scenario 2: support-desk, a redaction-heavy helpdesk assistant
//
// Moderate volume with a high share of prompts carrying customer PII, so
// redactions dominate. Semantic blocking is off (gauge at 0, no oracle
// traffic). A slice of the traffic arrives over the TCP adapter.
// ---------------------------------------------------------------------------

func scenarioSupportDesk(ctx context.Context, m *gateMetrics) {
	m.semanticAvailable.Set(0)

	tick(ctx, func(elapsed float64) {
		source := "http"
		if maybe(0.3) {
			source = "tcp"
		}

		if maybe(sinWave(elapsed, 0.9, 0.3, 90)) {
			m.allow(source, 0.0009)
		}

		// Agents paste ticket text full of contact details.
		if maybe(0.35) {
			kinds := []string{pickKind()}
			if maybe(0.25) {
				kinds = append(kinds, pickKind())
			}
			m.redact(source, kinds...)
		}

		if maybe(0.012) {
			m.block(source, "keyword", 0.0005)
		}
		if maybe(0.002) {
			m.block(source, "length", 0.0002)
		}
	})
}

// ---------------------------------------------------------------------------
// Scenario 3: abuse-incident, a repeating attack arc
//
// Cycles every 5 minutes (300s):
//   0:00–2:00  Normal baseline traffic
//   2:00–2:45  Keyword flood (blocked prompt burst)
//   2:45–3:30  Semantic probing; the oracle starts failing under load
//   3:30       Operator reloads the policy, oracle recovers
//   3:30–5:00  Recovery with elevated block rate
//
// Repeats, so a 15-minute window shows three visible incident arcs.
// ---------------------------------------------------------------------------

func scenarioAbuseIncident(ctx context.Context, m *gateMetrics) {
	m.semanticAvailable.Set(1)

	tick(ctx, func(elapsed float64) {
		cycle := math.Mod(elapsed, 300)
		phase := classifyPhase(cycle)

		switch phase {
		case phaseBaseline:
			incidentBaseline(m, elapsed)

		case phaseKeywordFlood:
			incidentBaseline(m, elapsed)
			// Scripted abuse hammering the banned-term list.
			if maybe(0.9) {
				m.block("http", "keyword", 0.0004)
			}
			if maybe(0.6) {
				m.block("http", "keyword", 0.0004)
			}
			if maybe(0.2) {
				m.block("http", "length", 0.0002)
			}

		case phaseSemanticProbe:
			incidentBaseline(m, elapsed)
			// Paraphrase probing keeps the oracle busy until it buckles.
			if maybe(0.5) {
				m.block("http", "semantic", 0.09)
				m.oracleRequests.WithLabelValues("ok").Inc()
			}
			if maybe(0.4) {
				m.oracleRequests.WithLabelValues("error").Inc()
			}
			// Past the midpoint the oracle is effectively down.
			if cycle > 195 {
				m.semanticAvailable.Set(0)
				if maybe(0.7) {
					m.oracleRequests.WithLabelValues("error").Inc()
				}
			}

		case phaseRecovery:
			// One reload right at the phase edge brings the oracle back.
			if cycle < 211 {
				m.configReloads.WithLabelValues("ok").Inc()
				m.semanticAvailable.Set(1)
			}
			incidentBaseline(m, elapsed)
			// Elevated blocks taper off through recovery.
			if maybe(0.25 * (300 - cycle) / 90) {
				m.block("http", "keyword", 0.0004)
			}
		}

		// A fat-fingered policy edit gets rejected mid-incident.
		if cycle > 150 && cycle < 151 {
			m.configReloads.WithLabelValues("rejected").Inc()
		}
	})
}

type incidentPhase int

const (
	phaseBaseline      incidentPhase = iota // 0–120s
	phaseKeywordFlood                       // 120–165s
	phaseSemanticProbe                      // 165–210s
	phaseRecovery                           // 210–300s
)

func classifyPhase(cyclePos float64) incidentPhase {
	switch {
	case cyclePos < 120:
		return phaseBaseline
	case cyclePos < 165:
		return phaseKeywordFlood
	case cyclePos < 210:
		return phaseSemanticProbe
	default:
		return phaseRecovery
	}
}

func incidentBaseline(m *gateMetrics, elapsed float64) {
	if maybe(sinWave(elapsed, 0.7, 0.2, 60)) {
		m.allow("http", 0.0011)
		m.oracleRequests.WithLabelValues("ok").Inc()
	}
	if maybe(0.05) {
		m.redact("http", "email")
	}
	if maybe(0.008) {
		m.block("http", "keyword", 0.0004)
	}
}
