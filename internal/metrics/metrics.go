// Package metrics provides Prometheus instrumentation and a JSON stats
// endpoint for the prompt gate.
package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxTopEntries = 100

// Metrics collects Prometheus counters and histograms for the gate.
type Metrics struct {
	registry *prometheus.Registry

	decisionsTotal  *prometheus.CounterVec
	blocksTotal     *prometheus.CounterVec
	redactionsTotal *prometheus.CounterVec
	evalLatency     prometheus.Histogram

	oracleRequests    *prometheus.CounterVec
	configReloads     *prometheus.CounterVec
	semanticAvailable prometheus.Gauge

	mu            sync.Mutex
	startTime     time.Time
	allowedCount  int64
	redactedCount int64
	blockedCount  int64
	blocksByStage map[string]int64
	redactsByKind map[string]int64
	topKeywords   map[string]int64
	reloadOK      int64
	reloadFailed  int64
	semanticUp    bool
}

// New creates a Metrics instance with its own Prometheus registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	decisionsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "promptgate",
		Name:      "decisions_total",
		Help:      "Total prompt decisions by action and source.",
	}, []string{"action", "source"})

	blocksTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "promptgate",
		Name:      "blocks_total",
		Help:      "Total blocked prompts by deciding stage.",
	}, []string{"stage"})

	redactionsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "promptgate",
		Name:      "redactions_total",
		Help:      "Total redactions applied by kind.",
	}, []string{"kind"})

	evalLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "promptgate",
		Name:      "evaluate_duration_seconds",
		Help:      "Prompt evaluation latency in seconds.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
	})

	oracleRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "promptgate",
		Name:      "oracle_requests_total",
		Help:      "Total embedding oracle calls by outcome.",
	}, []string{"outcome"})

	configReloads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "promptgate",
		Name:      "config_reloads_total",
		Help:      "Total configuration reload attempts by outcome.",
	}, []string{"outcome"})

	semanticAvailable := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "promptgate",
		Name:      "semantic_available",
		Help:      "Whether the semantic stage currently has a working oracle (1 or 0).",
	})

	reg.MustRegister(decisionsTotal, blocksTotal, redactionsTotal, evalLatency,
		oracleRequests, configReloads, semanticAvailable)

	return &Metrics{
		registry:        reg,
		decisionsTotal:  decisionsTotal,
		blocksTotal:     blocksTotal,
		redactionsTotal: redactionsTotal,
		evalLatency:     evalLatency,
		oracleRequests:  oracleRequests,
		configReloads:   configReloads,

		semanticAvailable: semanticAvailable,
		startTime:         time.Now(),
		blocksByStage:     make(map[string]int64),
		redactsByKind:     make(map[string]int64),
		topKeywords:       make(map[string]int64),
	}
}

// RecordAllowed records a prompt that passed untouched.
func (m *Metrics) RecordAllowed(source string, duration time.Duration) {
	m.decisionsTotal.WithLabelValues("allow", source).Inc()
	m.evalLatency.Observe(duration.Seconds())

	m.mu.Lock()
	m.allowedCount++
	m.mu.Unlock()
}

// RecordRedacted records a prompt that proceeded with spans replaced.
func (m *Metrics) RecordRedacted(source string, kinds []string, duration time.Duration) {
	m.decisionsTotal.WithLabelValues("redact", source).Inc()
	for _, k := range kinds {
		m.redactionsTotal.WithLabelValues(k).Inc()
	}
	m.evalLatency.Observe(duration.Seconds())

	m.mu.Lock()
	m.redactedCount++
	for _, k := range kinds {
		m.redactsByKind[k]++
	}
	m.mu.Unlock()
}

// RecordBlocked records a refused prompt. keyword is empty unless the
// keyword stage decided.
func (m *Metrics) RecordBlocked(source, stage, keyword string, duration time.Duration) {
	m.decisionsTotal.WithLabelValues("block", source).Inc()
	m.blocksTotal.WithLabelValues(stage).Inc()
	m.evalLatency.Observe(duration.Seconds())

	m.mu.Lock()
	m.blockedCount++
	m.blocksByStage[stage]++
	if keyword != "" {
		if len(m.topKeywords) < maxTopEntries {
			m.topKeywords[keyword]++
		} else if _, exists := m.topKeywords[keyword]; exists {
			m.topKeywords[keyword]++
		}
	}
	m.mu.Unlock()
}

// RecordOracleRequest records one embedding oracle round trip.
func (m *Metrics) RecordOracleRequest(ok bool) {
	if ok {
		m.oracleRequests.WithLabelValues("ok").Inc()
	} else {
		m.oracleRequests.WithLabelValues("error").Inc()
	}
}

// RecordReload records a configuration reload attempt.
func (m *Metrics) RecordReload(ok bool) {
	m.mu.Lock()
	if ok {
		m.reloadOK++
	} else {
		m.reloadFailed++
	}
	m.mu.Unlock()

	if ok {
		m.configReloads.WithLabelValues("ok").Inc()
	} else {
		m.configReloads.WithLabelValues("rejected").Inc()
	}
}

// SetSemanticAvailable reflects the guard's oracle health after a load or
// reload.
func (m *Metrics) SetSemanticAvailable(up bool) {
	if up {
		m.semanticAvailable.Set(1)
	} else {
		m.semanticAvailable.Set(0)
	}
	m.mu.Lock()
	m.semanticUp = up
	m.mu.Unlock()
}

// PrometheusHandler returns an HTTP handler that serves /metrics in Prometheus text format.
func (m *Metrics) PrometheusHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StatsHandler returns an HTTP handler that serves a JSON stats summary.
func (m *Metrics) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		m.mu.Lock()
		total := m.allowedCount + m.redactedCount + m.blockedCount
		stats := statsResponse{
			UptimeSeconds: time.Since(m.startTime).Seconds(),
			Decisions: decisionStats{
				Total:    total,
				Allowed:  m.allowedCount,
				Redacted: m.redactedCount,
				Blocked:  m.blockedCount,
			},
			BlocksByStage:    topN(m.blocksByStage),
			RedactionsByKind: topN(m.redactsByKind),
			TopKeywords:      topN(m.topKeywords),
			Reloads: reloadStats{
				OK:     m.reloadOK,
				Failed: m.reloadFailed,
			},
			SemanticAvailable: m.semanticUp,
		}
		if total > 0 {
			stats.Decisions.BlockRate = float64(m.blockedCount) / float64(total)
		}
		m.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stats)
	}
}

type statsResponse struct {
	UptimeSeconds     float64       `json:"uptime_seconds"`
	Decisions         decisionStats `json:"decisions"`
	BlocksByStage     []rankedEntry `json:"blocks_by_stage"`
	RedactionsByKind  []rankedEntry `json:"redactions_by_kind"`
	TopKeywords       []rankedEntry `json:"top_keywords"`
	Reloads           reloadStats   `json:"reloads"`
	SemanticAvailable bool          `json:"semantic_available"`
}

type decisionStats struct {
	Total     int64   `json:"total"`
	Allowed   int64   `json:"allowed"`
	Redacted  int64   `json:"redacted"`
	Blocked   int64   `json:"blocked"`
	BlockRate float64 `json:"block_rate"`
}

type reloadStats struct {
	OK     int64 `json:"ok"`
	Failed int64 `json:"failed"`
}

type rankedEntry struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

func topN(m map[string]int64) []rankedEntry {
	entries := make([]rankedEntry, 0, len(m))
	for name, count := range m {
		entries = append(entries, rankedEntry{Name: name, Count: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Count > entries[j].Count
	})
	return entries
}
