// Package gateway implements the promptgate server: the HTTP surface and
// the PGATE/1.0 TCP line protocol. Both transports run the same decision
// path against one policy engine, one audit store, one metrics registry,
// and one event emitter, so a prompt receives the identical verdict no
// matter how it arrives.
package gateway

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/luckyPipewrench/promptgate/internal/audit"
	"github.com/luckyPipewrench/promptgate/internal/config"
	"github.com/luckyPipewrench/promptgate/internal/emit"
	"github.com/luckyPipewrench/promptgate/internal/metrics"
	"github.com/luckyPipewrench/promptgate/internal/policy"
)

// Gateway owns the serving state shared by both transports.
type Gateway struct {
	cfgPtr     atomic.Pointer[config.Config]
	engine     *policy.Engine
	store      *audit.Store
	logger     *audit.Logger
	metrics    *metrics.Metrics
	emitter    *emit.Emitter
	reloadFn   func() error // powers POST /-/reload; set via WithReloadFunc
	semanticUp atomic.Bool
	startTime  time.Time
	reloadMu   sync.Mutex // serializes Reload calls

	server *http.Server // created in StartHTTP
}

// Option configures optional Gateway behavior.
type Option func(*Gateway)

// WithEmitter sets the event emitter for webhook/syslog fan-out.
func WithEmitter(em *emit.Emitter) Option {
	return func(g *Gateway) { g.emitter = em }
}

// WithReloadFunc sets the function invoked by POST /-/reload. The function
// loads and validates the policy file and applies it via Reload; a non-nil
// error means the reload was rejected and the active policy is unchanged.
func WithReloadFunc(fn func() error) Option {
	return func(g *Gateway) { g.reloadFn = fn }
}

// New creates a Gateway serving the given engine and audit store.
func New(cfg *config.Config, engine *policy.Engine, store *audit.Store, logger *audit.Logger, m *metrics.Metrics, opts ...Option) *Gateway {
	g := &Gateway{
		engine:    engine,
		store:     store,
		logger:    logger,
		metrics:   m,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.cfgPtr.Store(cfg)
	g.syncSemantic()
	return g
}

// CurrentConfig returns the currently active config.
func (g *Gateway) CurrentConfig() *config.Config {
	return g.cfgPtr.Load()
}

// syncSemantic aligns the availability gauge and transition state with the
// engine's current guard. Called at construction and after every reload.
func (g *Gateway) syncSemantic() {
	st := g.engine.Status()
	up := st.SemanticEnabled && st.SemanticAvailable
	g.metrics.SetSemanticAvailable(up)
	g.semanticUp.Store(up)
	if st.SemanticEnabled && !st.SemanticAvailable {
		g.logger.LogOracleDegraded(st.Oracle, g.engine.SemanticErr())
	}
}

// Reload applies a validated config: the engine compiles and swaps its
// snapshot, downgrade warnings are logged, and the reload is counted.
// In-flight evaluations finish on the snapshot they hold.
//
// Note: server listen addresses and connection caps are bound at startup
// and are NOT updated by Reload. Everything read per-request (keywords,
// redaction rules, semantic blocking, admin token) takes effect immediately.
func (g *Gateway) Reload(cfg *config.Config) {
	g.reloadMu.Lock()
	defer g.reloadMu.Unlock()

	old := g.cfgPtr.Load()
	for _, w := range config.ValidateReload(old, cfg) {
		g.logger.LogConfigReload("warning", w.Field+": "+w.Message)
	}

	g.engine.Reload(cfg)
	g.cfgPtr.Store(cfg)
	g.syncSemantic()

	g.metrics.RecordReload(true)
	g.logger.LogConfigReload("applied", "")
	g.emitter.EmitWithSeverity(context.Background(), emit.ReloadSeverity(true), string(audit.EventConfigReload), map[string]any{
		"status": "applied",
	})
}

// ReloadFailed records a rejected reload attempt. The active policy is
// untouched; the failure is counted, logged, and emitted at critical
// severity so operators notice the gate running on stale policy.
func (g *Gateway) ReloadFailed(err error) {
	g.metrics.RecordReload(false)
	g.logger.LogConfigReload("rejected", err.Error())
	g.emitter.EmitWithSeverity(context.Background(), emit.ReloadSeverity(false), string(audit.EventConfigReload), map[string]any{
		"status": "rejected",
		"error":  err.Error(),
	})
}

// Request carries one prompt through the shared decision path.
type Request struct {
	Source    string // audit.SourceHTTP, audit.SourceTCP, or audit.SourceDemo
	UserID    string
	RequestID string
	Prompt    string
	Model     string // HTTP only; annotates the decision log
	Purpose   string // HTTP only; annotates the decision log
}

// Mitigate runs one prompt through the engine and performs every
// per-decision side effect: the audit ring append, metrics, the decision
// log line, and event emission. Both transports and the demo command call
// this and nothing else, which is what keeps their semantics identical.
func (g *Gateway) Mitigate(ctx context.Context, req Request) policy.Verdict {
	start := time.Now()
	v := g.engine.Evaluate(ctx, req.Prompt)
	duration := time.Since(start)

	g.store.Append(audit.NewRecord(req.Source, req.UserID, req.Prompt, string(v.Action), v.Reason))

	if v.OracleUsed {
		ok := v.SemanticSkipped == nil
		g.metrics.RecordOracleRequest(ok)
		g.metrics.SetSemanticAvailable(ok)
		if g.semanticUp.Swap(ok) != ok && !ok {
			st := g.engine.Status()
			g.logger.LogOracleDegraded(st.Oracle, v.SemanticSkipped)
			g.emitter.Emit(ctx, string(audit.EventOracleDegrade), map[string]any{
				"oracle": st.Oracle,
				"error":  v.SemanticSkipped.Error(),
			})
		}
	}

	log := g.logger
	if req.Model != "" {
		log = log.With("model", req.Model)
	}
	if req.Purpose != "" {
		log = log.With("purpose", req.Purpose)
	}

	switch v.Action {
	case policy.ActionBlock:
		g.metrics.RecordBlocked(req.Source, string(v.Stage), v.Keyword, duration)
		log.LogBlocked(req.Source, req.UserID, req.RequestID, string(v.Stage), v.Reason, req.Prompt, duration)
		fields := map[string]any{
			"source":     req.Source,
			"user_id":    req.UserID,
			"request_id": req.RequestID,
			"stage":      string(v.Stage),
			"reason":     v.Reason,
		}
		if v.Stage == policy.StageSemantic {
			fields["score"] = v.Score
		}
		g.emitter.Emit(ctx, string(audit.EventBlocked), fields)

	case policy.ActionRedact:
		kinds := kindNames(v)
		g.metrics.RecordRedacted(req.Source, kinds, duration)
		log.LogRedacted(req.Source, req.UserID, req.RequestID, v.PromptOut, kinds, v.Spans, duration)
		g.emitter.Emit(ctx, string(audit.EventRedacted), map[string]any{
			"source":     req.Source,
			"user_id":    req.UserID,
			"request_id": req.RequestID,
			"kinds":      kinds,
			"spans":      v.Spans,
		})

	default:
		g.metrics.RecordAllowed(req.Source, duration)
		log.LogAllowed(req.Source, req.UserID, req.RequestID, utf8.RuneCountInString(req.Prompt), duration)
		g.emitter.Emit(ctx, string(audit.EventAllowed), map[string]any{
			"source":     req.Source,
			"user_id":    req.UserID,
			"request_id": req.RequestID,
		})
	}

	return v
}

// History returns up to n audit records, oldest first.
func (g *Gateway) History(n int) []audit.Record {
	return g.store.Tail(n)
}

func kindNames(v policy.Verdict) []string {
	names := make([]string, len(v.Redacted))
	for i, k := range v.Redacted {
		names[i] = string(k)
	}
	return names
}
