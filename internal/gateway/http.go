package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/luckyPipewrench/promptgate/internal/audit"
)

// maxBodyBytes caps request bodies on both transports.
const maxBodyBytes = 1 << 20 // 1 MiB

// Defaults applied to optional /mitigate fields; they annotate the
// decision log, not the verdict.
const (
	defaultModel   = "gpt-4o"
	defaultPurpose = "general"
)

// contextKey is used for storing per-request values in context.
type contextKey int

const ctxKeyRequestID contextKey = iota

// requestIDFrom returns the request ID stamped by buildHandler.
func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// mitigateRequest is the JSON body accepted by POST /mitigate. Prompt and
// UserID are pointers so that an absent field can be told apart from an
// explicit empty string: absent is a 400, empty is a valid value.
type mitigateRequest struct {
	Prompt  *string           `json:"prompt"`
	UserID  *string           `json:"user_id"`
	Model   string            `json:"model"`
	Purpose string            `json:"purpose"`
	Headers map[string]string `json:"headers"`
}

// mitigateResponse is the JSON response returned by POST /mitigate.
type mitigateResponse struct {
	Action    string `json:"action"`
	PromptOut string `json:"prompt_out"`
	Reason    string `json:"reason"`
}

// historyResponse is the JSON response returned by GET /history.
type historyResponse struct {
	Count   int            `json:"count"`
	Records []audit.Record `json:"records"`
}

// healthzResponse is the JSON response returned by GET /healthz.
type healthzResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// buildHandler wraps the mux so every response carries an X-Request-Id and
// every handler can read it from the request context. Used by StartHTTP
// and tests.
func (g *Gateway) buildHandler(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set("X-Request-Id", requestID)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, requestID)
		mux.ServeHTTP(w, r.WithContext(ctx))
	})
}

// handler assembles the full HTTP surface. Shared by StartHTTP and tests.
func (g *Gateway) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/mitigate", g.handleMitigate)
	mux.HandleFunc("/history", g.handleHistory)
	mux.HandleFunc("/healthz", g.handleHealthz)
	mux.Handle("/metrics", g.metrics.PrometheusHandler())
	mux.HandleFunc("/stats", g.metrics.StatsHandler())
	mux.HandleFunc("/-/reload", g.handleReload)
	return g.buildHandler(mux)
}

// StartHTTP starts the HTTP server. It blocks until the context is
// cancelled or the server encounters a fatal error.
func (g *Gateway) StartHTTP(ctx context.Context) error {
	cfg := g.cfgPtr.Load()

	g.server = &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: g.handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second, // Slowloris protection
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown on context cancellation. The done channel ensures
	// this goroutine exits if ListenAndServe fails immediately (e.g.,
	// address already in use).
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := g.server.Shutdown(shutdownCtx); err != nil {
				g.logger.LogError(audit.SourceHTTP, "", err)
			}
		case <-done:
		}
	}()

	err := g.server.ListenAndServe()
	close(done) // unblock shutdown goroutine if server failed immediately
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// handleMitigate evaluates one prompt and returns the verdict.
func (g *Gateway) handleMitigate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "only POST allowed"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req mitigateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body exceeds 1 MiB"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Prompt == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing required field: prompt"})
		return
	}
	if req.UserID == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing required field: user_id"})
		return
	}

	model := req.Model
	if model == "" {
		model = defaultModel
	}
	purpose := req.Purpose
	if purpose == "" {
		purpose = defaultPurpose
	}

	v := g.Mitigate(r.Context(), Request{
		Source:    audit.SourceHTTP,
		UserID:    *req.UserID,
		RequestID: requestIDFrom(r.Context()),
		Prompt:    *req.Prompt,
		Model:     model,
		Purpose:   purpose,
	})

	writeJSON(w, http.StatusOK, mitigateResponse{
		Action:    string(v.Action),
		PromptOut: v.PromptOut,
		Reason:    v.Reason,
	})
}

// handleHistory returns the audit tail, oldest first.
func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "only GET allowed"})
		return
	}

	// Invalid or missing n falls back to the store's default tail.
	n, _ := strconv.Atoi(r.URL.Query().Get("n"))
	records := g.History(n)
	writeJSON(w, http.StatusOK, historyResponse{
		Count:   len(records),
		Records: records,
	})
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "only GET allowed"})
		return
	}
	writeJSON(w, http.StatusOK, healthzResponse{
		Status:        "ok",
		UptimeSeconds: time.Since(g.startTime).Seconds(),
	})
}

// handleReload triggers a synchronous config reload. The active policy
// stays in effect when the new document is rejected.
func (g *Gateway) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "only POST allowed"})
		return
	}

	if token := g.cfgPtr.Load().Server.AdminToken; token != "" {
		want := "Bearer " + token
		got := r.Header.Get("Authorization")
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}
	}

	if g.reloadFn == nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "reload not available"})
		return
	}
	if err := g.reloadFn(); err != nil {
		g.ReloadFailed(err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Best effort: header already sent, log to stderr
		fmt.Fprintf(os.Stderr, "promptgate: writeJSON encode error: %v\n", err)
	}
}
