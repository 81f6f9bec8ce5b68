package cli

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/luckyPipewrench/promptgate/internal/audit"
)

func historyServer(t *testing.T, records []audit.Record) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/history" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"count":   len(records),
			"records": records,
		})
	}))
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

func runHistory(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	buf := &strings.Builder{}
	cmd.SetOut(buf)
	cmd.SetErr(&strings.Builder{})
	cmd.SetArgs(append([]string{"history"}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

func TestHistoryCmd(t *testing.T) {
	now := time.Now().UTC()
	addr := historyServer(t, []audit.Record{
		{ID: "1", Time: now, Source: "http", UserID: "alice", PromptIn: "hello there", Action: "allow"},
		{ID: "2", Time: now, Source: "tcp", UserID: "bob", PromptIn: "kill it", Action: "block", Reason: `contains banned keyword "kill"`},
	})

	out, err := runHistory(t, "--addr", addr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(out, "alice") || !strings.Contains(out, "bob") {
		t.Errorf("expected both users in output, got:\n%s", out)
	}
	if !strings.Contains(out, `contains banned keyword "kill"`) {
		t.Errorf("expected block reason in output, got:\n%s", out)
	}
	// Allowed records have no reason, so the prompt is shown instead.
	if !strings.Contains(out, "hello there") {
		t.Errorf("expected allowed prompt preview in output, got:\n%s", out)
	}
}

func TestHistoryCmd_ActionFilter(t *testing.T) {
	now := time.Now().UTC()
	addr := historyServer(t, []audit.Record{
		{ID: "1", Time: now, Source: "http", UserID: "alice", PromptIn: "hello", Action: "allow"},
		{ID: "2", Time: now, Source: "http", UserID: "bob", PromptIn: "kill it", Action: "block", Reason: "blocked"},
	})

	out, err := runHistory(t, "--addr", addr, "--action", "block")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if strings.Contains(out, "alice") {
		t.Errorf("filter should hide allowed records, got:\n%s", out)
	}
	if !strings.Contains(out, "bob") {
		t.Errorf("filter should keep blocked records, got:\n%s", out)
	}
}

func TestHistoryCmd_PassesCountParam(t *testing.T) {
	var gotN string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotN = r.URL.Query().Get("n")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"count":0,"records":[]}`))
	}))
	t.Cleanup(srv.Close)

	_, err := runHistory(t, "--addr", strings.TrimPrefix(srv.URL, "http://"), "--last", "5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotN != "5" {
		t.Errorf("expected n=5 query param, got %q", gotN)
	}
}

func TestHistoryCmd_Empty(t *testing.T) {
	addr := historyServer(t, nil)

	out, err := runHistory(t, "--addr", addr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "No decisions recorded.") {
		t.Errorf("expected empty notice, got:\n%s", out)
	}
}

func TestHistoryCmd_ServerDown(t *testing.T) {
	// Port 1 is reserved and nothing listens there.
	if _, err := runHistory(t, "--addr", "127.0.0.1:1"); err == nil {
		t.Fatal("expected an error when the gate is unreachable")
	}
}

func TestHistoryCmd_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	_, err := runHistory(t, "--addr", strings.TrimPrefix(srv.URL, "http://"))
	if err == nil || !strings.Contains(err.Error(), "status 500") {
		t.Fatalf("expected a status 500 error, got %v", err)
	}
}
