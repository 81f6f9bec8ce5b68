package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestRecordAllowed(t *testing.T) {
	m := New()
	m.RecordAllowed("http", 100*time.Microsecond)
	m.RecordAllowed("tcp", 200*time.Microsecond)

	m.mu.Lock()
	if m.allowedCount != 2 {
		t.Errorf("expected 2 allowed, got %d", m.allowedCount)
	}
	m.mu.Unlock()
}

func TestRecordRedacted(t *testing.T) {
	m := New()
	m.RecordRedacted("http", []string{"email", "phone"}, 50*time.Microsecond)
	m.RecordRedacted("http", []string{"email"}, 50*time.Microsecond)

	m.mu.Lock()
	if m.redactedCount != 2 {
		t.Errorf("expected 2 redacted, got %d", m.redactedCount)
	}
	if m.redactsByKind["email"] != 2 {
		t.Errorf("expected email=2, got %d", m.redactsByKind["email"])
	}
	if m.redactsByKind["phone"] != 1 {
		t.Errorf("expected phone=1, got %d", m.redactsByKind["phone"])
	}
	m.mu.Unlock()
}

func TestRecordBlocked(t *testing.T) {
	m := New()
	m.RecordBlocked("http", "keyword", "kill", 50*time.Microsecond)
	m.RecordBlocked("http", "keyword", "kill", 50*time.Microsecond)
	m.RecordBlocked("tcp", "semantic", "", 30*time.Microsecond)

	m.mu.Lock()
	if m.blockedCount != 3 {
		t.Errorf("expected 3 blocked, got %d", m.blockedCount)
	}
	if m.blocksByStage["keyword"] != 2 {
		t.Errorf("expected keyword=2, got %d", m.blocksByStage["keyword"])
	}
	if m.blocksByStage["semantic"] != 1 {
		t.Errorf("expected semantic=1, got %d", m.blocksByStage["semantic"])
	}
	if m.topKeywords["kill"] != 2 {
		t.Errorf("expected kill=2, got %d", m.topKeywords["kill"])
	}
	// Non-keyword blocks must not grow the keyword map.
	if _, exists := m.topKeywords[""]; exists {
		t.Error("empty keyword entry recorded")
	}
	m.mu.Unlock()
}

func TestPrometheusHandler(t *testing.T) {
	m := New()
	m.RecordAllowed("http", 100*time.Microsecond)
	m.RecordBlocked("http", "keyword", "kill", 50*time.Microsecond)
	m.RecordRedacted("tcp", []string{"email"}, 40*time.Microsecond)
	m.RecordOracleRequest(true)
	m.RecordReload(true)
	m.SetSemanticAvailable(true)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	m.PrometheusHandler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	body, _ := io.ReadAll(w.Body)
	text := string(body)

	if !strings.Contains(text, "promptgate_decisions_total") {
		t.Error("expected promptgate_decisions_total in /metrics output")
	}
	if !strings.Contains(text, `action="allow"`) {
		t.Error("expected allow label in /metrics output")
	}
	if !strings.Contains(text, `stage="keyword"`) {
		t.Error("expected stage label in /metrics output")
	}
	if !strings.Contains(text, `kind="email"`) {
		t.Error("expected kind label in /metrics output")
	}
	if !strings.Contains(text, "promptgate_evaluate_duration_seconds") {
		t.Error("expected promptgate_evaluate_duration_seconds in /metrics output")
	}
	if !strings.Contains(text, "promptgate_oracle_requests_total") {
		t.Error("expected promptgate_oracle_requests_total in /metrics output")
	}
	if !strings.Contains(text, "promptgate_semantic_available 1") {
		t.Error("expected promptgate_semantic_available gauge in /metrics output")
	}
}

func TestStatsHandler(t *testing.T) {
	m := New()
	m.RecordAllowed("http", 100*time.Microsecond)
	m.RecordRedacted("http", []string{"email"}, 50*time.Microsecond)
	m.RecordBlocked("tcp", "keyword", "bomb", 50*time.Microsecond)
	m.RecordReload(true)
	m.RecordReload(false)
	m.SetSemanticAvailable(true)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	m.StatsHandler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %s", ct)
	}

	var stats statsResponse
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("failed to decode stats JSON: %v", err)
	}
	if stats.Decisions.Total != 3 {
		t.Errorf("expected total=3, got %d", stats.Decisions.Total)
	}
	if stats.Decisions.Allowed != 1 || stats.Decisions.Redacted != 1 || stats.Decisions.Blocked != 1 {
		t.Errorf("unexpected decision split: %+v", stats.Decisions)
	}
	if stats.Reloads.OK != 1 || stats.Reloads.Failed != 1 {
		t.Errorf("unexpected reload counts: %+v", stats.Reloads)
	}
	if !stats.SemanticAvailable {
		t.Error("expected semantic_available=true")
	}
	if len(stats.BlocksByStage) != 1 || stats.BlocksByStage[0].Name != "keyword" {
		t.Errorf("unexpected blocks_by_stage: %v", stats.BlocksByStage)
	}
	if len(stats.RedactionsByKind) != 1 || stats.RedactionsByKind[0].Name != "email" {
		t.Errorf("unexpected redactions_by_kind: %v", stats.RedactionsByKind)
	}
	if len(stats.TopKeywords) != 1 || stats.TopKeywords[0].Name != "bomb" {
		t.Errorf("unexpected top_keywords: %v", stats.TopKeywords)
	}
	if stats.UptimeSeconds < 0 {
		t.Errorf("negative uptime: %v", stats.UptimeSeconds)
	}
}

func TestStatsHandler_BlockRate(t *testing.T) {
	m := New()
	m.RecordAllowed("http", time.Microsecond)
	m.RecordAllowed("http", time.Microsecond)
	m.RecordRedacted("http", []string{"email"}, time.Microsecond)
	m.RecordBlocked("http", "length", "", time.Microsecond)

	w := httptest.NewRecorder()
	m.StatsHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))

	var stats statsResponse
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if stats.Decisions.BlockRate != 0.25 {
		t.Errorf("expected block_rate=0.25, got %f", stats.Decisions.BlockRate)
	}
}

func TestStatsHandler_Empty(t *testing.T) {
	m := New()

	w := httptest.NewRecorder()
	m.StatsHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))

	var stats statsResponse
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if stats.Decisions.Total != 0 {
		t.Errorf("expected total=0, got %d", stats.Decisions.Total)
	}
	if stats.Decisions.BlockRate != 0 {
		t.Errorf("expected block_rate=0, got %f", stats.Decisions.BlockRate)
	}
	if stats.SemanticAvailable {
		t.Error("expected semantic_available=false before first SetSemanticAvailable")
	}
}

func TestTopKeywordsCapped(t *testing.T) {
	m := New()
	// Fill to the cap
	for i := 0; i < maxTopEntries; i++ {
		m.RecordBlocked("http", "keyword", fmt.Sprintf("kw-%d", i), time.Microsecond)
	}

	// This keyword should be ignored (cap reached, new key)
	m.RecordBlocked("http", "keyword", "overflow", time.Microsecond)

	m.mu.Lock()
	if len(m.topKeywords) > maxTopEntries {
		t.Errorf("expected at most %d keywords, got %d", maxTopEntries, len(m.topKeywords))
	}
	if _, exists := m.topKeywords["overflow"]; exists {
		t.Error("overflow keyword should not be tracked after cap")
	}
	m.mu.Unlock()
}

func TestTopKeywordsExistingKeyStillIncrements(t *testing.T) {
	m := New()
	m.RecordBlocked("http", "keyword", "kill", time.Microsecond)
	for i := 0; i < maxTopEntries; i++ {
		m.RecordBlocked("http", "keyword", fmt.Sprintf("kw-%d", i), time.Microsecond)
	}
	// Existing key should still increment even after cap
	m.RecordBlocked("http", "keyword", "kill", time.Microsecond)

	m.mu.Lock()
	if m.topKeywords["kill"] != 2 {
		t.Errorf("expected kill=2 after cap, got %d", m.topKeywords["kill"])
	}
	m.mu.Unlock()
}

func TestSetSemanticAvailable_Toggles(t *testing.T) {
	m := New()
	m.SetSemanticAvailable(true)
	m.SetSemanticAvailable(false)

	w := httptest.NewRecorder()
	m.StatsHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))

	var stats statsResponse
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.SemanticAvailable {
		t.Error("expected semantic_available=false after toggle down")
	}
}

func TestTopN_SortedByCount(t *testing.T) {
	in := map[string]int64{"a": 1, "b": 5, "c": 3}
	out := topN(in)
	if len(out) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(out))
	}
	if out[0].Name != "b" || out[1].Name != "c" || out[2].Name != "a" {
		t.Errorf("expected order b, c, a; got %v", out)
	}
}

func TestConcurrentAccess(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				switch j % 3 {
				case 0:
					m.RecordAllowed("http", time.Microsecond)
				case 1:
					m.RecordRedacted("tcp", []string{"email"}, time.Microsecond)
				case 2:
					m.RecordBlocked("http", "keyword", "kill", time.Microsecond)
				}
			}
		}()
	}
	for i := 0; i < 20; i++ {
		w := httptest.NewRecorder()
		m.StatsHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))
	}
	wg.Wait()

	m.mu.Lock()
	total := m.allowedCount + m.redactedCount + m.blockedCount
	m.mu.Unlock()
	if total != 400 {
		t.Errorf("expected 400 recorded decisions, got %d", total)
	}
}
