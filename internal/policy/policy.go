// Package policy implements the evaluation engine that decides what
// happens to each prompt. Evaluation runs fixed stages in strict
// precedence (length, keyword blocklist, semantic similarity, redaction)
// and the first stage with something to say wins. The engine's only
// shared state is an immutable snapshot behind an atomic pointer, so
// evaluation never blocks and a reload can never be observed half-applied.
package policy

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"github.com/luckyPipewrench/promptgate/internal/config"
	"github.com/luckyPipewrench/promptgate/internal/normalize"
	"github.com/luckyPipewrench/promptgate/internal/redact"
	"github.com/luckyPipewrench/promptgate/internal/semantic"
)

// Action is the final disposition of a prompt.
type Action string

const (
	ActionAllow  Action = "allow"
	ActionRedact Action = "redact"
	ActionBlock  Action = "block"
)

// Stage identifies which evaluation stage decided a verdict. Empty for
// plain allows.
type Stage string

const (
	StageLength    Stage = "length"
	StageKeyword   Stage = "keyword"
	StageSemantic  Stage = "semantic"
	StageRedaction Stage = "redaction"
)

// Verdict is the engine's complete answer for one prompt. Action,
// PromptOut, and Reason are the wire-visible outcome; the remaining
// fields are evaluation detail for audit records, logs, and metrics.
type Verdict struct {
	Action    Action
	PromptOut string
	Reason    string

	Stage    Stage
	Keyword  string        // matched term, keyword stage only
	Phrase   string        // matched phrase, semantic stage only
	Score    float64       // similarity score, semantic stage only
	Redacted []redact.Kind // kinds applied, redaction stage only
	Spans    int           // spans replaced, redaction stage only

	// SemanticSkipped carries the unavailability error when the semantic
	// stage could not answer and evaluation continued without it. Never
	// set on a semantic block.
	SemanticSkipped error

	// OracleUsed reports that the semantic stage attempted an embedding
	// call for this prompt, successful or not. Guards built unavailable
	// answer Check without an oracle round trip and leave it false.
	OracleUsed bool
}

// term pairs a configured keyword with the folded form used for matching.
type term struct {
	raw    string
	folded string
}

// snapshot is one immutable compiled policy. Everything Evaluate touches
// hangs off the snapshot, so swapping the pointer swaps the whole policy
// at once.
type snapshot struct {
	cfg      *config.Config
	terms    []term
	harden   bool
	redactor *redact.Pipeline
	guard    *semantic.Guard
}

func compile(cfg *config.Config) *snapshot {
	s := &snapshot{
		cfg:      cfg,
		harden:   cfg.HardeningEnabled(),
		redactor: redact.New(cfg.RedactionRules),
	}
	for _, kw := range cfg.BannedKeywords {
		s.terms = append(s.terms, term{raw: kw, folded: s.fold(kw)})
	}

	if cfg.SemanticBlocking.Enabled {
		oracle, err := semantic.NewOracle(cfg.SemanticBlocking.Oracle)
		if err != nil {
			// Validation rejects unknown kinds; if one slips through the
			// guard is built permanently unavailable rather than panicking.
			oracle = semantic.Absent()
		}
		s.guard = semantic.NewGuard(cfg.SemanticBlocking, oracle)
	}
	return s
}

// fold produces the matching form of a string: lowercased, and run
// through the Unicode hardening pipeline when enabled. Keywords and
// prompts fold identically so operators can write keywords in any form
// the hardening collapses.
func (s *snapshot) fold(text string) string {
	if s.harden {
		text = normalize.ForKeywords(text)
	}
	return strings.ToLower(text)
}

// matchKeyword returns the first configured keyword contained in the
// prompt's matching view. Substring containment: "kill" matches inside
// "killer".
func (s *snapshot) matchKeyword(prompt string) (string, bool) {
	if len(s.terms) == 0 {
		return "", false
	}
	view := s.fold(prompt)
	for _, t := range s.terms {
		if t.folded != "" && strings.Contains(view, t.folded) {
			return t.raw, true
		}
	}
	return "", false
}

// Engine evaluates prompts against the current policy snapshot and
// accepts hot reloads. Safe for concurrent use: Evaluate only loads the
// snapshot pointer; Reload builds off to the side and swaps it in.
type Engine struct {
	current atomic.Pointer[snapshot]
}

// New compiles cfg and returns a ready engine. cfg must already be
// validated; a broken semantic oracle degrades the guard rather than
// failing construction.
func New(cfg *config.Config) *Engine {
	e := &Engine{}
	e.current.Store(compile(cfg))
	return e
}

// Reload compiles the new configuration and atomically replaces the
// snapshot. In-flight evaluations finish against the old snapshot.
func (e *Engine) Reload(cfg *config.Config) {
	e.current.Store(compile(cfg))
}

// Config returns the configuration of the current snapshot. Callers must
// treat it as read-only.
func (e *Engine) Config() *config.Config {
	return e.current.Load().cfg
}

// Status is the live evaluation state reported by the stats endpoints.
type Status struct {
	MaxPromptChars    int           `json:"max_prompt_chars"`
	Keywords          int           `json:"keywords"`
	UnicodeHardening  bool          `json:"unicode_hardening"`
	Redactors         []redact.Kind `json:"redactors"`
	SemanticEnabled   bool          `json:"semantic_enabled"`
	SemanticAvailable bool          `json:"semantic_available"`
	Oracle            string        `json:"oracle,omitempty"`
	BannedPhrases     int           `json:"banned_phrases,omitempty"`
}

func (e *Engine) Status() Status {
	s := e.current.Load()
	st := Status{
		MaxPromptChars:    s.cfg.MaxPromptChars,
		Keywords:          len(s.terms),
		UnicodeHardening:  s.harden,
		Redactors:         s.redactor.Kinds(),
		SemanticEnabled:   s.guard.Enabled(),
		SemanticAvailable: s.guard.Available(),
	}
	if s.guard.Enabled() {
		st.Oracle = s.guard.OracleName()
		st.BannedPhrases = len(s.cfg.SemanticBlocking.BannedPhrases)
	}
	return st
}

// SemanticErr exposes the guard's build failure, if any, for logging
// after a load or reload.
func (e *Engine) SemanticErr() error {
	return e.current.Load().guard.Err()
}

// Evaluate runs the staged decision for one prompt. It always returns a
// verdict; no input and no dependency failure can make evaluation itself
// fail. The context bounds only the semantic stage's oracle call.
func (e *Engine) Evaluate(ctx context.Context, prompt string) Verdict {
	s := e.current.Load()

	if n := utf8.RuneCountInString(prompt); n > s.cfg.MaxPromptChars {
		return Verdict{
			Action:    ActionBlock,
			PromptOut: prompt,
			Stage:     StageLength,
			Reason:    fmt.Sprintf("prompt exceeds maximum length (%d > %d characters)", n, s.cfg.MaxPromptChars),
		}
	}

	if kw, ok := s.matchKeyword(prompt); ok {
		return Verdict{
			Action:    ActionBlock,
			PromptOut: prompt,
			Stage:     StageKeyword,
			Keyword:   kw,
			Reason:    fmt.Sprintf("contains banned keyword %q", kw),
		}
	}

	var semErr error
	var oracleUsed bool
	if s.guard.Enabled() {
		oracleUsed = s.guard.Available()
		m, err := s.guard.Check(ctx, prompt)
		switch {
		case err != nil:
			semErr = err
		case m.Hit:
			return Verdict{
				Action:     ActionBlock,
				PromptOut:  prompt,
				Stage:      StageSemantic,
				Phrase:     m.Phrase,
				Score:      m.Score,
				Reason:     fmt.Sprintf("similar to banned phrase %q (score %.2f)", m.Phrase, m.Score),
				OracleUsed: oracleUsed,
			}
		}
	}

	res := s.redactor.Apply(prompt)
	if len(res.Applied) > 0 {
		return Verdict{
			Action:          ActionRedact,
			PromptOut:       res.Text,
			Stage:           StageRedaction,
			Redacted:        res.Applied,
			Spans:           res.Count,
			Reason:          redactReason(res.Applied),
			SemanticSkipped: semErr,
			OracleUsed:      oracleUsed,
		}
	}

	return Verdict{
		Action:          ActionAllow,
		PromptOut:       prompt,
		SemanticSkipped: semErr,
		OracleUsed:      oracleUsed,
	}
}

func redactReason(kinds []redact.Kind) string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return "redacted: " + strings.Join(names, ", ")
}
