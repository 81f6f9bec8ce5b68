package semantic

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/luckyPipewrench/promptgate/internal/config"
)

// Guard compares prompts against banned phrases in embedding space.
// Phrase embeddings are computed once, when the guard is built from a
// config snapshot; each Check embeds only the incoming prompt. A nil
// *Guard is the disabled guard: Check finds nothing and returns no error.
type Guard struct {
	threshold float64
	timeout   time.Duration
	oracle    Oracle
	phrases   []string
	vectors   [][]float32
	buildErr  error
}

// Match reports the outcome of one semantic check.
type Match struct {
	Phrase string  // highest-scoring banned phrase
	Score  float64 // cosine similarity, clamped to [0,1]
	Hit    bool    // Score >= threshold
}

// NewGuard builds a guard from the semantic blocking config, embedding
// every banned phrase in one oracle call. Returns nil when the feature is
// disabled. An embedding failure does not propagate: the guard is built
// unavailable and every Check reports ErrUnavailable until the next
// reload, so a flaky oracle can never wedge config loading.
func NewGuard(cfg config.SemanticBlocking, oracle Oracle) *Guard {
	if !cfg.Enabled {
		return nil
	}
	g := &Guard{
		threshold: cfg.Threshold,
		timeout:   time.Duration(cfg.Oracle.TimeoutMS) * time.Millisecond,
		oracle:    oracle,
		phrases:   cfg.BannedPhrases,
	}
	if g.timeout <= 0 {
		g.timeout = 2 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()
	vecs, err := oracle.Embed(ctx, g.phrases)
	if err != nil {
		g.buildErr = fmt.Errorf("%w: embed banned phrases: %v", ErrUnavailable, err)
		return g
	}
	if len(vecs) != len(g.phrases) {
		g.buildErr = fmt.Errorf("%w: oracle returned %d phrase embeddings for %d phrases",
			ErrUnavailable, len(vecs), len(g.phrases))
		return g
	}
	g.vectors = vecs
	return g
}

// Enabled reports whether semantic blocking is configured on.
func (g *Guard) Enabled() bool { return g != nil }

// Available reports whether the guard can currently answer checks.
func (g *Guard) Available() bool { return g != nil && g.buildErr == nil }

// Err returns the build-time failure, if any, for logging at load/reload.
func (g *Guard) Err() error {
	if g == nil {
		return nil
	}
	return g.buildErr
}

// OracleName identifies the embedding source for stats output.
func (g *Guard) OracleName() string {
	if g == nil {
		return ""
	}
	return g.oracle.Name()
}

// Check embeds text once and scores it against every banned phrase.
// The highest score wins; ties break toward the phrase listed first.
// Every failure path, including the per-call timeout, returns an error
// satisfying errors.Is(err, ErrUnavailable) and an empty Match; the
// caller degrades to the remaining stages.
func (g *Guard) Check(ctx context.Context, text string) (Match, error) {
	if g == nil {
		return Match{}, nil
	}
	if g.buildErr != nil {
		return Match{}, g.buildErr
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	vecs, err := g.oracle.Embed(ctx, []string{text})
	if err != nil {
		return Match{}, fmt.Errorf("%w: embed prompt: %v", ErrUnavailable, err)
	}
	if len(vecs) != 1 {
		return Match{}, fmt.Errorf("%w: oracle returned %d embeddings for one prompt", ErrUnavailable, len(vecs))
	}

	var best Match
	first := true
	for i, pv := range g.vectors {
		score := cosine(vecs[0], pv)
		if first || score > best.Score {
			best.Score = score
			best.Phrase = g.phrases[i]
			first = false
		}
	}
	best.Hit = !first && best.Score >= g.threshold
	return best, nil
}

// cosine computes cosine similarity clamped to [0,1]. Mismatched or
// zero-magnitude vectors score zero.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	s := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
