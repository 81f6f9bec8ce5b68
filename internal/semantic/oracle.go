// Package semantic implements the similarity guard: prompts are compared
// against banned phrases in embedding space so paraphrases of a banned
// request are caught even when no keyword matches. The embedding source
// is a pluggable oracle; the guard degrades to unavailable rather than
// blocking the verdict when the oracle cannot answer.
package semantic

import (
	"context"
	"errors"
	"fmt"

	"github.com/luckyPipewrench/promptgate/internal/config"
)

// ErrUnavailable marks every failure of the semantic capability: oracle
// construction failed, phrase embeddings could not be computed, or a
// per-request embedding call errored or timed out. Callers treat any
// error satisfying errors.Is(err, ErrUnavailable) as "stage found
// nothing" and continue evaluation.
var ErrUnavailable = errors.New("semantic capability unavailable")

// Oracle produces embeddings for a batch of texts. Implementations must
// return exactly one vector per input, in input order, and must respect
// context cancellation.
type Oracle interface {
	Name() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// NewOracle builds the oracle named by the configuration. Unknown kinds
// return the absent oracle alongside the error so callers always hold a
// usable (if permanently failing) Oracle.
func NewOracle(cfg config.Oracle) (Oracle, error) {
	switch cfg.Kind {
	case config.OracleHash:
		return NewHashOracle(), nil
	case config.OracleHTTP:
		return NewHTTPOracle(cfg), nil
	default:
		return Absent(), fmt.Errorf("unknown oracle kind %q", cfg.Kind)
	}
}

type absentOracle struct{}

// Absent returns the oracle used when no embedding capability exists.
// Every call reports ErrUnavailable.
func Absent() Oracle { return absentOracle{} }

func (absentOracle) Name() string { return "none" }

func (absentOracle) Embed(context.Context, []string) ([][]float32, error) {
	return nil, ErrUnavailable
}
