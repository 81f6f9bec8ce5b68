package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/luckyPipewrench/promptgate/internal/config"
)

// HTTPClient is the subset of *http.Client the oracle needs (enables testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// httpOracle calls an OpenAI-style embeddings endpoint:
//
//	POST {url}  {"model": ..., "input": [...]}
//	200         {"data": [{"index": 0, "embedding": [...]}, ...]}
//
// The bearer key is read from the environment at construction, so a
// config reload picks up rotated credentials. A client-side limiter caps
// request rate; waiting for a token respects the caller's deadline, so a
// saturated limiter surfaces as a timeout, not a stall.
type httpOracle struct {
	url     string
	model   string
	apiKey  string
	limiter *rate.Limiter
	client  HTTPClient
}

// NewHTTPOracle builds the remote oracle from validated configuration.
func NewHTTPOracle(cfg config.Oracle) Oracle {
	burst := cfg.MaxRPS
	if burst < 1 {
		burst = 1
	}
	return &httpOracle{
		url:     cfg.URL,
		model:   cfg.Model,
		apiKey:  os.Getenv(cfg.APIKeyEnv),
		limiter: rate.NewLimiter(rate.Limit(cfg.MaxRPS), burst),
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		},
	}
}

func (o *httpOracle) Name() string { return "http" }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (o *httpOracle) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("oracle rate limit: %w", err)
	}

	body, err := json.Marshal(embedRequest{Model: o.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("oracle returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("oracle returned %d embeddings for %d inputs", len(parsed.Data), len(texts))
	}

	// Place vectors by the index field when it is coherent; some servers
	// return data out of submission order.
	out := make([][]float32, len(texts))
	for i, d := range parsed.Data {
		pos := d.Index
		if pos < 0 || pos >= len(out) || out[pos] != nil {
			pos = i
		}
		out[pos] = d.Embedding
	}
	for i, v := range out {
		if len(v) == 0 {
			return nil, fmt.Errorf("oracle returned empty embedding for input %d", i)
		}
	}
	return out, nil
}
