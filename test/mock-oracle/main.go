// mock-oracle is a standalone OpenAI-style embeddings endpoint for local
// promptgate runs (configs/remote-oracle.yaml points at it). Embeddings are
// deterministic bag-of-words feature hashes, so paraphrases sharing
// vocabulary score high while unrelated text scores low.
//
// Usage:
//
//	go run . [-addr 127.0.0.1:9900] [-latency 0] [-fail-rate 0]
//
// Set MOCK_ORACLE_TOKEN to require bearer auth. Use -latency above the
// gate's oracle timeout to exercise degradation, or -fail-rate for flaky
// oracle behavior.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"hash/fnv"
	"log"
	"math"
	"math/rand/v2"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode"
)

const dims = 256

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedRow struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type embedResponse struct {
	Model string     `json:"model"`
	Data  []embedRow `json:"data"`
}

func main() {
	addr := flag.String("addr", "127.0.0.1:9900", "listen address")
	latency := flag.Duration("latency", 0, "artificial delay per request")
	failRate := flag.Float64("fail-rate", 0, "probability of answering 500")
	flag.Parse()

	token := os.Getenv("MOCK_ORACLE_TOKEN")

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "only POST is supported", http.StatusMethodNotAllowed)
			return
		}
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if *latency > 0 {
			time.Sleep(*latency)
		}
		if *failRate > 0 && rand.Float64() < *failRate {
			http.Error(w, "simulated oracle failure", http.StatusInternalServerError)
			return
		}

		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
			return
		}

		resp := embedResponse{Model: req.Model, Data: make([]embedRow, len(req.Input))}
		for i, text := range req.Input {
			resp.Data[i] = embedRow{Index: i, Embedding: embed(text)}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "ok")
	})

	log.Printf("mock-oracle listening on %s (latency=%s, fail-rate=%.2f, auth=%v)",
		*addr, *latency, *failRate, token != "")
	log.Fatal(http.ListenAndServe(*addr, mux))
}

// embed maps text to a deterministic unit vector: FNV-1a token hashing into
// a fixed number of buckets, L2-normalized.
func embed(text string) []float32 {
	vec := make([]float32, dims)
	for _, tok := range tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum32()%dims]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
