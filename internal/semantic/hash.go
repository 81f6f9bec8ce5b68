package semantic

import (
	"context"
	"math"
	"unicode"
)

// hashDims is the vector width of the feature-hashing oracle. 256 buckets
// keep token collisions rare for phrase-length inputs while the whole
// embedding stays cheap enough to compute inline.
const hashDims = 256

// hashOracle is the dependency-free default: tokens are feature-hashed
// into a fixed-width vector with FNV-1a, signed by the hash's top bit,
// and L2-normalized. It captures token overlap, not meaning: good enough
// to flag near-verbatim rewording, and fully deterministic, which the
// tests and the demo rely on.
type hashOracle struct {
	dim int
}

// NewHashOracle returns the built-in feature-hashing oracle.
func NewHashOracle() Oracle {
	return &hashOracle{dim: hashDims}
}

func (*hashOracle) Name() string { return "hash" }

func (h *hashOracle) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec := make([]float32, h.dim)
		featureHash(vec, text)
		normalizeL2(vec)
		out[i] = vec
	}
	return out, nil
}

// featureHash folds each letter/digit token of text into vec. Tokens are
// delimited by anything that is neither letter nor digit.
func featureHash(vec []float32, text string) {
	if len(vec) == 0 {
		return
	}
	dim := uint64(len(vec))

	start := -1
	for idx, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if start == -1 {
				start = idx
			}
			continue
		}
		if start != -1 {
			foldToken(vec, dim, text[start:idx])
			start = -1
		}
	}
	if start != -1 {
		foldToken(vec, dim, text[start:])
	}
}

// foldToken adds one token's contribution: FNV-1a over the UTF-8 bytes
// picks the bucket, the top hash bit picks the sign. ASCII letters are
// lowercased inline; full Unicode case folding is not worth the cost for
// a token-overlap embedder.
func foldToken(vec []float32, dim uint64, token string) {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	var h uint64 = offset64
	for i := 0; i < len(token); i++ {
		b := token[i]
		if b >= 'A' && b <= 'Z' {
			b += 'a' - 'A'
		}
		h ^= uint64(b)
		h *= prime64
	}

	sign := float32(1.0)
	if (h>>63)&1 == 1 {
		sign = -1.0
	}
	vec[h%dim] += sign
}

func normalizeL2(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	scale := float32(1.0 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= scale
	}
}
