// Package hash provides a deterministic, dependency-free embedding
// backend.
//
// Texts are lower-cased and tokenised on every rune that is neither a
// letter nor a digit, and each token is hashed into a fixed number of
// buckets, adding +1 or -1 by the hash's high bit; the resulting signed
// count vector is L2-normalised. Identical texts always embed to identical vectors and
// texts sharing vocabulary land near each other, which is enough for
// tests, offline development, and air-gapped deployments. It is not a
// semantic model.
package hash

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/phantomstate/phantomstate/pkg/provider/embeddings"
)

// DefaultDimensions is the vector width used when none is specified.
const DefaultDimensions = 384

var _ embeddings.Backend = (*Backend)(nil)

// Backend is a deterministic token-hashing embedding backend. It is
// stateless and safe for concurrent use.
type Backend struct {
	dimensions int
}

// New constructs a hash Backend with the given vector width. A
// non-positive width falls back to DefaultDimensions.
func New(dimensions int) *Backend {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &Backend{dimensions: dimensions}
}

// Embed implements embeddings.Backend. It never fails and ignores ctx
// beyond the conventional signature.
func (b *Backend) Embed(_ context.Context, text string) ([]float32, error) {
	return b.embed(text), nil
}

// EmbedBatch implements embeddings.Backend.
func (b *Backend) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = b.embed(t)
	}
	return out, nil
}

// Dimensions implements embeddings.Backend.
func (b *Backend) Dimensions() int { return b.dimensions }

// ModelID implements embeddings.Backend.
func (b *Backend) ModelID() string { return "token-hash" }

func (b *Backend) embed(text string) []float32 {
	vec := make([]float32, b.dimensions)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()
		bucket := int(sum % uint64(b.dimensions))
		// The high bit of the hash decides the sign, so unrelated
		// vocabularies do not all accumulate in the positive orthant.
		if sum&(1<<63) != 0 {
			vec[bucket]--
		} else {
			vec[bucket]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
