// Package mock provides a test double for the embeddings.Backend
// interface.
//
// Use Backend to return pre-canned vectors without a live model and to
// verify which texts were submitted for embedding.
package mock

import (
	"context"
	"sync"

	"github.com/phantomstate/phantomstate/pkg/provider/embeddings"
)

var _ embeddings.Backend = (*Backend)(nil)

// Backend is a mock implementation of embeddings.Backend. The zero value
// is usable; configure the exported fields before handing it out.
type Backend struct {
	mu sync.Mutex

	// EmbedResult is returned by Embed. If nil, a zero-length slice is
	// returned.
	EmbedResult []float32

	// EmbedErr, if non-nil, is returned as the error from Embed.
	EmbedErr error

	// EmbedBatchResult is returned by EmbedBatch. If nil, EmbedResult is
	// repeated once per input text.
	EmbedBatchResult [][]float32

	// EmbedBatchErr, if non-nil, is returned as the error from EmbedBatch.
	EmbedBatchErr error

	// DimensionsValue is returned by Dimensions.
	DimensionsValue int

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	// EmbedTexts records every text passed to Embed, in order.
	EmbedTexts []string

	// EmbedBatchTexts records every slice passed to EmbedBatch, in order.
	EmbedBatchTexts [][]string
}

// Embed records the call and returns EmbedResult, EmbedErr.
func (b *Backend) Embed(_ context.Context, text string) ([]float32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.EmbedTexts = append(b.EmbedTexts, text)
	if b.EmbedErr != nil {
		return nil, b.EmbedErr
	}
	return b.EmbedResult, nil
}

// EmbedBatch records the call and returns EmbedBatchResult or, when that
// is nil, EmbedResult repeated for every input text.
func (b *Backend) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]string, len(texts))
	copy(cp, texts)
	b.EmbedBatchTexts = append(b.EmbedBatchTexts, cp)
	if b.EmbedBatchErr != nil {
		return nil, b.EmbedBatchErr
	}
	if b.EmbedBatchResult != nil {
		return b.EmbedBatchResult, nil
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = b.EmbedResult
	}
	return out, nil
}

// Dimensions returns DimensionsValue.
func (b *Backend) Dimensions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.DimensionsValue
}

// ModelID returns ModelIDValue.
func (b *Backend) ModelID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ModelIDValue
}
