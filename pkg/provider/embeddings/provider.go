// Package embeddings defines the Backend interface for vector embedding
// providers.
//
// A backend maps text to dense float32 vectors of a fixed width. The
// narrative engine uses these vectors for similarity retrieval over
// per-character experiential memories and the shared corpus. The contract
// is width-stable: every vector a backend returns has exactly
// Dimensions() elements, and the engine rejects any vector of a different
// width before a single row is written.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Backend is the abstraction over any text-embedding provider.
//
// All vectors returned by a single Backend instance share the same
// dimensionality. Vectors from different backends must not be mixed in
// one similarity computation unless the caller has verified both use the
// same model and space.
type Backend interface {
	// Embed computes the embedding vector for a single text. The text is
	// passed to the underlying model verbatim; any model-specific prompt
	// formatting is the caller's responsibility. Returns an error if the
	// provider fails or ctx is cancelled.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes vectors for a slice of texts in one provider
	// call. The result has the same length and order as texts. Partial
	// results are never returned: on error the whole slice is nil.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed width of every vector this backend
	// produces. Constant for the lifetime of the instance.
	Dimensions() int

	// ModelID returns the provider-specific model identifier, for logging
	// and for pinning a consistent model across a database's lifetime.
	ModelID() string
}
