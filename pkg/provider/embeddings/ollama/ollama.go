// Package ollama provides the local-model embedding backend, served by an
// Ollama instance on the same machine.
//
// Ollama (https://ollama.com) hosts local embedding models such as
// all-minilm, nomic-embed-text, and mxbai-embed-large. This package uses
// the native /api/embed endpoint. The first call after a cold start may
// pay the model-load cost; subsequent calls are fast.
//
// Only standard library packages are used — no additional dependencies
// are required beyond net/http and encoding/json.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/phantomstate/phantomstate/pkg/provider/embeddings"
)

// DefaultBaseURL is the default base URL for a locally running Ollama instance.
const DefaultBaseURL = "http://localhost:11434"

var _ embeddings.Backend = (*Backend)(nil)

// Backend implements embeddings.Backend using a local Ollama server.
//
// The vector dimension is resolved at construction: an explicit
// WithDimensions value wins, otherwise the built-in table of well-known
// model names is consulted. Unknown models without an explicit dimension
// are rejected — the engine pins dimensions at open and cannot defer the
// answer to a live probe.
//
// Backend is safe for concurrent use.
type Backend struct {
	baseURL    string
	model      string
	dimensions int
	httpClient *http.Client
}

// config holds optional settings collected from functional options.
type config struct {
	timeout    time.Duration
	dimensions int
}

// Option is a functional option for Backend.
type Option func(*config)

// WithTimeout sets a per-request HTTP timeout on the underlying client.
// A zero or negative value means no timeout (the default).
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithDimensions pre-sets the embedding dimension, bypassing the
// known-model table. Required for models the table does not list.
func WithDimensions(dims int) Option {
	return func(c *config) { c.dimensions = dims }
}

// New constructs an Ollama Backend.
//
// baseURL is the Ollama server address; empty means DefaultBaseURL. model
// is the Ollama model name (e.g. "all-minilm") and must not be empty.
func New(baseURL, model string, opts ...Option) (*Backend, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama embeddings: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	dims := cfg.dimensions
	if dims == 0 {
		dims = knownDimensions(model)
	}
	if dims == 0 {
		return nil, fmt.Errorf("ollama embeddings: unknown dimension for model %q; use WithDimensions", model)
	}

	httpClient := &http.Client{}
	if cfg.timeout > 0 {
		httpClient.Timeout = cfg.timeout
	}

	return &Backend{
		baseURL:    baseURL,
		model:      model,
		dimensions: dims,
		httpClient: httpClient,
	}, nil
}

// embedRequest is the JSON body sent to /api/embed.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embedResponse is the JSON body returned by /api/embed.
type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed implements embeddings.Backend.
func (b *Backend) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := b.callEmbed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("ollama embeddings: embed: empty response")
	}
	return vecs[0], nil
}

// EmbedBatch implements embeddings.Backend. Passing an empty texts slice
// returns (nil, nil) without issuing a request.
func (b *Backend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := b.callEmbed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed batch: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("ollama embeddings: embed batch: expected %d embeddings, got %d", len(texts), len(vecs))
	}
	return vecs, nil
}

// Dimensions implements embeddings.Backend.
func (b *Backend) Dimensions() int { return b.dimensions }

// ModelID implements embeddings.Backend.
func (b *Backend) ModelID() string { return b.model }

// callEmbed POSTs to /api/embed and returns the raw vectors. Context
// cancellation propagates via http.NewRequestWithContext.
func (b *Backend) callEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: b.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("empty embeddings in response")
	}
	return result.Embeddings, nil
}

// knownDimensions returns the output dimension for recognised Ollama
// embedding models, or 0 for unknown models.
func knownDimensions(model string) int {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "all-minilm"):
		return 384
	case strings.Contains(lower, "nomic-embed-text"):
		return 768
	case strings.Contains(lower, "mxbai-embed-large"):
		return 1024
	default:
		return 0
	}
}
