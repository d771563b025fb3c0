// Package config provides the configuration schema and loader for the
// Phantom State server.
package config

import (
	"github.com/phantomstate/phantomstate/pkg/chunker"
)

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// BackendKind selects the embedding backend implementation.
type BackendKind string

const (
	// BackendLocal uses a local model server (Ollama).
	BackendLocal BackendKind = "local"

	// BackendRemoteAPI uses a hosted embedding service (OpenAI).
	BackendRemoteAPI BackendKind = "remote-api"

	// BackendHash uses the deterministic offline token-hash backend.
	BackendHash BackendKind = "hash"
)

// IsValid reports whether b is a recognised backend kind.
func (b BackendKind) IsValid() bool {
	switch b {
	case BackendLocal, BackendRemoteAPI, BackendHash:
		return true
	}
	return false
}

// Config is the root configuration structure. It is loaded from a YAML
// file with [Load] and then overlaid with PHANTOM_* environment
// variables by [ApplyEnv].
type Config struct {
	// DBPath is the embedded database file.
	DBPath string `yaml:"db_path" env:"PHANTOM_DB_PATH"`

	// Embedding selects and configures the embedding backend.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// ChunkGranularity is the default splitter for document loads.
	ChunkGranularity chunker.Granularity `yaml:"chunk_granularity" env:"PHANTOM_CHUNK_GRANULARITY"`

	// VectorDimensions pins the vector width. It must match the backend
	// and any pre-existing database.
	VectorDimensions int `yaml:"vector_dimensions" env:"PHANTOM_VECTOR_DIMENSIONS"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level" env:"PHANTOM_LOG_LEVEL"`

	// MetricsAddr is the TCP address for the Prometheus scrape endpoint.
	// Empty disables the listener.
	MetricsAddr string `yaml:"metrics_addr" env:"PHANTOM_METRICS_ADDR"`
}

// EmbeddingConfig configures the embedding backend.
type EmbeddingConfig struct {
	// Backend selects the implementation.
	Backend BackendKind `yaml:"backend" env:"PHANTOM_EMBEDDING_BACKEND"`

	// LocalModel is the model name for the local backend
	// (e.g. "all-minilm").
	LocalModel string `yaml:"local_model" env:"PHANTOM_EMBEDDING_MODEL"`

	// RemoteModel is the model name for the remote-api backend
	// (e.g. "text-embedding-3-small").
	RemoteModel string `yaml:"remote_model" env:"PHANTOM_OPENAI_MODEL"`

	// BaseURL overrides the backend's default endpoint.
	BaseURL string `yaml:"base_url" env:"PHANTOM_EMBEDDING_BASE_URL"`

	// APIKey authenticates against the remote API.
	APIKey string `yaml:"api_key" env:"OPENAI_API_KEY"`
}

// Default returns the configuration used when no file and no environment
// overrides are present: a local all-minilm backend over a narrative.db
// file, with 384 vector dimensions to match all-minilm's output width.
func Default() *Config {
	return &Config{
		DBPath: "narrative.db",
		Embedding: EmbeddingConfig{
			Backend:     BackendLocal,
			LocalModel:  "all-minilm",
			RemoteModel: "text-embedding-3-small",
		},
		ChunkGranularity: chunker.Paragraph,
		VectorDimensions: 384,
		LogLevel:         LogInfo,
	}
}
