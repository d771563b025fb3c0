package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path, overlays PHANTOM_*
// environment variables, and validates the result. A missing file is not
// an error: defaults plus environment apply, mirroring how the original
// server configured itself from the environment alone.
func Load(path string) (*Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// fall through to env overlay
	case err != nil:
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	default:
		defer f.Close()
		if err := decodeYAML(f, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of the defaults and
// validates the result. Useful in tests where configs are constructed
// from string literals. Environment variables are not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeYAML(r, cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil // empty file keeps the defaults
		}
		return err
	}
	return nil
}

// ApplyEnv overlays PHANTOM_* environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("config: parse environment: %w", err)
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values. It returns
// a joined error listing every failure found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.DBPath == "" {
		errs = append(errs, fmt.Errorf("db_path must not be empty"))
	}
	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}
	if !cfg.Embedding.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("embedding.backend %q is invalid; valid values: local, remote-api, hash", cfg.Embedding.Backend))
	}
	if cfg.Embedding.Backend == BackendLocal && cfg.Embedding.LocalModel == "" {
		errs = append(errs, fmt.Errorf("embedding.local_model must be set for the local backend"))
	}
	if cfg.Embedding.Backend == BackendRemoteAPI && cfg.Embedding.APIKey == "" {
		errs = append(errs, fmt.Errorf("embedding.api_key (or OPENAI_API_KEY) must be set for the remote-api backend"))
	}
	if !cfg.ChunkGranularity.IsValid() {
		errs = append(errs, fmt.Errorf("chunk_granularity %q is invalid; valid values: sentence, paragraph, page, manual", cfg.ChunkGranularity))
	}
	if cfg.VectorDimensions <= 0 {
		errs = append(errs, fmt.Errorf("vector_dimensions must be positive, got %d", cfg.VectorDimensions))
	}

	return errors.Join(errs...)
}
