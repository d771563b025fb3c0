// Command phantomstate serves the Phantom State narrative engine as an
// MCP tool server over stdio.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/phantomstate/phantomstate/internal/config"
	"github.com/phantomstate/phantomstate/internal/mcptool"
	"github.com/phantomstate/phantomstate/internal/observe"
	"github.com/phantomstate/phantomstate/pkg/narrative/engine"
	"github.com/phantomstate/phantomstate/pkg/provider/embeddings"
	hashembed "github.com/phantomstate/phantomstate/pkg/provider/embeddings/hash"
	ollamaembed "github.com/phantomstate/phantomstate/pkg/provider/embeddings/ollama"
	oaembed "github.com/phantomstate/phantomstate/pkg/provider/embeddings/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "phantomstate.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "phantomstate: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// Log to stderr: stdout belongs to the MCP transport.
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	slog.Info("phantomstate starting",
		"config", *configPath,
		"db_path", cfg.DBPath,
		"backend", cfg.Embedding.Backend,
		"dimensions", cfg.VectorDimensions,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Metrics provider ──────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: "0.1.0",
	})
	if err != nil {
		slog.Error("failed to init metrics provider", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			slog.Warn("metrics shutdown error", "err", err)
		}
	}()

	// ── Embedding backend ─────────────────────────────────────────────────────
	backend, err := buildBackend(cfg)
	if err != nil {
		slog.Error("failed to build embedding backend", "err", err)
		return 1
	}

	// ── Engine ────────────────────────────────────────────────────────────────
	eng, err := engine.Open(ctx, engine.Config{
		Path:             cfg.DBPath,
		Backend:          backend,
		VectorDimensions: cfg.VectorDimensions,
		ChunkGranularity: cfg.ChunkGranularity,
		Logger:           logger,
	})
	if err != nil {
		slog.Error("failed to open engine", "err", err)
		return 1
	}
	defer func() {
		if err := eng.Close(); err != nil {
			slog.Warn("engine close error", "err", err)
		}
	}()

	// ── Serve ─────────────────────────────────────────────────────────────────
	srv := mcptool.New(eng, observe.DefaultMetrics(), logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.MetricsAddr)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server error", "err", err)
		return 1
	}
	slog.Info("phantomstate stopped")
	return 0
}

// buildBackend constructs the embedding backend selected by cfg.
func buildBackend(cfg *config.Config) (embeddings.Backend, error) {
	switch cfg.Embedding.Backend {
	case config.BackendLocal:
		return ollamaembed.New(cfg.Embedding.BaseURL, cfg.Embedding.LocalModel,
			ollamaembed.WithDimensions(cfg.VectorDimensions),
			ollamaembed.WithTimeout(30*time.Second),
		)
	case config.BackendRemoteAPI:
		var opts []oaembed.Option
		if cfg.Embedding.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(cfg.Embedding.BaseURL))
		}
		opts = append(opts, oaembed.WithTimeout(30*time.Second))
		return oaembed.New(cfg.Embedding.APIKey, cfg.Embedding.RemoteModel, opts...)
	case config.BackendHash:
		return hashembed.New(cfg.VectorDimensions), nil
	}
	return nil, fmt.Errorf("unknown embedding backend %q", cfg.Embedding.Backend)
}

// serveMetrics runs the Prometheus scrape endpoint until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observe.MetricsHandler())

	server := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	slog.Info("metrics listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// newLogger builds a text slog handler at the configured level.
func newLogger(level config.LogLevel) *slog.Logger {
	var l slog.Level
	switch level {
	case config.LogDebug:
		l = slog.LevelDebug
	case config.LogWarn:
		l = slog.LevelWarn
	case config.LogError:
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
