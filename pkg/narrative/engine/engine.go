// Package engine implements the Phantom State narrative engine on an
// embedded SQLite database with the sqlite-vec vector extension.
//
// The engine is a plain library with a synchronous API: writes are
// serialized, reads run concurrently with each other, and every
// multi-statement write commits as one transaction. Embedding always
// happens before a transaction opens so a failing backend can never leave
// partial state behind.
//
// Usage:
//
//	eng, err := engine.Open(ctx, engine.Config{
//	    Path:             "narrative.db",
//	    Backend:          backend,
//	    VectorDimensions: backend.Dimensions(),
//	})
//	if err != nil { … }
//	defer eng.Close()
package engine

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"

	"github.com/phantomstate/phantomstate/pkg/chunker"
	"github.com/phantomstate/phantomstate/pkg/narrative"
	"github.com/phantomstate/phantomstate/pkg/provider/embeddings"
)

// Config carries everything needed to open an engine.
type Config struct {
	// Path is the database file path. ":memory:" opens a throwaway store.
	Path string

	// Backend produces embedding vectors for memories, corpus chunks, and
	// query text.
	Backend embeddings.Backend

	// VectorDimensions is the pinned vector width. It must match the
	// backend's output and, for a pre-existing database, the width the
	// database was created with.
	VectorDimensions int

	// ChunkGranularity is the default splitter for LoadDocument.
	// Empty means chunker.Paragraph.
	ChunkGranularity chunker.Granularity

	// Logger receives operational log lines. Nil means slog.Default().
	Logger *slog.Logger
}

// Engine is the narrative state engine. All methods are safe for
// concurrent use: the embedded store serializes writes behind a single
// writer lock while reads proceed concurrently with each other.
type Engine struct {
	mu sync.RWMutex
	db *sql.DB

	backend     embeddings.Backend
	dims        int
	granularity chunker.Granularity
	log         *slog.Logger

	closed bool
}

// Open opens (creating if necessary) the database at cfg.Path, loads the
// vector extension, applies the idempotent schema, and pins the vector
// dimension. Opening a database whose vector tables were created with a
// different dimension fails with a DimensionMismatch error.
func Open(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.Path == "" {
		return nil, narrative.Errorf(narrative.KindStorageError, "database path must not be empty")
	}
	if cfg.Backend == nil {
		return nil, narrative.Errorf(narrative.KindStorageError, "embedding backend must not be nil")
	}
	if cfg.VectorDimensions <= 0 {
		return nil, narrative.Errorf(narrative.KindDimensionMismatch, "vector dimensions must be positive, got %d", cfg.VectorDimensions)
	}
	granularity := cfg.ChunkGranularity
	if granularity == "" {
		granularity = chunker.Paragraph
	}
	if !granularity.IsValid() {
		return nil, narrative.Errorf(narrative.KindInvalidEnum, "unknown chunk granularity %q", granularity)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, narrative.WrapError(narrative.KindStorageError, err, "open database %q", cfg.Path)
	}

	if err := migrate(ctx, db, cfg.VectorDimensions); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("engine opened",
		"path", cfg.Path,
		"dimensions", cfg.VectorDimensions,
		"model", cfg.Backend.ModelID(),
	)

	return &Engine{
		db:          db,
		backend:     cfg.Backend,
		dims:        cfg.VectorDimensions,
		granularity: granularity,
		log:         logger,
	}, nil
}

// Close releases the database handle. Close is idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if err := e.db.Close(); err != nil {
		return narrative.WrapError(narrative.KindStorageError, err, "close database")
	}
	return nil
}

// querier abstracts *sql.DB and *sql.Tx for the validation helpers.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// lockWrite takes the writer lock, failing if the engine is closed.
// The caller must defer e.mu.Unlock() on success.
func (e *Engine) lockWrite() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return narrative.Errorf(narrative.KindStorageError, "engine is closed")
	}
	return nil
}

// lockRead takes the reader lock, failing if the engine is closed.
// The caller must defer e.mu.RUnlock() on success.
func (e *Engine) lockRead() error {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return narrative.Errorf(narrative.KindStorageError, "engine is closed")
	}
	return nil
}

// beginTx starts a write transaction.
func (e *Engine) beginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, narrative.WrapError(narrative.KindStorageError, err, "begin transaction")
	}
	return tx, nil
}

// commit finalizes a write transaction.
func commit(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return narrative.WrapError(narrative.KindStorageError, err, "commit transaction")
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Referential validation helpers
// ─────────────────────────────────────────────────────────────────────────────

// momentSequence resolves a moment id to its sequence number.
func momentSequence(ctx context.Context, q querier, momentID string) (int64, error) {
	var seq int64
	err := q.QueryRowContext(ctx, `SELECT sequence FROM moments WHERE id = ?`, momentID).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, narrative.Errorf(narrative.KindUnknownMoment, "moment not found: %s", momentID)
	}
	if err != nil {
		return 0, narrative.WrapError(narrative.KindStorageError, err, "look up moment %s", momentID)
	}
	return seq, nil
}

// requireTake verifies the take exists.
func requireTake(ctx context.Context, q querier, takeID int64) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM takes WHERE id = ?`, takeID).Scan(&one)
	if err == sql.ErrNoRows {
		return narrative.Errorf(narrative.KindUnknownTake, "take not found: %d", takeID)
	}
	if err != nil {
		return narrative.WrapError(narrative.KindStorageError, err, "look up take %d", takeID)
	}
	return nil
}

// requireFact verifies the fact exists.
func requireFact(ctx context.Context, q querier, factID int64) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM facts WHERE id = ?`, factID).Scan(&one)
	if err == sql.ErrNoRows {
		return narrative.Errorf(narrative.KindUnknownFact, "fact not found: %d", factID)
	}
	if err != nil {
		return narrative.WrapError(narrative.KindStorageError, err, "look up fact %d", factID)
	}
	return nil
}

// characterVecTable resolves a character id to the surrogate name of its
// private vector table. Every memory row is addressable only through this
// handle, which is what keeps cross-character reads structurally
// impossible.
func characterVecTable(ctx context.Context, q querier, characterID string) (string, error) {
	var table string
	err := q.QueryRowContext(ctx, `SELECT vec_table FROM characters WHERE id = ?`, characterID).Scan(&table)
	if err == sql.ErrNoRows {
		return "", narrative.Errorf(narrative.KindUnknownCharacter, "character not found: %s", characterID)
	}
	if err != nil {
		return "", narrative.WrapError(narrative.KindStorageError, err, "look up character %s", characterID)
	}
	return table, nil
}

// embedText runs the backend and enforces the width contract before any
// row is written.
func (e *Engine) embedText(ctx context.Context, text string) (string, error) {
	vec, err := e.backend.Embed(ctx, text)
	if err != nil {
		return "", narrative.WrapError(narrative.KindEmbeddingUnavailable, err, "embed text")
	}
	if len(vec) != e.dims {
		return "", narrative.Errorf(narrative.KindDimensionMismatch,
			"backend %s returned %d dimensions, engine pinned to %d", e.backend.ModelID(), len(vec), e.dims)
	}
	return serializeVector(vec), nil
}

// embedTexts is the batch variant of embedText.
func (e *Engine) embedTexts(ctx context.Context, texts []string) ([]string, error) {
	vecs, err := e.backend.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, narrative.WrapError(narrative.KindEmbeddingUnavailable, err, "embed %d texts", len(texts))
	}
	if len(vecs) != len(texts) {
		return nil, narrative.Errorf(narrative.KindEmbeddingUnavailable,
			"backend %s returned %d embeddings for %d texts", e.backend.ModelID(), len(vecs), len(texts))
	}
	out := make([]string, len(vecs))
	for i, vec := range vecs {
		if len(vec) != e.dims {
			return nil, narrative.Errorf(narrative.KindDimensionMismatch,
				"backend %s returned %d dimensions, engine pinned to %d", e.backend.ModelID(), len(vec), e.dims)
		}
		out[i] = serializeVector(vec)
	}
	return out, nil
}
