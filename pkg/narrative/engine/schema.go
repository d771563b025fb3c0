package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/phantomstate/phantomstate/pkg/narrative"
)

// schema defines the relational tables. Referential integrity is enforced
// at the application level, not with foreign keys, so validation errors
// carry typed kinds instead of raw constraint failures.
//
// facts.created_at holds a moment id: facts are anchored to story time,
// never wall-clock time.
const schema = `
CREATE TABLE IF NOT EXISTS moments (
    id       TEXT PRIMARY KEY,
    sequence INTEGER NOT NULL UNIQUE,
    label    TEXT,
    metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_moments_sequence ON moments(sequence);

CREATE TABLE IF NOT EXISTS takes (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    parent_take_id INTEGER,
    branch_point   TEXT,
    created_at     TEXT NOT NULL DEFAULT (datetime('now')),
    status         TEXT NOT NULL DEFAULT 'active',
    notes          TEXT
);

CREATE INDEX IF NOT EXISTS idx_takes_parent ON takes(parent_take_id);
CREATE INDEX IF NOT EXISTS idx_takes_status ON takes(status);

CREATE TABLE IF NOT EXISTS characters (
    id        TEXT PRIMARY KEY,
    name      TEXT NOT NULL,
    traits    TEXT,
    voice     TEXT,
    vec_table TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS facts (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    content    TEXT NOT NULL,
    category   TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS knowledge_events (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    character_id TEXT NOT NULL,
    fact_id      INTEGER NOT NULL,
    moment_id    TEXT NOT NULL,
    take_id      INTEGER NOT NULL,
    source       TEXT,
    UNIQUE (character_id, fact_id, take_id)
);

CREATE INDEX IF NOT EXISTS idx_knowledge_character ON knowledge_events(character_id);
CREATE INDEX IF NOT EXISTS idx_knowledge_take ON knowledge_events(take_id);

CREATE TABLE IF NOT EXISTS memory_metadata (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    character_id TEXT NOT NULL,
    chunk        TEXT NOT NULL,
    moment_id    TEXT NOT NULL,
    take_id      INTEGER NOT NULL,
    chunk_type   TEXT NOT NULL,
    tags         TEXT
);

CREATE INDEX IF NOT EXISTS idx_memory_scope
    ON memory_metadata(character_id, moment_id, take_id, chunk_type);

CREATE TABLE IF NOT EXISTS corpus (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    content    TEXT NOT NULL,
    source     TEXT NOT NULL,
    section    TEXT,
    category   TEXT,
    version    TEXT,
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    metadata   TEXT
);

CREATE INDEX IF NOT EXISTS idx_corpus_scope ON corpus(source, category, version);

CREATE TABLE IF NOT EXISTS engine_meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// metaDimensionsKey is the engine_meta row that pins the vector width for
// the lifetime of the database file.
const metaDimensionsKey = "vector_dimensions"

// ddlCorpusVec returns the DDL for the shared corpus vector index with the
// embedding dimension baked into the column type.
func ddlCorpusVec(dimensions int) string {
	return fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS corpus_vec USING vec0(embedding float[%d])`, dimensions)
}

// ddlCharacterVec returns the DDL for one character's private vector
// index. table is a generated surrogate name, never a raw character id.
func ddlCharacterVec(table string, dimensions int) string {
	return fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(embedding float[%d])`, table, dimensions)
}

// migrate applies the schema (idempotent) and pins the vector dimension.
// A database previously created with a different dimension is rejected
// before any statement can touch its vector tables.
func migrate(ctx context.Context, db *sql.DB, dimensions int) error {
	if err := pinDimensions(ctx, db, dimensions); err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return narrative.WrapError(narrative.KindStorageError, err, "apply schema")
	}
	if _, err := db.ExecContext(ctx, ddlCorpusVec(dimensions)); err != nil {
		return narrative.WrapError(narrative.KindStorageError, err, "create corpus vector table")
	}
	return nil
}

// pinDimensions records the vector width on first open and verifies it on
// every subsequent open.
func pinDimensions(ctx context.Context, db *sql.DB, dimensions int) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS engine_meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return narrative.WrapError(narrative.KindStorageError, err, "create engine_meta")
	}

	var stored string
	err := db.QueryRowContext(ctx, `SELECT value FROM engine_meta WHERE key = ?`, metaDimensionsKey).Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		_, err = db.ExecContext(ctx, `INSERT INTO engine_meta (key, value) VALUES (?, ?)`,
			metaDimensionsKey, strconv.Itoa(dimensions))
		if err != nil {
			return narrative.WrapError(narrative.KindStorageError, err, "pin vector dimensions")
		}
		return nil
	case err != nil:
		return narrative.WrapError(narrative.KindStorageError, err, "read pinned dimensions")
	}

	pinned, err := strconv.Atoi(stored)
	if err != nil {
		return narrative.WrapError(narrative.KindCorruptRecord, err, "pinned dimensions %q", stored)
	}
	if pinned != dimensions {
		return narrative.Errorf(narrative.KindDimensionMismatch,
			"database was created with %d dimensions, configured for %d", pinned, dimensions)
	}
	return nil
}
