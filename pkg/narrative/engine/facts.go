package engine

import (
	"context"
	"database/sql"

	"github.com/phantomstate/phantomstate/pkg/narrative"
)

// LogFact records a world truth. Facts are observer-independent: they
// never belong to a character, and a character only sees a fact once a
// knowledge event admits it.
func (e *Engine) LogFact(ctx context.Context, content, category, momentID string) (int64, error) {
	if err := e.lockWrite(); err != nil {
		return 0, err
	}
	defer e.mu.Unlock()

	tx, err := e.beginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := momentSequence(ctx, tx, momentID); err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO facts (content, category, created_at) VALUES (?, ?, ?)`,
		content, category, momentID)
	if err != nil {
		return 0, narrative.WrapError(narrative.KindStorageError, err, "insert fact")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, narrative.WrapError(narrative.KindStorageError, err, "fact id")
	}

	if err := commit(tx); err != nil {
		return 0, err
	}
	return id, nil
}

// LogKnowledge records that a character came to know a fact in a take at
// a moment. At most one event exists per (character, fact, take): a
// repeat call returns the existing event id unchanged, even when source
// or moment differ — first write wins.
func (e *Engine) LogKnowledge(ctx context.Context, characterID string, factID int64, momentID string, takeID int64, source string) (int64, error) {
	if err := e.lockWrite(); err != nil {
		return 0, err
	}
	defer e.mu.Unlock()

	tx, err := e.beginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := characterVecTable(ctx, tx, characterID); err != nil {
		return 0, err
	}
	if err := requireFact(ctx, tx, factID); err != nil {
		return 0, err
	}
	if _, err := momentSequence(ctx, tx, momentID); err != nil {
		return 0, err
	}
	if err := requireTake(ctx, tx, takeID); err != nil {
		return 0, err
	}

	var existing int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM knowledge_events WHERE character_id = ? AND fact_id = ? AND take_id = ?`,
		characterID, factID, takeID).Scan(&existing)
	switch {
	case err == nil:
		return existing, nil
	case err != sql.ErrNoRows:
		return 0, narrative.WrapError(narrative.KindStorageError, err, "look up knowledge event")
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO knowledge_events (character_id, fact_id, moment_id, take_id, source) VALUES (?, ?, ?, ?, ?)`,
		characterID, factID, momentID, takeID, nullable(source))
	if err != nil {
		return 0, narrative.WrapError(narrative.KindStorageError, err, "insert knowledge event")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, narrative.WrapError(narrative.KindStorageError, err, "knowledge event id")
	}

	if err := commit(tx); err != nil {
		return 0, err
	}
	return id, nil
}
