package engine

import (
	"context"
	"database/sql"

	"github.com/phantomstate/phantomstate/pkg/narrative"
)

// CreateMoment creates a temporal marker. Moments are immutable after
// creation; sequence is the only ordering authority the engine consults.
//
// Fails with DuplicateId when the id is taken and DuplicateSequence when
// another moment already holds the sequence.
func (e *Engine) CreateMoment(ctx context.Context, id string, sequence int64, label string, metadata map[string]any) (string, error) {
	if id == "" {
		return "", narrative.Errorf(narrative.KindStorageError, "moment id must not be empty")
	}
	metaJSON, err := encodeBag(metadata)
	if err != nil {
		return "", err
	}

	if err := e.lockWrite(); err != nil {
		return "", err
	}
	defer e.mu.Unlock()

	tx, err := e.beginTx(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var existing string
	switch err := tx.QueryRowContext(ctx, `SELECT id FROM moments WHERE id = ?`, id).Scan(&existing); {
	case err == nil:
		return "", narrative.Errorf(narrative.KindDuplicateID, "moment already exists: %s", id)
	case err != sql.ErrNoRows:
		return "", narrative.WrapError(narrative.KindStorageError, err, "look up moment %s", id)
	}
	switch err := tx.QueryRowContext(ctx, `SELECT id FROM moments WHERE sequence = ?`, sequence).Scan(&existing); {
	case err == nil:
		return "", narrative.Errorf(narrative.KindDuplicateSequence, "sequence %d already used by moment %s", sequence, existing)
	case err != sql.ErrNoRows:
		return "", narrative.WrapError(narrative.KindStorageError, err, "look up sequence %d", sequence)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO moments (id, sequence, label, metadata) VALUES (?, ?, ?, ?)`,
		id, sequence, nullable(label), metaJSON)
	if err != nil {
		return "", narrative.WrapError(narrative.KindStorageError, err, "insert moment %s", id)
	}

	if err := commit(tx); err != nil {
		return "", err
	}
	return id, nil
}

// GetMoment retrieves a moment by id.
func (e *Engine) GetMoment(ctx context.Context, id string) (*narrative.Moment, error) {
	if err := e.lockRead(); err != nil {
		return nil, err
	}
	defer e.mu.RUnlock()

	var (
		m        narrative.Moment
		label    sql.NullString
		metadata sql.NullString
	)
	err := e.db.QueryRowContext(ctx,
		`SELECT id, sequence, label, metadata FROM moments WHERE id = ?`, id).
		Scan(&m.ID, &m.Sequence, &label, &metadata)
	if err == sql.ErrNoRows {
		return nil, narrative.Errorf(narrative.KindUnknownMoment, "moment not found: %s", id)
	}
	if err != nil {
		return nil, narrative.WrapError(narrative.KindStorageError, err, "look up moment %s", id)
	}
	m.Label = label.String
	if m.Metadata, err = decodeBag(metadata); err != nil {
		return nil, err
	}
	return &m, nil
}

// nullable stores empty strings as NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
