package engine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/phantomstate/phantomstate/pkg/narrative"
)

// RegisterCharacterParams configures RegisterCharacter.
type RegisterCharacterParams struct {
	// ID is the stable character identifier.
	ID string

	// Name is the display name.
	Name string

	// Traits is a free-form personality bag.
	Traits map[string]any

	// Voice is a free-form speech-pattern bag.
	Voice map[string]any

	// Upsert allows re-registration: the attribute bags and name are
	// replaced, the private vector store is left untouched. Without it a
	// second registration fails with DuplicateId.
	Upsert bool
}

// RegisterCharacter registers a character and provisions their private
// experiential-memory vector store in the same transaction. The store is
// named by a generated surrogate, not the character id, so ids of any
// shape are safe and distinct ids can never collide on a table name.
func (e *Engine) RegisterCharacter(ctx context.Context, p RegisterCharacterParams) (string, error) {
	if p.ID == "" {
		return "", narrative.Errorf(narrative.KindStorageError, "character id must not be empty")
	}
	if p.Name == "" {
		return "", narrative.Errorf(narrative.KindStorageError, "character name must not be empty")
	}
	traitsJSON, err := encodeBag(p.Traits)
	if err != nil {
		return "", err
	}
	voiceJSON, err := encodeBag(p.Voice)
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
	switch err := tx.QueryRowContext(ctx, `SELECT id FROM characters WHERE id = ?`, p.ID).Scan(&existing); {
	case err == nil:
		if !p.Upsert {
			return "", narrative.Errorf(narrative.KindDuplicateID, "character already registered: %s", p.ID)
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE characters SET name = ?, traits = ?, voice = ? WHERE id = ?`,
			p.Name, traitsJSON, voiceJSON, p.ID)
		if err != nil {
			return "", narrative.WrapError(narrative.KindStorageError, err, "update character %s", p.ID)
		}
		if err := commit(tx); err != nil {
			return "", err
		}
		return p.ID, nil
	case err != sql.ErrNoRows:
		return "", narrative.WrapError(narrative.KindStorageError, err, "look up character %s", p.ID)
	}

	// Surrogate vector-table name from the next characters rowid. Writes
	// are serialized, so the max is stable for the duration of the
	// transaction.
	var next int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(rowid), 0) + 1 FROM characters`).Scan(&next); err != nil {
		return "", narrative.WrapError(narrative.KindStorageError, err, "allocate vector table")
	}
	vecTable := fmt.Sprintf("memory_vec_%d", next)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO characters (id, name, traits, voice, vec_table) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Name, traitsJSON, voiceJSON, vecTable)
	if err != nil {
		return "", narrative.WrapError(narrative.KindStorageError, err, "insert character %s", p.ID)
	}

	if _, err := tx.ExecContext(ctx, ddlCharacterVec(vecTable, e.dims)); err != nil {
		return "", narrative.WrapError(narrative.KindStorageError, err, "create vector table for character %s", p.ID)
	}

	if err := commit(tx); err != nil {
		return "", err
	}
	e.log.Debug("character registered", "id", p.ID, "vec_table", vecTable)
	return p.ID, nil
}

// GetCharacter retrieves a character's record and attribute bags.
func (e *Engine) GetCharacter(ctx context.Context, id string) (*narrative.Character, error) {
	if err := e.lockRead(); err != nil {
		return nil, err
	}
	defer e.mu.RUnlock()

	return getCharacter(ctx, e.db, id)
}

// getCharacter is the lock-free variant shared with QueryState.
func getCharacter(ctx context.Context, q querier, id string) (*narrative.Character, error) {
	var (
		c      narrative.Character
		traits sql.NullString
		voice  sql.NullString
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, name, traits, voice FROM characters WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &traits, &voice)
	if err == sql.ErrNoRows {
		return nil, narrative.Errorf(narrative.KindUnknownCharacter, "character not found: %s", id)
	}
	if err != nil {
		return nil, narrative.WrapError(narrative.KindStorageError, err, "look up character %s", id)
	}
	if c.Traits, err = decodeBag(traits); err != nil {
		return nil, err
	}
	if c.Voice, err = decodeBag(voice); err != nil {
		return nil, err
	}
	return &c, nil
}
