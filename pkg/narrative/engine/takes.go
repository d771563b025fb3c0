package engine

import (
	"context"
	"database/sql"

	"github.com/phantomstate/phantomstate/pkg/narrative"
)

// CreateTakeParams configures CreateTake. The zero value creates a root
// take with no branch point.
type CreateTakeParams struct {
	// Parent is the parent take id, or nil for a root take.
	Parent *int64

	// BranchPoint is the moment id where the take diverges from its
	// parent. Informational only.
	BranchPoint string

	// Notes is free-form commentary.
	Notes string
}

// CreateTake creates a new take. A given parent must exist and a given
// branch point must be a real moment; status defaults to active.
func (e *Engine) CreateTake(ctx context.Context, p CreateTakeParams) (int64, error) {
	if err := e.lockWrite(); err != nil {
		return 0, err
	}
	defer e.mu.Unlock()

	tx, err := e.beginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if p.Parent != nil {
		if err := requireTake(ctx, tx, *p.Parent); err != nil {
			return 0, err
		}
	}
	if p.BranchPoint != "" {
		if _, err := momentSequence(ctx, tx, p.BranchPoint); err != nil {
			return 0, err
		}
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO takes (parent_take_id, branch_point, notes) VALUES (?, ?, ?)`,
		p.Parent, nullable(p.BranchPoint), nullable(p.Notes))
	if err != nil {
		return 0, narrative.WrapError(narrative.KindStorageError, err, "insert take")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, narrative.WrapError(narrative.KindStorageError, err, "take id")
	}

	if err := commit(tx); err != nil {
		return 0, err
	}
	return id, nil
}

// Branch creates a take that diverges from parent at branchPoint. It is
// CreateTake with both fields required: branching is purely additive and
// never modifies rows in ancestor takes.
func (e *Engine) Branch(ctx context.Context, parent int64, branchPoint, notes string) (int64, error) {
	if branchPoint == "" {
		return 0, narrative.Errorf(narrative.KindUnknownMoment, "branch point must not be empty")
	}
	return e.CreateTake(ctx, CreateTakeParams{
		Parent:      &parent,
		BranchPoint: branchPoint,
		Notes:       notes,
	})
}

// SetTakeStatus updates a take's lifecycle status. Status is the only
// mutable field on a take.
func (e *Engine) SetTakeStatus(ctx context.Context, takeID int64, status narrative.TakeStatus) error {
	if !status.IsValid() {
		return narrative.Errorf(narrative.KindInvalidEnum, "unknown take status %q", status)
	}

	if err := e.lockWrite(); err != nil {
		return err
	}
	defer e.mu.Unlock()

	res, err := e.db.ExecContext(ctx, `UPDATE takes SET status = ? WHERE id = ?`, string(status), takeID)
	if err != nil {
		return narrative.WrapError(narrative.KindStorageError, err, "update take %d", takeID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return narrative.WrapError(narrative.KindStorageError, err, "update take %d", takeID)
	}
	if n == 0 {
		return narrative.Errorf(narrative.KindUnknownTake, "take not found: %d", takeID)
	}
	return nil
}

// GetAncestry returns a take's lineage as a root-first list of take ids,
// ending with the take itself.
func (e *Engine) GetAncestry(ctx context.Context, takeID int64) ([]int64, error) {
	if err := e.lockRead(); err != nil {
		return nil, err
	}
	defer e.mu.RUnlock()

	if err := requireTake(ctx, e.db, takeID); err != nil {
		return nil, err
	}

	rows, err := e.db.QueryContext(ctx, queryAncestry, takeID)
	if err != nil {
		return nil, narrative.WrapError(narrative.KindStorageError, err, "walk ancestry of take %d", takeID)
	}
	defer rows.Close()

	var lineage []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, narrative.WrapError(narrative.KindStorageError, err, "scan ancestry row")
		}
		lineage = append(lineage, id)
	}
	if err := rows.Err(); err != nil {
		return nil, narrative.WrapError(narrative.KindStorageError, err, "walk ancestry of take %d", takeID)
	}

	// The recursive walk yields child-first; callers want root-first.
	for i, j := 0, len(lineage)-1; i < j; i, j = i+1, j-1 {
		lineage[i], lineage[j] = lineage[j], lineage[i]
	}
	return lineage, nil
}

// ListTakesParams filters ListTakes. Zero-value fields match everything.
type ListTakesParams struct {
	// Status restricts results to takes in this lifecycle state.
	Status narrative.TakeStatus

	// BranchPoint restricts results to takes that diverged at this moment.
	BranchPoint string
}

// ListTakes returns takes matching the filter, ordered by id.
func (e *Engine) ListTakes(ctx context.Context, p ListTakesParams) ([]narrative.Take, error) {
	if p.Status != "" && !p.Status.IsValid() {
		return nil, narrative.Errorf(narrative.KindInvalidEnum, "unknown take status %q", p.Status)
	}

	if err := e.lockRead(); err != nil {
		return nil, err
	}
	defer e.mu.RUnlock()

	query := `SELECT id, parent_take_id, branch_point, created_at, status, notes FROM takes WHERE 1=1`
	var args []any
	if p.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(p.Status))
	}
	if p.BranchPoint != "" {
		query += ` AND branch_point = ?`
		args = append(args, p.BranchPoint)
	}
	query += ` ORDER BY id`

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, narrative.WrapError(narrative.KindStorageError, err, "list takes")
	}
	defer rows.Close()

	takes := []narrative.Take{}
	for rows.Next() {
		var (
			t           narrative.Take
			parent      sql.NullInt64
			branchPoint sql.NullString
			notes       sql.NullString
			status      string
		)
		if err := rows.Scan(&t.ID, &parent, &branchPoint, &t.CreatedAt, &status, &notes); err != nil {
			return nil, narrative.WrapError(narrative.KindStorageError, err, "scan take row")
		}
		if parent.Valid {
			v := parent.Int64
			t.ParentTakeID = &v
		}
		t.BranchPoint = branchPoint.String
		t.Notes = notes.String
		t.Status = narrative.TakeStatus(status)
		takes = append(takes, t)
	}
	if err := rows.Err(); err != nil {
		return nil, narrative.WrapError(narrative.KindStorageError, err, "list takes")
	}
	return takes, nil
}
