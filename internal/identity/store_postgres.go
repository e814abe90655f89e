package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cleargate/pkg/platform/sentinel"
	txcontext "cleargate/pkg/platform/tx"
)

// PostgresStore reads and conditionally writes the subject_records table
// owned by the upstream identity service.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Find(ctx context.Context, subjectID string) (Record, error) {
	var rec Record
	var status string
	err := s.execer(ctx).QueryRowContext(ctx, `
		SELECT subject_id, status, updated_at
		FROM subject_records
		WHERE subject_id = $1
	`, subjectID).Scan(&rec.SubjectID, &status, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, fmt.Errorf("identity record %s: %w", subjectID, sentinel.ErrNotFound)
		}
		return Record{}, fmt.Errorf("find identity record: %w", err)
	}
	rec.Status = VerificationStatus(status)
	return rec, nil
}

// UpdateStatus writes the target status only when it differs from the current
// value. The WHERE clause makes the no-op decision and the write one atomic
// statement, so concurrent retries for the same subject converge.
func (s *PostgresStore) UpdateStatus(ctx context.Context, subjectID string, target VerificationStatus) (bool, error) {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE subject_records
		SET status = $2, updated_at = now()
		WHERE subject_id = $1 AND status <> $2
	`, subjectID, string(target))
	if err != nil {
		return false, fmt.Errorf("update identity status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	// Zero rows means either already-at-target or missing; distinguish them.
	if _, err := s.Find(ctx, subjectID); err != nil {
		return false, err
	}
	return false, nil
}
