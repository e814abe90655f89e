package compliance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"cleargate/pkg/platform/sentinel"
	txcontext "cleargate/pkg/platform/tx"
)

// PostgresStore persists cases and the event ledger in PostgreSQL.
//
// Schema:
//
//	compliance_cases(id uuid pk, subject_id text unique, status text,
//	    tier text, provider_inquiry_id text, created_at, updated_at)
//	compliance_events(seq bigserial pk, id uuid unique, case_id uuid,
//	    idempotency_key text unique, source text, type text, detail jsonb,
//	    created_at timestamptz, exported_at timestamptz null)
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

func (s *PostgresStore) CreateCase(ctx context.Context, c Case) error {
	query := `
		INSERT INTO compliance_cases (id, subject_id, status, tier, provider_inquiry_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		c.ID, c.SubjectID, string(c.Status), string(c.Tier), c.ProviderInquiryID, c.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("case for subject %s: %w", c.SubjectID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindCaseBySubject(ctx context.Context, subjectID string) (Case, error) {
	return s.scanCase(s.execer(ctx).QueryRowContext(ctx, `
		SELECT id, subject_id, status, tier, COALESCE(provider_inquiry_id, ''), created_at, updated_at
		FROM compliance_cases
		WHERE subject_id = $1
	`, subjectID))
}

func (s *PostgresStore) FindCaseByID(ctx context.Context, caseID uuid.UUID) (Case, error) {
	return s.scanCase(s.execer(ctx).QueryRowContext(ctx, `
		SELECT id, subject_id, status, tier, COALESCE(provider_inquiry_id, ''), created_at, updated_at
		FROM compliance_cases
		WHERE id = $1
	`, caseID))
}

func (s *PostgresStore) scanCase(row *sql.Row) (Case, error) {
	var c Case
	var status, tier string
	err := row.Scan(&c.ID, &c.SubjectID, &status, &tier, &c.ProviderInquiryID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Case{}, fmt.Errorf("case: %w", sentinel.ErrNotFound)
		}
		return Case{}, fmt.Errorf("scan case: %w", err)
	}
	c.Status = CaseStatus(status)
	c.Tier = Tier(tier)
	return c, nil
}

func (s *PostgresStore) SetProviderInquiry(ctx context.Context, caseID uuid.UUID, inquiryID string) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE compliance_cases
		SET provider_inquiry_id = $2, updated_at = now()
		WHERE id = $1
	`, caseID, inquiryID)
	if err != nil {
		return fmt.Errorf("set provider inquiry: %w", err)
	}
	return requireRow(res, caseID)
}

func (s *PostgresStore) UpdateDecision(ctx context.Context, caseID uuid.UUID, status CaseStatus, tier Tier) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE compliance_cases
		SET status = $2, tier = $3, updated_at = now()
		WHERE id = $1
	`, caseID, string(status), string(tier))
	if err != nil {
		return fmt.Errorf("update decision: %w", err)
	}
	return requireRow(res, caseID)
}

// InsertEvent appends one ledger row. ON CONFLICT keeps a duplicate
// idempotency key from aborting an enclosing transaction; the zero-row
// result is reported as sentinel.ErrConflict instead.
func (s *PostgresStore) InsertEvent(ctx context.Context, ev Event) error {
	query := `
		INSERT INTO compliance_events (id, case_id, idempotency_key, source, type, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (idempotency_key) DO NOTHING
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		ev.ID, ev.CaseID, ev.IdempotencyKey, string(ev.Source), ev.Type, []byte(ev.Detail), ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("event key %s: %w", ev.IdempotencyKey, sentinel.ErrConflict)
	}
	return nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, caseID uuid.UUID) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_id, idempotency_key, source, type, detail, created_at, seq
		FROM compliance_events
		WHERE case_id = $1
		ORDER BY created_at, seq
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *PostgresStore) UnexportedEvents(ctx context.Context, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_id, idempotency_key, source, type, detail, created_at, seq
		FROM compliance_events
		WHERE exported_at IS NULL
		ORDER BY seq
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query unexported events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *PostgresStore) MarkExported(ctx context.Context, eventIDs []uuid.UUID) error {
	if len(eventIDs) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE compliance_events
		SET exported_at = now()
		WHERE id = ANY($1)
	`, pq.Array(eventIDs))
	if err != nil {
		return fmt.Errorf("mark exported: %w", err)
	}
	return nil
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var ev Event
		var source string
		var detail []byte
		err := rows.Scan(&ev.ID, &ev.CaseID, &ev.IdempotencyKey, &source, &ev.Type, &detail, &ev.CreatedAt, &ev.Seq)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Source = EventSource(source)
		ev.Detail = detail
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func requireRow(res sql.Result, caseID uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("case %s: %w", caseID, sentinel.ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
