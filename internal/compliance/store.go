package compliance

import (
	"context"

	"github.com/google/uuid"
)

// Store persists compliance cases and their event ledger. Implementations
// return sentinel.ErrNotFound for missing rows and sentinel.ErrConflict when
// a unique constraint (subject, idempotency key) is violated.
type Store interface {
	CreateCase(ctx context.Context, c Case) error
	FindCaseBySubject(ctx context.Context, subjectID string) (Case, error)
	FindCaseByID(ctx context.Context, caseID uuid.UUID) (Case, error)

	// SetProviderInquiry attaches the external session reference.
	SetProviderInquiry(ctx context.Context, caseID uuid.UUID, inquiryID string) error

	// UpdateDecision writes status and tier in a single commit.
	UpdateDecision(ctx context.Context, caseID uuid.UUID, status CaseStatus, tier Tier) error

	// InsertEvent appends a ledger row together with its export outbox entry.
	// Returns sentinel.ErrConflict when the idempotency key already exists.
	InsertEvent(ctx context.Context, ev Event) error

	// ListEvents returns the ledger for a case ordered by created_at then
	// insertion order.
	ListEvents(ctx context.Context, caseID uuid.UUID) ([]Event, error)

	// UnexportedEvents returns up to limit ledger events not yet shipped to
	// the export pipeline, oldest first.
	UnexportedEvents(ctx context.Context, limit int) ([]Event, error)

	// MarkExported records that the export pipeline has shipped these events.
	MarkExported(ctx context.Context, eventIDs []uuid.UUID) error
}
