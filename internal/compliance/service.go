package compliance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"cleargate/pkg/platform/sentinel"
)

// Service owns the case lifecycle. Status and tier are only ever written
// through ApplyDecision so the tier invariant (execute implies approved)
// holds for every reachable state.
type Service struct {
	store  Store
	logger *slog.Logger
}

func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// FindOrCreate returns the subject's case, creating one at
// (pending_provider, browse) when none exists. A concurrent create racing on
// the subject unique index falls back to the winner's row.
func (s *Service) FindOrCreate(ctx context.Context, subjectID string) (Case, error) {
	c, err := s.store.FindCaseBySubject(ctx, subjectID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return Case{}, fmt.Errorf("find case: %w", err)
	}

	c = Case{
		ID:        uuid.New(),
		SubjectID: subjectID,
		Status:    StatusPendingProvider,
		Tier:      TierBrowse,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := s.store.CreateCase(ctx, c); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return s.store.FindCaseBySubject(ctx, subjectID)
		}
		return Case{}, fmt.Errorf("create case: %w", err)
	}
	return c, nil
}

// RecordProviderInquiry attaches the external session reference. Re-setting
// the same value is a no-op.
func (s *Service) RecordProviderInquiry(ctx context.Context, caseID uuid.UUID, inquiryID string) error {
	c, err := s.store.FindCaseByID(ctx, caseID)
	if err != nil {
		return err
	}
	if c.ProviderInquiryID == inquiryID {
		return nil
	}
	return s.store.SetProviderInquiry(ctx, caseID, inquiryID)
}

// ApplyDecision moves the case to the target (status, tier) pair. Applying a
// decision the case already reflects is a successful no-op, which is what
// makes provider retries converge. A tier of execute on anything but an
// approved status is rejected outright.
func (s *Service) ApplyDecision(ctx context.Context, caseID uuid.UUID, status CaseStatus, tier Tier) (Case, error) {
	if tier == TierExecute && status != StatusApproved {
		return Case{}, fmt.Errorf("tier %s requires approved status: %w", tier, sentinel.ErrInvalidState)
	}

	c, err := s.store.FindCaseByID(ctx, caseID)
	if err != nil {
		return Case{}, err
	}
	if c.Status == status && c.Tier == tier {
		return c, nil
	}

	if err := s.store.UpdateDecision(ctx, caseID, status, tier); err != nil {
		return Case{}, err
	}
	c.Status = status
	c.Tier = tier
	return c, nil
}

// AppendEvent writes one ledger row keyed by idempotencyKey. A duplicate key
// returns (nil, nil): no new row, not an error. That is the dedupe contract
// guarding against provider callback retries.
func (s *Service) AppendEvent(ctx context.Context, caseID uuid.UUID, idempotencyKey string, source EventSource, eventType string, detail json.RawMessage) (*Event, error) {
	ev := Event{
		ID:             uuid.New(),
		CaseID:         caseID,
		IdempotencyKey: idempotencyKey,
		Source:         source,
		Type:           eventType,
		Detail:         detail,
		CreatedAt:      time.Now(),
	}
	if err := s.store.InsertEvent(ctx, ev); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			s.logger.DebugContext(ctx, "ledger event deduplicated",
				"case_id", caseID,
				"idempotency_key", idempotencyKey,
			)
			return nil, nil
		}
		return nil, fmt.Errorf("append event: %w", err)
	}
	return &ev, nil
}

// ListEvents returns the full ledger for a case in stable order.
func (s *Service) ListEvents(ctx context.Context, caseID uuid.UUID) ([]Event, error) {
	return s.store.ListEvents(ctx, caseID)
}
