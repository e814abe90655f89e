package compliance

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CaseStatus is the verification state of a compliance case.
type CaseStatus string

const (
	StatusPendingProvider CaseStatus = "pending_provider"
	StatusApproved        CaseStatus = "approved"
	StatusRejected        CaseStatus = "rejected"
)

// Tier is the capability level granted to a verified subject.
type Tier string

const (
	TierBrowse  Tier = "browse"
	TierExecute Tier = "execute"
)

// EventSource identifies who produced a ledger event.
type EventSource string

const (
	SourceProvider EventSource = "provider"
	SourceSystem   EventSource = "system"
	SourceUser     EventSource = "user"
)

// Well-known ledger event types. The column is free-form; these cover the
// provider-driven lifecycle.
const (
	EventInquiryCreated   = "inquiry_created"
	EventInquiryCompleted = "inquiry_completed"
	EventInquiryFailed    = "inquiry_failed"
	EventInquiryPending   = "inquiry_pending"
)

// Case is the durable verification record for a subject. Exactly one case
// exists per subject; terminal cases stay queryable for audit.
type Case struct {
	ID                uuid.UUID
	SubjectID         string
	Status            CaseStatus
	Tier              Tier
	ProviderInquiryID string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Event is one append-only ledger entry for a case. Events are never mutated
// or deleted once written. Seq captures insertion order within a case so
// ordering is stable even when CreatedAt collides.
type Event struct {
	ID             uuid.UUID
	CaseID         uuid.UUID
	IdempotencyKey string
	Source         EventSource
	Type           string
	Detail         json.RawMessage
	CreatedAt      time.Time
	Seq            int64
}

// EventKey derives the dedupe key for a provider callback. It is a pure
// function of the subject, the provider session and the event type so retries
// separated by time still collapse onto the same ledger row.
func EventKey(subjectID, inquiryID, eventType string) string {
	return fmt.Sprintf("kyb:%s:%s:%s", subjectID, inquiryID, eventType)
}
