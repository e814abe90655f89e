package identity

import "time"

// VerificationStatus mirrors the status field on the primary subject record.
// The webhook handler is the only writer.
type VerificationStatus string

const (
	StatusPending  VerificationStatus = "pending"
	StatusApproved VerificationStatus = "approved"
	StatusRejected VerificationStatus = "rejected"
)

// Record is the primary identity record for a counterparty subject. Cleargate
// consumes it; creation and the rest of its fields belong to the upstream
// identity service.
type Record struct {
	SubjectID string
	Status    VerificationStatus
	UpdatedAt time.Time
}
