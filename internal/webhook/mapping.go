package webhook

import (
	"cleargate/internal/compliance"
	"cleargate/internal/identity"
)

// statusMap translates the provider's inquiry-status vocabulary into internal
// verification states. Anything the table does not know collapses to pending:
// an unrecognised provider status must never grant approval.
var statusMap = map[string]identity.VerificationStatus{
	"approved":          identity.StatusApproved,
	"completed":         identity.StatusApproved,
	"success":           identity.StatusApproved,
	"declined":          identity.StatusRejected,
	"failed":            identity.StatusRejected,
	"expired":           identity.StatusRejected,
	"abandoned":         identity.StatusRejected,
	"created":           identity.StatusPending,
	"pending":           identity.StatusPending,
	"needs_review":      identity.StatusPending,
	"marked_for_review": identity.StatusPending,
	"resubmission":      identity.StatusPending,
}

func mapProviderStatus(providerStatus string) identity.VerificationStatus {
	if mapped, ok := statusMap[providerStatus]; ok {
		return mapped
	}
	return identity.StatusPending
}

// caseTarget converts the internal verification status into the (status, tier)
// pair applied to the compliance case. Execute tier is only ever paired with
// an approved status.
func caseTarget(status identity.VerificationStatus) (compliance.CaseStatus, compliance.Tier) {
	switch status {
	case identity.StatusApproved:
		return compliance.StatusApproved, compliance.TierExecute
	case identity.StatusRejected:
		return compliance.StatusRejected, compliance.TierBrowse
	default:
		return compliance.StatusPendingProvider, compliance.TierBrowse
	}
}

// eventType names the ledger entry written for an internal status.
func eventType(status identity.VerificationStatus) string {
	switch status {
	case identity.StatusApproved:
		return compliance.EventInquiryCompleted
	case identity.StatusRejected:
		return compliance.EventInquiryFailed
	default:
		return compliance.EventInquiryPending
	}
}
