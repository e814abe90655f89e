package identity

import "context"

// Store exposes read-then-conditional-write semantics on the subject's
// primary status field. UpdateStatus reports changed=false when the record
// already carries the target status, which lets callers answer provider
// retries without re-writing.
type Store interface {
	Find(ctx context.Context, subjectID string) (Record, error)
	UpdateStatus(ctx context.Context, subjectID string, target VerificationStatus) (changed bool, err error)
}
