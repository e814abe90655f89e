package certificate

import "context"

// Store persists issued certificates. Certificates are write-once; there is
// deliberately no update operation.
type Store interface {
	Create(ctx context.Context, c Certificate) error
	FindByNumber(ctx context.Context, certificateNumber string) (Certificate, error)
}
