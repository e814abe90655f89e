package certificate

import (
	"context"
	"crypto/hmac"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"cleargate/internal/platform/metrics"
)

// Service issues and verifies settlement certificates. Verification never
// mutates the stored record and never propagates a signer infrastructure
// failure as a fault: callers always get a VerificationResult with Valid set.
type Service struct {
	store         Store
	signer        Signer
	signerTimeout time.Duration
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

func NewService(store Store, signer Signer, signerTimeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		store:         store,
		signer:        signer,
		signerTimeout: signerTimeout,
		logger:        logger,
		metrics:       m,
	}
}

// Issue signs the settlement payload and persists the certificate. The
// canonical payload excludes signature fields, so the attestation never
// covers itself. A missing certificate number is assigned here.
func (s *Service) Issue(ctx context.Context, c Certificate) (Certificate, error) {
	if c.CertificateNumber == "" {
		c.CertificateNumber = newCertificateNumber()
	}
	if c.IssuedAt.IsZero() {
		c.IssuedAt = time.Now().UTC()
	}

	canonical, err := CanonicalPayload(c)
	if err != nil {
		return Certificate{}, err
	}
	digest := Digest(canonical)

	signCtx, cancel := context.WithTimeout(ctx, s.signerTimeout)
	defer cancel()
	sig, err := s.signer.Sign(signCtx, digest[:])
	if err != nil {
		return Certificate{}, fmt.Errorf("sign certificate: %w", err)
	}

	c.Signature = sig.Signature
	c.SignatureAlg = sig.Algorithm
	c.KMSKeyID = sig.KeyID
	signedAt := sig.SignedAt
	c.SignedAt = &signedAt

	if err := s.store.Create(ctx, c); err != nil {
		return Certificate{}, err
	}
	return c, nil
}

// Verify rebuilds the canonical payload from the stored fields and checks it
// against the certificate's attestation. Modern certificates go through the
// signer; legacy ones fall back to a plain content-hash comparison, reported
// as such so callers can tell the assurance levels apart.
func (s *Service) Verify(ctx context.Context, certificateNumber string) (VerificationResult, error) {
	c, err := s.store.FindByNumber(ctx, certificateNumber)
	if err != nil {
		return VerificationResult{}, err
	}

	result := VerificationResult{
		CertificateNumber: c.CertificateNumber,
		VerifiedAt:        time.Now().UTC(),
	}

	canonical, err := CanonicalPayload(c)
	if err != nil {
		return VerificationResult{}, err
	}
	digest := Digest(canonical)

	if c.HasSignature() {
		result.Method = MethodSignature
		result.SignatureAlg = c.SignatureAlg
		result.KMSKeyID = c.KMSKeyID
		result.SignedAt = c.SignedAt

		verifyCtx, cancel := context.WithTimeout(ctx, s.signerTimeout)
		defer cancel()
		valid, err := s.signer.Verify(verifyCtx, digest[:], c.Signature, c.KMSKeyID)
		if err != nil {
			s.logger.ErrorContext(ctx, "signer unavailable during verification",
				"certificate_number", c.CertificateNumber,
				"error", err,
			)
			result.Valid = false
			result.SignerErr = true
			result.Note = fmt.Sprintf("signature could not be checked: %v", err)
			s.count(result.Method, "signer_error")
			return result, nil
		}
		result.Valid = valid
		if !valid {
			result.Note = "signature does not match certificate contents"
		}
		s.count(result.Method, outcome(valid))
		return result, nil
	}

	// Legacy vintage: compare a recomputed content hash byte for byte.
	result.Method = MethodLegacyHash
	expected := hex.EncodeToString(digest[:])
	stored := strings.TrimPrefix(strings.TrimSpace(c.SignatureHash), "sha256:")
	result.Valid = hmac.Equal([]byte(expected), []byte(stored))
	result.Note = "verified by legacy content-hash comparison"
	if !result.Valid {
		result.Note = "stored hash does not match certificate contents"
	}
	s.count(result.Method, outcome(result.Valid))
	return result, nil
}

func (s *Service) count(method, outcome string) {
	if s.metrics != nil {
		s.metrics.CertVerifications.WithLabelValues(method, outcome).Inc()
	}
}

func outcome(valid bool) string {
	if valid {
		return "valid"
	}
	return "invalid"
}

func newCertificateNumber() string {
	return "CERT-" + strings.ToUpper(uuid.NewString()[:8])
}
