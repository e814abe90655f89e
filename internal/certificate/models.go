package certificate

import "time"

// Certificate attests to a completed settlement. It is immutable once issued;
// corrections require a new certificate number. Either the legacy
// SignatureHash or the modern signature triple is populated, never both.
type Certificate struct {
	CertificateNumber string
	IssuedAt          time.Time

	SettlementID string
	OrderID      string
	ListingID    string
	BuyerID      string
	SellerID     string

	Asset     map[string]any
	Economics map[string]any
	Rail      map[string]any

	// Legacy vintage: plain content hash of the canonical payload.
	SignatureHash string

	// Modern vintage: asymmetric signature over the payload digest.
	Signature    string
	SignatureAlg string
	KMSKeyID     string
	SignedAt     *time.Time
}

// HasSignature reports whether the certificate carries a modern signature triple.
func (c Certificate) HasSignature() bool {
	return c.Signature != ""
}

// VerificationResult is returned to callers of Verify. Valid is always
// populated, even when the check path itself failed operationally; SignerErr
// distinguishes an infrastructure failure from a clean negative.
type VerificationResult struct {
	CertificateNumber string     `json:"certificateNumber"`
	Valid             bool       `json:"valid"`
	VerifiedAt        time.Time  `json:"verifiedAt"`
	Method            string     `json:"method"`
	SignatureAlg      string     `json:"signatureAlg,omitempty"`
	KMSKeyID          string     `json:"kmsKeyId,omitempty"`
	SignedAt          *time.Time `json:"signedAt,omitempty"`
	Note              string     `json:"note,omitempty"`

	SignerErr bool `json:"-"`
}

// Verification method names reported to callers so they can distinguish
// strong (signature) from weak (hash comparison) assurance.
const (
	MethodSignature  = "signature"
	MethodLegacyHash = "legacy-hash"
)
