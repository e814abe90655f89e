package certificate

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"
)

// CanonicalPayload serializes the certificate's semantic content to a byte
// string that is a pure function of that content. Signature fields are
// excluded so the payload never references its own attestation. Maps encode
// with sorted keys (encoding/json guarantees this recursively), timestamps
// normalize to UTC RFC3339Nano, so two representations of the same logical
// certificate always canonicalize identically.
func CanonicalPayload(c Certificate) ([]byte, error) {
	payload := map[string]any{
		"certificateNumber": c.CertificateNumber,
		"issuedAt":          c.IssuedAt.UTC().Format(time.RFC3339Nano),
		"settlementId":      c.SettlementID,
		"orderId":           c.OrderID,
		"listingId":         c.ListingID,
		"buyerId":           c.BuyerID,
		"sellerId":          c.SellerID,
		"asset":             c.Asset,
		"economics":         c.Economics,
		"rail":              c.Rail,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("canonicalize certificate: %w", err)
	}
	return b, nil
}

// Digest computes the SHA-256 content digest of canonical bytes.
func Digest(canonical []byte) [32]byte {
	return sha256.Sum256(canonical)
}
