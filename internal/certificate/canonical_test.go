package certificate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseCert() Certificate {
	return Certificate{
		CertificateNumber: "CERT-0001",
		IssuedAt:          time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		SettlementID:      "settle-1",
		OrderID:           "order-1",
		ListingID:         "listing-1",
		BuyerID:           "org-buyer",
		SellerID:          "org-seller",
		Asset: map[string]any{
			"symbol":   "USTB-26",
			"quantity": "1000000",
		},
		Economics: map[string]any{
			"price":    "99.875",
			"currency": "USD",
		},
		Rail: map[string]any{
			"network": "fedwire",
			"mode":    "dvp",
		},
	}
}

func TestCanonicalPayloadDeterministicAcrossFieldOrder(t *testing.T) {
	a := baseCert()

	b := baseCert()
	// Rebuild the maps inserting keys in the opposite order.
	b.Economics = map[string]any{
		"currency": "USD",
		"price":    "99.875",
	}
	b.Asset = map[string]any{
		"quantity": "1000000",
		"symbol":   "USTB-26",
	}

	ca, err := CanonicalPayload(a)
	require.NoError(t, err)
	cb, err := CanonicalPayload(b)
	require.NoError(t, err)
	assert.Equal(t, ca, cb, "insertion order must not change canonical bytes")
}

func TestCanonicalPayloadExcludesSignatureFields(t *testing.T) {
	unsigned := baseCert()

	signed := baseCert()
	signed.Signature = "c2lnbmF0dXJl"
	signed.SignatureAlg = "RSA-SHA256"
	signed.KMSKeyID = "key-1"
	now := time.Now()
	signed.SignedAt = &now
	signed.SignatureHash = "deadbeef"

	cu, err := CanonicalPayload(unsigned)
	require.NoError(t, err)
	cs, err := CanonicalPayload(signed)
	require.NoError(t, err)
	assert.Equal(t, cu, cs, "attestation fields must never feed the payload")
}

func TestCanonicalPayloadSensitiveToContent(t *testing.T) {
	a := baseCert()
	b := baseCert()
	b.Economics = map[string]any{
		"price":    "99.874",
		"currency": "USD",
	}

	ca, err := CanonicalPayload(a)
	require.NoError(t, err)
	cb, err := CanonicalPayload(b)
	require.NoError(t, err)
	assert.NotEqual(t, ca, cb)
	assert.NotEqual(t, Digest(ca), Digest(cb))
}

func TestCanonicalPayloadNormalizesTimezone(t *testing.T) {
	utc := baseCert()

	est := baseCert()
	loc := time.FixedZone("EST", -5*60*60)
	est.IssuedAt = utc.IssuedAt.In(loc)

	cu, err := CanonicalPayload(utc)
	require.NoError(t, err)
	ce, err := CanonicalPayload(est)
	require.NoError(t, err)
	assert.Equal(t, cu, ce)
}
