package certificate

import (
	"context"
	"crypto"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"strings"
	"time"
)

// Signature is the attestation triple produced at issuance.
type Signature struct {
	Signature string
	Algorithm string
	KeyID     string
	SignedAt  time.Time
}

// Signer produces and checks asymmetric signatures over payload digests.
// Verify never errors on a bad signature: it returns false. A non-nil error
// means the signing backend itself failed.
type Signer interface {
	Sign(ctx context.Context, digest []byte) (Signature, error)
	Verify(ctx context.Context, digest []byte, signature, keyID string) (bool, error)
	Algorithm() string
}

const (
	algRSASHA256  = "RSA-SHA256"
	algMockSHA256 = "MOCK-SHA256"
)

// RSASigner signs with a local RSA private key, PKCS#1 v1.5 over SHA-256.
type RSASigner struct {
	key   *rsa.PrivateKey
	keyID string
}

// NewRSASigner parses a PEM-encoded private key (PKCS#1 or PKCS#8).
func NewRSASigner(keyPEM, keyID string) (*RSASigner, error) {
	block, _ := pem.Decode([]byte(keyPEM))
	if block == nil {
		return nil, fmt.Errorf("signing key is not valid PEM")
	}

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		parsed, pkcs8Err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if pkcs8Err != nil {
			return nil, fmt.Errorf("parse signing key: %w", err)
		}
		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("signing key is not RSA")
		}
		key = rsaKey
	}

	return &RSASigner{key: key, keyID: keyID}, nil
}

func (s *RSASigner) Algorithm() string { return algRSASHA256 }

func (s *RSASigner) Sign(ctx context.Context, digest []byte) (Signature, error) {
	if err := ctx.Err(); err != nil {
		return Signature{}, err
	}
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest)
	if err != nil {
		return Signature{}, fmt.Errorf("rsa sign: %w", err)
	}
	return Signature{
		Signature: base64.StdEncoding.EncodeToString(sig),
		Algorithm: algRSASHA256,
		KeyID:     s.keyID,
		SignedAt:  time.Now().UTC(),
	}, nil
}

func (s *RSASigner) Verify(ctx context.Context, digest []byte, signature, _ string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false, nil
	}
	if err := rsa.VerifyPKCS1v15(&s.key.PublicKey, crypto.SHA256, digest, raw); err != nil {
		return false, nil
	}
	return true, nil
}

// MockSigner derives a deterministic tagged signature from the digest so the
// full issue/verify pipeline stays testable without key infrastructure. It is
// selected when no signing key is configured.
type MockSigner struct {
	keyID string
}

func NewMockSigner(keyID string) *MockSigner {
	return &MockSigner{keyID: keyID}
}

func (s *MockSigner) Algorithm() string { return algMockSHA256 }

func (s *MockSigner) Sign(_ context.Context, digest []byte) (Signature, error) {
	return Signature{
		Signature: s.derive(digest),
		Algorithm: algMockSHA256,
		KeyID:     s.keyID,
		SignedAt:  time.Now().UTC(),
	}, nil
}

func (s *MockSigner) Verify(_ context.Context, digest []byte, signature, _ string) (bool, error) {
	expected := s.derive(digest)
	return hmac.Equal([]byte(expected), []byte(signature)), nil
}

func (s *MockSigner) derive(digest []byte) string {
	mac := sha256.Sum256(append([]byte("cleargate-mock-signer:"), digest...))
	return "mock-sig-" + hex.EncodeToString(mac[:])
}
