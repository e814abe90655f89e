package certificate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"cleargate/pkg/platform/sentinel"
)

// PostgresStore persists certificates in the settlement_certificates table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, c Certificate) error {
	asset, err := json.Marshal(c.Asset)
	if err != nil {
		return fmt.Errorf("marshal asset: %w", err)
	}
	economics, err := json.Marshal(c.Economics)
	if err != nil {
		return fmt.Errorf("marshal economics: %w", err)
	}
	rail, err := json.Marshal(c.Rail)
	if err != nil {
		return fmt.Errorf("marshal rail: %w", err)
	}

	query := `
		INSERT INTO settlement_certificates (
			certificate_number, issued_at, settlement_id, order_id, listing_id,
			buyer_id, seller_id, asset, economics, rail,
			signature_hash, signature, signature_alg, kms_key_id, signed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err = s.db.ExecContext(ctx, query,
		c.CertificateNumber, c.IssuedAt, c.SettlementID, c.OrderID, c.ListingID,
		c.BuyerID, c.SellerID, asset, economics, rail,
		c.SignatureHash, c.Signature, c.SignatureAlg, c.KMSKeyID, c.SignedAt,
	)
	if err != nil {
		return fmt.Errorf("insert certificate: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByNumber(ctx context.Context, certificateNumber string) (Certificate, error) {
	var c Certificate
	var asset, economics, rail []byte
	var signedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT certificate_number, issued_at, settlement_id, order_id, listing_id,
		       buyer_id, seller_id, asset, economics, rail,
		       COALESCE(signature_hash, ''), COALESCE(signature, ''),
		       COALESCE(signature_alg, ''), COALESCE(kms_key_id, ''), signed_at
		FROM settlement_certificates
		WHERE certificate_number = $1
	`, certificateNumber).Scan(
		&c.CertificateNumber, &c.IssuedAt, &c.SettlementID, &c.OrderID, &c.ListingID,
		&c.BuyerID, &c.SellerID, &asset, &economics, &rail,
		&c.SignatureHash, &c.Signature, &c.SignatureAlg, &c.KMSKeyID, &signedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Certificate{}, fmt.Errorf("certificate %s: %w", certificateNumber, sentinel.ErrNotFound)
		}
		return Certificate{}, fmt.Errorf("find certificate: %w", err)
	}

	if err := json.Unmarshal(asset, &c.Asset); err != nil {
		return Certificate{}, fmt.Errorf("unmarshal asset: %w", err)
	}
	if err := json.Unmarshal(economics, &c.Economics); err != nil {
		return Certificate{}, fmt.Errorf("unmarshal economics: %w", err)
	}
	if err := json.Unmarshal(rail, &c.Rail); err != nil {
		return Certificate{}, fmt.Errorf("unmarshal rail: %w", err)
	}
	if signedAt.Valid {
		t := signedAt.Time
		c.SignedAt = &t
	}
	return c, nil
}
