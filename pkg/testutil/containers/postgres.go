//go:build integration

package containers

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresContainer wraps a testcontainers Postgres instance with the
// cleargate schema applied.
type PostgresContainer struct {
	Container testcontainers.Container
	DB        *sql.DB
}

// schema mirrors the tables the stores expect. Migrations proper live with
// the deployment tooling; tests only need the shape.
const schema = `
CREATE TABLE IF NOT EXISTS subject_records (
	subject_id  TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS compliance_cases (
	id                  UUID PRIMARY KEY,
	subject_id          TEXT NOT NULL UNIQUE,
	status              TEXT NOT NULL,
	tier                TEXT NOT NULL,
	provider_inquiry_id TEXT,
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS compliance_events (
	seq             BIGSERIAL PRIMARY KEY,
	id              UUID NOT NULL UNIQUE,
	case_id         UUID NOT NULL REFERENCES compliance_cases(id),
	idempotency_key TEXT NOT NULL UNIQUE,
	source          TEXT NOT NULL,
	type            TEXT NOT NULL,
	detail          JSONB,
	created_at      TIMESTAMPTZ NOT NULL,
	exported_at     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS settlement_certificates (
	certificate_number TEXT PRIMARY KEY,
	issued_at          TIMESTAMPTZ NOT NULL,
	settlement_id      TEXT NOT NULL,
	order_id           TEXT NOT NULL,
	listing_id         TEXT NOT NULL,
	buyer_id           TEXT NOT NULL,
	seller_id          TEXT NOT NULL,
	asset              JSONB NOT NULL,
	economics          JSONB NOT NULL,
	rail               JSONB NOT NULL,
	signature_hash     TEXT,
	signature          TEXT,
	signature_alg      TEXT,
	kms_key_id         TEXT,
	signed_at          TIMESTAMPTZ
);
`

// NewPostgresContainer starts a Postgres container and applies the schema.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("cleargate_test"),
		tcpostgres.WithUsername("cleargate"),
		tcpostgres.WithPassword("cleargate"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to open postgres connection: %v", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to apply schema: %v", err)
	}

	pc := &PostgresContainer{Container: container, DB: db}
	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(context.Background())
	})
	return pc
}

// TruncateTables empties the given tables between tests.
func (p *PostgresContainer) TruncateTables(ctx context.Context, tables ...string) error {
	for _, table := range tables {
		if _, err := p.DB.ExecContext(ctx, "TRUNCATE TABLE "+table+" CASCADE"); err != nil {
			return err
		}
	}
	return nil
}
