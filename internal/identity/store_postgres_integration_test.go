//go:build integration

package identity_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"cleargate/internal/identity"
	"cleargate/pkg/platform/sentinel"
	"cleargate/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *identity.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = identity.NewPostgresStore(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.postgres.TruncateTables(ctx, "subject_records"))
}

func (s *PostgresStoreSuite) seed(subjectID string, status identity.VerificationStatus) {
	_, err := s.postgres.DB.ExecContext(context.Background(), `
		INSERT INTO subject_records (subject_id, status) VALUES ($1, $2)
	`, subjectID, string(status))
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) TestFindRecord() {
	ctx := context.Background()
	s.seed("org-42", identity.StatusPending)

	rec, err := s.store.Find(ctx, "org-42")
	s.Require().NoError(err)
	s.Equal("org-42", rec.SubjectID)
	s.Equal(identity.StatusPending, rec.Status)
	s.False(rec.UpdatedAt.IsZero())
}

func (s *PostgresStoreSuite) TestFindMissingRecord() {
	_, err := s.store.Find(context.Background(), "org-missing")
	s.Require().Error(err)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestUpdateStatusChanges() {
	ctx := context.Background()
	s.seed("org-42", identity.StatusPending)

	changed, err := s.store.UpdateStatus(ctx, "org-42", identity.StatusApproved)
	s.Require().NoError(err)
	s.True(changed)

	rec, err := s.store.Find(ctx, "org-42")
	s.Require().NoError(err)
	s.Equal(identity.StatusApproved, rec.Status)
}

func (s *PostgresStoreSuite) TestUpdateStatusAtTargetIsUnchanged() {
	ctx := context.Background()
	s.seed("org-42", identity.StatusApproved)

	changed, err := s.store.UpdateStatus(ctx, "org-42", identity.StatusApproved)
	s.Require().NoError(err)
	s.False(changed, "writing the current status must report unchanged")
}

func (s *PostgresStoreSuite) TestUpdateStatusMissingRecord() {
	_, err := s.store.UpdateStatus(context.Background(), "org-missing", identity.StatusApproved)
	s.Require().Error(err)
	s.ErrorIs(err, sentinel.ErrNotFound)
}
