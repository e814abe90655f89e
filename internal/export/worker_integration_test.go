//go:build integration

package export

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"cleargate/internal/compliance"
	"cleargate/pkg/testutil/containers"
)

type WorkerSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	redpanda *containers.RedpandaContainer
	store    *compliance.PostgresStore
}

func TestWorkerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(WorkerSuite))
}

func (s *WorkerSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.redpanda = containers.NewRedpandaContainer(s.T())
	s.store = compliance.NewPostgresStore(s.postgres.DB)
}

func (s *WorkerSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.postgres.TruncateTables(ctx, "compliance_events", "compliance_cases"))
}

func (s *WorkerSuite) seedLedger(subjectID string, kinds ...string) compliance.Case {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	c := compliance.Case{
		ID:        uuid.New(),
		SubjectID: subjectID,
		Status:    compliance.StatusApproved,
		Tier:      compliance.TierExecute,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.Require().NoError(s.store.CreateCase(ctx, c))

	for i, kind := range kinds {
		s.Require().NoError(s.store.InsertEvent(ctx, compliance.Event{
			ID:             uuid.New(),
			CaseID:         c.ID,
			IdempotencyKey: compliance.EventKey(subjectID, "sess-1", kind),
			Source:         compliance.SourceProvider,
			Type:           kind,
			Detail:         json.RawMessage(`{"providerStatus":"approved"}`),
			CreatedAt:      now.Add(time.Duration(i) * time.Millisecond),
		}))
	}
	return c
}

func (s *WorkerSuite) TestDrainShipsLedgerAndMarksRows() {
	ctx := context.Background()
	topic := "ledger-export-" + uuid.NewString()

	c := s.seedLedger("org-42", compliance.EventInquiryCreated, compliance.EventInquiryCompleted)

	worker, err := New([]string{s.redpanda.Broker}, topic, s.store, slog.New(slog.DiscardHandler), nil)
	s.Require().NoError(err)
	defer worker.client.Close()

	s.Require().NoError(worker.drain(ctx))

	pending, err := s.store.UnexportedEvents(ctx, 10)
	s.Require().NoError(err)
	s.Empty(pending, "drained rows must be marked exported")

	records := s.consume(topic, 2)
	s.Require().Len(records, 2)
	for _, record := range records {
		s.Equal(c.ID.String(), string(record.Key), "records are keyed by case for per-case ordering")
		var shipped ledgerRecord
		s.Require().NoError(json.Unmarshal(record.Value, &shipped))
		s.Equal(c.ID.String(), shipped.CaseID)
		s.NotEmpty(shipped.EventID)
		s.NotEmpty(shipped.IdempotencyKey)
	}
}

func (s *WorkerSuite) TestDrainIsIdempotentAcrossPasses() {
	ctx := context.Background()
	topic := "ledger-export-" + uuid.NewString()

	s.seedLedger("org-42", compliance.EventInquiryCompleted)

	worker, err := New([]string{s.redpanda.Broker}, topic, s.store, slog.New(slog.DiscardHandler), nil)
	s.Require().NoError(err)
	defer worker.client.Close()

	s.Require().NoError(worker.drain(ctx))
	s.Require().NoError(worker.drain(ctx))

	records := s.consume(topic, 1)
	s.Len(records, 1, "a second pass over an empty outbox must not re-produce")
}

func (s *WorkerSuite) TestDrainLeavesRowsWhenProduceFails() {
	ctx := context.Background()
	topic := "ledger-export-" + uuid.NewString()

	s.seedLedger("org-42", compliance.EventInquiryCompleted)

	worker, err := New([]string{s.redpanda.Broker}, topic, s.store, slog.New(slog.DiscardHandler), nil)
	s.Require().NoError(err)

	// A closed client makes every produce fail.
	worker.client.Close()

	s.Require().NoError(worker.drain(ctx), "a produce outage is retried, not surfaced")

	pending, err := s.store.UnexportedEvents(ctx, 10)
	s.Require().NoError(err)
	s.Len(pending, 1, "unshipped rows must stay in the outbox")
}

func (s *WorkerSuite) TestNewToleratesExistingTopic() {
	topic := "ledger-export-" + uuid.NewString()

	first, err := New([]string{s.redpanda.Broker}, topic, s.store, slog.New(slog.DiscardHandler), nil)
	s.Require().NoError(err)
	first.client.Close()

	second, err := New([]string{s.redpanda.Broker}, topic, s.store, slog.New(slog.DiscardHandler), nil)
	s.Require().NoError(err)
	second.client.Close()
}

// consume reads up to want records from the beginning of the topic, stopping
// early once it has them.
func (s *WorkerSuite) consume(topic string, want int) []*kgo.Record {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(s.redpanda.Broker),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer client.Close()

	deadline := time.Now().Add(10 * time.Second)
	var records []*kgo.Record
	for len(records) < want && time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		fetches := client.PollFetches(ctx)
		cancel()
		fetches.EachRecord(func(r *kgo.Record) {
			records = append(records, r)
		})
	}

	// One last short poll to catch stragglers past want.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	fetches := client.PollFetches(ctx)
	cancel()
	fetches.EachRecord(func(r *kgo.Record) {
		records = append(records, r)
	})
	return records
}
