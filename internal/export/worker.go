// Package export ships the compliance event ledger to Kafka for downstream
// consumers (reporting, SIEM). The ledger table doubles as the outbox: events
// are appended transactionally by the case store and drained here, so an
// export outage never loses ledger entries.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"cleargate/internal/compliance"
	"cleargate/internal/platform/metrics"
)

const (
	pollInterval = 2 * time.Second
	batchSize    = 100
)

// Worker drains unexported ledger events to a Kafka topic. Delivery is
// at-least-once: rows are marked exported only after the produce succeeds,
// and consumers deduplicate on the event ID.
type Worker struct {
	store   compliance.Store
	client  *kgo.Client
	topic   string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New connects to the brokers and ensures the topic exists.
func New(brokers []string, topic string, store compliance.Store, logger *slog.Logger, m *metrics.Metrics) (*Worker, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("connect kafka: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	admin := kadm.NewClient(client)
	resp, err := admin.CreateTopic(ctx, 1, 1, nil, topic)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ensure topic %s: %w", topic, err)
	}
	// Already-exists is the steady state; anything else is fatal.
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		client.Close()
		return nil, fmt.Errorf("ensure topic %s: %w", topic, resp.Err)
	}

	return &Worker{
		store:   store,
		client:  client,
		topic:   topic,
		logger:  logger,
		metrics: m,
	}, nil
}

// ledgerRecord is the JSON shape produced to the topic.
type ledgerRecord struct {
	EventID        string          `json:"eventId"`
	CaseID         string          `json:"caseId"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Source         string          `json:"source"`
	Type           string          `json:"type"`
	Detail         json.RawMessage `json:"detail,omitempty"`
	CreatedAt      string          `json:"createdAt"`
}

// Run polls the outbox until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	defer w.client.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.drain(ctx); err != nil {
				w.logger.ErrorContext(ctx, "ledger export pass failed", "error", err)
			}
		}
	}
}

func (w *Worker) drain(ctx context.Context) error {
	events, err := w.store.UnexportedEvents(ctx, batchSize)
	if err != nil {
		return fmt.Errorf("load unexported events: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	shipped := make([]uuid.UUID, 0, len(events))
	for _, ev := range events {
		payload, err := json.Marshal(ledgerRecord{
			EventID:        ev.ID.String(),
			CaseID:         ev.CaseID.String(),
			IdempotencyKey: ev.IdempotencyKey,
			Source:         string(ev.Source),
			Type:           ev.Type,
			Detail:         ev.Detail,
			CreatedAt:      ev.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return fmt.Errorf("marshal ledger record: %w", err)
		}

		record := &kgo.Record{
			Topic: w.topic,
			Key:   []byte(ev.CaseID.String()),
			Value: payload,
		}
		if err := w.client.ProduceSync(ctx, record).FirstErr(); err != nil {
			// Stop the batch; unmarked rows are retried next pass.
			w.logger.ErrorContext(ctx, "ledger produce failed, batch stops and retries",
				"event_id", ev.ID.String(),
				"topic", w.topic,
				"error", err,
			)
			break
		}
		shipped = append(shipped, ev.ID)
		if w.metrics != nil {
			w.metrics.LedgerExported.Inc()
		}
	}

	if len(shipped) == 0 {
		return nil
	}
	return w.store.MarkExported(ctx, shipped)
}
