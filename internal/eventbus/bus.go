package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	redislib "github.com/redis/go-redis/v9"

	"cleargate/internal/platform/metrics"
)

// channelPrefix scopes bus traffic to one Redis channel per subject.
const channelPrefix = "compliance.case."

// Event is the payload fanned out to streaming subscribers when the ledger
// grows. Consumers must tolerate duplicates: the durable layer is
// at-least-once and the stream snapshot may already have shown an event.
type Event struct {
	EventID   uuid.UUID       `json:"eventId"`
	CaseID    uuid.UUID       `json:"caseId"`
	SubjectID string          `json:"subjectId"`
	Source    string          `json:"source"`
	Type      string          `json:"type"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Bus fans compliance events out to locally registered callbacks, multiplexed
// over a single process-wide Redis pattern subscription. It is constructed and
// injected explicitly; tests spin up isolated instances.
type Bus struct {
	rdb     *redislib.Client
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu        sync.RWMutex
	nextToken int
	subs      map[string]map[int]func(Event)

	listenerMu sync.Mutex
	listening  bool
	pubsub     *redislib.PubSub
	cancel     context.CancelFunc
	done       chan struct{}
}

// New builds a Bus. rdb may be nil, in which case delivery is local-only
// (single-process deployments and tests).
func New(rdb *redislib.Client, logger *slog.Logger, m *metrics.Metrics) *Bus {
	return &Bus{
		rdb:     rdb,
		logger:  logger,
		metrics: m,
		subs:    make(map[string]map[int]func(Event)),
	}
}

// Subscribe registers a callback for one subject and returns its unsubscribe
// function. The durable listener is established lazily on the first call; if
// it cannot connect the subscription still works for locally published events
// and the degraded state is logged and gauged.
func (b *Bus) Subscribe(subjectID string, fn func(Event)) func() {
	b.ensureListener()

	b.mu.Lock()
	b.nextToken++
	token := b.nextToken
	if b.subs[subjectID] == nil {
		b.subs[subjectID] = make(map[int]func(Event))
	}
	b.subs[subjectID][token] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if cbs, ok := b.subs[subjectID]; ok {
				delete(cbs, token)
				if len(cbs) == 0 {
					delete(b.subs, subjectID)
				}
			}
		})
	}
}

// Publish makes ev available to all subscribers for its subject. With Redis
// configured the event travels through the durable channel and comes back via
// the listener; without it (or when the publish fails) delivery degrades to
// direct local dispatch so a co-located subscriber still converges.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	if b.metrics != nil {
		b.metrics.EventsPublished.Inc()
	}
	if b.rdb != nil {
		payload, err := json.Marshal(ev)
		if err == nil {
			if err = b.rdb.Publish(ctx, channelPrefix+ev.SubjectID, payload).Err(); err == nil {
				return
			}
		}
		b.logger.WarnContext(ctx, "durable publish failed, delivering locally",
			"subject_id", ev.SubjectID,
			"error", err,
		)
	}
	b.dispatch(ev)
}

// Close tears down the durable listener. Registered callbacks survive Close;
// they simply stop receiving until a new listener is established.
func (b *Bus) Close() {
	b.listenerMu.Lock()
	defer b.listenerMu.Unlock()
	if !b.listening {
		return
	}
	b.cancel()
	_ = b.pubsub.Close()
	<-b.done
	b.listening = false
	if b.metrics != nil {
		b.metrics.BusListenerUp.Set(0)
	}
}

func (b *Bus) ensureListener() {
	if b.rdb == nil {
		return
	}
	b.listenerMu.Lock()
	defer b.listenerMu.Unlock()
	if b.listening {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	pubsub := b.rdb.PSubscribe(ctx, channelPrefix+"*")

	// Confirm the subscription before the first Subscribe returns.
	confirmCtx, confirmCancel := context.WithTimeout(ctx, 5*time.Second)
	_, err := pubsub.Receive(confirmCtx)
	confirmCancel()
	if err != nil {
		b.logger.Error("event bus listener failed to establish, streams degraded",
			"error", err,
		)
		if b.metrics != nil {
			b.metrics.BusListenerUp.Set(0)
		}
		_ = pubsub.Close()
		cancel()
		return
	}

	b.pubsub = pubsub
	b.cancel = cancel
	b.done = make(chan struct{})
	b.listening = true
	if b.metrics != nil {
		b.metrics.BusListenerUp.Set(1)
	}

	go b.receive(pubsub)
}

func (b *Bus) receive(pubsub *redislib.PubSub) {
	defer close(b.done)
	for msg := range pubsub.Channel() {
		subjectID := strings.TrimPrefix(msg.Channel, channelPrefix)
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			b.logger.Warn("discarding malformed bus payload",
				"channel", msg.Channel,
				"error", err,
			)
			continue
		}
		if ev.SubjectID == "" {
			ev.SubjectID = subjectID
		}
		b.dispatch(ev)
	}
}

func (b *Bus) dispatch(ev Event) {
	b.mu.RLock()
	cbs := make([]func(Event), 0, len(b.subs[ev.SubjectID]))
	for _, fn := range b.subs[ev.SubjectID] {
		cbs = append(cbs, fn)
	}
	b.mu.RUnlock()

	for _, fn := range cbs {
		fn(ev)
	}
}
