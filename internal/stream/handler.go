package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"cleargate/internal/compliance"
	"cleargate/internal/eventbus"
	"cleargate/internal/platform/metrics"
	"cleargate/internal/platform/middleware"
)

// Handler serves the one-way compliance event stream. Each connection runs in
// its own request goroutine and blocks until the client disconnects; only the
// keep-alive ticker is time-bound.
type Handler struct {
	cases     *compliance.Service
	bus       *eventbus.Bus
	keepAlive time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

func New(cases *compliance.Service, bus *eventbus.Bus, keepAlive time.Duration, logger *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		cases:     cases,
		bus:       bus,
		keepAlive: keepAlive,
		logger:    logger,
		metrics:   m,
	}
}

// Register mounts the stream route. RequireAuth runs before this handler and
// supplies the verified subject identity.
func (h *Handler) Register(r chi.Router) {
	r.Get("/compliance/stream", h.handleStream)
}

// connectedFrame is the initial snapshot sent once the stream opens.
type connectedFrame struct {
	Type   string `json:"type"`
	CaseID string `json:"caseId"`
	Status string `json:"status"`
	Tier   string `json:"tier"`
}

// eventFrame wraps a bus event for the wire.
type eventFrame struct {
	Type  string         `json:"type"`
	Event eventbus.Event `json:"event"`
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subjectID := middleware.GetSubjectID(ctx)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if subjectID == "" {
		// RequireAuth should prevent this; emit an error frame rather than a
		// bare close so the client knows why.
		writeFrame(w, map[string]string{"type": "error", "error": "unauthenticated"})
		flusher.Flush()
		return
	}

	c, err := h.cases.FindOrCreate(ctx, subjectID)
	if err != nil {
		h.logger.ErrorContext(ctx, "stream snapshot failed",
			"subject_id", subjectID,
			"session_id", middleware.GetSessionID(ctx),
			"error", err,
			"request_id", middleware.GetRequestID(ctx),
		)
		writeFrame(w, map[string]string{"type": "error", "error": "snapshot_unavailable"})
		flusher.Flush()
		return
	}

	// Buffered so a slow client draining the channel never blocks the bus
	// dispatch path; an overflowing connection drops frames instead.
	events := make(chan eventbus.Event, 16)
	unsubscribe := h.bus.Subscribe(subjectID, func(ev eventbus.Event) {
		select {
		case events <- ev:
		default:
		}
	})
	defer unsubscribe()

	if h.metrics != nil {
		h.metrics.ActiveStreams.Inc()
		defer h.metrics.ActiveStreams.Dec()
	}

	writeFrame(w, connectedFrame{
		Type:   "connected",
		CaseID: c.ID.String(),
		Status: string(c.Status),
		Tier:   string(c.Tier),
	})
	flusher.Flush()

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if err := writeFrame(w, eventFrame{Type: "case_event", Event: ev}); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			// SSE comment frame; defeats intermediary idle timeouts.
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeFrame emits one SSE data frame. Write errors mean the transport is
// gone; callers just stop.
func writeFrame(w http.ResponseWriter, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return errors.New("stream closed")
	}
	return nil
}
