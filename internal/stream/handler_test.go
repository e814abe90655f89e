package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cleargate/internal/compliance"
	"cleargate/internal/eventbus"
	"cleargate/internal/platform/middleware"
)

// sseRecorder is a concurrency-safe ResponseWriter for a handler that keeps
// writing from its own goroutine while the test inspects the body.
type sseRecorder struct {
	mu     sync.Mutex
	header http.Header
	body   strings.Builder
	status int
}

func newSSERecorder() *sseRecorder {
	return &sseRecorder{header: make(http.Header), status: http.StatusOK}
}

func (r *sseRecorder) Header() http.Header {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.header
}

func (r *sseRecorder) WriteHeader(status int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
}

func (r *sseRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.body.Write(p)
}

func (r *sseRecorder) Flush() {}

func (r *sseRecorder) Body() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.body.String()
}

// frames parses every data frame currently in the body into raw JSON.
func (r *sseRecorder) frames() []map[string]any {
	var out []map[string]any
	for _, line := range strings.Split(r.Body(), "\n") {
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var frame map[string]any
		if err := json.Unmarshal([]byte(payload), &frame); err == nil {
			out = append(out, frame)
		}
	}
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

type harness struct {
	handler *Handler
	bus     *eventbus.Bus
	cases   *compliance.Service
	store   *compliance.InMemoryStore
}

func newHarness(keepAlive time.Duration) *harness {
	log := slog.New(slog.DiscardHandler)
	store := compliance.NewInMemoryStore()
	cases := compliance.NewService(store, log)
	bus := eventbus.New(nil, log, nil)
	return &harness{
		handler: New(cases, bus, keepAlive, log, nil),
		bus:     bus,
		cases:   cases,
		store:   store,
	}
}

func openStream(h *harness, subjectID string) (*sseRecorder, context.CancelFunc, chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	if subjectID != "" {
		ctx = context.WithValue(ctx, middleware.ContextKeySubjectID, subjectID)
	}
	req := httptest.NewRequest(http.MethodGet, "/compliance/stream", nil).WithContext(ctx)
	rec := newSSERecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.handler.handleStream(rec, req)
	}()
	return rec, cancel, done
}

func TestStreamOpensWithCaseSnapshot(t *testing.T) {
	h := newHarness(time.Hour)
	rec, cancel, done := openStream(h, "org-42")
	defer cancel()

	waitFor(t, time.Second, func() bool { return len(rec.frames()) >= 1 })

	frames := rec.frames()
	require.NotEmpty(t, frames)
	assert.Equal(t, "connected", frames[0]["type"])
	assert.Equal(t, "pending_provider", frames[0]["status"])
	assert.Equal(t, "browse", frames[0]["tier"])
	assert.NotEmpty(t, frames[0]["caseId"])
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	cancel()
	<-done
}

func TestStreamDeliversPublishedEvents(t *testing.T) {
	h := newHarness(time.Hour)
	rec, cancel, done := openStream(h, "org-42")
	defer cancel()

	waitFor(t, time.Second, func() bool { return len(rec.frames()) >= 1 })

	c, err := h.cases.FindOrCreate(context.Background(), "org-42")
	require.NoError(t, err)
	ev, err := h.cases.AppendEvent(context.Background(), c.ID,
		compliance.EventKey("org-42", "sess-1", compliance.EventInquiryCompleted),
		compliance.SourceProvider, compliance.EventInquiryCompleted, nil)
	require.NoError(t, err)
	require.NotNil(t, ev)

	h.bus.Publish(context.Background(), eventbus.Event{
		EventID:   ev.ID,
		CaseID:    ev.CaseID,
		SubjectID: "org-42",
		Source:    string(ev.Source),
		Type:      ev.Type,
		CreatedAt: ev.CreatedAt,
	})

	waitFor(t, time.Second, func() bool { return len(rec.frames()) >= 2 })

	frames := rec.frames()
	require.GreaterOrEqual(t, len(frames), 2)
	assert.Equal(t, "case_event", frames[1]["type"])
	event, ok := frames[1]["event"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, compliance.EventInquiryCompleted, event["type"])
	assert.Equal(t, "org-42", event["subjectId"])

	cancel()
	<-done
}

func TestStreamIgnoresOtherSubjects(t *testing.T) {
	h := newHarness(time.Hour)
	rec, cancel, done := openStream(h, "org-42")
	defer cancel()

	waitFor(t, time.Second, func() bool { return len(rec.frames()) >= 1 })

	h.bus.Publish(context.Background(), eventbus.Event{SubjectID: "org-other", Type: "kyb.inquiry.completed"})

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, rec.frames(), 1, "frames for other subjects must not leak")

	cancel()
	<-done
}

func TestStreamEmitsKeepAliveComments(t *testing.T) {
	h := newHarness(10 * time.Millisecond)
	rec, cancel, done := openStream(h, "org-42")
	defer cancel()

	waitFor(t, time.Second, func() bool {
		return strings.Contains(rec.Body(), ": keep-alive")
	})

	cancel()
	<-done
}

func TestStreamTearsDownOnDisconnect(t *testing.T) {
	h := newHarness(time.Hour)
	rec, cancel, done := openStream(h, "org-42")

	waitFor(t, time.Second, func() bool { return len(rec.frames()) >= 1 })

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler did not return after client disconnect")
	}

	// The subscription is gone; publishing again must not grow the body.
	before := len(rec.frames())
	h.bus.Publish(context.Background(), eventbus.Event{SubjectID: "org-42", Type: "kyb.inquiry.completed"})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, len(rec.frames()))
}

// outageStore fails every case lookup so the snapshot cannot be built.
type outageStore struct {
	*compliance.InMemoryStore
}

func (outageStore) FindCaseBySubject(ctx context.Context, subjectID string) (compliance.Case, error) {
	return compliance.Case{}, errors.New("store down")
}

func TestStreamSnapshotFailureLogsSessionContext(t *testing.T) {
	var logs bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&logs, nil))
	store := outageStore{InMemoryStore: compliance.NewInMemoryStore()}
	cases := compliance.NewService(store, log)
	bus := eventbus.New(nil, log, nil)
	handler := New(cases, bus, time.Hour, log, nil)

	ctx := context.WithValue(context.Background(), middleware.ContextKeySubjectID, "org-42")
	ctx = context.WithValue(ctx, middleware.ContextKeySessionID, "sess-9")
	req := httptest.NewRequest(http.MethodGet, "/compliance/stream", nil).WithContext(ctx)
	rec := newSSERecorder()

	handler.handleStream(rec, req)

	frames := rec.frames()
	require.Len(t, frames, 1)
	assert.Equal(t, "error", frames[0]["type"])
	assert.Equal(t, "snapshot_unavailable", frames[0]["error"])
	assert.Contains(t, logs.String(), `"subject_id":"org-42"`)
	assert.Contains(t, logs.String(), `"session_id":"sess-9"`)
}

func TestStreamWithoutSubjectSendsErrorFrame(t *testing.T) {
	h := newHarness(time.Hour)
	rec, cancel, done := openStream(h, "")
	defer cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler should return immediately without a subject")
	}

	frames := rec.frames()
	require.Len(t, frames, 1)
	assert.Equal(t, "error", frames[0]["type"])
	assert.Equal(t, "unauthenticated", frames[0]["error"])
}
