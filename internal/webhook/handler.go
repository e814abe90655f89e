package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"cleargate/internal/compliance"
	"cleargate/internal/eventbus"
	"cleargate/internal/identity"
	"cleargate/internal/platform/metrics"
	"cleargate/internal/platform/middleware"
	"cleargate/pkg/platform/sentinel"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-HMAC-Signature"

// payload is the provider callback schema.
type payload struct {
	Status       string       `json:"status"`
	Verification verification `json:"verification"`
}

type verification struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	VendorData string `json:"vendorData"`
	Reason     string `json:"reason,omitempty"`
	ReasonCode string `json:"reasonCode,omitempty"`
}

// response is the structured summary returned on 200.
type response struct {
	Received  bool   `json:"received"`
	Action    string `json:"action"`
	SubjectID string `json:"subjectId"`
	Status    string `json:"status"`
	SessionID string `json:"sessionId"`
}

// CaseOutcome is the typed result of the best-effort compliance-case step.
// A non-nil Err here never fails the webhook response; it only marks the
// secondary path as degraded so callers and tests can observe it.
type CaseOutcome struct {
	Applied bool
	Event   *compliance.Event
	Err     error
}

// TxRunner scopes the case mutations of one callback to a single storage
// transaction when the backing store supports one.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Handler ingests provider verification callbacks. The primary identity
// write is the hard gate; everything after it is acknowledged best-effort
// because the provider retries on any non-2xx and a retry after a real
// mutation would double-process.
type Handler struct {
	secret     string
	production bool
	identities identity.Store
	cases      *compliance.Service
	txr        TxRunner
	bus        *eventbus.Bus
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

func New(
	secret string,
	production bool,
	identities identity.Store,
	cases *compliance.Service,
	txr TxRunner,
	bus *eventbus.Bus,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Handler {
	return &Handler{
		secret:     secret,
		production: production,
		identities: identities,
		cases:      cases,
		txr:        txr,
		bus:        bus,
		logger:     logger,
		metrics:    m,
	}
}

// Register mounts the webhook route on the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/webhooks/kyb", h.handleCallback)
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.reject("read_error")
		writeJSON(w, http.StatusBadRequest, errorBody("invalid_body", "could not read request body", nil))
		return
	}

	// Gate 1: authenticate. Constant-time HMAC comparison; fail closed in
	// production when no secret is configured.
	if h.secret == "" {
		if h.production {
			h.logger.ErrorContext(ctx, "webhook secret not configured in production, refusing callback",
				"request_id", requestID,
			)
			h.reject("misconfigured")
			writeJSON(w, http.StatusInternalServerError, errorBody("misconfigured", "webhook authentication is not configured", nil))
			return
		}
		h.logger.WarnContext(ctx, "webhook secret not configured, accepting unauthenticated callback",
			"request_id", requestID,
		)
	} else if !h.validSignature(body, r.Header.Get(SignatureHeader)) {
		h.logger.WarnContext(ctx, "webhook signature mismatch",
			"request_id", requestID,
		)
		h.reject("bad_signature")
		writeJSON(w, http.StatusUnauthorized, errorBody("invalid_signature", "HMAC signature does not match body", nil))
		return
	}

	// Gate 2: parse and validate.
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		h.reject("malformed_json")
		writeJSON(w, http.StatusBadRequest, errorBody("malformed_json", "body is not valid JSON", nil))
		return
	}
	if fields := validate(p); len(fields) > 0 {
		h.reject("invalid_payload")
		writeJSON(w, http.StatusBadRequest, errorBody("invalid_payload", "required fields missing or invalid", fields))
		return
	}

	subjectID := p.Verification.VendorData
	sessionID := p.Verification.ID

	// Gate 3: map the provider vocabulary. Unknown statuses land on pending.
	target := mapProviderStatus(p.Verification.Status)

	// Gate 4: idempotent primary-record update.
	changed, err := h.identities.UpdateStatus(ctx, subjectID, target)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			h.reject("unknown_subject")
			writeJSON(w, http.StatusNotFound, errorBody("unknown_subject", "no identity record for subject", nil))
			return
		}
		h.logger.ErrorContext(ctx, "primary status write failed",
			"subject_id", subjectID,
			"error", err,
			"request_id", requestID,
		)
		h.reject("store_error")
		writeJSON(w, http.StatusBadGateway, errorBody("store_error", "persistence layer unavailable, retry", nil))
		return
	}

	action := "updated"
	if !changed {
		action = "skipped"
	}

	// Step 5: compliance case update, best-effort by contract. The primary
	// write already succeeded and must be acknowledged to the provider.
	outcome := h.applyCase(ctx, subjectID, sessionID, target, p.Verification)
	if outcome.Err != nil {
		h.logger.ErrorContext(ctx, "compliance case update failed, acknowledging webhook anyway",
			"subject_id", subjectID,
			"session_id", sessionID,
			"error", outcome.Err,
			"request_id", requestID,
		)
	}

	// Step 6: publish only when a new ledger row exists, never on dedupe.
	if outcome.Event != nil {
		h.bus.Publish(ctx, eventbus.Event{
			EventID:   outcome.Event.ID,
			CaseID:    outcome.Event.CaseID,
			SubjectID: subjectID,
			Source:    string(outcome.Event.Source),
			Type:      outcome.Event.Type,
			Detail:    outcome.Event.Detail,
			CreatedAt: outcome.Event.CreatedAt,
		})
	} else if outcome.Err == nil && outcome.Applied {
		if h.metrics != nil {
			h.metrics.EventDedupeHits.Inc()
		}
	}

	if h.metrics != nil {
		h.metrics.WebhooksReceived.WithLabelValues(action).Inc()
	}
	writeJSON(w, http.StatusOK, response{
		Received:  true,
		Action:    action,
		SubjectID: subjectID,
		Status:    string(target),
		SessionID: sessionID,
	})
}

// applyCase drives the case store: find-or-create, then inquiry attach,
// decision and ledger append inside one storage transaction so a half-applied
// callback never lands. Every failure is folded into the returned CaseOutcome
// instead of surfacing.
func (h *Handler) applyCase(ctx context.Context, subjectID, sessionID string, target identity.VerificationStatus, v verification) CaseOutcome {
	// The create stays outside the transaction: its conflict fallback reads
	// the winner's committed row.
	c, err := h.cases.FindOrCreate(ctx, subjectID)
	if err != nil {
		return CaseOutcome{Err: err}
	}

	detail, err := json.Marshal(map[string]string{
		"providerStatus": v.Status,
		"reason":         v.Reason,
		"reasonCode":     v.ReasonCode,
	})
	if err != nil {
		return CaseOutcome{Err: err}
	}

	var ev *compliance.Event
	err = h.txr.RunInTx(ctx, func(ctx context.Context) error {
		if err := h.cases.RecordProviderInquiry(ctx, c.ID, sessionID); err != nil {
			return err
		}
		status, tier := caseTarget(target)
		if _, err := h.cases.ApplyDecision(ctx, c.ID, status, tier); err != nil {
			return err
		}
		kind := eventType(target)
		key := compliance.EventKey(subjectID, sessionID, kind)
		appended, err := h.cases.AppendEvent(ctx, c.ID, key, compliance.SourceProvider, kind, detail)
		if err != nil {
			return err
		}
		ev = appended
		return nil
	})
	if err != nil {
		return CaseOutcome{Err: err}
	}
	return CaseOutcome{Applied: true, Event: ev}
}

func (h *Handler) validSignature(body []byte, header string) bool {
	provided, err := hex.DecodeString(strings.TrimSpace(header))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), provided)
}

func (h *Handler) reject(reason string) {
	if h.metrics != nil {
		h.metrics.WebhooksRejected.WithLabelValues(reason).Inc()
	}
}

func validate(p payload) map[string]string {
	fields := make(map[string]string)
	if p.Verification.ID == "" {
		fields["verification.id"] = "required"
	}
	if p.Verification.Status == "" {
		fields["verification.status"] = "required"
	}
	if p.Verification.VendorData == "" {
		fields["verification.vendorData"] = "required"
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

func errorBody(code, message string, fields map[string]string) map[string]any {
	body := map[string]any{
		"error":   code,
		"message": message,
	}
	if len(fields) > 0 {
		body["fields"] = fields
	}
	return body
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
