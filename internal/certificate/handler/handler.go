package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"cleargate/internal/certificate"
	"cleargate/internal/platform/middleware"
	"cleargate/pkg/platform/sentinel"
)

// Service defines the interface for certificate verification.
type Service interface {
	Verify(ctx context.Context, certificateNumber string) (certificate.VerificationResult, error)
}

// Handler serves the public certificate verification endpoint.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the certificate routes on the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/certificates/{certificateNumber}/verify", h.handleVerify)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	certificateNumber := chi.URLParam(r, "certificateNumber")

	result, err := h.service.Verify(ctx, certificateNumber)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error":             "certificate_not_found",
				"certificateNumber": certificateNumber,
			})
			return
		}
		h.logger.ErrorContext(ctx, "certificate verification failed",
			"certificate_number", certificateNumber,
			"error", err,
			"request_id", middleware.GetRequestID(ctx),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal"})
		return
	}

	// Signer infrastructure failure is an operational 500 but still carries
	// the structured result so callers can read valid=false plus the note.
	status := http.StatusOK
	if result.SignerErr {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, result)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
