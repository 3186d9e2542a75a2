package payment

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/eventix/giftcard-api/internal/pkg/logger"
	"github.com/eventix/giftcard-api/internal/pkg/response"
)

// Handler handles payment HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates payment handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// ListByOrder handles GET /orders/{orderRef}/payments
func (h *Handler) ListByOrder(w http.ResponseWriter, r *http.Request) {
	orderRef := strings.TrimSpace(chi.URLParam(r, "orderRef"))
	if orderRef == "" {
		response.BadRequest(w, "Invalid order reference")
		return
	}

	attempts, err := h.service.ListAttempts(r.Context(), orderRef)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, attempts)
}

// Get handles GET /payments/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid payment ID")
		return
	}

	attempt, err := h.service.GetAttempt(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, attempt)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrAttemptNotFound):
		response.NotFound(w, "Payment not found")
	case errors.Is(err, ErrStorage):
		logger.FromContext(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("Payment storage error")
		response.ServiceUnavailable(w, "Payment storage is unavailable, please try again")
	default:
		logger.FromContext(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("Payment request failed")
		response.InternalError(w)
	}
}
