package giftcard

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/eventix/giftcard-api/internal/domain/audit"
	"github.com/eventix/giftcard-api/internal/domain/payment"
	"github.com/eventix/giftcard-api/internal/middleware"
	"github.com/eventix/giftcard-api/internal/pkg/logger"
	"github.com/eventix/giftcard-api/internal/pkg/response"
	"github.com/eventix/giftcard-api/internal/pkg/validator"
)

const historyLimit = 50

// HistoryReader lists audit records of a card
type HistoryReader interface {
	ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]audit.Record, error)
}

// Handler handles gift card HTTP requests
type Handler struct {
	service *Service
	history HistoryReader
}

// NewHandler creates gift card handler. history may be nil.
func NewHandler(service *Service, history HistoryReader) *Handler {
	return &Handler{service: service, history: history}
}

func parseID(r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	return id, err == nil
}

// writeError maps domain errors to HTTP responses
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrTransactionNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, ErrInvalidBalance):
		response.Error(w, http.StatusConflict, "NEGATIVE_BALANCE", err.Error())
	case errors.Is(err, ErrDuplicateSecret):
		response.Error(w, http.StatusConflict, "DUPLICATE_SECRET", err.Error())
	case errors.Is(err, ErrPrecondition):
		response.UnprocessableEntity(w, "PRECONDITION_FAILED", err.Error())
	case errors.Is(err, ErrPaymentFailed):
		response.BadGateway(w, "PAYMENT_FAILED", err.Error())
	case errors.Is(err, ErrInvalidValue), errors.Is(err, ErrInvalidCurrency):
		response.BadRequest(w, err.Error())
	case errors.Is(err, ErrSelfAcceptance):
		response.UnprocessableEntity(w, "SELF_ACCEPTANCE", err.Error())
	case errors.Is(err, ErrStorage), errors.Is(err, payment.ErrStorage):
		logger.FromContext(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("Gift card storage error")
		response.ServiceUnavailable(w, "Gift card storage is unavailable, please try again")
	default:
		logger.FromContext(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("Gift card request failed")
		response.InternalError(w)
	}
}

// List handles GET /giftcards
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := ListQuery{
		Query: strings.TrimSpace(r.URL.Query().Get("q")),
		State: r.URL.Query().Get("state"),
		Page:  1,
	}
	if p := r.URL.Query().Get("page"); p != "" {
		page, err := strconv.Atoi(p)
		if err != nil {
			response.BadRequest(w, "Invalid page")
			return
		}
		q.Page = page
	}
	if errs := validator.Validate(&q); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	cards, total, err := h.service.ListCards(r.Context(), ListFilter{
		IssuerID: middleware.GetOrganizerID(r.Context()),
		Query:    q.Query,
		State:    CardState(q.State),
		Limit:    DefaultPageSize,
		Offset:   (q.Page - 1) * DefaultPageSize,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	now := time.Now()
	items := make([]CardResponse, len(cards))
	for i := range cards {
		items[i] = cardResponse(&cards[i].GiftCard, now)
		items[i].Balance = FormatValue(cards[i].Balance, cards[i].Currency)
	}
	response.WithMeta(w, items, response.NewMeta(total, q.Page, DefaultPageSize))
}

// Create handles POST /giftcards
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateCardRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	value := decimal.Zero
	if strings.TrimSpace(req.Value) != "" {
		v, err := ParseValue(req.Value, req.Currency)
		if err != nil {
			response.ValidationError(w, map[string]string{"value": "Invalid amount"})
			return
		}
		value = v
	}

	card, err := h.service.CreateCard(r.Context(),
		middleware.GetUserID(r.Context()),
		middleware.GetOrganizerID(r.Context()),
		CreateCardInput{
			Currency:     req.Currency,
			Secret:       req.Secret,
			InitialValue: value,
			Expires:      req.Expires,
			Conditions:   req.Conditions,
		})
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := cardResponse(card, time.Now())
	resp.Balance = FormatValue(value, card.Currency)
	response.Created(w, resp)
}

// Get handles GET /giftcards/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	cardID, ok := parseID(r, "id")
	if !ok {
		response.BadRequest(w, "Invalid gift card ID")
		return
	}

	detail, err := h.service.CardDetail(r.Context(), middleware.GetOrganizerID(r.Context()), cardID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := CardDetailResponse{
		CardResponse: cardResponse(detail.Card, time.Now()),
		Transactions: transactionResponses(detail.Transactions, detail.Card.Currency),
	}
	resp.Balance = FormatValue(detail.Balance, detail.Card.Currency)

	if h.history != nil {
		records, err := h.history.ListByEntity(r.Context(), entityGiftCard, cardID.String(), historyLimit)
		if err != nil {
			logger.FromContext(r.Context()).Warn().Err(err).Str("card_id", cardID.String()).Msg("Failed to load gift card history")
		} else {
			resp.History = records
		}
	}
	response.OK(w, resp)
}

// Update handles PATCH /giftcards/{id}
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	cardID, ok := parseID(r, "id")
	if !ok {
		response.BadRequest(w, "Invalid gift card ID")
		return
	}

	var req UpdateCardRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	card, err := h.service.UpdateMetadata(r.Context(),
		middleware.GetUserID(r.Context()),
		middleware.GetOrganizerID(r.Context()),
		cardID,
		MetadataUpdate{
			Secret:       req.Secret,
			Expires:      req.Expires,
			Conditions:   req.Conditions,
			ClearExpires: req.ClearExpires,
		})
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, cardResponse(card, time.Now()))
}

// Deactivate handles POST /giftcards/{id}/deactivate
func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	cardID, ok := parseID(r, "id")
	if !ok {
		response.BadRequest(w, "Invalid gift card ID")
		return
	}

	card, err := h.service.Deactivate(r.Context(),
		middleware.GetUserID(r.Context()),
		middleware.GetOrganizerID(r.Context()),
		cardID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, cardResponse(card, time.Now()))
}

// CreateTransaction handles POST /giftcards/{id}/transactions
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	cardID, ok := parseID(r, "id")
	if !ok {
		response.BadRequest(w, "Invalid gift card ID")
		return
	}

	var req TransactionRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	organizerID := middleware.GetOrganizerID(r.Context())
	card, err := h.service.GetCard(r.Context(), organizerID, cardID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	value, err := ParseValue(req.Value, card.Currency)
	if err != nil {
		response.ValidationError(w, map[string]string{"value": "Invalid amount"})
		return
	}

	t, err := h.service.ApplyDelta(r.Context(), middleware.GetUserID(r.Context()), organizerID, cardID, value, req.Memo)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Created(w, transactionResponse(t, card.Currency))
}

// Refund handles POST /giftcards/{id}/refunds
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	cardID, ok := parseID(r, "id")
	if !ok {
		response.BadRequest(w, "Invalid gift card ID")
		return
	}

	var req RefundRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	card, err := h.service.GetCard(r.Context(), middleware.GetOrganizerID(r.Context()), cardID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	value, err := ParseValue(req.Value, card.Currency)
	if err != nil || !value.IsPositive() {
		response.ValidationError(w, map[string]string{"value": "Refund must be a positive amount"})
		return
	}

	t, err := h.service.CreditForOrder(r.Context(), cardID, value, strings.TrimSpace(req.OrderRef))
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Created(w, transactionResponse(t, card.Currency))
}

// ReverseTransaction handles POST /giftcards/{id}/transactions/{txID}/reverse
func (h *Handler) ReverseTransaction(w http.ResponseWriter, r *http.Request) {
	cardID, ok := parseID(r, "id")
	if !ok {
		response.BadRequest(w, "Invalid gift card ID")
		return
	}
	txID, ok := parseID(r, "txID")
	if !ok {
		response.BadRequest(w, "Invalid transaction ID")
		return
	}

	rev, err := h.service.ReverseTransaction(r.Context(),
		middleware.GetUserID(r.Context()),
		middleware.GetOrganizerID(r.Context()),
		cardID, txID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := ReversalResponse{State: rev.State, Attempt: rev.Attempt}
	if rev.Transaction != nil {
		currency := ""
		if rev.Attempt != nil {
			currency = rev.Attempt.Currency
		}
		t := transactionResponse(rev.Transaction, currency)
		resp.Transaction = &t
	}
	response.OK(w, resp)
}

// ListAcceptances handles GET /giftcards/acceptance
func (h *Handler) ListAcceptances(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.ListAcceptedIssuers(r.Context(), middleware.GetOrganizerID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, out)
}

// AddAcceptance handles POST /giftcards/acceptance
func (h *Handler) AddAcceptance(w http.ResponseWriter, r *http.Request) {
	var req AcceptanceRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}
	issuerID := uuid.MustParse(req.IssuerID)

	err := h.service.AcceptIssuer(r.Context(),
		middleware.GetUserID(r.Context()),
		middleware.GetOrganizerID(r.Context()),
		issuerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.NoContent(w)
}

// RemoveAcceptance handles DELETE /giftcards/acceptance/{issuer}
func (h *Handler) RemoveAcceptance(w http.ResponseWriter, r *http.Request) {
	issuerID, ok := parseID(r, "issuer")
	if !ok {
		response.BadRequest(w, "Invalid issuer ID")
		return
	}

	err := h.service.RevokeIssuer(r.Context(),
		middleware.GetUserID(r.Context()),
		middleware.GetOrganizerID(r.Context()),
		issuerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.NoContent(w)
}
