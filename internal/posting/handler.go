package posting

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-books/meridian/internal/documents"
	"github.com/meridian-books/meridian/internal/inventory"
	"github.com/meridian-books/meridian/internal/ledger"
	"github.com/meridian-books/meridian/internal/payments"
	"github.com/meridian-books/meridian/internal/periods"
	"github.com/meridian-books/meridian/internal/platform/db"
	"github.com/meridian-books/meridian/internal/platform/httpx"
	"github.com/meridian-books/meridian/internal/procurement"
	"github.com/meridian-books/meridian/internal/shared"
)

// Handler exposes the posting pipeline over HTTP. Request validation and
// tenant resolution happen upstream; this layer only decodes, scopes and
// maps errors.
type Handler struct {
	service  *Service
	idem     *shared.IdempotencyStore
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler constructs Handler. idem may be nil; idempotency keys are then
// ignored and callers rely on source-link dedup alone.
func NewHandler(service *Service, idem *shared.IdempotencyStore, logger *slog.Logger) *Handler {
	return &Handler{service: service, idem: idem, validate: validator.New(), logger: logger}
}

// beginIdempotent claims the request's Idempotency-Key when present. The
// returned rollback releases the key so a failed posting can be retried
// with the same key.
func (h *Handler) beginIdempotent(w http.ResponseWriter, r *http.Request) (func(), bool) {
	key := r.Header.Get("Idempotency-Key")
	if key == "" || h.idem == nil {
		return func() {}, true
	}
	if err := h.idem.CheckAndInsert(r.Context(), key, "posting"); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			httpx.Problem(w, http.StatusConflict, "Duplicate Request", "this idempotency key was already processed")
			return nil, false
		}
		h.logger.Error("idempotency check failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return nil, false
	}
	ctx := r.Context()
	return func() { _ = h.idem.Delete(ctx, key) }, true
}

// MountRoutes attaches posting routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/bills/{id}/post", h.postBill)
	r.Post("/invoices/{id}/post", h.postInvoice)
	r.Post("/payments", h.postPayment)
	r.Post("/purchase-orders/{id}/deliver", h.postDelivery)
}

type overrideRequest struct {
	OverrideClosedPeriod bool   `json:"overrideClosedPeriod"`
	Justification        string `json:"justification"`
	MatchOrderID         *int64 `json:"matchOrderId"`
}

func (h *Handler) postBill(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "bill id must be numeric")
		return
	}
	var req overrideRequest
	_ = httpx.DecodeJSON(r, &req)
	rollback, ok := h.beginIdempotent(w, r)
	if !ok {
		return
	}
	result, err := h.service.PostBill(r.Context(), PostBillInput{
		CompanyID:            scope.CompanyID,
		BillID:               id,
		ActorID:              scope.ActorID,
		OverrideClosedPeriod: req.OverrideClosedPeriod,
		Justification:        req.Justification,
		MatchOrderID:         req.MatchOrderID,
	})
	if err != nil {
		rollback()
		h.respondPostingError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) postInvoice(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "invoice id must be numeric")
		return
	}
	var req overrideRequest
	_ = httpx.DecodeJSON(r, &req)
	rollback, ok := h.beginIdempotent(w, r)
	if !ok {
		return
	}
	result, err := h.service.PostInvoice(r.Context(), PostInvoiceInput{
		CompanyID:            scope.CompanyID,
		InvoiceID:            id,
		ActorID:              scope.ActorID,
		OverrideClosedPeriod: req.OverrideClosedPeriod,
		Justification:        req.Justification,
	})
	if err != nil {
		rollback()
		h.respondPostingError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

type paymentRequest struct {
	Direction   string  `json:"direction" validate:"required,oneof=receivable payable"`
	PartyID     int64   `json:"partyId" validate:"required"`
	Amount      float64 `json:"amount" validate:"required,gt=0"`
	Method      string  `json:"method" validate:"required"`
	Reference   string  `json:"reference"`
	Date        string  `json:"date" validate:"required"`
	Currency    string  `json:"currency"`
	FXGainLoss  float64 `json:"fxGainLoss"`
	Allocations []struct {
		DocumentID int64   `json:"documentId" validate:"required"`
		Amount     float64 `json:"amount" validate:"required,gt=0"`
	} `json:"allocations"`
	OverrideClosedPeriod bool   `json:"overrideClosedPeriod"`
	Justification        string `json:"justification"`
}

func (h *Handler) postPayment(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}
	var req paymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Date", "date must be YYYY-MM-DD")
		return
	}
	allocations := make([]payments.Allocation, 0, len(req.Allocations))
	for _, alloc := range req.Allocations {
		allocations = append(allocations, payments.Allocation{DocumentID: alloc.DocumentID, Amount: alloc.Amount})
	}
	rollback, ok := h.beginIdempotent(w, r)
	if !ok {
		return
	}
	result, err := h.service.PostPayment(r.Context(), PostPaymentInput{
		Payment: payments.Payment{
			CompanyID:  scope.CompanyID,
			Direction:  payments.Direction(req.Direction),
			PartyID:    req.PartyID,
			Amount:     req.Amount,
			Method:     payments.Method(req.Method),
			Reference:  req.Reference,
			Date:       date,
			Currency:   req.Currency,
			FXGainLoss: req.FXGainLoss,
		},
		Allocations:          allocations,
		ActorID:              scope.ActorID,
		OverrideClosedPeriod: req.OverrideClosedPeriod,
		Justification:        req.Justification,
	})
	if err != nil {
		rollback()
		h.respondPostingError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) postDelivery(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "order id must be numeric")
		return
	}
	var req overrideRequest
	_ = httpx.DecodeJSON(r, &req)
	rollback, ok := h.beginIdempotent(w, r)
	if !ok {
		return
	}
	result, err := h.service.PostDelivery(r.Context(), PostDeliveryInput{
		CompanyID:            scope.CompanyID,
		OrderID:              id,
		ActorID:              scope.ActorID,
		OverrideClosedPeriod: req.OverrideClosedPeriod,
		Justification:        req.Justification,
	})
	if err != nil {
		rollback()
		h.respondPostingError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

// respondPostingError maps the engine's error taxonomy to problem responses
// with the context a caller needs to correct or retry.
func (h *Handler) respondPostingError(w http.ResponseWriter, err error) {
	var lockedErr *periods.LockedError
	var missingErr *ledger.MissingAccountsError
	var stockErr *inventory.InsufficientStockError
	switch {
	case errors.As(err, &lockedErr):
		httpx.ProblemWithMeta(w, http.StatusConflict, "Period Locked", err.Error(), map[string]any{
			"kind":   "period_locked",
			"period": lockedErr.Key,
			"status": string(lockedErr.Status),
		})
	case errors.Is(err, periods.ErrJustificationTooShort):
		httpx.Problem(w, http.StatusBadRequest, "Justification Too Short", err.Error())
	case errors.As(err, &missingErr):
		httpx.ProblemWithMeta(w, http.StatusUnprocessableEntity, "Missing Account Mapping", err.Error(), map[string]any{
			"kind":     "missing_accounts",
			"purposes": missingErr.Purposes,
		})
	case errors.As(err, &stockErr):
		httpx.ProblemWithMeta(w, http.StatusConflict, "Insufficient Stock", err.Error(), map[string]any{
			"kind":      "insufficient_stock",
			"requested": stockErr.Requested,
			"on_hand":   stockErr.OnHand,
			"shortfall": stockErr.Requested - stockErr.OnHand,
		})
	case errors.Is(err, inventory.ErrNegativeStockPrevented):
		httpx.Problem(w, http.StatusConflict, "Negative Stock Prevented", err.Error())
	case errors.Is(err, documents.ErrAlreadyPosted), errors.Is(err, ledger.ErrAlreadyPosted),
		errors.Is(err, ledger.ErrSourceAlreadyLinked):
		httpx.Problem(w, http.StatusConflict, "Already Posted", err.Error())
	case errors.Is(err, documents.ErrCancelled):
		httpx.Problem(w, http.StatusConflict, "Document Cancelled", err.Error())
	case errors.Is(err, db.ErrTxConflict):
		httpx.Problem(w, http.StatusConflict, "Write Conflict", "a concurrent posting touched the same rows; retry the request")
	case errors.Is(err, procurement.ErrInvalidTransition):
		httpx.Problem(w, http.StatusConflict, "Invalid Transition", err.Error())
	case errors.Is(err, procurement.ErrOrderNotFound):
		httpx.RespondError(w, httpx.ErrNotFound)
	case errors.Is(err, ledger.ErrUnbalancedEntry):
		h.logger.Error("unbalanced entry reached posting boundary", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	case errors.Is(err, documents.ErrDocumentNotFound), errors.Is(err, ErrCompanyMismatch):
		httpx.RespondError(w, httpx.ErrNotFound)
	case errors.Is(err, payments.ErrAllocationsExceedPayment), errors.Is(err, payments.ErrInvalidAmount),
		errors.Is(err, payments.ErrDocumentNotOpen), errors.Is(err, payments.ErrDocumentMismatch):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Application", err.Error())
	default:
		h.logger.Error("posting failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
