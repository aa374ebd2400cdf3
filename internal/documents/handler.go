package documents

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-books/meridian/internal/platform/httpx"
	"github.com/meridian-books/meridian/internal/shared"
)

// Handler exposes bill and invoice management over HTTP. Posting runs
// through the posting routes, not here.
type Handler struct {
	service  *Service
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler constructs Handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, validate: validator.New(), logger: logger}
}

// MountRoutes attaches document routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/documents", h.create)
	r.Get("/documents/{id}", h.get)
	r.Post("/documents/{id}/cancel", h.cancel)
	r.Get("/aging/{type}", h.aging)
}

type lineRequest struct {
	Description  string  `json:"description"`
	ProductID    *int64  `json:"productId"`
	Quantity     float64 `json:"quantity" validate:"required,gt=0"`
	UnitPrice    float64 `json:"unitPrice" validate:"gte=0"`
	TaxRateID    *int64  `json:"taxRateId"`
	TaxName      string  `json:"taxName"`
	TaxPct       float64 `json:"taxPct"`
	TaxInclusive bool    `json:"taxInclusive"`
}

type createRequest struct {
	Type             string        `json:"type" validate:"required,oneof=BILL INVOICE"`
	PartyID          int64         `json:"partyId" validate:"required"`
	Number           string        `json:"number" validate:"required"`
	Date             string        `json:"date" validate:"required"`
	DueDate          string        `json:"dueDate"`
	Currency         string        `json:"currency"`
	PurchaseType     string        `json:"purchaseType"`
	FreightCost      float64       `json:"freightCost" validate:"gte=0"`
	CustomsDuty      float64       `json:"customsDuty" validate:"gte=0"`
	OtherImportCosts float64       `json:"otherImportCosts" validate:"gte=0"`
	PurchaseOrderID  *int64        `json:"purchaseOrderId"`
	Lines            []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}
	var req createRequest
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
	var dueDate *time.Time
	if req.DueDate != "" {
		parsed, err := time.Parse("2006-01-02", req.DueDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Date", "dueDate must be YYYY-MM-DD")
			return
		}
		dueDate = &parsed
	}
	lines := make([]LineInput, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, LineInput{
			Description:  line.Description,
			ProductID:    line.ProductID,
			Quantity:     line.Quantity,
			UnitPrice:    line.UnitPrice,
			TaxRateID:    line.TaxRateID,
			TaxName:      line.TaxName,
			TaxPct:       line.TaxPct,
			TaxInclusive: line.TaxInclusive,
		})
	}
	doc, err := h.service.Create(r.Context(), CreateInput{
		CompanyID:        scope.CompanyID,
		Type:             Type(req.Type),
		PartyID:          req.PartyID,
		Number:           req.Number,
		Date:             date,
		DueDate:          dueDate,
		Currency:         req.Currency,
		PurchaseType:     PurchaseType(req.PurchaseType),
		FreightCost:      req.FreightCost,
		CustomsDuty:      req.CustomsDuty,
		OtherImportCosts: req.OtherImportCosts,
		PurchaseOrderID:  req.PurchaseOrderID,
		Lines:            lines,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, doc)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "document id must be numeric")
		return
	}
	doc, err := h.service.Get(r.Context(), scope.CompanyID, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "document id must be numeric")
		return
	}
	if err := h.service.Cancel(r.Context(), scope.CompanyID, id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) aging(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}
	docType := Type(chi.URLParam(r, "type"))
	if docType != TypeBill && docType != TypeInvoice {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Type", "type must be BILL or INVOICE")
		return
	}
	buckets, err := h.service.Aging(r.Context(), scope.CompanyID, docType)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, buckets)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrDocumentNotFound):
		httpx.RespondError(w, httpx.ErrNotFound)
	case errors.Is(err, ErrNotDraft), errors.Is(err, ErrAlreadyPosted), errors.Is(err, ErrCancelled):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrNoLines), errors.Is(err, ErrTaxRateNotFound):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Document", err.Error())
	default:
		h.logger.Error("document request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
