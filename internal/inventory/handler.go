package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-books/meridian/internal/platform/httpx"
	"github.com/meridian-books/meridian/internal/shared"
)

// Handler exposes the stock ledger over HTTP.
type Handler struct {
	service  *Service
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler constructs Handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, validate: validator.New(), logger: logger}
}

// MountRoutes attaches inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/movements", h.recordMovement)
	r.Get("/products/{id}/movements", h.listMovements)
}

type movementRequest struct {
	ProductID  int64   `json:"productId" validate:"required"`
	LocationID *int64  `json:"locationId"`
	Type       string  `json:"type" validate:"required"`
	Quantity   float64 `json:"quantity" validate:"required"`
	UnitCost   float64 `json:"unitCost"`
	Reference  string  `json:"reference"`
}

func (h *Handler) recordMovement(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}
	var req movementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	movement, err := h.service.RecordMovement(r.Context(), MovementInput{
		CompanyID:  scope.CompanyID,
		ProductID:  req.ProductID,
		LocationID: req.LocationID,
		Type:       MovementType(req.Type),
		Quantity:   req.Quantity,
		UnitCost:   req.UnitCost,
		Reference:  req.Reference,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movement)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "product id must be numeric")
		return
	}
	movements, err := h.service.Movements(r.Context(), scope.CompanyID, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movements)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var stockErr *InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		httpx.ProblemWithMeta(w, http.StatusConflict, "Insufficient Stock", err.Error(), map[string]any{
			"requested": stockErr.Requested,
			"on_hand":   stockErr.OnHand,
		})
	case errors.Is(err, ErrNegativeStockPrevented):
		httpx.Problem(w, http.StatusConflict, "Negative Stock Prevented", err.Error())
	case errors.Is(err, ErrUnknownMovementType), errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrUnitCostRequired), errors.Is(err, ErrNotTracked):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Movement", err.Error())
	case errors.Is(err, ErrProductNotFound):
		httpx.RespondError(w, httpx.ErrNotFound)
	default:
		h.logger.Error("inventory request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
