package matching

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-books/meridian/internal/platform/httpx"
	"github.com/meridian-books/meridian/internal/shared"
)

// Handler exposes match exceptions over HTTP. Matching itself runs inside
// the bill posting pipeline.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler constructs Handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// MountRoutes attaches matching routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/match-exceptions", h.list)
	r.Post("/match-exceptions/{id}/resolve", h.resolve)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}
	exceptions, err := h.service.ListExceptions(r.Context(), scope.CompanyID)
	if err != nil {
		h.logger.Error("list exceptions", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, exceptions)
}

type resolveRequest struct {
	Note string `json:"note"`
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "exception id must be numeric")
		return
	}
	var req resolveRequest
	_ = httpx.DecodeJSON(r, &req)
	resolution, err := h.service.ResolveException(r.Context(), scope.CompanyID, id, scope.ActorID, req.Note)
	if err != nil {
		switch {
		case errors.Is(err, ErrExceptionNotFound):
			httpx.RespondError(w, httpx.ErrNotFound)
		case errors.Is(err, ErrAlreadyResolved):
			httpx.Problem(w, http.StatusConflict, "Already Resolved", err.Error())
		default:
			h.logger.Error("resolve exception", slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		}
		return
	}
	httpx.JSON(w, http.StatusCreated, resolution)
}
