package payments

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-books/meridian/internal/platform/httpx"
	"github.com/meridian-books/meridian/internal/shared"
)

// Handler exposes read access to recorded payments. Recording runs through
// the posting routes.
type Handler struct {
	repo   *Repository
	logger *slog.Logger
}

// NewHandler constructs Handler.
func NewHandler(repo *Repository, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

// MountRoutes attaches payment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/payments/{id}", h.get)
	r.Get("/payments/{id}/applications", h.applications)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "payment id must be numeric")
		return
	}
	var payment Payment
	err = h.repo.WithTx(r.Context(), func(ctx context.Context, store Store, _ DocumentStore) error {
		payment, err = store.GetPayment(ctx, scope.CompanyID, id)
		return err
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, payment)
}

func (h *Handler) applications(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "payment id must be numeric")
		return
	}
	var apps []Application
	err = h.repo.WithTx(r.Context(), func(ctx context.Context, store Store, _ DocumentStore) error {
		if _, err := store.GetPayment(ctx, scope.CompanyID, id); err != nil {
			return err
		}
		apps, err = store.ListApplications(ctx, id)
		return err
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, apps)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrPaymentNotFound):
		httpx.RespondError(w, httpx.ErrNotFound)
	default:
		h.logger.Error("payments request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
