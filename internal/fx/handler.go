package fx

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-books/meridian/internal/platform/httpx"
)

// Handler exposes exchange rate lookup and cache invalidation.
type Handler struct {
	service *RateService
	logger  *slog.Logger
}

// NewHandler constructs Handler.
func NewHandler(service *RateService, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// MountRoutes attaches fx routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/fx/rates/{base}/{quote}", h.rate)
	r.Post("/fx/rates/{base}/{quote}/invalidate", h.invalidate)
}

type rateResponse struct {
	Base  string  `json:"base"`
	Quote string  `json:"quote"`
	Rate  float64 `json:"rate"`
}

func (h *Handler) rate(w http.ResponseWriter, r *http.Request) {
	base := strings.ToUpper(chi.URLParam(r, "base"))
	quote := strings.ToUpper(chi.URLParam(r, "quote"))
	rate, err := h.service.Rate(r.Context(), base, quote)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rateResponse{Base: base, Quote: quote, Rate: rate})
}

func (h *Handler) invalidate(w http.ResponseWriter, r *http.Request) {
	base := strings.ToUpper(chi.URLParam(r, "base"))
	quote := strings.ToUpper(chi.URLParam(r, "quote"))
	if err := ValidateCode(base); err != nil {
		h.respondError(w, err)
		return
	}
	if err := ValidateCode(quote); err != nil {
		h.respondError(w, err)
		return
	}
	if err := h.service.Invalidate(r.Context(), base, quote); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidCurrency):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Currency", err.Error())
	case errors.Is(err, ErrRateUnavailable):
		httpx.Problem(w, http.StatusBadGateway, "Rate Unavailable", err.Error())
	default:
		h.logger.Error("fx request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Rate Unavailable", "")
	}
}
