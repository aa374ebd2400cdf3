package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/meridian-books/meridian/internal/documents"
	"github.com/meridian-books/meridian/internal/fx"
	"github.com/meridian-books/meridian/internal/inventory"
	"github.com/meridian-books/meridian/internal/ledger"
	"github.com/meridian-books/meridian/internal/matching"
	"github.com/meridian-books/meridian/internal/payments"
	"github.com/meridian-books/meridian/internal/periods"
	"github.com/meridian-books/meridian/internal/posting"
	"github.com/meridian-books/meridian/internal/procurement"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	LedgerHandler      *ledger.Handler
	PeriodsHandler     *periods.Handler
	DocumentsHandler   *documents.Handler
	InventoryHandler   *inventory.Handler
	MatchingHandler    *matching.Handler
	ProcurementHandler *procurement.Handler
	PostingHandler     *posting.Handler
	PaymentsHandler    *payments.Handler
	FXHandler          *fx.Handler
}

// NewRouter constructs the chi.Router with Meridian defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(ScopeMiddleware(params.Logger))
		params.LedgerHandler.MountRoutes(api)
		params.PeriodsHandler.MountRoutes(api)
		params.DocumentsHandler.MountRoutes(api)
		params.InventoryHandler.MountRoutes(api)
		params.MatchingHandler.MountRoutes(api)
		params.ProcurementHandler.MountRoutes(api)
		params.PostingHandler.MountRoutes(api)
		params.PaymentsHandler.MountRoutes(api)
		params.FXHandler.MountRoutes(api)
	})

	return r
}
