package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-books/meridian/internal/app"
	"github.com/meridian-books/meridian/internal/documents"
	"github.com/meridian-books/meridian/internal/fx"
	"github.com/meridian-books/meridian/internal/inventory"
	"github.com/meridian-books/meridian/internal/landedcost"
	"github.com/meridian-books/meridian/internal/ledger"
	"github.com/meridian-books/meridian/internal/matching"
	"github.com/meridian-books/meridian/internal/payments"
	"github.com/meridian-books/meridian/internal/periods"
	"github.com/meridian-books/meridian/internal/platform/cache"
	"github.com/meridian-books/meridian/internal/platform/db"
	"github.com/meridian-books/meridian/internal/posting"
	"github.com/meridian-books/meridian/internal/procurement"
	"github.com/meridian-books/meridian/internal/shared"
	"github.com/meridian-books/meridian/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	periodsRepo := periods.NewRepository(pool)
	periodGuard := periods.NewGuard(periodsRepo, auditLogger, cfg.PeriodOverrideMinJustification)

	ledgerRepo := ledger.NewRepository(pool)
	journalService := ledger.NewService(ledgerRepo, auditLogger, periodGuard)

	documentsRepo := documents.NewRepository(pool)
	documentsService := documents.NewService(documentsRepo, documentsRepo)

	inventoryRepo := inventory.NewRepository(pool)
	inventoryService := inventory.NewService(inventoryRepo)

	procurementRepo := procurement.NewRepository(pool)
	procurementService := procurement.NewService(procurementRepo, auditLogger)

	matchingRepo := matching.NewRepository(pool)
	matchingService := matching.NewService(matchingRepo, auditLogger, matching.Defaults{
		Local:  matching.Tolerance{Pct: cfg.MatchTolerancePctLocal, Abs: cfg.MatchToleranceAbsLocal},
		Import: matching.Tolerance{Pct: cfg.MatchTolerancePctImport, Abs: cfg.MatchToleranceAbsImport},
	})

	paymentsRepo := payments.NewRepository(pool)
	paymentEngine := payments.NewEngine()
	costAllocator := landedcost.NewAllocator()

	jobClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	postingService := posting.NewService(
		posting.NewUnitOfWork(pool),
		periodGuard,
		journalService,
		paymentEngine,
		costAllocator,
		inventoryService,
		matchingService,
		auditLogger,
		jobClient,
	)

	rateService := fx.NewRateService(redisClient, fx.NewHTTPSource(cfg.FXProviderURL), cfg.FXRateTTL)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		LedgerHandler:      ledger.NewHandler(journalService, logger),
		PeriodsHandler:     periods.NewHandler(periodGuard, logger),
		DocumentsHandler:   documents.NewHandler(documentsService, logger),
		InventoryHandler:   inventory.NewHandler(inventoryService, logger),
		MatchingHandler:    matching.NewHandler(matchingService, logger),
		ProcurementHandler: procurement.NewHandler(procurementService, logger),
		PostingHandler:     posting.NewHandler(postingService, idempotencyStore, logger),
		PaymentsHandler:    payments.NewHandler(paymentsRepo, logger),
		FXHandler:          fx.NewHandler(rateService, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}
