package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/approvals/approvalsd/internal/app"
	"github.com/approvals/approvalsd/internal/document"
	"github.com/approvals/approvalsd/internal/identity"
	"github.com/approvals/approvalsd/internal/instrument"
	"github.com/approvals/approvalsd/internal/ledger"
	"github.com/approvals/approvalsd/internal/notify"
	"github.com/approvals/approvalsd/internal/observability"
	"github.com/approvals/approvalsd/internal/platform/cache"
	"github.com/approvals/approvalsd/internal/platform/db"
	"github.com/approvals/approvalsd/internal/settlement"
	"github.com/approvals/approvalsd/internal/storage"
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

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Warn("asynq close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	dispatcher := notify.NewDispatcher(asynqClient, logger)

	tokenStore := identity.NewTokenStore(pool)
	auth := identity.Middleware{Resolver: tokenStore, Logger: logger}

	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo, logger, metrics)
	ledgerHandler := ledger.NewHandler(logger, ledgerService, auth)

	instrumentRepo := instrument.NewRepository(pool)
	instrumentService := instrument.NewService(instrumentRepo, logger)
	instrumentHandler := instrument.NewHandler(logger, instrumentService, auth)

	blobStore := storage.NewPGStore(pool)

	documentRepo := document.NewRepository(pool)
	leaseManager := document.NewLeaseManager(documentRepo, logger, metrics, cfg.LeaseStaleAfter)
	documentService := document.NewService(documentRepo, leaseManager, blobStore, dispatcher, logger, metrics)
	documentHandler := document.NewHandler(logger, documentService, auth)

	settlementService := settlement.NewService(documentRepo, dispatcher, logger, metrics)
	settlementHandler := settlement.NewHandler(logger, settlementService, auth)

	router := app.NewRouter(app.RouterParams{
		Logger: logger,
		Config: cfg,
		Auth:   auth,
		ReadyChecks: map[string]func(ctx context.Context) error{
			"postgres": pool.Ping,
			"redis": func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		},
		DocumentHandler:   documentHandler,
		SettlementHandler: settlementHandler,
		LedgerHandler:     ledgerHandler,
		InstrumentHandler: instrumentHandler,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
