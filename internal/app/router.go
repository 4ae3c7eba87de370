package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/approvals/approvalsd/internal/document"
	"github.com/approvals/approvalsd/internal/identity"
	"github.com/approvals/approvalsd/internal/instrument"
	"github.com/approvals/approvalsd/internal/ledger"
	"github.com/approvals/approvalsd/internal/observability"
	"github.com/approvals/approvalsd/internal/settlement"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger *slog.Logger
	Config *Config
	Auth   identity.Middleware
	// ReadyChecks are pinged by /readyz; the route reports 503 when any fails.
	ReadyChecks       map[string]func(ctx context.Context) error
	DocumentHandler   *document.Handler
	SettlementHandler *settlement.Handler
	LedgerHandler     *ledger.Handler
	InstrumentHandler *instrument.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with application defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		for name, check := range params.ReadyChecks {
			if err := check(r.Context()); err != nil {
				params.Logger.Warn("readiness check failed",
					slog.String("check", name), slog.Any("error", err))
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})
	r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(params.Auth.Authenticate)
		r.Route("/documents", func(r chi.Router) {
			params.DocumentHandler.MountRoutes(r)
			params.SettlementHandler.MountRoutes(r)
		})
		r.Route("/accounts", params.LedgerHandler.MountRoutes)
		r.Route("/instruments", params.InstrumentHandler.MountRoutes)
	})

	return r
}
