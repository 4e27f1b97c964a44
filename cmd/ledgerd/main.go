package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/arkfin/ledgerd/internal/compliance"
	"github.com/arkfin/ledgerd/internal/config"
	"github.com/arkfin/ledgerd/internal/domain"
	"github.com/arkfin/ledgerd/internal/ledger"
	"github.com/arkfin/ledgerd/internal/logging"
	"github.com/arkfin/ledgerd/internal/projection"
	"github.com/arkfin/ledgerd/internal/replay"
	"github.com/arkfin/ledgerd/internal/risk"
	"github.com/arkfin/ledgerd/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Init("ledgerd", cfg.LogLevel, cfg.AppEnv)

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		slog.Error("failed to open append store", "path", cfg.StorePath, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	riskState := risk.NewState()
	compState := compliance.NewState(cfg.WindowBuckets, cfg.BucketWidth())

	// derived state is never trusted across restarts; rebuild it from history
	reader, err := st.ReadFrom(1)
	if err != nil {
		slog.Error("failed to read store", "error", err)
		os.Exit(1)
	}
	stats, err := replay.Run(reader, domain.GenesisHash, riskState, compState)
	reader.Close()
	if err != nil {
		slog.Error("startup replay failed, refusing to serve", "error", err)
		os.Exit(1)
	}
	logger.Info("startup replay complete",
		"entries", stats.Entries,
		"tail_sequence", stats.ToSequence,
		"elapsed", stats.Elapsed,
	)

	riskEngine := risk.NewEngine(risk.ZeroOracle{}, decimal.NewFromFloat(cfg.MaintenanceMargin))
	compEngine := compliance.NewEngine(
		rules(cfg),
		compliance.StaticProvider{},
		cfg.ProviderTimeout(),
		cfg.ComplianceFailOpen,
		logging.Component(logger, "compliance"),
	)

	svc := ledger.NewService(st, riskEngine, compEngine, riskState, compState,
		logging.Component(logger, "ledger"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go svc.StartPostCommitWorker(ctx)

	monitor := risk.NewMonitor(riskEngine, svc, svc,
		logging.Component(logger, "liquidation"), cfg.LiquidationScanInterval())
	go monitor.Start(ctx)

	if cfg.ProjectionDSN != "" {
		db, err := connectDB(cfg.ProjectionDSN)
		if err != nil {
			slog.Error("failed to connect projection database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		projStore := projection.NewStore(db)
		if err := projStore.Migrate(ctx); err != nil {
			slog.Error("failed to migrate projection schema", "error", err)
			os.Exit(1)
		}
		projector := projection.NewProjector(projStore, svc,
			logging.Component(logger, "projection"), cfg.ProjectionSyncInterval())
		go projector.Start(ctx)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handleHealth(svc))
	handler := requestLogger(logging.Component(logger, "http"), mux)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("health endpoint started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	slog.Info("stopped")
}

func rules(cfg *config.Config) []compliance.Rule {
	return []compliance.Rule{
		compliance.VelocityRule{
			Limit:  uint32(cfg.VelocityLimit),
			Window: cfg.VelocityWindow(),
		},
		compliance.WatchlistRule{},
		compliance.KYCLimitRule{Caps: map[int]decimal.Decimal{
			0: decimal.NewFromInt(1000),
			1: decimal.NewFromInt(50000),
		}},
		compliance.StructuringRule{
			VolumeThreshold: decimal.NewFromFloat(cfg.StructuringThreshold),
			MinTxns:         uint32(cfg.StructuringMinTxns),
			Window:          cfg.StructuringWindow(),
		},
		compliance.LargeTransactionRule{
			Threshold: decimal.NewFromFloat(cfg.LargeTxThreshold),
		},
	}
}

// requestLogger puts a request-scoped logger into the context for handlers
// to pull back out with logging.FromContext.
func requestLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := logger.With("method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r.WithContext(logging.WithLogger(r.Context(), l)))
	})
}

func handleHealth(svc *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		status := "ok"
		if svc.Halted() {
			status = "halted"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		resp := map[string]any{
			"status":        status,
			"tail_sequence": svc.TailSequence(),
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logging.FromContext(r.Context()).Error("failed to write health response", "error", err)
		}
	}
}

func connectDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connectDB: %w", err)
	}

	for i := range 30 {
		if err = db.Ping(); err == nil {
			return db, nil
		}
		slog.Info("waiting for projection database", "attempt", i+1)
		time.Sleep(time.Second)
	}
	return nil, fmt.Errorf("connectDB: %w", err)
}
