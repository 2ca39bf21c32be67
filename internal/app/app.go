// Package app is the composition root: it wires configuration, storage,
// and the core's components together and runs the selected mode.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/ciylabs/cluster-access-control/internal/audit"
	"github.com/ciylabs/cluster-access-control/internal/config"
	"github.com/ciylabs/cluster-access-control/internal/httpserver"
	"github.com/ciylabs/cluster-access-control/internal/platform"
	"github.com/ciylabs/cluster-access-control/internal/telemetry"
	"github.com/ciylabs/cluster-access-control/pkg/clusteradapter"
	"github.com/ciylabs/cluster-access-control/pkg/keepalive"
	"github.com/ciylabs/cluster-access-control/pkg/lock"
	"github.com/ciylabs/cluster-access-control/pkg/nodeapi"
	"github.com/ciylabs/cluster-access-control/pkg/queryapi"
	"github.com/ciylabs/cluster-access-control/pkg/reaper"
	"github.com/ciylabs/cluster-access-control/pkg/registrar"
	"github.com/ciylabs/cluster-access-control/pkg/schedulability"
	"github.com/ciylabs/cluster-access-control/pkg/stats"
	"github.com/ciylabs/cluster-access-control/pkg/survival"
	"github.com/ciylabs/cluster-access-control/pkg/workerpool"
)

// Run is the main application entry point. It reads config, connects to
// infrastructure, and starts the selected mode (api, reconciler, migrate).
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting cluster-access-control", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	if cfg.Mode == "migrate" {
		if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		logger.Info("migrations applied")
		return nil
	}

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL())
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewMetricsRegistry()

	adapter, err := clusteradapter.NewKubeAdapter(cfg.KubernetesConfigDir + "/kubernetes-config-file")
	if err != nil {
		return fmt.Errorf("building cluster adapter: %w", err)
	}

	statsStore := stats.New(db)
	if err := statsStore.EnsureDatabase(ctx); err != nil {
		return fmt.Errorf("ensuring statistics schema: %w", err)
	}

	keepaliveStore := keepalive.New(rdb)
	lockSvc := lock.New(rdb)
	estimator := survival.New(statsStore)

	auditWriter := audit.NewWriter(db, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, metricsReg, adapter, statsStore, keepaliveStore, lockSvc, estimator, auditWriter)
	case "reconciler":
		return runReconciler(ctx, cfg, logger, adapter, statsStore, keepaliveStore, lockSvc, estimator, auditWriter)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

func runAPI(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	db *pgxpool.Pool,
	rdb *redis.Client,
	metricsReg *prometheus.Registry,
	adapter *clusteradapter.KubeAdapter,
	statsStore *stats.Store,
	keepaliveStore *keepalive.Store,
	lockSvc *lock.Service,
	estimator *survival.Estimator,
	auditWriter *audit.Writer,
) error {
	srv := httpserver.NewServer(logger, db, rdb, metricsReg)

	pool := workerpool.New(ctx, logger)

	credentials, err := registrar.NewFileCredentialSource(cfg.KubernetesConfigDir, cfg.VPNIssuerURL, cfg.VPNAPIKey)
	if err != nil {
		return fmt.Errorf("loading node join credentials: %w", err)
	}

	reg := registrar.New(statsStore, credentials, cfg.RegistrationCooldown())
	reg.SetEventLog(auditWriter)

	onlineCache := nodeapi.NewOnlineCache(adapter, rdb, lockSvc)
	intake := nodeapi.NewIntake(keepaliveStore, statsStore, rdb, onlineCache, adapter, pool, logger, cfg.NodeTimeout())
	intake.SetEventLog(auditWriter)

	nodeHandler := nodeapi.NewHandler(logger, reg, intake, adapter)
	queryHandler := queryapi.NewHandler(logger, estimator, statsStore, rdb)

	apiV1 := chi.NewRouter()
	nodeHandler.Mount(apiV1)
	queryHandler.Mount(apiV1)
	srv.Router.Mount("/api/v1", apiV1)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		pool.Wait()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runReconciler(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	adapter *clusteradapter.KubeAdapter,
	statsStore *stats.Store,
	keepaliveStore *keepalive.Store,
	lockSvc *lock.Service,
	estimator *survival.Estimator,
	auditWriter *audit.Writer,
) error {
	pool := workerpool.New(ctx, logger)

	nodeReaper := reaper.New(adapter, keepaliveStore, statsStore, lockSvc, pool, logger, cfg.NodeTimeout())
	nodeReaper.SetEventLog(auditWriter)

	controller := schedulability.New(adapter, estimator, pool, logger, cfg.NodeTimeout(), cfg.MinimalSurvivabilityMins)
	controller.SetEventLog(auditWriter)

	logger.Info("reconciler started", "node_timeout", cfg.NodeTimeout(), "minimal_survivability_minutes", cfg.MinimalSurvivabilityMins)

	go nodeReaper.Run(ctx)
	controller.Run(ctx)

	pool.Wait()
	return nil
}
