package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rasterflow-labs/rasterflow-go/internal/engine"
	"github.com/rasterflow-labs/rasterflow-go/internal/exporter"
	"github.com/rasterflow-labs/rasterflow-go/internal/importer"
	"github.com/rasterflow-labs/rasterflow-go/internal/ledger"
	"github.com/rasterflow-labs/rasterflow-go/internal/magick"
	"github.com/rasterflow-labs/rasterflow-go/internal/platform/env"
	"github.com/rasterflow-labs/rasterflow-go/internal/platform/httpserver"
	"github.com/rasterflow-labs/rasterflow-go/internal/platform/objectstore"
	"github.com/rasterflow-labs/rasterflow-go/internal/platform/postgres"
	"github.com/rasterflow-labs/rasterflow-go/internal/profile"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("RASTERFLOW_HTTP_ADDR", ":8080")
	shutdownTimeout, err := env.Duration("RASTERFLOW_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	workDir := env.String("RASTERFLOW_WORK_DIR", filepath.Join(os.TempDir(), "rasterflow"))
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		logger.Error("work dir unavailable", "error", err, "dir", workDir)
		os.Exit(1)
	}

	engineCfg, err := magick.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid engine config", "error", err)
		os.Exit(2)
	}
	cli, err := magick.NewCLI(engineCfg)
	if err != nil {
		logger.Error("raster engine unavailable", "error", err)
		os.Exit(1)
	}

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	storeClient, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		logger.Error("object store client init failed", "error", err)
		os.Exit(2)
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := objectstore.EnsureBuckets(startupCtx, storeClient, storeCfg); err != nil {
		cancel()
		logger.Error("object store unavailable", "error", err)
		os.Exit(1)
	}
	cancel()
	store, err := objectstore.NewMinioStoreWithClient(storeClient, storeCfg.Region)
	if err != nil {
		logger.Error("object store init failed", "error", err)
		os.Exit(2)
	}

	httpClient := &http.Client{Timeout: 60 * time.Second}
	resolver := importer.NewResolver(httpClient, store)
	writer := exporter.NewWriter(store, cli, storeCfg.BucketOutputs, storeCfg.Region)

	executor, err := engine.NewExecutor(cli, resolver, writer, logger)
	if err != nil {
		logger.Error("executor init failed", "error", err)
		os.Exit(2)
	}

	profileTTL, err := env.Duration("RASTERFLOW_PROFILE_TTL", 5*time.Minute)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	profiles, err := profile.NewCache(profileTTL, profile.NewFetcher(httpClient, store))
	if err != nil {
		logger.Error("profile cache init failed", "error", err)
		os.Exit(2)
	}

	readiness := []httpserver.ReadinessCheck{
		{
			Name: "minio",
			Check: func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return objectstore.CheckBuckets(checkCtx, storeClient, storeCfg)
			},
		},
	}

	ledgerEnabled, err := env.Bool("RASTERFLOW_LEDGER_ENABLED", false)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	var runs *ledger.Store
	if ledgerEnabled {
		dbCfg, err := postgres.ConfigFromEnv()
		if err != nil {
			logger.Error("invalid database config", "error", err)
			os.Exit(2)
		}
		db, err := postgres.Open(ctx, dbCfg)
		if err != nil {
			logger.Error("database unavailable", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()

		runs, err = ledger.NewStore(db)
		if err != nil {
			logger.Error("ledger init failed", "error", err)
			os.Exit(2)
		}
		migrateCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := runs.Migrate(migrateCtx); err != nil {
			cancel()
			logger.Error("ledger migration failed", "error", err)
			os.Exit(1)
		}
		cancel()

		readiness = append(readiness, httpserver.ReadinessCheck{
			Name: "postgres",
			Check: func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return db.PingContext(checkCtx)
			},
		})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("processor"))
	mux.HandleFunc("/readyz", httpserver.ReadyzWithChecks("processor", readiness...))

	api := newProcessorAPI(logger, executor, profiles, runs, workDir)
	api.register(mux)

	cfg := httpserver.Config{
		Service:         "processor",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}

	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, "processor", mux)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
