package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"dashboard-core/internal/api"
	"dashboard-core/internal/hierarchy"
	"dashboard-core/internal/logger"
	"dashboard-core/internal/monitor"
	"dashboard-core/internal/settings"
	"dashboard-core/internal/store"
	"dashboard-core/pkg/config"
	"dashboard-core/pkg/db"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "dashboard-core: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "v1.0-dev"
	}
	log.Info("starting", zap.String("version", buildVersion), zap.String("port", cfg.Port))

	shutdownTracing, err := logger.InitTracing(cfg.TracingEnabled, buildVersion)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			log.Warn("trace shutdown failed", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sysMetrics := monitor.NewSystemMetrics()

	database, err := db.New(dbOptions(cfg, log, sysMetrics.DBHooks()))
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(ctx, database); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	log.Info("database ready",
		zap.String("backend", string(database.Kind())),
		zap.String("path", cfg.DBPath),
	)

	catalog, err := settings.LoadCatalog(cfg.SettingsCatalog)
	if err != nil {
		return fmt.Errorf("load settings catalog: %w", err)
	}

	st := store.New(database, log.Named("store"))
	assembler := hierarchy.New(st, log.Named("hierarchy"))
	overlay := settings.NewOverlay(st, catalog)

	mon := &monitor.Monitor{
		DB:       database,
		Metrics:  sysMetrics,
		Sink:     monitor.LogSink{Log: log.Named("alert")},
		Interval: cfg.MonitorInterval,
		Log:      log.Named("monitor"),
	}
	mon.Start(ctx)

	server := api.NewServer(
		database,
		st,
		assembler,
		overlay,
		sysMetrics,
		log.Named("api"),
		api.SystemMeta{
			Version: buildVersion,
			Backend: string(database.Kind()),
		},
		api.Options{
			RateLimit:   cfg.APIRateLimit,
			RateBurst:   cfg.APIRateBurst,
			CORSOrigins: cfg.CORSOrigins,
			CacheTTL:    cfg.CacheTTL,
		},
	)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start(":" + cfg.Port)
	}()
	log.Info("api listening", zap.String("addr", ":"+cfg.Port))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("api shutdown failed", zap.Error(err))
	}
	return nil
}

// dbOptions maps config onto the facade. DB_MAX_RETRIES=0 means no retries,
// which the retry policy spells as a negative count.
func dbOptions(cfg *config.Config, log *zap.Logger, hooks db.Hooks) db.Options {
	retries := cfg.DBMaxRetries
	if retries == 0 {
		retries = -1
	}
	return db.Options{
		Kind:           db.Kind(cfg.DBBackend),
		Path:           cfg.DBPath,
		URL:            cfg.DatabaseURL,
		PoolMax:        int32(cfg.DBPoolMax),
		IdleTimeout:    cfg.DBIdleTimeout,
		ConnectTimeout: cfg.DBConnectTimeout,
		Retry: db.RetryPolicy{
			MaxRetries: retries,
			BaseDelay:  cfg.DBRetryBase,
		},
		Logger: log.Named("db"),
		Hooks:  hooks,
	}
}
