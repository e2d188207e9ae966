package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	deployconfig "dscengine/config"
	"dscengine/observability/logging"
	telemetry "dscengine/observability/otel"
	"dscengine/services/dscd/config"
	"dscengine/services/dscd/journal"
	"dscengine/services/dscd/middleware"
	"dscengine/services/dscd/node"
	"dscengine/services/dscd/server"
	"dscengine/services/dscd/stream"
	"dscengine/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var (
		cfgPath    string
		deployment string
	)
	flag.StringVar(&cfgPath, "config", "", "path to dscd YAML configuration (defaults and DSCD_* variables apply when empty)")
	flag.StringVar(&deployment, "deployment", "", "path to the engine deployment TOML (overrides the config file)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("dscd: load config: %v", err)
	}
	if deployment != "" {
		cfg.Deployment = deployment
	}

	logger, logCloser := logging.SetupWithOptions("dscd", cfg.Environment, logging.Options{
		Level:      logging.ParseLevel(cfg.Logging.Level),
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("dscd exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("starting dscd", "config", cfg.Sanitized())

	deployFile, err := deployconfig.Load(cfg.Deployment)
	if err != nil {
		return fmt.Errorf("load deployment: %w", err)
	}
	dep, err := deployFile.Deployment()
	if err != nil {
		return fmt.Errorf("resolve deployment: %w", err)
	}

	telemetryCfg := telemetry.FromEnv("dscd", cfg.Environment)
	telemetryCfg.Network = deployFile.NetworkName
	telemetryCfg.Engine = dep.Engine.Address.String()
	telemetryCfg.Stablecoin = dep.Engine.Stablecoin.String()
	for _, c := range dep.Collateral {
		telemetryCfg.Collateral = append(telemetryCfg.Collateral, c.Symbol)
	}
	shutdownTelemetry, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	db, err := storage.NewLevelDB(filepath.Join(deployFile.DataDir, "ledger"))
	if err != nil {
		return fmt.Errorf("open ledger store: %w", err)
	}

	j, err := journal.Open(cfg.Journal.Driver, cfg.Journal.DSN)
	if err != nil {
		db.Close()
		return fmt.Errorf("open journal: %w", err)
	}
	j.SetLogger(logger)
	hub := stream.NewHub(cfg.Stream.Buffer, logger)

	n, err := node.New(node.Options{
		Deployment: dep,
		DB:         db,
		Journal:    j,
		Hub:        hub,
		Logger:     logger,
	})
	if err != nil {
		_ = j.Close()
		db.Close()
		return err
	}
	defer func() {
		if err := n.Close(); err != nil {
			logger.Warn("close node", "error", err)
		}
	}()
	logger.Info("engine ready",
		"network", deployFile.NetworkName,
		"engine", dep.Engine.Address.String(),
		"stablecoin", dep.Engine.Stablecoin.String(),
		"collateral", len(dep.Collateral))

	handler := server.New(n, server.Options{
		Auth: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.ClockSkew.Duration,
		}, logger),
		Limiter: middleware.NewRateLimiter(map[string]middleware.RateLimit{
			server.LimitRead:  middleware.PerMinute(cfg.RateLimits.ReadPerMinute, cfg.RateLimits.ReadBurst),
			server.LimitWrite: middleware.PerMinute(cfg.RateLimits.WritePerMinute, cfg.RateLimits.WriteBurst),
		}, logger),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName: "dscd",
			LogRequests: true,
			Enabled:     true,
		}, logger),
		CORS:          middleware.CORSConfig{AllowedOrigins: cfg.CORS.AllowedOrigins},
		StreamOrigins: cfg.Stream.OriginPatterns,
		Logger:        logger,
	})
	if !cfg.Auth.Enabled {
		logger.Warn("authentication disabled; callers are taken from the " + middleware.CallerHeader + " header")
	}

	go n.RunScanner(ctx, cfg.Scan.Interval.Duration)

	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "address", cfg.ListenAddress)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("dscd stopped")
	return nil
}
