package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/admetry/admetry/internal/archive"
	"github.com/admetry/admetry/internal/broker"
	"github.com/admetry/admetry/internal/config"
	"github.com/admetry/admetry/internal/database"
	"github.com/admetry/admetry/internal/dedup"
	"github.com/admetry/admetry/internal/geo"
	"github.com/admetry/admetry/internal/httpserver"
	"github.com/admetry/admetry/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg)
	defer logger.Sync()

	logger.Info("starting gateway",
		zap.String("env", cfg.Server.Env),
		zap.String("addr", cfg.Server.Addr),
	)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewMetrics("gateway")
	}

	// The gateway cannot accept events without the broker.
	conn, err := broker.Dial(cfg.Broker.URL, cfg.Broker.ConnectRetries, cfg.Broker.ConnectDelay, logger)
	if err != nil {
		logger.Fatal("broker connection failed", zap.Error(err))
	}
	defer conn.Close()

	publisher, err := broker.NewPublisher(conn)
	if err != nil {
		logger.Fatal("failed to initialize publisher", zap.Error(err))
	}
	defer publisher.Close()

	deps := &httpserver.Dependencies{
		Config:    cfg,
		Logger:    logger,
		Metrics:   m,
		Publisher: publisher,
	}

	if cfg.Archive.Enabled {
		archiver, err := archive.NewMinioArchiver(
			context.Background(),
			cfg.Archive.Endpoint, cfg.Archive.AccessKey, cfg.Archive.SecretKey,
			cfg.Archive.UseSSL, cfg.Archive.Bucket,
		)
		if err != nil {
			logger.Warn("object store not available, raw archival disabled", zap.Error(err))
		} else {
			deps.Archiver = archiver
			logger.Info("connected to object store", zap.String("bucket", cfg.Archive.Bucket))
		}
	}

	if cfg.Redis.Enabled {
		client, err := database.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn("redis not available, duplicate suppression disabled", zap.Error(err))
		} else {
			defer client.Close()
			deps.Deduper = dedup.New(client, cfg.Redis.DedupTTL)
			logger.Info("connected to redis")
		}
	}

	if cfg.Geo.Enabled {
		resolver, err := geo.NewStateResolver(cfg.Geo.DatabasePath)
		if err != nil {
			logger.Warn("failed to initialize geo resolver, state fill disabled", zap.Error(err))
		} else {
			defer resolver.Close()
			deps.Geo = resolver
		}
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      httpserver.NewServer(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down gateway...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("gateway stopped")
}

func setupLogger(cfg *config.Config) *zap.Logger {
	var zapCfg zap.Config

	if cfg.IsDevelopment() {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	switch cfg.Log.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	logger, err := zapCfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to create logger: %v", err))
	}

	return logger
}
