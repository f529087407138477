package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/admetry/admetry/internal/aggregate"
	"github.com/admetry/admetry/internal/broker"
	"github.com/admetry/admetry/internal/config"
	"github.com/admetry/admetry/internal/consumer"
	"github.com/admetry/admetry/internal/database"
	"github.com/admetry/admetry/internal/metrics"
	"github.com/admetry/admetry/internal/sink"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg)
	defer logger.Sync()

	logger.Info("starting aggregator",
		zap.String("env", cfg.Server.Env),
		zap.String("sink", cfg.Sink.Driver),
		zap.Duration("granularity", cfg.Aggregation.Granularity),
		zap.Duration("flush_period", cfg.Aggregation.FlushPeriod),
	)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewMetrics("aggregator")
		go serveMetrics(cfg, logger)
	}

	metricsSink, err := newSink(cfg)
	if err != nil {
		logger.Fatal("metrics store not available", zap.Error(err))
	}
	defer metricsSink.Close()
	logger.Info("connected to metrics store")

	// The aggregator cannot run without its input; retry exhaustion is fatal.
	conn, err := broker.Dial(cfg.Broker.URL, cfg.Broker.ConnectRetries, cfg.Broker.ConnectDelay, logger)
	if err != nil {
		logger.Fatal("broker connection failed", zap.Error(err))
	}
	defer conn.Close()

	store := aggregate.NewStore(cfg.Aggregation.Granularity, cfg.Aggregation.GraceWindow)
	deriver := aggregate.Deriver{
		Granularity: cfg.Aggregation.Granularity,
		MaskBits:    cfg.Aggregation.IPMaskBits,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	flusher := aggregate.NewFlusher(store, metricsSink, cfg.Aggregation.FlushPeriod, logger, m)
	flushDone := make(chan struct{})
	go func() {
		defer close(flushDone)
		flusher.Run(ctx)
	}()

	cons := consumer.New(conn, store, deriver, logger, m)
	consumeDone := make(chan error, 1)
	go func() {
		consumeDone <- cons.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutting down aggregator...")
	case err := <-consumeDone:
		if err != nil {
			logger.Error("consumer stopped", zap.Error(err))
		} else {
			logger.Warn("consumer stopped, broker connection lost")
		}
	case amqpErr := <-conn.NotifyClose():
		logger.Error("broker connection closed", zap.Error(amqpErr))
	}

	// Stop consumption first, then let the flusher run its final drain.
	cancel()
	<-flushDone

	logger.Info("aggregator stopped")
}

func newSink(cfg *config.Config) (sink.MetricsSink, error) {
	switch cfg.Sink.Driver {
	case "clickhouse":
		conn, err := database.NewClickHouseConn(cfg.Sink.ClickHouse)
		if err != nil {
			return nil, err
		}
		return sink.NewClickHouseSink(conn), nil
	default:
		pool, err := database.NewPostgresPool(cfg.Sink.Timescale.DSN(), cfg.Sink.Timescale.MaxConns, cfg.Sink.Timescale.MinConns)
		if err != nil {
			return nil, err
		}
		return sink.NewTimescaleSink(pool), nil
	}
}

func serveMetrics(cfg *config.Config, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, metrics.Handler())
	logger.Info("metrics endpoint listening", zap.String("port", cfg.Metrics.Port))
	if err := http.ListenAndServe(":"+cfg.Metrics.Port, mux); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server failed", zap.Error(err))
	}
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
