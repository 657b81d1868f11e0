package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"threatlog/config"
	inputredis "threatlog/internal/input/redis"
	"threatlog/internal/logger"
	"threatlog/internal/metrics"
	"threatlog/internal/output/rawjsonl"
	"threatlog/internal/pipeline"
)

func runServe(args []string) int {
	configArg := ""
	if len(args) > 0 {
		configArg = args[0]
	}

	cfg, configPath, err := loadConfig(configArg)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return 1
	}
	if err := initLogger(cfg); err != nil {
		log.Printf("Failed to initialize logger: %v", err)
		return 1
	}

	logger.Infof("ThreatLog starting")
	logger.Infof("Config loaded from: %s", configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	metricsSrv := startMetricsServer(cfg.ThreatLog.Metrics, reg)

	events, _, err := buildStore(ctx, cfg.ThreatLog.Store)
	if err != nil {
		logger.Errorf("Failed to open event store: %v", err)
		return 1
	}
	defer events.Close()

	sink, err := buildAlertWriter(ctx, cfg.ThreatLog.Alerts.Output)
	if err != nil {
		logger.Errorf("Failed to create alert writer: %v", err)
		return 1
	}

	ingestor, err := buildIngestor(cfg, events, sink, m, pipeline.IngestorConfig{})
	if err != nil {
		logger.Errorf("Failed to build ingestion pipeline: %v", err)
		return 1
	}

	consumer, err := inputredis.NewConsumer(inputredis.Config{
		Addr:         cfg.ThreatLog.Input.Redis.Addr,
		Password:     cfg.ThreatLog.Input.Redis.Password,
		DB:           cfg.ThreatLog.Input.Redis.DB,
		Key:          cfg.ThreatLog.Input.Redis.Key,
		BlockTimeout: cfg.ThreatLog.Input.Redis.BlockTimeout,
	})
	if err != nil {
		logger.Errorf("Failed to create Redis consumer: %v", err)
		return 1
	}

	pipe := pipeline.NewRedisPipeline(consumer, ingestor, cfg.ThreatLog.Pipeline.Workers)
	if rc := cfg.ThreatLog.ReplayCapture; rc.Enabled {
		capture, err := rawjsonl.NewWriter(rc.File.Path)
		if err != nil {
			logger.Errorf("Failed to create replay capture writer: %v", err)
			_ = pipe.Close()
			return 1
		}
		pipe.SetRawWriter(capture)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := pipe.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("Pipeline error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Infof("Shutting down")
	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warnf("Pipeline did not drain within 10s")
	}

	if err := pipe.Close(); err != nil {
		logger.Errorf("Error closing pipeline: %v", err)
	}
	if metricsSrv != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsSrv.Shutdown(shutdownCtx)
		stop()
	}

	logger.Infof("ThreatLog stopped")
	return 0
}

func startMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	if cfg.Addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, metrics.Handler(reg))
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Metrics server error: %v", err)
		}
	}()
	logger.Infof("Metrics listening on %s%s", cfg.Addr, cfg.Path)
	return srv
}
