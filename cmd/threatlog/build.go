package main

import (
	"context"
	"fmt"
	"strings"

	"threatlog/config"
	"threatlog/internal/alerts"
	"threatlog/internal/analytics"
	"threatlog/internal/detection"
	"threatlog/internal/logger"
	"threatlog/internal/metrics"
	"threatlog/internal/output/alertclickhouse"
	"threatlog/internal/output/alerthttp"
	"threatlog/internal/output/alertjson"
	"threatlog/internal/output/alertnats"
	"threatlog/internal/output/alertpostgres"
	"threatlog/internal/pipeline"
	"threatlog/internal/rules"
	"threatlog/internal/store"
	"threatlog/internal/store/memory"
	"threatlog/internal/store/pgstore"
	"threatlog/internal/store/redisstore"
	"threatlog/pkg/models"
)

// buildStore opens the configured event store. The second return value is
// non-nil when the store can serve analytics.
func buildStore(ctx context.Context, cfg config.StoreConfig) (store.EventStore, analytics.Source, error) {
	switch cfg.Mode {
	case "memory":
		s := memory.New(memory.Config{Retention: cfg.Retention})
		logger.Infof("Event store: memory (retention %s)", cfg.Retention)
		return s, s, nil
	case "redis":
		s, err := redisstore.New(redisstore.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			Retention: cfg.Retention,
		})
		if err != nil {
			return nil, nil, err
		}
		logger.Infof("Event store: redis (%s)", cfg.Redis.Addr)
		return s, nil, nil
	case "postgres":
		s, err := pgstore.New(pgstore.Config{
			DSN:          cfg.Postgres.DSN,
			Table:        cfg.Postgres.Table,
			MaxOpenConns: cfg.Postgres.MaxOpenConns,
		})
		if err != nil {
			return nil, nil, err
		}
		if cfg.Postgres.EnsureSchema {
			if err := s.EnsureSchema(ctx); err != nil {
				_ = s.Close()
				return nil, nil, err
			}
		}
		logger.Infof("Event store: postgres (table %s)", cfg.Postgres.Table)
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown store mode: %s", cfg.Mode)
	}
}

func buildRules(cfg config.DetectionConfig) ([]rules.Rule, error) {
	rs := rules.Builtin(rules.Config{
		DoS: rules.DoSConfig{
			Window:    cfg.DoS.Window,
			Threshold: cfg.DoS.Threshold,
		},
		PortScan: rules.PortScanConfig{
			Window:      cfg.PortScan.Window,
			MinPorts:    cfg.PortScan.MinPorts,
			MaxReported: cfg.PortScan.MaxReported,
		},
		BruteForce: rules.BruteForceConfig{
			Window:      cfg.BruteForce.Window,
			MinAttempts: cfg.BruteForce.MinAttempts,
		},
	})

	if !cfg.Sigma.Enabled {
		return rs, nil
	}
	if strings.TrimSpace(cfg.Sigma.Path) == "" {
		logger.Warnf("Sigma enabled but sigma.path is empty; Sigma matching disabled")
		return rs, nil
	}
	sigmaRule, stats, err := rules.NewSigmaRule(cfg.Sigma.Path)
	if err != nil {
		return nil, fmt.Errorf("load sigma rules: %w", err)
	}
	logger.Infof("Sigma rules loaded: loaded=%d skipped_complex=%d skipped_invalid=%d files=%d",
		stats.Loaded, stats.SkippedComplex, stats.SkippedInvalid, stats.TotalFiles)
	if stats.Loaded == 0 {
		logger.Warnf("No compatible Sigma rules loaded; Sigma matching is effectively disabled")
		return rs, nil
	}
	return append(rs, sigmaRule), nil
}

// buildAlertWriter returns a nil writer for mode "none". Remote sinks with
// missing credentials, or that cannot be reached at startup, also yield a nil
// writer so detection keeps running without persistence.
func buildAlertWriter(ctx context.Context, cfg config.AlertOutputConfig) (alerts.AlertWriter, error) {
	switch cfg.Mode {
	case "none":
		logger.Warnf("Alert output disabled; alerts are detected but not persisted")
		return nil, nil
	case "file":
		w, err := alertjson.NewWriter(cfg.File.Path)
		if err != nil {
			return nil, err
		}
		logger.Infof("Alert output mode: file (%s)", cfg.File.Path)
		return w, nil
	case "http":
		if strings.TrimSpace(cfg.HTTP.URL) == "" {
			return sinkUnavailable("http", "alerts.output.http.url is empty")
		}
		w, err := alerthttp.NewWriter(alerthttp.Config{
			URL:              cfg.HTTP.URL,
			Timeout:          cfg.HTTP.Timeout,
			Headers:          cfg.HTTP.Headers,
			FailureThreshold: cfg.HTTP.FailureThreshold,
			OpenTimeout:      cfg.HTTP.OpenTimeout,
		})
		if err != nil {
			return sinkUnavailable("http", err.Error())
		}
		logger.Infof("Alert output mode: http (%s)", cfg.HTTP.URL)
		return w, nil
	case "postgres":
		if strings.TrimSpace(cfg.Postgres.DSN) == "" {
			return sinkUnavailable("postgres", "alerts.output.postgres.dsn is empty")
		}
		w, err := alertpostgres.NewWriter(alertpostgres.Config{DSN: cfg.Postgres.DSN, Table: cfg.Postgres.Table})
		if err != nil {
			return sinkUnavailable("postgres", err.Error())
		}
		if cfg.Postgres.EnsureSchema {
			if err := w.EnsureSchema(ctx); err != nil {
				_ = w.Close()
				return nil, err
			}
		}
		logger.Infof("Alert output mode: postgres (table %s)", cfg.Postgres.Table)
		return w, nil
	case "nats":
		w, err := alertnats.NewPublisher(alertnats.Config{URL: cfg.NATS.URL, SubjectPrefix: cfg.NATS.SubjectPrefix})
		if err != nil {
			return sinkUnavailable("nats", err.Error())
		}
		logger.Infof("Alert output mode: nats (%s.>)", cfg.NATS.SubjectPrefix)
		return w, nil
	case "clickhouse":
		if strings.TrimSpace(cfg.ClickHouse.URL) == "" {
			return sinkUnavailable("clickhouse", "alerts.output.clickhouse.url is empty")
		}
		w, err := alertclickhouse.NewWriter(alertclickhouse.Config{
			URL:      cfg.ClickHouse.URL,
			Database: cfg.ClickHouse.Database,
			Table:    cfg.ClickHouse.Table,
			Username: cfg.ClickHouse.Username,
			Password: cfg.ClickHouse.Password,
			Timeout:  cfg.ClickHouse.Timeout,
			Headers:  cfg.ClickHouse.Headers,
		})
		if err != nil {
			return sinkUnavailable("clickhouse", err.Error())
		}
		logger.Infof("Alert output mode: clickhouse (%s/%s.%s)", cfg.ClickHouse.URL, cfg.ClickHouse.Database, cfg.ClickHouse.Table)
		return w, nil
	default:
		return nil, fmt.Errorf("unknown alert output mode: %s", cfg.Mode)
	}
}

func sinkUnavailable(mode, reason string) (alerts.AlertWriter, error) {
	logger.Warnf("Alert output %s unavailable (%s); alerts are detected but not persisted", mode, reason)
	return nil, nil
}

func buildEmitter(cfg config.AlertsConfig, sink alerts.AlertWriter, m *metrics.Metrics) (*alerts.Emitter, error) {
	floor, ok := models.ParseSeverity(cfg.MinSeverity)
	if !ok {
		return nil, fmt.Errorf("unknown alerts.min_severity: %s", cfg.MinSeverity)
	}
	if !floor.AtLeast(models.SeverityHigh) {
		logger.Warnf("alerts.min_severity %s is below HIGH; using HIGH", floor)
	}
	return alerts.NewEmitter(sink, alerts.EmitterConfig{
		MinSeverity:     floor,
		Cooldown:        cfg.Cooldown,
		CooldownEntries: cfg.CooldownEntries,
		WriteTimeout:    cfg.WriteTimeout,
	}, m)
}

// buildIngestor wires store, rules and emitter into one ingestion path.
func buildIngestor(cfg *config.Config, events store.EventStore, sink alerts.AlertWriter, m *metrics.Metrics, ingestCfg pipeline.IngestorConfig) (*pipeline.Ingestor, error) {
	rs, err := buildRules(cfg.ThreatLog.Detection)
	if err != nil {
		return nil, err
	}
	emitter, err := buildEmitter(cfg.ThreatLog.Alerts, sink, m)
	if err != nil {
		return nil, err
	}
	detector := detection.New(events, rs,
		detection.WithParallel(cfg.ThreatLog.Detection.ParallelDetection()),
		detection.WithMetrics(m),
	)
	return pipeline.NewIngestor(events, detector, emitter, m, ingestCfg), nil
}
