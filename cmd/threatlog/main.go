package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"

	"threatlog/config"
	"threatlog/internal/logger"
)

func findConfigFile(configArg string) string {
	if configArg != "" {
		path := configArg
		if _, err := os.Stat(path); err == nil {
			return path
		}
		log.Printf("Warning: config file not found at %s, trying default locations", path)
	}

	if _, err := os.Stat("threatlog.yml"); err == nil {
		return "threatlog.yml"
	}

	exePath, err := os.Executable()
	if err == nil {
		exeDir := filepath.Dir(exePath)
		path := filepath.Join(exeDir, "threatlog.yml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "threatlog.yml"
}

// loadConfig falls back to defaults when no config file exists so the
// one-shot commands work without one.
func loadConfig(configArg string) (*config.Config, string, error) {
	configPath := findConfigFile(configArg)
	cfg := &config.Config{}
	if _, err := os.Stat(configPath); err == nil {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, configPath, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	} else if configArg != "" {
		return nil, configPath, fmt.Errorf("config file not found: %s", configArg)
	} else {
		configPath = "(defaults)"
	}
	applyDefaults(cfg)
	return cfg, configPath, nil
}

func applyDefaults(cfg *config.Config) {
	tl := &cfg.ThreatLog

	if tl.Input.Redis.Addr == "" {
		tl.Input.Redis.Addr = "127.0.0.1:6379"
	}
	if tl.Input.Redis.Key == "" {
		tl.Input.Redis.Key = "threatlog:submissions"
	}
	if tl.Input.Redis.BlockTimeout == 0 {
		tl.Input.Redis.BlockTimeout = 5 * time.Second
	}

	if tl.Pipeline.Workers <= 0 {
		tl.Pipeline.Workers = 4
	}

	if tl.Store.Mode == "" {
		tl.Store.Mode = "memory"
	}
	if tl.Store.Retention == 0 {
		tl.Store.Retention = 10 * time.Minute
	}
	if tl.Store.Redis.Addr == "" {
		tl.Store.Redis.Addr = tl.Input.Redis.Addr
	}
	if tl.Store.Redis.KeyPrefix == "" {
		tl.Store.Redis.KeyPrefix = "threatlog:events"
	}
	if tl.Store.Postgres.Table == "" {
		tl.Store.Postgres.Table = "events"
	}

	if tl.Detection.DoS.Window <= 0 {
		tl.Detection.DoS.Window = 10 * time.Second
	}
	if tl.Detection.DoS.Threshold <= 0 {
		tl.Detection.DoS.Threshold = 10
	}
	if tl.Detection.PortScan.Window <= 0 {
		tl.Detection.PortScan.Window = 60 * time.Second
	}
	if tl.Detection.PortScan.MinPorts <= 0 {
		tl.Detection.PortScan.MinPorts = 5
	}
	if tl.Detection.PortScan.MaxReported <= 0 {
		tl.Detection.PortScan.MaxReported = 10
	}
	if tl.Detection.BruteForce.Window <= 0 {
		tl.Detection.BruteForce.Window = 300 * time.Second
	}
	if tl.Detection.BruteForce.MinAttempts <= 0 {
		tl.Detection.BruteForce.MinAttempts = 3
	}

	if tl.Alerts.MinSeverity == "" {
		tl.Alerts.MinSeverity = "high"
	}
	if tl.Alerts.Output.Mode == "" {
		tl.Alerts.Output.Mode = "file"
	}
	if tl.Alerts.Output.File.Path == "" {
		tl.Alerts.Output.File.Path = "output/alerts.jsonl"
	}
	if tl.Alerts.Output.Postgres.Table == "" {
		tl.Alerts.Output.Postgres.Table = "alerts"
	}
	if tl.Alerts.Output.NATS.SubjectPrefix == "" {
		tl.Alerts.Output.NATS.SubjectPrefix = "threatlog.alerts"
	}
	if tl.Alerts.Output.ClickHouse.Database == "" {
		tl.Alerts.Output.ClickHouse.Database = "threatlog"
	}
	if tl.Alerts.Output.ClickHouse.Table == "" {
		tl.Alerts.Output.ClickHouse.Table = "alerts"
	}

	if tl.ReplayCapture.File.Path == "" {
		tl.ReplayCapture.File.Path = "output/replay_capture.jsonl"
	}

	if tl.Analytics.TopEvents <= 0 {
		tl.Analytics.TopEvents = 5
	}
	if tl.Analytics.RecentThreats <= 0 {
		tl.Analytics.RecentThreats = 5
	}

	if tl.Metrics.Path == "" {
		tl.Metrics.Path = "/metrics"
	}

	if tl.Logging.Level == "" {
		tl.Logging.Level = "info"
	}
	if tl.Logging.Format == "" {
		tl.Logging.Format = "json"
	}
}

func initLogger(cfg *config.Config) error {
	l := cfg.ThreatLog.Logging
	return logger.Configure(logger.Options{
		Enabled: l.Enabled,
		Level:   l.Level,
		File:    l.File,
		Console: l.Console,
		Format:  l.Format,
	})
}

func writeJSONLines[T any](path string, rows []T) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, item := range rows {
		if err := enc.Encode(item); err != nil {
			return fmt.Errorf("encode row: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: threatlog <command> [flags]

commands:
  serve [config]   consume the Redis submission queue (default)
  submit           push JSONL submissions onto the Redis queue
  replay           run JSONL submissions through an in-memory store
  analytics        print a tenant summary from the configured store
`)
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			os.Exit(runServe(os.Args[2:]))
		case "submit":
			os.Exit(runSubmit(os.Args[2:]))
		case "replay":
			os.Exit(runReplay(os.Args[2:]))
		case "analytics":
			os.Exit(runAnalytics(os.Args[2:]))
		case "-h", "--help", "help":
			usage()
			return
		default:
			// Backward-compatible mode: first arg is config path.
			os.Exit(runServe(os.Args[1:]))
		}
	}

	os.Exit(runServe(nil))
}
