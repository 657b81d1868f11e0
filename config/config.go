package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	ThreatLog ThreatLogConfig `yaml:"threatlog"`
}

// ThreatLogConfig is the project configuration.
type ThreatLogConfig struct {
	Input         InputConfig         `yaml:"input"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Store         StoreConfig         `yaml:"store"`
	Detection     DetectionConfig     `yaml:"detection"`
	Alerts        AlertsConfig        `yaml:"alerts"`
	ReplayCapture ReplayCaptureConfig `yaml:"replay_capture"`
	Analytics     AnalyticsConfig     `yaml:"analytics"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// InputConfig controls the input reader.
type InputConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig controls the Redis submission queue.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Key          string        `yaml:"key"`
	BlockTimeout time.Duration `yaml:"block_timeout"`
}

// PipelineConfig controls pipeline behavior.
type PipelineConfig struct {
	Workers int `yaml:"workers"`
}

// StoreConfig selects the event store.
type StoreConfig struct {
	Mode      string              `yaml:"mode"` // memory|redis|postgres
	Retention time.Duration       `yaml:"retention"`
	Redis     RedisStoreConfig    `yaml:"redis"`
	Postgres  PostgresStoreConfig `yaml:"postgres"`
}

// RedisStoreConfig controls the Redis event window store.
type RedisStoreConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// PostgresStoreConfig controls the PostgreSQL event store.
type PostgresStoreConfig struct {
	DSN          string `yaml:"dsn"`
	Table        string `yaml:"table"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	EnsureSchema bool   `yaml:"ensure_schema"`
}

// DetectionConfig controls the rule set.
type DetectionConfig struct {
	Parallel   *bool            `yaml:"parallel"`
	DoS        DoSConfig        `yaml:"dos"`
	PortScan   PortScanConfig   `yaml:"port_scan"`
	BruteForce BruteForceConfig `yaml:"brute_force"`
	Sigma      SigmaConfig      `yaml:"sigma"`
}

// DoSConfig controls the request-rate rule.
type DoSConfig struct {
	Window    time.Duration `yaml:"window"`
	Threshold int           `yaml:"threshold"`
}

// PortScanConfig controls the distinct-port rule.
type PortScanConfig struct {
	Window      time.Duration `yaml:"window"`
	MinPorts    int           `yaml:"min_ports"`
	MaxReported int           `yaml:"max_reported"`
}

// BruteForceConfig controls the failed-login rule.
type BruteForceConfig struct {
	Window      time.Duration `yaml:"window"`
	MinAttempts int           `yaml:"min_attempts"`
}

// SigmaConfig controls optional single-event Sigma rules.
type SigmaConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AlertsConfig controls alert forwarding.
type AlertsConfig struct {
	MinSeverity     string            `yaml:"min_severity"`
	Cooldown        time.Duration     `yaml:"cooldown"`
	CooldownEntries int               `yaml:"cooldown_entries"`
	WriteTimeout    time.Duration     `yaml:"write_timeout"`
	Output          AlertOutputConfig `yaml:"output"`
}

// AlertOutputConfig selects the alert sink.
type AlertOutputConfig struct {
	Mode       string                 `yaml:"mode"` // file|http|postgres|nats|clickhouse|none
	File       FileOutputConfig       `yaml:"file"`
	HTTP       HTTPOutputConfig       `yaml:"http"`
	Postgres   PostgresOutputConfig   `yaml:"postgres"`
	NATS       NATSOutputConfig       `yaml:"nats"`
	ClickHouse ClickHouseOutputConfig `yaml:"clickhouse"`
}

// FileOutputConfig config for local JSON output.
type FileOutputConfig struct {
	Path string `yaml:"path"`
}

// ReplayCaptureConfig controls raw submission capture for later replay.
type ReplayCaptureConfig struct {
	Enabled bool             `yaml:"enabled"`
	File    FileOutputConfig `yaml:"file"`
}

// HTTPOutputConfig config for remote output.
type HTTPOutputConfig struct {
	URL              string            `yaml:"url"`
	Timeout          time.Duration     `yaml:"timeout"`
	Headers          map[string]string `yaml:"headers"`
	FailureThreshold uint32            `yaml:"failure_threshold"`
	OpenTimeout      time.Duration     `yaml:"open_timeout"`
}

// PostgresOutputConfig config for the alerts table.
type PostgresOutputConfig struct {
	DSN          string `yaml:"dsn"`
	Table        string `yaml:"table"`
	EnsureSchema bool   `yaml:"ensure_schema"`
}

// NATSOutputConfig config for alert publishing.
type NATSOutputConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// ClickHouseOutputConfig config for ClickHouse HTTP JSONEachRow writes.
type ClickHouseOutputConfig struct {
	URL      string            `yaml:"url"`
	Database string            `yaml:"database"`
	Table    string            `yaml:"table"`
	Username string            `yaml:"username"`
	Password string            `yaml:"password"`
	Timeout  time.Duration     `yaml:"timeout"`
	Headers  map[string]string `yaml:"headers"`
}

// AnalyticsConfig controls summary sizes.
type AnalyticsConfig struct {
	TopEvents     int `yaml:"top_events"`
	RecentThreats int `yaml:"recent_threats"`
}

// MetricsConfig controls the Prometheus endpoint. Empty addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
	Format  string `yaml:"format"` // json|console
}

// LoadConfig reads a YAML config file, expanding ${VAR} references from the
// environment before parsing.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML config bytes.
func Parse(data []byte) (*Config, error) {
	expanded := os.Expand(string(data), func(key string) string {
		if key == "$" {
			return "$"
		}
		return os.Getenv(key)
	})

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParallelDetection reports whether rules run concurrently. Defaults to true.
func (d DetectionConfig) ParallelDetection() bool {
	return d.Parallel == nil || *d.Parallel
}
