// Package config loads service configuration from a YAML file with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MTTR policies for resolution estimates that cannot be parsed.
const (
	MTTRPolicyDrop    = "drop"
	MTTRPolicyDefault = "default"
)

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Storage  StorageConfig  `yaml:"storage"`
	Analysis AnalysisConfig `yaml:"analysis"`
}

// ServerConfig configures the network listeners.
type ServerConfig struct {
	APIAddr         string        `yaml:"api_addr"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	MetricsPath     string        `yaml:"metrics_path"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	HealthInterval  time.Duration `yaml:"health_interval"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StorageConfig selects and configures the event store backend.
type StorageConfig struct {
	// Backend is one of memory, sqlite, postgres, clickhouse,
	// elasticsearch or mirror.
	Backend string `yaml:"backend"`

	SQLite        SQLiteConfig        `yaml:"sqlite"`
	Postgres      PostgresConfig      `yaml:"postgres"`
	ClickHouse    ClickHouseConfig    `yaml:"clickhouse"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
	Mirror        MirrorConfig        `yaml:"mirror"`

	// Seed is a snapshot file inserted into the store when serving starts.
	Seed string `yaml:"seed"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type ClickHouseConfig struct {
	Addr          string        `yaml:"addr"`
	Database      string        `yaml:"database"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type ElasticsearchConfig struct {
	Addresses     []string `yaml:"addresses"`
	Username      string   `yaml:"username"`
	Password      string   `yaml:"password"`
	APIKey        string   `yaml:"api_key"`
	Index         string   `yaml:"index"`
	KeywordSuffix string   `yaml:"keyword_suffix"`
	Refresh       bool     `yaml:"refresh"`
}

// MirrorConfig names the two backends of a mirror store. Each must be one
// of the single backends configured above.
type MirrorConfig struct {
	Primary   string `yaml:"primary"`
	Secondary string `yaml:"secondary"`
}

// AnalysisConfig tunes the aggregation engine.
type AnalysisConfig struct {
	// MTTRPolicy is "drop" or "default".
	MTTRPolicy string `yaml:"mttr_policy"`
	// MTTRDefaultHours is counted per unparsable estimate under "default".
	MTTRDefaultHours float64 `yaml:"mttr_default_hours"`
	MTTRSampleLimit  int     `yaml:"mttr_sample_limit"`
	StageEventLimit  int     `yaml:"stage_event_limit"`
	TrendDays        int     `yaml:"trend_days"`
	LogLimit         int     `yaml:"log_limit"`

	// StageAliases maps log_type tags to pipeline stages.
	StageAliases map[string]string `yaml:"stage_aliases"`

	Limits Limits `yaml:"limits"`
}

// Limits caps the number of buckets per grouping level.
type Limits struct {
	Tools        int `yaml:"tools"`
	Projects     int `yaml:"projects"`
	Environments int `yaml:"environments"`
	Servers      int `yaml:"servers"`

	SummaryProjects    int `yaml:"summary_projects"`
	SummaryTools       int `yaml:"summary_tools"`
	SummaryStatuses    int `yaml:"summary_statuses"`
	DetailEnvironments int `yaml:"detail_environments"`
	DetailServers      int `yaml:"detail_servers"`
	DetailSeverities   int `yaml:"detail_severities"`
	DimensionValues    int `yaml:"dimension_values"`
	BreakdownStatuses  int `yaml:"breakdown_statuses"`
	BreakdownTools     int `yaml:"breakdown_tools"`
}

// DefaultStageAliases returns the built-in stage tag mapping.
func DefaultStageAliases() map[string]string {
	return map[string]string{
		"git-checkout":     "checkout",
		"checkout":         "checkout",
		"build":            "build",
		"test":             "test",
		"sonarqube-issues": "static-analysis",
		"static-analysis":  "static-analysis",
	}
}

// Default returns a runnable configuration backed by the in-memory store.
func Default() Config {
	return Config{
		Server: ServerConfig{
			APIAddr:         "0.0.0.0:8080",
			GRPCAddr:        "0.0.0.0:9090",
			MetricsPath:     "/metrics",
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			HealthInterval:  15 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			Backend: "memory",
			SQLite:  SQLiteConfig{Path: "cicd_health.db"},
			Postgres: PostgresConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: time.Hour,
			},
			ClickHouse: ClickHouseConfig{
				Addr:     "localhost:9000",
				Database: "default",
				Username: "default",
			},
			Elasticsearch: ElasticsearchConfig{
				Addresses:     []string{"http://localhost:9200"},
				Index:         "cicd_analysis",
				KeywordSuffix: ".keyword",
			},
		},
		Analysis: AnalysisConfig{
			MTTRPolicy:       MTTRPolicyDrop,
			MTTRDefaultHours: 0.5,
			MTTRSampleLimit:  1000,
			StageEventLimit:  1000,
			TrendDays:        7,
			LogLimit:         50,
			StageAliases:     DefaultStageAliases(),
			Limits: Limits{
				Tools:              20,
				Projects:           100,
				Environments:       20,
				Servers:            100,
				SummaryProjects:    100,
				SummaryTools:       10,
				SummaryStatuses:    10,
				DetailEnvironments: 10,
				DetailServers:      20,
				DetailSeverities:   10,
				DimensionValues:    100,
				BreakdownStatuses:  10,
				BreakdownTools:     10,
			},
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config YAML: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// decode reads data over cfg. Maps are replaced rather than merged, so a
// file that lists stage_aliases can also drop built-in ones.
func decode(data []byte, cfg *Config) error {
	var keys struct {
		Analysis struct {
			StageAliases *yaml.Node `yaml:"stage_aliases"`
		} `yaml:"analysis"`
	}
	if err := yaml.Unmarshal(data, &keys); err != nil {
		return err
	}
	if keys.Analysis.StageAliases != nil {
		cfg.Analysis.StageAliases = nil
	}
	return yaml.Unmarshal(data, cfg)
}

func (c *Config) applyEnv() {
	c.Server.APIAddr = getEnv("API_ADDR", c.Server.APIAddr)
	c.Server.GRPCAddr = getEnv("GRPC_ADDR", c.Server.GRPCAddr)
	c.Server.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", c.Server.RequestTimeout)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	c.Storage.Backend = getEnv("STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.Seed = getEnv("SEED_FILE", c.Storage.Seed)
	c.Storage.SQLite.Path = getEnv("SQLITE_PATH", c.Storage.SQLite.Path)
	c.Storage.Postgres.DSN = getEnv("DATABASE_URL", c.Storage.Postgres.DSN)
	c.Storage.ClickHouse.Addr = getEnv("CLICKHOUSE_ADDR", c.Storage.ClickHouse.Addr)
	c.Storage.ClickHouse.Password = getEnv("CLICKHOUSE_PASSWORD", c.Storage.ClickHouse.Password)
	if addrs := os.Getenv("ELASTICSEARCH_URLS"); addrs != "" {
		c.Storage.Elasticsearch.Addresses = splitList(addrs)
	}
	c.Storage.Elasticsearch.APIKey = getEnv("ELASTICSEARCH_API_KEY", c.Storage.Elasticsearch.APIKey)
	c.Storage.Elasticsearch.Index = getEnv("ELASTICSEARCH_INDEX", c.Storage.Elasticsearch.Index)

	c.Analysis.MTTRPolicy = getEnv("MTTR_POLICY", c.Analysis.MTTRPolicy)
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	var errs []error

	switch c.Storage.Backend {
	case "memory", "sqlite", "postgres", "clickhouse", "elasticsearch":
	case "mirror":
		if c.Storage.Mirror.Primary == "" || c.Storage.Mirror.Secondary == "" {
			errs = append(errs, errors.New("mirror backend needs primary and secondary"))
		}
		if c.Storage.Mirror.Primary == "mirror" || c.Storage.Mirror.Secondary == "mirror" {
			errs = append(errs, errors.New("mirror backends cannot be nested"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}

	switch c.Analysis.MTTRPolicy {
	case MTTRPolicyDrop, MTTRPolicyDefault:
	default:
		errs = append(errs, fmt.Errorf("unknown mttr policy %q (supported: drop, default)", c.Analysis.MTTRPolicy))
	}
	if c.Analysis.MTTRDefaultHours < 0 {
		errs = append(errs, errors.New("mttr_default_hours must not be negative"))
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// getEnv gets an environment variable with a default fallback.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable with a default fallback.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
