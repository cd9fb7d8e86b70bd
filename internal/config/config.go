// Package config loads the percolator pipeline's configuration from a YAML
// file, with environment variable overrides for secrets and
// deployment-specific values, following the same Load/LoadFromEnv split used
// throughout the codebase.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/naturalis/percolator/internal/domain"
)

// Config holds all configuration for the percolator process.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Dirs      DirConfig       `yaml:"directories"`
	Cache     CacheConfig     `yaml:"cache"`
	Audit     AuditConfig     `yaml:"audit"`
	Notify    NotifyConfig    `yaml:"notify"`
	Health    HealthConfig    `yaml:"health"`
	Log       LogConfig       `yaml:"log"`
	Sources   []domain.Source `yaml:"sources"`
}

// DatabaseConfig holds the Postgres connection pool settings.
type DatabaseConfig struct {
	DSN                string `yaml:"dsn"`
	MaxOpenConns       int    `yaml:"max_open_conns"`
	MaxIdleConns       int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMin int    `yaml:"conn_max_lifetime_minutes"`
	ConnMaxIdleMin     int    `yaml:"conn_max_idle_minutes"`
}

func (d DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(d.ConnMaxLifetimeMin) * time.Minute
}

func (d DatabaseConfig) ConnMaxIdleTime() time.Duration {
	return time.Duration(d.ConnMaxIdleMin) * time.Minute
}

// DirConfig holds the directory layout of §6: where manifests, staged
// files, delta output, and quarantined/finalized manifests live.
type DirConfig struct {
	Incoming  string `yaml:"incoming"`
	Processed string `yaml:"processed"`
	Jobs      string `yaml:"jobs"`
	Failed    string `yaml:"failed"`
	Done      string `yaml:"done"`
	Delta     string `yaml:"delta"`
}

// CacheConfig holds the Enrichment Engine's disk cache location.
type CacheConfig struct {
	Dir  string `yaml:"dir"`
	File string `yaml:"file"`
}

func (c CacheConfig) Path() string {
	return c.Dir + string(os.PathSeparator) + c.File
}

// AuditConfig holds the external audit document-log sink.
type AuditConfig struct {
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
}

func (a AuditConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// NotifyConfig holds the chat webhook notifier. Silent when URL is empty.
type NotifyConfig struct {
	WebhookURL     string `yaml:"webhook_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
}

func (n NotifyConfig) Timeout() time.Duration {
	return time.Duration(n.TimeoutSeconds) * time.Second
}

// HealthConfig holds the optional health/metrics HTTP surface of §6.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LogConfig holds the application logger's level and optional rotated
// file sink.
type LogConfig struct {
	Level      string `yaml:"level"`
	RedactPII  bool   `yaml:"redact_pii"`
	FilePath   string `yaml:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load reads and parses the configuration file, then fills zero-valued
// fields with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validateSources(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetimeMin == 0 {
		cfg.Database.ConnMaxLifetimeMin = 30
	}
	if cfg.Database.ConnMaxIdleMin == 0 {
		cfg.Database.ConnMaxIdleMin = 5
	}
	if cfg.Dirs.Incoming == "" {
		cfg.Dirs.Incoming = "./data/incoming"
	}
	if cfg.Dirs.Processed == "" {
		cfg.Dirs.Processed = "./data/processed"
	}
	if cfg.Dirs.Jobs == "" {
		cfg.Dirs.Jobs = "./data/jobs"
	}
	if cfg.Dirs.Failed == "" {
		cfg.Dirs.Failed = "./data/failed"
	}
	if cfg.Dirs.Done == "" {
		cfg.Dirs.Done = "./data/done"
	}
	if cfg.Dirs.Delta == "" {
		cfg.Dirs.Delta = "./data/delta"
	}
	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = "./data/cache"
	}
	if cfg.Cache.File == "" {
		cfg.Cache.File = "enrichment.sqlite"
	}
	if cfg.Audit.TimeoutSeconds == 0 {
		cfg.Audit.TimeoutSeconds = 10
	}
	if cfg.Audit.MaxRetries == 0 {
		cfg.Audit.MaxRetries = 3
	}
	if cfg.Notify.TimeoutSeconds == 0 {
		cfg.Notify.TimeoutSeconds = 10
	}
	if cfg.Notify.MaxRetries == 0 {
		cfg.Notify.MaxRetries = 3
	}
	if cfg.Health.Addr == "" {
		cfg.Health.Addr = ":9090"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 100
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 5
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = 28
	}
	for i := range cfg.Sources {
		if cfg.Sources[i].IDField == "" {
			cfg.Sources[i].IDField = "unitID"
		}
	}
}

func validateSources(cfg *Config) error {
	if _, err := domain.NewRegistry(cfg.Sources); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("AUDIT_SINK_URL"); v != "" {
		cfg.Audit.URL = v
	}
	if v := os.Getenv("CHAT_WEBHOOK_URL"); v != "" {
		cfg.Notify.WebhookURL = v
	}
	if v := os.Getenv("CACHE_DIR"); v != "" {
		cfg.Cache.Dir = v
	}
	if v := os.Getenv("PERCOLATOR_JOBS_DIR"); v != "" {
		cfg.Dirs.Jobs = v
	}
	if v := os.Getenv("PERCOLATOR_DELTA_DIR"); v != "" {
		cfg.Dirs.Delta = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	return cfg, nil
}
