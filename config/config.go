// Package config loads application configuration from an optional .env file,
// an optional YAML file and the environment, in that order of increasing
// precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is read when Load is given an empty path and the file exists.
const DefaultConfigFile = "config.yaml"

// Config holds the application configuration.
type Config struct {
	OpenRouter OpenRouterConfig `yaml:"openrouter"`
	Langfuse   LangfuseConfig   `yaml:"langfuse"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Server     ServerConfig     `yaml:"server"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Storage    StorageConfig    `yaml:"storage"`
	Redis      RedisConfig      `yaml:"redis"`
	HTTP       HTTPConfig       `yaml:"http"`
}

// OpenRouterConfig configures the upstream provider.
type OpenRouterConfig struct {
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	SiteURL  string `yaml:"site_url"`
	SiteName string `yaml:"site_name"`
	Model    string `yaml:"model"`
}

// LangfuseConfig holds ingestion credentials.
type LangfuseConfig struct {
	PublicKey string `yaml:"public_key"`
	SecretKey string `yaml:"secret_key"`
	Host      string `yaml:"host"`
}

// TelemetryConfig tunes trace export.
type TelemetryConfig struct {
	Environment   string        `yaml:"environment"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `yaml:"port"`
	// MasterKey enables bearer authentication when non-empty.
	MasterKey string `yaml:"master_key"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// LedgerConfig controls the local generation ledger.
type LedgerConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BufferSize    int           `yaml:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	// RetentionDays is how long ledger rows are kept (0 = forever).
	RetentionDays int `yaml:"retention_days"`
}

// StorageConfig selects the ledger database.
type StorageConfig struct {
	Type       string           `yaml:"type"`
	SQLite     SQLiteConfig     `yaml:"sqlite"`
	PostgreSQL PostgreSQLConfig `yaml:"postgresql"`
	MongoDB    MongoDBConfig    `yaml:"mongodb"`
}

// SQLiteConfig holds SQLite settings.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgreSQLConfig holds PostgreSQL settings.
type PostgreSQLConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

// MongoDBConfig holds MongoDB settings.
type MongoDBConfig struct {
	URL      string `yaml:"url"`
	Database string `yaml:"database"`
}

// RedisConfig enables shared session totals when URL is set.
type RedisConfig struct {
	URL string        `yaml:"url"`
	TTL time.Duration `yaml:"ttl"`
}

// HTTPConfig tunes the outbound HTTP client.
type HTTPConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// Defaults returns a config with every default applied.
func Defaults() *Config {
	return &Config{
		OpenRouter: OpenRouterConfig{
			BaseURL:  "https://openrouter.ai/api/v1",
			SiteURL:  "https://lvh.me",
			SiteName: "Cost Tracking Demo",
			Model:    "mistralai/ministral-3b",
		},
		Langfuse: LangfuseConfig{
			Host: "https://cloud.langfuse.com",
		},
		Telemetry: TelemetryConfig{
			Environment:   "demo",
			FlushInterval: time.Second,
			BufferSize:    1000,
		},
		Server: ServerConfig{
			Port: "8080",
		},
		Metrics: MetricsConfig{
			Endpoint: "/metrics",
		},
		Ledger: LedgerConfig{
			BufferSize:    1000,
			FlushInterval: 5 * time.Second,
			RetentionDays: 90,
		},
		Storage: StorageConfig{
			Type:       "sqlite",
			SQLite:     SQLiteConfig{Path: "data/costtrace.db"},
			PostgreSQL: PostgreSQLConfig{MaxConns: 10},
			MongoDB:    MongoDBConfig{Database: "costtrace"},
		},
		Redis: RedisConfig{
			TTL: 24 * time.Hour,
		},
		HTTP: HTTPConfig{
			Timeout: 300 * time.Second,
		},
	}
}

// Load reads .env, then the YAML file at path (or config.yaml if path is
// empty and it exists), then environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	// Existing environment variables win over .env.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := Defaults()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	if err := loadFile(cfg, path, explicit); err != nil {
		return nil, err
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if !required && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal([]byte(expandString(string(data))), cfg); err != nil {
		return fmt.Errorf("failed to parse config file %q: %w", path, err)
	}
	return nil
}

var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandString replaces ${VAR} and ${VAR:-default}. A ${VAR} whose variable
// is unset or empty is left as is.
func expandString(s string) string {
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		parts := placeholder.FindStringSubmatch(m)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		if parts[2] != "" {
			return parts[3]
		}
		return m
	})
}

func applyEnvOverrides(cfg *Config) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"OPENROUTER_API_KEY", &cfg.OpenRouter.APIKey},
		{"OPENROUTER_BASE_URL", &cfg.OpenRouter.BaseURL},
		{"YOUR_SITE_URL", &cfg.OpenRouter.SiteURL},
		{"YOUR_SITE_NAME", &cfg.OpenRouter.SiteName},
		{"OPENROUTER_MODEL", &cfg.OpenRouter.Model},
		{"LANGFUSE_PUBLIC_KEY", &cfg.Langfuse.PublicKey},
		{"LANGFUSE_SECRET_KEY", &cfg.Langfuse.SecretKey},
		{"LANGFUSE_HOST", &cfg.Langfuse.Host},
		{"TELEMETRY_ENVIRONMENT", &cfg.Telemetry.Environment},
		{"PORT", &cfg.Server.Port},
		{"COSTTRACE_MASTER_KEY", &cfg.Server.MasterKey},
		{"METRICS_ENDPOINT", &cfg.Metrics.Endpoint},
		{"STORAGE_TYPE", &cfg.Storage.Type},
		{"SQLITE_PATH", &cfg.Storage.SQLite.Path},
		{"POSTGRES_URL", &cfg.Storage.PostgreSQL.URL},
		{"MONGODB_URL", &cfg.Storage.MongoDB.URL},
		{"MONGODB_DATABASE", &cfg.Storage.MongoDB.Database},
		{"REDIS_URL", &cfg.Redis.URL},
	}
	for _, s := range strs {
		if v := os.Getenv(s.key); v != "" {
			*s.dst = v
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"METRICS_ENABLED", &cfg.Metrics.Enabled},
		{"LEDGER_ENABLED", &cfg.Ledger.Enabled},
	}
	for _, b := range bools {
		if v := os.Getenv(b.key); v != "" {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", b.key, v, err)
			}
			*b.dst = parsed
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"TELEMETRY_FLUSH_INTERVAL", &cfg.Telemetry.FlushInterval},
		{"HTTP_TIMEOUT", &cfg.HTTP.Timeout},
	}
	for _, d := range durations {
		if v := os.Getenv(d.key); v != "" {
			parsed, err := parseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", d.key, v, err)
			}
			*d.dst = parsed
		}
	}

	if v := os.Getenv("LEDGER_RETENTION_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid LEDGER_RETENTION_DAYS %q: %w", v, err)
		}
		cfg.Ledger.RetentionDays = n
	}
	return nil
}

// parseDuration accepts Go durations ("30s") or a bare number of seconds.
func parseDuration(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Type {
	case "sqlite", "postgresql", "mongodb":
	default:
		errs = append(errs, fmt.Errorf("storage.type must be sqlite, postgresql or mongodb, got %q", c.Storage.Type))
	}
	if c.Ledger.Enabled {
		switch {
		case c.Storage.Type == "postgresql" && c.Storage.PostgreSQL.URL == "":
			errs = append(errs, errors.New("storage.postgresql.url is required"))
		case c.Storage.Type == "mongodb" && c.Storage.MongoDB.URL == "":
			errs = append(errs, errors.New("storage.mongodb.url is required"))
		}
	}
	if c.Telemetry.FlushInterval <= 0 {
		errs = append(errs, errors.New("telemetry.flush_interval must be positive"))
	}
	if c.Ledger.FlushInterval <= 0 {
		errs = append(errs, errors.New("ledger.flush_interval must be positive"))
	}
	if c.HTTP.Timeout <= 0 {
		errs = append(errs, errors.New("http.timeout must be positive"))
	}
	if c.Ledger.RetentionDays < 0 {
		errs = append(errs, errors.New("ledger.retention_days must not be negative"))
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Endpoint, "/") {
		errs = append(errs, fmt.Errorf("metrics.endpoint must start with /, got %q", c.Metrics.Endpoint))
	}
	return errors.Join(errs...)
}

// LangfuseEnabled reports whether both Langfuse keys are configured.
func (c *Config) LangfuseEnabled() bool {
	return c.Langfuse.PublicKey != "" && c.Langfuse.SecretKey != ""
}
