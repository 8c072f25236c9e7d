package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MimeLyc/batch-rewriter/internal/llm"
	"github.com/MimeLyc/batch-rewriter/pkg/log"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config holds all application configuration
// Parsed from environment variables with sensible defaults
//
// Environment Variables:
// HTTP:
// - HTTP_ADDR: Listen address (default: :8080)
//
// Store:
// - STORE_DRIVER: sqlite or postgres (default: sqlite)
// - STORE_SQLITE_PATH: SQLite file (default: $DATA_DIR/rewriter.db)
// - STORE_POSTGRES_DSN: PostgreSQL DSN (required for postgres)
//
// Continuations:
// - REDIS_ADDR: Redis address; empty keeps continuations in process
// - REDIS_PASSWORD, REDIS_DB, REDIS_KEY, REDIS_POLL_INTERVAL
//
// Batch:
// - BATCH_CHUNK_SIZE: Items per run (default: 10)
// - BATCH_CONTINUATION_DELAY: Delay before the next run (default: 60s)
// - BATCH_RECOVERY_CRON: Sweep re-arming active jobs (default: @every 5m)
//
// Rewrite:
// - DEFAULT_PROVIDER (default: openai), DEFAULT_STYLE (default: standard)
// - HISTORY_ENABLED (default: true)
// - {OPENAI,DEEPSEEK,ANTHROPIC,GEMINI}_{API_KEY,API_URL,MODEL}
//
// System:
// - DATA_DIR (default: /app/data), SETTINGS_FILE, SITE_URL, LOG_LEVEL
type Config struct {
	HTTP      HTTPConfig  `envPrefix:"HTTP_"`
	Store     StoreConfig `envPrefix:"STORE_"`
	Redis     RedisConfig `envPrefix:"REDIS_"`
	Batch     BatchConfig `envPrefix:"BATCH_"`
	Rewrite   RewriteConfig
	Providers ProvidersConfig
	System    SystemConfig
}

type HTTPConfig struct {
	Addr string `env:"ADDR" envDefault:":8080"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type StoreConfig struct {
	Driver      string `env:"DRIVER" envDefault:"sqlite"`
	SQLitePath  string `env:"SQLITE_PATH"`
	PostgresDSN string `env:"POSTGRES_DSN"`
}

// RedisConfig enables Redis-backed continuations when Addr is set.
type RedisConfig struct {
	Addr         string        `env:"ADDR"`
	Password     string        `env:"PASSWORD"`
	DB           int           `env:"DB" envDefault:"0"`
	Key          string        `env:"KEY" envDefault:"rewrite:continuations"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`
}

func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type BatchConfig struct {
	ChunkSize         int           `env:"CHUNK_SIZE" envDefault:"10"`
	ContinuationDelay time.Duration `env:"CONTINUATION_DELAY" envDefault:"60s"`
	RecoveryCron      string        `env:"RECOVERY_CRON" envDefault:"@every 5m"`
}

type RewriteConfig struct {
	DefaultProvider string `env:"DEFAULT_PROVIDER" envDefault:"openai"`
	DefaultStyle    string `env:"DEFAULT_STYLE" envDefault:"standard"`
	HistoryEnabled  bool   `env:"HISTORY_ENABLED" envDefault:"true"`
}

// ProviderEnv is the per-provider block, e.g. OPENAI_API_KEY.
type ProviderEnv struct {
	APIKey string `env:"API_KEY"`
	APIURL string `env:"API_URL"`
	Model  string `env:"MODEL"`
}

type ProvidersConfig struct {
	OpenAI    ProviderEnv `envPrefix:"OPENAI_"`
	DeepSeek  ProviderEnv `envPrefix:"DEEPSEEK_"`
	Anthropic ProviderEnv `envPrefix:"ANTHROPIC_"`
	Gemini    ProviderEnv `envPrefix:"GEMINI_"`
}

func (c ProvidersConfig) byName() map[string]ProviderEnv {
	return map[string]ProviderEnv{
		"openai":    c.OpenAI,
		"deepseek":  c.DeepSeek,
		"anthropic": c.Anthropic,
		"gemini":    c.Gemini,
	}
}

// LLMConfigs returns endpoint overrides for the gateway registry.
func (c ProvidersConfig) LLMConfigs() llm.ProviderConfigs {
	out := make(llm.ProviderConfigs)
	for name, p := range c.byName() {
		out[name] = llm.ProviderConfig{APIURL: p.APIURL, Model: p.Model}
	}
	return out
}

// APIKeys returns the non-empty keys keyed by provider name.
func (c ProvidersConfig) APIKeys() map[string]string {
	out := make(map[string]string)
	for name, p := range c.byName() {
		if key := strings.TrimSpace(p.APIKey); key != "" {
			out[name] = key
		}
	}
	return out
}

type SystemConfig struct {
	DataDir      string `env:"DATA_DIR" envDefault:"/app/data"`
	SettingsFile string `env:"SETTINGS_FILE" envDefault:"/app/config/settings.json"`
	SiteURL      string `env:"SITE_URL"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
}

// DBPath returns the SQLite database path.
func (c *Config) DBPath() string {
	if strings.TrimSpace(c.Store.SQLitePath) != "" {
		return c.Store.SQLitePath
	}
	return filepath.Join(c.System.DataDir, "rewriter.db")
}

// Option is a function type for configuring Config
type Option func(*Config)

// LoadDotEnv loads variables from the given files (default ".env") without
// overriding ones already set. Missing files are ignored.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("failed to load %s: %v", p, err)
		}
	}
}

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{}
	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	log.Info("Config: http=%s store=%s redis=%t chunk=%d delay=%s",
		config.HTTP.Addr, config.Store.Driver, config.Redis.Enabled(), config.Batch.ChunkSize, config.Batch.ContinuationDelay)
	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	switch c.Store.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if strings.TrimSpace(c.Store.PostgresDSN) == "" {
			return fmt.Errorf("STORE_POSTGRES_DSN is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.Store.Driver)
	}
	if c.Batch.ChunkSize < 1 || c.Batch.ChunkSize > MaxBatchSize {
		return fmt.Errorf("BATCH_CHUNK_SIZE must be between 1 and %d", MaxBatchSize)
	}
	if c.Batch.ContinuationDelay < 0 {
		return fmt.Errorf("BATCH_CONTINUATION_DELAY must not be negative")
	}
	if strings.TrimSpace(c.Batch.RecoveryCron) != "" {
		if _, err := cron.ParseStandard(c.Batch.RecoveryCron); err != nil {
			return fmt.Errorf("invalid BATCH_RECOVERY_CRON: %w", err)
		}
	}
	if err := c.Providers.LLMConfigs().Validate(); err != nil {
		return fmt.Errorf("invalid provider endpoint: %w", err)
	}
	if c.Redis.Enabled() && c.Redis.PollInterval <= 0 {
		return fmt.Errorf("REDIS_POLL_INTERVAL must be greater than 0")
	}
	return nil
}
