package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	API     APIConfig     `yaml:"api" mapstructure:"api"`
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`
	Review  ReviewConfig  `yaml:"review" mapstructure:"review"`
	Poll    PollConfig    `yaml:"poll" mapstructure:"poll"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// APIConfig holds LeaseBee API client settings.
type APIConfig struct {
	BaseURL       string  `yaml:"base_url" mapstructure:"base_url"`
	Token         string  `yaml:"token" mapstructure:"token"`
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit     float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	Burst         int     `yaml:"burst" mapstructure:"burst"`
	RetryAttempts int     `yaml:"retry_attempts" mapstructure:"retry_attempts"`
}

// Timeout returns the per-request timeout.
func (c APIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// StorageConfig selects the local key/value backend for review snapshots.
type StorageConfig struct {
	Driver    string `yaml:"driver" mapstructure:"driver"`
	Path      string `yaml:"path" mapstructure:"path"`
	RedisURL  string `yaml:"redis_url" mapstructure:"redis_url"`
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// ReviewConfig configures the review session.
type ReviewConfig struct {
	MaxAgeHours       int    `yaml:"max_age_hours" mapstructure:"max_age_hours"`
	DebounceMS        int    `yaml:"debounce_ms" mapstructure:"debounce_ms"`
	SubmitConcurrency int    `yaml:"submit_concurrency" mapstructure:"submit_concurrency"`
	SchemaPath        string `yaml:"schema_path" mapstructure:"schema_path"`
}

// MaxAge returns how long a snapshot stays restorable.
func (c ReviewConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeHours) * time.Hour
}

// Debounce returns the auto-save quiet period.
func (c ReviewConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

// PollConfig configures the extraction progress poller.
type PollConfig struct {
	ProgressIntervalMS int `yaml:"progress_interval_ms" mapstructure:"progress_interval_ms"`
	StatusIntervalMS   int `yaml:"status_interval_ms" mapstructure:"status_interval_ms"`
	CompletionGraceMS  int `yaml:"completion_grace_ms" mapstructure:"completion_grace_ms"`
}

// ServerConfig configures the API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	DatabaseURL    string   `yaml:"database_url" mapstructure:"database_url"`
	ExtractorURL   string   `yaml:"extractor_url" mapstructure:"extractor_url"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	TrackerTTLSecs int      `yaml:"tracker_ttl_secs" mapstructure:"tracker_ttl_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, file and environment.
func Load() (*Config, error) {
	// .env is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEASEBEE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("api.base_url", "http://localhost:8000")
	v.SetDefault("api.token", "")
	v.SetDefault("api.timeout_secs", 30)
	v.SetDefault("api.rate_limit", 10)
	v.SetDefault("api.burst", 5)
	v.SetDefault("api.retry_attempts", 3)
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.path", "leasebee.db")
	v.SetDefault("storage.redis_url", "")
	v.SetDefault("storage.key_prefix", "leasebee_review_progress")
	v.SetDefault("review.max_age_hours", 168)
	v.SetDefault("review.debounce_ms", 500)
	v.SetDefault("review.submit_concurrency", 4)
	v.SetDefault("review.schema_path", "")
	v.SetDefault("poll.progress_interval_ms", 1000)
	v.SetDefault("poll.status_interval_ms", 2000)
	v.SetDefault("poll.completion_grace_ms", 1000)
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.database_url", "")
	v.SetDefault("server.extractor_url", "")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.tracker_ttl_secs", 60)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Mode is one of
// "client" (review, watch, progress, export) or "serve".
func (c *Config) Validate(mode string) error {
	var errs []string
	switch mode {
	case "client":
		if c.API.BaseURL == "" {
			errs = append(errs, "api.base_url is required")
		}
		switch c.Storage.Driver {
		case "sqlite":
			if c.Storage.Path == "" {
				errs = append(errs, "storage.path is required for the sqlite driver")
			}
		case "redis":
			if c.Storage.RedisURL == "" {
				errs = append(errs, "storage.redis_url is required for the redis driver")
			}
		case "memory":
		default:
			errs = append(errs, fmt.Sprintf("storage.driver %q is not one of sqlite, redis, memory", c.Storage.Driver))
		}
		if c.Review.MaxAgeHours <= 0 {
			errs = append(errs, "review.max_age_hours must be > 0")
		}
		if c.Review.DebounceMS < 0 {
			errs = append(errs, "review.debounce_ms must be >= 0")
		}
		if c.Review.SubmitConcurrency < 1 || c.Review.SubmitConcurrency > 32 {
			errs = append(errs, "review.submit_concurrency must be between 1 and 32")
		}
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Server.TrackerTTLSecs <= 0 {
			errs = append(errs, "server.tracker_ttl_secs must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}
	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
