package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Redis  RedisConfig  `yaml:"redis" mapstructure:"redis"`
	Queue  QueueConfig  `yaml:"queue" mapstructure:"queue"`
	Dedup  DedupConfig  `yaml:"dedup" mapstructure:"dedup"`
	Fetch  FetchConfig  `yaml:"fetch" mapstructure:"fetch"`
	Worker WorkerConfig `yaml:"worker" mapstructure:"worker"`
	Places PlacesConfig `yaml:"places" mapstructure:"places"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RedisConfig configures the Redis connection shared by the dedup cache and
// the candidate queue.
type RedisConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
}

// QueueConfig configures the candidate work queue.
type QueueConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
}

// DedupConfig configures fingerprint deduplication.
type DedupConfig struct {
	WindowHours            int `yaml:"window_hours" mapstructure:"window_hours"`
	ReservationTimeoutSecs int `yaml:"reservation_timeout_secs" mapstructure:"reservation_timeout_secs"`
}

// Window returns the dedup suppression window.
func (c DedupConfig) Window() time.Duration {
	return time.Duration(c.WindowHours) * time.Hour
}

// ReservationTimeout returns how long an in-flight reservation survives a
// crashed worker.
func (c DedupConfig) ReservationTimeout() time.Duration {
	return time.Duration(c.ReservationTimeoutSecs) * time.Second
}

// FetchConfig configures the enrichment fetch.
type FetchConfig struct {
	UserAgent    string  `yaml:"user_agent" mapstructure:"user_agent"`
	MaxAttempts  int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	DeadlineSecs int     `yaml:"deadline_secs" mapstructure:"deadline_secs"`
	MaxPages     int     `yaml:"max_pages" mapstructure:"max_pages"`
	PerHostRate  float64 `yaml:"per_host_rate" mapstructure:"per_host_rate"`
	PerHostBurst int     `yaml:"per_host_burst" mapstructure:"per_host_burst"`
}

// Deadline returns the per-fetch wall clock bound.
func (c FetchConfig) Deadline() time.Duration {
	return time.Duration(c.DeadlineSecs) * time.Second
}

// WorkerConfig configures the orchestration worker pool.
type WorkerConfig struct {
	PoolSize         int `yaml:"pool_size" mapstructure:"pool_size"`
	TaskDeadlineSecs int `yaml:"task_deadline_secs" mapstructure:"task_deadline_secs"`
}

// TaskDeadline returns the end-to-end bound for one task.
func (c WorkerConfig) TaskDeadline() time.Duration {
	return time.Duration(c.TaskDeadlineSecs) * time.Second
}

// PlacesConfig holds Places API settings.
type PlacesConfig struct {
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// ServerConfig configures the metrics endpoint.
type ServerConfig struct {
	MetricsPort int `yaml:"metrics_port" mapstructure:"metrics_port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PROSPECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Every recognized key needs an entry, even an empty one:
	// viper only surfaces env overrides for keys it already knows about.
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("queue.driver", "redis")
	v.SetDefault("dedup.window_hours", 24)
	v.SetDefault("dedup.reservation_timeout_secs", 300)
	v.SetDefault("fetch.user_agent", "prospector/1.0")
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.deadline_secs", 60)
	v.SetDefault("fetch.max_pages", 4)
	v.SetDefault("fetch.per_host_rate", 2.0)
	v.SetDefault("fetch.per_host_burst", 2)
	v.SetDefault("worker.pool_size", 8)
	v.SetDefault("worker.task_deadline_secs", 120)
	v.SetDefault("places.api_key", "")
	v.SetDefault("places.base_url", "https://places.googleapis.com/v1")
	v.SetDefault("server.metrics_port", 9091)
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
