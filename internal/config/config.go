package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	PoolSize    int               `yaml:"pool_size" mapstructure:"pool_size"`
	Scraper     ScraperConfig     `yaml:"scraper" mapstructure:"scraper"`
	PriceChange PriceChangeConfig `yaml:"price_change" mapstructure:"price_change"`
	Monitor     MonitorConfig     `yaml:"monitor" mapstructure:"monitor"`
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	PG          PGConfig          `yaml:"pg" mapstructure:"pg"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
	Retention   RetentionConfig   `yaml:"retention" mapstructure:"retention"`
	Notify      NotifyConfig      `yaml:"notify" mapstructure:"notify"`
	Events      EventsConfig      `yaml:"events" mapstructure:"events"`
	Redis       RedisConfig       `yaml:"redis" mapstructure:"redis"`
	API         APIConfig         `yaml:"api" mapstructure:"api"`
}

// ScraperConfig configures fetching: retries, pacing, budgets, engine choice.
type ScraperConfig struct {
	Retries          int    `yaml:"retries" mapstructure:"retries"`
	MinDelayMs       int    `yaml:"min_delay_ms" mapstructure:"min_delay_ms"`
	MaxDelayMs       int    `yaml:"max_delay_ms" mapstructure:"max_delay_ms"`
	TimeoutMs        int    `yaml:"timeout_ms" mapstructure:"timeout_ms"`
	Headless         bool   `yaml:"headless" mapstructure:"headless"`
	Engine           string `yaml:"engine" mapstructure:"engine"`
	AcquireTimeoutMs int    `yaml:"acquire_timeout_ms" mapstructure:"acquire_timeout_ms"`
	GlobalRPS        int    `yaml:"global_rps" mapstructure:"global_rps"`
}

// PriceChangeConfig holds the change-detection thresholds.
type PriceChangeConfig struct {
	MinAbsolute            float64 `yaml:"min_absolute" mapstructure:"min_absolute"`
	MinPercent             float64 `yaml:"min_percent" mapstructure:"min_percent"`
	AlertDropThreshold     float64 `yaml:"alert_drop_threshold" mapstructure:"alert_drop_threshold"`
	AlertIncreaseThreshold float64 `yaml:"alert_increase_threshold" mapstructure:"alert_increase_threshold"`
}

// MonitorConfig configures the scheduling loop.
type MonitorConfig struct {
	BatchLimit             int `yaml:"batch_limit" mapstructure:"batch_limit"`
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures" mapstructure:"max_consecutive_failures"`
	IntervalMinutes        int `yaml:"interval_minutes" mapstructure:"interval_minutes"`
	Workers                int `yaml:"workers" mapstructure:"workers"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// PGConfig holds discrete postgres connection parameters, used when
// store.database_url is not set.
type PGConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	DBName   string `yaml:"dbname" mapstructure:"dbname"`
	SSLMode  string `yaml:"sslmode" mapstructure:"sslmode"`
	MaxConns int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// DSN assembles a postgres connection string from the discrete parameters.
func (p PGConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(p.User), url.QueryEscape(p.Password),
		p.Host, p.Port, p.DBName, p.SSLMode)
}

// DatabaseURL returns the effective connection string for the configured
// store: store.database_url when set, otherwise one assembled from pg.*.
func (c *Config) DatabaseURL() string {
	if c.Store.DatabaseURL != "" {
		return c.Store.DatabaseURL
	}
	return c.PG.DSN()
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// RetentionConfig configures observation pruning.
type RetentionConfig struct {
	Days       int    `yaml:"days" mapstructure:"days"`
	ArchiveDir string `yaml:"archive_dir" mapstructure:"archive_dir"`
}

// NotifyConfig configures change notification delivery.
type NotifyConfig struct {
	MinSeverity string         `yaml:"min_severity" mapstructure:"min_severity"`
	WebhookURL  string         `yaml:"webhook_url" mapstructure:"webhook_url"`
	Telegram    TelegramConfig `yaml:"telegram" mapstructure:"telegram"`
	Email       EmailConfig    `yaml:"email" mapstructure:"email"`
}

// TelegramConfig holds telegram bot credentials.
type TelegramConfig struct {
	Token  string `yaml:"token" mapstructure:"token"`
	ChatID int64  `yaml:"chat_id" mapstructure:"chat_id"`
}

// EmailConfig holds SMTP delivery settings.
type EmailConfig struct {
	Host     string   `yaml:"host" mapstructure:"host"`
	Port     int      `yaml:"port" mapstructure:"port"`
	From     string   `yaml:"from" mapstructure:"from"`
	To       []string `yaml:"to" mapstructure:"to"`
	Username string   `yaml:"username" mapstructure:"username"`
	Password string   `yaml:"password" mapstructure:"password"`
}

// EventsConfig configures change-event publishing.
type EventsConfig struct {
	Kafka KafkaConfig `yaml:"kafka" mapstructure:"kafka"`
}

// KafkaConfig holds kafka producer settings. Empty brokers disable the sink.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers" mapstructure:"brokers"`
	Topic   string   `yaml:"topic" mapstructure:"topic"`
}

// RedisConfig holds the optional API read cache settings. Empty addr
// disables caching.
type RedisConfig struct {
	Addr       string `yaml:"addr" mapstructure:"addr"`
	Password   string `yaml:"password" mapstructure:"password"`
	DB         int    `yaml:"db" mapstructure:"db"`
	TTLSeconds int    `yaml:"ttl_seconds" mapstructure:"ttl_seconds"`
}

// APIConfig configures the read API server.
type APIConfig struct {
	Port         int      `yaml:"port" mapstructure:"port"`
	CORSOrigins  []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	RateLimitRPS int      `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PRICELENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("pool_size", 3)
	v.SetDefault("scraper.retries", 3)
	v.SetDefault("scraper.min_delay_ms", 1200)
	v.SetDefault("scraper.max_delay_ms", 2500)
	v.SetDefault("scraper.timeout_ms", 30000)
	v.SetDefault("scraper.headless", true)
	v.SetDefault("scraper.engine", "chrome")
	v.SetDefault("scraper.acquire_timeout_ms", 30000)
	v.SetDefault("scraper.global_rps", 0)
	v.SetDefault("price_change.min_absolute", 1.00)
	v.SetDefault("price_change.min_percent", 5.0)
	v.SetDefault("price_change.alert_drop_threshold", 10.0)
	v.SetDefault("price_change.alert_increase_threshold", 20.0)
	v.SetDefault("monitor.batch_limit", 20)
	v.SetDefault("monitor.max_consecutive_failures", 5)
	v.SetDefault("monitor.interval_minutes", 5)
	v.SetDefault("monitor.workers", 1)
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "pricelens.db")
	v.SetDefault("pg.host", "localhost")
	v.SetDefault("pg.port", 5432)
	v.SetDefault("pg.user", "pricelens")
	v.SetDefault("pg.dbname", "pricelens")
	v.SetDefault("pg.sslmode", "disable")
	v.SetDefault("pg.max_conns", 10)
	v.SetDefault("pg.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("retention.days", 365)
	v.SetDefault("notify.min_severity", "medium")
	v.SetDefault("events.kafka.topic", "price-changes")
	v.SetDefault("redis.ttl_seconds", 60)
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.cors_origins", []string{"*"})
	v.SetDefault("api.rate_limit_rps", 20)

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

// Validate rejects configurations the engine cannot start with.
func (c *Config) Validate() error {
	if c.PoolSize < 1 {
		return eris.Errorf("config: pool_size must be >= 1, got %d", c.PoolSize)
	}
	if c.Scraper.Retries < 0 {
		return eris.Errorf("config: scraper.retries must be >= 0, got %d", c.Scraper.Retries)
	}
	if c.Scraper.MinDelayMs < 0 || c.Scraper.MaxDelayMs < c.Scraper.MinDelayMs {
		return eris.Errorf("config: scraper delay bounds invalid: min=%dms max=%dms",
			c.Scraper.MinDelayMs, c.Scraper.MaxDelayMs)
	}
	switch c.Scraper.Engine {
	case "chrome", "static", "chain":
	default:
		return eris.Errorf("config: unknown scraper.engine %q", c.Scraper.Engine)
	}
	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		return eris.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	if c.Monitor.BatchLimit < 1 {
		return eris.Errorf("config: monitor.batch_limit must be >= 1, got %d", c.Monitor.BatchLimit)
	}
	if c.Monitor.MaxConsecutiveFailures < 1 {
		return eris.Errorf("config: monitor.max_consecutive_failures must be >= 1, got %d",
			c.Monitor.MaxConsecutiveFailures)
	}
	if c.Monitor.Workers < 1 || c.Monitor.Workers > c.PoolSize {
		return eris.Errorf("config: monitor.workers must be within [1, pool_size], got %d", c.Monitor.Workers)
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		return eris.Errorf("config: api.port out of range: %d", c.API.Port)
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
