// Package config loads and validates digest service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // anchor timezones must resolve on minimal images

	"github.com/spf13/viper"

	"github.com/tvivaldelli/signal-daily-digest/internal/logging"
	"github.com/tvivaldelli/signal-daily-digest/internal/source"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig          `mapstructure:"server"`
	Auth        AuthConfig            `mapstructure:"auth"`
	Logging     LoggingConfig         `mapstructure:"logging"`
	Timezone    string                `mapstructure:"timezone"`
	Fetch       FetchConfig           `mapstructure:"fetch"`
	Feeds       []source.FeedConfig   `mapstructure:"feeds"`
	Scrapes     []source.ScrapeConfig `mapstructure:"scrapes"`
	Store       StoreConfig           `mapstructure:"store"`
	Cache       CacheConfig           `mapstructure:"cache"`
	Pipeline    PipelineConfig        `mapstructure:"pipeline"`
	Delivery    DeliveryConfig        `mapstructure:"delivery"`
	Summarizer  SummarizerConfig      `mapstructure:"summarizer"`
	ArtifactLog ArtifactLogConfig     `mapstructure:"artifact_log"`
	Keepalive   KeepaliveConfig       `mapstructure:"keepalive"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
	ShutdownGraceSeconds  int `mapstructure:"shutdown_grace_seconds"`
}

// AuthConfig holds the shared secret for mutating routes.
type AuthConfig struct {
	TriggerToken string `mapstructure:"trigger_token"`
}

// LoggingConfig selects the zap encoder and level.
type LoggingConfig = logging.Config

// FetchConfig governs the fetch phase.
type FetchConfig struct {
	Concurrency      int            `mapstructure:"concurrency"`
	UserAgent        string         `mapstructure:"user_agent"`
	RespectRobots    bool           `mapstructure:"respect_robots"`
	TimeoutSeconds   int            `mapstructure:"timeout_seconds"`
	MaxAttempts      int            `mapstructure:"max_attempts"`
	BackoffInitialMs int            `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int            `mapstructure:"backoff_max_ms"`
	PerHostRPS       float64        `mapstructure:"per_host_rps"`
	PerHostBurst     int            `mapstructure:"per_host_burst"`
	Headless         HeadlessConfig `mapstructure:"headless"`
}

// HeadlessConfig configures the chromedp renderer used by render: true scrapes.
// With AutoPromote, other scrapes are re-fetched headless when the plain
// response looks like a script shell.
type HeadlessConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	MaxParallel      int    `mapstructure:"max_parallel"`
	NavTimeoutSec    int    `mapstructure:"nav_timeout_seconds"`
	WaitSelector     string `mapstructure:"wait_selector"`
	SettleMs         int    `mapstructure:"settle_ms"`
	AutoPromote      bool   `mapstructure:"auto_promote"`
	PromoteThreshold int    `mapstructure:"promote_threshold"`
}

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// StoreConfig selects the content store and archive backend.
type StoreConfig struct {
	Driver   string         `mapstructure:"driver"`
	QueryCap int            `mapstructure:"query_cap"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// SQLiteConfig points at the embedded database file.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// PostgresConfig controls access to the relational database.
type PostgresConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	RecordsTable           string `mapstructure:"records_table"`
	ArtifactsTable         string `mapstructure:"artifacts_table"`
}

// CacheConfig sizes the volatile artifact tier and the freshness windows.
type CacheConfig struct {
	Capacity      int `mapstructure:"capacity"`
	TTLMinutes    int `mapstructure:"ttl_minutes"`
	SameDayDays   int `mapstructure:"same_day_days"`
	LookupDays    int `mapstructure:"lookup_days"`
	CollisionDays int `mapstructure:"collision_days"`
}

// CategoryConfig names one artifact generated per run.
type CategoryConfig struct {
	Name  string `mapstructure:"name"`
	Topic string `mapstructure:"topic"`
}

// PipelineConfig tunes runs and their schedules.
type PipelineConfig struct {
	Categories        []CategoryConfig `mapstructure:"categories"`
	WindowHours       int              `mapstructure:"window_hours"`
	RecordLimit       int              `mapstructure:"record_limit"`
	Schedule          string           `mapstructure:"schedule"`
	SweepSchedule     string           `mapstructure:"sweep_schedule"`
	RunTimeoutMinutes int              `mapstructure:"run_timeout_minutes"`
	RetentionDays     int              `mapstructure:"retention_days"`
	Rollup            RollupConfig     `mapstructure:"rollup"`
}

// RollupConfig controls the weekly rollup appended to artifacts.
type RollupConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Weekday string `mapstructure:"weekday"`
	History int    `mapstructure:"history"`
}

// DeliveryConfig configures delivery channels and their retry policy.
type DeliveryConfig struct {
	MaxAttempts    int            `mapstructure:"max_attempts"`
	BackoffSeconds int            `mapstructure:"backoff_seconds"`
	Telegram       TelegramConfig `mapstructure:"telegram"`
	PubSub         PubSubConfig   `mapstructure:"pubsub"`
}

// TelegramConfig identifies the bot and destination chat.
type TelegramConfig struct {
	BotToken       string `mapstructure:"bot_token"`
	ChatID         string `mapstructure:"chat_id"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Enabled reports whether the channel has credentials.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// PubSubConfig holds the topic artifacts are published to.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Enabled reports whether the channel is configured.
func (p PubSubConfig) Enabled() bool {
	return p.ProjectID != "" && p.TopicName != ""
}

// SummarizerConfig selects the model. An empty API key selects the fallback.
type SummarizerConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
	MaxRecords  int     `mapstructure:"max_records"`
}

// ArtifactLogConfig lists the sinks completed runs are appended to.
type ArtifactLogConfig struct {
	Path      string `mapstructure:"path"`
	BlobDir   string `mapstructure:"blob_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// KeepaliveConfig enables the in-run heartbeat probe.
type KeepaliveConfig struct {
	URL             string `mapstructure:"url"`
	IntervalSeconds int    `mapstructure:"interval_seconds"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DIGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("server.shutdown_grace_seconds", 30)
	v.SetDefault("auth.trigger_token", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("timezone", "America/New_York")
	v.SetDefault("fetch.concurrency", 5)
	v.SetDefault("fetch.user_agent", "signal-daily-digest/0.1")
	v.SetDefault("fetch.respect_robots", false)
	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.backoff_initial_ms", 1000)
	v.SetDefault("fetch.backoff_max_ms", 8000)
	v.SetDefault("fetch.per_host_rps", 1.0)
	v.SetDefault("fetch.per_host_burst", 2)
	v.SetDefault("fetch.headless.enabled", false)
	v.SetDefault("fetch.headless.max_parallel", 1)
	v.SetDefault("fetch.headless.nav_timeout_seconds", 45)
	v.SetDefault("fetch.headless.wait_selector", "body")
	v.SetDefault("fetch.headless.settle_ms", 0)
	v.SetDefault("fetch.headless.auto_promote", false)
	v.SetDefault("fetch.headless.promote_threshold", 2048)
	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.query_cap", 200)
	v.SetDefault("store.sqlite.path", "digest.db")
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.max_conns", 4)
	v.SetDefault("store.postgres.records_table", "records")
	v.SetDefault("store.postgres.artifacts_table", "artifacts")
	v.SetDefault("cache.capacity", 64)
	v.SetDefault("cache.ttl_minutes", 360)
	v.SetDefault("cache.same_day_days", 1)
	v.SetDefault("cache.lookup_days", 7)
	v.SetDefault("cache.collision_days", 1)
	v.SetDefault("pipeline.window_hours", 24)
	v.SetDefault("pipeline.record_limit", 100)
	v.SetDefault("pipeline.schedule", "0 7 * * *")
	v.SetDefault("pipeline.sweep_schedule", "30 3 * * *")
	v.SetDefault("pipeline.run_timeout_minutes", 15)
	v.SetDefault("pipeline.retention_days", 30)
	v.SetDefault("pipeline.rollup.enabled", true)
	v.SetDefault("pipeline.rollup.weekday", "sunday")
	v.SetDefault("pipeline.rollup.history", 7)
	v.SetDefault("delivery.max_attempts", 2)
	v.SetDefault("delivery.backoff_seconds", 60)
	v.SetDefault("delivery.telegram.bot_token", "")
	v.SetDefault("delivery.telegram.chat_id", "")
	v.SetDefault("delivery.telegram.timeout_seconds", 10)
	v.SetDefault("delivery.pubsub.project_id", "")
	v.SetDefault("delivery.pubsub.topic_name", "")
	v.SetDefault("summarizer.api_key", "")
	v.SetDefault("summarizer.model", "claude-sonnet-4-5")
	v.SetDefault("summarizer.max_tokens", 4096)
	v.SetDefault("summarizer.temperature", 0.2)
	v.SetDefault("summarizer.max_records", 60)
	v.SetDefault("artifact_log.path", "artifacts.jsonl")
	v.SetDefault("artifact_log.blob_dir", "")
	v.SetDefault("artifact_log.gcs_bucket", "")
	v.SetDefault("artifact_log.prefix", "artifacts")
	v.SetDefault("keepalive.url", "")
	v.SetDefault("keepalive.interval_seconds", 240)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Fetch.Concurrency <= 0 {
		return fmt.Errorf("fetch.concurrency must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.Headless.Enabled && c.Fetch.Headless.MaxParallel <= 0 {
		return fmt.Errorf("fetch.headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Store.SQLite.Path == "" {
			return fmt.Errorf("store.sqlite.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("store.driver %q is not one of memory, sqlite, postgres", c.Store.Driver)
	}
	if c.Cache.SameDayDays <= 0 || c.Cache.LookupDays <= 0 || c.Cache.CollisionDays <= 0 {
		return fmt.Errorf("cache window days must be > 0")
	}
	seen := make(map[string]struct{}, len(c.Pipeline.Categories))
	for _, cat := range c.Pipeline.Categories {
		if strings.TrimSpace(cat.Name) == "" {
			return fmt.Errorf("pipeline.categories entries need a name")
		}
		if _, dup := seen[cat.Name]; dup {
			return fmt.Errorf("pipeline category %q is listed twice", cat.Name)
		}
		seen[cat.Name] = struct{}{}
	}
	if c.Pipeline.Rollup.Enabled {
		if _, err := c.RollupWeekday(); err != nil {
			return err
		}
	}
	if c.Delivery.MaxAttempts <= 0 {
		return fmt.Errorf("delivery.max_attempts must be > 0")
	}
	if (c.Delivery.Telegram.BotToken == "") != (c.Delivery.Telegram.ChatID == "") {
		return fmt.Errorf("delivery.telegram needs both bot_token and chat_id")
	}
	for _, f := range c.Feeds {
		if f.Name == "" || f.URL == "" {
			return fmt.Errorf("feeds entries need a name and url")
		}
	}
	for _, s := range c.Scrapes {
		if s.Name == "" || s.URL == "" {
			return fmt.Errorf("scrapes entries need a name and url")
		}
		if _, err := source.LookupLayout(layoutOrDefault(s.Layout)); err != nil {
			return fmt.Errorf("scrape %s: %w", s.Name, err)
		}
	}
	return nil
}

func layoutOrDefault(layout string) string {
	if layout == "" {
		return "selectors"
	}
	return layout
}

// Location returns the anchor timezone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// RollupWeekday parses pipeline.rollup.weekday.
func (c Config) RollupWeekday() (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(c.Pipeline.Rollup.Weekday))
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.ToLower(d.String()) == name {
			return d, nil
		}
	}
	return 0, fmt.Errorf("pipeline.rollup.weekday %q is not a weekday", c.Pipeline.Rollup.Weekday)
}

// FetchTimeout is the per-attempt fetch bound.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}
