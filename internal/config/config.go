// Package config loads and validates archiver configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/image-archiver/internal/archiver"
)

// EnvPrefix namespaces environment overrides, e.g. ARCHIVER_STORAGE_DIR.
const EnvPrefix = "ARCHIVER"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Sources   SourcesConfig   `mapstructure:"sources"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Retention RetentionConfig `mapstructure:"retention"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Mirror    MirrorConfig    `mapstructure:"mirror"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	DB        DBConfig        `mapstructure:"db"`
}

// SourcesConfig describes where images come from.
type SourcesConfig struct {
	URL  string `mapstructure:"url"`
	ID   string `mapstructure:"id"`
	Spec string `mapstructure:"spec"`
}

// StorageConfig sets the on-disk archive location.
type StorageConfig struct {
	Dir  string `mapstructure:"dir"`
	Root string `mapstructure:"root"`
}

// ScheduleConfig paces fetch cycles.
type ScheduleConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
}

// FetchConfig configures a single fetch attempt and its retries.
type FetchConfig struct {
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RetryCount     int     `mapstructure:"retry_count"`
	BackoffFactor  float64 `mapstructure:"backoff_factor"`
	UserAgent      string  `mapstructure:"user_agent"`
	RespectRobots  bool    `mapstructure:"respect_robots"`
	MaxBodyBytes   int     `mapstructure:"max_body_bytes"`
}

// RetentionConfig bounds how much history is kept per source.
type RetentionConfig struct {
	MaxFiles   int `mapstructure:"max_files"`
	MaxAgeDays int `mapstructure:"max_age_days"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ServerConfig controls the ops HTTP server. Port 0 disables it.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// HeadlessConfig configures screenshot sources.
type HeadlessConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	Sources       []string `mapstructure:"sources"`
	Width         int      `mapstructure:"width"`
	Height        int      `mapstructure:"height"`
	NavTimeoutSec int      `mapstructure:"nav_timeout_seconds"`
}

// MirrorConfig names the optional secondary copies of each capture.
type MirrorConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
	LocalDir  string `mapstructure:"local_dir"`
}

// PubSubConfig holds metadata for capture notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// DBConfig controls the optional capture ledger.
type DBConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// legacyEnv maps config keys to the bare environment names older deployments use.
var legacyEnv = map[string]string{
	"sources.url":               "IMAGE_URL",
	"sources.id":                "SOURCE_ID",
	"sources.spec":              "SOURCES",
	"storage.dir":               "STORAGE_DIR",
	"storage.root":              "STORAGE_ROOT",
	"schedule.interval_seconds": "INTERVAL_SECONDS",
	"fetch.timeout_seconds":     "TIMEOUT_SECONDS",
	"fetch.retry_count":         "RETRY_COUNT",
	"fetch.backoff_factor":      "RETRY_BACKOFF_FACTOR",
	"retention.max_files":       "MAX_FILES",
	"retention.max_age_days":    "MAX_AGE_DAYS",
	"logging.level":             "LOG_LEVEL",
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// LoadEnvFile exports KEY=VALUE pairs from a dotenv file into the process
// environment. Variables that are already set are left alone, and a missing
// file is not an error so deployments can rely on real environment only.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

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
	v.SetDefault("sources.url", "")
	v.SetDefault("sources.id", "")
	v.SetDefault("sources.spec", "")
	v.SetDefault("storage.dir", "/data/images")
	v.SetDefault("storage.root", "")
	v.SetDefault("schedule.interval_seconds", 3600)
	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("fetch.retry_count", 3)
	v.SetDefault("fetch.backoff_factor", 1.5)
	v.SetDefault("fetch.user_agent", "image-archiver/1.0")
	v.SetDefault("fetch.respect_robots", false)
	v.SetDefault("fetch.max_body_bytes", 32<<20)
	v.SetDefault("retention.max_files", 0)
	v.SetDefault("retention.max_age_days", 0)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("server.port", 0)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.sources", []string{})
	v.SetDefault("headless.width", 1280)
	v.SetDefault("headless.height", 720)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("mirror.gcs_bucket", "")
	v.SetDefault("mirror.prefix", "")
	v.SetDefault("mirror.local_dir", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "captures")
}

// bindLegacyEnv lets the prefixed name win over the bare legacy name.
func bindLegacyEnv(v *viper.Viper) error {
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Schedule.IntervalSeconds <= 0 {
		return fmt.Errorf("schedule.interval_seconds must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.RetryCount < 0 {
		return fmt.Errorf("fetch.retry_count must be >= 0")
	}
	if c.Fetch.BackoffFactor < 0 {
		return fmt.Errorf("fetch.backoff_factor must be >= 0")
	}
	if c.Fetch.MaxBodyBytes < 0 {
		return fmt.Errorf("fetch.max_body_bytes must be >= 0")
	}
	if c.Retention.MaxFiles < 0 {
		return fmt.Errorf("retention.max_files must be >= 0")
	}
	if c.Retention.MaxAgeDays < 0 {
		return fmt.Errorf("retention.max_age_days must be >= 0")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535")
	}
	if c.Headless.Enabled {
		if c.Headless.Width <= 0 || c.Headless.Height <= 0 {
			return fmt.Errorf("headless.width and headless.height must be > 0 when headless is enabled")
		}
		if c.Headless.NavTimeoutSec <= 0 {
			return fmt.Errorf("headless.nav_timeout_seconds must be > 0 when headless is enabled")
		}
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	if c.DB.DSN != "" && !identifierPattern.MatchString(c.DB.Table) {
		return fmt.Errorf("db.table %q is not a valid identifier", c.DB.Table)
	}
	return nil
}

// SourceConfig converts the sources/storage/headless sections for the registry.
func (c Config) SourceConfig() archiver.SourceConfig {
	cfg := archiver.SourceConfig{
		URL:         c.Sources.URL,
		ID:          c.Sources.ID,
		Spec:        c.Sources.Spec,
		StorageRoot: c.Storage.Root,
		StorageDir:  c.Storage.Dir,
	}
	if c.Headless.Enabled {
		cfg.ScreenshotIDs = c.Headless.Sources
	}
	return cfg
}

// FetchTimeout bounds a single fetch attempt.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// Interval is the pause between cycles.
func (c Config) Interval() time.Duration {
	return time.Duration(c.Schedule.IntervalSeconds) * time.Second
}

// NavTimeout bounds a headless navigation.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}

// RetryPolicy returns the fetch retry settings.
func (c Config) RetryPolicy() archiver.RetryPolicy {
	return archiver.RetryPolicy{
		MaxRetries:    c.Fetch.RetryCount,
		BackoffFactor: c.Fetch.BackoffFactor,
	}
}

// Retention returns the pruning limits.
func (c Config) Retention() archiver.RetentionLimits {
	return archiver.RetentionLimits{
		MaxFiles:   c.Retention.MaxFiles,
		MaxAgeDays: c.Retention.MaxAgeDays,
	}
}
