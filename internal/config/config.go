// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/scholar-crawler/internal/crawler"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig      `mapstructure:"server"`
	Auth      AuthConfig        `mapstructure:"auth"`
	Logging   LoggingConfig     `mapstructure:"logging"`
	Crawler   CrawlerConfig     `mapstructure:"crawler"`
	Tor       TorConfig         `mapstructure:"tor"`
	Storage   StorageConfig     `mapstructure:"storage"`
	Archive   ArchiveConfig     `mapstructure:"archive"`
	Publisher PublisherConfig   `mapstructure:"publisher"`
	Scheduler SchedulerConfig   `mapstructure:"scheduler"`
	Tracing   TracingConfig     `mapstructure:"tracing"`
	Profiles  []crawler.Profile `mapstructure:"profiles"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlerConfig governs a single extraction run.
type CrawlerConfig struct {
	Provider             string        `mapstructure:"provider"`
	RunTag               string        `mapstructure:"run_tag"`
	Retries              int           `mapstructure:"retries"`
	RetryDelayMinSeconds float64       `mapstructure:"retry_delay_min_seconds"`
	RetryDelayMaxSeconds float64       `mapstructure:"retry_delay_max_seconds"`
	MaxRecords           int           `mapstructure:"max_records"`
	MaxPages             int           `mapstructure:"max_pages"`
	RunTimeout           time.Duration `mapstructure:"run_timeout"`
	TempDir              string        `mapstructure:"temp_dir"`
	SourceDomain         string        `mapstructure:"source_domain"`
	Locale               string        `mapstructure:"locale"`
	UserAgent            string        `mapstructure:"user_agent"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout"`
	RequestsPerSecond    float64       `mapstructure:"requests_per_second"`
	Burst                int           `mapstructure:"burst"`
	Warmup               bool          `mapstructure:"warmup"`
	MaxBodyBytes         int           `mapstructure:"max_body_bytes"`
}

// TorConfig locates the Tor daemon used for identity rotation.
type TorConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Mandatory       bool          `mapstructure:"mandatory"`
	SocksAddr       string        `mapstructure:"socks_addr"`
	ControlAddr     string        `mapstructure:"control_addr"`
	ControlPassword string        `mapstructure:"control_password"`
	SettleDelay     time.Duration `mapstructure:"settle_delay"`
}

// StorageConfig selects the record and job store.
type StorageConfig struct {
	Provider string         `mapstructure:"provider"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig controls access to the relational database.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// ArchiveConfig selects where run archives are written.
type ArchiveConfig struct {
	Provider  string `mapstructure:"provider"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PublisherConfig holds run-completed notification settings.
type PublisherConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// SchedulerConfig sizes the worker pool and seeds recurring runs.
type SchedulerConfig struct {
	Workers    int              `mapstructure:"workers"`
	QueueDepth int              `mapstructure:"queue_depth"`
	Schedules  []ScheduleConfig `mapstructure:"schedules"`
}

// ScheduleConfig is one recurring extraction.
type ScheduleConfig struct {
	ProfileID string `mapstructure:"profile_id"`
	Provider  string `mapstructure:"provider"`
	Cron      string `mapstructure:"cron"`
}

// TracingConfig configures the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCHOLAR")
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
	def := crawler.DefaultConfig()
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("crawler.provider", "scholar")
	v.SetDefault("crawler.run_tag", def.RunTag)
	v.SetDefault("crawler.retries", crawler.DefaultMaxRetries)
	v.SetDefault("crawler.retry_delay_min_seconds", crawler.DefaultRetryDelayMin.Seconds())
	v.SetDefault("crawler.retry_delay_max_seconds", crawler.DefaultRetryDelayMax.Seconds())
	v.SetDefault("crawler.max_records", crawler.DefaultMaxRecords)
	v.SetDefault("crawler.max_pages", crawler.DefaultMaxPages)
	v.SetDefault("crawler.run_timeout", def.RunTimeout.String())
	v.SetDefault("crawler.temp_dir", def.TempDir)
	v.SetDefault("crawler.source_domain", "scholar.google.com")
	v.SetDefault("crawler.locale", "en")
	v.SetDefault("crawler.request_timeout", "30s")
	v.SetDefault("crawler.requests_per_second", 0.5)
	v.SetDefault("crawler.burst", 1)
	v.SetDefault("crawler.warmup", def.Warmup)
	v.SetDefault("tor.enabled", true)
	v.SetDefault("tor.mandatory", true)
	v.SetDefault("tor.socks_addr", "127.0.0.1:9050")
	v.SetDefault("tor.control_addr", "127.0.0.1:9051")
	v.SetDefault("tor.settle_delay", "10s")
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.postgres.max_conns", 8)
	v.SetDefault("storage.postgres.min_conns", 1)
	v.SetDefault("storage.postgres.max_conn_lifetime", "30m")
	v.SetDefault("storage.postgres.migrate", true)
	v.SetDefault("archive.provider", "local")
	v.SetDefault("archive.base_dir", "archives")
	v.SetDefault("publisher.provider", "none")
	v.SetDefault("publisher.topic", "scholar-runs")
	v.SetDefault("scheduler.workers", 1)
	v.SetDefault("scheduler.queue_depth", 64)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "scholar-crawler")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Crawler.Provider == "" {
		return fmt.Errorf("crawler.provider must be set")
	}
	if c.Crawler.RequestsPerSecond < 0 {
		return fmt.Errorf("crawler.requests_per_second must be >= 0")
	}
	if err := c.CrawlerSettings().Validate(); err != nil {
		return fmt.Errorf("crawler: %w", err)
	}
	if c.Tor.Mandatory && !c.Tor.Enabled {
		return fmt.Errorf("tor.mandatory requires tor.enabled")
	}
	switch c.Storage.Provider {
	case "memory":
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn must be set for the postgres provider")
		}
	default:
		return fmt.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}
	switch c.Archive.Provider {
	case "memory":
	case "local":
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir must be set for the local provider")
		}
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set for the gcs provider")
		}
	default:
		return fmt.Errorf("unknown archive.provider %q", c.Archive.Provider)
	}
	switch c.Publisher.Provider {
	case "none", "memory":
	case "pubsub":
		if c.Publisher.ProjectID == "" || c.Publisher.Topic == "" {
			return fmt.Errorf("publisher.project_id and publisher.topic must be set for the pubsub provider")
		}
	default:
		return fmt.Errorf("unknown publisher.provider %q", c.Publisher.Provider)
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler.workers must be > 0")
	}
	if c.Scheduler.QueueDepth <= 0 {
		return fmt.Errorf("scheduler.queue_depth must be > 0")
	}
	for i, s := range c.Scheduler.Schedules {
		if s.ProfileID == "" || s.Cron == "" {
			return fmt.Errorf("scheduler.schedules[%d] needs profile_id and cron", i)
		}
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	seen := make(map[string]struct{}, len(c.Profiles))
	for i, p := range c.Profiles {
		if p.ID == "" || p.SearchHandle == "" {
			return fmt.Errorf("profiles[%d] needs id and search_handle", i)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("profile %q is declared twice", p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}

// CrawlerSettings converts the crawler section into engine configuration.
func (c Config) CrawlerSettings() crawler.Config {
	out := crawler.DefaultConfig()
	out.RunTag = c.Crawler.RunTag
	out.TempDir = c.Crawler.TempDir
	out.MaxRecords = c.Crawler.MaxRecords
	out.MaxPages = c.Crawler.MaxPages
	out.RunTimeout = c.Crawler.RunTimeout
	out.Warmup = c.Crawler.Warmup
	out.ProxyMandatory = c.Tor.Enabled && c.Tor.Mandatory
	out.Policy = crawler.FetchPolicy{
		MaxRetries:    c.Crawler.Retries,
		RetryDelayMin: seconds(c.Crawler.RetryDelayMinSeconds),
		RetryDelayMax: seconds(c.Crawler.RetryDelayMaxSeconds),
	}
	if c.Publisher.Provider != "none" {
		out.EventTopic = c.Publisher.Topic
	}
	return out
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
