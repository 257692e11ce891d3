// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/camara-crawler/internal/crawler"
)

// Store backends.
const (
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Upstream     UpstreamConfig     `mapstructure:"upstream"`
	Retry        RetryConfig        `mapstructure:"retry"`
	Resources    ResourcesConfig    `mapstructure:"resources"`
	Propositions PropositionsConfig `mapstructure:"propositions"`
	Store        StoreConfig        `mapstructure:"store"`
	Progress     ProgressConfig     `mapstructure:"progress"`
	PubSub       PubSubConfig       `mapstructure:"pubsub"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// ShutdownSeconds bounds how long running crawls get to reach a
	// checkpoint on shutdown.
	ShutdownSeconds int `mapstructure:"shutdown_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// UpstreamConfig points at the open data API.
type UpstreamConfig struct {
	BaseURL        string  `mapstructure:"base_url"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	UserAgent      string  `mapstructure:"user_agent"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	Burst          int     `mapstructure:"burst"`
}

// RetryConfig configures the linear retry applied to upstream calls.
type RetryConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
	BaseDelayMs int `mapstructure:"base_delay_ms"`
}

// ResourceConfig tunes one resource pipeline.
type ResourceConfig struct {
	PageSize int  `mapstructure:"page_size"`
	Enabled  bool `mapstructure:"enabled"`
}

// ResourcesConfig holds per resource settings.
type ResourcesConfig struct {
	Deputies     ResourceConfig `mapstructure:"deputies"`
	Propositions ResourceConfig `mapstructure:"propositions"`
	Votes        ResourceConfig `mapstructure:"votes"`
}

// PropositionsConfig narrows the propositions listing.
type PropositionsConfig struct {
	Filter PropositionFilterConfig `mapstructure:"filter"`
}

// PropositionFilterConfig mirrors the siglaTipo and dataApresentacaoInicio
// query parameters.
type PropositionFilterConfig struct {
	Types          []string `mapstructure:"types"`
	PresentedSince string   `mapstructure:"presented_since"`
}

// StoreConfig selects and configures the document store.
type StoreConfig struct {
	Backend     string `mapstructure:"backend"`
	MongoURI    string `mapstructure:"mongo_uri"`
	Database    string `mapstructure:"database"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
	MaxConns    int    `mapstructure:"max_conns"`
	// TablePrefix is prepended to Postgres table names.
	TablePrefix string `mapstructure:"table_prefix"`
}

// ProgressConfig controls the progress hub and its sinks.
type ProgressConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	LogEnabled    bool `mapstructure:"log_enabled"`
	BufferSize    int  `mapstructure:"buffer_size"`
	Batch         int  `mapstructure:"batch"`
	SinkTimeoutMs int  `mapstructure:"sink_timeout_ms"`
}

// PubSubConfig holds metadata for run lifecycle notifications. An empty
// project disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment. Every key has a default so
// CAMARA_* variables override it even without a config file.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CAMARA")
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
	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_seconds", 30)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("upstream.base_url", "https://dadosabertos.camara.leg.br/api/v2")
	v.SetDefault("upstream.timeout_seconds", 60)
	v.SetDefault("upstream.user_agent", "camara-crawler/0.1")
	v.SetDefault("upstream.rate_limit_rps", 5)
	v.SetDefault("upstream.burst", 5)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay_ms", 2000)
	v.SetDefault("resources.deputies.page_size", 100)
	v.SetDefault("resources.deputies.enabled", true)
	v.SetDefault("resources.propositions.page_size", 20)
	v.SetDefault("resources.propositions.enabled", true)
	v.SetDefault("resources.votes.page_size", 20)
	v.SetDefault("resources.votes.enabled", true)
	v.SetDefault("propositions.filter.types", []string{"PEC", "PL"})
	v.SetDefault("propositions.filter.presented_since", "2018-01-01")
	v.SetDefault("store.backend", BackendMongo)
	v.SetDefault("store.mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("store.database", "camara")
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.table_prefix", "")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", true)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.batch", 256)
	v.SetDefault("progress.sink_timeout_ms", 10000)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "camara-crawl-runs")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	if c.Upstream.TimeoutSeconds <= 0 {
		return fmt.Errorf("upstream.timeout_seconds must be > 0")
	}
	if c.Upstream.RateLimitRPS < 0 {
		return fmt.Errorf("upstream.rate_limit_rps must be >= 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Retry.BaseDelayMs < 0 {
		return fmt.Errorf("retry.base_delay_ms must be >= 0")
	}
	for _, r := range crawler.Resources() {
		rc := c.Resource(r)
		if rc.Enabled && (rc.PageSize <= 0 || rc.PageSize > 100) {
			return fmt.Errorf("resources.%s.page_size must be in 1..100", r)
		}
	}
	if since := c.Propositions.Filter.PresentedSince; since != "" {
		if _, err := time.Parse(time.DateOnly, since); err != nil {
			return fmt.Errorf("propositions.filter.presented_since must be YYYY-MM-DD: %w", err)
		}
	}
	switch c.Store.Backend {
	case BackendMongo:
		if c.Store.MongoURI == "" || c.Store.Database == "" {
			return fmt.Errorf("store.mongo_uri and store.database are required for the mongo backend")
		}
	case BackendPostgres:
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("store.postgres_dsn is required for the postgres backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("store.backend must be one of mongo, postgres, memory (got %q)", c.Store.Backend)
	}
	if c.Store.MaxConns < 0 {
		return fmt.Errorf("store.max_conns must be >= 0")
	}
	if c.Progress.Enabled && c.Progress.BufferSize <= 0 {
		return fmt.Errorf("progress.buffer_size must be > 0 when progress is enabled")
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub.project_id is set")
	}
	return nil
}

// Resource returns the settings of one resource.
func (c Config) Resource(r crawler.Resource) ResourceConfig {
	switch r {
	case crawler.ResourceDeputies:
		return c.Resources.Deputies
	case crawler.ResourcePropositions:
		return c.Resources.Propositions
	case crawler.ResourceVotes:
		return c.Resources.Votes
	default:
		return ResourceConfig{}
	}
}

// EnabledResources lists the enabled resources in start order.
func (c Config) EnabledResources() []crawler.Resource {
	var out []crawler.Resource
	for _, r := range crawler.Resources() {
		if c.Resource(r).Enabled {
			out = append(out, r)
		}
	}
	return out
}

// RetryPolicy converts the retry section into a linear policy.
func (c Config) RetryPolicy() crawler.RetryPolicy {
	return crawler.NewLinearRetryPolicy(c.Retry.MaxAttempts, time.Duration(c.Retry.BaseDelayMs)*time.Millisecond)
}

// UpstreamTimeout is the per request fetch timeout.
func (c Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.Upstream.TimeoutSeconds) * time.Second
}

// ShutdownGrace bounds the stop-all on shutdown.
func (c Config) ShutdownGrace() time.Duration {
	if c.Server.ShutdownSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Server.ShutdownSeconds) * time.Second
}

// SinkTimeout bounds each progress sink call.
func (c Config) SinkTimeout() time.Duration {
	return time.Duration(c.Progress.SinkTimeoutMs) * time.Millisecond
}
