// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. HARVESTER_API_TOKEN.
const EnvPrefix = "HARVESTER"

// Output backends.
const (
	BackendLocal = "local"
	BackendGCS   = "gcs"
)

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Ed      EdConfig      `mapstructure:"ed"`
	Output  OutputConfig  `mapstructure:"output"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	DB      DBConfig      `mapstructure:"db"`
	Ops     OpsConfig     `mapstructure:"ops"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// APIConfig identifies the forum deployment and the caller.
type APIConfig struct {
	Host      string `mapstructure:"host"`
	Token     string `mapstructure:"token"`
	UserAgent string `mapstructure:"user_agent"`
}

// HTTPConfig configures the transport and the retry wrapper.
type HTTPConfig struct {
	TimeoutSeconds       int     `mapstructure:"timeout_seconds"`
	MaxAttempts          int     `mapstructure:"max_attempts"`
	BackoffBaseMs        int     `mapstructure:"backoff_base_ms"`
	MaxBodyBytes         int     `mapstructure:"max_body_bytes"`
	MaxRequestsPerSecond float64 `mapstructure:"max_requests_per_second"`
}

// EdConfig tunes pagination and cooldown behavior.
type EdConfig struct {
	PageSize           int `mapstructure:"page_size"`
	EmptyPageThreshold int `mapstructure:"empty_page_threshold"`
	PolitenessMinMs    int `mapstructure:"politeness_min_ms"`
	PolitenessMaxMs    int `mapstructure:"politeness_max_ms"`
	CooldownSeconds    int `mapstructure:"cooldown_seconds"`
}

// OutputConfig chooses where the corpus document is written.
type OutputConfig struct {
	Backend    string `mapstructure:"backend"`
	BaseDir    string `mapstructure:"base_dir"`
	GCSBucket  string `mapstructure:"gcs_bucket"`
	Prefix     string `mapstructure:"prefix"`
	ObjectName string `mapstructure:"object_name"`
}

// PubSubConfig holds metadata for completion notifications. An empty topic
// disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// DBConfig points at the run ledger. An empty DSN keeps the ledger in memory.
type DBConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// OpsConfig controls the health/metrics listener. An empty address disables it.
type OpsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Options control where Load reads from.
type Options struct {
	// Path is an optional config file (any format Viper understands).
	Path string
	// EnvFile is an optional dotenv file; a missing file is ignored.
	EnvFile string
	// Overrides take precedence over every other source, keyed by dotted path.
	Overrides map[string]any
}

// Load builds a Config from a dotenv file, a config file, the environment and
// explicit overrides, in increasing order of precedence.
func Load(opts Options) (Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", opts.EnvFile, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if opts.Path != "" {
		v.SetConfigFile(opts.Path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	for key, value := range opts.Overrides {
		v.Set(key, value)
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
	// Keys without a meaningful default are still registered so AutomaticEnv
	// can see them during Unmarshal.
	v.SetDefault("api.host", "")
	v.SetDefault("api.token", "")
	v.SetDefault("api.user_agent", "ed-forum-harvester/1.0")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_attempts", 5)
	v.SetDefault("http.backoff_base_ms", 1000)
	v.SetDefault("http.max_body_bytes", 10*1024*1024)
	v.SetDefault("http.max_requests_per_second", 5)
	v.SetDefault("ed.page_size", 10)
	v.SetDefault("ed.empty_page_threshold", 3)
	v.SetDefault("ed.politeness_min_ms", 1000)
	v.SetDefault("ed.politeness_max_ms", 2000)
	v.SetDefault("ed.cooldown_seconds", 60)
	v.SetDefault("output.backend", BackendLocal)
	v.SetDefault("output.base_dir", "data")
	v.SetDefault("output.gcs_bucket", "")
	v.SetDefault("output.prefix", "corpora")
	v.SetDefault("output.object_name", "corpus.json")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "harvest_runs")
	v.SetDefault("ops.addr", "")
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.API.Host) == "" {
		return fmt.Errorf("api.host is required")
	}
	if c.API.Token == "" {
		return fmt.Errorf("api.token is required")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return fmt.Errorf("http.max_attempts must be > 0")
	}
	if c.HTTP.BackoffBaseMs <= 0 {
		return fmt.Errorf("http.backoff_base_ms must be > 0")
	}
	if c.HTTP.MaxRequestsPerSecond < 0 {
		return fmt.Errorf("http.max_requests_per_second must be >= 0")
	}
	if c.Ed.PageSize <= 0 {
		return fmt.Errorf("ed.page_size must be > 0")
	}
	if c.Ed.EmptyPageThreshold <= 0 {
		return fmt.Errorf("ed.empty_page_threshold must be > 0")
	}
	if c.Ed.PolitenessMinMs < 0 || c.Ed.PolitenessMaxMs < c.Ed.PolitenessMinMs {
		return fmt.Errorf("ed.politeness_min_ms must be >= 0 and <= ed.politeness_max_ms")
	}
	if c.Ed.CooldownSeconds < 0 {
		return fmt.Errorf("ed.cooldown_seconds must be >= 0")
	}
	switch c.Output.Backend {
	case BackendLocal:
		if c.Output.BaseDir == "" {
			return fmt.Errorf("output.base_dir must be set for the local backend")
		}
	case BackendGCS:
		if c.Output.GCSBucket == "" {
			return fmt.Errorf("output.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("output.backend must be %q or %q, got %q", BackendLocal, BackendGCS, c.Output.Backend)
	}
	if c.Output.ObjectName == "" {
		return fmt.Errorf("output.object_name is required")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.DB.DSN != "" && c.DB.Table == "" {
		return fmt.Errorf("db.table must be set when db.dsn is set")
	}
	return nil
}

// Timeout is the per-request transport timeout.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// BackoffBase is the first retry delay.
func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.HTTP.BackoffBaseMs) * time.Millisecond
}

// Politeness returns the bounds of the inter-page pause.
func (c Config) Politeness() (time.Duration, time.Duration) {
	return time.Duration(c.Ed.PolitenessMinMs) * time.Millisecond,
		time.Duration(c.Ed.PolitenessMaxMs) * time.Millisecond
}

// Cooldown is the pause after a request exhausts its retry budget.
func (c Config) Cooldown() time.Duration {
	return time.Duration(c.Ed.CooldownSeconds) * time.Second
}
