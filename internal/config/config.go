// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/renec-harvester/internal/renec"
)

// ErrInvalid marks configuration that cannot run. Validate wraps it.
var ErrInvalid = errors.New("invalid configuration")

// Storage backends for the corpus.
const (
	BackendLocal    = "local"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ExtractorConfig governs the orchestrator.
type ExtractorConfig struct {
	Mode            string `mapstructure:"mode"`
	BatchSize       int    `mapstructure:"batch_size"`
	RequestDelayMS  int    `mapstructure:"request_delay_ms"`
	MaxECsToProcess int    `mapstructure:"max_ecs_to_process"`
	Workers         int    `mapstructure:"workers"`
	Resume          bool   `mapstructure:"resume"`
	SkipIfExists    bool   `mapstructure:"skip_if_exists"`
	SkipCommittees  bool   `mapstructure:"skip_committees"`
	MaxCommitteeID  int    `mapstructure:"max_committee_id"`
	TopN            int    `mapstructure:"top_n"`
	OutputDir       string `mapstructure:"output_dir"`
	CheckpointDir   string `mapstructure:"checkpoint_dir"`
}

// FetchConfig configures the API client and the headless detail renderer.
type FetchConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	PortalURL      string `mapstructure:"portal_url"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries"`
	DetectChanges  bool   `mapstructure:"detect_changes"`
	// Headless enables the browser fallback for standards whose API record
	// lacks certifiers and training centres.
	Headless          bool `mapstructure:"headless"`
	Visible           bool `mapstructure:"visible"`
	MaxParallel       int  `mapstructure:"max_parallel"`
	NavTimeoutSeconds int  `mapstructure:"nav_timeout_seconds"`
	SettleMS          int  `mapstructure:"settle_ms"`
}

// StorageConfig selects the corpus backend and the artifact bucket.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	TablePrefix            string `mapstructure:"table_prefix"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// PubSubConfig holds metadata for run-completed notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Enabled reports whether notifications should be published.
func (c PubSubConfig) Enabled() bool {
	return c.ProjectID != "" && c.TopicName != ""
}

// MetricsConfig controls the Prometheus listener used during extraction.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// TracingConfig controls OpenTelemetry sampling.
type TracingConfig struct {
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// ServerConfig controls the query server.
type ServerConfig struct {
	Port                  int    `mapstructure:"port"`
	APIKey                string `mapstructure:"api_key"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
}

// LoggingConfig toggles zap development features and the level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment. With an empty path the usual
// locations are searched and a missing file is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RENEC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("renec-harvester")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/renec-harvester/")
		v.AddConfigPath("$HOME/.renec-harvester")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
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
	v.SetDefault("extractor.mode", string(renec.ModeFull))
	v.SetDefault("extractor.batch_size", 50)
	v.SetDefault("extractor.request_delay_ms", 1500)
	v.SetDefault("extractor.max_ecs_to_process", 0)
	v.SetDefault("extractor.workers", 1)
	v.SetDefault("extractor.max_committee_id", 400)
	v.SetDefault("extractor.top_n", 20)
	v.SetDefault("extractor.output_dir", "data/renec")
	v.SetDefault("extractor.checkpoint_dir", "data/renec/checkpoints")
	v.SetDefault("fetch.base_url", "https://conocer.gob.mx/CONOCERBACKCITAS")
	v.SetDefault("fetch.portal_url", "https://conocer.gob.mx/conocer/#/renec")
	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.max_retries", 2)
	v.SetDefault("fetch.detect_changes", true)
	v.SetDefault("fetch.headless", true)
	v.SetDefault("fetch.max_parallel", 1)
	v.SetDefault("fetch.nav_timeout_seconds", 45)
	v.SetDefault("fetch.settle_ms", 2000)
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.prefix", "renec")
	v.SetDefault("db.table_prefix", "renec")
	v.SetDefault("tracing.sample_ratio", 0.0)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits. Every violation
// is reported, joined and wrapped with ErrInvalid.
func (c Config) Validate() error {
	var errs []error
	mode, err := renec.ParseMode(c.Extractor.Mode)
	if err != nil {
		errs = append(errs, fmt.Errorf("extractor.mode: %w", err))
	}
	if c.Extractor.Resume && mode == renec.ModeStats {
		errs = append(errs, errors.New("extractor.resume cannot be combined with stats mode"))
	}
	if c.Extractor.BatchSize <= 0 {
		errs = append(errs, errors.New("extractor.batch_size must be > 0"))
	}
	if c.Extractor.RequestDelayMS < 0 {
		errs = append(errs, errors.New("extractor.request_delay_ms must be >= 0"))
	}
	if c.Extractor.MaxECsToProcess < 0 {
		errs = append(errs, errors.New("extractor.max_ecs_to_process must be >= 0"))
	}
	if c.Extractor.Workers <= 0 {
		errs = append(errs, errors.New("extractor.workers must be > 0"))
	}
	if c.Extractor.OutputDir == "" {
		errs = append(errs, errors.New("extractor.output_dir is required"))
	}
	if c.Extractor.CheckpointDir == "" {
		errs = append(errs, errors.New("extractor.checkpoint_dir is required"))
	}
	if c.Fetch.BaseURL == "" {
		errs = append(errs, errors.New("fetch.base_url is required"))
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("fetch.timeout_seconds must be > 0"))
	}
	if c.Fetch.MaxRetries < 0 {
		errs = append(errs, errors.New("fetch.max_retries must be >= 0"))
	}
	if c.Fetch.Headless && c.Fetch.MaxParallel <= 0 {
		errs = append(errs, errors.New("fetch.max_parallel must be > 0 when headless rendering is enabled"))
	}
	switch c.Storage.Backend {
	case BackendLocal, BackendMemory:
	case BackendPostgres:
		if c.DB.DSN == "" {
			errs = append(errs, errors.New("db.dsn must be set for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not one of local, postgres, memory", c.Storage.Backend))
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		errs = append(errs, errors.New("pubsub.project_id and pubsub.topic_name must be set together"))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, errors.New("tracing.sample_ratio must be within [0, 1]"))
	}
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

// RunMode parses extractor.mode.
func (c Config) RunMode() (renec.Mode, error) {
	mode, err := renec.ParseMode(c.Extractor.Mode)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return mode, nil
}

// RequestDelay converts extractor.request_delay_ms to a duration.
func (c Config) RequestDelay() time.Duration {
	return time.Duration(c.Extractor.RequestDelayMS) * time.Millisecond
}

// FetchTimeout converts fetch.timeout_seconds to a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}
