package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Apollo     ApolloConfig     `yaml:"apollo" mapstructure:"apollo"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit" mapstructure:"rate_limit"`
	Search     SearchConfig     `yaml:"search" mapstructure:"search"`
	Enrich     EnrichConfig     `yaml:"enrich" mapstructure:"enrich"`
	Campaign   CampaignConfig   `yaml:"campaign" mapstructure:"campaign"`
	Roster     RosterConfig     `yaml:"roster" mapstructure:"roster"`
	Personas   PersonasConfig   `yaml:"personas" mapstructure:"personas"`
	Export     ExportConfig     `yaml:"export" mapstructure:"export"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// ApolloConfig holds people-search API credentials and endpoint.
type ApolloConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// RateLimitConfig bounds outbound calls to the people source. The window
// is sliding, so the ceiling holds at any instant, not per calendar minute.
type RateLimitConfig struct {
	MaxRequests int `yaml:"max_requests" mapstructure:"max_requests"`
	WindowSecs  int `yaml:"window_secs" mapstructure:"window_secs"`
}

// SearchConfig configures paging behavior.
type SearchConfig struct {
	PageCap          int `yaml:"page_cap" mapstructure:"page_cap"`
	PartitionDelayMs int `yaml:"partition_delay_ms" mapstructure:"partition_delay_ms"`
}

// EnrichConfig configures contact enrichment.
type EnrichConfig struct {
	RevealPersonalEmails bool `yaml:"reveal_personal_emails" mapstructure:"reveal_personal_emails"`
	Concurrency          int  `yaml:"concurrency" mapstructure:"concurrency"`
}

// CampaignConfig configures checkpointed batch campaigns.
type CampaignConfig struct {
	BatchSize        int    `yaml:"batch_size" mapstructure:"batch_size"`
	PerCompany       int    `yaml:"per_company" mapstructure:"per_company"`
	HourlyRequestCap int    `yaml:"hourly_request_cap" mapstructure:"hourly_request_cap"`
	BatchDelaySecs   int    `yaml:"batch_delay_secs" mapstructure:"batch_delay_secs"`
	MaxBatches       int    `yaml:"max_batches" mapstructure:"max_batches"`
	CheckpointPath   string `yaml:"checkpoint_path" mapstructure:"checkpoint_path"`
	DLQMaxRetries    int    `yaml:"dlq_max_retries" mapstructure:"dlq_max_retries"`
}

// RosterConfig names the default company roster source. Commands accept
// flags that override these.
type RosterConfig struct {
	Path    string `yaml:"path" mapstructure:"path"`
	URL     string `yaml:"url" mapstructure:"url"`
	Column  string `yaml:"column" mapstructure:"column"`
	Sheet   string `yaml:"sheet" mapstructure:"sheet"`
	Charset string `yaml:"charset" mapstructure:"charset"`
}

// PersonasConfig points at an optional persona file merged over the
// built-in table.
type PersonasConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ExportConfig configures spreadsheet output.
type ExportConfig struct {
	Dir        string `yaml:"dir" mapstructure:"dir"`
	Format     string `yaml:"format" mapstructure:"format"`
	MaxPerFile int    `yaml:"max_per_file" mapstructure:"max_per_file"`
}

// ResilienceConfig tunes retry and circuit-breaker behavior for source calls.
type ResilienceConfig struct {
	Retry   RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Circuit CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
}

// RetryConfig tunes transient-failure retries.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig tunes the circuit breaker guarding the source.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// StoreConfig configures the database backend. Path is the SQLite file;
// DatabaseURL is the Postgres connection string.
type StoreConfig struct {
	Driver      string     `yaml:"driver" mapstructure:"driver"`
	Path        string     `yaml:"path" mapstructure:"path"`
	DatabaseURL string     `yaml:"database_url" mapstructure:"database_url"`
	Pool        PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// PoolConfig tunes the Postgres connection pool.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// PricingConfig holds credit pricing for the people-search source.
type PricingConfig struct {
	Apollo ApolloPricing `yaml:"apollo" mapstructure:"apollo"`
}

// ApolloPricing maps source operations to credit costs.
type ApolloPricing struct {
	PerSearchPage   float64 `yaml:"per_search_page" mapstructure:"per_search_page"`
	PerMatch        float64 `yaml:"per_match" mapstructure:"per_match"`
	PerReveal       float64 `yaml:"per_reveal" mapstructure:"per_reveal"`
	PlanMonthly     float64 `yaml:"plan_monthly" mapstructure:"plan_monthly"`
	CreditsIncluded float64 `yaml:"credits_included" mapstructure:"credits_included"`
}

// MonitoringConfig configures snapshot collection and webhook alerting.
type MonitoringConfig struct {
	WebhookURL                 string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CreditThreshold            float64 `yaml:"credit_threshold" mapstructure:"credit_threshold"`
	DLQDepthThreshold          int     `yaml:"dlq_depth_threshold" mapstructure:"dlq_depth_threshold"`
	HourlyUtilizationThreshold float64 `yaml:"hourly_utilization_threshold" mapstructure:"hourly_utilization_threshold"`
	CheckIntervalSecs          int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours        int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
}

// ServerConfig configures the HTTP trigger server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("PROSPECT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("apollo.base_url", "https://api.apollo.io/v1")
	v.SetDefault("rate_limit.max_requests", 50)
	v.SetDefault("rate_limit.window_secs", 60)
	v.SetDefault("search.page_cap", 100)
	v.SetDefault("search.partition_delay_ms", 2000)
	v.SetDefault("enrich.reveal_personal_emails", false)
	v.SetDefault("enrich.concurrency", 4)
	v.SetDefault("campaign.batch_size", 25)
	v.SetDefault("campaign.per_company", 100)
	v.SetDefault("campaign.hourly_request_cap", 200)
	v.SetDefault("campaign.batch_delay_secs", 5)
	v.SetDefault("campaign.checkpoint_path", "checkpoint.json")
	v.SetDefault("campaign.dlq_max_retries", 3)
	v.SetDefault("export.dir", "exports")
	v.SetDefault("export.format", "csv")
	v.SetDefault("export.max_per_file", 100)
	v.SetDefault("resilience.retry.max_attempts", 3)
	v.SetDefault("resilience.retry.initial_backoff_ms", 500)
	v.SetDefault("resilience.retry.max_backoff_ms", 30000)
	v.SetDefault("resilience.retry.multiplier", 2.0)
	v.SetDefault("resilience.retry.jitter_fraction", 0.25)
	v.SetDefault("resilience.circuit.failure_threshold", 5)
	v.SetDefault("resilience.circuit.reset_timeout_secs", 30)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "prospect.db")
	v.SetDefault("pricing.apollo.per_search_page", 1.00)
	v.SetDefault("pricing.apollo.per_match", 0.50)
	v.SetDefault("pricing.apollo.per_reveal", 1.00)
	v.SetDefault("pricing.apollo.plan_monthly", 49.00)
	v.SetDefault("pricing.apollo.credits_included", 6000)
	v.SetDefault("monitoring.hourly_utilization_threshold", 0.9)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("server.port", 8080)
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
