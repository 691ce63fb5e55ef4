package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration struct for the application.
// It holds settings for logging, the API, the document store, the transfer
// bus, and the analysis pipeline. Tags are used by Viper to map YAML keys to
// struct fields.
type Config struct {
	LogLevel      string             `mapstructure:"log_level"`
	APIPort       string             `mapstructure:"api_port"`
	Store         StoreConfig        `mapstructure:"store"`
	Transfer      TransferConfig     `mapstructure:"transfer"`
	Analysis      AnalysisConfig     `mapstructure:"analysis"`
	Performance   PerformanceConfig  `mapstructure:"performance"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Detectors     []DetectorConfig   `mapstructure:"detectors"`
}

// StoreConfig selects and configures the document store backend.
type StoreConfig struct {
	Backend  string `mapstructure:"backend"` // "memory" or "mongo"
	MongoURI string `mapstructure:"mongo_uri"`
	Database string `mapstructure:"database"`
}

// TransferConfig configures the inter-agent transfer bus.
type TransferConfig struct {
	NATSURL        string `mapstructure:"nats_url"` // empty disables remote tools
	RequestTimeout string `mapstructure:"request_timeout"`
}

// AnalysisConfig holds the escalation thresholds for the analysis agent.
// Both thresholds are confidence values in [0,1].
type AnalysisConfig struct {
	AutoRemediateThreshold float64 `mapstructure:"auto_remediate_threshold"`
	CriticalAlertThreshold float64 `mapstructure:"critical_alert_threshold"`
	CorrelationWindow      string  `mapstructure:"correlation_window"`
}

// PerformanceConfig configures the caching, batching and rate-limiting layer
// in front of the AI backend. A rate cap of 0 means unlimited.
type PerformanceConfig struct {
	CacheEnabled      bool   `mapstructure:"cache_enabled"`
	CacheTTL          string `mapstructure:"cache_ttl"`
	CacheMaxSize      int    `mapstructure:"cache_max_size"`
	BatchSize         int    `mapstructure:"batch_size"`
	BatchTimeout      string `mapstructure:"batch_timeout"`
	RateLimitEnabled  bool   `mapstructure:"rate_limit_enabled"`
	MaxCallsPerMinute int    `mapstructure:"max_calls_per_minute"` // 0 = unlimited
	MaxCallsPerHour   int    `mapstructure:"max_calls_per_hour"`   // 0 = unlimited
}

// NotificationConfig configures the human notification dispatcher.
// MaxAlertsPerHour of 0 means unlimited.
type NotificationConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	QuietHoursStart  string `mapstructure:"quiet_hours_start"` // "22:00"
	QuietHoursEnd    string `mapstructure:"quiet_hours_end"`   // "06:00"
	MaxAlertsPerHour int    `mapstructure:"max_alerts_per_hour"`
}

// DetectorConfig defines the configuration for a single detection agent.
type DetectorConfig struct {
	Name     string `mapstructure:"name"`
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"`
}

// LoadConfig reads the configuration from a YAML file (e.g., config.yaml) and
// environment variables. It uses Viper for robust configuration management,
// allowing for defaults and environment variable overrides. The returned
// config has already passed Validate; an invalid config is an error, never a
// silently-corrected default.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config") // config.yaml
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/praetor/")

	v.SetDefault("log_level", "info")
	v.SetDefault("api_port", "8080")
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.database", "praetor")
	v.SetDefault("transfer.request_timeout", "5s")
	v.SetDefault("analysis.auto_remediate_threshold", 0.8)
	v.SetDefault("analysis.critical_alert_threshold", 0.9)
	v.SetDefault("analysis.correlation_window", "30m")
	v.SetDefault("performance.cache_enabled", true)
	v.SetDefault("performance.cache_ttl", "1h")
	v.SetDefault("performance.cache_max_size", 1000)
	v.SetDefault("performance.batch_size", 5)
	v.SetDefault("performance.batch_timeout", "2s")
	v.SetDefault("performance.rate_limit_enabled", true)
	v.SetDefault("performance.max_calls_per_minute", 60)
	v.SetDefault("performance.max_calls_per_hour", 1000)
	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.max_alerts_per_hour", 0)

	v.SetEnvPrefix("PRAETOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("Config file not found, using defaults and environment variables.")
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration for programmer/operator errors. These are
// fatal at startup: a threshold outside [0,1] or a negative rate cap is a
// misconfiguration, not something to be silently defaulted.
func (c *Config) Validate() error {
	if c.Analysis.AutoRemediateThreshold < 0 || c.Analysis.AutoRemediateThreshold > 1 {
		return fmt.Errorf("analysis.auto_remediate_threshold must be in [0,1], got %v", c.Analysis.AutoRemediateThreshold)
	}
	if c.Analysis.CriticalAlertThreshold < 0 || c.Analysis.CriticalAlertThreshold > 1 {
		return fmt.Errorf("analysis.critical_alert_threshold must be in [0,1], got %v", c.Analysis.CriticalAlertThreshold)
	}
	if _, err := time.ParseDuration(c.Analysis.CorrelationWindow); err != nil {
		return fmt.Errorf("analysis.correlation_window: %w", err)
	}
	if ttl, err := time.ParseDuration(c.Performance.CacheTTL); err != nil {
		return fmt.Errorf("performance.cache_ttl: %w", err)
	} else if ttl <= 0 {
		return fmt.Errorf("performance.cache_ttl must be positive, got %s", ttl)
	}
	if c.Performance.CacheMaxSize < 1 {
		return fmt.Errorf("performance.cache_max_size must be at least 1, got %d", c.Performance.CacheMaxSize)
	}
	if c.Performance.BatchSize < 1 {
		return fmt.Errorf("performance.batch_size must be at least 1, got %d", c.Performance.BatchSize)
	}
	if _, err := time.ParseDuration(c.Performance.BatchTimeout); err != nil {
		return fmt.Errorf("performance.batch_timeout: %w", err)
	}
	// 0 is the documented "unlimited" sentinel for every frequency cap;
	// negative values are always rejected.
	if c.Performance.MaxCallsPerMinute < 0 {
		return fmt.Errorf("performance.max_calls_per_minute must not be negative, got %d", c.Performance.MaxCallsPerMinute)
	}
	if c.Performance.MaxCallsPerHour < 0 {
		return fmt.Errorf("performance.max_calls_per_hour must not be negative, got %d", c.Performance.MaxCallsPerHour)
	}
	if c.Notifications.MaxAlertsPerHour < 0 {
		return fmt.Errorf("notifications.max_alerts_per_hour must not be negative, got %d", c.Notifications.MaxAlertsPerHour)
	}
	if err := validateClock(c.Notifications.QuietHoursStart); err != nil {
		return fmt.Errorf("notifications.quiet_hours_start: %w", err)
	}
	if err := validateClock(c.Notifications.QuietHoursEnd); err != nil {
		return fmt.Errorf("notifications.quiet_hours_end: %w", err)
	}
	switch c.Store.Backend {
	case "memory":
	case "mongo":
		if c.Store.MongoURI == "" {
			return fmt.Errorf("store.mongo_uri is required when store.backend is mongo")
		}
	default:
		return fmt.Errorf("store.backend must be \"memory\" or \"mongo\", got %q", c.Store.Backend)
	}
	for _, d := range c.Detectors {
		if d.Interval == "" {
			continue
		}
		if _, err := time.ParseDuration(d.Interval); err != nil {
			return fmt.Errorf("detector %q interval: %w", d.Name, err)
		}
	}
	return nil
}

// GetDetectorConfig returns the configuration for a named detector, or nil.
func (c *Config) GetDetectorConfig(name string) *DetectorConfig {
	for i := range c.Detectors {
		if c.Detectors[i].Name == name {
			return &c.Detectors[i]
		}
	}
	return nil
}

func validateClock(s string) error {
	if s == "" {
		return nil
	}
	if _, err := time.Parse("15:04", s); err != nil {
		return fmt.Errorf("must be HH:MM, got %q", s)
	}
	return nil
}
