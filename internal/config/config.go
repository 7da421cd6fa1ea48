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
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Windows    WindowConfig     `yaml:"windows" mapstructure:"windows"`
	Confidence ConfidenceConfig `yaml:"confidence" mapstructure:"confidence"`
	Drift      DriftConfig      `yaml:"drift" mapstructure:"drift"`
	Engine     EngineConfig     `yaml:"engine" mapstructure:"engine"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string     `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string     `yaml:"database_url" mapstructure:"database_url"`
	Pool        PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// WindowConfig configures the comparison windows. The baseline window ends
// GapDays before the as-of instant so the baseline is not contaminated by the
// drift being measured; the current window is the trailing CurrentDays.
type WindowConfig struct {
	BaselineDays int `yaml:"baseline_days" mapstructure:"baseline_days"`
	GapDays      int `yaml:"gap_days" mapstructure:"gap_days"`
	CurrentDays  int `yaml:"current_days" mapstructure:"current_days"`
}

// ConfidenceConfig sets the sample-size cutoffs for baseline confidence
// tiers. MediumMin must not exceed HighMin; the mapping is monotonic.
type ConfidenceConfig struct {
	MediumMin int `yaml:"medium_min" mapstructure:"medium_min"`
	HighMin   int `yaml:"high_min" mapstructure:"high_min"`
}

// DriftConfig holds the detection thresholds and severity weights. Named
// fields rather than a generic key-value map so an invalid configuration is
// rejected at startup, not mid-pass.
type DriftConfig struct {
	RelativeDenialThreshold  float64 `yaml:"relative_denial_threshold" mapstructure:"relative_denial_threshold"`
	RelativeLatencyThreshold float64 `yaml:"relative_latency_threshold" mapstructure:"relative_latency_threshold"`
	MinLatencyDeltaDays      float64 `yaml:"min_latency_delta_days" mapstructure:"min_latency_delta_days"`
	MinCurrentSample         int     `yaml:"min_current_sample" mapstructure:"min_current_sample"`
	StreakThreshold          int     `yaml:"streak_threshold" mapstructure:"streak_threshold"`
	AllowLowConfidence       bool    `yaml:"allow_low_confidence" mapstructure:"allow_low_confidence"`

	// Severity scoring: score = magnitude_weight*normalized_magnitude +
	// amount_weight*normalized_dollar_exposure, both clamped to [0,1].
	MagnitudeWeight  float64 `yaml:"magnitude_weight" mapstructure:"magnitude_weight"`
	AmountWeight     float64 `yaml:"amount_weight" mapstructure:"amount_weight"`
	MagnitudeCeiling float64 `yaml:"magnitude_ceiling" mapstructure:"magnitude_ceiling"`
	AmountCeilingUSD float64 `yaml:"amount_ceiling_usd" mapstructure:"amount_ceiling_usd"`
}

// EngineConfig configures the run coordinator.
type EngineConfig struct {
	LockTimeoutSecs      int `yaml:"lock_timeout_secs" mapstructure:"lock_timeout_secs"`
	MaxConcurrentTenants int `yaml:"max_concurrent_tenants" mapstructure:"max_concurrent_tenants"`
}

// MonitoringConfig configures the status snapshot.
type MonitoringConfig struct {
	LookbackHours int `yaml:"lookback_hours" mapstructure:"lookback_hours"`
}

// ServerConfig configures the HTTP trigger/read API.
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
	v.SetEnvPrefix("CLAIMWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 2)
	v.SetDefault("windows.baseline_days", 90)
	v.SetDefault("windows.gap_days", 7)
	v.SetDefault("windows.current_days", 7)
	v.SetDefault("confidence.medium_min", 10)
	v.SetDefault("confidence.high_min", 30)
	v.SetDefault("drift.relative_denial_threshold", 0.5)
	v.SetDefault("drift.relative_latency_threshold", 0.2)
	v.SetDefault("drift.min_latency_delta_days", 3)
	v.SetDefault("drift.min_current_sample", 5)
	v.SetDefault("drift.streak_threshold", 3)
	v.SetDefault("drift.allow_low_confidence", false)
	v.SetDefault("drift.magnitude_weight", 0.7)
	v.SetDefault("drift.amount_weight", 0.3)
	v.SetDefault("drift.magnitude_ceiling", 2.0)
	v.SetDefault("drift.amount_ceiling_usd", 50000)
	v.SetDefault("engine.lock_timeout_secs", 30)
	v.SetDefault("engine.max_concurrent_tenants", 5)
	v.SetDefault("monitoring.lookback_hours", 24)
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

// Validate checks the cross-field constraints that viper cannot express.
func (c *Config) Validate() error {
	if c.Windows.BaselineDays <= 0 || c.Windows.CurrentDays <= 0 {
		return eris.New("config: window lengths must be positive")
	}
	if c.Windows.GapDays < 0 {
		return eris.New("config: gap_days must not be negative")
	}
	if c.Confidence.MediumMin > c.Confidence.HighMin {
		return eris.New("config: confidence medium_min must not exceed high_min")
	}
	if c.Drift.RelativeDenialThreshold <= 0 || c.Drift.RelativeLatencyThreshold <= 0 {
		return eris.New("config: relative drift thresholds must be positive")
	}
	if c.Drift.MinCurrentSample < 1 {
		return eris.New("config: min_current_sample must be at least 1")
	}
	if c.Drift.StreakThreshold < 1 {
		return eris.New("config: streak_threshold must be at least 1")
	}
	if c.Drift.MagnitudeWeight < 0 || c.Drift.AmountWeight < 0 {
		return eris.New("config: severity weights must not be negative")
	}
	if c.Drift.MagnitudeWeight+c.Drift.AmountWeight == 0 {
		return eris.New("config: at least one severity weight must be positive")
	}
	if c.Drift.MagnitudeCeiling <= 0 || c.Drift.AmountCeilingUSD <= 0 {
		return eris.New("config: severity ceilings must be positive")
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
