// config/config.go
package config

import (
	"fmt"
	"io/ioutil"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// RiskConfig holds the session risk-control parameters.
type RiskConfig struct {
	IndividualStopLossPct     float64 `yaml:"individual_stop_loss_pct"`
	TrailingStopActivationPct float64 `yaml:"trailing_stop_activation_pct"`
	TrailingStopDistancePct   float64 `yaml:"trailing_stop_distance_pct"`
	GlobalStopLossPct         float64 `yaml:"global_stop_loss_pct"`
	GlobalTakeProfitPct       float64 `yaml:"global_take_profit_pct"`
	SessionTimeLimitMinutes   float64 `yaml:"session_time_limit_minutes"`
	SessionTimeLimitAction    string  `yaml:"session_time_limit_action"`
}

// LogConfig holds the configuration for logging.
type LogConfig struct {
	LogLevel   string `yaml:"log_level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// NormalConfig holds all general, non-strategy-specific configuration.
type NormalConfig struct {
	HTTPTimeoutSeconds       int    `yaml:"http_timeout_seconds"`
	RecvWindowSeconds        int    `yaml:"recv_window_seconds"`
	TickIntervalSeconds      int    `yaml:"tick_interval_seconds"`
	HeartbeatIntervalMinutes int    `yaml:"heartbeat_interval_minutes"`
	TimeSyncIntervalMinutes  int    `yaml:"time_sync_interval_minutes"`
	LogDirectory             string `yaml:"log_directory"`
	StateDirectory           string `yaml:"state_directory"`
}

// Config is the top-level configuration structure.
type Config struct {
	Symbol               string        `yaml:"symbol"`
	InitialMode          string        `yaml:"initial_mode"`
	Leverage             float64       `yaml:"leverage"`
	BasePositionSizeUSDT float64       `yaml:"base_position_size_usdt"`
	MaxSlotsPerSide      int           `yaml:"max_slots_per_side"`
	InitialCapitalUSDT   float64       `yaml:"initial_capital_usdt"` // 0 = snapshot exchange equity at startup
	UseSimulation        bool          `yaml:"use_simulation"`
	Risk                 *RiskConfig   `yaml:"risk"`
	Normal               *NormalConfig `yaml:"normal_config"`
	Logs                 *LogConfig    `yaml:"logs"`
}

// NewConfig creates a new Config struct with essential allocations but no magic numbers.
// All critical trading parameters MUST be provided in the config.yaml file.
func NewConfig() *Config {
	return &Config{
		// Set only safe, non-strategy defaults
		InitialMode:   "NEUTRAL",
		UseSimulation: false,
		// Allocate memory for nested structs, but their fields will be zero-valued.
		// Validation will ensure they are populated from the YAML file.
		Risk:   &RiskConfig{},
		Normal: &NormalConfig{},
		Logs:   &LogConfig{},
	}
}

// LoadConfig loads configuration from a given path, applies defaults, and validates it.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()

	data, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("Error: Config file config.yaml not found at %s. Program cannot run without a config file", path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}

	if cfg.Risk == nil {
		cfg.Risk = &RiskConfig{}
	}
	if cfg.Normal == nil {
		cfg.Normal = &NormalConfig{}
	}
	if cfg.Logs == nil {
		cfg.Logs = &LogConfig{}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks the logical consistency and completeness of the entire configuration.
func (c *Config) Validate() error {
	// Top-level validation
	if c.Symbol == "" {
		return fmt.Errorf("Critical config missing: 'symbol' must be explicitly specified in config.yaml")
	}
	switch c.InitialMode {
	case "LONG_SHORT", "LONG_ONLY", "SHORT_ONLY", "NEUTRAL":
	default:
		return fmt.Errorf("Config error: initial_mode must be one of LONG_SHORT, LONG_ONLY, SHORT_ONLY, NEUTRAL")
	}
	if c.Leverage <= 0 {
		return fmt.Errorf("Critical config missing: 'leverage' must be explicitly specified in config.yaml and be positive")
	}
	if c.BasePositionSizeUSDT <= 0 {
		return fmt.Errorf("Critical config missing: 'base_position_size_usdt' must be explicitly specified in config.yaml and be positive")
	}
	if c.MaxSlotsPerSide <= 0 {
		return fmt.Errorf("Critical config missing: 'max_slots_per_side' must be explicitly specified in config.yaml and be positive")
	}
	if c.InitialCapitalUSDT < 0 {
		return fmt.Errorf("Config error: initial_capital_usdt cannot be negative")
	}

	// Risk validation
	if c.Risk.IndividualStopLossPct < 0 {
		return fmt.Errorf("Config error: risk.individual_stop_loss_pct cannot be negative")
	}
	if c.Risk.TrailingStopActivationPct < 0 || c.Risk.TrailingStopDistancePct < 0 {
		return fmt.Errorf("Config error: trailing stop percentages cannot be negative")
	}
	if c.Risk.TrailingStopActivationPct > 0 && c.Risk.TrailingStopDistancePct <= 0 {
		return fmt.Errorf("Config error: risk.trailing_stop_distance_pct must be positive when activation is enabled")
	}
	if c.Risk.GlobalStopLossPct < 0 {
		return fmt.Errorf("Config error: risk.global_stop_loss_pct cannot be negative")
	}
	if c.Risk.GlobalTakeProfitPct < 0 {
		return fmt.Errorf("Config error: risk.global_take_profit_pct cannot be negative")
	}
	if c.Risk.SessionTimeLimitMinutes < 0 {
		return fmt.Errorf("Config error: risk.session_time_limit_minutes cannot be negative")
	}
	if c.Risk.SessionTimeLimitMinutes > 0 {
		if c.Risk.SessionTimeLimitAction != "STOP" && c.Risk.SessionTimeLimitAction != "NEUTRAL" {
			return fmt.Errorf("Config error: risk.session_time_limit_action must be 'STOP' or 'NEUTRAL' when a time limit is set")
		}
	}

	// Normal validation
	if c.Normal.HTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("Critical config missing: 'normal_config.http_timeout_seconds' must be explicitly specified in config.yaml and be positive")
	}
	if c.Normal.RecvWindowSeconds <= 0 {
		return fmt.Errorf("Critical config missing: 'normal_config.recv_window_seconds' must be explicitly specified in config.yaml and be positive")
	}
	if c.Normal.TickIntervalSeconds <= 0 {
		return fmt.Errorf("Critical config missing: 'normal_config.tick_interval_seconds' must be explicitly specified in config.yaml and be positive")
	}
	if c.Normal.HeartbeatIntervalMinutes <= 0 {
		return fmt.Errorf("Critical config missing: 'normal_config.heartbeat_interval_minutes' must be explicitly specified in config.yaml and be positive")
	}
	if c.Normal.TimeSyncIntervalMinutes <= 0 {
		return fmt.Errorf("Critical config missing: 'normal_config.time_sync_interval_minutes' must be explicitly specified in config.yaml and be positive")
	}
	if c.Normal.LogDirectory == "" {
		return fmt.Errorf("Critical config missing: 'normal_config.log_directory' must be explicitly specified in config.yaml (e.g., 'logs')")
	}
	if c.Normal.StateDirectory == "" {
		return fmt.Errorf("Critical config missing: 'normal_config.state_directory' must be explicitly specified in config.yaml (e.g., 'state')")
	}

	// Logs validation
	if c.Logs.LogLevel == "" {
		return fmt.Errorf("Critical config missing: 'logs.log_level' must be explicitly specified in config.yaml (e.g., 'info', 'debug', 'warn', 'error')")
	}
	if c.Logs.MaxSizeMB <= 0 {
		return fmt.Errorf("Critical config missing: 'logs.max_size_mb' must be explicitly specified in config.yaml and be positive")
	}
	if c.Logs.MaxBackups <= 0 {
		return fmt.Errorf("Critical config missing: 'logs.max_backups' must be explicitly specified in config.yaml and be positive")
	}
	if c.Logs.MaxAgeDays <= 0 {
		return fmt.Errorf("Critical config missing: 'logs.max_age_days' must be explicitly specified in config.yaml and be positive")
	}

	return nil
}

// EnvConfig carries the API credentials, loaded from the environment. The
// longs and shorts trading accounts can each have their own key pair; when a
// per-account pair is absent, the shared BYBIT_API_KEY/SECRET pair is used
// for that account.
type EnvConfig struct {
	ApiKey    string `envconfig:"BYBIT_API_KEY"`
	ApiSecret string `envconfig:"BYBIT_API_SECRET"`

	LongsApiKey     string `envconfig:"BYBIT_LONGS_API_KEY"`
	LongsApiSecret  string `envconfig:"BYBIT_LONGS_API_SECRET"`
	ShortsApiKey    string `envconfig:"BYBIT_SHORTS_API_KEY"`
	ShortsApiSecret string `envconfig:"BYBIT_SHORTS_API_SECRET"`

	BaseURL string `envconfig:"BYBIT_BASE_URL" default:"https://api.bybit.com"`
}

// LongsCredentials resolves the key pair for the longs account.
func (ec *EnvConfig) LongsCredentials() (string, string) {
	if ec.LongsApiKey != "" && ec.LongsApiSecret != "" {
		return ec.LongsApiKey, ec.LongsApiSecret
	}
	return ec.ApiKey, ec.ApiSecret
}

// ShortsCredentials resolves the key pair for the shorts account.
func (ec *EnvConfig) ShortsCredentials() (string, string) {
	if ec.ShortsApiKey != "" && ec.ShortsApiSecret != "" {
		return ec.ShortsApiKey, ec.ShortsApiSecret
	}
	return ec.ApiKey, ec.ApiSecret
}

// LoadEnvConfig parses credentials from environment variables. Presence of
// the key/secret is only enforced at startup for live (non-simulation) runs.
func LoadEnvConfig() (*EnvConfig, error) {
	var ec EnvConfig
	if err := envconfig.Process("", &ec); err != nil {
		return nil, fmt.Errorf("failed to parse environment config: %w", err)
	}
	return &ec, nil
}
