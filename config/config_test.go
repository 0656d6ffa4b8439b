package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Symbol:               "BTCUSDT",
		InitialMode:          "LONG_SHORT",
		Leverage:             10,
		BasePositionSizeUSDT: 100,
		MaxSlotsPerSide:      3,
		Risk: &RiskConfig{
			IndividualStopLossPct:     2,
			TrailingStopActivationPct: 2,
			TrailingStopDistancePct:   1,
			GlobalStopLossPct:         10,
			GlobalTakeProfitPct:       15,
			SessionTimeLimitMinutes:   240,
			SessionTimeLimitAction:    "STOP",
		},
		Normal: &NormalConfig{
			HTTPTimeoutSeconds:       10,
			RecvWindowSeconds:        5,
			TickIntervalSeconds:      5,
			HeartbeatIntervalMinutes: 5,
			TimeSyncIntervalMinutes:  60,
			LogDirectory:             "logs",
			StateDirectory:           "state",
		},
		Logs: &LogConfig{
			LogLevel:   "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateRejectsMissingCriticalFields(t *testing.T) {
	c := validConfig()
	c.Symbol = ""
	assert.Error(t, c.Validate())

	c = validConfig()
	c.Leverage = 0
	assert.Error(t, c.Validate())

	c = validConfig()
	c.MaxSlotsPerSide = 0
	assert.Error(t, c.Validate())

	c = validConfig()
	c.InitialMode = "SIDEWAYS"
	assert.Error(t, c.Validate())

	c = validConfig()
	c.Normal.TickIntervalSeconds = 0
	assert.Error(t, c.Validate())

	c = validConfig()
	c.Logs.LogLevel = ""
	assert.Error(t, c.Validate())
}

func TestValidateRiskConsistency(t *testing.T) {
	c := validConfig()
	c.Risk.TrailingStopActivationPct = 2
	c.Risk.TrailingStopDistancePct = 0
	assert.Error(t, c.Validate())

	c = validConfig()
	c.Risk.SessionTimeLimitMinutes = 60
	c.Risk.SessionTimeLimitAction = "PAUSE"
	assert.Error(t, c.Validate())

	c = validConfig()
	c.Risk.SessionTimeLimitMinutes = 0
	c.Risk.SessionTimeLimitAction = ""
	assert.NoError(t, c.Validate())

	c = validConfig()
	c.Risk.GlobalStopLossPct = -1
	assert.Error(t, c.Validate())
}

func TestLoadConfigFromYAML(t *testing.T) {
	yaml := `
symbol: ETHUSDT
initial_mode: NEUTRAL
leverage: 5
base_position_size_usdt: 50
max_slots_per_side: 2
initial_capital_usdt: 2000
use_simulation: true
risk:
  individual_stop_loss_pct: 3
  trailing_stop_activation_pct: 2
  trailing_stop_distance_pct: 1
  global_stop_loss_pct: 8
  global_take_profit_pct: 12
  session_time_limit_minutes: 120
  session_time_limit_action: NEUTRAL
normal_config:
  http_timeout_seconds: 10
  recv_window_seconds: 5
  tick_interval_seconds: 3
  heartbeat_interval_minutes: 5
  time_sync_interval_minutes: 60
  log_directory: logs
  state_directory: state
logs:
  log_level: debug
  max_size_mb: 10
  max_backups: 3
  max_age_days: 7
  compress: true
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", cfg.Symbol)
	assert.Equal(t, "NEUTRAL", cfg.InitialMode)
	assert.InDelta(t, 2000, cfg.InitialCapitalUSDT, 1e-9)
	assert.True(t, cfg.UseSimulation)
	assert.InDelta(t, 3, cfg.Risk.IndividualStopLossPct, 1e-9)
	assert.Equal(t, "NEUTRAL", cfg.Risk.SessionTimeLimitAction)
	assert.Equal(t, 3, cfg.Normal.TickIntervalSeconds)
	assert.Equal(t, "debug", cfg.Logs.LogLevel)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadEnvConfigDefaults(t *testing.T) {
	t.Setenv("BYBIT_API_KEY", "k")
	t.Setenv("BYBIT_API_SECRET", "s")
	os.Unsetenv("BYBIT_BASE_URL")

	ec, err := LoadEnvConfig()
	require.NoError(t, err)
	assert.Equal(t, "k", ec.ApiKey)
	assert.Equal(t, "s", ec.ApiSecret)
	assert.Equal(t, "https://api.bybit.com", ec.BaseURL)
}

func TestEnvConfigPerAccountCredentials(t *testing.T) {
	ec := &EnvConfig{
		ApiKey:          "shared-key",
		ApiSecret:       "shared-secret",
		ShortsApiKey:    "shorts-key",
		ShortsApiSecret: "shorts-secret",
	}

	// Longs has no dedicated pair and falls back to the shared one.
	key, secret := ec.LongsCredentials()
	assert.Equal(t, "shared-key", key)
	assert.Equal(t, "shared-secret", secret)

	key, secret = ec.ShortsCredentials()
	assert.Equal(t, "shorts-key", key)
	assert.Equal(t, "shorts-secret", secret)

	// A key without its secret is incomplete and falls back too.
	ec.ShortsApiSecret = ""
	key, secret = ec.ShortsCredentials()
	assert.Equal(t, "shared-key", key)
	assert.Equal(t, "shared-secret", secret)
}
