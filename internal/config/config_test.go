package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 90, cfg.Windows.BaselineDays)
	assert.Equal(t, 7, cfg.Windows.GapDays)
	assert.Equal(t, 7, cfg.Windows.CurrentDays)
	assert.Equal(t, 10, cfg.Confidence.MediumMin)
	assert.Equal(t, 30, cfg.Confidence.HighMin)
	assert.InDelta(t, 0.5, cfg.Drift.RelativeDenialThreshold, 0.001)
	assert.InDelta(t, 0.2, cfg.Drift.RelativeLatencyThreshold, 0.001)
	assert.InDelta(t, 3, cfg.Drift.MinLatencyDeltaDays, 0.001)
	assert.Equal(t, 5, cfg.Drift.MinCurrentSample)
	assert.Equal(t, 3, cfg.Drift.StreakThreshold)
	assert.False(t, cfg.Drift.AllowLowConfidence)
	assert.InDelta(t, 0.7, cfg.Drift.MagnitudeWeight, 0.001)
	assert.InDelta(t, 0.3, cfg.Drift.AmountWeight, 0.001)
	assert.Equal(t, 30, cfg.Engine.LockTimeoutSecs)
	assert.Equal(t, 5, cfg.Engine.MaxConcurrentTenants)
	assert.Equal(t, 24, cfg.Monitoring.LookbackHours)

	assert.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
  database_url: claims.db
windows:
  baseline_days: 60
  gap_days: 3
drift:
  relative_denial_threshold: 0.8
  streak_threshold: 5
  allow_low_confidence: true
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "claims.db", cfg.Store.DatabaseURL)
	assert.Equal(t, 60, cfg.Windows.BaselineDays)
	assert.Equal(t, 3, cfg.Windows.GapDays)
	assert.InDelta(t, 0.8, cfg.Drift.RelativeDenialThreshold, 0.001)
	assert.Equal(t, 5, cfg.Drift.StreakThreshold)
	assert.True(t, cfg.Drift.AllowLowConfidence)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Untouched keys keep defaults.
	assert.Equal(t, 7, cfg.Windows.CurrentDays)
	assert.Equal(t, 5, cfg.Drift.MinCurrentSample)
}

func TestValidate_Rejections(t *testing.T) {
	base := func() *Config {
		return &Config{
			Windows:    WindowConfig{BaselineDays: 90, GapDays: 7, CurrentDays: 7},
			Confidence: ConfidenceConfig{MediumMin: 10, HighMin: 30},
			Drift: DriftConfig{
				RelativeDenialThreshold:  0.5,
				RelativeLatencyThreshold: 0.2,
				MinCurrentSample:         5,
				StreakThreshold:          3,
				MagnitudeWeight:          0.7,
				AmountWeight:             0.3,
				MagnitudeCeiling:         2.0,
				AmountCeilingUSD:         50000,
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero baseline window", func(c *Config) { c.Windows.BaselineDays = 0 }},
		{"negative gap", func(c *Config) { c.Windows.GapDays = -1 }},
		{"inverted confidence cutoffs", func(c *Config) { c.Confidence.MediumMin = 50 }},
		{"zero denial threshold", func(c *Config) { c.Drift.RelativeDenialThreshold = 0 }},
		{"zero min sample", func(c *Config) { c.Drift.MinCurrentSample = 0 }},
		{"zero streak threshold", func(c *Config) { c.Drift.StreakThreshold = 0 }},
		{"negative weight", func(c *Config) { c.Drift.MagnitudeWeight = -0.1 }},
		{"all-zero weights", func(c *Config) { c.Drift.MagnitudeWeight = 0; c.Drift.AmountWeight = 0 }},
		{"zero amount ceiling", func(c *Config) { c.Drift.AmountCeilingUSD = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.Error(t, InitLogger(LogConfig{Level: "nope", Format: "json"}))

	// Restore a no-op logger so later tests don't write to stderr.
	zap.ReplaceGlobals(zap.NewNop())
}
