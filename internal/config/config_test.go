package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
cache:
  patient_ttl: 2m
aggregation:
  min_cohort: 10
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 2*time.Minute, cfg.Cache.PatientTTL.Std())
	assert.Equal(t, 10, cfg.Aggregation.MinCohort)
	// Untouched sections keep defaults.
	assert.Equal(t, time.Hour, cfg.Cache.PopulationTTL.Std())
	assert.Equal(t, "median_iqr", cfg.Aggregation.Default)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing_dsn", func(c *Config) { c.Database.DSN = "" }},
		{"redis_enabled_without_addr", func(c *Config) { c.Redis.Addr = "" }},
		{"zero_patient_ttl", func(c *Config) { c.Cache.PatientTTL = 0 }},
		{"zero_min_cohort", func(c *Config) { c.Aggregation.MinCohort = 0 }},
		{"zero_workers", func(c *Config) { c.Aggregation.Workers = 0 }},
		{"ratio_out_of_range", func(c *Config) { c.Interpret.ChangeFallbackRatio = 1.5 }},
		{"default_submissions_above_max", func(c *Config) { c.Review.DefaultSubmissions = 100 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
