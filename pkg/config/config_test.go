package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tilereg/pkg/registration"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	p, err := cfg.RegistrationParams()
	require.NoError(t, err)
	assert.Equal(t, 15.0, p.MaxShift)
	assert.Equal(t, 8, p.Graph.Neighborhood)
	assert.Equal(t, registration.RegionCenter, p.Cycle.Region)
	assert.Equal(t, 0.5, p.Cycle.CenterFraction)
	assert.Equal(t, registration.ShiftReject, p.Cycle.ShiftPolicy)
	assert.Nil(t, p.Logger)
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tilereg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
registration:
  alignChannel: 1
  maxShift: 4.5
  filterSigma: 1.5
  whiten: true
  neighborhood: 4
cycle:
  region: full
  centerFraction: 0.3
  shiftPolicy: clamp
  refineTiles: true
mosaic:
  blend: mean
  channels: [0, 2]
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	p, err := cfg.RegistrationParams()
	require.NoError(t, err)
	assert.Equal(t, 1, p.AlignChannel)
	assert.Equal(t, 4.5, p.MaxShift)
	assert.Equal(t, 1.5, p.Filter.Sigma)
	assert.True(t, p.Filter.Whiten)
	assert.Equal(t, 4, p.Graph.Neighborhood)
	assert.Equal(t, registration.RegionFull, p.Cycle.Region)
	assert.Equal(t, 0.3, p.Cycle.CenterFraction)
	assert.Equal(t, registration.ShiftClamp, p.Cycle.ShiftPolicy)
	assert.True(t, p.Cycle.RefineTiles)

	assert.Equal(t, []int{0, 2}, cfg.Mosaic.Channels)
	// Untouched sections keep their defaults
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "cycle{cycle}_channel{channel}.tif", cfg.Mosaic.FilenameTemplate)
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("registration: [unclosed"), 0644))
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"max shift", func(c *Config) { c.Registration.MaxShift = 0 }},
		{"region", func(c *Config) { c.Cycle.Region = "corner" }},
		{"policy", func(c *Config) { c.Cycle.ShiftPolicy = "ignore" }},
		{"blend", func(c *Config) { c.Mosaic.Blend = "median" }},
		{"neighborhood", func(c *Config) { c.Registration.Neighborhood = 6 }},
		{"center fraction", func(c *Config) { c.Cycle.Region = "center"; c.Cycle.CenterFraction = 1.5 }},
		{"preview scale", func(c *Config) { c.Preview.Enabled = true; c.Preview.Scale = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tilereg.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg.Storage.Database = "runs.db"
	require.NoError(t, SaveConfig(cfg, path))
	again, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "runs.db", again.Storage.Database)
}
