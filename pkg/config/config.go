// Package config provides configuration loading and management for tilereg.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"tilereg/pkg/correlate"
	"tilereg/pkg/mosaic"
	"tilereg/pkg/registration"
	"tilereg/pkg/tilegraph"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Registration parameters
	Registration struct {
		// AlignChannel is the channel used for all correlations
		AlignChannel int `yaml:"alignChannel"`

		// MaxShift is the largest trusted correction in microns
		MaxShift float64 `yaml:"maxShift"`

		// FilterSigma is the Gaussian blur applied before correlation, in pixels
		FilterSigma float64 `yaml:"filterSigma"`

		// Whiten applies a Laplacian high-pass before correlation
		Whiten bool `yaml:"whiten"`

		// Subpixel enables parabolic peak refinement
		Subpixel bool `yaml:"subpixel"`

		// Neighborhood is 4 or 8, the grid neighbours tested for overlap
		Neighborhood int `yaml:"neighborhood"`

		// AdjacencyRadius limits overlap candidates on irregular layouts, in pixels
		AdjacencyRadius float64 `yaml:"adjacencyRadius"`

		// NumWorkers specifies how many goroutines align overlaps
		NumWorkers int `yaml:"numWorkers"`
	} `yaml:"registration"`

	// Cross-cycle alignment parameters
	Cycle struct {
		// Region is "full" or "center"
		Region string `yaml:"region"`

		// CenterFraction is the crop size per axis for the center region
		CenterFraction float64 `yaml:"centerFraction"`

		// ShiftPolicy is "reject" or "clamp"
		ShiftPolicy string `yaml:"shiftPolicy"`

		// RefineTiles aligns every tile against the reference mosaic
		RefineTiles bool `yaml:"refineTiles"`
	} `yaml:"cycle"`

	// Mosaic output parameters
	Mosaic struct {
		// Enabled controls whether composited rasters are written
		Enabled bool `yaml:"enabled"`

		// Blend is "max", "mean" or "overwrite"
		Blend string `yaml:"blend"`

		// OutputDir is where mosaics are written
		OutputDir string `yaml:"outputDir"`

		// FilenameTemplate names mosaics using {cycle} and {channel}
		FilenameTemplate string `yaml:"filenameTemplate"`

		// Channels lists the channels to write; empty writes all of them
		Channels []int `yaml:"channels,omitempty"`
	} `yaml:"mosaic"`

	// Logging parameters
	Logging struct {
		// Level is debug, info, warn or error
		Level string `yaml:"level"`

		// Format is text or json for console output
		Format string `yaml:"format"`

		// FileOutput additionally writes a daily log file to LogDir
		FileOutput bool `yaml:"fileOutput"`

		LogDir string `yaml:"logDir"`
	} `yaml:"logging"`

	// Storage parameters
	Storage struct {
		// Database is the SQLite file receiving run results; empty disables it
		Database string `yaml:"database"`
	} `yaml:"storage"`

	// Preview parameters
	Preview struct {
		// Enabled writes a PNG of the tile layout for every cycle
		Enabled bool `yaml:"enabled"`

		Dir string `yaml:"dir"`

		// Scale is the preview size relative to the mosaic
		Scale float64 `yaml:"scale"`
	} `yaml:"preview"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default registration parameters
	cfg.Registration.AlignChannel = 0
	cfg.Registration.MaxShift = 15
	cfg.Registration.FilterSigma = 0
	cfg.Registration.Whiten = false
	cfg.Registration.Subpixel = false
	cfg.Registration.Neighborhood = 8
	cfg.Registration.AdjacencyRadius = 0
	cfg.Registration.NumWorkers = runtime.NumCPU() // Use all available cores by default

	// Set default cycle alignment parameters
	cfg.Cycle.Region = "center"
	cfg.Cycle.CenterFraction = 0.5
	cfg.Cycle.ShiftPolicy = "reject"
	cfg.Cycle.RefineTiles = false

	// Set default mosaic parameters
	cfg.Mosaic.Enabled = true
	cfg.Mosaic.Blend = "max"
	cfg.Mosaic.OutputDir = "mosaics"
	cfg.Mosaic.FilenameTemplate = mosaic.DefaultTemplate

	// Set default logging parameters
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	cfg.Logging.FileOutput = false
	cfg.Logging.LogDir = "logs"

	// Set default preview parameters
	cfg.Preview.Enabled = false
	cfg.Preview.Dir = "previews"
	cfg.Preview.Scale = 0.25

	return cfg
}

// Validate checks values that cannot be caught by YAML parsing
func (c *Config) Validate() error {
	if _, err := c.RegistrationParams(); err != nil {
		return err
	}
	if _, err := mosaic.ParseBlend(c.Mosaic.Blend); err != nil {
		return err
	}
	if n := c.Registration.Neighborhood; n != 0 && n != 4 && n != 8 {
		return fmt.Errorf("invalid neighborhood: %d (must be 4 or 8)", n)
	}
	if c.Preview.Enabled && c.Preview.Scale <= 0 {
		return fmt.Errorf("invalid preview scale: %g", c.Preview.Scale)
	}
	return nil
}

// RegistrationParams maps the registration and cycle sections onto
// registration.Params. The logger is left unset.
func (c *Config) RegistrationParams() (registration.Params, error) {
	p := registration.DefaultParams()
	r := c.Registration
	p.AlignChannel = r.AlignChannel
	p.MaxShift = r.MaxShift
	p.Filter = correlate.Filter{Sigma: r.FilterSigma, Whiten: r.Whiten}
	p.Subpixel = r.Subpixel
	p.Graph = tilegraph.Options{Neighborhood: r.Neighborhood, AdjacencyRadius: r.AdjacencyRadius}
	p.NumWorkers = r.NumWorkers

	region, err := registration.ParseRegion(c.Cycle.Region)
	if err != nil {
		return p, err
	}
	policy, err := registration.ParseShiftPolicy(c.Cycle.ShiftPolicy)
	if err != nil {
		return p, err
	}
	p.Cycle = registration.CycleParams{
		Region:         region,
		CenterFraction: c.Cycle.CenterFraction,
		ShiftPolicy:    policy,
		RefineTiles:    c.Cycle.RefineTiles,
	}
	return p, p.Validate()
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
