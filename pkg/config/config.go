// Package config provides configuration loading and management for spimpreview.
// It handles the YAML settings file, the dims.txt geometry descriptors and the
// discovery of per-view files inside a SPIM output folder.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"spimpreview/internal/models"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Input locations
	Input struct {
		// SPIMFolder contains output/dims.txt, output/*.raw and output/masks/*.raw
		SPIMFolder string `yaml:"spimFolder"`

		// PSFFolder contains the per-view kernel files and their dims.txt
		PSFFolder string `yaml:"psfFolder"`
	} `yaml:"input"`

	// Preview controls the interactive recompute parameters
	Preview struct {
		// IterationType is one of INDEPENDENT, EFFICIENT_BAYESIAN, OPTIMIZATION_1, OPTIMIZATION_2
		IterationType string `yaml:"iterationType"`

		// Plane is the initially selected plane; negative selects the middle plane
		Plane int `yaml:"plane"`

		// Iterations is the initial iteration count
		Iterations int `yaml:"iterations"`

		// MaxIterations is the upper bound of the iteration slider
		MaxIterations int `yaml:"maxIterations"`

		// StatusBuffer is the capacity of the worker status event channel
		StatusBuffer int `yaml:"statusBuffer"`
	} `yaml:"preview"`

	// Output parameters
	Output struct {
		// SnapshotDir receives PNG renderings of the result frame; empty disables snapshots
		SnapshotDir string `yaml:"snapshotDir"`

		// SaveViews additionally renders the input views of the current plane
		SaveViews bool `yaml:"saveViews"`
	} `yaml:"output"`

	// Logging parameters
	Logging struct {
		// Level is a zerolog level name (debug, info, warn, error)
		Level string `yaml:"level"`

		// JSON switches from console output to JSON lines
		JSON bool `yaml:"json"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Preview.IterationType = models.DefaultKernelMode.String()
	cfg.Preview.Plane = -1
	cfg.Preview.Iterations = 5
	cfg.Preview.MaxIterations = 50
	cfg.Preview.StatusBuffer = 16

	cfg.Logging.Level = "info"

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}

// Validate checks the settings that must hold before a preview session starts
func (c *Config) Validate() error {
	if c.Input.SPIMFolder == "" {
		return &ConfigurationError{Source: "config", Reason: "input.spimFolder is required"}
	}
	if c.Input.PSFFolder == "" {
		return &ConfigurationError{Source: "config", Reason: "input.psfFolder is required"}
	}
	if _, err := models.ParseKernelMode(c.Preview.IterationType); err != nil {
		return &ConfigurationError{Source: "config", Reason: "preview.iterationType", Err: err}
	}
	if c.Preview.MaxIterations <= 0 {
		return &ConfigurationError{Source: "config", Reason: "preview.maxIterations must be > 0"}
	}
	if c.Preview.Iterations < 0 || c.Preview.Iterations > c.Preview.MaxIterations {
		return &ConfigurationError{
			Source: "config",
			Reason: fmt.Sprintf("preview.iterations must be within 0..%d", c.Preview.MaxIterations),
		}
	}
	if c.Preview.StatusBuffer <= 0 {
		c.Preview.StatusBuffer = 16
	}
	return nil
}

// KernelMode returns the parsed iteration strategy
func (c *Config) KernelMode() models.KernelMode {
	mode, err := models.ParseKernelMode(c.Preview.IterationType)
	if err != nil {
		return models.DefaultKernelMode
	}
	return mode
}
