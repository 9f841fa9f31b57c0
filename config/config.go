// Package config loads the adapter configuration file: the YAML
// document (top-level key "adapter") describing the query server port,
// default row pattern, row check distance, bank and hammering mode.
// Validation happens once at load time rather than being deferred to
// first use, the same way settings.Settings.Validate front-loads board
// configuration mistakes.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Adapter is the "adapter:" section of the configuration file
// (spec.md §6).
type Adapter struct {
	Port             uint16 `yaml:"port"`
	RowPattern       string `yaml:"row_pattern"`
	RowCheckDistance uint32 `yaml:"row_check_distance"`
	Bank             uint32 `yaml:"bank"`
	HammeringMode    string `yaml:"hammering_mode"`
}

// Config is the top-level configuration document.
type Config struct {
	Adapter Adapter `yaml:"adapter"`
}

// ConfigError indicates a missing or invalid configuration key,
// detected at load time.
type ConfigError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// defaultPort is used when the config file omits adapter.port.
const defaultPort = 4343

var validPatterns = map[string]bool{"all_0": true, "all_1": true, "striped": true}
var validModes = map[string]bool{"sequential": true, "interleaving": true}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ConfigError{Field: "path", Reason: err.Error()}
	}
	return Parse(data)
}

// Parse validates and unmarshals a YAML configuration document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, ConfigError{Field: "adapter", Reason: err.Error()}
	}
	if cfg.Adapter.Port == 0 {
		cfg.Adapter.Port = defaultPort
	}
	if cfg.Adapter.RowPattern == "" {
		cfg.Adapter.RowPattern = "all_0"
	}
	if !validPatterns[cfg.Adapter.RowPattern] {
		return nil, ConfigError{Field: "adapter.row_pattern", Reason: fmt.Sprintf("unsupported pattern %q", cfg.Adapter.RowPattern)}
	}
	if cfg.Adapter.HammeringMode == "" {
		cfg.Adapter.HammeringMode = "sequential"
	}
	if !validModes[cfg.Adapter.HammeringMode] {
		return nil, ConfigError{Field: "adapter.hammering_mode", Reason: fmt.Sprintf("unsupported mode %q", cfg.Adapter.HammeringMode)}
	}
	return &cfg, nil
}
