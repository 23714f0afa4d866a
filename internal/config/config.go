// Package config handles configuration loading and shared data structures.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tomtom215/cartographus-sub005/internal/geo"
)

// Duration wraps time.Duration to support YAML unmarshalling from strings.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings like "30s" or "5m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	if raw == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config represents the root configuration file structure.
type Config struct {
	Datasets []Dataset `yaml:"datasets"`

	// StreamThreshold is the feature count above which clients should
	// prefer the streaming endpoint over a single fetch.
	StreamThreshold int `yaml:"stream_threshold,omitempty"`

	// CacheTTL bounds how long a loaded dataset is served before the
	// backing file is re-read.
	CacheTTL Duration `yaml:"cache_ttl,omitempty"`
}

// Dataset represents one named GeoJSON location dataset.
type Dataset struct {
	// defining GeoJSON directly in config.yaml
	Inline *geo.FeatureCollection `yaml:"locations_geojson,omitempty"`

	Name    string   `yaml:"name"`
	Path    string   `yaml:"path,omitempty"`
	Aliases []string `yaml:"aliases,omitempty"`
	Default bool     `yaml:"default,omitempty"`
}

// Load reads and parses the YAML configuration file from the specified path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.StreamThreshold <= 0 {
		cfg.StreamThreshold = 5000
	}
	if cfg.CacheTTL.Duration <= 0 {
		cfg.CacheTTL = Duration{5 * time.Minute}
	}

	for i := range cfg.Datasets {
		d := &cfg.Datasets[i]
		if d.Name == "" {
			return nil, fmt.Errorf("dataset %d: name is required", i)
		}
		if d.Path == "" && d.Inline == nil {
			return nil, fmt.Errorf("dataset %q: either path or locations_geojson is required", d.Name)
		}
	}

	return &cfg, nil
}
