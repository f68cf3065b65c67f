// Package config holds the batch run configuration: which images to load,
// how detectors are tuned and how strategies are run.
//
// Values come from Default, then an optional YAML file (Load), then
// MARKER_* environment variables (ApplyEnv), then command-line flags set by
// the caller. Validate should run after the last layer.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/ironsheep/marker-tools-mcp/internal/detection"
	"github.com/ironsheep/marker-tools-mcp/internal/imaging"
	"github.com/ironsheep/marker-tools-mcp/internal/logger"
	"github.com/ironsheep/marker-tools-mcp/internal/pyramid"
)

// Pyramid is the level range searched by the pyramid strategy. Both ends
// lie within pyramid.MaxLevelSpan of 0.
type Pyramid struct {
	Min int `yaml:"min" json:"min"`
	Max int `yaml:"max" json:"max"`
}

// Config is the batch configuration surface.
type Config struct {
	// ImageDir is the directory images are loaded from.
	ImageDir string `yaml:"image_dir" json:"image_dir"`

	// MaxFiles caps how many images are loaded. 0 means no cap.
	MaxFiles int `yaml:"max_files" json:"max_files"`

	// PDFDPI is the resolution PDF pages are rasterized at.
	PDFDPI float64 `yaml:"pdf_dpi" json:"pdf_dpi"`

	// Iterations is how many times each strategy reruns the batch.
	Iterations int `yaml:"iterations" json:"iterations"`

	// ApplyParams applies Detector to full detectors. When false they run
	// with the backend defaults.
	ApplyParams bool `yaml:"apply_params" json:"apply_params"`

	// Detector holds the tuning applied when ApplyParams is set.
	Detector detection.Config `yaml:"detector" json:"detector"`

	Pyramid Pyramid `yaml:"pyramid" json:"pyramid"`

	// Workers limits concurrent tasks. 0 runs one goroutine per image.
	Workers int `yaml:"workers" json:"workers"`

	// Backend names the detection backend.
	Backend string `yaml:"backend" json:"backend"`

	// Resampler names the pyramid resampler. Empty picks the build default.
	Resampler string `yaml:"resampler" json:"resampler"`

	LogLevel string `yaml:"log_level" json:"log_level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ImageDir:    ".",
		MaxFiles:    16,
		PDFDPI:      imaging.DefaultDPI,
		Iterations:  1,
		ApplyParams: false,
		Detector: detection.Config{
			ThresholdWindowSize:      15,
			ThresholdWindowRange:     30,
			Threshold:                7,
			MaxAutoThresholdAttempts: 3,
			MaxThreads:               0,
			ErrorCorrectionRate:      0,
			Dictionary:               "4x4_50",
		},
		Pyramid:  Pyramid{Min: -2, Max: 1},
		Workers:  0,
		Backend:  "aruco",
		LogLevel: "info",
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return cfg, nil
}

// ApplyEnv overrides fields from MARKER_* environment variables.
func (c *Config) ApplyEnv() error {
	c.ImageDir = getEnv("MARKER_IMAGE_DIR", c.ImageDir)
	c.Backend = getEnv("MARKER_BACKEND", c.Backend)
	c.Resampler = getEnv("MARKER_RESAMPLER", c.Resampler)
	c.Detector.Dictionary = getEnv("MARKER_DICTIONARY", c.Detector.Dictionary)
	c.LogLevel = getEnv("MARKER_MCP_LOG_LEVEL", c.LogLevel)

	ints := []struct {
		key string
		dst *int
	}{
		{"MARKER_MAX_FILES", &c.MaxFiles},
		{"MARKER_ITERATIONS", &c.Iterations},
		{"MARKER_WORKERS", &c.Workers},
		{"MARKER_PYRAMID_MIN", &c.Pyramid.Min},
		{"MARKER_PYRAMID_MAX", &c.Pyramid.Max},
	}
	for _, v := range ints {
		raw := getEnv(v.key, "")
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", v.key, err)
		}
		*v.dst = n
	}

	if raw := getEnv("MARKER_APPLY_PARAMS", ""); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid MARKER_APPLY_PARAMS: %w", err)
		}
		c.ApplyParams = b
	}

	return nil
}

// Validate reports the first out-of-range field.
func (c *Config) Validate() error {
	if c.Iterations < 1 {
		return fmt.Errorf("iterations must be at least 1, got %d", c.Iterations)
	}
	if c.MaxFiles < 0 {
		return fmt.Errorf("max_files must not be negative, got %d", c.MaxFiles)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if c.PDFDPI <= 0 {
		return fmt.Errorf("pdf_dpi must be positive, got %g", c.PDFDPI)
	}
	if err := pyramid.ValidateRange(c.Pyramid.Min, c.Pyramid.Max); err != nil {
		return err
	}
	if err := c.Detector.Validate(); err != nil {
		return err
	}
	if c.Resampler != "" && !contains(imaging.Resamplers, c.Resampler) {
		return fmt.Errorf("unknown resampler: %s", c.Resampler)
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	return nil
}

// DetectorConfig returns the tuning full detectors should run with: the
// configured values when ApplyParams is set, otherwise the backend defaults
// for the configured dictionary.
func (c *Config) DetectorConfig() detection.Config {
	if c.ApplyParams {
		return c.Detector
	}
	d := detection.DefaultConfig()
	d.Dictionary = c.Detector.Dictionary
	return d
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
