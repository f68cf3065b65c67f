package detection

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// configFormat tags serialized configs so foreign YAML is not mistaken for one.
const configFormat = "marker-detector-config/v1"

// Dictionaries lists the marker families a Config may name.
var Dictionaries = []string{
	"4x4_50", "4x4_100", "4x4_250", "4x4_1000",
	"5x5_50", "5x5_100", "5x5_250", "5x5_1000",
	"6x6_50", "6x6_100", "6x6_250", "6x6_1000",
	"7x7_50", "7x7_100", "7x7_250", "7x7_1000",
	"aruco_original",
}

// Config holds the tunable detector parameters.
//
// Config is a value type: copies never alias, and a detection run holds its
// own copy for its whole duration.
type Config struct {
	// ThresholdWindowSize is the smallest adaptive-threshold window in pixels.
	ThresholdWindowSize int `json:"threshold_window_size" yaml:"threshold_window_size"`

	// ThresholdWindowRange is how far above ThresholdWindowSize the window
	// may grow across threshold attempts.
	ThresholdWindowRange int `json:"threshold_window_range" yaml:"threshold_window_range"`

	// Threshold is the constant subtracted from the local mean during
	// adaptive thresholding.
	Threshold int `json:"threshold" yaml:"threshold"`

	// MaxAutoThresholdAttempts is the number of window sizes tried between
	// ThresholdWindowSize and ThresholdWindowSize+ThresholdWindowRange.
	MaxAutoThresholdAttempts int `json:"max_auto_threshold_attempts" yaml:"max_auto_threshold_attempts"`

	// MaxThreads caps the detector's internal parallelism. 0 lets the
	// library decide. The aruco backend validates and reports it but does
	// not apply it: OpenCV's thread pool is process-wide, not per detector.
	MaxThreads int `json:"max_threads" yaml:"max_threads"`

	// ErrorCorrectionRate is the fraction of the dictionary's correction
	// capacity used when decoding bits (0.0 to 1.0).
	ErrorCorrectionRate float64 `json:"error_correction_rate" yaml:"error_correction_rate"`

	// Dictionary names the marker family, one of Dictionaries.
	Dictionary string `json:"dictionary" yaml:"dictionary"`
}

// DefaultConfig returns the parameters detectors start with before Configure.
//
// Window sizes 3, 13 and 23 with constant 7 match OpenCV's ArUco defaults.
func DefaultConfig() Config {
	return Config{
		ThresholdWindowSize:      3,
		ThresholdWindowRange:     20,
		Threshold:                7,
		MaxAutoThresholdAttempts: 3,
		MaxThreads:               0,
		ErrorCorrectionRate:      0.6,
		Dictionary:               "4x4_50",
	}
}

// WindowStep returns the window size increment between threshold attempts.
func (c Config) WindowStep() int {
	if c.MaxAutoThresholdAttempts <= 1 || c.ThresholdWindowRange == 0 {
		return c.ThresholdWindowRange + 1
	}
	step := c.ThresholdWindowRange / (c.MaxAutoThresholdAttempts - 1)
	if step < 1 {
		step = 1
	}
	return step
}

// Validate reports whether every field is within range.
func (c Config) Validate() error {
	if c.ThresholdWindowSize < 3 {
		return fmt.Errorf("%w: threshold window size %d must be at least 3", ErrInvalidConfig, c.ThresholdWindowSize)
	}
	if c.ThresholdWindowRange < 0 {
		return fmt.Errorf("%w: threshold window range %d must not be negative", ErrInvalidConfig, c.ThresholdWindowRange)
	}
	if c.MaxAutoThresholdAttempts < 1 {
		return fmt.Errorf("%w: max auto threshold attempts %d must be at least 1", ErrInvalidConfig, c.MaxAutoThresholdAttempts)
	}
	if c.MaxThreads < 0 {
		return fmt.Errorf("%w: max threads %d must not be negative", ErrInvalidConfig, c.MaxThreads)
	}
	if c.ErrorCorrectionRate < 0 || c.ErrorCorrectionRate > 1 {
		return fmt.Errorf("%w: error correction rate %g outside [0,1]", ErrInvalidConfig, c.ErrorCorrectionRate)
	}
	if !knownDictionary(c.Dictionary) {
		return fmt.Errorf("%w: unknown dictionary %q", ErrInvalidConfig, c.Dictionary)
	}
	return nil
}

type configDocument struct {
	Format   string `yaml:"format"`
	Detector Config `yaml:"detector"`
}

// MarshalBinary serializes the config into a self-describing byte stream.
// It implements encoding.BinaryMarshaler.
func (c Config) MarshalBinary() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	data, err := yaml.Marshal(configDocument{Format: configFormat, Detector: c})
	if err != nil {
		return nil, fmt.Errorf("failed to encode detector config: %w", err)
	}
	return data, nil
}

// UnmarshalConfig restores a Config produced by MarshalBinary.
//
// Decoding is strict: unknown fields, a missing or foreign format tag, and
// out-of-range values are all rejected. Every failure wraps ErrInvalidConfig.
func UnmarshalConfig(data []byte) (Config, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Config{}, fmt.Errorf("%w: empty stream", ErrInvalidConfig)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc configDocument
	if err := dec.Decode(&doc); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if doc.Format != configFormat {
		return Config{}, fmt.Errorf("%w: unexpected format %q", ErrInvalidConfig, doc.Format)
	}
	if err := doc.Detector.Validate(); err != nil {
		return Config{}, err
	}

	return doc.Detector, nil
}

func knownDictionary(name string) bool {
	for _, d := range Dictionaries {
		if d == name {
			return true
		}
	}
	return false
}
