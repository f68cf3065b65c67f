package detection

import (
	"errors"
	"fmt"
	"image"

	"github.com/ironsheep/marker-tools-mcp/internal/marker"
)

var (
	// ErrNilImage is returned when Detect is called without pixels.
	ErrNilImage = errors.New("detection: nil image")

	// ErrInvalidConfig wraps every configuration validation or decoding failure.
	ErrInvalidConfig = errors.New("detection: invalid detector config")

	// ErrBackendUnavailable is returned for backends not compiled into this binary.
	ErrBackendUnavailable = errors.New("detection: backend not available in this build")

	// ErrClosed is returned by detectors used after Close.
	ErrClosed = errors.New("detection: detector closed")
)

// Detector locates and decodes markers in a grayscale image.
type Detector interface {
	// Detect returns every marker found in img, in the detector's own order,
	// with corners in img's pixel space. An empty result is not an error.
	Detect(img *image.Gray) ([]marker.Marker, error)

	// Close releases native resources held by the detector.
	Close() error
}

// ConfigurableDetector is the full-featured detector variant.
type ConfigurableDetector interface {
	Detector

	// Configure replaces the detector's parameters. The config is validated
	// first; on error the previous parameters stay in effect.
	Configure(cfg Config) error

	// Config returns the parameters currently in effect.
	Config() Config
}

// Backend constructs detectors from one underlying vision library.
type Backend interface {
	// Name identifies the backend in logs and reports.
	Name() string

	// NewFull returns a full detector with the backend's default parameters.
	NewFull() (ConfigurableDetector, error)

	// NewFast returns a fast detector with its fixed minimal parameters.
	NewFast() (Detector, error)
}

// Clone restores an independent full detector from a serialized config.
//
// This is the per-task half of the clone-based strategy: the source detector's
// configuration is marshaled once with Config.MarshalBinary, and every task
// calls Clone on the same read-only byte slice.
//
// Returns an error wrapping ErrInvalidConfig if data is corrupt, or the
// backend's error if the detector cannot be built or configured.
func Clone(b Backend, data []byte) (ConfigurableDetector, error) {
	cfg, err := UnmarshalConfig(data)
	if err != nil {
		return nil, err
	}

	d, err := b.NewFull()
	if err != nil {
		return nil, fmt.Errorf("failed to create %s detector: %w", b.Name(), err)
	}

	if err := d.Configure(cfg); err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to configure %s detector: %w", b.Name(), err)
	}

	return d, nil
}

// NewBackend returns the backend registered under name.
//
// The dictionary selects the marker family for backends that support more
// than one; empty means the backend default.
func NewBackend(name, dictionary string) (Backend, error) {
	switch name {
	case "aruco", "":
		b, err := NewArucoBackend(dictionary)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown detector backend: %s", name)
	}
}
