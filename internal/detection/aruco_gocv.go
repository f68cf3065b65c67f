//go:build gocv

package detection

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/ironsheep/marker-tools-mcp/internal/marker"
)

var dictionaryCodes = map[string]gocv.ArucoDictionaryCode{
	"4x4_50":         gocv.ArucoDict4x4_50,
	"4x4_100":        gocv.ArucoDict4x4_100,
	"4x4_250":        gocv.ArucoDict4x4_250,
	"4x4_1000":       gocv.ArucoDict4x4_1000,
	"5x5_50":         gocv.ArucoDict5x5_50,
	"5x5_100":        gocv.ArucoDict5x5_100,
	"5x5_250":        gocv.ArucoDict5x5_250,
	"5x5_1000":       gocv.ArucoDict5x5_1000,
	"6x6_50":         gocv.ArucoDict6x6_50,
	"6x6_100":        gocv.ArucoDict6x6_100,
	"6x6_250":        gocv.ArucoDict6x6_250,
	"6x6_1000":       gocv.ArucoDict6x6_1000,
	"7x7_50":         gocv.ArucoDict7x7_50,
	"7x7_100":        gocv.ArucoDict7x7_100,
	"7x7_250":        gocv.ArucoDict7x7_250,
	"7x7_1000":       gocv.ArucoDict7x7_1000,
	"aruco_original": gocv.ArucoDictArucoOriginal,
}

// fastWindowSize is the single adaptive-threshold window used by fast detectors.
const fastWindowSize = 13

// ArucoBackend builds detectors on OpenCV's ArUco module.
type ArucoBackend struct {
	dictionary string
}

// NewArucoBackend returns a backend detecting markers of the given
// dictionary. An empty dictionary selects DefaultConfig's.
func NewArucoBackend(dictionary string) (*ArucoBackend, error) {
	if dictionary == "" {
		dictionary = DefaultConfig().Dictionary
	}
	if _, ok := dictionaryCodes[dictionary]; !ok {
		return nil, fmt.Errorf("%w: unknown dictionary %q", ErrInvalidConfig, dictionary)
	}
	return &ArucoBackend{dictionary: dictionary}, nil
}

// Name implements Backend.
func (b *ArucoBackend) Name() string {
	return "aruco"
}

// NewFull implements Backend.
func (b *ArucoBackend) NewFull() (ConfigurableDetector, error) {
	cfg := DefaultConfig()
	cfg.Dictionary = b.dictionary
	return newArucoDetector(cfg)
}

// NewFast implements Backend. Fast detectors try one threshold window and
// skip error correction, trading recall at a single scale for speed.
func (b *ArucoBackend) NewFast() (Detector, error) {
	cfg := DefaultConfig()
	cfg.Dictionary = b.dictionary
	cfg.ThresholdWindowSize = fastWindowSize
	cfg.ThresholdWindowRange = 0
	cfg.MaxAutoThresholdAttempts = 1
	cfg.ErrorCorrectionRate = 0
	return newArucoDetector(cfg)
}

// ArucoDetector adapts gocv.ArucoDetector to ConfigurableDetector.
//
// MaxThreads is carried in the config for reporting and cloning; OpenCV's
// thread pool is process-wide and is not reconfigured per detector.
type ArucoDetector struct {
	cfg    Config
	native gocv.ArucoDetector
	closed bool
}

func newArucoDetector(cfg Config) (*ArucoDetector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ArucoDetector{cfg: cfg, native: buildNative(cfg)}, nil
}

// nativeParams maps cfg onto OpenCV's detector parameters. The threshold
// window sweeps from ThresholdWindowSize to ThresholdWindowSize plus
// ThresholdWindowRange in WindowStep increments.
func nativeParams(cfg Config) gocv.ArucoDetectorParameters {
	params := gocv.NewArucoDetectorParameters()
	params.SetAdaptiveThreshWinSizeMin(cfg.ThresholdWindowSize)
	params.SetAdaptiveThreshWinSizeMax(cfg.ThresholdWindowSize + cfg.ThresholdWindowRange)
	params.SetAdaptiveThreshWinSizeStep(cfg.WindowStep())
	params.SetAdaptiveThreshConstant(float64(cfg.Threshold))
	params.SetErrorCorrectionRate(cfg.ErrorCorrectionRate)
	return params
}

func buildNative(cfg Config) gocv.ArucoDetector {
	dict := gocv.GetPredefinedDictionary(dictionaryCodes[cfg.Dictionary])
	return gocv.NewArucoDetectorWithParams(dict, nativeParams(cfg))
}

// Configure implements ConfigurableDetector by rebuilding the native detector.
func (d *ArucoDetector) Configure(cfg Config) error {
	if d.closed {
		return ErrClosed
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	d.native.Close()
	d.native = buildNative(cfg)
	d.cfg = cfg
	return nil
}

// Config implements ConfigurableDetector.
func (d *ArucoDetector) Config() Config {
	return d.cfg
}

// Detect implements Detector.
func (d *ArucoDetector) Detect(img *image.Gray) ([]marker.Marker, error) {
	if d.closed {
		return nil, ErrClosed
	}
	if img == nil {
		return nil, ErrNilImage
	}

	mat, err := gocv.ImageGrayToMatGray(img)
	if err != nil {
		return nil, fmt.Errorf("failed to convert image: %w", err)
	}
	defer mat.Close()

	corners, ids, _ := d.native.DetectMarkers(mat)
	return toMarkers(corners, ids), nil
}

// toMarkers pairs OpenCV's corner lists with their ids, keeping OpenCV's
// corner order. Entries without exactly four corners are dropped.
func toMarkers(corners [][]gocv.Point2f, ids []int) []marker.Marker {
	markers := make([]marker.Marker, 0, len(ids))
	for i, id := range ids {
		if i >= len(corners) || len(corners[i]) != 4 {
			continue
		}
		m := marker.Marker{ID: id}
		for c, p := range corners[i] {
			m.Corners[c] = marker.Point{X: float64(p.X), Y: float64(p.Y)}
		}
		markers = append(markers, m)
	}
	return markers
}

// Close implements Detector.
func (d *ArucoDetector) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.native.Close()
	return nil
}
