package pyramid

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/rs/zerolog"

	"github.com/ironsheep/marker-tools-mcp/internal/detection"
	"github.com/ironsheep/marker-tools-mcp/internal/imaging"
	"github.com/ironsheep/marker-tools-mcp/internal/marker"
)

// MaxLevelSpan bounds how far a level range may reach on either side of 0.
// Each up level quadruples the pixel count.
const MaxLevelSpan = 6

// DefaultMaxPixels is the largest up-sampled level a Detector builds,
// 64M pixels.
const DefaultMaxPixels = 1 << 26

var (
	// ErrInvalidRange is returned when a level range does not contain 0 or
	// reaches past MaxLevelSpan.
	ErrInvalidRange = errors.New("pyramid: level range must satisfy -6 <= min <= 0 <= max <= 6")

	// ErrLevelTooLarge is returned when an up level would exceed the
	// detector's pixel budget.
	ErrLevelTooLarge = errors.New("pyramid: level exceeds pixel budget")
)

// Level is a pyramid level: 0 is the original resolution, negative levels
// are down-sampled and positive levels up-sampled.
type Level int

// ScaleFactor returns 2^(-l), the factor mapping coordinates found at this
// level back to the original image.
func (l Level) ScaleFactor() float64 {
	return math.Ldexp(1, -int(l))
}

// ValidateRange reports whether -MaxLevelSpan <= lo <= 0 <= hi <= MaxLevelSpan.
func ValidateRange(lo, hi int) error {
	if lo > 0 || hi < 0 || lo < -MaxLevelSpan || hi > MaxLevelSpan {
		return fmt.Errorf("%w: got [%d, %d]", ErrInvalidRange, lo, hi)
	}
	return nil
}

// LevelStat describes one level visited by a detection.
type LevelStat struct {
	Level  Level `json:"level"`
	Width  int   `json:"width"`
	Height int   `json:"height"`

	// Found is how many markers the detector reported at this level.
	Found int `json:"found"`
}

// Option configures a Detector.
type Option func(*Detector)

// WithResampler sets the resampler used to build pyramid levels.
func WithResampler(r imaging.Resampler) Option {
	return func(d *Detector) {
		if r != nil {
			d.resampler = r
		}
	}
}

// WithLogger sets the logger used for per-level debug output.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Detector) {
		d.log = l
	}
}

// WithMaxPixels sets the pixel budget for up-sampled levels. Values <= 0
// keep DefaultMaxPixels.
func WithMaxPixels(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.maxPixels = n
		}
	}
}

// Detector wraps a single-scale detector with pyramid search.
//
// A Detector is as safe for concurrent use as the detector it wraps; the
// strategy harness gives every task its own.
type Detector struct {
	detector  detection.Detector
	resampler imaging.Resampler
	log       zerolog.Logger
	maxPixels int
}

// New returns a pyramid detector running d at every level.
func New(d detection.Detector, opts ...Option) *Detector {
	p := &Detector{
		detector:  d,
		resampler: imaging.DefaultResampler(),
		log:       zerolog.Nop(),
		maxPixels: DefaultMaxPixels,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Detect runs the detector from minLevel to maxLevel and returns the fused
// markers in img's coordinates.
func (p *Detector) Detect(img *image.Gray, minLevel, maxLevel int) ([]marker.Marker, error) {
	markers, _, err := p.DetectTrace(img, minLevel, maxLevel)
	return markers, err
}

// DetectTrace is Detect that also reports what each level contributed, in
// the order the levels were visited.
//
// A detector error at any level aborts the call; the error names the level.
// So does an up level larger than the pixel budget, checked before it is built.
func (p *Detector) DetectTrace(img *image.Gray, minLevel, maxLevel int) ([]marker.Marker, []LevelStat, error) {
	if img == nil {
		return nil, nil, detection.ErrNilImage
	}
	if err := ValidateRange(minLevel, maxLevel); err != nil {
		return nil, nil, err
	}

	trace := make([]LevelStat, 0, maxLevel-minLevel+1)

	down, err := p.detectLevel(img, 0, &trace)
	if err != nil {
		return nil, trace, err
	}

	level := img
	for l := -1; l >= minLevel; l-- {
		level = p.resampler.Down(level)
		sub, err := p.detectLevel(level, Level(l), &trace)
		if err != nil {
			return nil, trace, err
		}
		down = marker.Merge(down, sub)
	}

	var up []marker.Marker
	level = img
	for l := 1; l <= maxLevel; l++ {
		w, h := 2*level.Bounds().Dx(), 2*level.Bounds().Dy()
		if w*h > p.maxPixels {
			return nil, trace, fmt.Errorf("%w: level %d would be %dx%d", ErrLevelTooLarge, l, w, h)
		}
		level = p.resampler.Up(level)
		sub, err := p.detectLevel(level, Level(l), &trace)
		if err != nil {
			return nil, trace, err
		}
		up = marker.Merge(sub, up)
	}

	return marker.Merge(down, up), trace, nil
}

// detectLevel runs the detector on one level image and maps the result back
// to level 0.
func (p *Detector) detectLevel(img *image.Gray, l Level, trace *[]LevelStat) ([]marker.Marker, error) {
	found, err := p.detector.Detect(img)
	if err != nil {
		return nil, fmt.Errorf("level %d: %w", l, err)
	}

	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	*trace = append(*trace, LevelStat{Level: l, Width: w, Height: h, Found: len(found)})
	p.log.Debug().
		Int("level", int(l)).
		Int("width", w).
		Int("height", h).
		Int("found", len(found)).
		Msg("pyramid level")

	if l == 0 {
		return found, nil
	}
	return marker.Scale(found, l.ScaleFactor()), nil
}
