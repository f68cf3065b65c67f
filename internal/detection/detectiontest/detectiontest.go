// Package detectiontest provides an in-memory detection.Backend for tests.
//
// Detectors built by Backend run a caller-supplied function instead of a
// vision library, count their construction and use, and track how many
// Detect calls are in flight at once. With no function set they decode the
// marker IDs written into an image by NewImage.
package detectiontest

import (
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"

	"github.com/ironsheep/marker-tools-mcp/internal/detection"
	"github.com/ironsheep/marker-tools-mcp/internal/marker"
)

// DetectFunc is the behaviour of a fake detector.
type DetectFunc func(img *image.Gray) ([]marker.Marker, error)

// ErrInjected is a convenient error for tests that need a detector to fail.
var ErrInjected = errors.New("detectiontest: injected failure")

// Backend is a detection.Backend whose detectors call Full or Fast.
//
// The zero value is usable. Fields must be set before the backend is shared
// between goroutines.
type Backend struct {
	// Full runs inside full detectors. Nil means ReadIDs.
	Full DetectFunc

	// Fast runs inside fast detectors. Nil falls back to Full.
	Fast DetectFunc

	// BeforeNewFull, when set, is called with the 1-based call number of
	// every NewFull. A non-nil return fails that call.
	BeforeNewFull func(call int) error

	// ConfigureErr, when set, is returned by every Configure.
	ConfigureErr error

	fullCalls  atomic.Int64
	fastCalls  atomic.Int64
	closeCalls atomic.Int64
	detections atomic.Int64
	inFlight   atomic.Int64
	peak       atomic.Int64
}

// Name implements detection.Backend.
func (b *Backend) Name() string {
	return "test"
}

// NewFull implements detection.Backend.
func (b *Backend) NewFull() (detection.ConfigurableDetector, error) {
	n := b.fullCalls.Add(1)
	if b.BeforeNewFull != nil {
		if err := b.BeforeNewFull(int(n)); err != nil {
			return nil, err
		}
	}
	return &Detector{backend: b, fn: b.full(), cfg: detection.DefaultConfig()}, nil
}

// NewFast implements detection.Backend.
func (b *Backend) NewFast() (detection.Detector, error) {
	b.fastCalls.Add(1)
	fn := b.Fast
	if fn == nil {
		fn = b.full()
	}
	return &Detector{backend: b, fn: fn, cfg: detection.DefaultConfig()}, nil
}

func (b *Backend) full() DetectFunc {
	if b.Full != nil {
		return b.Full
	}
	return ReadIDs
}

// FullCalls returns how many times NewFull has been called.
func (b *Backend) FullCalls() int { return int(b.fullCalls.Load()) }

// FastCalls returns how many times NewFast has been called.
func (b *Backend) FastCalls() int { return int(b.fastCalls.Load()) }

// Closes returns how many detectors have been closed.
func (b *Backend) Closes() int { return int(b.closeCalls.Load()) }

// Detections returns the number of Detect calls across all detectors.
func (b *Backend) Detections() int { return int(b.detections.Load()) }

// PeakConcurrency returns the largest number of Detect calls that were
// running at the same moment.
func (b *Backend) PeakConcurrency() int { return int(b.peak.Load()) }

func (b *Backend) enter() {
	b.detections.Add(1)
	n := b.inFlight.Add(1)
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (b *Backend) leave() {
	b.inFlight.Add(-1)
}

// Detector is the fake detector built by Backend. It satisfies both
// detection.Detector and detection.ConfigurableDetector.
type Detector struct {
	backend *Backend
	fn      DetectFunc

	mu     sync.RWMutex
	cfg    detection.Config
	closed bool
}

// Detect implements detection.Detector.
func (d *Detector) Detect(img *image.Gray) ([]marker.Marker, error) {
	d.mu.RLock()
	closed := d.closed
	d.mu.RUnlock()
	if closed {
		return nil, detection.ErrClosed
	}
	if img == nil {
		return nil, detection.ErrNilImage
	}

	d.backend.enter()
	defer d.backend.leave()
	return d.fn(img)
}

// Configure implements detection.ConfigurableDetector.
func (d *Detector) Configure(cfg detection.Config) error {
	if d.backend.ConfigureErr != nil {
		return d.backend.ConfigureErr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
	return nil
}

// Config implements detection.ConfigurableDetector.
func (d *Detector) Config() detection.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// Close implements detection.Detector.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		d.backend.closeCalls.Add(1)
	}
	return nil
}

// NewImage returns a w x h grayscale image with ids encoded in its first row,
// one pixel per ID holding id+1, followed by a zero terminator. IDs must be
// in [0, 254] and w must exceed len(ids).
func NewImage(w, h int, ids ...int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i, id := range ids {
		img.SetGray(i, 0, color.Gray{Y: uint8(id + 1)})
	}
	return img
}

// ReadIDs decodes the IDs written by NewImage. Marker i is a 10px square
// whose top-left corner sits at (20*i, 20).
func ReadIDs(img *image.Gray) ([]marker.Marker, error) {
	b := img.Bounds()
	var out []marker.Marker
	for x := b.Min.X; x < b.Max.X; x++ {
		v := img.GrayAt(x, b.Min.Y).Y
		if v == 0 {
			break
		}
		out = append(out, Square(int(v)-1, float64(20*(x-b.Min.X)), 20, 10))
	}
	return out, nil
}

// Square builds a marker whose corners outline an axis-aligned square with
// top-left corner (x, y), listed clockwise.
func Square(id int, x, y, size float64) marker.Marker {
	return marker.Marker{
		ID: id,
		Corners: [4]marker.Point{
			{X: x, Y: y},
			{X: x + size, Y: y},
			{X: x + size, Y: y + size},
			{X: x, Y: y + size},
		},
	}
}
