//go:build gocv

package detection

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"gocv.io/x/gocv"

	"github.com/ironsheep/marker-tools-mcp/internal/marker"
)

// renderMarker draws marker id of dict as a side-pixel square with a white
// margin on every side. The marker occupies [margin, margin+side).
func renderMarker(t *testing.T, dict gocv.ArucoDictionaryCode, id, side, margin int) *image.Gray {
	t.Helper()

	m := gocv.NewMat()
	defer m.Close()
	if err := gocv.ArucoGenerateImageMarker(dict, id, side, m, 1); err != nil {
		t.Fatalf("ArucoGenerateImageMarker: %v", err)
	}

	padded := gocv.NewMat()
	defer padded.Close()
	white := color.RGBA{255, 255, 255, 255}
	if err := gocv.CopyMakeBorder(m, &padded, margin, margin, margin, margin, gocv.BorderConstant, white); err != nil {
		t.Fatalf("CopyMakeBorder: %v", err)
	}

	img, err := padded.ToImage()
	if err != nil {
		t.Fatalf("ToImage: %v", err)
	}
	g, ok := img.(*image.Gray)
	if !ok {
		t.Fatalf("rendered marker is %T, want *image.Gray", img)
	}
	return g
}

// assertSquare checks that m outlines the square [lo, hi] with corners in
// top-left, top-right, bottom-right, bottom-left order.
func assertSquare(t *testing.T, m marker.Marker, lo, hi float64) {
	t.Helper()
	want := [4]marker.Point{{X: lo, Y: lo}, {X: hi, Y: lo}, {X: hi, Y: hi}, {X: lo, Y: hi}}
	for i, p := range m.Corners {
		if p.Distance(want[i]) > 2 {
			t.Errorf("corner %d: got (%.1f, %.1f), want near (%.0f, %.0f)", i, p.X, p.Y, want[i].X, want[i].Y)
		}
	}

	// Clockwise in image space gives a positive shoelace sum.
	area := 0.0
	for i := range m.Corners {
		a, b := m.Corners[i], m.Corners[(i+1)%4]
		area += a.X*b.Y - b.X*a.Y
	}
	if area <= 0 {
		t.Errorf("corners are not clockwise: %v", m.Corners)
	}
}

func TestArucoDetector_FindsRenderedMarker(t *testing.T) {
	b, err := NewArucoBackend("4x4_50")
	if err != nil {
		t.Fatalf("NewArucoBackend: %v", err)
	}
	img := renderMarker(t, gocv.ArucoDict4x4_50, 7, 100, 50)

	full, err := b.NewFull()
	if err != nil {
		t.Fatalf("NewFull: %v", err)
	}
	defer full.Close()
	fast, err := b.NewFast()
	if err != nil {
		t.Fatalf("NewFast: %v", err)
	}
	defer fast.Close()

	for name, d := range map[string]Detector{"full": full, "fast": fast} {
		t.Run(name, func(t *testing.T) {
			got, err := d.Detect(img)
			if err != nil {
				t.Fatalf("Detect: %v", err)
			}
			if len(got) != 1 || got[0].ID != 7 {
				t.Fatalf("got %+v, want marker 7", got)
			}
			assertSquare(t, got[0], 50, 150)
		})
	}
}

func TestArucoBackend_Params(t *testing.T) {
	b, err := NewArucoBackend("")
	if err != nil {
		t.Fatalf("NewArucoBackend: %v", err)
	}

	full, err := b.NewFull()
	if err != nil {
		t.Fatalf("NewFull: %v", err)
	}
	defer full.Close()
	fast, err := b.NewFast()
	if err != nil {
		t.Fatalf("NewFast: %v", err)
	}
	defer fast.Close()

	tests := []struct {
		name                 string
		cfg                  Config
		winMin, winMax, step int
		constant, correction float64
	}{
		{"full", full.Config(), 3, 23, 10, 7, 0.6},
		{"fast", fast.(*ArucoDetector).Config(), fastWindowSize, fastWindowSize, 1, 7, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := nativeParams(tt.cfg)
			if got := p.GetAdaptiveThreshWinSizeMin(); got != tt.winMin {
				t.Errorf("window min: got %d, want %d", got, tt.winMin)
			}
			if got := p.GetAdaptiveThreshWinSizeMax(); got != tt.winMax {
				t.Errorf("window max: got %d, want %d", got, tt.winMax)
			}
			if got := p.GetAdaptiveThreshWinSizeStep(); got != tt.step {
				t.Errorf("window step: got %d, want %d", got, tt.step)
			}
			if got := p.GetAdaptiveThreshConstant(); got != tt.constant {
				t.Errorf("constant: got %g, want %g", got, tt.constant)
			}
			if got := p.GetErrorCorrectionRate(); math.Abs(got-tt.correction) > 1e-9 {
				t.Errorf("error correction: got %g, want %g", got, tt.correction)
			}
		})
	}

	if cfg := fast.(*ArucoDetector).Config(); cfg.MaxAutoThresholdAttempts != 1 || cfg.Dictionary != "4x4_50" {
		t.Errorf("fast config: got %+v", cfg)
	}
}

func TestArucoDetector_ConfigureRebuilds(t *testing.T) {
	b, err := NewArucoBackend("4x4_50")
	if err != nil {
		t.Fatalf("NewArucoBackend: %v", err)
	}
	d, err := b.NewFull()
	if err != nil {
		t.Fatalf("NewFull: %v", err)
	}
	defer d.Close()

	cfg := DefaultConfig()
	cfg.Dictionary = "5x5_50"
	cfg.Threshold = 9
	if err := d.Configure(cfg); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if d.Config() != cfg {
		t.Errorf("Config: got %+v, want %+v", d.Config(), cfg)
	}

	got, err := d.Detect(renderMarker(t, gocv.ArucoDict5x5_50, 3, 120, 40))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(got) != 1 || got[0].ID != 3 {
		t.Fatalf("after Configure: got %+v, want marker 3", got)
	}
	assertSquare(t, got[0], 40, 160)

	bad := cfg
	bad.ThresholdWindowSize = 1
	if err := d.Configure(bad); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("invalid config: got %v", err)
	}
	if d.Config() != cfg {
		t.Error("rejected Configure changed the config")
	}

	d.Close()
	if err := d.Configure(cfg); !errors.Is(err, ErrClosed) {
		t.Errorf("Configure after Close: got %v", err)
	}
	if _, err := d.Detect(image.NewGray(image.Rect(0, 0, 8, 8))); !errors.Is(err, ErrClosed) {
		t.Errorf("Detect after Close: got %v", err)
	}
}

func TestToMarkers(t *testing.T) {
	square := []gocv.Point2f{{X: 1, Y: 1}, {X: 5, Y: 1}, {X: 5, Y: 5}, {X: 1, Y: 5}}
	corners := [][]gocv.Point2f{
		square,
		square[:3],
		square,
	}

	// The second entry has three corners; the fourth id has no corners at all.
	got := toMarkers(corners, []int{10, 11, 12, 13})
	if len(got) != 2 || got[0].ID != 10 || got[1].ID != 12 {
		t.Fatalf("got %+v, want markers 10 and 12", got)
	}
	if got[0].Corners[1] != (marker.Point{X: 5, Y: 1}) {
		t.Errorf("corner order not kept: %v", got[0].Corners)
	}
}
