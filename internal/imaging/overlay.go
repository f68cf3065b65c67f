package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"strconv"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/ironsheep/marker-tools-mcp/internal/marker"
)

// OverlayOptions controls how markers are drawn.
type OverlayOptions struct {
	// LineWidth is the outline thickness in pixels. Zero means 3.
	LineWidth int

	// Color is a "#RRGGBB" or "#RRGGBBAA" outline colour. Empty gives every
	// marker ID its own colour from IDColor.
	Color string

	// HideLabels suppresses the ID label at each marker's center.
	HideLabels bool

	// HideCount suppresses the "N markers found" caption.
	HideCount bool
}

// OverlayResult contains the image with markers drawn on it
type OverlayResult struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ImageBase64 string `json:"image_base64"`
	MimeType    string `json:"mime_type"`
	MarkerCount int    `json:"marker_count"`
}

// Overlay draws markers onto a colour copy of img.
//
// Each marker becomes a closed polyline through its corners in stored order,
// labelled with its ID at its center. A caption in the top-left corner
// reports how many markers were found.
//
// An unparseable opts.Color is an error.
func Overlay(img image.Image, markers []marker.Marker, opts OverlayOptions) (*image.RGBA, error) {
	var fixedColor color.RGBA
	useFixed := opts.Color != ""
	if useFixed {
		c, err := parseHexColor(opts.Color)
		if err != nil {
			return nil, fmt.Errorf("invalid color %q: %w", opts.Color, err)
		}
		fixedColor = c
	}

	bounds := img.Bounds()
	result := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(result, result.Bounds(), img, bounds.Min, draw.Src)

	width := opts.LineWidth
	if width <= 0 {
		width = 3
	}

	for _, m := range markers {
		c := IDColor(m.ID)
		if useFixed {
			c = fixedColor
		}
		for i := range m.Corners {
			drawLine(result, m.Corners[i], m.Corners[(i+1)%4], width, c)
		}
	}

	if !opts.HideLabels {
		fg := color.RGBA{255, 255, 255, 255}
		face := basicfont.Face7x13
		for _, m := range markers {
			bg := IDColor(m.ID)
			if useFixed {
				bg = fixedColor
			}
			text := strconv.Itoa(m.ID)
			c := m.Center()
			x := int(c.X) - font.MeasureString(face, text).Ceil()/2
			y := int(c.Y) - face.Metrics().Height.Ceil()/2
			drawLabel(result, x, y, text, fg, bg)
		}
	}

	if !opts.HideCount {
		drawLabel(result, 4, 4, fmt.Sprintf("%d markers found", len(markers)),
			color.RGBA{255, 255, 255, 255}, color.RGBA{0, 0, 0, 200})
	}

	return result, nil
}

// RenderOverlay draws markers onto img and returns the PNG as base64.
func RenderOverlay(img image.Image, markers []marker.Marker, opts OverlayOptions) (*OverlayResult, error) {
	result, err := Overlay(img, markers, opts)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, result); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	return &OverlayResult{
		Width:       result.Bounds().Dx(),
		Height:      result.Bounds().Dy(),
		ImageBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		MimeType:    "image/png",
		MarkerCount: len(markers),
	}, nil
}

// WriteOverlay draws markers onto img and writes the result to path as PNG.
func WriteOverlay(path string, img image.Image, markers []marker.Marker, opts OverlayOptions) error {
	out, err := Overlay(img, markers, opts)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create overlay file: %w", err)
	}

	if err := png.Encode(f, out); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode overlay: %w", err)
	}
	return f.Close()
}

// IDColor returns a saturated colour for a marker ID. Neighbouring IDs land
// far apart on the hue wheel.
func IDColor(id int) color.RGBA {
	hue := math.Mod(float64(id)*137.508, 360)
	if hue < 0 {
		hue += 360
	}
	r, g, b := colorful.Hsv(hue, 0.9, 0.9).Clamped().RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// drawLine strokes the segment a-b with square brushes of the given width.
func drawLine(img *image.RGBA, a, b marker.Point, width int, c color.RGBA) {
	length := a.Distance(b)
	steps := int(math.Ceil(length*2)) + 1
	half := width / 2
	bounds := img.Bounds()

	for s := 0; s <= steps; s++ {
		t := float64(s) / float64(steps)
		cx := int(math.Round(a.X + (b.X-a.X)*t))
		cy := int(math.Round(a.Y + (b.Y-a.Y)*t))
		for dy := -half; dy < width-half; dy++ {
			for dx := -half; dx < width-half; dx++ {
				px, py := cx+dx, cy+dy
				if px >= bounds.Min.X && px < bounds.Max.X && py >= bounds.Min.Y && py < bounds.Max.Y {
					img.SetRGBA(px, py, c)
				}
			}
		}
	}
}

// parseHexColor parses a hex color string like "#FF0000" or "#FF000080"
func parseHexColor(hex string) (color.RGBA, error) {
	if len(hex) == 0 {
		return color.RGBA{}, fmt.Errorf("empty color string")
	}
	if hex[0] == '#' {
		hex = hex[1:]
	}

	var r, g, b, a uint8 = 0, 0, 0, 255

	switch len(hex) {
	case 6:
		val, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return color.RGBA{}, err
		}
		r = uint8(val >> 16)
		g = uint8(val >> 8)
		b = uint8(val)
	case 8:
		val, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return color.RGBA{}, err
		}
		r = uint8(val >> 24)
		g = uint8(val >> 16)
		b = uint8(val >> 8)
		a = uint8(val)
	default:
		return color.RGBA{}, fmt.Errorf("invalid hex color length")
	}

	return color.RGBA{R: r, G: g, B: b, A: a}, nil
}

// drawLabel draws text with its top-left corner at (x, y) on a filled box.
func drawLabel(img *image.RGBA, x, y int, text string, fg, bg color.RGBA) {
	if text == "" {
		return
	}
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil()
	height := face.Metrics().Height.Ceil()

	box := image.Rect(x-1, y-1, x+width+1, y+height+1).Intersect(img.Bounds())
	draw.Draw(img, box, image.NewUniform(bg), image.Point{}, draw.Over)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(fg),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y + face.Metrics().Ascent.Ceil())},
	}
	d.DrawString(text)
}
