package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"math"

	"github.com/disintegration/imaging"

	"github.com/ironsheep/marker-tools-mcp/internal/marker"
)

// CropResult contains the cropped image data
type CropResult struct {
	X           int    `json:"x"`
	Y           int    `json:"y"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ImageBase64 string `json:"image_base64"`
	MimeType    string `json:"mime_type"`
}

// Crop extracts a rectangular region from an image
func Crop(img image.Image, x1, y1, x2, y2 int, scale float64) (*CropResult, error) {
	bounds := img.Bounds()

	if x1 < bounds.Min.X || y1 < bounds.Min.Y || x2 > bounds.Max.X || y2 > bounds.Max.Y {
		return nil, fmt.Errorf("crop region (%d,%d)-(%d,%d) outside image bounds (%d,%d)-(%d,%d)",
			x1, y1, x2, y2, bounds.Min.X, bounds.Min.Y, bounds.Max.X, bounds.Max.Y)
	}
	if x1 >= x2 || y1 >= y2 {
		return nil, fmt.Errorf("invalid crop region: x1 must be < x2, y1 must be < y2")
	}

	cropped := imaging.Crop(img, image.Rect(x1, y1, x2, y2))

	if scale != 1.0 && scale > 0 {
		newWidth := int(float64(cropped.Bounds().Dx()) * scale)
		newHeight := int(float64(cropped.Bounds().Dy()) * scale)
		cropped = imaging.Resize(cropped, newWidth, newHeight, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, cropped); err != nil {
		return nil, fmt.Errorf("failed to encode cropped image: %w", err)
	}

	return &CropResult{
		X:           x1,
		Y:           y1,
		Width:       cropped.Bounds().Dx(),
		Height:      cropped.Bounds().Dy(),
		ImageBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		MimeType:    "image/png",
	}, nil
}

// MarkerBounds returns the smallest pixel rectangle holding every corner of m,
// grown by padding on each side and clipped to bounds.
func MarkerBounds(m marker.Marker, padding int, bounds image.Rectangle) image.Rectangle {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range m.Corners {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}

	r := image.Rect(
		int(math.Floor(minX))-padding,
		int(math.Floor(minY))-padding,
		int(math.Ceil(maxX))+padding+1,
		int(math.Ceil(maxY))+padding+1,
	)
	return r.Intersect(bounds)
}

// MarkerCrop is the region cut around one marker, with the marker's
// geometry in source image coordinates.
type MarkerCrop struct {
	CropResult
	MarkerID    int          `json:"marker_id"`
	Center      marker.Point `json:"center"`
	PerimeterPx float64      `json:"perimeter_px"`
}

// CropMarker extracts the region around one detected marker, for close
// inspection of a doubtful detection.
func CropMarker(img image.Image, m marker.Marker, padding int, scale float64) (*MarkerCrop, error) {
	r := MarkerBounds(m, padding, img.Bounds())
	if r.Empty() {
		return nil, fmt.Errorf("marker %d lies outside the image", m.ID)
	}
	crop, err := Crop(img, r.Min.X, r.Min.Y, r.Max.X, r.Max.Y, scale)
	if err != nil {
		return nil, err
	}
	return &MarkerCrop{
		CropResult:  *crop,
		MarkerID:    m.ID,
		Center:      m.Center(),
		PerimeterPx: m.Perimeter(),
	}, nil
}
