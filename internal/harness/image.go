package harness

import (
	"image"

	"github.com/ironsheep/marker-tools-mcp/internal/marker"
)

// Image is one slot of a batch: the pixels to search and the latest result.
type Image struct {
	// Name identifies the image in logs and reports.
	Name string

	// Pixels is read by every strategy and never modified.
	Pixels *image.Gray

	// Markers is replaced by each successful detection and left as it was
	// when a detection fails.
	Markers []marker.Marker

	// Err is the failure of the most recent run, nil on success.
	Err error

	done bool
}

// NewImage returns a batch slot for pixels.
func NewImage(name string, pixels *image.Gray) *Image {
	return &Image{Name: name, Pixels: pixels}
}

// Done reports whether the most recent run produced a result for this image.
func (im *Image) Done() bool {
	return im.done
}

func (im *Image) reset() {
	im.done = false
	im.Err = nil
}

func (im *Image) succeed(markers []marker.Marker) {
	im.Markers = markers
	im.Err = nil
	im.done = true
}

func (im *Image) fail(err error) {
	im.Err = err
	im.done = false
}

// TotalMarkers sums the current marker counts of every image.
func TotalMarkers(images []*Image) int {
	n := 0
	for _, im := range images {
		n += len(im.Markers)
	}
	return n
}
