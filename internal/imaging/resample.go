package imaging

import (
	"fmt"
	"image"

	"github.com/anthonynsimon/bild/blur"
	"github.com/disintegration/imaging"
)

// Resampler halves or doubles an image's resolution for pyramid detection.
//
// Down returns an image of ((w+1)/2, (h+1)/2) pixels and Up one of (2w, 2h),
// the same size conventions as OpenCV's pyrDown and pyrUp. Both must leave
// their input untouched and be safe for concurrent use.
type Resampler interface {
	Down(img *image.Gray) *image.Gray
	Up(img *image.Gray) *image.Gray
}

// GaussianResampler is a pure-Go Gaussian pyramid.
//
// Down blurs before decimating so thin marker borders survive instead of
// aliasing away; Up interpolates with a Gaussian filter.
type GaussianResampler struct {
	// Radius is the pre-blur radius for Down. Zero means 1.0.
	Radius float64
}

// Down implements Resampler.
func (r GaussianResampler) Down(img *image.Gray) *image.Gray {
	radius := r.Radius
	if radius <= 0 {
		radius = 1.0
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()

	blurred := blur.Gaussian(img, radius)
	small := imaging.Resize(blurred, (w+1)/2, (h+1)/2, imaging.NearestNeighbor)
	return ToGray(small)
}

// Up implements Resampler.
func (r GaussianResampler) Up(img *image.Gray) *image.Gray {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	large := imaging.Resize(img, 2*w, 2*h, imaging.Gaussian)
	return ToGray(large)
}

// Resamplers lists the names NewResampler accepts.
var Resamplers = []string{"gaussian", "opencv"}

// NewResampler returns the resampler registered under name. Empty selects
// DefaultResampler.
func NewResampler(name string) (Resampler, error) {
	switch name {
	case "":
		return DefaultResampler(), nil
	case "gaussian":
		return GaussianResampler{}, nil
	case "opencv":
		return newOpenCVResampler()
	default:
		return nil, fmt.Errorf("unknown resampler: %s", name)
	}
}
