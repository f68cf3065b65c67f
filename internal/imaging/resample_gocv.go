//go:build gocv

package imaging

import (
	"image"

	"gocv.io/x/gocv"
)

// OpenCVResampler uses OpenCV's pyrDown and pyrUp.
type OpenCVResampler struct{}

func newOpenCVResampler() (Resampler, error) {
	return OpenCVResampler{}, nil
}

// DefaultResampler returns OpenCVResampler in gocv builds.
func DefaultResampler() Resampler {
	return OpenCVResampler{}
}

// Down implements Resampler.
func (OpenCVResampler) Down(img *image.Gray) *image.Gray {
	return pyr(img, func(src gocv.Mat, dst *gocv.Mat) {
		gocv.PyrDown(src, dst, image.Point{}, gocv.BorderDefault)
	})
}

// Up implements Resampler.
func (OpenCVResampler) Up(img *image.Gray) *image.Gray {
	return pyr(img, func(src gocv.Mat, dst *gocv.Mat) {
		gocv.PyrUp(src, dst, image.Point{}, gocv.BorderDefault)
	})
}

func pyr(img *image.Gray, op func(src gocv.Mat, dst *gocv.Mat)) *image.Gray {
	src, err := gocv.ImageGrayToMatGray(img)
	if err != nil {
		return image.NewGray(image.Rect(0, 0, 0, 0))
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	op(src, &dst)

	out, err := dst.ToImage()
	if err != nil {
		return image.NewGray(image.Rect(0, 0, 0, 0))
	}
	return ToGray(out)
}
