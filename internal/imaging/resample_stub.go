//go:build !gocv

package imaging

import "errors"

func newOpenCVResampler() (Resampler, error) {
	return nil, errors.New("opencv resampler requires the gocv build tag")
}

// DefaultResampler returns GaussianResampler in builds without gocv.
func DefaultResampler() Resampler {
	return GaussianResampler{}
}
